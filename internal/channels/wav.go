package channels

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// decodeWAV reads a 16-bit PCM RIFF/WAVE file and returns its samples as one
// normalized [-1, 1) slice per channel. Only the format the extraction step
// produces (pcm_s16le) is accepted.
func decodeWAV(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return nil, fmt.Errorf("read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE file")
	}

	var numChannels, bitsPerSample int
	var data []byte

	// Walk chunks; fmt must arrive before data.
	for {
		var header [8]byte
		if _, err := io.ReadFull(f, header[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, fmt.Errorf("read chunk header: %w", err)
		}
		chunkID := string(header[0:4])
		size := binary.LittleEndian.Uint32(header[4:8])

		switch chunkID {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(f, body); err != nil {
				return nil, fmt.Errorf("read fmt chunk: %w", err)
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			if format != 1 {
				return nil, fmt.Errorf("unsupported WAV format %d, want PCM", format)
			}
			numChannels = int(binary.LittleEndian.Uint16(body[2:4]))
			bitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			if bitsPerSample != 16 {
				return nil, fmt.Errorf("unsupported bit depth %d, want 16", bitsPerSample)
			}
		case "data":
			data = make([]byte, size)
			if _, err := io.ReadFull(f, data); err != nil {
				return nil, fmt.Errorf("read data chunk: %w", err)
			}
		default:
			if _, err := f.Seek(int64(size), io.SeekCurrent); err != nil {
				return nil, fmt.Errorf("skip %s chunk: %w", chunkID, err)
			}
		}
		if numChannels > 0 && data != nil {
			break
		}
	}

	if numChannels == 0 {
		return nil, fmt.Errorf("missing fmt chunk")
	}
	if data == nil {
		return nil, fmt.Errorf("missing data chunk")
	}

	frames := len(data) / (2 * numChannels)
	samples := make([][]float64, numChannels)
	for ch := range samples {
		samples[ch] = make([]float64, frames)
	}
	for frame := 0; frame < frames; frame++ {
		base := frame * 2 * numChannels
		for ch := 0; ch < numChannels; ch++ {
			raw := int16(binary.LittleEndian.Uint16(data[base+2*ch:]))
			samples[ch][frame] = float64(raw) / 32768.0
		}
	}
	return samples, nil
}
