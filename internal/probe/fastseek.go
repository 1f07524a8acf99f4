package probe

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
)

// fastSeekScanBytes is how much of the container head is inspected for index
// placement.
const fastSeekScanBytes = 1 << 20

// Matroska EBML element IDs.
var (
	mkvCues    = []byte{0x1C, 0x53, 0xBB, 0x6B}
	mkvCluster = []byte{0x1F, 0x43, 0xB6, 0x75}
)

// FastSeek reports whether the container's index precedes its bulk media
// data, which makes pre-input seeking cheap. For MP4-family files the moov
// atom must come before mdat; for MKV the Cues element must come before the
// first Cluster. Unknown extensions and unreadable files report false.
func FastSeek(path string) bool {
	var index, data []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".m4v", ".mov", ".mp4v", ".ismv":
		index, data = []byte("moov"), []byte("mdat")
	case ".mkv":
		index, data = mkvCues, mkvCluster
	default:
		return false
	}

	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, fastSeekScanBytes)
	n, _ := f.Read(head)
	head = head[:n]

	idxIndex := bytes.Index(head, index)
	idxData := bytes.Index(head, data)
	if idxIndex == -1 || idxData == -1 {
		return false
	}
	return idxIndex < idxData
}
