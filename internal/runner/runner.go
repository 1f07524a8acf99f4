// Package runner executes external media tools and drains their output into
// the stream log. Every tool in the pipeline (ffmpeg, ffprobe, HandBrakeCLI,
// dovi_tool, hdr10plus_tool, the quality scorer) goes through here.
package runner

import (
	"bufio"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mhradec/autocomp/internal/logger"
)

// MinOutputSize is the smallest output file considered a successful encode.
// Anything under 2 KiB is a header-only or truncated file.
const MinOutputSize = 2048

// Result reports how an external process finished.
type Result struct {
	ExitCode int
	OK       bool
}

// Run executes argv with the two output streams drained concurrently into the
// stream log. A non-positive timeout means no deadline. The parent blocks on
// process exit only; the drains finish on pipe close.
func Run(ctx context.Context, argv []string, timeout time.Duration) Result {
	res, _ := run(ctx, argv, timeout, false)
	return res
}

// RunCapture behaves like Run but also returns every stdout line, for tools
// whose answer arrives on stdout rather than in a file.
func RunCapture(ctx context.Context, argv []string, timeout time.Duration) ([]string, Result) {
	res, lines := run(ctx, argv, timeout, true)
	return lines, res
}

func run(ctx context.Context, argv []string, timeout time.Duration, capture bool) (Result, []string) {
	if len(argv) == 0 {
		logger.Error("runner called with empty argv")
		return Result{ExitCode: -1}, nil
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	command := strings.Join(argv, " ")
	logger.Debug("running command", "command", command)
	logger.StreamSeparator(command)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		logger.Error("stdout pipe failed", "error", err)
		return Result{ExitCode: -1}, nil
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		logger.Error("stderr pipe failed", "error", err)
		return Result{ExitCode: -1}, nil
	}

	if err := cmd.Start(); err != nil {
		logger.Error("command failed to start", "tool", argv[0], "error", err)
		return Result{ExitCode: -1}, nil
	}

	var captured []string
	var capMu sync.Mutex

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		drain(stdout, "STDOUT", func(line string) {
			if capture {
				capMu.Lock()
				captured = append(captured, line)
				capMu.Unlock()
			}
		})
	}()
	go func() {
		defer wg.Done()
		drain(stderr, "STDERR", nil)
	}()

	wg.Wait()
	err = cmd.Wait()

	if ctx.Err() != nil {
		logger.Warn("command timed out", "tool", argv[0])
		return Result{ExitCode: -1}, captured
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
		logger.Warn("command failed", "tool", argv[0], "exit_code", exitCode)
		return Result{ExitCode: exitCode}, captured
	}

	return Result{ExitCode: 0, OK: true}, captured
}

// drain reads one stream line by line and forwards it to the stream log.
// ffmpeg rewrites its progress line with bare carriage returns, so both \r
// and \n terminate a line. Empty lines and immediate repeats are dropped to
// keep progress spam out of the log.
func drain(r interface{ Read([]byte) (int, error) }, tag string, each func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanCRLF)

	var last string
	for scanner.Scan() {
		line := strings.TrimSpace(strings.ToValidUTF8(scanner.Text(), ""))
		if line == "" || line == last {
			continue
		}
		last = line
		logger.Stream(tag, line)
		if each != nil {
			each(line)
		}
	}
}

// scanCRLF splits on \n or bare \r.
func scanCRLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// CheckOutput reports whether path exists and is at least minSize bytes.
// Pass 0 for the default threshold.
func CheckOutput(path string, minSize int64) bool {
	if minSize <= 0 {
		minSize = MinOutputSize
	}
	info, err := os.Stat(path)
	if err != nil {
		logger.Debug("output check failed", "path", path, "error", err)
		return false
	}
	if info.Size() < minSize {
		logger.Warn("output file too small", "path", path, "size", info.Size())
		return false
	}
	return true
}
