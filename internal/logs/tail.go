package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	maxLineBytes = 1 << 20
	pollInterval = 250 * time.Millisecond
)

// TailOptions select which lines Tail returns. A negative Offset reads the
// last Limit lines; otherwise reading starts at Offset.
type TailOptions struct {
	Offset int64
	Limit  int
	Match  func(line string) bool
}

// TailResult holds the lines read and the offset to resume from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Contains returns a matcher for lines containing substr, case-insensitively.
// An empty substr matches everything.
func Contains(substr string) func(string) bool {
	substr = strings.ToLower(strings.TrimSpace(substr))
	if substr == "" {
		return nil
	}
	return func(line string) bool {
		return strings.Contains(strings.ToLower(line), substr)
	}
}

// Tail reads path according to opts. A missing file yields no lines and offset zero.
func Tail(path string, opts TailOptions) (TailResult, error) {
	file, size, err := openLog(path)
	if err != nil || file == nil {
		return TailResult{}, err
	}
	defer file.Close()

	if opts.Offset < 0 {
		return readLast(file, opts.Limit, opts.Match)
	}
	offset := opts.Offset
	if offset > size {
		offset = 0
	}
	return readFrom(file, offset, opts.Match)
}

// Follow delivers lines appended after offset to fn until ctx ends. It returns
// ctx.Err() on cancellation.
func Follow(ctx context.Context, path string, offset int64, match func(string) bool, fn func(line string)) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		res, err := Tail(path, TailOptions{Offset: offset, Match: match})
		if err != nil {
			return err
		}
		for _, line := range res.Lines {
			fn(line)
		}
		offset = res.Offset

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func openLog(path string) (*os.File, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, 0, fmt.Errorf("log path %q is a directory", path)
	}
	return file, info.Size(), nil
}

// readLast keeps a ring of the last limit matching lines.
func readLast(file *os.File, limit int, match func(string) bool) (TailResult, error) {
	if limit <= 0 {
		end, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return TailResult{}, fmt.Errorf("seek log file: %w", err)
		}
		return TailResult{Offset: end}, nil
	}

	ring := make([]string, limit)
	count, next := 0, 0
	end, err := scanLines(file, func(line string) {
		if match != nil && !match(line) {
			return
		}
		ring[next] = line
		next = (next + 1) % limit
		if count < limit {
			count++
		}
	})
	if err != nil {
		return TailResult{}, err
	}

	lines := make([]string, count)
	start := 0
	if count == limit {
		start = next
	}
	for i := range lines {
		lines[i] = ring[(start+i)%limit]
	}
	return TailResult{Lines: lines, Offset: end}, nil
}

func readFrom(file *os.File, offset int64, match func(string) bool) (TailResult, error) {
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return TailResult{}, fmt.Errorf("seek log file: %w", err)
	}
	var lines []string
	consumed, err := scanLines(file, func(line string) {
		if match == nil || match(line) {
			lines = append(lines, line)
		}
	})
	if err != nil {
		return TailResult{}, err
	}
	return TailResult{Lines: lines, Offset: offset + consumed}, nil
}

// scanLines feeds every complete line to fn and returns the bytes consumed.
// A trailing partial line is left for the next read.
func scanLines(r io.Reader, fn func(string)) (int64, error) {
	reader := bufio.NewReaderSize(r, 64*1024)
	var consumed int64
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return consumed, nil
			}
			return consumed, fmt.Errorf("read log file: %w", err)
		}
		consumed += int64(len(line))
		if len(line) > maxLineBytes {
			line = line[:maxLineBytes]
		}
		fn(strings.TrimRight(line, "\r\n"))
	}
}
