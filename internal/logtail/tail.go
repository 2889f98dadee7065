// Package logtail reads captured service output: bounded tails for one-shot
// queries and a follow mode for live streaming.
package logtail

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
)

// DefaultLines is the tail length used when a caller does not ask for a
// specific count.
const DefaultLines = 50

const tailBlockSize = 32 * 1024

// Tail returns the last n lines of the file. n <= 0 returns every line.
// The file is read backwards in blocks, so large logs do not have to fit
// in memory to answer small tails.
func Tail(path string, n int) ([]string, error) {
	if n <= 0 {
		b, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, err
		}
		return splitLines(b), nil
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	if size == 0 {
		return nil, nil
	}
	var buf []byte
	off := size
	// n+1 newlines guarantee n complete lines plus the partial head
	for off > 0 && bytes.Count(buf, []byte{'\n'}) <= n {
		step := int64(tailBlockSize)
		if off < step {
			step = off
		}
		off -= step
		blk := make([]byte, step)
		if _, err := f.ReadAt(blk, off); err != nil {
			return nil, err
		}
		buf = append(blk, buf...)
	}
	lines := splitLines(buf)
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

func splitLines(b []byte) []string {
	s := strings.TrimSuffix(string(b), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
