package logging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/hpcloud/tail"
)

// Tail returns the last n lines of the log file at path, oldest first. A
// missing file has no lines.
func Tail(path string, n int) ([]string, error) {
	if path == "" || n <= 0 {
		return []string{}, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}

	t, err := tail.TailFile(path, tail.Config{
		Follow:    false,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = t.Stop() }()

	ring := make([]string, 0, n)
	next := 0
	for line := range t.Lines {
		if line.Err != nil {
			return nil, fmt.Errorf("read log file: %w", line.Err)
		}
		if len(ring) < n {
			ring = append(ring, line.Text)
			continue
		}
		ring[next] = line.Text
		next = (next + 1) % n
	}
	return append(ring[next:], ring[:next]...), nil
}
