// Package follow tails a text trace that is still being written.
package follow

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/nxadm/tail"

	"tracefeed/internal/logging"
	"tracefeed/internal/trace"
)

// ErrStop can be returned by a callback to end Follow without an error.
var ErrStop = errors.New("stop following")

// Options tunes Follow.
type Options struct {
	Logger *log.Logger
	// Once reads to the current end of file and returns instead of waiting
	// for more data.
	Once bool
	// Poll uses stat polling instead of inotify.
	Poll bool
}

// Summary counts what Follow has seen.
type Summary struct {
	Lines     uint64
	Records   uint64
	Malformed uint64
}

// Follow hands every well-formed line of path to fn as a trace.Record until
// ctx is done, fn returns an error, or (with Once) the end of file is reached.
// Malformed lines are counted and skipped. A recreated file is reopened.
func Follow(ctx context.Context, path string, fn func(trace.Record) error, opts Options) (Summary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	t, err := tail.TailFile(path, tail.Config{
		Follow:    !opts.Once,
		ReOpen:    !opts.Once,
		MustExist: true,
		Poll:      opts.Poll,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("failed to tail %s: %w", path, err)
	}
	defer t.Cleanup()

	var (
		sum Summary
		rec trace.Record
	)
	for {
		select {
		case <-ctx.Done():
			t.Stop()
			return sum, ctx.Err()
		case line, ok := <-t.Lines:
			if !ok {
				if err := t.Wait(); err != nil {
					return sum, fmt.Errorf("tail %s: %w", path, err)
				}
				return sum, nil
			}
			if line.Err != nil {
				logger.Warn("tail", "path", path, "error", line.Err)
				continue
			}
			sum.Lines++

			text := line.Text
			if len(text) > trace.LineSize {
				text = text[:trace.LineSize]
			}
			if _, err := trace.ParseLine([]byte(text), &rec); err != nil {
				sum.Malformed++
				logger.Debug("skipping malformed line", "line", line.Num, "error", err)
				continue
			}
			sum.Records++
			if err := fn(rec); err != nil {
				t.Stop()
				if errors.Is(err, ErrStop) {
					return sum, nil
				}
				return sum, err
			}
		}
	}
}
