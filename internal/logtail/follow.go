package logtail

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// followPollInterval is the fallback drain cadence for appends that arrive
// without a filesystem event (network filesystems, missed notifications).
const followPollInterval = 500 * time.Millisecond

// Follow writes the current tail of the file to out, then streams appended
// bytes until ctx is done. Rotation and truncation are tolerated: the file
// is re-opened when it is recreated and re-read from the start when it
// shrinks. A missing file is waited for, not an error.
func Follow(ctx context.Context, path string, lines int, out io.Writer) error {
	path = filepath.Clean(path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	if tail, err := Tail(path, lines); err == nil {
		for _, l := range tail {
			if _, err := fmt.Fprintln(out, l); err != nil {
				return err
			}
		}
	}

	var f *os.File
	var offset int64
	defer func() {
		if f != nil {
			_ = f.Close()
		}
	}()

	open := func(fromStart bool) {
		if f != nil {
			_ = f.Close()
			f = nil
		}
		ff, err := os.Open(path)
		if err != nil {
			return
		}
		f = ff
		if fromStart {
			offset = 0
			return
		}
		offset, _ = ff.Seek(0, io.SeekEnd)
	}

	drain := func() error {
		if f == nil {
			open(true)
			if f == nil {
				return nil
			}
		}
		st, err := f.Stat()
		if err != nil {
			return nil
		}
		if st.Size() < offset {
			// truncated in place
			offset = 0
		}
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return nil
		}
		n, err := io.Copy(out, f)
		offset += n
		return err
	}

	open(false)
	ticker := time.NewTicker(followPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Has(fsnotify.Create) {
				open(true)
			}
			if err := drain(); err != nil {
				return err
			}
		case <-watcher.Errors:
			// keep following; the poll ticker still drains
		case <-ticker.C:
			if err := drain(); err != nil {
				return err
			}
		}
	}
}
