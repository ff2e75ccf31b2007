package source

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/fsnotify/fsnotify"
)

// Dir reads frames from image files written into a directory.
//
// Each jpg/png file created in the directory is decoded, returned as the next
// frame and removed. Partially written files are retried on their next write
// event.
type Dir struct {
	path    string
	watcher *fsnotify.Watcher

	seq    uint64
	closed atomic.Bool
	once   sync.Once
}

// OpenDir opens a dir:// descriptor, e.g. dir:///var/spool/camera1
func OpenDir(descriptor string, _ Options) (Source, error) {
	u, err := url.Parse(descriptor)
	if err != nil {
		return nil, &OpenError{Descriptor: descriptor, Err: err}
	}
	path := u.Path
	if u.Host != "" {
		path = filepath.Join(u.Host, u.Path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &OpenError{Descriptor: descriptor, Err: err}
	}
	if !info.IsDir() {
		return nil, &OpenError{Descriptor: descriptor, Err: fmt.Errorf("%s is not a directory", path)}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &OpenError{Descriptor: descriptor, Err: fmt.Errorf("new file change watcher: %w", err)}
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, &OpenError{Descriptor: descriptor, Err: fmt.Errorf("registering file change watcher: %w", err)}
	}

	return &Dir{path: path, watcher: watcher}, nil
}

// IsOpen reports whether the directory is still watched
func (d *Dir) IsOpen() bool {
	return !d.closed.Load()
}

// ReadFrame blocks until the next image file can be decoded
func (d *Dir) ReadFrame() (Frame, error) {
	for {
		select {
		case ev, ok := <-d.watcher.Events:
			if !ok {
				d.closed.Store(true)
				return Frame{}, &ReadError{Seq: d.seq, Err: ErrClosed}
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !isImageFile(ev.Name) {
				continue
			}

			img, err := imaging.Open(ev.Name)
			if err != nil {
				// not fully written yet or already consumed
				continue
			}
			_ = os.Remove(ev.Name)

			frame := Frame{
				Seq:       d.seq,
				Timestamp: time.Now(),
				Image:     img,
				Source:    "dir://" + d.path,
			}
			d.seq++
			return frame, nil

		case err, ok := <-d.watcher.Errors:
			if !ok {
				d.closed.Store(true)
				return Frame{}, &ReadError{Seq: d.seq, Err: ErrClosed}
			}
			return Frame{}, &ReadError{Seq: d.seq, Err: fmt.Errorf("watching for changes: %w", err)}
		}
	}
}

// Close stops watching the directory
func (d *Dir) Close() error {
	var err error
	d.once.Do(func() {
		d.closed.Store(true)
		err = d.watcher.Close()
	})
	return err
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}
