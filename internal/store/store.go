// Package store is the node's local-directory collaborator: searching,
// reading and writing files on disk.
package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/edsrzf/mmap-go"
	"github.com/rjeczalik/notify"

	"github.com/MOACChain/MoacLib/log"
)

// Result is one hit from a local directory search.
type Result struct {
	Name string
	Size int
}

// Store is a directory-backed file collaborator.
type Store struct {
	dir      string
	watchCh  chan notify.EventInfo
	watchDir chan struct{}
}

// New opens dir as the node's local file directory. The directory must
// already exist.
func New(dir string) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("store: %s is not a directory", dir)
	}
	s := &Store{dir: dir, watchDir: make(chan struct{})}
	s.watch()
	return s, nil
}

// watch logs directory mutations for operator visibility. It is purely
// observational: nothing in the search or transfer path depends on these
// events firing.
func (s *Store) watch() {
	ch := make(chan notify.EventInfo, 8)
	if err := notify.Watch(s.dir+"/...", ch, notify.Create, notify.Remove, notify.Rename); err != nil {
		log.Debugf("store: watch %s failed: %v", s.dir, err)
		close(s.watchDir)
		return
	}
	s.watchCh = ch
	go func() {
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				log.Debugf("store: directory event %s %s", ev.Event(), ev.Path())
			case <-s.watchDir:
				return
			}
		}
	}()
}

// Close stops the directory watch.
func (s *Store) Close() {
	if s.watchCh != nil {
		notify.Stop(s.watchCh)
	}
	select {
	case <-s.watchDir:
	default:
		close(s.watchDir)
	}
}

// Search returns every regular file whose name contains query, case
// insensitively, along with its size. Files with no bytes are skipped.
func (s *Store) Search(query string) ([]Result, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		log.Debugf("store: read dir %s failed: %v", s.dir, err)
		return nil, err
	}
	q := strings.ToLower(query)
	var results []Result
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.Contains(strings.ToLower(e.Name()), q) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			log.Debugf("store: stat %s failed: %v", e.Name(), err)
			continue
		}
		if info.Size() <= 0 {
			continue
		}
		results = append(results, Result{Name: e.Name(), Size: int(info.Size())})
	}
	return results, nil
}

// Read returns the full contents of name.
func (s *Store) Read(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.dir, name))
}

// Write saves content as name, overwriting any existing file.
func (s *Store) Write(name string, content []byte) error {
	return os.WriteFile(filepath.Join(s.dir, name), content, 0o644)
}

// ReadMapped returns name's contents backed by a read-only memory map when
// the platform supports it, falling back to a buffered read otherwise. The
// returned release func must be called once the caller is done with the
// bytes.
func (s *Store) ReadMapped(name string) ([]byte, func(), error) {
	path := filepath.Join(s.dir, name)
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if info.Size() == 0 {
		f.Close()
		return []byte{}, func() {}, nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		log.Debugf("store: mmap %s failed, falling back to a plain read: %v", path, err)
		data, rerr := io.ReadAll(f)
		f.Close()
		if rerr != nil {
			return nil, nil, rerr
		}
		return data, func() {}, nil
	}
	return []byte(m), func() { m.Unmap(); f.Close() }, nil
}
