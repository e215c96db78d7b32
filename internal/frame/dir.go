package frame

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Dir replays the JPEG files of a directory in name order, looping forever.
// The directory is listed and the file read on every call, so frames dropped
// into the directory by another process are picked up without a restart.
type Dir struct {
	path string
	next int
}

// NewDir creates a directory-backed source.
func NewDir(path string) *Dir {
	return &Dir{path: path}
}

// Acquire reads the next file.
func (d *Dir) Acquire(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	files, err := d.list()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFrames, d.path)
	}

	name := files[d.next%len(files)]
	d.next = (d.next + 1) % len(files)

	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading frame %s: %w", name, err)
	}
	return data, nil
}

func (d *Dir) list() ([]string, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", d.path, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg":
			files = append(files, filepath.Join(d.path, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
