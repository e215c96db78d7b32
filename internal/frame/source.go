// Package frame provides the frame sources the stream server pulls JPEG images from.
package frame

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// ErrNoFrames is returned when a source has nothing to produce.
var ErrNoFrames = errors.New("no frames available")

// Source produces one encoded JPEG per call. Acquire may block and may fail
// transiently; callers treat a failure as the end of the current session.
type Source interface {
	Acquire(ctx context.Context) ([]byte, error)
}

// Func adapts a function to a Source.
type Func func(ctx context.Context) ([]byte, error)

// Acquire calls f.
func (f Func) Acquire(ctx context.Context) ([]byte, error) { return f(ctx) }

// Options selects and configures a source.
type Options struct {
	Kind    string // "pattern" or "dir"
	Dir     string
	Quality int
	MaxFPS  float64
}

// New builds the source described by opts.
func New(opts Options) (Source, error) {
	var src Source
	switch opts.Kind {
	case "", "pattern":
		src = NewPattern(opts.Quality)
	case "dir":
		if opts.Dir == "" {
			return nil, errors.New("directory source needs a directory")
		}
		src = NewDir(opts.Dir)
	default:
		return nil, fmt.Errorf("unknown frame source %q", opts.Kind)
	}

	if opts.MaxFPS > 0 {
		src = Limit(src, time.Duration(float64(time.Second)/opts.MaxFPS))
	}
	return src, nil
}

type limited struct {
	src     Source
	limiter *rate.Limiter
}

// Limit wraps src so consecutive acquisitions start at least gap apart.
func Limit(src Source, gap time.Duration) Source {
	return &limited{src: src, limiter: rate.NewLimiter(rate.Every(gap), 1)}
}

func (l *limited) Acquire(ctx context.Context) ([]byte, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.src.Acquire(ctx)
}
