// Package batch converts independent datasets in parallel. Each job writes
// to its own destination; jobs never share a bundle.
package batch

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jameshyojaelee/omnispatial/errors"
	"github.com/jameshyojaelee/omnispatial/logger"
	"github.com/jameshyojaelee/omnispatial/store"
)

// ErrDuplicateDestination is returned when two jobs target the same bundle.
var ErrDuplicateDestination = errors.New("duplicate destination")

// Job is one conversion. Adapter may be empty to auto-detect.
type Job struct {
	Input       string `json:"input"`
	Destination string `json:"destination"`
	Adapter     string `json:"adapter,omitempty"`
}

// Result is the outcome of one job. Err is nil on success.
type Result struct {
	Job      Job
	Location string
	Duration time.Duration
	Err      error
}

// ConvertFunc performs one conversion and returns the written location.
type ConvertFunc func(ctx context.Context, job Job) (string, error)

// Failed counts results carrying an error.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// destinationKey normalizes local paths so "out/a" and "./out/a/" collide.
func destinationKey(dest string) string {
	if store.IsRemote(dest) || strings.HasPrefix(dest, "mem://") {
		return dest
	}
	local := strings.TrimPrefix(dest, "file://")
	if abs, err := filepath.Abs(local); err == nil {
		return abs
	}
	return filepath.Clean(local)
}

// CheckDestinations rejects job lists in which two jobs share a destination.
func CheckDestinations(jobs []Job) error {
	seen := make(map[string]int, len(jobs))
	for i, j := range jobs {
		if j.Destination == "" {
			return errors.NewInvalidRequestError("job %d (%s) has no destination", i+1, j.Input)
		}
		key := destinationKey(j.Destination)
		if prev, ok := seen[key]; ok {
			return errors.Wrapf(errors.MarkInvalidRequest(ErrDuplicateDestination),
				"jobs %d and %d both write %s", prev+1, i+1, j.Destination)
		}
		seen[key] = i
	}
	return nil
}

// Run converts jobs with at most workers in flight. A failed job does not
// stop the others; its error is kept in its Result. Run itself fails only
// for invalid job lists or a cancelled context. Results keep job order.
func Run(ctx context.Context, jobs []Job, workers int, convert ConvertFunc, log *zap.SugaredLogger) ([]Result, error) {
	if err := CheckDestinations(jobs); err != nil {
		return nil, err
	}
	log = logger.OrNop(log).With(logger.FieldComponent, "batch")
	if workers < 1 {
		workers = 1
	}

	results := make([]Result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex
	done := 0
	for i, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = Result{Job: job, Err: err}
				return err
			}
			start := time.Now()
			loc, err := convert(gctx, job)
			results[i] = Result{Job: job, Location: loc, Duration: time.Since(start), Err: err}

			mu.Lock()
			done++
			progress := done
			mu.Unlock()
			if err != nil {
				log.Warnw("conversion failed",
					logger.FieldPath, job.Input,
					logger.FieldError, err.Error(),
					"done", progress, "total", len(jobs))
				return nil
			}
			log.Infow("conversion complete",
				logger.FieldPath, loc,
				logger.FieldDurationMS, time.Since(start).Milliseconds(),
				"done", progress, "total", len(jobs))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, errors.Wrap(err, "batch cancelled")
	}
	return results, nil
}
