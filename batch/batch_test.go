package batch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jameshyojaelee/omnispatial/errors"
)

func TestRunCollectsResultsInJobOrder(t *testing.T) {
	jobs := []Job{
		{Input: "a", Destination: "mem://a"},
		{Input: "b", Destination: "mem://b"},
		{Input: "c", Destination: "mem://c"},
	}
	boom := errors.New("boom")
	convert := func(ctx context.Context, j Job) (string, error) {
		if j.Input == "b" {
			return "", boom
		}
		return j.Destination, nil
	}

	results, err := Run(context.Background(), jobs, 2, convert, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "mem://a", results[0].Location)
	assert.True(t, errors.Is(results[1].Err, boom))
	assert.Equal(t, "mem://c", results[2].Location)
	assert.Equal(t, 1, Failed(results))
}

func TestRunRespectsWorkerLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	convert := func(ctx context.Context, j Job) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return j.Destination, nil
	}
	var jobs []Job
	for _, d := range []string{"a", "b", "c", "d", "e", "f"} {
		jobs = append(jobs, Job{Input: d, Destination: "mem://" + d})
	}

	_, err := Run(context.Background(), jobs, 2, convert, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunRejectsDuplicateDestinations(t *testing.T) {
	called := false
	convert := func(ctx context.Context, j Job) (string, error) {
		called = true
		return "", nil
	}
	tmp := t.TempDir()
	jobs := []Job{
		{Input: "a", Destination: tmp + "/out/a.zarr"},
		{Input: "b", Destination: "file://" + tmp + "/out/./a.zarr/"},
	}
	_, err := Run(context.Background(), jobs, 2, convert, nil)
	assert.True(t, errors.Is(err, ErrDuplicateDestination))
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.False(t, called)

	err = CheckDestinations([]Job{{Input: "a"}})
	assert.True(t, errors.IsInvalidRequestError(err))

	assert.NoError(t, CheckDestinations([]Job{
		{Input: "a", Destination: "s3://bucket/a"},
		{Input: "b", Destination: "s3://bucket/b"},
	}))
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	convert := func(ctx context.Context, j Job) (string, error) {
		return j.Destination, nil
	}
	results, err := Run(ctx, []Job{{Input: "a", Destination: "mem://a"}}, 1, convert, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}

func TestWorkerCount(t *testing.T) {
	orig := availableMemory
	t.Cleanup(func() { availableMemory = orig })

	tests := []struct {
		name      string
		requested int
		available uint64
		err       error
		want      int
	}{
		{"explicit wins", 3, 0, nil, 3},
		{"plenty of memory is capped", 0, 64 << 30, nil, MaxWorkers},
		{"scaled by memory", 0, 3 * MemoryPerWorker, nil, 3},
		{"starved still gets one", 0, MemoryPerWorker / 2, nil, 1},
		{"stats unavailable", 0, 0, errors.New("no /proc"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			availableMemory = func() (uint64, error) { return tt.available, tt.err }
			assert.Equal(t, tt.want, WorkerCount(tt.requested))
		})
	}
}
