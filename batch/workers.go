package batch

import (
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/jameshyojaelee/omnispatial/errors"
)

const (
	// MemoryPerWorker is the working set budgeted for one conversion: a
	// handful of decoded chunks plus their compressed copies.
	MemoryPerWorker = 64 << 20

	// MaxWorkers caps automatic parallelism.
	MaxWorkers = 8
)

// availableMemory is replaced in tests.
var availableMemory = func() (uint64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Available, nil
}

// WorkerCount returns requested when positive. Otherwise it allows one
// worker per MemoryPerWorker of available memory, between 1 and MaxWorkers.
func WorkerCount(requested int) int {
	if requested > 0 {
		return requested
	}
	available, err := availableMemory()
	if err != nil {
		return 1 // Always allow at least 1 worker
	}
	return safeWorkerCount(available)
}

func safeWorkerCount(available uint64) int {
	n := int(available / MemoryPerWorker)
	if n < 1 {
		return 1
	}
	if n > MaxWorkers {
		return MaxWorkers
	}
	return n
}
