package engine

import (
	"math"

	"golang.org/x/sync/semaphore"
)

// admissionLane limits the number of concurrently running queries of one
// backend.
type admissionLane struct {
	*semaphore.Weighted
	capacity int64
	backend  string
}

func newAdmissionLane(backend string, capacity int64) *admissionLane {
	return &admissionLane{
		Weighted: semaphore.NewWeighted(capacity),
		capacity: capacity,
		backend:  backend,
	}
}

// admissionControl maps each registered backend to its own admission lane, so
// that a saturated backend does not hold back queries of other backends.
type admissionControl struct {
	lanes map[string]*admissionLane
}

func newAdmissionControl(backends []string, maxQueriesPerBackend int64) *admissionControl {
	if maxQueriesPerBackend < 1 {
		maxQueriesPerBackend = math.MaxInt64
	}
	ac := &admissionControl{lanes: make(map[string]*admissionLane, len(backends))}
	for _, name := range backends {
		ac.lanes[name] = newAdmissionLane(name, maxQueriesPerBackend)
	}
	return ac
}

// laneFor returns the lane of backend. The set of backends is fixed when the
// engine is created.
func (ac *admissionControl) laneFor(backend string) (*admissionLane, bool) {
	lane, ok := ac.lanes[backend]
	return lane, ok
}
