package bridge

import (
	"sort"
	"sync"
	"time"

	"github.com/ignitionstack/kvbridge/pkg/engine/logging"
)

type outcome int

const (
	outcomeOK outcome = iota
	outcomeStoreFailure
	outcomeFault
)

// CallStats aggregates the calls made to one host function.
type CallStats struct {
	Calls         int64
	Successes     int64
	StoreFailures int64
	Faults        int64
	TotalTime     time.Duration
}

// AverageTime returns the mean call latency.
func (s CallStats) AverageTime() time.Duration {
	if s.Calls == 0 {
		return 0
	}
	return s.TotalTime / time.Duration(s.Calls)
}

// Metrics records per-function call counts and latency.
type Metrics struct {
	logger logging.Logger
	mu     sync.Mutex
	stats  map[string]*CallStats
}

// NewMetrics creates an empty collector.
func NewMetrics(logger logging.Logger) *Metrics {
	return &Metrics{
		logger: logger,
		stats:  make(map[string]*CallStats),
	}
}

func (m *Metrics) record(function string, o outcome, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stats[function]
	if !ok {
		s = &CallStats{}
		m.stats[function] = s
	}

	s.Calls++
	s.TotalTime += d
	switch o {
	case outcomeOK:
		s.Successes++
	case outcomeStoreFailure:
		s.StoreFailures++
	case outcomeFault:
		s.Faults++
	}

	if s.Calls%1000 == 0 {
		m.logger.Debugf("Host function %s: calls=%d avg=%s", function, s.Calls, s.AverageTime())
	}
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() map[string]CallStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]CallStats, len(m.stats))
	for name, s := range m.stats {
		out[name] = *s
	}
	return out
}

// Report logs a summary line per host function.
func (m *Metrics) Report() {
	snapshot := m.Snapshot()
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s := snapshot[name]
		m.logger.Printf("Host function %s: calls=%d ok=%d store_failures=%d faults=%d avg=%s",
			name, s.Calls, s.Successes, s.StoreFailures, s.Faults, s.AverageTime())
	}
}
