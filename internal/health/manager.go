package health

import (
	"context"
	"sync"
	"time"
)

// Named pairs a result with its checker name.
type Named struct {
	Name string
	*Result
}

// Report is the outcome of one Manager.Check.
type Report struct {
	// Results are in registration order.
	Results []Named
	Status  Status
}

// Manager runs checkers in parallel, each bounded by a timeout.
type Manager struct {
	checkers []Checker
	timeout  time.Duration
	mu       sync.RWMutex
}

// NewManager creates a manager with a 10-second timeout per check.
func NewManager() *Manager {
	return &Manager{timeout: 10 * time.Second}
}

// WithTimeout sets a custom timeout for health checks.
func (m *Manager) WithTimeout(timeout time.Duration) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = timeout
	return m
}

// AddChecker registers a new health checker.
func (m *Manager) AddChecker(checker ...Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker...)
}

// Check runs every checker and aggregates the results.
func (m *Manager) Check(ctx context.Context) *Report {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	timeout := m.timeout
	m.mu.RUnlock()

	results := make([]Named, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			result := c.Check(checkCtx)
			if result == nil {
				result = Unhealthy("check returned no result")
			}
			if result.Latency == 0 {
				result.Latency = time.Since(start)
			}
			results[i] = Named{Name: c.Name(), Result: result}
		}()
	}
	wg.Wait()

	return &Report{Results: results, Status: OverallStatus(results)}
}

// OverallStatus is the worst status among results; healthy when empty.
func OverallStatus(results []Named) Status {
	status := StatusHealthy
	for _, r := range results {
		status = status.Worse(r.Status)
	}
	return status
}

// CheckNames returns the names of all registered checkers.
func (m *Manager) CheckNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, len(m.checkers))
	for i, checker := range m.checkers {
		names[i] = checker.Name()
	}
	return names
}

// Count returns the number of registered checkers.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.checkers)
}
