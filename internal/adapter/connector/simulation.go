package connector

import (
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fairyhunter13/ai-job-broker/internal/domain"
)

// Simulation is an in-memory connector that pretends to run jobs. It
// supports the full contract including status queries and cancellation, so
// recovery reconciliation can be exercised end to end without an external
// service.
type Simulation struct {
	mu       sync.Mutex
	services []string
	jobs     map[string]domain.ExternalStatus
}

// NewSimulation constructs a Simulation advertising the given services.
func NewSimulation(services ...string) *Simulation {
	if len(services) == 0 {
		services = []string{"simulation"}
	}
	return &Simulation{
		services: services,
		jobs:     make(map[string]domain.ExternalStatus),
	}
}

// Capabilities advertises the simulated services with status-query and
// cancel support.
func (s *Simulation) Capabilities() domain.ConnectorCapabilities {
	return domain.ConnectorCapabilities{
		Services:            s.services,
		SupportsStatusQuery: true,
		SupportsCancel:      true,
	}
}

// Submit records the payload as a running external job and returns a fresh
// correlation id.
func (s *Simulation) Submit(_ domain.Context, _ []byte) (string, error) {
	id := "sim-" + ulid.Make().String()
	s.mu.Lock()
	s.jobs[id] = domain.ExternalStatus{State: domain.ExternalRunning}
	s.mu.Unlock()
	return id, nil
}

// QueryStatus reports the job's simulated state; unknown ids are not_found.
func (s *Simulation) QueryStatus(_ domain.Context, serviceJobID string) (domain.ExternalStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[serviceJobID]
	if !ok {
		return domain.ExternalStatus{State: domain.ExternalNotFound}, nil
	}
	return st, nil
}

// Cancel marks a running simulated job failed with a cancellation error.
func (s *Simulation) Cancel(_ domain.Context, serviceJobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[serviceJobID]
	if !ok {
		return fmt.Errorf("unknown service job %s", serviceJobID)
	}
	if st.State == domain.ExternalRunning {
		s.jobs[serviceJobID] = domain.ExternalStatus{State: domain.ExternalFailed, Error: "cancelled"}
	}
	return nil
}

// SetOutcome primes the simulated result for a service job. Tests use this
// to model external completion or failure observed during reconciliation.
func (s *Simulation) SetOutcome(serviceJobID string, st domain.ExternalStatus) {
	s.mu.Lock()
	s.jobs[serviceJobID] = st
	s.mu.Unlock()
}

// Complete marks a running job completed with the given result after an
// optional simulated delay. Used by local development workers.
func (s *Simulation) Complete(serviceJobID string, result []byte, after time.Duration) {
	go func() {
		if after > 0 {
			time.Sleep(after)
		}
		s.SetOutcome(serviceJobID, domain.ExternalStatus{State: domain.ExternalCompleted, Result: result})
	}()
}
