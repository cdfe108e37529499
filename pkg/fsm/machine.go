// Package fsm drives a single APOD date request through the cache pipeline
// as a durable state machine built on superfly/fsm.
package fsm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/apod-desktop/apod/pkg/apod"
	"github.com/apod-desktop/apod/pkg/cache"
	"github.com/apod-desktop/apod/pkg/errors"
	"github.com/google/uuid"
	"github.com/superfly/fsm"
)

// Machine holds dependencies for FSM transitions
type Machine struct {
	cache      *cache.Service
	maxRetries int

	mu       sync.Mutex
	results  map[string]*ApodResponse
	failures map[string]error
}

// NewMachine creates a new FSM machine with dependencies
func NewMachine(svc *cache.Service, maxRetries int) *Machine {
	return &Machine{
		cache:      svc,
		maxRetries: maxRetries,
		results:    make(map[string]*ApodResponse),
		failures:   make(map[string]error),
	}
}

// Register registers the APOD caching FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[ApodRequest, ApodResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[ApodRequest, ApodResponse](manager, "apod-cache").
		Start(StateFetching, m.handleFetching).
		To(StateHashing, m.handleHashing).
		To(StateStoring, m.handleStoring).
		To(StateComplete, m.handleComplete).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}

// NewRunID returns a unique run id for date.
func NewRunID(date time.Time) string {
	return date.Format(apod.DateLayout) + "-" + uuid.NewString()
}

// Run starts one run for date and waits for it to finish. The returned
// error is the classified error of the failing state when there is one.
func (m *Machine) Run(ctx context.Context, manager *fsm.Manager, start fsm.Start[ApodRequest, ApodResponse], date time.Time) (*ApodResponse, error) {
	runID := NewRunID(date)
	req := &ApodRequest{RunID: runID, Date: date.Format(apod.DateLayout)}
	resp := &ApodResponse{}

	version, err := start(ctx, runID, fsm.NewRequest(req, resp))
	if err != nil {
		return nil, errors.Wrap(err, "FSM start failed")
	}

	slog.Info("fsm_started", "run_id", runID, "version", version)

	waitErr := manager.Wait(ctx, version)

	m.mu.Lock()
	result, ok := m.results[runID]
	failure := m.failures[runID]
	delete(m.results, runID)
	delete(m.failures, runID)
	m.mu.Unlock()

	if failure != nil {
		return nil, failure
	}
	if waitErr != nil {
		return nil, errors.Wrap(waitErr, "FSM execution failed")
	}
	if !ok {
		return nil, fmt.Errorf("run %s finished without a result", runID)
	}
	return result, nil
}

func (m *Machine) recordResult(runID string, resp *ApodResponse) {
	copied := *resp
	m.mu.Lock()
	m.results[runID] = &copied
	m.mu.Unlock()
}

func (m *Machine) recordFailure(runID string, err error) {
	m.mu.Lock()
	m.failures[runID] = err
	m.mu.Unlock()
}

// permanent reports whether retrying err cannot succeed.
func permanent(err error) bool {
	if errors.Is(err, errInvalidRequest) {
		return true
	}
	switch errors.KindOf(err) {
	case errors.KindUnsupportedMedia, errors.KindStorageFailure, errors.KindDuplicateHash:
		return true
	}
	return false
}
