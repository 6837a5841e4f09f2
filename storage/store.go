// Package storage persists the pipeline's shared mutable state: analysis
// requests, modality jobs, and final reports. Requests and jobs carry an
// optimistic version counter; an update whose version does not match the
// stored row fails with ErrConflict, which is how concurrent orchestrator
// invocations deduplicate work.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"videoTriage/core"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("version conflict")
	ErrExists   = errors.New("record already exists")
)

// Store is the single source of truth for the orchestrator. All three
// record kinds are addressable by request id.
type Store interface {
	CreateRequest(ctx context.Context, req *core.AnalysisRequest) error
	GetRequest(ctx context.Context, id string) (*core.AnalysisRequest, error)
	// UpdateRequest applies a read-check-write: the update succeeds only
	// if req.Version matches the stored version, then bumps it.
	UpdateRequest(ctx context.Context, req *core.AnalysisRequest) error
	// ListActive returns ids of requests not yet in a terminal state.
	ListActive(ctx context.Context) ([]string, error)

	CreateJob(ctx context.Context, job *core.ModalityJob) error
	GetJob(ctx context.Context, requestID string, m core.Modality) (*core.ModalityJob, error)
	UpdateJob(ctx context.Context, job *core.ModalityJob) error
	ListJobs(ctx context.Context, requestID string) ([]*core.ModalityJob, error)

	// SaveReport is idempotent: the first write wins and later writes for
	// the same request return the stored report untouched.
	SaveReport(ctx context.Context, report *core.Report) error
	GetReport(ctx context.Context, requestID string) (*core.Report, error)

	Close() error
}

// Open selects a backend by name: "memory", "sqlite", or "postgres".
func Open(ctx context.Context, backend, sqlitePath, postgresURL string) (Store, error) {
	switch backend {
	case "memory", "":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(sqlitePath)
	case "postgres":
		return NewPostgresStore(ctx, postgresURL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// MemoryStore is the in-process backend used by tests and single-node
// development runs.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[string]*core.AnalysisRequest
	jobs     map[string]map[core.Modality]*core.ModalityJob
	reports  map[string]*core.Report
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: map[string]*core.AnalysisRequest{},
		jobs:     map[string]map[core.Modality]*core.ModalityJob{},
		reports:  map[string]*core.Report{},
	}
}

func (s *MemoryStore) CreateRequest(ctx context.Context, req *core.AnalysisRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; ok {
		return ErrExists
	}
	req.Version = 1
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRequest(ctx context.Context, id string) (*core.AnalysisRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) UpdateRequest(ctx context.Context, req *core.AnalysisRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.requests[req.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != req.Version {
		return ErrConflict
	}
	req.Version++
	req.UpdatedAt = time.Now().UTC()
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *MemoryStore) ListActive(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, r := range s.requests {
		if !r.State.Terminal() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *MemoryStore) CreateJob(ctx context.Context, job *core.ModalityJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byMod := s.jobs[job.RequestID]
	if byMod == nil {
		byMod = map[core.Modality]*core.ModalityJob{}
		s.jobs[job.RequestID] = byMod
	}
	if _, ok := byMod[job.Modality]; ok {
		return ErrExists
	}
	job.Version = 1
	cp := *job
	byMod[job.Modality] = &cp
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, requestID string, m core.Modality) (*core.ModalityJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[requestID][m]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) UpdateJob(ctx context.Context, job *core.ModalityJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.jobs[job.RequestID][job.Modality]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != job.Version {
		return ErrConflict
	}
	job.Version++
	cp := *job
	s.jobs[job.RequestID][job.Modality] = &cp
	return nil
}

func (s *MemoryStore) ListJobs(ctx context.Context, requestID string) ([]*core.ModalityJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.ModalityJob
	for _, m := range []core.Modality{core.ModalityVisual, core.ModalitySpeech, core.ModalitySentiment} {
		if j, ok := s.jobs[requestID][m]; ok {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveReport(ctx context.Context, report *core.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[report.RequestID]; ok {
		return nil // first write wins
	}
	cp := *report
	s.reports[report.RequestID] = &cp
	return nil
}

func (s *MemoryStore) GetReport(ctx context.Context, requestID string) (*core.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) Close() error { return nil }
