package engine

import "sync"

// Status is the execution state of one stage for one subject.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
)

// Store is an ephemeral, thread-safe record of per-stage execution state
// for a single run. Keys are "subject/stage". sync.Map fits the workload:
// the key space is known up front while values change frequently, and
// worker goroutines touch independent keys.
type Store struct {
	states  sync.Map
	outputs sync.Map
	errs    sync.Map
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

func key(subject, stage string) string { return subject + "/" + stage }

// SetStatus updates the execution status of a stage.
func (s *Store) SetStatus(subject, stage string, status Status) {
	s.states.Store(key(subject, stage), status)
}

// GetStatus retrieves the execution status of a stage. Unset means pending.
func (s *Store) GetStatus(subject, stage string) Status {
	v, ok := s.states.Load(key(subject, stage))
	if !ok {
		return StatusPending
	}
	return v.(Status)
}

// SetOutputs records a completed stage's output slot values.
func (s *Store) SetOutputs(subject, stage string, outputs map[string]any) {
	s.outputs.Store(key(subject, stage), outputs)
}

// GetOutputs retrieves a completed stage's outputs, or nil.
func (s *Store) GetOutputs(subject, stage string) map[string]any {
	v, ok := s.outputs.Load(key(subject, stage))
	if !ok {
		return nil
	}
	return v.(map[string]any)
}

// SetError records a stage failure.
func (s *Store) SetError(subject, stage string, err error) {
	s.errs.Store(key(subject, stage), err)
}

// GetError retrieves a stage failure, or nil.
func (s *Store) GetError(subject, stage string) error {
	v, ok := s.errs.Load(key(subject, stage))
	if !ok {
		return nil
	}
	return v.(error)
}
