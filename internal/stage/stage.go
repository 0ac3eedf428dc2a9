// Package stage defines the processing stage model: a named unit of work
// with declared input/output slots, an explicit parameter schema, and an
// optional fan-out declaration, plus the memoized registry that owns every
// stage instance for a composer's lifetime.
package stage

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/hcpipe/hcprep/internal/ctxlog"
)

// Param is one entry in a stage's parameter schema.
type Param struct {
	Name    string
	Default any
}

// Config declares a stage's fixed shape at construction time.
type Config struct {
	// Inputs and Outputs are the named slots edges may attach to.
	Inputs  []string
	Outputs []string
	// Params is the ordered parameter schema with defaults.
	Params []Param
	// FanOut names the input slots that fan out together: when those slots
	// receive aligned sequences of length N, the execution engine treats
	// the stage as N parallel copies. Fixed at construction; the wiring
	// engine only marks it active.
	FanOut []string
}

// Stage is a single pipeline node. Parameters are settable independently of
// edges; slot and fan-out declarations never change after construction.
type Stage struct {
	name    string
	inputs  []string
	outputs []string
	schema  []Param
	fanOut  []string

	params       map[string]any
	fanOutActive bool
}

// New constructs a stage. It panics on a malformed declaration (a fan-out
// key that is not an input slot), since declarations are compiled in.
func New(name string, cfg Config) *Stage {
	for _, key := range cfg.FanOut {
		if !slices.Contains(cfg.Inputs, key) {
			panic(fmt.Sprintf("stage %s: fan-out key %q is not an input slot", name, key))
		}
	}

	s := &Stage{
		name:    name,
		inputs:  slices.Clone(cfg.Inputs),
		outputs: slices.Clone(cfg.Outputs),
		schema:  slices.Clone(cfg.Params),
		fanOut:  slices.Clone(cfg.FanOut),
		params:  make(map[string]any, len(cfg.Params)),
	}
	s.ResetParams()
	return s
}

// Name returns the stage's identity.
func (s *Stage) Name() string { return s.name }

// Inputs returns the declared input slot names.
func (s *Stage) Inputs() []string { return slices.Clone(s.inputs) }

// Outputs returns the declared output slot names.
func (s *Stage) Outputs() []string { return slices.Clone(s.outputs) }

// HasInput reports whether the stage declares the named input slot.
func (s *Stage) HasInput(slot string) bool { return slices.Contains(s.inputs, slot) }

// HasOutput reports whether the stage declares the named output slot.
func (s *Stage) HasOutput(slot string) bool { return slices.Contains(s.outputs, slot) }

// HasParam reports whether the parameter schema declares name.
func (s *Stage) HasParam(name string) bool {
	return slices.ContainsFunc(s.schema, func(p Param) bool { return p.Name == name })
}

// Set assigns a parameter value. Unknown names are an error: overrides are
// checked against the schema, never applied blindly.
func (s *Stage) Set(name string, value any) error {
	if !s.HasParam(name) {
		return fmt.Errorf("stage %s has no parameter %q", s.name, name)
	}
	s.params[name] = value
	return nil
}

// Get returns the current value of a parameter, or nil if it is unknown.
func (s *Stage) Get(name string) any { return s.params[name] }

// ApplyOverrides assigns every known key of values onto the stage's
// parameters. Keys named in skip, and keys the schema does not declare, are
// left untouched; unknown keys are logged and dropped rather than applied.
func (s *Stage) ApplyOverrides(ctx context.Context, values map[string]any, skip ...string) {
	logger := ctxlog.FromContext(ctx)
	for name, value := range values {
		if slices.Contains(skip, name) {
			logger.Debug("Skipping excluded override.", "stage", s.name, "param", name)
			continue
		}
		if err := s.Set(name, value); err != nil {
			logger.Warn("Ignoring override for undeclared parameter.", "stage", s.name, "param", name)
		}
	}
}

// ResetParams restores every parameter to its declared default. Overrides
// are not sticky across reconfiguration; the controller resets before each
// apply pass.
func (s *Stage) ResetParams() {
	for _, p := range s.schema {
		s.params[p.Name] = p.Default
	}
}

// SnapshotParams returns a copy of the current parameter values.
func (s *Stage) SnapshotParams() map[string]any {
	return maps.Clone(s.params)
}

// FanOutKeys returns the declared fan-out key set.
func (s *Stage) FanOutKeys() []string { return slices.Clone(s.fanOut) }

// MarkFanOut activates the stage's declared fan-out keys. Called only by
// the wiring engine during rewire.
func (s *Stage) MarkFanOut() { s.fanOutActive = len(s.fanOut) > 0 }

// ClearFanOut deactivates the fan-out marker. Called only by the wiring
// engine while tearing edges down.
func (s *Stage) ClearFanOut() { s.fanOutActive = false }

// FanOut returns the active fan-out key set, or nil while the graph is not
// wired.
func (s *Stage) FanOut() []string {
	if !s.fanOutActive {
		return nil
	}
	return slices.Clone(s.fanOut)
}
