package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hcpipe/hcprep/internal/classify"
	"github.com/hcpipe/hcprep/internal/composer"
	"github.com/hcpipe/hcprep/internal/ctxlog"
	"github.com/hcpipe/hcprep/internal/stage"
)

// RunContext carries per-run facts into stage runners.
type RunContext struct {
	Subject string
	OutDir  string
}

// RunFunc executes one stage (or one fan-out copy of it) given its resolved
// input slot values, returning its output slot values.
type RunFunc func(ctx context.Context, rc RunContext, s *stage.Stage, in map[string]any) (map[string]any, error)

// Local runs a wired graph in-process: pure stages as Go functions, tool
// stages as external commands, fan-out copies on a bounded worker pool.
type Local struct {
	runners map[string]RunFunc
	store   *Store
}

// NewLocal returns a local engine with the built-in stage runners.
func NewLocal() *Local {
	return &Local{
		runners: builtinRunners(),
		store:   NewStore(),
	}
}

// Store exposes the engine's per-stage state record.
func (l *Local) Store() *Store { return l.store }

// SetRunner replaces the runner for one stage identity. Used by tests and
// by callers that front external schedulers.
func (l *Local) SetRunner(name string, f RunFunc) {
	l.runners[name] = f
}

// Run implements Engine. Each subject flows through the whole topology in
// dependency order; a stage failure skips only its data-dependent
// downstream stages. Events are delivered until the run completes, then the
// channel closes.
func (l *Local) Run(ctx context.Context, g *composer.Graph, opts Options) (<-chan Event, error) {
	order, err := g.TopoOrder()
	if err != nil {
		return nil, fmt.Errorf("graph is not schedulable: %w", err)
	}

	subjects := asStrings(g.Stage(composer.StageSubjects).Get("subjects"))
	if len(subjects) == 0 {
		return nil, fmt.Errorf("no subjects to run: neither the configuration nor the caller supplied a subject list")
	}

	if opts.Workers < 1 {
		opts.Workers = 1
	}

	events := make(chan Event, 64)
	go func() {
		defer close(events)
		for _, subject := range subjects {
			l.runSubject(ctx, g, order, subject, opts, events)
		}
	}()
	return events, nil
}

// runSubject executes every stage for one subject.
func (l *Local) runSubject(ctx context.Context, g *composer.Graph, order []string, subject string, opts Options, events chan<- Event) {
	logger := ctxlog.FromContext(ctx).With("subject", subject)
	rc := RunContext{Subject: subject, OutDir: opts.OutDir}

	// Slot values produced so far, keyed "stage.slot".
	values := make(map[string]any)
	failed := make(map[string]bool)

	for _, name := range order {
		s := g.Stage(name)

		// The subject-identity stage is the engine's own injection point.
		if name == composer.StageSubjects {
			values[name+".subject"] = subject
			l.store.SetStatus(subject, name, StatusCompleted)
			events <- Event{Subject: subject, Stage: name, Copy: -1}
			continue
		}

		// Failure propagation: skip stages whose data dependencies failed.
		if dep := failedDependency(g, name, failed); dep != "" {
			err := fmt.Errorf("skipped: dependency %s failed", dep)
			failed[name] = true
			l.store.SetStatus(subject, name, StatusFailed)
			l.store.SetError(subject, name, err)
			events <- Event{Subject: subject, Stage: name, Copy: -1, Err: err}
			continue
		}

		in := make(map[string]any)
		for _, e := range g.Inputs(name) {
			in[e.ToSlot] = values[e.From+"."+e.FromSlot]
		}

		runner, ok := l.runners[name]
		if !ok {
			runner = passthroughRunner
		}

		l.store.SetStatus(subject, name, StatusRunning)
		logger.Debug("Running stage.", "stage", name)

		var out map[string]any
		var err error
		if keys := s.FanOut(); len(keys) > 0 {
			out, err = l.runFanOut(ctx, rc, s, keys, in, opts.Workers, runner, events)
		} else {
			out, err = runner(ctx, rc, s, in)
		}

		if err != nil {
			failed[name] = true
			l.store.SetStatus(subject, name, StatusFailed)
			l.store.SetError(subject, name, err)
			events <- Event{Subject: subject, Stage: name, Copy: -1, Err: err}
			continue
		}

		for slot, v := range out {
			values[name+"."+slot] = v
		}
		l.store.SetStatus(subject, name, StatusCompleted)
		l.store.SetOutputs(subject, name, out)
		events <- Event{Subject: subject, Stage: name, Copy: -1}
	}
}

// runFanOut executes a fan-out stage as N parallel copies, one per element
// of the aligned input sequences, and gathers outputs positionally.
func (l *Local) runFanOut(ctx context.Context, rc RunContext, s *stage.Stage, keys []string, in map[string]any, workers int, runner RunFunc, events chan<- Event) (map[string]any, error) {
	// Every fan-out slot must carry a sequence, and all sequences must
	// have the same length; anything else is a data-integrity error.
	lengths := make(map[string]int, len(keys))
	fanned := make(map[string][]any, len(keys))
	for _, key := range keys {
		seq, ok := asSlice(in[key])
		if !ok {
			return nil, fmt.Errorf("fan-out slot %s.%s did not receive a sequence", s.Name(), key)
		}
		fanned[key] = seq
		lengths[key] = len(seq)
	}

	n := -1
	for _, length := range lengths {
		if n == -1 {
			n = length
		} else if length != n {
			return nil, &classify.AlignmentError{Lengths: lengths}
		}
	}

	copyOut := make([]map[string]any, n)

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for i := 0; i < n; i++ {
		i := i
		group.Go(func() error {
			copyIn := make(map[string]any, len(in))
			for slot, v := range in {
				copyIn[slot] = v
			}
			for _, key := range keys {
				copyIn[key] = fanned[key][i]
			}

			out, err := runner(gctx, rc, s, copyIn)
			if err != nil {
				events <- Event{Subject: rc.Subject, Stage: s.Name(), Copy: i, Err: err}
				return fmt.Errorf("%s copy %d: %w", s.Name(), i, err)
			}
			copyOut[i] = out
			events <- Event{Subject: rc.Subject, Stage: s.Name(), Copy: i}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	// Gather per-copy outputs into ordered sequences, consumed positionally
	// downstream.
	gathered := make(map[string]any)
	for _, slot := range s.Outputs() {
		seq := make([]any, n)
		for i, out := range copyOut {
			seq[i] = out[slot]
		}
		gathered[slot] = seq
	}
	return gathered, nil
}

// failedDependency returns the first upstream stage of name that failed, or
// "".
func failedDependency(g *composer.Graph, name string, failed map[string]bool) string {
	for _, e := range g.Inputs(name) {
		if failed[e.From] {
			return e.From
		}
	}
	return ""
}

// passthroughRunner copies same-named input slots to output slots; output
// slots with no matching input fall back to a same-named parameter.
func passthroughRunner(_ context.Context, _ RunContext, s *stage.Stage, in map[string]any) (map[string]any, error) {
	out := make(map[string]any)
	for _, slot := range s.Outputs() {
		if v, ok := in[slot]; ok {
			out[slot] = v
			continue
		}
		if s.HasParam(slot) {
			out[slot] = s.Get(slot)
		}
	}
	return out, nil
}
