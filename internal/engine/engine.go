// Package engine is the execution-engine collaborator boundary: submit a
// wired graph, receive per-stage completion and failure events. The
// composer only produces the static graph description; everything about
// scheduling, worker limits, and retries lives behind this interface.
package engine

import (
	"context"

	"github.com/hcpipe/hcprep/internal/composer"
)

// Options tunes one execution run.
type Options struct {
	// Workers bounds how many fan-out copies run concurrently. Zero or
	// negative means one.
	Workers int
	// OutDir is where preprocessed data lands.
	OutDir string
}

// Event reports the completion or failure of one stage execution.
type Event struct {
	Subject string
	Stage   string
	// Copy is the fan-out copy index, or -1 for a whole-stage event.
	Copy int
	Err  error
}

// Engine schedules a wired pipeline graph. Implementations own all
// execution policy; stage failures surface as events, aborting only the
// stages that depend on the failed one.
type Engine interface {
	Run(ctx context.Context, g *composer.Graph, opts Options) (<-chan Event, error)
}
