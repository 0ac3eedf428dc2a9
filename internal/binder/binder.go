// Package binder derives, from the configuration document, the shell
// command template and process environment for each external-tool stage.
// Both derivations are pure functions of the document: no filesystem or
// process side effects, recomputed wholesale on every reconfiguration.
package binder

import (
	"fmt"
	"path/filepath"

	"github.com/hcpipe/hcprep/internal/config"
)

// Command is the resolved invocation for one external-tool stage. An empty
// Path means the stage could not be bound (a required tool path was absent
// from the configuration); the stage is left uncallable and the failure
// surfaces at execution time, not here.
type Command struct {
	Stage string
	Path  string
}

// Unbound reports whether the command could not be derived.
func (c Command) Unbound() bool { return c.Path == "" }

// PipelineOrder lists the external-tool stages in pipeline order. Commands
// returns one entry per name, in this order.
var PipelineOrder = []string{
	"pre_structural",
	"structural",
	"post_structural",
	"volume",
	"surface",
}

// scripts maps each tool stage to its script path relative to the pipeline
// tools root.
var scripts = map[string][]string{
	"pre_structural":  {"PreFreeSurfer", "PreFreeSurferPipeline.sh"},
	"structural":      {"FreeSurfer", "FreeSurferPipeline.sh"},
	"post_structural": {"PostFreeSurfer", "PostFreeSurferPipeline.sh"},
	"volume":          {"fMRIVolume", "GenericfMRIVolumeProcessingPipeline.sh"},
	"surface":         {"fMRISurface", "GenericfMRISurfaceProcessingPipeline.sh"},
}

// Commands derives the command for every external-tool stage, in pipeline
// order. A document without general.hcp_dir yields unbound commands.
func Commands(doc *config.Document) []Command {
	hcpDir := doc.GetString("general", "hcp_dir")

	out := make([]Command, 0, len(PipelineOrder))
	for _, name := range PipelineOrder {
		cmd := Command{Stage: name}
		if hcpDir != "" {
			parts := append([]string{hcpDir}, scripts[name]...)
			cmd.Path = filepath.Join(parts...)
		}
		out = append(out, cmd)
	}
	return out
}

// BindError reports an attempt to execute a stage whose command was never
// bound. It is stage-scoped: siblings keep running.
type BindError struct {
	Stage  string
	Option string
}

func (e *BindError) Error() string {
	return fmt.Sprintf("stage %s has no bound command: configuration option %s is not set", e.Stage, e.Option)
}
