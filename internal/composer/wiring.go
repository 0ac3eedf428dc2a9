package composer

import (
	"context"
	"fmt"

	"github.com/hcpipe/hcprep/internal/ctxlog"
	"github.com/hcpipe/hcprep/internal/dag"
)

// Edge is a directed data dependency: the source stage's output slot feeds
// the destination stage's input slot.
type Edge struct {
	From     string
	FromSlot string
	To       string
	ToSlot   string
}

// WiringError reports a graph queried in a transitional state or a rewire
// that cannot complete. The edge set is compiled in, so the latter is a
// programming error surfaced loudly rather than worked around.
type WiringError struct {
	Reason string
}

func (e *WiringError) Error() string {
	return "wiring: " + e.Reason
}

// wireState tracks the two-phase wiring state machine. The graph is either
// fully wired or fully empty; stateWiring exists only to guard against a
// reentrant Rewire call.
type wireState int

const (
	stateUnwired wireState = iota
	stateWiring
	stateWired
)

// pipelineEdges is the complete fixed edge set. It is static across all
// configurations: rewiring always redeclares exactly this list.
var pipelineEdges = []Edge{
	// Acquisition.
	{StageSubjects, "subject", StageDiscovery, "subject"},
	{StageDiscovery, "files", StageGather, "files"},
	{StageGather, "links", StageSelect, "inlist"},
	{StageSelect, "out", StageConvert, "source_names"},
	{StageGather, "links", StageInfo, "files"},
	{StageConvert, "converted_files", StageClassify, "nii_files"},
	{StageInfo, "info", StageClassify, "dicom_info"},

	// Pre-structural.
	{StageSubjects, "subject", StagePreStructural, "subject"},
	{StageClassify, "t1_structs", StagePreStructural, "t1_structs"},
	{StageClassify, "t2_structs", StagePreStructural, "t2_structs"},
	{StageClassify, "mag_fieldmap", StagePreStructural, "mag_fieldmap"},
	{StageClassify, "phase_fieldmap", StagePreStructural, "phase_fieldmap"},
	{StageClassify, "fieldmap_te", StagePreStructural, "fieldmap_te"},
	{StageClassify, "t1_sample_spacing", StagePreStructural, "t1_sample_spacing"},
	{StageClassify, "t2_sample_spacing", StagePreStructural, "t2_sample_spacing"},

	// Structural.
	{StagePreStructural, "subject", StageStructural, "subject"},
	{StagePreStructural, "subject_t1_dir", StageStructural, "subject_t1_dir"},
	{StagePreStructural, "t1_acpc_dc_restore", StageStructural, "t1_acpc_dc_restore"},
	{StagePreStructural, "t1_acpc_dc_restore_brain", StageStructural, "t1_acpc_dc_restore_brain"},
	{StagePreStructural, "t2_acpc_dc_restore", StageStructural, "t2_acpc_dc_restore"},

	// Post-structural.
	{StageStructural, "subject", StagePostStructural, "subject"},
	{StagePreStructural, "study_dir", StagePostStructural, "study_dir"},

	// Volume, fanned out over functional runs.
	{StagePostStructural, "subject", StageVolume, "subject"},
	{StagePreStructural, "study_dir", StageVolume, "study_dir"},
	{StageClassify, "bold_names", StageVolume, "bold_name"},
	{StageClassify, "bolds", StageVolume, "bold_img"},
	{StageClassify, "sb_refs", StageVolume, "bold_scout"},
	{StageClassify, "neg_fieldmaps", StageVolume, "se_fieldmap_neg"},
	{StageClassify, "pos_fieldmaps", StageVolume, "se_fieldmap_pos"},
	{StageClassify, "ep_echo_spacings", StageVolume, "fieldmap_echo_spacing"},
	{StageClassify, "ep_unwarp_dirs", StageVolume, "unwarp_dir"},
	{StagePostStructural, "grayordinates_res", StageVolume, "fmri_res"},

	// Surface, aligned to the volume stage's fan-out.
	{StageVolume, "subject", StageSurface, "subject"},
	{StageVolume, "bold_name", StageSurface, "bold_name"},
	{StagePreStructural, "study_dir", StageSurface, "study_dir"},
	{StagePostStructural, "low_res_mesh", StageSurface, "low_res_mesh"},
	{StagePostStructural, "grayordinates_res", StageSurface, "fmri_res"},
	{StagePostStructural, "grayordinates_res", StageSurface, "grayordinates_res"},

	// Output.
	{StageSurface, "study_dir", StageSink, "preprocessed"},
}

// Rewire tears the whole edge set down and declares it again: clear every
// edge and fan-out marker, redeclare the fixed edge list, re-mark fan-out,
// validate. Safe to repeat any number of times; never leaves a partially
// wired graph behind on failure. Not reentrant: callers must treat it as a
// single atomic unit of work.
func (c *Composer) Rewire(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	if c.state == stateWiring {
		return &WiringError{Reason: "rewire called reentrantly"}
	}
	c.state = stateWiring
	logger.Debug("Rewire: tearing down current edge set.", "edges", len(c.edges))

	// Teardown. From here to the final state flip the graph is Unwired.
	c.edges = nil
	for _, s := range c.reg.Built() {
		s.ClearFanOut()
	}

	fail := func(reason string) error {
		c.edges = nil
		c.state = stateUnwired
		return &WiringError{Reason: reason}
	}

	// Redeclare the fixed topology.
	for _, e := range pipelineEdges {
		from := c.reg.Stage(e.From)
		to := c.reg.Stage(e.To)
		if !from.HasOutput(e.FromSlot) {
			return fail(fmt.Sprintf("stage %s declares no output slot %q", e.From, e.FromSlot))
		}
		if !to.HasInput(e.ToSlot) {
			return fail(fmt.Sprintf("stage %s declares no input slot %q", e.To, e.ToSlot))
		}
		c.edges = append(c.edges, e)
	}

	for _, s := range c.reg.Built() {
		s.MarkFanOut()
	}

	// Validate the declared topology before exposing it.
	g := dag.New()
	for _, name := range c.reg.Names() {
		g.AddNode(name)
	}
	seen := make(map[[2]string]bool)
	for _, e := range c.edges {
		key := [2]string{e.From, e.To}
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := g.AddEdge(e.From, e.To); err != nil {
			return fail(err.Error())
		}
	}
	if err := g.DetectCycles(); err != nil {
		return fail(err.Error())
	}

	c.state = stateWired
	logger.Debug("Rewire complete.", "edges", len(c.edges))
	return nil
}
