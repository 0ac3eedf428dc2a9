// Package composer implements the workflow graph composer: a fixed topology
// of preprocessing stages materialized as a DAG with typed data edges, plus
// the reconfiguration controller that rebinds every stage's parameters,
// commands, and environment whenever the configuration document changes.
package composer

import (
	"context"

	"github.com/hcpipe/hcprep/internal/binder"
	"github.com/hcpipe/hcprep/internal/config"
	"github.com/hcpipe/hcprep/internal/ctxlog"
	"github.com/hcpipe/hcprep/internal/stage"
)

// Composer owns the stage registry and the wiring state for one pipeline.
// It is single-threaded: Apply and Rewire run to completion with no
// internal locking, and callers must serialize configuration changes.
type Composer struct {
	reg              *stage.Registry
	doc              *config.Document
	subjectsOverride []string
	state            wireState
	edges            []Edge
}

// New returns a composer with every stage factory registered and nothing
// built or wired yet.
func New() *Composer {
	reg := stage.NewRegistry()
	registerStages(reg)
	return &Composer{reg: reg}
}

// Stage returns the memoized instance for a stage identity, constructing it
// on first access.
func (c *Composer) Stage(name string) *stage.Stage {
	return c.reg.Stage(name)
}

// Registry exposes the owned stage registry, primarily so callers can
// snapshot stage state.
func (c *Composer) Registry() *stage.Registry {
	return c.reg
}

// SetSubjects installs a caller-supplied subject list. It takes precedence
// over the configuration's general.subjects on every subsequent Apply.
func (c *Composer) SetSubjects(subjects []string) {
	c.subjectsOverride = subjects
}

// overrideSections maps the configuration's per-stage override sections to
// the stage each one rebinds.
var overrideSections = []struct {
	section string
	stage   string
}{
	{"nifti_wrangler", StageClassify},
	{"pre_freesurfer", StagePreStructural},
	{"freesurfer", StageStructural},
	{"post_freesurfer", StagePostStructural},
	{"volume_processing", StageVolume},
	{"surface_processing", StageSurface},
}

// toolStages returns the five external-tool stages in pipeline order.
func (c *Composer) toolStages() []*stage.Stage {
	out := make([]*stage.Stage, 0, len(binder.PipelineOrder))
	for _, name := range binder.PipelineOrder {
		out = append(out, c.reg.Stage(name))
	}
	return out
}

// Apply runs the full rebind sequence for a configuration document and then
// rewires the graph. The document is validated first and rejected with a
// *config.ValidationError before any stage is touched: a partially applied
// configuration is worse than an outright rejection.
//
// The order below is load-bearing; later steps read values set by earlier
// ones.
func (c *Composer) Apply(ctx context.Context, doc *config.Document) error {
	logger := ctxlog.FromContext(ctx)

	if err := doc.Validate(); err != nil {
		return err
	}
	c.doc = doc

	// Overrides are not sticky: every stage built so far goes back to its
	// declared defaults before this document's values land.
	for _, s := range c.reg.Built() {
		s.ResetParams()
	}

	// 1. Subject list. A caller-supplied list beats the configuration's.
	subjects := c.subjectsOverride
	if subjects == nil {
		subjects = doc.GetStrings("general", "subjects")
	}
	if len(subjects) > 0 {
		c.reg.Stage(StageSubjects).Set("subjects", subjects)
	}

	// 2. Source directory and per-subject discovery templates.
	discovery := c.reg.Stage(StageDiscovery)
	if dir := doc.GetString("general", "subject_dir"); dir != "" {
		discovery.Set("base_directory", dir)
	}
	if tmpl := doc.GetString("general", "dicom_template"); tmpl != "" {
		discovery.Set("field_template", map[string]any{"dicom": tmpl})
	}

	// 3. Series classification rules, replacing the built-in defaults
	// wholesale when present.
	if series := doc.Section("series"); series != nil {
		c.reg.Stage(StageClassify).Set("series_map", map[string]any(series))
	}

	// 4. Shared template and config-file values on every tool stage.
	// templates_dir stays computed from the tools root and is never
	// substituted from the templates section.
	templates := doc.Section("templates")
	configFiles := doc.Section("config_files")
	templatesDir := binder.TemplatesDir(doc)
	for _, s := range c.toolStages() {
		s.ApplyOverrides(ctx, templates, "templates_dir")
		s.ApplyOverrides(ctx, configFiles)
		if templatesDir != "" {
			s.Set("templates_dir", templatesDir)
		}
	}

	// 5. Derived command templates, in pipeline order.
	for i, cmd := range binder.Commands(doc) {
		c.reg.Stage(binder.PipelineOrder[i]).Set("full_command", cmd.Path)
	}

	// 6. Shared environment on every tool stage.
	env := binder.Environment(doc)
	for _, s := range c.toolStages() {
		s.Set("environ", env)
	}

	// 7. Remaining per-stage overrides from the configuration's own
	// sections. Unknown keys are reported and skipped.
	for _, m := range overrideSections {
		if sec := doc.Section(m.section); sec != nil {
			c.reg.Stage(m.stage).ApplyOverrides(ctx, sec)
		}
	}

	logger.Debug("Configuration applied; rewiring.", "subjects", len(subjects))

	// 8. Rewire.
	return c.Rewire(ctx)
}

// Graph returns the wired graph for the execution engine. Querying while
// the composer is not fully wired is a WiringError.
func (c *Composer) Graph() (*Graph, error) {
	if c.state != stateWired {
		return nil, &WiringError{Reason: "graph requested while not wired"}
	}

	stages := make(map[string]*stage.Stage, len(c.reg.Names()))
	for _, name := range c.reg.Names() {
		stages[name] = c.reg.Stage(name)
	}
	edges := make([]Edge, len(c.edges))
	copy(edges, c.edges)

	return &Graph{
		Stages: stages,
		Edges:  edges,
		order:  c.reg.Names(),
	}, nil
}
