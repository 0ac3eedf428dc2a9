package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hcpipe/hcprep/internal/binder"
	"github.com/hcpipe/hcprep/internal/classify"
	"github.com/hcpipe/hcprep/internal/composer"
	"github.com/hcpipe/hcprep/internal/ctxlog"
	"github.com/hcpipe/hcprep/internal/stage"
)

// builtinRunners wires the default runner for every stage identity. The
// subject-identity stage has no runner: the engine injects the current
// subject itself.
func builtinRunners() map[string]RunFunc {
	return map[string]RunFunc{
		composer.StageDiscovery:      runDiscovery,
		composer.StageGather:         runGather,
		composer.StageSelect:         runSelect,
		composer.StageConvert:        runConvert,
		composer.StageInfo:           runInfo,
		composer.StageClassify:       runClassify,
		composer.StagePreStructural:  runTool,
		composer.StageStructural:     runTool,
		composer.StagePostStructural: runTool,
		composer.StageVolume:         runTool,
		composer.StageSurface:        runTool,
		composer.StageSink:           runSink,
	}
}

// runDiscovery expands the per-subject file template under the base
// directory and globs the matching scanner output files.
func runDiscovery(_ context.Context, rc RunContext, s *stage.Stage, in map[string]any) (map[string]any, error) {
	base := toString(s.Get("base_directory"))
	if base == "" {
		return nil, fmt.Errorf("discovery has no base directory")
	}

	subject := toString(in["subject"])
	tmpl := toString(s.Get("template"))
	if ft := asMap(s.Get("field_template")); ft != nil {
		if t := toString(ft["dicom"]); t != "" {
			tmpl = t
		}
	}

	var pattern string
	if strings.Contains(tmpl, "%s") {
		pattern = filepath.Join(base, fmt.Sprintf(tmpl, subject))
	} else {
		pattern = filepath.Join(base, subject, tmpl)
	}

	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad discovery pattern %q: %w", pattern, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files matched %q for subject %s", pattern, subject)
	}
	if b, _ := s.Get("sort_filelist").(bool); b {
		sort.Strings(files)
	}
	return map[string]any{"files": files}, nil
}

// runGather consolidates the discovered files into a single ordered list
// for the converter and the metadata reader.
func runGather(_ context.Context, _ RunContext, _ *stage.Stage, in map[string]any) (map[string]any, error) {
	files := asStrings(in["files"])
	return map[string]any{"links": files}, nil
}

// runSelect picks a single element from a list input.
func runSelect(_ context.Context, _ RunContext, s *stage.Stage, in map[string]any) (map[string]any, error) {
	list, ok := asSlice(in["inlist"])
	if !ok {
		return nil, fmt.Errorf("select input is not a list")
	}
	idx := toInt(s.Get("index"))
	if idx < 0 || idx >= len(list) {
		return nil, fmt.Errorf("select index %d out of range (%d elements)", idx, len(list))
	}
	return map[string]any{"out": list[idx]}, nil
}

// runConvert invokes the DICOM converter on the series directory of the
// selected source file and returns the converted images.
func runConvert(ctx context.Context, rc RunContext, s *stage.Stage, in map[string]any) (map[string]any, error) {
	logger := ctxlog.FromContext(ctx)

	source := toString(in["source_names"])
	if source == "" {
		return nil, fmt.Errorf("convert received no source file")
	}
	srcDir := filepath.Dir(source)

	outDir := filepath.Join(rc.OutDir, "converted", rc.Subject)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create conversion directory: %w", err)
	}

	converter := toString(s.Get("converter"))
	argv := strings.Fields(toString(s.Get("args")))
	argv = append(argv, "-o", outDir, srcDir)

	logger.Debug("Converting DICOM series.", "converter", converter, "dir", srcDir)
	cmd := exec.CommandContext(ctx, converter, argv...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%s failed: %w\n%s", converter, err, out)
	}

	converted, err := filepath.Glob(filepath.Join(outDir, "*.nii*"))
	if err != nil {
		return nil, err
	}
	sort.Strings(converted)
	return map[string]any{"converted_files": converted}, nil
}

// runInfo reads the acquisition metadata sidecars (JSON, one per series)
// that accompany the scanner output.
func runInfo(ctx context.Context, _ RunContext, _ *stage.Stage, in map[string]any) (map[string]any, error) {
	logger := ctxlog.FromContext(ctx)

	files := asStrings(in["files"])
	var sidecars []string
	for _, f := range files {
		if strings.HasSuffix(f, ".json") {
			sidecars = append(sidecars, f)
		}
	}
	if len(sidecars) == 0 && len(files) > 0 {
		// Sidecars may sit next to the series files without being listed.
		found, err := filepath.Glob(filepath.Join(filepath.Dir(files[0]), "*.json"))
		if err == nil {
			sidecars = found
		}
	}
	sort.Strings(sidecars)

	var records []classify.Record
	for _, path := range sidecars {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read metadata sidecar %s: %w", path, err)
		}
		var rec classify.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("cannot decode metadata sidecar %s: %w", path, err)
		}
		records = append(records, rec)
	}
	logger.Debug("Read acquisition metadata.", "records", len(records))
	return map[string]any{"info": records}, nil
}

// runClassify partitions converted images into the pipeline's semantic
// categories using the stage's (possibly overridden) rule table.
func runClassify(ctx context.Context, _ RunContext, s *stage.Stage, in map[string]any) (map[string]any, error) {
	files := asStrings(in["nii_files"])
	records, _ := in["dicom_info"].([]classify.Record)
	rules := classify.RulesFromOverrides(asMap(s.Get("series_map")))

	res, err := classify.Partition(ctx, files, records, rules)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"t1_structs":        res.T1Structs,
		"t2_structs":        res.T2Structs,
		"mag_fieldmap":      res.MagFieldmap,
		"phase_fieldmap":    res.PhaseFieldmap,
		"fieldmap_te":       res.FieldmapTE,
		"t1_sample_spacing": res.T1SampleSpacing,
		"t2_sample_spacing": res.T2SampleSpacing,
		"bold_names":        res.BoldNames,
		"bolds":             res.Bolds,
		"sb_refs":           res.SBRefs,
		"pos_fieldmaps":     res.PosFieldmaps,
		"neg_fieldmaps":     res.NegFieldmaps,
		"ep_echo_spacings":  res.EPEchoSpacings,
		"ep_unwarp_dirs":    res.EPUnwarpDirs,
	}, nil
}

// runTool executes an external-tool stage: the bound command with one
// --slot=value argument per resolved input, under the bound environment.
func runTool(ctx context.Context, rc RunContext, s *stage.Stage, in map[string]any) (map[string]any, error) {
	logger := ctxlog.FromContext(ctx)

	command := toString(s.Get("full_command"))
	if command == "" {
		return nil, &binder.BindError{Stage: s.Name(), Option: "general.hcp_dir"}
	}

	slots := make([]string, 0, len(in))
	for slot := range in {
		slots = append(slots, slot)
	}
	sort.Strings(slots)

	argv := make([]string, 0, len(slots))
	for _, slot := range slots {
		argv = append(argv, fmt.Sprintf("--%s=%v", slot, in[slot]))
	}

	cmd := exec.CommandContext(ctx, command, argv...)
	cmd.Env = os.Environ()
	if env, ok := s.Get("environ").(map[string]string); ok {
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			cmd.Env = append(cmd.Env, k+"="+env[k])
		}
	}

	logger.Debug("Executing tool stage.", "stage", s.Name(), "command", command)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%s failed: %w\n%s", command, err, out)
	}

	return toolOutputs(rc, s, in), nil
}

// toolOutputs derives each tool stage's output slot values: pass-through
// for slots fed in, well-known paths under the study directory otherwise.
func toolOutputs(rc RunContext, s *stage.Stage, in map[string]any) map[string]any {
	out := make(map[string]any)
	for _, slot := range s.Outputs() {
		if v, ok := in[slot]; ok {
			out[slot] = v
		} else if s.HasParam(slot) {
			out[slot] = s.Get(slot)
		}
	}

	if s.Name() == composer.StagePreStructural {
		studyDir := filepath.Join(rc.OutDir, "study")
		t1Dir := filepath.Join(studyDir, rc.Subject, "T1w")
		out["study_dir"] = studyDir
		out["subject_t1_dir"] = t1Dir
		out["t1_acpc_dc_restore"] = filepath.Join(t1Dir, "T1w_acpc_dc_restore.nii.gz")
		out["t1_acpc_dc_restore_brain"] = filepath.Join(t1Dir, "T1w_acpc_dc_restore_brain.nii.gz")
		out["t2_acpc_dc_restore"] = filepath.Join(t1Dir, "T2w_acpc_dc_restore.nii.gz")
	}
	return out
}

// runSink ensures the output base directory exists and records where the
// preprocessed study landed.
func runSink(ctx context.Context, _ RunContext, s *stage.Stage, in map[string]any) (map[string]any, error) {
	logger := ctxlog.FromContext(ctx)

	base := toString(s.Get("base_directory"))
	if base != "" {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create output directory %s: %w", base, err)
		}
	}

	preprocessed, _ := asSlice(in["preprocessed"])
	logger.Info("Preprocessed data ready.", "study_dirs", len(preprocessed), "out", base)
	return map[string]any{}, nil
}
