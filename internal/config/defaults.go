package config

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"github.com/hcpipe/hcprep/internal/ctxlog"
)

// defaultOption is one option in the generated default document.
type defaultOption struct {
	name  string
	value cty.Value
}

// defaultSection is one section of the generated default document, in
// render order.
type defaultSection struct {
	name    string
	options []defaultOption
}

func strList(items ...string) cty.Value {
	if len(items) == 0 {
		return cty.ListValEmpty(cty.String)
	}
	vals := make([]cty.Value, len(items))
	for i, s := range items {
		vals[i] = cty.StringVal(s)
	}
	return cty.ListVal(vals)
}

// defaultDocument describes the config file written by 'init' and the
// option set 'update' backfills. templates_dir is deliberately absent: it
// is always computed from hcp_dir and must never be overridden by a config
// value.
func defaultDocument() []defaultSection {
	return []defaultSection{
		{name: "general", options: []defaultOption{
			{"subjects", strList()},
			{"subject_dir", cty.StringVal("")},
			{"dicom_template", cty.StringVal("%s/*.dcm")},
			{"hcp_dir", cty.StringVal("/opt/HCP-Pipelines")},
			{"fsl_dir", cty.StringVal("/usr/local/fsl")},
			{"freesurfer_home", cty.StringVal("/usr/local/freesurfer")},
			{"wbc_dir", cty.StringVal("/usr/local/workbench/bin")},
		}},
		{name: "series", options: []defaultOption{
			{"t1", strList("T1w")},
			{"t2", strList("T2w")},
			{"bold", strList("BOLD", "fMRI")},
			{"sb_ref", strList("SBRef")},
			{"fieldmap_magnitude", strList("FieldMap_Magnitude")},
			{"fieldmap_phase", strList("FieldMap_Phase")},
			{"se_fieldmap", strList("SpinEchoFieldMap")},
			// Provisional direction-to-polarity guesses; flip per site if
			// unwarping comes out mirrored.
			{"polarity_positive", strList("RL", "AP")},
			{"polarity_negative", strList("LR", "PA")},
		}},
		{name: "templates", options: []defaultOption{
			{"t1_template", cty.StringVal("MNI152_T1_0.7mm.nii.gz")},
			{"t1_template_brain", cty.StringVal("MNI152_T1_0.7mm_brain.nii.gz")},
			{"t2_template", cty.StringVal("MNI152_T2_0.7mm.nii.gz")},
			{"template_mask", cty.StringVal("MNI152_T1_0.7mm_brain_mask.nii.gz")},
		}},
		{name: "config_files", options: []defaultOption{
			{"fnirt_config", cty.StringVal("T1_2_MNI152_2mm.cnf")},
			{"topup_config", cty.StringVal("b02b0.cnf")},
		}},
		{name: "nifti_wrangler"},
		{name: "pre_freesurfer"},
		{name: "freesurfer"},
		{name: "post_freesurfer"},
		{name: "volume_processing"},
		{name: "surface_processing"},
	}
}

// WriteDefault writes the default config document to path. It refuses to
// overwrite an existing file.
func WriteDefault(ctx context.Context, path string) error {
	logger := ctxlog.FromContext(ctx)

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists; use 'hcprep update' to refresh it", path)
	}

	f := hclwrite.NewEmptyFile()
	root := f.Body()
	for i, sec := range defaultDocument() {
		if i > 0 {
			root.AppendNewline()
		}
		body := root.AppendNewBlock(sec.name, nil).Body()
		for _, opt := range sec.options {
			body.SetAttributeValue(opt.name, opt.value)
		}
	}

	if err := os.WriteFile(path, f.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	logger.Info("Wrote default config file.", "path", path)
	return nil
}

// Update backfills any sections or options the default document has gained
// since the file was created, preserving every value the user has set.
func Update(ctx context.Context, path string) error {
	logger := ctxlog.FromContext(ctx)

	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	f, diags := hclwrite.ParseConfig(src, path, hcl.InitialPos)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse config file %s: %w", path, diags)
	}

	root := f.Body()
	added := 0
	for _, sec := range defaultDocument() {
		block := root.FirstMatchingBlock(sec.name, nil)
		if block == nil {
			root.AppendNewline()
			block = root.AppendNewBlock(sec.name, nil)
		}
		for _, opt := range sec.options {
			if block.Body().GetAttribute(opt.name) != nil {
				continue
			}
			block.Body().SetAttributeValue(opt.name, opt.value)
			added++
		}
	}

	if err := os.WriteFile(path, f.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to rewrite config file %s: %w", path, err)
	}
	logger.Info("Config file updated.", "path", path, "options_added", added)
	return nil
}
