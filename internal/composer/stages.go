package composer

import (
	"github.com/hcpipe/hcprep/internal/stage"
)

// Stage identities. The topology over these names is fixed; only stage
// parameters and fan-out sequence lengths vary per configuration.
const (
	StageSubjects       = "subjects"
	StageDiscovery      = "discovery"
	StageGather         = "gather"
	StageSelect         = "select"
	StageConvert        = "convert"
	StageInfo           = "info"
	StageClassify       = "classify"
	StagePreStructural  = "pre_structural"
	StageStructural     = "structural"
	StagePostStructural = "post_structural"
	StageVolume         = "volume"
	StageSurface        = "surface"
	StageSink           = "sink"
)

// toolParams is the parameter schema shared by every external-tool stage:
// the derived command and environment, plus the template and config-file
// values the templates/config_files sections may override. templates_dir is
// declared here but always computed from the tools root, never substituted
// from the templates section.
func toolParams(extra ...stage.Param) []stage.Param {
	params := []stage.Param{
		{Name: "full_command", Default: ""},
		{Name: "environ", Default: nil},
		{Name: "templates_dir", Default: ""},
		{Name: "t1_template", Default: ""},
		{Name: "t1_template_brain", Default: ""},
		{Name: "t2_template", Default: ""},
		{Name: "template_mask", Default: ""},
		{Name: "fnirt_config", Default: ""},
		{Name: "topup_config", Default: ""},
		{Name: "freesurfer_license", Default: ""},
	}
	return append(params, extra...)
}

// classifyOutputs lists the classification stage's per-category output
// slots. The seven run-linked sequences must stay positionally aligned;
// volume and surface fan out over them.
var classifyOutputs = []string{
	"t1_structs", "t2_structs",
	"mag_fieldmap", "phase_fieldmap", "fieldmap_te",
	"t1_sample_spacing", "t2_sample_spacing",
	"bold_names", "bolds", "sb_refs",
	"pos_fieldmaps", "neg_fieldmaps",
	"ep_echo_spacings", "ep_unwarp_dirs",
}

// registerStages installs the factory for every stage identity. Stages are
// constructed lazily on first access and memoized by the registry.
func registerStages(r *stage.Registry) {
	r.Register(StageSubjects, func() *stage.Stage {
		return stage.New(StageSubjects, stage.Config{
			Outputs: []string{"subject"},
			Params: []stage.Param{
				{Name: "subjects", Default: nil},
			},
		})
	})

	r.Register(StageDiscovery, func() *stage.Stage {
		return stage.New(StageDiscovery, stage.Config{
			Inputs:  []string{"subject"},
			Outputs: []string{"files"},
			Params: []stage.Param{
				{Name: "base_directory", Default: ""},
				{Name: "field_template", Default: nil},
				{Name: "template", Default: "*"},
				{Name: "sort_filelist", Default: true},
			},
		})
	})

	r.Register(StageGather, func() *stage.Stage {
		return stage.New(StageGather, stage.Config{
			Inputs:  []string{"files"},
			Outputs: []string{"links"},
		})
	})

	r.Register(StageSelect, func() *stage.Stage {
		return stage.New(StageSelect, stage.Config{
			Inputs:  []string{"inlist"},
			Outputs: []string{"out"},
			Params: []stage.Param{
				{Name: "index", Default: 0},
			},
		})
	})

	r.Register(StageConvert, func() *stage.Stage {
		return stage.New(StageConvert, stage.Config{
			Inputs:  []string{"source_names"},
			Outputs: []string{"converted_files"},
			Params: []stage.Param{
				{Name: "converter", Default: "dcm2niix"},
				{Name: "args", Default: "-b y -z n"},
				{Name: "gzip_output", Default: false},
				{Name: "reorient", Default: false},
			},
		})
	})

	r.Register(StageInfo, func() *stage.Stage {
		return stage.New(StageInfo, stage.Config{
			Inputs:  []string{"files"},
			Outputs: []string{"info"},
		})
	})

	r.Register(StageClassify, func() *stage.Stage {
		return stage.New(StageClassify, stage.Config{
			Inputs:  []string{"nii_files", "dicom_info"},
			Outputs: classifyOutputs,
			Params: []stage.Param{
				{Name: "series_map", Default: nil},
			},
		})
	})

	r.Register(StagePreStructural, func() *stage.Stage {
		return stage.New(StagePreStructural, stage.Config{
			Inputs: []string{
				"subject",
				"t1_structs", "t2_structs",
				"mag_fieldmap", "phase_fieldmap", "fieldmap_te",
				"t1_sample_spacing", "t2_sample_spacing",
			},
			Outputs: []string{
				"subject", "subject_t1_dir",
				"t1_acpc_dc_restore", "t1_acpc_dc_restore_brain",
				"t2_acpc_dc_restore", "study_dir",
			},
			Params: toolParams(),
		})
	})

	r.Register(StageStructural, func() *stage.Stage {
		return stage.New(StageStructural, stage.Config{
			Inputs: []string{
				"subject", "subject_t1_dir",
				"t1_acpc_dc_restore", "t1_acpc_dc_restore_brain",
				"t2_acpc_dc_restore",
			},
			Outputs: []string{"subject"},
			Params:  toolParams(),
		})
	})

	r.Register(StagePostStructural, func() *stage.Stage {
		return stage.New(StagePostStructural, stage.Config{
			Inputs:  []string{"subject", "study_dir"},
			Outputs: []string{"subject", "grayordinates_res", "low_res_mesh"},
			Params: toolParams(
				stage.Param{Name: "grayordinates_res", Default: "2"},
				stage.Param{Name: "low_res_mesh", Default: "32"},
			),
		})
	})

	r.Register(StageVolume, func() *stage.Stage {
		return stage.New(StageVolume, stage.Config{
			Inputs: []string{
				"subject", "study_dir",
				"bold_name", "bold_img", "bold_scout",
				"se_fieldmap_neg", "se_fieldmap_pos",
				"fieldmap_echo_spacing", "unwarp_dir",
				"fmri_res",
			},
			Outputs: []string{"subject", "bold_name"},
			Params:  toolParams(),
			FanOut: []string{
				"bold_name", "bold_img", "bold_scout",
				"se_fieldmap_pos", "se_fieldmap_neg",
				"unwarp_dir", "fieldmap_echo_spacing",
			},
		})
	})

	r.Register(StageSurface, func() *stage.Stage {
		return stage.New(StageSurface, stage.Config{
			Inputs: []string{
				"subject", "bold_name", "study_dir",
				"low_res_mesh", "fmri_res", "grayordinates_res",
			},
			Outputs: []string{"study_dir"},
			Params:  toolParams(),
			// subject fans out too: it arrives per-copy from the volume
			// stage's fan-out.
			FanOut: []string{"bold_name", "subject"},
		})
	})

	r.Register(StageSink, func() *stage.Stage {
		return stage.New(StageSink, stage.Config{
			Inputs: []string{"preprocessed"},
			Params: []stage.Param{
				{Name: "base_directory", Default: ""},
			},
		})
	})
}
