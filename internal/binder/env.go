package binder

import (
	"path/filepath"

	"github.com/hcpipe/hcprep/internal/config"
)

// Environment derives the process environment shared by every external-tool
// stage: tool roots and the library/script directories the HCP shell
// pipelines expect. Options absent from the document simply omit their
// variables; the affected tools fail downstream, not here.
func Environment(doc *config.Document) map[string]string {
	env := make(map[string]string)

	if hcpDir := doc.GetString("general", "hcp_dir"); hcpDir != "" {
		env["HCPPIPEDIR"] = hcpDir
		env["HCPPIPEDIR_Global"] = filepath.Join(hcpDir, "global", "scripts")
		env["HCPPIPEDIR_Templates"] = filepath.Join(hcpDir, "global", "templates")
		env["HCPPIPEDIR_Config"] = filepath.Join(hcpDir, "global", "config")
		env["HCPPIPEDIR_PreFS"] = filepath.Join(hcpDir, "PreFreeSurfer", "scripts")
		env["HCPPIPEDIR_FS"] = filepath.Join(hcpDir, "FreeSurfer", "scripts")
		env["HCPPIPEDIR_PostFS"] = filepath.Join(hcpDir, "PostFreeSurfer", "scripts")
		env["HCPPIPEDIR_fMRIVol"] = filepath.Join(hcpDir, "fMRIVolume", "scripts")
		env["HCPPIPEDIR_fMRISurf"] = filepath.Join(hcpDir, "fMRISurface", "scripts")
	}
	if fslDir := doc.GetString("general", "fsl_dir"); fslDir != "" {
		env["FSLDIR"] = fslDir
	}
	if fsHome := doc.GetString("general", "freesurfer_home"); fsHome != "" {
		env["FREESURFER_HOME"] = fsHome
	}
	if wbcDir := doc.GetString("general", "wbc_dir"); wbcDir != "" {
		env["CARET7DIR"] = wbcDir
	}

	return env
}

// TemplatesDir returns the computed templates directory for a document.
// This value is always derived from hcp_dir; the reconfiguration controller
// refuses to let the templates section substitute it.
func TemplatesDir(doc *config.Document) string {
	hcpDir := doc.GetString("general", "hcp_dir")
	if hcpDir == "" {
		return ""
	}
	return filepath.Join(hcpDir, "global", "templates")
}
