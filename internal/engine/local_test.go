package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hcpipe/hcprep/internal/classify"
	"github.com/hcpipe/hcprep/internal/composer"
	"github.com/hcpipe/hcprep/internal/config"
	"github.com/hcpipe/hcprep/internal/stage"
)

// sessionRecords is a two-run session: structurals, a spin-echo fieldmap
// pair, and two functional runs with single-band references.
func sessionRecords() []classify.Record {
	return []classify.Record{
		{File: "/conv/t1.nii.gz", SeriesNumber: 2, SeriesDescription: "T1w_MPR", SampleSpacing: 7.4e-6},
		{File: "/conv/t2.nii.gz", SeriesNumber: 3, SeriesDescription: "T2w_SPC", SampleSpacing: 2.1e-6},
		{File: "/conv/se_ap.nii.gz", SeriesNumber: 4, SeriesDescription: "SpinEchoFieldMap_AP", PhaseEncodingDirection: "AP"},
		{File: "/conv/se_pa.nii.gz", SeriesNumber: 5, SeriesDescription: "SpinEchoFieldMap_PA", PhaseEncodingDirection: "PA"},
		{File: "/conv/rest1_sbref.nii.gz", SeriesNumber: 6, SeriesDescription: "BOLD_REST1_SBRef", PhaseEncodingDirection: "AP"},
		{File: "/conv/rest1.nii.gz", SeriesNumber: 7, SeriesDescription: "BOLD_REST1", PhaseEncodingDirection: "AP", EchoSpacing: 0.58},
		{File: "/conv/rest2_sbref.nii.gz", SeriesNumber: 8, SeriesDescription: "BOLD_REST2_SBRef", PhaseEncodingDirection: "PA"},
		{File: "/conv/rest2.nii.gz", SeriesNumber: 9, SeriesDescription: "BOLD_REST2", PhaseEncodingDirection: "PA", EchoSpacing: 0.58},
	}
}

func buildGraph(t *testing.T, subjects []any) *composer.Graph {
	t.Helper()

	doc := config.NewDocument()
	doc.SetSection("general", config.Section{
		"subjects":       subjects,
		"subject_dir":    "/data/raw",
		"dicom_template": "%s/*.dcm",
		"hcp_dir":        "/opt/hcp",
	})

	c := composer.New()
	require.NoError(t, c.Apply(context.Background(), doc))
	g, err := c.Graph()
	require.NoError(t, err)
	return g
}

// stubAcquisition replaces the filesystem- and process-touching runners with
// in-memory stand-ins feeding the real classifier.
func stubAcquisition(eng *Local, records []classify.Record) {
	files := make([]string, len(records))
	dicoms := make([]string, len(records))
	for i, rec := range records {
		files[i] = rec.File
		dicoms[i] = fmt.Sprintf("/data/raw/101/%d.dcm", i+1)
	}

	eng.SetRunner(composer.StageDiscovery, func(_ context.Context, _ RunContext, _ *stage.Stage, _ map[string]any) (map[string]any, error) {
		return map[string]any{"files": dicoms}, nil
	})
	eng.SetRunner(composer.StageConvert, func(_ context.Context, _ RunContext, _ *stage.Stage, _ map[string]any) (map[string]any, error) {
		return map[string]any{"converted_files": files}, nil
	})
	eng.SetRunner(composer.StageInfo, func(_ context.Context, _ RunContext, _ *stage.Stage, _ map[string]any) (map[string]any, error) {
		return map[string]any{"info": records}, nil
	})
}

// stubTools replaces the external-tool runners with ones that derive outputs
// without executing anything.
func stubTools(eng *Local) {
	stub := func(_ context.Context, rc RunContext, s *stage.Stage, in map[string]any) (map[string]any, error) {
		return toolOutputs(rc, s, in), nil
	}
	for _, name := range []string{
		composer.StagePreStructural, composer.StageStructural,
		composer.StagePostStructural, composer.StageVolume, composer.StageSurface,
	} {
		eng.SetRunner(name, stub)
	}
}

func drain(events <-chan Event) []Event {
	var all []Event
	for ev := range events {
		all = append(all, ev)
	}
	return all
}

func TestRunFansOutPerFunctionalRun(t *testing.T) {
	g := buildGraph(t, []any{"101", "102"})

	eng := NewLocal()
	stubAcquisition(eng, sessionRecords())
	stubTools(eng)

	events, err := eng.Run(context.Background(), g, Options{Workers: 2, OutDir: t.TempDir()})
	require.NoError(t, err)
	all := drain(events)

	for _, ev := range all {
		assert.NoError(t, ev.Err, "%s/%s copy %d", ev.Subject, ev.Stage, ev.Copy)
	}

	for _, subject := range []string{"101", "102"} {
		store := eng.Store()
		assert.Equal(t, StatusCompleted, store.GetStatus(subject, composer.StageSink), subject)

		// The volume stage ran as two copies, gathered positionally.
		volumeOut := store.GetOutputs(subject, composer.StageVolume)
		require.NotNil(t, volumeOut)
		assert.Equal(t, []any{"bold_rest1", "bold_rest2"}, volumeOut["bold_name"])

		surfaceOut := store.GetOutputs(subject, composer.StageSurface)
		require.NotNil(t, surfaceOut)
		dirs, ok := asSlice(surfaceOut["study_dir"])
		require.True(t, ok)
		assert.Len(t, dirs, 2)
	}

	// One copy event per fan-out copy: 2 volume + 2 surface, per subject.
	copies := 0
	for _, ev := range all {
		if ev.Copy >= 0 {
			copies++
		}
	}
	assert.Equal(t, 8, copies)
}

func TestRunRejectsMisalignedFanOut(t *testing.T) {
	g := buildGraph(t, []any{"101"})

	eng := NewLocal()
	stubAcquisition(eng, sessionRecords())
	stubTools(eng)

	// Two runs everywhere except the run names: a data-integrity error the
	// fan-out must refuse to zip.
	eng.SetRunner(composer.StageClassify, func(_ context.Context, _ RunContext, _ *stage.Stage, _ map[string]any) (map[string]any, error) {
		return map[string]any{
			"bold_names":       []string{"bold_rest1"},
			"bolds":            []string{"/conv/rest1.nii.gz", "/conv/rest2.nii.gz"},
			"sb_refs":          []string{"/conv/rest1_sbref.nii.gz", "/conv/rest2_sbref.nii.gz"},
			"pos_fieldmaps":    []string{"/conv/se_ap.nii.gz", "/conv/se_ap.nii.gz"},
			"neg_fieldmaps":    []string{"/conv/se_pa.nii.gz", "/conv/se_pa.nii.gz"},
			"ep_echo_spacings": []float64{0.58, 0.58},
			"ep_unwarp_dirs":   []string{"y", "y-"},
		}, nil
	})

	events, err := eng.Run(context.Background(), g, Options{OutDir: t.TempDir()})
	require.NoError(t, err)
	drain(events)

	store := eng.Store()
	assert.Equal(t, StatusFailed, store.GetStatus("101", composer.StageVolume))

	var aerr *classify.AlignmentError
	require.ErrorAs(t, store.GetError("101", composer.StageVolume), &aerr)
	assert.Equal(t, 1, aerr.Lengths["bold_name"])
	assert.Equal(t, 2, aerr.Lengths["bold_img"])

	// Downstream of the failure is skipped, not run.
	assert.Equal(t, StatusFailed, store.GetStatus("101", composer.StageSurface))
	assert.Equal(t, StatusFailed, store.GetStatus("101", composer.StageSink))
	assert.ErrorContains(t, store.GetError("101", composer.StageSurface), "dependency volume failed")
}

func TestRunPropagatesUpstreamFailure(t *testing.T) {
	g := buildGraph(t, []any{"101"})

	eng := NewLocal()
	eng.SetRunner(composer.StageDiscovery, func(_ context.Context, _ RunContext, _ *stage.Stage, _ map[string]any) (map[string]any, error) {
		return nil, fmt.Errorf("scanner archive offline")
	})

	events, err := eng.Run(context.Background(), g, Options{OutDir: t.TempDir()})
	require.NoError(t, err)
	all := drain(events)

	// Every stage reports exactly once: the subject injection succeeds, the
	// discovery failure takes everything downstream with it.
	require.Len(t, all, 13)
	failures := 0
	for _, ev := range all {
		if ev.Err != nil {
			failures++
		}
	}
	assert.Equal(t, 12, failures)

	store := eng.Store()
	assert.Equal(t, StatusCompleted, store.GetStatus("101", composer.StageSubjects))
	assert.ErrorContains(t, store.GetError("101", composer.StageDiscovery), "scanner archive offline")
	assert.Equal(t, StatusFailed, store.GetStatus("101", composer.StageSink))
}

func TestRunWithoutSubjects(t *testing.T) {
	doc := config.NewDocument()
	doc.SetSection("general", config.Section{
		"subject_dir":    "/data/raw",
		"dicom_template": "%s/*.dcm",
		"hcp_dir":        "/opt/hcp",
	})
	c := composer.New()
	require.NoError(t, c.Apply(context.Background(), doc))
	g, err := c.Graph()
	require.NoError(t, err)

	_, err = NewLocal().Run(context.Background(), g, Options{})
	assert.ErrorContains(t, err, "no subjects to run")
}

func TestPassthroughRunner(t *testing.T) {
	s := stage.New("post_structural", stage.Config{
		Inputs:  []string{"subject"},
		Outputs: []string{"subject", "grayordinates_res"},
		Params:  []stage.Param{{Name: "grayordinates_res", Default: "2"}},
	})

	out, err := passthroughRunner(context.Background(), RunContext{}, s, map[string]any{"subject": "101"})
	require.NoError(t, err)
	assert.Equal(t, "101", out["subject"])
	assert.Equal(t, "2", out["grayordinates_res"])
}
