package composer

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wiredComposer(t *testing.T) *Composer {
	t.Helper()
	c := New()
	require.NoError(t, c.Apply(context.Background(), validDoc()))
	return c
}

func TestRewireIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := wiredComposer(t)

	first, err := c.Graph()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Rewire(ctx))
	}

	again, err := c.Graph()
	require.NoError(t, err)
	assert.Equal(t, first.Edges, again.Edges)
	assert.Equal(t, len(pipelineEdges), len(again.Edges))
}

func TestRewireActivatesFanOut(t *testing.T) {
	c := New()

	volume := c.Stage(StageVolume)
	surface := c.Stage(StageSurface)
	assert.Nil(t, volume.FanOut())
	assert.Nil(t, surface.FanOut())

	require.NoError(t, c.Rewire(context.Background()))

	assert.Equal(t, []string{
		"bold_name", "bold_img", "bold_scout",
		"se_fieldmap_pos", "se_fieldmap_neg",
		"unwarp_dir", "fieldmap_echo_spacing",
	}, volume.FanOut())
	assert.Equal(t, []string{"bold_name", "subject"}, surface.FanOut())

	// Non-fanning stages stay plain.
	assert.Nil(t, c.Stage(StagePreStructural).FanOut())
}

func TestGraphBeforeWiringFails(t *testing.T) {
	c := New()

	_, err := c.Graph()
	var werr *WiringError
	require.ErrorAs(t, err, &werr)
	assert.Contains(t, werr.Error(), "not wired")
}

func TestGraphTopoOrder(t *testing.T) {
	c := wiredComposer(t)
	g, err := c.Graph()
	require.NoError(t, err)

	order, err := g.TopoOrder()
	require.NoError(t, err)
	require.Len(t, order, 13)

	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}

	chains := [][2]string{
		{StageSubjects, StageDiscovery},
		{StageDiscovery, StageGather},
		{StageGather, StageSelect},
		{StageSelect, StageConvert},
		{StageGather, StageInfo},
		{StageConvert, StageClassify},
		{StageInfo, StageClassify},
		{StageClassify, StagePreStructural},
		{StagePreStructural, StageStructural},
		{StageStructural, StagePostStructural},
		{StagePostStructural, StageVolume},
		{StageVolume, StageSurface},
		{StageSurface, StageSink},
	}
	for _, chain := range chains {
		assert.Less(t, pos[chain[0]], pos[chain[1]], "%s must run before %s", chain[0], chain[1])
	}
}

func TestGraphInputs(t *testing.T) {
	c := wiredComposer(t)
	g, err := c.Graph()
	require.NoError(t, err)

	in := g.Inputs(StageClassify)
	require.Len(t, in, 2)
	assert.Equal(t, Edge{StageConvert, "converted_files", StageClassify, "nii_files"}, in[0])
	assert.Equal(t, Edge{StageInfo, "info", StageClassify, "dicom_info"}, in[1])

	assert.Empty(t, g.Inputs(StageSubjects))
	assert.Len(t, g.Inputs(StageVolume), 10)
}

func TestWriteDOT(t *testing.T) {
	c := wiredComposer(t)
	g, err := c.Graph()
	require.NoError(t, err)

	t.Run("rendering is deterministic", func(t *testing.T) {
		var a, b strings.Builder
		require.NoError(t, g.WriteDOT(&a, false))
		require.NoError(t, g.WriteDOT(&b, false))
		assert.Equal(t, a.String(), b.String())
	})

	t.Run("plain rendering", func(t *testing.T) {
		var out strings.Builder
		require.NoError(t, g.WriteDOT(&out, false))
		dot := out.String()

		assert.Contains(t, dot, "digraph pipeline {")
		assert.Contains(t, dot, `"classify" -> "volume";`)
		assert.Contains(t, dot, `"volume" [shape=box3d];`)
		assert.Contains(t, dot, `"sink" [shape=box];`)
	})

	t.Run("verbose rendering expands slots and fan-out", func(t *testing.T) {
		var out strings.Builder
		require.NoError(t, g.WriteDOT(&out, true))
		dot := out.String()

		assert.Contains(t, dot, `label="bold_names to bold_name"`)
		assert.Contains(t, dot, "fan-out: bold_name, bold_img")
	})
}
