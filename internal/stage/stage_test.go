package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStage() *Stage {
	return New("volume", Config{
		Inputs:  []string{"subject", "bold_name", "bold_img"},
		Outputs: []string{"subject", "bold_name"},
		Params: []Param{
			{Name: "full_command", Default: ""},
			{Name: "fmri_res", Default: "2"},
		},
		FanOut: []string{"bold_name", "bold_img"},
	})
}

func TestNew(t *testing.T) {
	t.Run("declarations are fixed at construction", func(t *testing.T) {
		s := newTestStage()
		assert.Equal(t, "volume", s.Name())
		assert.Equal(t, []string{"subject", "bold_name", "bold_img"}, s.Inputs())
		assert.Equal(t, []string{"subject", "bold_name"}, s.Outputs())
		assert.True(t, s.HasInput("bold_img"))
		assert.False(t, s.HasInput("bolts"))
		assert.True(t, s.HasOutput("subject"))
		assert.False(t, s.HasOutput("bold_img"))
	})

	t.Run("params start at their defaults", func(t *testing.T) {
		s := newTestStage()
		assert.Equal(t, "", s.Get("full_command"))
		assert.Equal(t, "2", s.Get("fmri_res"))
	})

	t.Run("panics on a fan-out key that is not an input", func(t *testing.T) {
		assert.Panics(t, func() {
			New("bad", Config{
				Inputs: []string{"subject"},
				FanOut: []string{"bold_name"},
			})
		})
	})
}

func TestSet(t *testing.T) {
	s := newTestStage()

	require.NoError(t, s.Set("full_command", "/opt/tool.sh"))
	assert.Equal(t, "/opt/tool.sh", s.Get("full_command"))

	err := s.Set("not_a_param", 1)
	assert.ErrorContains(t, err, `no parameter "not_a_param"`)
	assert.Nil(t, s.Get("not_a_param"))
}

func TestApplyOverrides(t *testing.T) {
	ctx := context.Background()

	t.Run("known keys land, unknown keys are dropped", func(t *testing.T) {
		s := newTestStage()
		s.ApplyOverrides(ctx, map[string]any{
			"fmri_res": "2.5",
			"unknown":  "x",
		})
		assert.Equal(t, "2.5", s.Get("fmri_res"))
		assert.Nil(t, s.Get("unknown"))
	})

	t.Run("skipped keys stay untouched", func(t *testing.T) {
		s := newTestStage()
		s.ApplyOverrides(ctx, map[string]any{
			"fmri_res":     "2.5",
			"full_command": "/evil.sh",
		}, "full_command")
		assert.Equal(t, "2.5", s.Get("fmri_res"))
		assert.Equal(t, "", s.Get("full_command"))
	})

	t.Run("nil map is a no-op", func(t *testing.T) {
		s := newTestStage()
		before := s.SnapshotParams()
		s.ApplyOverrides(ctx, nil)
		assert.Equal(t, before, s.SnapshotParams())
	})
}

func TestResetParams(t *testing.T) {
	s := newTestStage()
	require.NoError(t, s.Set("fmri_res", "3"))
	require.NoError(t, s.Set("full_command", "/opt/tool.sh"))

	s.ResetParams()

	assert.Equal(t, "2", s.Get("fmri_res"))
	assert.Equal(t, "", s.Get("full_command"))
}

func TestSnapshotParams(t *testing.T) {
	s := newTestStage()
	snap := s.SnapshotParams()

	// Mutating the stage afterwards must not leak into the snapshot.
	require.NoError(t, s.Set("fmri_res", "3"))
	assert.Equal(t, "2", snap["fmri_res"])
}

func TestFanOut(t *testing.T) {
	s := newTestStage()

	t.Run("inactive until marked", func(t *testing.T) {
		assert.Nil(t, s.FanOut())
		assert.Equal(t, []string{"bold_name", "bold_img"}, s.FanOutKeys())
	})

	t.Run("mark and clear toggle the active set", func(t *testing.T) {
		s.MarkFanOut()
		assert.Equal(t, []string{"bold_name", "bold_img"}, s.FanOut())

		s.ClearFanOut()
		assert.Nil(t, s.FanOut())
	})

	t.Run("marking a stage with no declaration stays inactive", func(t *testing.T) {
		plain := New("sink", Config{Inputs: []string{"preprocessed"}})
		plain.MarkFanOut()
		assert.Nil(t, plain.FanOut())
	})
}
