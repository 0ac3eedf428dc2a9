package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hcpipe/hcprep/internal/ctxlog"
	"github.com/hcpipe/hcprep/internal/engine"
)

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute the pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := ctxlog.FromContext(ctx)

			_, g, err := opts.compose(ctx)
			if err != nil {
				return err
			}

			outDir, err := filepath.Abs(opts.outDir)
			if err != nil {
				return err
			}

			eng := engine.NewLocal()
			events, err := eng.Run(ctx, g, engine.Options{
				Workers: opts.workers,
				OutDir:  outDir,
			})
			if err != nil {
				return err
			}

			failures := 0
			for ev := range events {
				l := logger.With("subject", ev.Subject, "stage", ev.Stage)
				if ev.Copy >= 0 {
					l = l.With("copy", ev.Copy)
				}
				if ev.Err != nil {
					failures++
					l.Error("Stage failed.", "error", ev.Err)
				} else {
					l.Info("Stage completed.")
				}
			}

			if failures > 0 {
				return fmt.Errorf("pipeline finished with %d failed stage(s)", failures)
			}
			logger.Info("Pipeline finished.", "out", outDir)
			return nil
		},
	}
}
