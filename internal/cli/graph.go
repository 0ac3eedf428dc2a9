package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/hcpipe/hcprep/internal/ctxlog"
)

// graphFileName is the rendered topology file written into the output
// directory.
const graphFileName = "pipeline_graph.dot"

func newGraphCmd(opts *options) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Render the pipeline topology without executing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if err := renderGraph(cmd, opts); err != nil {
				return err
			}
			if !watch {
				return nil
			}

			// Watch mode: re-apply the config and re-render on every
			// change. Rewiring is idempotent, so each pass rebuilds the
			// identical topology with fresh bindings.
			path, err := opts.resolveConfigPath(ctx)
			if err != nil {
				return err
			}
			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("cannot watch config file: %w", err)
			}
			defer watcher.Close()
			if err := watcher.Add(filepath.Dir(path)); err != nil {
				return fmt.Errorf("cannot watch config file: %w", err)
			}

			logger := ctxlog.FromContext(ctx)
			logger.Info("Watching config for changes.", "path", path)
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if filepath.Clean(ev.Name) != filepath.Clean(path) {
						continue
					}
					if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
						continue
					}
					if err := renderGraph(cmd, opts); err != nil {
						logger.Error("Config change produced an invalid graph.", "error", err)
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					logger.Error("Config watcher error.", "error", err)
				}
			}
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "re-render the graph whenever the config file changes")
	return cmd
}

// renderGraph composes the pipeline from the current config and writes the
// DOT rendering into the output directory.
func renderGraph(cmd *cobra.Command, opts *options) error {
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
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	path := filepath.Join(outDir, graphFileName)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot write graph file: %w", err)
	}
	defer f.Close()

	if err := g.WriteDOT(f, opts.verbose); err != nil {
		return err
	}
	logger.Info("Pipeline graph written.", "path", path, "stages", len(g.Stages), "edges", len(g.Edges))
	return nil
}
