// Package cli implements the hcprep command surface: init, update, graph,
// and run, plus the shared flags that select the config file, subjects,
// worker count, and output directory.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hcpipe/hcprep/internal/composer"
	"github.com/hcpipe/hcprep/internal/config"
	"github.com/hcpipe/hcprep/internal/ctxlog"
)

// ExitError is an error carrying a specific process exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// options holds the flag values shared by every subcommand.
type options struct {
	configPath string
	subjects   string
	workers    int
	outDir     string
	verbose    bool
}

const longHelp = `hcprep builds and executes the HCP-style preprocessing pipeline: raw
per-subject DICOM series are converted and classified, then driven through
cortical-surface reconstruction, volumetric registration, and surface-based
resampling. The pipeline topology is fixed; everything an individual run
needs comes from a single HCL config file.

Typical session:

  hcprep init              create a default config in the current directory
  (edit the config)
  hcprep graph             render the wired topology without executing
  hcprep run -n 4          execute with four workers`

// New builds the root command. All help and usage output goes to errOut.
func New(errOut io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "hcprep",
		Short:         "HCP-style neuroimaging preprocessing pipeline",
		Long:          longHelp,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(errOut)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "config file to use (default: the *.hcl file in the current directory)")
	pf.StringVarP(&opts.subjects, "subjects", "s", "", "comma-separated subject list; overrides the configuration's")
	pf.IntVarP(&opts.workers, "workers", "n", 1, "number of concurrent workers for fan-out stages")
	pf.StringVarP(&opts.outDir, "out", "o", ".", "directory to put preprocessed data in")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose graph rendering (expand fan-out and edge slots)")

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &ExitError{Code: 2, Message: err.Error()}
	})

	root.AddCommand(newInitCmd(opts))
	root.AddCommand(newUpdateCmd(opts))
	root.AddCommand(newGraphCmd(opts))
	root.AddCommand(newRunCmd(opts))

	return root
}

// Main executes the CLI and maps errors to exit codes: 2 for usage errors,
// 1 for everything else.
func Main(ctx context.Context, args []string) int {
	root := New(os.Stderr)
	root.SetArgs(args)

	if err := root.ExecuteContext(ctx); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			return exitErr.Code
		}
		if strings.HasPrefix(err.Error(), "unknown command") {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// resolveConfigPath returns the explicit config path, or discovers one in
// the current directory.
func (o *options) resolveConfigPath(ctx context.Context) (string, error) {
	if o.configPath != "" {
		return o.configPath, nil
	}
	return config.Find(ctx, ".")
}

// subjectList parses the -s flag into a subject list, or nil.
func (o *options) subjectList() []string {
	if o.subjects == "" {
		return nil
	}
	parts := strings.Split(o.subjects, ",")
	subs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			subs = append(subs, p)
		}
	}
	if len(subs) == 0 {
		return nil
	}
	return subs
}

// compose loads and validates the config, applies it to a fresh composer,
// and returns the composer plus the wired graph.
func (o *options) compose(ctx context.Context) (*composer.Composer, *composer.Graph, error) {
	logger := ctxlog.FromContext(ctx)

	path, err := o.resolveConfigPath(ctx)
	if err != nil {
		return nil, nil, err
	}
	doc, err := config.Load(ctx, path)
	if err != nil {
		return nil, nil, err
	}

	c := composer.New()
	if subs := o.subjectList(); subs != nil {
		logger.Debug("Using caller-supplied subject list.", "subjects", subs)
		c.SetSubjects(subs)
	}
	if err := c.Apply(ctx, doc); err != nil {
		return nil, nil, err
	}

	outDir, err := filepath.Abs(o.outDir)
	if err != nil {
		return nil, nil, err
	}
	c.Stage(composer.StageSink).Set("base_directory", outDir)

	g, err := c.Graph()
	if err != nil {
		return nil, nil, err
	}
	return c, g, nil
}
