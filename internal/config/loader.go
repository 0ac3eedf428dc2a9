package config

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"

	"github.com/hcpipe/hcprep/internal/ctxlog"
	"github.com/hcpipe/hcprep/internal/fsutil"
)

// Load parses a single HCL config file into a Document. Each top-level
// block becomes a section; block attributes become option values, decoded
// generically (strings, numbers, bools, lists, nested maps).
func Load(ctx context.Context, path string) (*Document, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading config file.", "path", path)

	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, diags)
	}

	body, ok := hclFile.Body.(*hclsyntax.Body)
	if !ok {
		return nil, fmt.Errorf("unexpected body type in config file %s", path)
	}

	doc := NewDocument()
	for _, block := range body.Blocks {
		if len(block.Labels) > 0 {
			logger.Warn("Ignoring labels on config section.", "section", block.Type, "labels", block.Labels)
		}

		sec := doc.Section(block.Type)
		if sec == nil {
			sec = make(Section)
		}

		// Attribute maps are unordered; iterate sorted for stable decode errors.
		names := make([]string, 0, len(block.Body.Attributes))
		for name := range block.Body.Attributes {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			attr := block.Body.Attributes[name]
			val, valDiags := attr.Expr.Value(nil)
			if valDiags.HasErrors() {
				return nil, fmt.Errorf("failed to evaluate %s.%s in %s: %w", block.Type, name, path, valDiags)
			}
			native, err := ctyToNative(val)
			if err != nil {
				return nil, fmt.Errorf("failed to decode %s.%s in %s: %w", block.Type, name, path, err)
			}
			sec[name] = native
		}
		doc.SetSection(block.Type, sec)
	}

	if len(body.Attributes) > 0 {
		logger.Warn("Ignoring top-level attributes outside any section.", "path", path, "count", len(body.Attributes))
	}

	logger.Debug("Config file loaded.", "path", path, "sections", len(doc.Sections()))
	return doc, nil
}

// Find locates the config file to use when none was given explicitly: the
// sole *.hcl file in dir. With more than one candidate the first (sorted by
// name) wins, with a warning.
func Find(ctx context.Context, dir string) (string, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := fsutil.ListFilesByExtension(dir, ".hcl")
	if err != nil {
		return "", fmt.Errorf("error scanning %s for config files: %w", dir, err)
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no config file (*.hcl) found in %s; run 'hcprep init' to create one", dir)
	}
	if len(files) > 1 {
		logger.Warn("Multiple config files found; using the first.", "dir", dir, "using", files[0], "candidates", len(files))
	}
	return files[0], nil
}
