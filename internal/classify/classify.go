package classify

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/hcpipe/hcprep/internal/ctxlog"
)

// Record is the acquisition metadata for one converted image file, as read
// from the converter's sidecar output.
type Record struct {
	File                   string  `json:"file"`
	SeriesNumber           int     `json:"series_number"`
	SeriesDescription      string  `json:"series_description"`
	PhaseEncodingDirection string  `json:"phase_encoding_direction"` // direction code: RL, LR, AP, PA
	EchoTime               float64 `json:"echo_time"`                // ms
	EchoSpacing            float64 `json:"echo_spacing"`             // ms, echo-planar series only
	SampleSpacing          float64 `json:"sample_spacing"`           // s, structural series only
}

// Partition classifies an unordered collection of files into a Result using
// the given rule table. Files and info must be index-aligned. The returned
// error is an *AlignmentError when the functional-run sequences come out
// misaligned; the partial result is still returned for diagnostics.
func Partition(ctx context.Context, files []string, info []Record, rules Rules) (*Result, error) {
	logger := ctxlog.FromContext(ctx)

	if len(files) != len(info) {
		return nil, fmt.Errorf("classification input mismatch: %d files but %d metadata records", len(files), len(info))
	}

	// Pair and order by series number so run indices are stable regardless
	// of input order.
	records := make([]Record, len(info))
	copy(records, info)
	for i := range records {
		if records[i].File == "" {
			records[i].File = files[i]
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].SeriesNumber < records[j].SeriesNumber
	})

	res := &Result{}
	var boldRecords []Record
	var magTE, phaseTE float64

	for _, rec := range records {
		desc := rec.SeriesDescription
		switch {
		// Single-band references first: their descriptions typically also
		// contain the functional-run substring.
		case matches(desc, rules.SBRef):
			res.SBRefs = append(res.SBRefs, rec.File)
		case matches(desc, rules.Bold):
			res.Bolds = append(res.Bolds, rec.File)
			boldRecords = append(boldRecords, rec)
		case matches(desc, rules.SEFieldmap):
			switch {
			case matches(rec.PhaseEncodingDirection, rules.PolarityPositive):
				res.PosFieldmaps = append(res.PosFieldmaps, rec.File)
			case matches(rec.PhaseEncodingDirection, rules.PolarityNegative):
				res.NegFieldmaps = append(res.NegFieldmaps, rec.File)
			default:
				logger.Warn("Spin-echo fieldmap with unrecognized phase-encoding direction; skipping.",
					"file", rec.File, "direction", rec.PhaseEncodingDirection)
			}
		case matches(desc, rules.FieldmapMag):
			res.MagFieldmap = rec.File
			magTE = rec.EchoTime
		case matches(desc, rules.FieldmapPhase):
			res.PhaseFieldmap = rec.File
			phaseTE = rec.EchoTime
		case matches(desc, rules.T1):
			res.T1Structs = append(res.T1Structs, rec.File)
			if res.T1SampleSpacing == 0 {
				res.T1SampleSpacing = rec.SampleSpacing
			}
		case matches(desc, rules.T2):
			res.T2Structs = append(res.T2Structs, rec.File)
			if res.T2SampleSpacing == 0 {
				res.T2SampleSpacing = rec.SampleSpacing
			}
		default:
			logger.Debug("Series matched no classification rule; skipping.", "file", rec.File, "series", desc)
		}
	}

	if res.MagFieldmap != "" && res.PhaseFieldmap != "" {
		res.FieldmapTE = math.Abs(phaseTE - magTE)
	}

	// Per-run sequences, positionally aligned with Bolds.
	seen := make(map[string]int)
	for _, rec := range boldRecords {
		res.BoldNames = append(res.BoldNames, runName(rec.SeriesDescription, seen))
		res.EPEchoSpacings = append(res.EPEchoSpacings, rec.EchoSpacing)

		dir, ok := unwarpDirs[rec.PhaseEncodingDirection]
		if !ok {
			logger.Warn("Functional run with unrecognized phase-encoding direction.",
				"file", rec.File, "direction", rec.PhaseEncodingDirection)
		}
		res.EPUnwarpDirs = append(res.EPUnwarpDirs, dir)
	}

	// Every run distortion-corrects against the same session fieldmap pair.
	if len(res.PosFieldmaps) > 0 && len(res.NegFieldmaps) > 0 {
		pos, neg := res.PosFieldmaps[len(res.PosFieldmaps)-1], res.NegFieldmaps[len(res.NegFieldmaps)-1]
		res.PosFieldmaps = res.PosFieldmaps[:0]
		res.NegFieldmaps = res.NegFieldmaps[:0]
		for range res.Bolds {
			res.PosFieldmaps = append(res.PosFieldmaps, pos)
			res.NegFieldmaps = append(res.NegFieldmaps, neg)
		}
	}

	if _, err := res.Align(); err != nil {
		return res, err
	}

	logger.Debug("Classification complete.",
		"t1", len(res.T1Structs), "t2", len(res.T2Structs), "bolds", len(res.Bolds))
	return res, nil
}

// runName derives a stable functional-run name from a series description,
// suffixing duplicates so names stay unique.
func runName(description string, seen map[string]int) string {
	name := strings.ToLower(description)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
	name = strings.Trim(name, "_")
	if name == "" {
		name = "bold"
	}

	seen[name]++
	if seen[name] > 1 {
		name = fmt.Sprintf("%s_%d", name, seen[name])
	}
	return name
}
