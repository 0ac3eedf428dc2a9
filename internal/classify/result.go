package classify

import (
	"fmt"
	"sort"
	"strings"
)

// Result holds the partitioned categories. Scalar categories carry at most
// one value; the functional-run categories are ordered sequences aligned
// positionally: element i of Bolds, SBRefs, BoldNames, PosFieldmaps,
// NegFieldmaps, EPEchoSpacings, and EPUnwarpDirs all describe run i. That
// ordering is the contract the fan-out mechanism depends on.
type Result struct {
	T1Structs []string
	T2Structs []string

	MagFieldmap     string
	PhaseFieldmap   string
	FieldmapTE      float64
	T1SampleSpacing float64
	T2SampleSpacing float64

	BoldNames      []string
	Bolds          []string
	SBRefs         []string
	PosFieldmaps   []string
	NegFieldmaps   []string
	EPEchoSpacings []float64
	EPUnwarpDirs   []string
}

// AlignmentError reports fan-out-linked sequences of mismatched length. It
// indicates a data-integrity problem upstream and is distinct from the
// ordinary empty-result case.
type AlignmentError struct {
	Lengths map[string]int
}

func (e *AlignmentError) Error() string {
	keys := make([]string, 0, len(e.Lengths))
	for k := range e.Lengths {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, e.Lengths[k]))
	}
	return "fan-out sequences are misaligned: " + strings.Join(parts, ", ")
}

// Align verifies that every fan-out-linked sequence has the same length and
// returns that length. A mismatch returns an *AlignmentError; it must never
// be silently truncated or zipped with wraparound.
func (r *Result) Align() (int, error) {
	lengths := map[string]int{
		"bold_names":       len(r.BoldNames),
		"bolds":            len(r.Bolds),
		"sb_refs":          len(r.SBRefs),
		"pos_fieldmaps":    len(r.PosFieldmaps),
		"neg_fieldmaps":    len(r.NegFieldmaps),
		"ep_echo_spacings": len(r.EPEchoSpacings),
		"ep_unwarp_dirs":   len(r.EPUnwarpDirs),
	}

	n := len(r.Bolds)
	for _, l := range lengths {
		if l != n {
			return 0, &AlignmentError{Lengths: lengths}
		}
	}
	return n, nil
}
