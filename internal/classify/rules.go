// Package classify partitions converted image files, paired with their
// acquisition metadata, into the semantic categories the pipeline consumes:
// structural T1/T2, gradient-echo fieldmap magnitude/phase, spin-echo
// fieldmaps split by polarity, and functional runs with their single-band
// references. Matching rules are data, not code, so a site can adjust them
// in the config file.
package classify

import (
	"slices"
	"strings"

	"github.com/hcpipe/hcprep/internal/config"
)

// Rules is the classification rule table. Each category lists the series
// description substrings that select it; polarity lists map phase-encoding
// direction codes onto spin-echo fieldmap polarity.
type Rules struct {
	T1            []string
	T2            []string
	Bold          []string
	SBRef         []string
	FieldmapMag   []string
	FieldmapPhase []string
	SEFieldmap    []string

	// Direction-to-polarity guesses carried over from the original
	// protocol notes (positive: RL, AP; negative: LR, PA). Provisional:
	// sites are expected to flip these per scanner if needed.
	PolarityPositive []string
	PolarityNegative []string
}

// DefaultRules returns the built-in rule table.
func DefaultRules() Rules {
	return Rules{
		T1:               []string{"T1w"},
		T2:               []string{"T2w"},
		Bold:             []string{"BOLD", "fMRI"},
		SBRef:            []string{"SBRef"},
		FieldmapMag:      []string{"FieldMap_Magnitude"},
		FieldmapPhase:    []string{"FieldMap_Phase"},
		SEFieldmap:       []string{"SpinEchoFieldMap"},
		PolarityPositive: []string{"RL", "AP"},
		PolarityNegative: []string{"LR", "PA"},
	}
}

// RulesFromOverrides merges a series override map (the config's series
// section, or a stage's series_map parameter) over the defaults. An option
// present in the map replaces the default list wholesale; absent options
// keep their defaults.
func RulesFromOverrides(overrides map[string]any) Rules {
	r := DefaultRules()
	if overrides == nil {
		return r
	}
	apply := func(key string, dst *[]string) {
		if v, ok := overrides[key]; ok {
			if list := config.Strings(v); list != nil {
				*dst = list
			}
		}
	}
	apply("t1", &r.T1)
	apply("t2", &r.T2)
	apply("bold", &r.Bold)
	apply("sb_ref", &r.SBRef)
	apply("fieldmap_magnitude", &r.FieldmapMag)
	apply("fieldmap_phase", &r.FieldmapPhase)
	apply("se_fieldmap", &r.SEFieldmap)
	apply("polarity_positive", &r.PolarityPositive)
	apply("polarity_negative", &r.PolarityNegative)
	return r
}

// matches reports whether a series description matches any of the given
// substrings.
func matches(description string, substrings []string) bool {
	return slices.ContainsFunc(substrings, func(sub string) bool {
		return sub != "" && strings.Contains(description, sub)
	})
}

// unwarpDirs maps phase-encoding direction codes to FSL unwarp directions.
var unwarpDirs = map[string]string{
	"RL": "x",
	"LR": "x-",
	"AP": "y",
	"PA": "y-",
}
