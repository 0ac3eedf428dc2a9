// Package config models the hierarchical pipeline configuration document:
// named sections, each holding option/value pairs. Documents are loaded from
// HCL files, validated for the pipeline's minimum requirements, and then
// treated as a read-only view by everything downstream.
package config

import (
	"fmt"
	"strings"
)

// Section is one named group of configuration options.
type Section map[string]any

// Document is an ordered collection of sections. Section and option names
// are case-sensitive. A missing section or option is a valid "no override"
// state, never an error.
type Document struct {
	order    []string
	sections map[string]Section
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{sections: make(map[string]Section)}
}

// SetSection installs a section, replacing any previous content under the
// same name. Used by the loader; callers should treat documents as read-only.
func (d *Document) SetSection(name string, sec Section) {
	if _, ok := d.sections[name]; !ok {
		d.order = append(d.order, name)
	}
	d.sections[name] = sec
}

// Sections returns the section names in document order.
func (d *Document) Sections() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Section returns the named section, or nil if it is absent.
func (d *Document) Section(name string) Section {
	if d == nil {
		return nil
	}
	return d.sections[name]
}

// Get returns the value of an option, or nil if the section or option is
// absent.
func (d *Document) Get(section, option string) any {
	sec := d.Section(section)
	if sec == nil {
		return nil
	}
	return sec[option]
}

// GetString returns an option as a string, or "" if absent or not a string.
func (d *Document) GetString(section, option string) string {
	s, _ := d.Get(section, option).(string)
	return s
}

// GetStrings returns an option as a string slice. List options decode as
// []any; non-list and absent options yield nil.
func (d *Document) GetStrings(section, option string) []string {
	return Strings(d.Get(section, option))
}

// Strings coerces a decoded config value into a string slice. Returns nil
// for anything that is not a list of strings.
func Strings(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil
		}
		out = append(out, s)
	}
	return out
}

// ValidationError reports a document that fails the minimum-requirements
// check. It is fatal: callers must not build a graph from such a document.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration is missing required options: %s", strings.Join(e.Missing, ", "))
}

// Validate checks that the document carries the minimum a pipeline run
// needs: a subject list or a subject directory template, the per-subject
// DICOM discovery template, and the pipeline tools root. It returns a
// *ValidationError naming everything that is missing, or nil.
func (d *Document) Validate() error {
	var missing []string

	if d.Section("general") == nil {
		missing = append(missing, "general")
	} else {
		if len(d.GetStrings("general", "subjects")) == 0 && d.GetString("general", "subject_dir") == "" {
			missing = append(missing, "general.subjects or general.subject_dir")
		}
		if d.GetString("general", "dicom_template") == "" {
			missing = append(missing, "general.dicom_template")
		}
		if d.GetString("general", "hcp_dir") == "" {
			missing = append(missing, "general.hcp_dir")
		}
	}

	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}
