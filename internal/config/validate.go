// This file adds a lightweight linter/validator for Job values. It performs
// static checks over a decoded Job and returns a list of issues (errors and
// warnings) that callers can surface in a CLI or tests.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a finding that should be surfaced but does not
	// block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding for a Job.
//
// Path is a dotted path into the config (e.g. "tables[1].columns").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// KnownIndexKinds lists the lookup loader kinds shipped with the binary.
var KnownIndexKinds = []string{"mssql", "mysql", "postgres", "sqlite", "table"}

var knownParserOptions = map[string]struct{}{
	"strip_bom":            {},
	"replace_invalid_utf8": {},
}

// HasErrors reports whether any issue has SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidateJob performs static validation / linting of a Job. It does not
// mutate the job.
func ValidateJob(j Job) []Issue {
	var issues []Issue

	if strings.TrimSpace(j.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it is used for metrics labeling and identifying runs",
		})
	}
	issues = append(issues, validateBuffer(j.Buffer)...)

	if len(j.Tables) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "tables",
			Message:  "at least one table is required",
		})
	}

	// Tables sharing an output directory and a stem write the same file names.
	seen := map[string]int{}
	for i, t := range j.Tables {
		issues = append(issues, validateTable(fmt.Sprintf("tables[%d]", i), t)...)
		if t.Path == "" {
			continue
		}
		dir := j.OutputDir
		if dir == "" {
			dir = filepath.Dir(t.Path)
		}
		base := filepath.Base(t.Path)
		key := filepath.Join(filepath.Clean(dir), strings.TrimSuffix(base, filepath.Ext(base)))
		if prev, ok := seen[key]; ok {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     fmt.Sprintf("tables[%d].path", i),
				Message:  fmt.Sprintf("same output stem as tables[%d]; outputs will overwrite each other", prev),
			})
		} else {
			seen[key] = i
		}
	}
	return issues
}

func validateBuffer(b Buffer) []Issue {
	var issues []Issue
	if b.MaxBytes < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "buffer.max_bytes",
			Message:  "must be >= 0 (0 selects the default)",
		})
	}
	if b.FinalizeAttempts < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "buffer.finalize_attempts",
			Message:  "must be >= 0 (0 selects the default)",
		})
	}
	return issues
}

func validateTable(path string, t Table) []Issue {
	var issues []Issue

	if strings.TrimSpace(t.Path) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     path + ".path",
			Message:  "table requires a non-empty path",
		})
	}

	if t.Delimiter != "" {
		if utf8.RuneCountInString(t.Delimiter) != 1 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".delimiter",
				Message:  fmt.Sprintf("delimiter must be a single character, got %q", t.Delimiter),
			})
		} else if t.Delimiter == "\n" || t.Delimiter == "\r" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".delimiter",
				Message:  "delimiter must not be a line terminator",
			})
		}
	}

	if len(t.Columns) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     path + ".columns",
			Message:  "at least one mapped column is required",
		})
	}
	for i, c := range t.Columns {
		if c < 0 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("%s.columns[%d]", path, i),
				Message:  fmt.Sprintf("column index must be >= 0, got %d", c),
			})
		}
	}

	if t.Index == nil {
		if t.IntKey {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     path + ".int_key",
				Message:  "int_key has no effect without an index",
			})
		}
	} else {
		issues = append(issues, validateIndex(path+".index", *t.Index)...)
	}

	for k := range t.Parser {
		if _, ok := knownParserOptions[k]; !ok {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     path + ".parser." + k,
				Message:  "unknown parser option; it will be ignored",
			})
		}
	}
	return issues
}

func validateIndex(path string, ix Index) []Issue {
	var issues []Issue
	if strings.TrimSpace(ix.Kind) == "" {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     path + ".kind",
			Message:  "index.kind must not be empty",
		})
	}

	known := false
	for _, k := range KnownIndexKinds {
		if k == ix.Kind {
			known = true
		}
	}
	if !known {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     path + ".kind",
			Message:  fmt.Sprintf("unknown index kind %q; ensure a matching loader is registered", ix.Kind),
		})
		return issues
	}

	switch ix.Kind {
	case "table":
		if ix.Options.String("path", "") == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".options.path",
				Message:  "table index requires a non-empty path",
			})
		}
	default:
		for _, k := range []string{"dsn", "query"} {
			if ix.Options.String(k, "") == "" {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     path + ".options." + k,
					Message:  fmt.Sprintf("%s index requires a non-empty %s", ix.Kind, k),
				})
			}
		}
	}
	return issues
}
