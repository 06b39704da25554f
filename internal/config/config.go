// Package config defines the JSON/YAML-serializable model of a split job.
//
// A job names one or more table files and, for each one, the columns whose
// values decide which output file a record lands in. Example (trimmed):
//
//	{
//	  "job": "tatoeba",
//	  "buffer": { "max_bytes": 1048576 },
//	  "tables": [
//	    {
//	      "path": "data/links.csv",
//	      "columns": [0, 1],
//	      "int_key": true,
//	      "index": { "kind": "table", "options": { "path": "data/sentences.csv", "key_col": 0, "value_col": 1 } }
//	    }
//	  ]
//	}
package config

import (
	"encoding/json"
	"path/filepath"
	"strings"
)

// Defaults applied by Job.WithDefaults.
const (
	DefaultMaxBytes         int64 = 1 << 20
	DefaultFinalizeAttempts       = 3
	DefaultDelimiter              = "\t"
)

// Job is the top-level object decoded from a job file.
type Job struct {
	// Job names the run for metrics and logs.
	Job string `json:"job" yaml:"job"`

	// OutputDir receives the split files. Empty means the directory of each
	// source file.
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	// AnomalyLog, when set, is a CSV file recording every anomaly.
	AnomalyLog string `json:"anomaly_log" yaml:"anomaly_log"`

	Buffer Buffer  `json:"buffer" yaml:"buffer"`
	Tables []Table `json:"tables" yaml:"tables"`
}

// Buffer tunes the multiplexed output buffer.
type Buffer struct {
	// MaxBytes is the per-destination flush threshold.
	MaxBytes int64 `json:"max_bytes" yaml:"max_bytes"`
	// Sync fsyncs each in-progress file after every flush.
	Sync bool `json:"sync" yaml:"sync"`
	// FinalizeAttempts bounds flush attempts per destination in Finalize.
	FinalizeAttempts int `json:"finalize_attempts" yaml:"finalize_attempts"`
}

// Table describes one source file to split.
type Table struct {
	// Name labels the table in logs; defaults to the file stem.
	Name string `json:"name" yaml:"name"`
	// Path is the local path of the source file.
	Path string `json:"path" yaml:"path"`
	// Delimiter is a single character; defaults to a tab.
	Delimiter string `json:"delimiter" yaml:"delimiter"`
	// TextCol is the field allowed to contain delimiters and newlines.
	TextCol *int `json:"text_col" yaml:"text_col"`
	// Columns are the mapped column indices that form the destination key.
	Columns []int `json:"columns" yaml:"columns"`
	// IntKey coerces raw values to integers before the index lookup.
	IntKey bool `json:"int_key" yaml:"int_key"`
	// Index resolves raw values; nil routes on the raw values themselves.
	Index *Index `json:"index" yaml:"index"`
	// Parser carries reader options: strip_bom (bool), replace_invalid_utf8 (bool).
	Parser Options `json:"parser" yaml:"parser"`
}

// Index selects a lookup loader and its options.
type Index struct {
	Kind    string  `json:"kind" yaml:"kind"`
	Options Options `json:"options" yaml:"options"`
}

// Label returns the table name, falling back to the source file stem.
func (t Table) Label() string {
	if t.Name != "" {
		return t.Name
	}
	base := filepath.Base(t.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// DelimiterRune returns the first rune of Delimiter, or a tab.
func (t Table) DelimiterRune() rune {
	d := t.Delimiter
	if d == "" {
		d = DefaultDelimiter
	}
	return []rune(d)[0]
}

// WithDefaults returns a copy of j with zero values replaced by defaults.
func (j Job) WithDefaults() Job {
	if j.Buffer.MaxBytes <= 0 {
		j.Buffer.MaxBytes = DefaultMaxBytes
	}
	if j.Buffer.FinalizeAttempts <= 0 {
		j.Buffer.FinalizeAttempts = DefaultFinalizeAttempts
	}
	tables := make([]Table, len(j.Tables))
	for i, t := range j.Tables {
		if t.Delimiter == "" {
			t.Delimiter = DefaultDelimiter
		}
		if t.Parser == nil {
			t.Parser = Options{}
		}
		tables[i] = t
	}
	j.Tables = tables
	return j
}

// Options is a small helper to fetch typed values from arbitrary JSON or YAML
// maps. It performs only minimal type coercion and returns the provided
// default when a key is absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def if key is missing or not a string.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def if key is missing or not a bool.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. encoding/json decodes numbers as
// float64 and yaml.v3 as int, so both are accepted.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		case int64:
			return int(n)
		}
	}
	return def
}

// IntPtr is like Int but reports a missing or non-numeric value as nil, for
// optional indices.
func (o Options) IntPtr(key string) *int {
	var n int
	switch v := o[key].(type) {
	case float64:
		n = int(v)
	case int:
		n = v
	case int64:
		n = int(v)
	default:
		return nil
	}
	return &n
}

// Rune returns the first rune of a string value for key, or def if key is
// missing or empty.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok && len(s) > 0 {
			return []rune(s)[0]
		}
	}
	return def
}

// UnmarshalJSON implements json.Unmarshaler so that a null "options" object
// decodes to a non-nil, empty Options map.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
