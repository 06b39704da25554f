package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override job file values.
const (
	EnvOutputDir      = "TABSPLIT_OUTPUT_DIR"
	EnvBufferMaxBytes = "TABSPLIT_BUFFER_MAX_BYTES"
	EnvAnomalyLog     = "TABSPLIT_ANOMALY_LOG"
)

// Load reads a job file. Files ending in .yaml or .yml are decoded as YAML,
// anything else as JSON. Unknown JSON fields are rejected so typos surface.
func Load(path string) (Job, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Job{}, fmt.Errorf("read config: %w", err)
	}
	var j Job
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &j); err != nil {
			return Job{}, fmt.Errorf("decode yaml config %s: %w", path, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&j); err != nil {
			return Job{}, fmt.Errorf("decode json config %s: %w", path, err)
		}
	}
	return j, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none is
// given) into the process environment. Missing files are skipped; variables
// already set are not overridden.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv returns j with environment overrides applied (12-factor style).
// getenv is usually os.Getenv.
func ApplyEnv(j Job, getenv func(string) string) (Job, error) {
	if v := getenv(EnvOutputDir); v != "" {
		j.OutputDir = v
	}
	if v := getenv(EnvAnomalyLog); v != "" {
		j.AnomalyLog = v
	}
	if v := getenv(EnvBufferMaxBytes); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return j, fmt.Errorf("%s=%q: want a positive integer", EnvBufferMaxBytes, v)
		}
		j.Buffer.MaxBytes = n
	}
	return j, nil
}
