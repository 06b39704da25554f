package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tabsplit/internal/anomaly"
	"tabsplit/internal/config"
	"tabsplit/internal/splitter"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func read(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}

func TestRun_EndToEnd(t *testing.T) {
	t.Parallel()

	// Arrange: sentences give each id a language; links route by pair.
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	write(t, filepath.Join(dir, "sentences.csv"), "1\teng\tHi.\n2\tfra\tSalut.\n3\tdeu\tHallo\nWelt\n")
	write(t, filepath.Join(dir, "links.csv"), "1\t2\n2\t1\n1\t3\n1\t99\nbroken\trow\there\n")

	job := config.Job{
		Job:        "test",
		OutputDir:  out,
		AnomalyLog: filepath.Join(dir, "logs", "anomalies.csv"),
		Tables: []config.Table{
			{
				Path:    filepath.Join(dir, "sentences.csv"),
				TextCol: &[]int{2}[0],
				Columns: []int{1},
			},
			{
				Path:    filepath.Join(dir, "links.csv"),
				Columns: []int{0, 1},
				IntKey:  true,
				Index: &config.Index{
					Kind:    "table",
					Options: config.Options{"path": filepath.Join(dir, "sentences.csv"), "text_col": -1},
				},
			},
			{Path: filepath.Join(dir, "tags.csv"), Columns: []int{1}},
		},
	}.WithDefaults()

	// Act
	sums, err := run(context.Background(), job, runOptions{Logger: log.New(io.Discard, "", 0)})

	// Assert
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sums) != 3 {
		t.Fatalf("got %d summaries, want 3", len(sums))
	}
	if !sums[2].Missing {
		t.Fatalf("tags summary = %+v, want Missing", sums[2])
	}

	wantFiles := map[string]string{
		"eng_sentences.tsv": "1\teng\tHi.\n",
		"fra_sentences.tsv": "2\tfra\tSalut.\n",
		"deu_sentences.tsv": "3\tdeu\tHallo Welt\n",
		"eng-fra_links.tsv": "1\t2\n",
		"fra-eng_links.tsv": "2\t1\n",
		"eng-deu_links.tsv": "1\t3\n",
	}
	for name, want := range wantFiles {
		if got := read(t, filepath.Join(out, name)); got != want {
			t.Fatalf("%s = %q, want %q", name, got, want)
		}
	}
	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != len(wantFiles) {
		t.Fatalf("got %d outputs, want %d", len(entries), len(wantFiles))
	}

	alog := read(t, job.AnomalyLog)
	if !strings.HasPrefix(alog, strings.Join(anomaly.Header, ",")+"\n") {
		t.Fatalf("anomaly log header missing: %q", alog)
	}
	if !strings.Contains(alog, "malformed_row,links,5,") {
		t.Fatalf("anomaly log = %q", alog)
	}
}

func TestRun_BadIndexDoesNotStopOtherTables(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write(t, filepath.Join(dir, "a.csv"), "x\ty\n")
	job := config.Job{
		Job: "test",
		Tables: []config.Table{
			{Path: filepath.Join(dir, "b.csv"), Columns: []int{0}, Index: &config.Index{Kind: "nope"}},
			{Path: filepath.Join(dir, "a.csv"), Columns: []int{0}},
		},
	}.WithDefaults()

	sums, err := run(context.Background(), job, runOptions{Logger: log.New(io.Discard, "", 0)})
	if err == nil || !strings.Contains(err.Error(), "table b") {
		t.Fatalf("run error = %v, want table b failure", err)
	}
	if len(sums) != 1 || sums[0].Routed != 1 {
		t.Fatalf("summaries = %+v", sums)
	}
	if got := read(t, filepath.Join(dir, "x_a.tsv")); got != "x\ty\n" {
		t.Fatalf("x_a.tsv = %q", got)
	}
}

func TestRun_Canceled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write(t, filepath.Join(dir, "a.csv"), "x\ty\n")
	job := config.Job{Job: "test", Tables: []config.Table{{Path: filepath.Join(dir, "a.csv"), Columns: []int{0}}}}.WithDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := run(ctx, job, runOptions{Logger: log.New(io.Discard, "", 0)})
	if err == nil {
		t.Fatalf("run on canceled context: expected error")
	}
	if _, statErr := os.Stat(filepath.Join(dir, "x_a.tsv")); statErr == nil {
		t.Fatalf("canceled run must not finalize outputs")
	}
}

func TestPrintSummary(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printSummary(&buf, splitter.Summary{Table: "tags", Source: "tags.csv", Missing: true})
	if got := buf.String(); got != "tags: source tags.csv missing, nothing split\n" {
		t.Fatalf("missing summary = %q", got)
	}

	buf.Reset()
	printSummary(&buf, splitter.Summary{
		RunID:     "r1",
		Table:     "links",
		Read:      4,
		Routed:    3,
		Skipped:   1,
		BytesRead: 2048,
		Anomalies: anomaly.Counts{anomaly.MalformedRow: 2},
	})
	want := "links: read=4 routed=3 skipped=1 anomalies=2 outputs=0 bytes=2.0 kB in 0s (run r1)\n"
	if got := buf.String(); got != want {
		t.Fatalf("summary = %q, want %q", got, want)
	}
}
