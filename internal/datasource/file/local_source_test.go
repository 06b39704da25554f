package file

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeTable drops a Tatoeba-style table file into dir and returns its path.
func writeTable(t testing.TB, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLocal_OpenStreamsTable(t *testing.T) {
	t.Parallel()

	const body = "1\t77\n77\t1\n"
	p := writeTable(t, t.TempDir(), "links.csv", body)

	rc, err := NewLocal(p).Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != body {
		t.Fatalf("content = %q, want %q", got, body)
	}
}

// Absent tables are the common case for partial exports; callers skip them
// with a warning instead of failing the run.
func TestLocal_AbsentTableIsMissingSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tests := map[string]struct {
		path      string
		notExist  bool
		mentioned string
	}{
		"no such file": {
			path:      filepath.Join(dir, "sentences_detailed.csv"),
			notExist:  true,
			mentioned: "sentences_detailed.csv",
		},
		"directory in place of file": {
			path:      dir,
			mentioned: "is a directory",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			rc, err := NewLocal(tt.path).Open(context.Background())
			if rc != nil {
				rc.Close()
				t.Fatal("got a reader for an absent table")
			}
			if !errors.Is(err, ErrMissingSource) {
				t.Fatalf("err = %v, want ErrMissingSource", err)
			}
			if errors.Is(err, os.ErrNotExist) != tt.notExist {
				t.Fatalf("errors.Is(err, os.ErrNotExist) = %v, want %v", !tt.notExist, tt.notExist)
			}
			if !strings.Contains(err.Error(), tt.mentioned) {
				t.Fatalf("err %q does not mention %q", err, tt.mentioned)
			}
		})
	}
}

// A finished context wins even over a table that is absent, so shutdown never
// gets reported as a missing source.
func TestLocal_OpenHonorsDoneContext(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	present := writeTable(t, dir, "tags.csv", "1\tfood\n")
	absent := filepath.Join(dir, "user_languages.csv")

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	expired, stop := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer stop()

	for _, path := range []string{present, absent} {
		if _, err := NewLocal(path).Open(canceled); !errors.Is(err, context.Canceled) {
			t.Fatalf("%s: err = %v, want context.Canceled", filepath.Base(path), err)
		}
		_, err := NewLocal(path).Open(expired)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("%s: err = %v, want context.DeadlineExceeded", filepath.Base(path), err)
		}
		if errors.Is(err, ErrMissingSource) {
			t.Fatalf("%s: context error reported as missing source", filepath.Base(path))
		}
	}
}

func TestLocal_Size(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := writeTable(t, dir, "sentences.csv", "1\teng\tHi.\n")

	tests := []struct {
		path string
		want int64
	}{
		{p, 10},
		{filepath.Join(dir, "audio.csv"), 0},
		{dir, 0},
	}
	for _, tt := range tests {
		if got := NewLocal(tt.path).Size(); got != tt.want {
			t.Errorf("Size(%s) = %d, want %d", filepath.Base(tt.path), got, tt.want)
		}
	}
	if got := NewLocal(p).Path(); got != p {
		t.Errorf("Path() = %q, want %q", got, p)
	}
}

func BenchmarkLocal_OpenClose(b *testing.B) {
	p := writeTable(b, b.TempDir(), "links.csv", "1\t77\n")
	src := NewLocal(p)
	ctx := context.Background()

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		rc, err := src.Open(ctx)
		if err != nil {
			b.Fatal(err)
		}
		rc.Close()
	}
}
