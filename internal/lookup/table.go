package lookup

import (
	"context"
	"fmt"
	"log"

	"tabsplit/internal/config"
	"tabsplit/internal/datasource/file"
	"tabsplit/internal/parser/tsv"
)

// TableOptions selects the key and value columns of a lookup table file.
type TableOptions struct {
	Delimiter rune
	TextCol   *int
	KeyCol    int
	ValueCol  int
	IntKey    bool
}

// ctxCheckEvery is how many records are read between context checks.
const ctxCheckEvery = 4096

// FromTable builds a Map from a delimited table file, read through the same
// repairing reader the splitter uses. Rows too short to carry both columns,
// and rows whose key is not an integer when IntKey is set, are skipped and
// counted in a single log line.
func FromTable(ctx context.Context, path string, opt TableOptions) (Map, error) {
	r, err := tsv.Open(ctx, file.NewLocal(path), tsv.Options{
		Delimiter: opt.Delimiter,
		TextCol:   opt.TextCol,
		StripBOM:  true,
	})
	if err != nil {
		return nil, err
	}
	defer r.Close()

	m := Map{}
	var n, skipped int
	for r.Next() {
		n++
		if n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec := r.Record()
		if opt.KeyCol >= len(rec) || opt.ValueCol >= len(rec) {
			skipped++
			continue
		}
		if err := m.Put(rec[opt.KeyCol], rec[opt.ValueCol], opt.IntKey); err != nil {
			skipped++
			continue
		}
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	skipped += r.Malformed()
	if skipped > 0 {
		log.Printf("lookup: skipped rows path=%s skipped=%d kept=%d", path, skipped, len(m))
	}
	return m, nil
}

func init() {
	Register("table", func(ctx context.Context, opts config.Options) (Map, error) {
		path := opts.String("path", "")
		if path == "" {
			return nil, fmt.Errorf("table index: path is required")
		}
		keyCol, valueCol := opts.Int("key_col", 0), opts.Int("value_col", 1)
		if keyCol < 0 || valueCol < 0 {
			return nil, fmt.Errorf("table index: key_col and value_col must be >= 0")
		}
		return FromTable(ctx, path, TableOptions{
			Delimiter: opts.Rune("delimiter", tsv.DefaultDelimiter),
			TextCol:   opts.IntPtr("text_col"),
			KeyCol:    keyCol,
			ValueCol:  valueCol,
			IntKey:    opts.Bool("int_key", false),
		})
	})
}
