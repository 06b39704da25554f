// Package datasource defines how raw table files are obtained. Retrieval from
// remote archives lives elsewhere; the splitter only needs an opener.
package datasource

import (
	"context"
	"io"
)

// Source opens a raw line stream for one table file.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Sizer is implemented by sources that know their byte size up front. The
// splitter uses it as the progress total.
type Sizer interface {
	Size() int64
}
