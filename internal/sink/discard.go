package sink

import (
	"context"
	"sync/atomic"

	"github.com/JakeFAU/personsearch/internal/crawler"
)

// Discard consumes records without storing them.
type Discard struct {
	rows atomic.Int64
}

// Write counts the record.
func (d *Discard) Write(context.Context, crawler.Record) error {
	d.rows.Add(1)
	return nil
}

// Rows returns the number of records written.
func (d *Discard) Rows() int64 {
	return d.rows.Load()
}

// Close is a no-op.
func (d *Discard) Close() error {
	return nil
}
