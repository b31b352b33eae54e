package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/JakeFAU/personsearch/internal/crawler"
)

// CSV writes a header row on creation and flushes after every record so a
// partially completed run leaves usable output.
type CSV struct {
	mu     sync.Mutex
	dst    io.WriteCloser
	w      *csv.Writer
	closed bool
}

// NewCSV writes the header to dst and returns the sink. The sink owns dst.
func NewCSV(dst io.WriteCloser) (*CSV, error) {
	if dst == nil {
		return nil, errors.New("csv destination is required")
	}
	s := &CSV{dst: dst, w: csv.NewWriter(dst)}
	if err := s.writeRow(crawler.Columns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return s, nil
}

// Write appends one row.
func (s *CSV) Write(_ context.Context, rec crawler.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.writeRow(rec.Row()); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	return nil
}

func (s *CSV) writeRow(row []string) error {
	if err := s.w.Write(row); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

// Close flushes and closes the destination.
func (s *CSV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.w.Flush()
	flushErr := s.w.Error()
	if err := s.dst.Close(); err != nil {
		return fmt.Errorf("close csv destination: %w", err)
	}
	if flushErr != nil {
		return fmt.Errorf("flush csv: %w", flushErr)
	}
	return nil
}
