package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/personsearch/internal/crawler"
)

type bufferCloser struct {
	bytes.Buffer
	closed   bool
	closeErr error
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return b.closeErr
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("no space left on device") }
func (failingWriter) Close() error              { return nil }

func record(source string, fields map[string]string) crawler.Record {
	return crawler.Record{Source: source, Fields: fields}
}

func TestCSVWritesHeaderAndRows(t *testing.T) {
	t.Parallel()

	buf := &bufferCloser{}
	s, err := NewCSV(buf)
	require.NoError(t, err)

	header := "source,title,full_name,username,link,snippet\n"
	require.Equal(t, header, buf.String())

	require.NoError(t, s.Write(context.Background(), record("People", map[string]string{
		"title":     "Ada",
		"full_name": "Ada Lovelace",
		"link":      "/ada",
		"extra":     "ignored",
	})))
	require.Equal(t, header+"People,Ada,Ada Lovelace,,/ada,\n", buf.String())

	require.NoError(t, s.Write(context.Background(), record("People", map[string]string{
		"snippet": "says \"hi\", twice",
	})))

	require.NoError(t, s.Close())
	require.True(t, buf.closed)
	require.NoError(t, s.Close())
	require.ErrorIs(t, s.Write(context.Background(), record("x", nil)), ErrClosed)

	rows, err := csv.NewReader(bytes.NewReader(buf.Bytes())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, crawler.Columns, rows[0])
	require.Equal(t, `says "hi", twice`, rows[2][5])
}

func TestCSVZeroRowsStillHasHeader(t *testing.T) {
	t.Parallel()

	buf := &bufferCloser{}
	s, err := NewCSV(buf)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.Equal(t, "source,title,full_name,username,link,snippet\n", buf.String())
}

func TestCSVErrors(t *testing.T) {
	t.Parallel()

	_, err := NewCSV(nil)
	require.Error(t, err)

	_, err = NewCSV(failingWriter{})
	require.Error(t, err)

	buf := &bufferCloser{closeErr: errors.New("bad close")}
	s, err := NewCSV(buf)
	require.NoError(t, err)
	require.ErrorContains(t, s.Close(), "bad close")
}

func TestCSVToLocalFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "out", "results.csv")
	dst, err := OpenDestination(context.Background(), path, nil)
	require.NoError(t, err)
	s, err := NewCSV(dst)
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), record("People", map[string]string{"username": "'@ada"})))

	// Rows are flushed before Close.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "People,,,'@ada,,\n")
	require.NoError(t, s.Close())
}
