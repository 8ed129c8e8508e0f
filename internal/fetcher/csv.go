package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/permit-cli/internal/resilience"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// StreamCSV reads CSV rows and sends them on a channel, header row included.
// Errors are sent on the error channel. Both channels are closed when reading
// completes or ctx is cancelled; callers that stop early must cancel ctx.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		br := bufio.NewReader(r)
		if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
			_, _ = br.Discard(len(utf8BOM))
		}

		reader := csv.NewReader(br)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		reader.Comment = opts.Comment
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1

		for {
			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- resilience.NewError(resilience.KindParse, "fetcher: csv read row", err)
				return
			}
			for i, field := range record {
				record[i] = strings.TrimSpace(field)
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "fetcher: csv cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// ReadCSVTable decodes a CSV document whose first row is the header. At most
// maxRows data rows are kept when maxRows > 0.
func ReadCSVTable(ctx context.Context, r io.Reader, opts CSVOptions, maxRows int) (*Table, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rowCh, errCh := StreamCSV(ctx, r, opts)
	t := &Table{}
	first := true
	for row := range rowCh {
		if first {
			t.Header = row
			first = false
			continue
		}
		if isBlankRow(row) {
			continue
		}
		t.Rows = append(t.Rows, row)
		if maxRows > 0 && len(t.Rows) >= maxRows {
			cancel()
			// Drain so the reader goroutine exits.
			for range rowCh {
			}
			return t, nil
		}
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	if first {
		return nil, resilience.Errorf(resilience.KindParse, "fetcher: csv", "document has no header row")
	}
	return t, nil
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}
	return true
}
