package health

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// FileLog keeps one append-only text file per source:
//
//	2025-06-15T05:12:09Z | SUCCESS | 412 records
//	2025-06-16T05:03:44Z | FAILURE | timeout after 4 attempts
type FileLog struct {
	dir string
}

// NewFileLog creates dir if needed and returns a FileLog rooted there.
func NewFileLog(dir string) (*FileLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "health: create log dir %s", dir)
	}
	return &FileLog{dir: dir}, nil
}

func (f *FileLog) path(source string) string {
	return filepath.Join(f.dir, source+".log")
}

// Append writes one line for rec.
func (f *FileLog) Append(_ context.Context, rec Record) error {
	fh, err := os.OpenFile(f.path(rec.Source), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return eris.Wrapf(err, "health: open log for %s", rec.Source)
	}
	if _, err := fh.WriteString(formatLine(rec) + "\n"); err != nil {
		fh.Close() //nolint:errcheck
		return eris.Wrapf(err, "health: write log for %s", rec.Source)
	}
	return eris.Wrapf(fh.Close(), "health: close log for %s", rec.Source)
}

// LastSuccess scans the source's log for its newest success.
func (f *FileLog) LastSuccess(_ context.Context, source string) (*time.Time, error) {
	recs, err := f.read(source)
	if err != nil {
		return nil, err
	}
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Outcome == OutcomeSuccess {
			at := recs[i].At
			return &at, nil
		}
	}
	return nil, nil
}

// History returns up to limit records, newest first. limit <= 0 means all.
func (f *FileLog) History(_ context.Context, source string, limit int) ([]Record, error) {
	recs, err := f.read(source)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		out = append(out, recs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Close is a no-op; files are opened per append.
func (f *FileLog) Close() error { return nil }

func (f *FileLog) read(source string) ([]Record, error) {
	fh, err := os.Open(f.path(source))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "health: open log for %s", source)
	}
	defer fh.Close() //nolint:errcheck

	var recs []Record
	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		rec, ok := parseLine(source, sc.Text())
		if ok {
			recs = append(recs, rec)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "health: read log for %s", source)
	}
	return recs, nil
}

func formatLine(rec Record) string {
	ts := rec.At.UTC().Format(time.RFC3339)
	if rec.Outcome == OutcomeSuccess {
		return fmt.Sprintf("%s | SUCCESS | %d records", ts, rec.Count)
	}
	return fmt.Sprintf("%s | FAILURE | %s", ts, rec.Detail)
}

// parseLine parses one log line; malformed lines are skipped.
func parseLine(source, line string) (Record, bool) {
	parts := strings.SplitN(line, " | ", 3)
	if len(parts) != 3 {
		return Record{}, false
	}
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(parts[0]))
	if err != nil {
		return Record{}, false
	}
	rec := Record{Source: source, At: at}
	switch strings.TrimSpace(parts[1]) {
	case "SUCCESS":
		rec.Outcome = OutcomeSuccess
		n, _ := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(parts[2]), " records"))
		rec.Count = n
	case "FAILURE":
		rec.Outcome = OutcomeFailure
		rec.Detail = strings.TrimSpace(parts[2])
	default:
		return Record{}, false
	}
	return rec, true
}
