package adapter

import (
	"bytes"
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/permit-cli/internal/fetcher"
	"github.com/sells-group/permit-cli/internal/model"
	"github.com/sells-group/permit-cli/internal/resilience"
)

// Document formats understood by the static_document strategy.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	FormatHTML = "html"
)

// Document fetches a single static document (CSV, XLSX or an HTML table)
// over HTTP(S) or FTP.
type Document struct {
	desc    model.SourceDescriptor
	format  string
	fetcher fetcher.Fetcher
	build   builder
	deps    Deps
}

func newDocument(desc model.SourceDescriptor, deps Deps) (*Document, error) {
	if err := requireFields(desc); err != nil {
		return nil, configError(desc, err)
	}
	if deps.Fetcher == nil {
		return nil, configError(desc, errNoFetcher)
	}
	format, err := documentFormat(desc)
	if err != nil {
		return nil, configError(desc, err)
	}
	return &Document{
		desc:    desc,
		format:  format,
		fetcher: deps.Fetcher,
		build:   newBuilder(desc, deps),
		deps:    deps,
	}, nil
}

// documentFormat returns the configured format, or infers it from the
// endpoint's file extension.
func documentFormat(desc model.SourceDescriptor) (string, error) {
	format := strings.ToLower(strings.TrimSpace(desc.Format))
	if format == "" {
		u, err := url.Parse(desc.Endpoint)
		if err != nil {
			return "", eris.Wrap(err, "parse endpoint")
		}
		switch strings.ToLower(path.Ext(u.Path)) {
		case ".csv", ".txt":
			format = FormatCSV
		case ".xlsx":
			format = FormatXLSX
		default:
			format = FormatHTML
		}
	}
	switch format {
	case FormatCSV, FormatXLSX, FormatHTML:
		return format, nil
	}
	return "", eris.Errorf("unknown document format %q", desc.Format)
}

// Fetch downloads the document and maps each row to a record. Rows issued
// before the daysBack window are skipped.
func (d *Document) Fetch(ctx context.Context, maxRecords, daysBack int) ([]model.Record, error) {
	tbl, err := d.table(ctx)
	if err != nil {
		return nil, err
	}

	oldest := cutoff(d.deps.Now(), daysBack)
	var out []model.Record
	for _, row := range tbl.Rows {
		rec := d.build.build(func(ref string) string { return tbl.Cell(row, ref) })
		if rec.IssuedAt.Before(oldest) {
			continue
		}
		out = append(out, rec)
		if maxRecords > 0 && len(out) >= maxRecords {
			break
		}
	}
	return out, nil
}

func (d *Document) table(ctx context.Context) (*fetcher.Table, error) {
	switch d.format {
	case FormatCSV:
		rc, err := d.fetcher.Download(ctx, d.desc.Endpoint)
		if err != nil {
			return nil, err
		}
		defer rc.Close() //nolint:errcheck
		return fetcher.ReadCSVTable(ctx, rc, fetcher.CSVOptions{LazyQuotes: true}, 0)
	case FormatXLSX:
		data, err := d.fetcher.Get(ctx, d.desc.Endpoint, headers(d.desc))
		if err != nil {
			return nil, err
		}
		return fetcher.ReadXLSXTable(data, fetcher.XLSXOptions{}, 0)
	default:
		data, err := d.fetcher.Get(ctx, d.desc.Endpoint, headers(d.desc))
		if err != nil {
			return nil, err
		}
		return HTMLTable(data, d.desc.Selector)
	}
}

// HTMLTable extracts the first table matching selector (default "table").
// The header comes from th cells when present, otherwise from the first row.
func HTMLTable(data []byte, selector string) (*fetcher.Table, error) {
	if selector == "" {
		selector = "table"
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, resilience.NewError(resilience.KindParse, "adapter: parse html", err)
	}
	table := doc.Find(selector).First()
	if table.Length() == 0 {
		return nil, resilience.Errorf(resilience.KindParse, "adapter: parse html", "no element matches %q", selector)
	}

	tbl := &fetcher.Table{}
	table.Find("tr").Each(func(i int, tr *goquery.Selection) {
		ths := tr.Find("th")
		if tbl.Header == nil && ths.Length() > 0 {
			tbl.Header = cellTexts(ths)
			return
		}
		cells := cellTexts(tr.Find("td"))
		if len(cells) == 0 {
			return
		}
		if tbl.Header == nil && i == 0 {
			tbl.Header = cells
			return
		}
		tbl.Rows = append(tbl.Rows, cells)
	})
	return tbl, nil
}

func cellTexts(sel *goquery.Selection) []string {
	out := make([]string, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, strings.Join(strings.Fields(s.Text()), " "))
	})
	return out
}
