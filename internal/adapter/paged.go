package adapter

import (
	"context"
	"net/http"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/sells-group/permit-cli/internal/fetcher"
	"github.com/sells-group/permit-cli/internal/model"
)

// PagedAPI fetches records from a paginated JSON API.
type PagedAPI struct {
	desc     model.SourceDescriptor
	dialect  Dialect
	fetcher  fetcher.Fetcher
	header   http.Header
	pageSize int
	build    builder
	deps     Deps
}

func newPaged(desc model.SourceDescriptor, deps Deps) (*PagedAPI, error) {
	dialect, err := DialectFor(desc.Dialect)
	if err != nil {
		return nil, configError(desc, err)
	}
	if err := requireFields(desc); err != nil {
		return nil, configError(desc, err)
	}
	if deps.Fetcher == nil {
		return nil, configError(desc, errNoFetcher)
	}
	pageSize := desc.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &PagedAPI{
		desc:     desc,
		dialect:  dialect,
		fetcher:  deps.Fetcher,
		header:   headers(desc),
		pageSize: pageSize,
		build:    newBuilder(desc, deps),
		deps:     deps,
	}, nil
}

// Fetch pages through the endpoint in pagination order until a short or empty
// page, or until maxRecords records have been collected.
func (p *PagedAPI) Fetch(ctx context.Context, maxRecords, daysBack int) ([]model.Record, error) {
	since := cutoff(p.deps.Now(), daysBack)

	var out []model.Record
	for page := 0; page < maxPages; page++ {
		want := p.pageSize
		if maxRecords > 0 {
			want = min(want, maxRecords-len(out))
		}
		if want <= 0 {
			break
		}

		pageURL, err := p.dialect.PageURL(PageQuery{
			Endpoint:  p.desc.Endpoint,
			Table:     p.desc.Table,
			DateField: p.desc.DateField,
			Since:     since,
			Offset:    page * p.pageSize,
			Limit:     want,
		})
		if err != nil {
			return nil, err
		}

		body, err := p.fetcher.Get(ctx, pageURL, p.header)
		if err != nil {
			return nil, err
		}
		items, err := p.dialect.Items(body)
		if err != nil {
			return nil, err
		}

		zap.L().Debug("adapter: fetched page",
			zap.String("source", p.desc.ID),
			zap.String("dialect", p.dialect.Name()),
			zap.Int("page", page),
			zap.Int("items", len(items)),
		)

		for _, item := range items {
			out = append(out, p.build.build(jsonGetter(item)))
		}
		if len(items) < want {
			break
		}
	}
	return limit(out, maxRecords), nil
}

// jsonGetter resolves gjson paths against one item. Numbers keep their raw
// form so epoch-millisecond dates survive.
func jsonGetter(item gjson.Result) func(string) string {
	return func(path string) string {
		v := item.Get(path)
		if v.Type == gjson.Number {
			return v.Raw
		}
		return v.String()
	}
}
