package adapter

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/permit-cli/internal/resilience"
)

// PageQuery describes one page request.
type PageQuery struct {
	Endpoint  string
	Table     string
	DateField string
	Since     time.Time
	Offset    int
	Limit     int
}

// Dialect speaks one paged JSON API flavor.
type Dialect interface {
	Name() string
	PageURL(q PageQuery) (string, error)
	// Items extracts the page's records. An empty slice signals the end of data.
	Items(body []byte) ([]gjson.Result, error)
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "socrata", "":
		return socrata{}, nil
	case "arcgis":
		return arcgis{}, nil
	case "carto":
		return carto{}, nil
	}
	return nil, eris.Errorf("unknown dialect %q", name)
}

func withQuery(endpoint string, params url.Values) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", resilience.NewError(resilience.KindPermanent, "adapter: parse endpoint", err)
	}
	q := u.Query()
	for k, vals := range params {
		q[k] = vals
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func parseJSON(op string, body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, resilience.Errorf(resilience.KindParse, op, "invalid JSON (%d bytes)", len(body))
	}
	return gjson.ParseBytes(body), nil
}

// socrata speaks the SODA API: $limit/$offset paging with SoQL filters.
type socrata struct{}

func (socrata) Name() string { return "socrata" }

func (socrata) PageURL(q PageQuery) (string, error) {
	params := url.Values{
		"$limit":  {strconv.Itoa(q.Limit)},
		"$offset": {strconv.Itoa(q.Offset)},
	}
	if q.DateField != "" {
		params.Set("$order", q.DateField+" DESC")
		if !q.Since.IsZero() {
			params.Set("$where", fmt.Sprintf("%s >= '%s'", q.DateField, q.Since.Format("2006-01-02T15:04:05")))
		}
	}
	return withQuery(q.Endpoint, params)
}

func (socrata) Items(body []byte) ([]gjson.Result, error) {
	doc, err := parseJSON("socrata: decode page", body)
	if err != nil {
		return nil, err
	}
	if !doc.IsArray() {
		if msg := doc.Get("message"); msg.Exists() {
			return nil, resilience.Errorf(resilience.KindPermanent, "socrata: query", "%s", msg.String())
		}
		return nil, resilience.Errorf(resilience.KindParse, "socrata: decode page", "expected a JSON array")
	}
	return doc.Array(), nil
}

// arcgis speaks the ArcGIS REST feature-layer query API.
type arcgis struct{}

func (arcgis) Name() string { return "arcgis" }

func (arcgis) PageURL(q PageQuery) (string, error) {
	where := "1=1"
	params := url.Values{
		"outFields":         {"*"},
		"f":                 {"json"},
		"returnGeometry":    {"false"},
		"resultOffset":      {strconv.Itoa(q.Offset)},
		"resultRecordCount": {strconv.Itoa(q.Limit)},
	}
	if q.DateField != "" {
		if !q.Since.IsZero() {
			where = fmt.Sprintf("%s >= DATE '%s'", q.DateField, q.Since.Format("2006-01-02"))
		}
		params.Set("orderByFields", q.DateField+" DESC")
	}
	params.Set("where", where)
	return withQuery(q.Endpoint, params)
}

func (arcgis) Items(body []byte) ([]gjson.Result, error) {
	doc, err := parseJSON("arcgis: decode page", body)
	if err != nil {
		return nil, err
	}
	if e := doc.Get("error"); e.Exists() {
		code := int(e.Get("code").Int())
		msg := e.Get("message").String()
		kind := resilience.KindTransient
		switch code {
		case 498, 499, 403:
			kind = resilience.KindPermanent
		case 400:
			kind = resilience.KindParse
		case 404:
			kind = resilience.KindNotFound
		}
		return nil, resilience.Errorf(kind, "arcgis: query", "error %d: %s", code, msg)
	}
	features := doc.Get("features")
	if !features.Exists() {
		return nil, resilience.Errorf(resilience.KindParse, "arcgis: decode page", "response has no features")
	}
	return doc.Get("features.#.attributes").Array(), nil
}

// carto speaks the Carto SQL API.
type carto struct{}

func (carto) Name() string { return "carto" }

func (carto) PageURL(q PageQuery) (string, error) {
	if q.Table == "" {
		return "", resilience.Errorf(resilience.KindPermanent, "carto: build query", "table is required")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s", q.Table)
	if q.DateField != "" {
		if !q.Since.IsZero() {
			fmt.Fprintf(&b, " WHERE %s >= '%s'", q.DateField, q.Since.Format("2006-01-02"))
		}
		fmt.Fprintf(&b, " ORDER BY %s DESC", q.DateField)
	}
	fmt.Fprintf(&b, " LIMIT %d OFFSET %d", q.Limit, q.Offset)
	return withQuery(q.Endpoint, url.Values{"q": {b.String()}})
}

func (carto) Items(body []byte) ([]gjson.Result, error) {
	doc, err := parseJSON("carto: decode page", body)
	if err != nil {
		return nil, err
	}
	if e := doc.Get("error"); e.Exists() {
		return nil, resilience.Errorf(resilience.KindPermanent, "carto: query", "%s", e.String())
	}
	rows := doc.Get("rows")
	if !rows.Exists() {
		return nil, resilience.Errorf(resilience.KindParse, "carto: decode page", "response has no rows")
	}
	return rows.Array(), nil
}
