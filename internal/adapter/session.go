package adapter

import (
	"bytes"
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/sells-group/permit-cli/internal/fetcher"
	"github.com/sells-group/permit-cli/internal/model"
	"github.com/sells-group/permit-cli/internal/resilience"
)

// Session defaults match the common Accela Citizen Access portal layout.
const (
	defaultFormSelector = "form"
	defaultRowSelector  = "table.ACA_GridView tr"
	defaultDateFormat   = "01/02/2006"
	defaultMaxPages     = 10
)

var postBackRegex = regexp.MustCompile(`__doPostBack\('([^']*)','([^']*)'\)`)

// Session drives a stateful search portal: it loads the search page, submits
// the search form with the hidden state fields the portal expects, and walks
// the result grid page by page.
type Session struct {
	desc     model.SourceDescriptor
	search   *url.URL
	settings model.SessionSettings
	build    builder
	deps     Deps
}

// defaultGridFields maps the Accela result grid columns.
var defaultGridFields = model.FieldMap{
	Identifier: "0",
	Address:    "1",
	Category:   "2",
	IssuedAt:   "3",
	Status:     "4",
}

func newSession(desc model.SourceDescriptor, deps Deps) (*Session, error) {
	if desc.Fields == (model.FieldMap{}) {
		desc.Fields = defaultGridFields
	}
	if err := requireFields(desc); err != nil {
		return nil, configError(desc, err)
	}
	base, err := url.Parse(desc.Endpoint)
	if err != nil || base.Host == "" {
		return nil, configError(desc, resilience.Errorf(resilience.KindPermanent, "adapter: session", "invalid endpoint %q", desc.Endpoint))
	}
	search := base
	if desc.Session.SearchPath != "" {
		ref, err := url.Parse(desc.Session.SearchPath)
		if err != nil {
			return nil, configError(desc, err)
		}
		search = base.ResolveReference(ref)
	}

	s := desc.Session
	if s.FormSelector == "" {
		s.FormSelector = defaultFormSelector
	}
	if s.RowSelector == "" {
		s.RowSelector = defaultRowSelector
	}
	if s.DateFormat == "" {
		s.DateFormat = defaultDateFormat
	}
	if s.MaxPages <= 0 {
		s.MaxPages = defaultMaxPages
	}

	return &Session{
		desc:     desc,
		search:   search,
		settings: s,
		build:    newBuilder(desc, deps),
		deps:     deps,
	}, nil
}

// newClient creates a fresh cookie-carrying client. Every Fetch gets its own
// session so sources never share cookies.
func (s *Session) newClient() (*resty.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, resilience.NewError(resilience.KindPermanent, "adapter: cookie jar", err)
	}
	client := resty.New()
	client.SetCookieJar(jar)
	if s.settings.Cloudflare {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	client.SetHeader("User-Agent", s.deps.UserAgent)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(s.search.Hostname()))
	client.SetTimeout(s.deps.HTTPTimeout)
	for k, v := range headers(s.desc) {
		client.SetHeader(k, v[0])
	}
	if s.deps.Limiters != nil {
		throttle(client, s.deps.Limiters.LimiterFor(s.search.String()))
	}
	return client, nil
}

// throttle routes every request through the host limiter and adapts its rate
// to 429 responses the way the shared HTTP fetcher does.
func throttle(client *resty.Client, lim *fetcher.AdaptiveLimiter) {
	client.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		if err := lim.Wait(r.Context()); err != nil {
			return resilience.NewError(resilience.KindTimeout, "session: rate limiter wait", err)
		}
		return nil
	})
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		switch {
		case res.StatusCode() == http.StatusTooManyRequests:
			lim.OnRateLimit()
		case !res.IsError():
			lim.OnSuccess()
		}
		return nil
	})
}

// Fetch runs one search over the daysBack window and collects grid rows.
// Rows issued before the window are dropped even if the portal returns them.
func (s *Session) Fetch(ctx context.Context, maxRecords, daysBack int) ([]model.Record, error) {
	client, err := s.newClient()
	if err != nil {
		return nil, err
	}

	res, err := client.R().SetContext(ctx).Get(s.search.String())
	if err := responseError("session: load search page", res, err); err != nil {
		return nil, err
	}
	doc, err := parseHTML(res.Body())
	if err != nil {
		return nil, err
	}

	form := doc.Find(s.settings.FormSelector).First()
	if form.Length() == 0 {
		return nil, resilience.Errorf(resilience.KindParse, "session: search page", "no form matches %q", s.settings.FormSelector)
	}
	action := s.resolve(s.search, form.AttrOr("action", ""))

	now := s.deps.Now()
	from := now.AddDate(0, 0, -max(daysBack, 0))
	values := hiddenInputs(form)
	for k, v := range s.settings.Form {
		v = strings.ReplaceAll(v, "{{from}}", from.Format(s.settings.DateFormat))
		v = strings.ReplaceAll(v, "{{to}}", now.Format(s.settings.DateFormat))
		values.Set(k, v)
	}

	res, err = client.R().SetContext(ctx).SetFormDataFromValues(values).Post(action.String())
	if err := responseError("session: submit search", res, err); err != nil {
		return nil, err
	}

	oldest := cutoff(now, daysBack)
	var out []model.Record
	current := action
	for page := 0; page < s.settings.MaxPages; page++ {
		doc, err = parseHTML(res.Body())
		if err != nil {
			return nil, err
		}

		rows := s.rows(doc)
		for _, rec := range rows {
			if !rec.IssuedAt.Before(oldest) {
				out = append(out, rec)
			}
		}
		zap.L().Debug("adapter: session page",
			zap.String("source", s.desc.ID),
			zap.Int("page", page),
			zap.Int("rows", len(rows)),
		)
		if len(rows) == 0 || (maxRecords > 0 && len(out) >= maxRecords) {
			break
		}

		res, err = s.next(ctx, client, doc, current)
		if err != nil {
			return nil, err
		}
		if res == nil {
			break
		}
		current = s.resolve(current, res.Request.URL)
	}
	return limit(out, maxRecords), nil
}

// rows maps result-grid rows to records, skipping header and pager rows.
func (s *Session) rows(doc *goquery.Document) []model.Record {
	var out []model.Record
	doc.Find(s.settings.RowSelector).Each(func(_ int, tr *goquery.Selection) {
		if tr.Find("th").Length() > 0 {
			return
		}
		cells := cellTexts(tr.Find("td"))
		if len(cells) < 2 {
			return
		}
		rec := s.build.build(func(ref string) string {
			return cellAt(cells, ref)
		})
		if rec.Identifier == "" {
			return
		}
		out = append(out, rec)
	})
	return out
}

// next follows the pager: a plain link is fetched with GET, an ASP.NET
// postback link is replayed as a form POST. It returns nil when there is no
// next page.
func (s *Session) next(ctx context.Context, client *resty.Client, doc *goquery.Document, current *url.URL) (*resty.Response, error) {
	if s.settings.NextSelector == "" {
		return nil, nil
	}
	link := doc.Find(s.settings.NextSelector).First()
	href, ok := link.Attr("href")
	if !ok || href == "" || href == "#" {
		return nil, nil
	}

	if m := postBackRegex.FindStringSubmatch(href); m != nil {
		form := doc.Find(s.settings.FormSelector).First()
		values := hiddenInputs(form)
		values.Set("__EVENTTARGET", m[1])
		values.Set("__EVENTARGUMENT", m[2])
		action := s.resolve(current, form.AttrOr("action", ""))
		res, err := client.R().SetContext(ctx).SetFormDataFromValues(values).Post(action.String())
		if err := responseError("session: next page", res, err); err != nil {
			return nil, err
		}
		return res, nil
	}

	target := s.resolve(current, href)
	res, err := client.R().SetContext(ctx).Get(target.String())
	if err := responseError("session: next page", res, err); err != nil {
		return nil, err
	}
	return res, nil
}

// resolve resolves ref against base. An empty or malformed ref yields base.
func (s *Session) resolve(base *url.URL, ref string) *url.URL {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return base
	}
	u, err := url.Parse(ref)
	if err != nil {
		return base
	}
	return base.ResolveReference(u)
}

func hiddenInputs(form *goquery.Selection) url.Values {
	values := url.Values{}
	form.Find(`input[type="hidden"]`).Each(func(_ int, in *goquery.Selection) {
		if name, ok := in.Attr("name"); ok && name != "" {
			values.Set(name, in.AttrOr("value", ""))
		}
	})
	return values
}

func parseHTML(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, resilience.NewError(resilience.KindParse, "session: parse html", err)
	}
	return doc, nil
}

// cellAt resolves a zero-based column reference against a grid row.
func cellAt(cells []string, ref string) string {
	return (&fetcher.Table{}).Cell(cells, ref)
}

func responseError(op string, res *resty.Response, err error) error {
	if err != nil {
		return resilience.NewError(resilience.Classify(err), op, err)
	}
	if res.IsError() {
		return resilience.HTTPError(op, res.StatusCode(), res.Request.URL)
	}
	return nil
}
