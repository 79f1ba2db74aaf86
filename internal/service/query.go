package service

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/cvfolio/reqaudit/internal/model"
)

const (
	ListingPageSize = 20
	DefaultAPILimit = 10
	MaxAPILimit     = 100
)

var ErrPageNotFound = errors.New("invalid page")

// ParseFilter reads filter parameters from a query string. Values that cannot
// be interpreted make the filter match nothing instead of failing the
// request. An unknown auth value is ignored.
func ParseFilter(q url.Values) model.RequestLogFilter {
	f := model.RequestLogFilter{
		Search:       q.Get("search"),
		Method:       q.Get("method"),
		ActorID:      q.Get("actor_id"),
		RemoteIP:     q.Get("ip"),
		PathContains: q.Get("path"),
	}

	if v := q.Get("status"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Status = &n
		} else {
			f.MatchNone = true
		}
	}

	switch model.AuthFilter(q.Get("auth")) {
	case model.AuthAuthenticated:
		f.Auth = model.AuthAuthenticated
	case model.AuthAnonymous:
		f.Auth = model.AuthAnonymous
	}

	switch class := model.StatusClass(q.Get("class")); class {
	case "":
	case model.StatusClassSuccess, model.StatusClassClientError, model.StatusClassServerError:
		f.Class = class
	default:
		f.MatchNone = true
	}

	f.Since = parseTime(q.Get("since"), &f.MatchNone)
	f.Until = parseTime(q.Get("until"), &f.MatchNone)
	f.Staff = parseBool(q.Get("staff"), &f.MatchNone)
	f.Superuser = parseBool(q.Get("superuser"), &f.MatchNone)

	if v := q.Get("min_response_ms"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			f.MinResponseMs = &n
		} else {
			f.MatchNone = true
		}
	}
	return f
}

func parseTime(v string, bad *bool) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		*bad = true
		return nil
	}
	return &t
}

func parseBool(v string, bad *bool) *bool {
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*bad = true
		return nil
	}
	return &b
}

// ParseLimitOffset applies the API paging rules: limit defaults to 10 and is
// clamped to [1, 100]; a negative or malformed offset becomes 0.
func ParseLimitOffset(q url.Values) (limit, offset int) {
	limit = DefaultAPILimit
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = n
	}
	if limit > MaxAPILimit {
		limit = MaxAPILimit
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n > 0 {
		offset = n
	}
	return limit, offset
}

// Page is one page-numbered slice of a listing.
type Page struct {
	Records  []*model.RequestLog
	Number   int
	NumPages int
	Count    int64
}

func (p *Page) HasNext() bool     { return p.Number < p.NumPages }
func (p *Page) HasPrevious() bool { return p.Number > 1 }

// IsPaginated reports whether the listing spans more than one page.
func (p *Page) IsPaginated() bool { return p.NumPages > 1 }

type QueryService struct {
	store      RequestLogStore
	aggregator *Aggregator
}

func NewQueryService(store RequestLogStore, aggregator *Aggregator) *QueryService {
	if aggregator == nil {
		aggregator = NewAggregator(store, DefaultTopLimit)
	}
	return &QueryService{store: store, aggregator: aggregator}
}

func (s *QueryService) Get(ctx context.Context, id uint64) (*model.RequestLog, error) {
	return s.store.Get(ctx, id)
}

// List returns one offset/limit window, newest first.
func (s *QueryService) List(ctx context.Context, filter model.RequestLogFilter, limit, offset int) (*model.LogsPage, error) {
	records, total, err := s.store.Find(ctx, filter, offset, limit)
	if err != nil {
		return nil, err
	}
	return &model.LogsPage{
		Logs:       model.NewLogViews(records),
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
		HasMore:    total > int64(offset+limit),
	}, nil
}

// Page returns a fixed-size page. pageParam is 1-based; "" means the first
// page and "last" the final one. An unusable or out-of-range number yields
// ErrPageNotFound, except that page 1 of an empty listing is always valid.
func (s *QueryService) Page(ctx context.Context, filter model.RequestLogFilter, pageParam string) (*Page, error) {
	_, count, err := s.store.Find(ctx, filter, 0, 1)
	if err != nil {
		return nil, err
	}
	numPages := int((count + ListingPageSize - 1) / ListingPageSize)
	if numPages == 0 {
		numPages = 1
	}

	number := 1
	switch pageParam {
	case "":
	case "last":
		number = numPages
	default:
		n, err := strconv.Atoi(pageParam)
		if err != nil || n < 1 || n > numPages {
			return nil, ErrPageNotFound
		}
		number = n
	}

	records := []*model.RequestLog{}
	if count > 0 {
		records, _, err = s.store.Find(ctx, filter, (number-1)*ListingPageSize, ListingPageSize)
		if err != nil {
			return nil, err
		}
	}
	return &Page{Records: records, Number: number, NumPages: numPages, Count: count}, nil
}

// Stats aggregates the whole store.
func (s *QueryService) Stats(ctx context.Context) (*model.Stats, error) {
	report, err := s.aggregator.Report(ctx, model.RequestLogFilter{})
	if err != nil {
		return nil, err
	}
	return &report.Stats, nil
}

// Dashboard builds the operator listing: a filtered page plus store-wide
// summary, top actors and the filter options.
func (s *QueryService) Dashboard(ctx context.Context, q url.Values) (*model.Dashboard, error) {
	page, err := s.Page(ctx, ParseFilter(q), q.Get("page"))
	if err != nil {
		return nil, err
	}
	report, err := s.aggregator.Report(ctx, model.RequestLogFilter{})
	if err != nil {
		return nil, err
	}

	return &model.Dashboard{
		Logs:          model.NewLogViews(page.Records),
		Page:          page.Number,
		NumPages:      page.NumPages,
		Count:         page.Count,
		IsPaginated:   page.IsPaginated(),
		HasNext:       page.HasNext(),
		HasPrevious:   page.HasPrevious(),
		Stats:         report.Summary,
		TotalLogs:     report.TotalRequests,
		TopActors:     report.TopActors,
		HTTPMethods:   report.Methods,
		StatusCodes:   report.StatusCodes,
		CurrentSearch: q.Get("search"),
		CurrentMethod: q.Get("method"),
		CurrentStatus: q.Get("status"),
		CurrentAuth:   q.Get("auth"),
	}, nil
}
