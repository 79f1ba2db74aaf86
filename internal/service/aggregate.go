package service

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/cvfolio/reqaudit/internal/model"
	"github.com/shopspring/decimal"
)

const DefaultTopLimit = 10

var hundred = decimal.NewFromInt(100)

type Aggregator struct {
	store RequestLogStore
	limit int
}

func NewAggregator(store RequestLogStore, limit int) *Aggregator {
	if limit <= 0 {
		limit = DefaultTopLimit
	}
	return &Aggregator{store: store, limit: limit}
}

// Report aggregates every record matching filter in one pass over the store.
func (a *Aggregator) Report(ctx context.Context, filter model.RequestLogFilter) (*model.Report, error) {
	acc := newAccumulator()
	err := a.store.Each(ctx, filter, func(rec *model.RequestLog) error {
		acc.add(rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc.report(a.limit), nil
}

// BuildReport aggregates an in-memory record set.
func BuildReport(records []*model.RequestLog, limit int) *model.Report {
	if limit <= 0 {
		limit = DefaultTopLimit
	}
	acc := newAccumulator()
	for _, rec := range records {
		acc.add(rec)
	}
	return acc.report(limit)
}

type actorTally struct {
	username string
	email    string
	seen     time.Time
	count    int64
}

type accumulator struct {
	total, successful, clientErrors, serverErrors int64

	paths    map[string]int64
	ips      map[string]int64
	methods  map[string]int64
	hours    map[int]int64
	statuses map[int]struct{}
	actors   map[string]*actorTally
}

func newAccumulator() *accumulator {
	return &accumulator{
		paths:    make(map[string]int64),
		ips:      make(map[string]int64),
		methods:  make(map[string]int64),
		hours:    make(map[int]int64),
		statuses: make(map[int]struct{}),
		actors:   make(map[string]*actorTally),
	}
}

func (a *accumulator) add(rec *model.RequestLog) {
	a.total++
	switch {
	case rec.IsSuccessful():
		a.successful++
	case rec.IsClientError():
		a.clientErrors++
	case rec.IsServerError():
		a.serverErrors++
	}

	a.paths[rec.Path]++
	a.methods[string(rec.Method)]++
	a.hours[rec.Timestamp.UTC().Hour()]++
	if rec.RemoteIP != nil {
		a.ips[*rec.RemoteIP]++
	}
	if rec.ResponseStatus != nil {
		a.statuses[*rec.ResponseStatus] = struct{}{}
	}
	if rec.ActorID != nil {
		t, ok := a.actors[*rec.ActorID]
		if !ok {
			t = &actorTally{}
			a.actors[*rec.ActorID] = t
		}
		t.count++
		// keep the newest display snapshot
		if !rec.Timestamp.Before(t.seen) {
			t.seen = rec.Timestamp
			if rec.ActorUsername != nil {
				t.username = *rec.ActorUsername
			}
			if rec.ActorEmail != nil {
				t.email = *rec.ActorEmail
			}
		}
	}
}

func (a *accumulator) report(limit int) *model.Report {
	success, failure := rates(a.total, a.successful, a.clientErrors+a.serverErrors)

	r := &model.Report{
		Stats: model.Stats{
			Summary: model.Summary{
				TotalRequests:      a.total,
				SuccessfulRequests: a.successful,
				ClientErrors:       a.clientErrors,
				ServerErrors:       a.serverErrors,
				SuccessRate:        success,
				ErrorRate:          failure,
			},
			TopPaths:           make([]model.PathCount, 0),
			TopIPs:             make([]model.IPCount, 0),
			MethodDistribution: make([]model.MethodCount, 0, len(a.methods)),
			HourlyDistribution: make([]model.HourCount, 0, len(a.hours)),
		},
		TopActors:   make([]model.ActorCount, 0),
		Methods:     make([]string, 0, len(a.methods)),
		StatusCodes: make([]int, 0, len(a.statuses)),
	}

	for _, kc := range ranked(a.paths, limit) {
		r.TopPaths = append(r.TopPaths, model.PathCount{Path: kc.key, Count: kc.count})
	}
	for _, kc := range ranked(a.ips, limit) {
		r.TopIPs = append(r.TopIPs, model.IPCount{RemoteIP: kc.key, Count: kc.count})
	}
	for _, kc := range ranked(a.methods, 0) {
		r.MethodDistribution = append(r.MethodDistribution, model.MethodCount{Method: kc.key, Count: kc.count})
		r.Methods = append(r.Methods, kc.key)
	}
	sort.Strings(r.Methods)

	hours := make([]int, 0, len(a.hours))
	for h := range a.hours {
		hours = append(hours, h)
	}
	sort.Ints(hours)
	for _, h := range hours {
		r.HourlyDistribution = append(r.HourlyDistribution, model.HourCount{Hour: strconv.Itoa(h), Count: a.hours[h]})
	}

	for code := range a.statuses {
		r.StatusCodes = append(r.StatusCodes, code)
	}
	sort.Ints(r.StatusCodes)

	actors := make([]model.ActorCount, 0, len(a.actors))
	for id, t := range a.actors {
		actors = append(actors, model.ActorCount{ActorID: id, Username: t.username, Email: t.email, Count: t.count})
	}
	sort.Slice(actors, func(i, j int) bool {
		if actors[i].Count != actors[j].Count {
			return actors[i].Count > actors[j].Count
		}
		if actors[i].Username != actors[j].Username {
			return actors[i].Username < actors[j].Username
		}
		return actors[i].ActorID < actors[j].ActorID
	})
	if len(actors) > limit {
		actors = actors[:limit]
	}
	r.TopActors = append(r.TopActors, actors...)
	return r
}

// rates returns the success and error percentages of total, rounded to two
// decimals. Their sum never exceeds 100.
func rates(total, successful, failed int64) (float64, float64) {
	if total == 0 {
		return 0, 0
	}
	t := decimal.NewFromInt(total)
	success := decimal.NewFromInt(successful).Mul(hundred).Div(t).RoundBank(2)
	failure := decimal.NewFromInt(failed).Mul(hundred).Div(t).RoundBank(2)
	if headroom := hundred.Sub(success); failure.GreaterThan(headroom) {
		failure = headroom
	}
	return success.InexactFloat64(), failure.InexactFloat64()
}

type keyCount struct {
	key   string
	count int64
}

// ranked orders by count descending, then key ascending. limit <= 0 keeps all.
func ranked(counts map[string]int64, limit int) []keyCount {
	out := make([]keyCount, 0, len(counts))
	for k, c := range counts {
		out = append(out, keyCount{key: k, count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].key < out[j].key
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
