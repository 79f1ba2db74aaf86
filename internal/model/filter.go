package model

import (
	"sort"
	"strings"
	"time"
)

type AuthFilter string

const (
	AuthAny           AuthFilter = ""
	AuthAuthenticated AuthFilter = "authenticated"
	AuthAnonymous     AuthFilter = "anonymous"
)

type StatusClass string

const (
	StatusClassSuccess     StatusClass = "success"
	StatusClassClientError StatusClass = "client_error"
	StatusClassServerError StatusClass = "server_error"
)

// RequestLogFilter is a conjunction of optional predicates over request logs.
// Zero values mean "no constraint". MatchNone is set when a caller supplied a
// value that could not be interpreted; such a filter matches nothing.
type RequestLogFilter struct {
	Search        string
	Method        string
	Status        *int
	Auth          AuthFilter
	ActorID       string
	RemoteIP      string
	PathContains  string
	Class         StatusClass
	Since         *time.Time
	Until         *time.Time
	Staff         *bool
	Superuser     *bool
	MinResponseMs *int64
	MatchNone     bool
}

// Predicate reports whether a record satisfies one filter clause.
type Predicate func(*RequestLog) bool

// Predicates expands the filter into its clauses. An empty slice matches all.
func (f RequestLogFilter) Predicates() []Predicate {
	if f.MatchNone {
		return []Predicate{func(*RequestLog) bool { return false }}
	}

	var preds []Predicate
	if f.Search != "" {
		term := strings.ToLower(f.Search)
		preds = append(preds, func(r *RequestLog) bool {
			return containsFold(r.Path, term) ||
				containsFold(string(r.Method), term) ||
				containsFold(deref(r.RemoteIP), term) ||
				containsFold(deref(r.ActorUsername), term)
		})
	}
	if f.Method != "" {
		method := HTTPMethod(f.Method)
		preds = append(preds, func(r *RequestLog) bool { return r.Method == method })
	}
	if f.Status != nil {
		status := *f.Status
		preds = append(preds, func(r *RequestLog) bool {
			return r.ResponseStatus != nil && *r.ResponseStatus == status
		})
	}
	switch f.Auth {
	case AuthAuthenticated:
		preds = append(preds, func(r *RequestLog) bool { return r.IsAuthenticated })
	case AuthAnonymous:
		preds = append(preds, func(r *RequestLog) bool { return !r.IsAuthenticated })
	}
	if f.ActorID != "" {
		id := f.ActorID
		preds = append(preds, func(r *RequestLog) bool { return r.ActorID != nil && *r.ActorID == id })
	}
	if f.RemoteIP != "" {
		ip := f.RemoteIP
		preds = append(preds, func(r *RequestLog) bool { return r.RemoteIP != nil && *r.RemoteIP == ip })
	}
	if f.PathContains != "" {
		sub := f.PathContains
		preds = append(preds, func(r *RequestLog) bool { return strings.Contains(r.Path, sub) })
	}
	switch f.Class {
	case StatusClassSuccess:
		preds = append(preds, (*RequestLog).IsSuccessful)
	case StatusClassClientError:
		preds = append(preds, (*RequestLog).IsClientError)
	case StatusClassServerError:
		preds = append(preds, (*RequestLog).IsServerError)
	}
	if f.Since != nil {
		since := *f.Since
		preds = append(preds, func(r *RequestLog) bool { return !r.Timestamp.Before(since) })
	}
	if f.Until != nil {
		until := *f.Until
		preds = append(preds, func(r *RequestLog) bool { return r.Timestamp.Before(until) })
	}
	if f.Staff != nil {
		staff := *f.Staff
		preds = append(preds, func(r *RequestLog) bool { return r.IsStaff == staff })
	}
	if f.Superuser != nil {
		superuser := *f.Superuser
		preds = append(preds, func(r *RequestLog) bool { return r.IsSuperuser == superuser })
	}
	if f.MinResponseMs != nil {
		floor := *f.MinResponseMs
		preds = append(preds, func(r *RequestLog) bool {
			return r.ResponseTimeMs != nil && *r.ResponseTimeMs >= floor
		})
	}
	return preds
}

func (f RequestLogFilter) Match(r *RequestLog) bool {
	for _, p := range f.Predicates() {
		if !p(r) {
			return false
		}
	}
	return true
}

// SortNewestFirst orders records by timestamp descending, then by id descending.
func SortNewestFirst(records []*RequestLog) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.ID > b.ID
	})
}

func containsFold(s, lowerTerm string) bool {
	return s != "" && strings.Contains(strings.ToLower(s), lowerTerm)
}
