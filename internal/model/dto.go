package model

import "time"

type PathCount struct {
	Path  string `json:"path"`
	Count int64  `json:"count"`
}

type IPCount struct {
	RemoteIP string `json:"remote_ip"`
	Count    int64  `json:"count"`
}

type MethodCount struct {
	Method string `json:"http_method"`
	Count  int64  `json:"count"`
}

// HourCount is keyed by the UTC hour of day, rendered as a string ("0".."23").
type HourCount struct {
	Hour  string `json:"hour"`
	Count int64  `json:"count"`
}

type ActorCount struct {
	ActorID  string `json:"actor_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Count    int64  `json:"count"`
}

// Summary holds the headline counters. Rates are percentages with two decimals.
type Summary struct {
	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	ClientErrors       int64   `json:"client_errors"`
	ServerErrors       int64   `json:"server_errors"`
	SuccessRate        float64 `json:"success_rate"`
	ErrorRate          float64 `json:"error_rate"`
}

// Stats is the payload of the statistics endpoint. Field names are part of
// the public contract.
type Stats struct {
	Summary
	TopPaths           []PathCount   `json:"top_paths"`
	TopIPs             []IPCount     `json:"top_ips"`
	MethodDistribution []MethodCount `json:"method_distribution"`
	HourlyDistribution []HourCount   `json:"hourly_distribution"`
}

// Report is everything one aggregation pass produces.
type Report struct {
	Stats
	TopActors   []ActorCount `json:"top_actors"`
	Methods     []string     `json:"http_methods"`
	StatusCodes []int        `json:"status_codes"`
}

type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// LogView is the API representation of a stored record.
type LogView struct {
	ID                uint64   `json:"id"`
	Timestamp         string   `json:"timestamp"`
	HTTPMethod        string   `json:"http_method"`
	Path              string   `json:"path"`
	QueryString       *string  `json:"query_string"`
	RemoteIP          *string  `json:"remote_ip"`
	UserAgent         *string  `json:"user_agent"`
	User              *UserRef `json:"user"`
	ResponseStatus    *int     `json:"response_status"`
	ResponseTimeMs    *int64   `json:"response_time_ms"`
	RequestSizeBytes  *int64   `json:"request_size_bytes"`
	ResponseSizeBytes *int64   `json:"response_size_bytes"`
	IsAuthenticated   bool     `json:"is_authenticated"`
	IsStaff           bool     `json:"is_staff"`
	IsSuperuser       bool     `json:"is_superuser"`
	IsSuccessful      bool     `json:"is_successful"`
	IsClientError     bool     `json:"is_client_error"`
	IsServerError     bool     `json:"is_server_error"`
	RequestID         string   `json:"request_id,omitempty"`
}

func NewLogView(r *RequestLog) LogView {
	v := LogView{
		ID:                r.ID,
		Timestamp:         r.Timestamp.UTC().Format(time.RFC3339Nano),
		HTTPMethod:        string(r.Method),
		Path:              r.Path,
		QueryString:       r.QueryString,
		RemoteIP:          r.RemoteIP,
		UserAgent:         r.UserAgent,
		ResponseStatus:    r.ResponseStatus,
		ResponseTimeMs:    r.ResponseTimeMs,
		RequestSizeBytes:  r.RequestSizeBytes,
		ResponseSizeBytes: r.ResponseSizeBytes,
		IsAuthenticated:   r.IsAuthenticated,
		IsStaff:           r.IsStaff,
		IsSuperuser:       r.IsSuperuser,
		IsSuccessful:      r.IsSuccessful(),
		IsClientError:     r.IsClientError(),
		IsServerError:     r.IsServerError(),
		RequestID:         r.RequestID,
	}
	if r.HasActor() {
		v.User = &UserRef{
			ID:       *r.ActorID,
			Username: deref(r.ActorUsername),
			Email:    deref(r.ActorEmail),
		}
	}
	return v
}

func NewLogViews(records []*RequestLog) []LogView {
	views := make([]LogView, 0, len(records))
	for _, r := range records {
		views = append(views, NewLogView(r))
	}
	return views
}

// LogsPage is the offset/limit listing returned by the API.
type LogsPage struct {
	Logs       []LogView `json:"logs"`
	TotalCount int64     `json:"total_count"`
	Limit      int       `json:"limit"`
	Offset     int       `json:"offset"`
	HasMore    bool      `json:"has_more"`
}

// Dashboard is the page-numbered listing with the filter options and
// summary the operator view renders.
type Dashboard struct {
	Logs          []LogView    `json:"request_logs"`
	Page          int          `json:"page"`
	NumPages      int          `json:"num_pages"`
	Count         int64        `json:"count"`
	IsPaginated   bool         `json:"is_paginated"`
	HasNext       bool         `json:"has_next"`
	HasPrevious   bool         `json:"has_previous"`
	Stats         Summary      `json:"stats"`
	TotalLogs     int64        `json:"total_logs"`
	TopActors     []ActorCount `json:"top_actors"`
	HTTPMethods   []string     `json:"http_methods"`
	StatusCodes   []int        `json:"status_codes"`
	CurrentSearch string       `json:"current_search"`
	CurrentMethod string       `json:"current_method"`
	CurrentStatus string       `json:"current_status"`
	CurrentAuth   string       `json:"current_auth"`
}

// PurgeRequest selects records older than Before, or older than Days days.
type PurgeRequest struct {
	Before *time.Time `json:"before"`
	Days   *int       `json:"days" binding:"omitempty,gte=0"`
}

type PurgeResult struct {
	Deleted  int64  `json:"deleted"`
	Archived string `json:"archived,omitempty"`
}

type DetachResult struct {
	ActorID string `json:"actor_id"`
	Updated int64  `json:"updated"`
}
