package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

type HTTPMethod string

const (
	MethodGet     HTTPMethod = "GET"
	MethodPost    HTTPMethod = "POST"
	MethodPut     HTTPMethod = "PUT"
	MethodPatch   HTTPMethod = "PATCH"
	MethodDelete  HTTPMethod = "DELETE"
	MethodHead    HTTPMethod = "HEAD"
	MethodOptions HTTPMethod = "OPTIONS"
	MethodTrace   HTTPMethod = "TRACE"
)

// HTTPMethods lists every method a record may carry.
var HTTPMethods = []HTTPMethod{
	MethodGet, MethodPost, MethodPut, MethodPatch,
	MethodDelete, MethodHead, MethodOptions, MethodTrace,
}

func (m HTTPMethod) Valid() bool {
	for _, known := range HTTPMethods {
		if m == known {
			return true
		}
	}
	return false
}

// Storage limits, applied before a record is persisted.
const (
	MaxMethodLength      = 16
	MaxPathLength        = 500
	MaxQueryStringLength = 1000
	MaxUserAgentLength   = 500
)

var (
	ErrInvalidRecord = errors.New("invalid request log")
	ErrLogNotFound   = errors.New("request log not found")
)

// RequestLog is one observed HTTP request. Rows are append-only; the only
// in-place change is clearing the actor reference when the identity goes away.
type RequestLog struct {
	ID                uint64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Timestamp         time.Time  `json:"timestamp" gorm:"not null;index;index:idx_request_logs_ts_method,priority:1;index:idx_request_logs_actor_ts,priority:2;index:idx_request_logs_ip_ts,priority:2;index:idx_request_logs_status_ts,priority:2;index:idx_request_logs_path_ts,priority:2" validate:"required"`
	Method            HTTPMethod `json:"http_method" gorm:"column:http_method;type:varchar(16);not null;index;index:idx_request_logs_ts_method,priority:2" validate:"required,max=16,httptoken"`
	Path              string     `json:"path" gorm:"type:varchar(500);not null;index:idx_request_logs_path_ts,priority:1" validate:"required,min=1,max=500"`
	QueryString       *string    `json:"query_string" gorm:"type:text" validate:"omitempty,max=1000"`
	RemoteIP          *string    `json:"remote_ip" gorm:"type:varchar(45);index;index:idx_request_logs_ip_ts,priority:1" validate:"omitempty,ip"`
	UserAgent         *string    `json:"user_agent" gorm:"type:text" validate:"omitempty,max=500"`
	ActorID           *string    `json:"actor_id" gorm:"type:varchar(64);index;index:idx_request_logs_actor_ts,priority:1"`
	ActorUsername     *string    `json:"actor_username" gorm:"type:varchar(150)"`
	ActorEmail        *string    `json:"actor_email" gorm:"type:varchar(254)"`
	ResponseStatus    *int       `json:"response_status" gorm:"index;index:idx_request_logs_status_ts,priority:1" validate:"omitempty,gte=0"`
	ResponseTimeMs    *int64     `json:"response_time_ms" validate:"omitempty,gte=0"`
	RequestSizeBytes  *int64     `json:"request_size_bytes" validate:"omitempty,gte=0"`
	ResponseSizeBytes *int64     `json:"response_size_bytes" validate:"omitempty,gte=0"`
	IsAuthenticated   bool       `json:"is_authenticated" gorm:"not null;default:false;index"`
	IsStaff           bool       `json:"is_staff" gorm:"not null;default:false;index"`
	IsSuperuser       bool       `json:"is_superuser" gorm:"not null;default:false;index"`
	RequestID         string     `json:"request_id" gorm:"type:varchar(64);index"`
}

func (RequestLog) TableName() string {
	return "request_logs"
}

// RecordInput carries the raw values captured for one request.
type RecordInput struct {
	Timestamp         time.Time
	Method            string
	Path              string
	QueryString       string
	RemoteIP          string
	UserAgent         string
	Actor             Actor
	ResponseStatus    *int
	ResponseTimeMs    *int64
	RequestSizeBytes  *int64
	ResponseSizeBytes *int64
	RequestID         string
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("httptoken", func(fl validator.FieldLevel) bool {
		return isToken(fl.Field().String())
	})
	return v
}

// isToken reports whether s is an RFC 9110 token, the grammar net/http
// enforces on request methods before any handler runs.
func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		case strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0:
		default:
			return false
		}
	}
	return true
}

// NewRequestLog builds a record from values supplied by code rather than a
// live request. The method must be one of HTTPMethods.
func NewRequestLog(in RecordInput) (*RequestLog, error) {
	if !HTTPMethod(in.Method).Valid() {
		return nil, fmt.Errorf("%w: unknown http method %q", ErrInvalidRecord, in.Method)
	}
	return buildRequestLog(in)
}

// CaptureRequestLog builds a record for a request the server actually
// received. Any method token is kept as sent (cut to MaxMethodLength) so
// WebDAV verbs and CONNECT still leave a trail.
func CaptureRequestLog(in RecordInput) (*RequestLog, error) {
	in.Method = Truncate(in.Method, MaxMethodLength)
	return buildRequestLog(in)
}

// buildRequestLog truncates the free-text fields to their storage limits and
// validates the result. Identity flags are frozen from in.Actor.
func buildRequestLog(in RecordInput) (*RequestLog, error) {
	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	rec := &RequestLog{
		Timestamp:         ts.UTC(),
		Method:            HTTPMethod(in.Method),
		Path:              Truncate(in.Path, MaxPathLength),
		QueryString:       optional(Truncate(in.QueryString, MaxQueryStringLength)),
		RemoteIP:          optional(in.RemoteIP),
		UserAgent:         optional(Truncate(in.UserAgent, MaxUserAgentLength)),
		ResponseStatus:    in.ResponseStatus,
		ResponseTimeMs:    in.ResponseTimeMs,
		RequestSizeBytes:  in.RequestSizeBytes,
		ResponseSizeBytes: in.ResponseSizeBytes,
		RequestID:         in.RequestID,
	}

	actor := in.Actor
	if actor.IsAuthenticated {
		rec.IsAuthenticated = true
		rec.IsStaff = actor.IsStaff
		rec.IsSuperuser = actor.IsSuperuser
		if actor.ID != "" {
			rec.ActorID = optional(actor.ID)
			rec.ActorUsername = optional(actor.Username)
			rec.ActorEmail = optional(actor.Email)
		}
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *RequestLog) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}

func (r *RequestLog) statusIn(lo, hi int) bool {
	return r.ResponseStatus != nil && *r.ResponseStatus >= lo && *r.ResponseStatus < hi
}

func (r *RequestLog) IsSuccessful() bool  { return r.statusIn(200, 300) }
func (r *RequestLog) IsClientError() bool { return r.statusIn(400, 500) }
func (r *RequestLog) IsServerError() bool { return r.statusIn(500, 600) }

// DurationSeconds returns nil when no timing was captured.
func (r *RequestLog) DurationSeconds() *float64 {
	if r.ResponseTimeMs == nil {
		return nil
	}
	s := float64(*r.ResponseTimeMs) / 1000.0
	return &s
}

// HasActor reports whether the record still references an identity.
func (r *RequestLog) HasActor() bool {
	return r.ActorID != nil
}

// ActorInfo renders "username (email)" or "Anonymous" once the reference is gone.
func (r *RequestLog) ActorInfo() string {
	if !r.HasActor() {
		return "Anonymous"
	}
	info := deref(r.ActorUsername)
	if email := deref(r.ActorEmail); email != "" {
		info += " (" + email + ")"
	}
	return info
}

func (r *RequestLog) String() string {
	var b strings.Builder
	b.WriteString(string(r.Method))
	b.WriteByte(' ')
	b.WriteString(r.Path)
	if r.HasActor() {
		b.WriteString(" (" + deref(r.ActorUsername) + ")")
	}
	if r.ResponseStatus != nil && *r.ResponseStatus != 0 {
		fmt.Fprintf(&b, " [%d]", *r.ResponseStatus)
	}
	b.WriteString(" - ")
	b.WriteString(r.Timestamp.Format("2006-01-02 15:04:05"))
	return b.String()
}

// Truncate cuts s to at most n characters (runes, not bytes).
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
