package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cvfolio/reqaudit/internal/model"
	"gorm.io/gorm"
)

const defaultBatchSize = 500

type PostgresRequestLogStore struct {
	db        *gorm.DB
	batchSize int
}

// NewPostgresRequestLogStore migrates the request_logs table and its indexes.
func NewPostgresRequestLogStore(db *gorm.DB) (*PostgresRequestLogStore, error) {
	if err := db.AutoMigrate(&model.RequestLog{}); err != nil {
		return nil, err
	}
	return &PostgresRequestLogStore{db: db, batchSize: defaultBatchSize}, nil
}

func (s *PostgresRequestLogStore) Insert(ctx context.Context, rec *model.RequestLog) error {
	if rec == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *PostgresRequestLogStore) Get(ctx context.Context, id uint64) (*model.RequestLog, error) {
	var rec model.RequestLog
	err := s.db.WithContext(ctx).First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.ErrLogNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresRequestLogStore) Find(ctx context.Context, filter model.RequestLogFilter, offset, limit int) ([]*model.RequestLog, int64, error) {
	base := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&model.RequestLog{}).Scopes(FilterScope(filter))
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if total == 0 || offset >= int(total) {
		return []*model.RequestLog{}, total, nil
	}

	q := base().Order("timestamp DESC").Order("id DESC")
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	records := []*model.RequestLog{}
	if err := q.Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// Each streams matching records in primary-key batches.
func (s *PostgresRequestLogStore) Each(ctx context.Context, filter model.RequestLogFilter, fn func(*model.RequestLog) error) error {
	var batch []*model.RequestLog
	res := s.db.WithContext(ctx).Model(&model.RequestLog{}).
		Scopes(FilterScope(filter)).
		FindInBatches(&batch, s.batchSize, func(tx *gorm.DB, _ int) error {
			for _, rec := range batch {
				if err := fn(rec); err != nil {
					return err
				}
			}
			return nil
		})
	return res.Error
}

func (s *PostgresRequestLogStore) DetachActor(ctx context.Context, actorID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.RequestLog{}).
		Where("actor_id = ?", actorID).
		Updates(map[string]any{
			"actor_id":       nil,
			"actor_username": nil,
			"actor_email":    nil,
		})
	return res.RowsAffected, res.Error
}

func (s *PostgresRequestLogStore) Purge(ctx context.Context, before time.Time, maxID uint64) (int64, error) {
	q := s.db.WithContext(ctx).Where("timestamp < ?", before.UTC())
	if maxID > 0 {
		q = q.Where("id <= ?", maxID)
	}
	res := q.Delete(&model.RequestLog{})
	return res.RowsAffected, res.Error
}

// FilterScope translates a filter into parameterised WHERE clauses. It must
// agree with model.RequestLogFilter.Match.
func FilterScope(f model.RequestLogFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if f.MatchNone {
			return db.Where("1 = 0")
		}
		if f.Search != "" {
			like := "%" + escapeLike(f.Search) + "%"
			db = db.Where("(path ILIKE ? OR http_method ILIKE ? OR remote_ip ILIKE ? OR actor_username ILIKE ?)",
				like, like, like, like)
		}
		if f.Method != "" {
			db = db.Where("http_method = ?", f.Method)
		}
		if f.Status != nil {
			db = db.Where("response_status = ?", *f.Status)
		}
		switch f.Auth {
		case model.AuthAuthenticated:
			db = db.Where("is_authenticated = ?", true)
		case model.AuthAnonymous:
			db = db.Where("is_authenticated = ?", false)
		}
		if f.ActorID != "" {
			db = db.Where("actor_id = ?", f.ActorID)
		}
		if f.RemoteIP != "" {
			db = db.Where("remote_ip = ?", f.RemoteIP)
		}
		if f.PathContains != "" {
			db = db.Where("path LIKE ?", "%"+escapeLike(f.PathContains)+"%")
		}
		switch f.Class {
		case model.StatusClassSuccess:
			db = db.Where("response_status >= ? AND response_status < ?", 200, 300)
		case model.StatusClassClientError:
			db = db.Where("response_status >= ? AND response_status < ?", 400, 500)
		case model.StatusClassServerError:
			db = db.Where("response_status >= ? AND response_status < ?", 500, 600)
		}
		if f.Since != nil {
			db = db.Where("timestamp >= ?", f.Since.UTC())
		}
		if f.Until != nil {
			db = db.Where("timestamp < ?", f.Until.UTC())
		}
		if f.Staff != nil {
			db = db.Where("is_staff = ?", *f.Staff)
		}
		if f.Superuser != nil {
			db = db.Where("is_superuser = ?", *f.Superuser)
		}
		if f.MinResponseMs != nil {
			db = db.Where("response_time_ms >= ?", *f.MinResponseMs)
		}
		return db
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
