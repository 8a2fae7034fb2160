package ingest

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	CreateLog(ctx context.Context, l *ImportLog) error
	MarkLogFailed(ctx context.Context, id, detail string) error
	// FindSuccessfulByKey returns the newest successful log row carrying key
	// and imported at or after since.
	FindSuccessfulByKey(ctx context.Context, key string, since time.Time) (*ImportLog, error)
	ListLogs(ctx context.Context, limit int) ([]ImportLog, error)
	UpsertRecords(ctx context.Context, records []Record, batchSize int) error
	// DeleteCancelledBefore removes cancelled records last imported before
	// cutoff and returns how many went.
	DeleteCancelledBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// Transaction runs fn against a repository bound to one DB transaction.
	Transaction(ctx context.Context, fn func(tx Repository) error) error
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateLog(ctx context.Context, l *ImportLog) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(l).Error
}

func (r *gormRepository) MarkLogFailed(ctx context.Context, id, detail string) error {
	return r.db.WithContext(ctx).Model(&ImportLog{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": ImportFailed, "error_detail": detail}).Error
}

func (r *gormRepository) FindSuccessfulByKey(ctx context.Context, key string, since time.Time) (*ImportLog, error) {
	var l ImportLog
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ? AND status = ? AND imported_at >= ?", key, ImportSuccess, since).
		Order("imported_at DESC").
		First(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *gormRepository) ListLogs(ctx context.Context, limit int) ([]ImportLog, error) {
	var logs []ImportLog
	err := r.db.WithContext(ctx).Order("imported_at DESC").Limit(limit).Find(&logs).Error
	return logs, err
}

// UpsertRecords inserts records or overwrites every column of an existing row
// with the same external id.
func (r *gormRepository) UpsertRecords(ctx context.Context, records []Record, batchSize int) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		UpdateAll: true,
	}).CreateInBatches(records, batchSize).Error
}

func (r *gormRepository) DeleteCancelledBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND imported_at < ?", StatusCancelled, cutoff).
		Delete(&Record{})
	return res.RowsAffected, res.Error
}

func (r *gormRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}
