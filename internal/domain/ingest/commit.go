package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"opsdash/internal/cache"
	"opsdash/internal/domain"
	userrepo "opsdash/internal/repository"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultUpsertBatchSize = 200

// Importer is the identity a commit is attributed to.
type Importer struct {
	UserID  int64
	Login   string
	Machine bool
}

type CommitMeta struct {
	Source             string
	FileName           string
	Importer           Importer
	IdempotencyKey     string
	Summary            Summary
	DefaultEffortHours float64
}

type CommitResult struct {
	LogID      string    `json:"logId"`
	ImportedAt time.Time `json:"importedAt"`
	Processed  int       `json:"processed"`
	Upserted   int       `json:"upserted"`
	Cancelled  int       `json:"cancelled"`
}

// CommitEngine merges validated records into the record store. Once the
// importer is resolved, every call leaves exactly one import log row behind,
// success or failed.
type CommitEngine struct {
	repo        Repository
	users       *userrepo.UserRepository
	invalidator cache.Invalidator
	batchSize   int
	now         func() time.Time
}

func NewCommitEngine(repo Repository, users *userrepo.UserRepository, invalidator cache.Invalidator) *CommitEngine {
	return &CommitEngine{
		repo:        repo,
		users:       users,
		invalidator: invalidator,
		batchSize:   defaultUpsertBatchSize,
		now:         time.Now,
	}
}

func (e *CommitEngine) Commit(ctx context.Context, records []ParsedRecord, meta CommitMeta) (*CommitResult, error) {
	logID := uuid.NewString()
	importedAt := e.now().UTC()

	importer, err := e.ensureImporter(ctx, meta.Importer)
	if err != nil {
		return nil, &CommitError{LogID: logID, Err: err}
	}

	summary, _ := json.Marshal(meta.Summary)
	entry := &ImportLog{
		ID:          logID,
		ImportedAt:  importedAt,
		RecordCount: len(records),
		Source:      meta.Source,
		ImportedBy:  importer.ID,
		Status:      ImportSuccess,
		Summary:     datatypes.JSON(summary),
	}
	if meta.FileName != "" {
		entry.FileName = &meta.FileName
	}
	if meta.IdempotencyKey != "" {
		entry.IdempotencyKey = &meta.IdempotencyKey
	}
	if err := e.repo.CreateLog(ctx, entry); err != nil {
		return nil, &CommitError{LogID: logID, Err: fmt.Errorf("write import log: %w", err)}
	}

	rows, cancelled := e.buildRows(records, logID, importedAt, meta.DefaultEffortHours)

	err = e.repo.Transaction(ctx, func(tx Repository) error {
		return tx.UpsertRecords(ctx, rows, e.batchSize)
	})
	if err != nil {
		if markErr := e.repo.MarkLogFailed(ctx, logID, err.Error()); markErr != nil {
			log.Printf("ingest_commit log_id=%s mark_failed_error=%q", logID, markErr.Error())
		}
		log.Printf("ingest_commit log_id=%s status=%s records=%d source=%s error=%q",
			logID, ImportFailed, len(records), meta.Source, err.Error())
		return nil, &CommitError{LogID: logID, Err: err}
	}

	result := &CommitResult{
		LogID:      logID,
		ImportedAt: importedAt,
		Processed:  len(records),
		Upserted:   len(rows),
		Cancelled:  cancelled,
	}
	log.Printf("ingest_commit log_id=%s status=%s records=%d upserted=%d cancelled=%d source=%s imported_by=%d",
		logID, ImportSuccess, result.Processed, result.Upserted, result.Cancelled, meta.Source, importer.ID)

	e.invalidate(ctx)
	return result, nil
}

// buildRows converts parsed records into store rows. Records repeating an
// external id collapse onto the last occurrence, which is what sequential
// upserts would leave behind.
func (e *CommitEngine) buildRows(records []ParsedRecord, logID string, importedAt time.Time, defaultEffort float64) ([]Record, int) {
	position := make(map[string]int, len(records))
	rows := make([]Record, 0, len(records))
	for _, rec := range records {
		row := Record{
			ExternalID:  rec.ID,
			AssetID:     rec.AssetID,
			AssetType:   rec.AssetType,
			Party:       rec.Party,
			Status:      NormalizeStatus(rec.Status),
			ArrivalAt:   rec.ArrivalAt,
			DepartureAt: rec.DepartureAt,
			EffortHours: rec.EffortHours,
			Raw:         datatypes.JSON(rec.Raw),
			ImportLogID: logID,
			ImportedAt:  importedAt,
		}
		if row.EffortHours == nil && defaultEffort > 0 {
			effort := defaultEffort
			row.EffortHours = &effort
		}
		if i, seen := position[rec.ID]; seen {
			rows[i] = row
			continue
		}
		position[rec.ID] = len(rows)
		rows = append(rows, row)
	}

	cancelled := 0
	for _, row := range rows {
		if row.Status == StatusCancelled {
			cancelled++
		}
	}
	return rows, cancelled
}

// ensureImporter resolves the attributed user. Machine callers get a
// disabled system account on first use so the log row's foreign key holds.
func (e *CommitEngine) ensureImporter(ctx context.Context, imp Importer) (*domain.User, error) {
	if imp.UserID != 0 {
		u, err := e.users.GetByID(ctx, imp.UserID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrImporterMissing
		}
		return u, err
	}

	login := imp.Login
	if login == "" {
		login = domain.SystemLogin
	}
	u, err := e.users.GetByLogin(ctx, login)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if !imp.Machine {
		return nil, ErrImporterMissing
	}

	password, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u = &domain.User{
		Login:        login,
		Name:         "Automation (" + login + ")",
		Role:         domain.RoleSystem,
		Disabled:     true,
		PasswordHash: string(password),
	}
	if err := e.users.Create(ctx, u); err != nil {
		if userrepo.IsUniqueViolation(err) {
			// Provisioned concurrently by another request.
			return e.users.GetByLogin(ctx, login)
		}
		return nil, err
	}
	log.Printf("ingest_system_user_provisioned login=%s user_id=%d", u.Login, u.ID)
	return u, nil
}

func (e *CommitEngine) invalidate(ctx context.Context) {
	if e.invalidator == nil {
		return
	}
	for _, name := range []cache.Name{cache.Records, cache.Derived} {
		if err := e.invalidator.Invalidate(ctx, name); err != nil {
			log.Printf("ingest_cache_invalidate cache=%s error=%q", name, err.Error())
		}
	}
}
