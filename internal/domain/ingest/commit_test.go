package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"opsdash/internal/cache"
	"opsdash/internal/database"
	"opsdash/internal/domain"
	userrepo "opsdash/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.ConnectWithOptions(fmt.Sprintf("file:ingest_%s?mode=memory&cache=shared", name), database.Options{Quiet: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&domain.User{}, &ImportLog{}, &Record{}))
	return db
}

type recordingInvalidator struct {
	mu    sync.Mutex
	names []cache.Name
}

func (r *recordingInvalidator) Invalidate(_ context.Context, name cache.Name) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
	return nil
}

func (r *recordingInvalidator) calls() []cache.Name {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cache.Name(nil), r.names...)
}

func newTestEngine(t *testing.T) (*CommitEngine, *gorm.DB, *recordingInvalidator) {
	t.Helper()
	db := newTestDB(t)
	inv := &recordingInvalidator{}
	return NewCommitEngine(NewRepository(db), userrepo.NewUserRepository(db), inv), db, inv
}

func parsed(t *testing.T, raw string) []ParsedRecord {
	t.Helper()
	report, err := Validate(raw, 0)
	require.NoError(t, err)
	require.True(t, report.Valid(), report.Errors)
	return report.Records
}

var machine = Importer{Login: "system:etl", Machine: true}

func TestCommit_UpsertKeepsOneRowPerID(t *testing.T) {
	engine, db, inv := newTestEngine(t)
	ctx := context.Background()

	res1, err := engine.Commit(ctx, parsed(t, `[{"id":"g1","arrival":"2026-01-01T00:00:00Z","party":"acme"}]`), CommitMeta{Source: "test", Importer: machine})
	require.NoError(t, err)
	res2, err := engine.Commit(ctx, parsed(t, `[{"id":"g1","arrival":"2026-01-01T00:00:00Z","party":"globex"}]`), CommitMeta{Source: "test", Importer: machine})
	require.NoError(t, err)
	assert.NotEqual(t, res1.LogID, res2.LogID)

	var rows []Record
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "globex", rows[0].Party)
	assert.Equal(t, res2.LogID, rows[0].ImportLogID)

	assert.Equal(t, []cache.Name{cache.Records, cache.Derived, cache.Records, cache.Derived}, inv.calls())
}

func TestCommit_DuplicateIDsInOnePayloadKeepLast(t *testing.T) {
	engine, db, _ := newTestEngine(t)
	records := parsed(t, `[
		{"id":"d1","arrival":"2026-01-01T00:00:00Z","status":"open"},
		{"id":"d2","arrival":"2026-01-01T00:00:00Z"},
		{"id":"d1","arrival":"2026-01-01T00:00:00Z","status":"annulled"}
	]`)

	res, err := engine.Commit(context.Background(), records, CommitMeta{Source: "test", Importer: machine, DefaultEffortHours: 1.5})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 2, res.Upserted)
	assert.Equal(t, 1, res.Cancelled)

	var d1 Record
	require.NoError(t, db.First(&d1, "external_id = ?", "d1").Error)
	assert.Equal(t, StatusCancelled, d1.Status)
	require.NotNil(t, d1.EffortHours)
	assert.Equal(t, 1.5, *d1.EffortHours)
	assert.JSONEq(t, `{"id":"d1","arrival":"2026-01-01T00:00:00Z","status":"annulled"}`, string(d1.Raw))
}

func TestCommit_FailureRollsBackAndMarksLog(t *testing.T) {
	engine, db, inv := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Commit(ctx, parsed(t, `[{"id":"keep","arrival":"2026-01-01T00:00:00Z","party":"before"}]`), CommitMeta{Source: "test", Importer: machine})
	require.NoError(t, err)

	// Fail the second batch so the first is already written when the
	// transaction has to roll back.
	engine.batchSize = 1
	batches := 0
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:fail_second_batch", func(tx *gorm.DB) {
		if tx.Statement.Table != (Record{}).TableName() {
			return
		}
		batches++
		if batches == 2 {
			_ = tx.AddError(errors.New("disk full"))
		}
	}))

	_, err = engine.Commit(ctx, parsed(t, `[
		{"id":"keep","arrival":"2026-01-01T00:00:00Z","party":"after"},
		{"id":"new","arrival":"2026-01-01T00:00:00Z"}
	]`), CommitMeta{Source: "test", Importer: machine})
	require.Error(t, err)

	var commitErr *CommitError
	require.True(t, errors.As(err, &commitErr))
	assert.NotEmpty(t, commitErr.LogID)

	var rows []Record
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "before", rows[0].Party)

	var failed ImportLog
	require.NoError(t, db.First(&failed, "id = ?", commitErr.LogID).Error)
	assert.Equal(t, ImportFailed, failed.Status)
	require.NotNil(t, failed.ErrorDetail)
	assert.Contains(t, *failed.ErrorDetail, "disk full")

	var logs int64
	require.NoError(t, db.Model(&ImportLog{}).Count(&logs).Error)
	assert.Equal(t, int64(2), logs)

	// Only the successful commit invalidated.
	assert.Len(t, inv.calls(), 2)
}

func TestCommit_ProvisionsSystemUserOnce(t *testing.T) {
	engine, db, _ := newTestEngine(t)
	ctx := context.Background()
	records := parsed(t, `[{"id":"s1","arrival":"2026-01-01T00:00:00Z"}]`)

	for i := 0; i < 2; i++ {
		_, err := engine.Commit(ctx, records, CommitMeta{Source: "test", Importer: machine})
		require.NoError(t, err)
	}

	var users []domain.User
	require.NoError(t, db.Find(&users).Error)
	require.Len(t, users, 1)
	assert.Equal(t, "system:etl", users[0].Login)
	assert.Equal(t, domain.RoleSystem, users[0].Role)
	assert.True(t, users[0].Disabled)

	var logs []ImportLog
	require.NoError(t, db.Find(&logs).Error)
	for _, l := range logs {
		assert.Equal(t, users[0].ID, l.ImportedBy)
	}
}

func TestCommit_UnknownHumanImporter(t *testing.T) {
	engine, db, _ := newTestEngine(t)
	records := parsed(t, `[{"id":"h1","arrival":"2026-01-01T00:00:00Z"}]`)

	_, err := engine.Commit(context.Background(), records, CommitMeta{Source: "test", Importer: Importer{UserID: 99}})
	assert.ErrorIs(t, err, ErrImporterMissing)

	_, err = engine.Commit(context.Background(), records, CommitMeta{Source: "test", Importer: Importer{Login: "nobody"}})
	assert.ErrorIs(t, err, ErrImporterMissing)

	var n int64
	require.NoError(t, db.Model(&Record{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestCommit_AttributesToExistingUser(t *testing.T) {
	engine, db, _ := newTestEngine(t)
	u := &domain.User{Login: "ops", Name: "Ops", Role: domain.RoleAdmin}
	require.NoError(t, db.Create(u).Error)

	name := "export.json"
	res, err := engine.Commit(context.Background(), parsed(t, `[{"id":"u1","arrival":"2026-01-01T00:00:00Z"}]`), CommitMeta{
		Source: "manual", FileName: name, IdempotencyKey: "k1",
		Importer: Importer{UserID: u.ID, Login: "ops"},
		Summary:  Summary{RecordCount: 1},
	})
	require.NoError(t, err)

	var l ImportLog
	require.NoError(t, db.First(&l, "id = ?", res.LogID).Error)
	assert.Equal(t, u.ID, l.ImportedBy)
	assert.Equal(t, "manual", l.Source)
	require.NotNil(t, l.FileName)
	assert.Equal(t, name, *l.FileName)
	require.NotNil(t, l.IdempotencyKey)
	assert.Equal(t, "k1", *l.IdempotencyKey)
	assert.JSONEq(t, `{"recordCount":1,"partyCount":0,"assetCount":0}`, string(l.Summary))
}

func TestPurgeCancelled(t *testing.T) {
	engine, db, inv := newTestEngine(t)
	ctx := context.Background()
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	engine.now = func() time.Time { return old }
	_, err := engine.Commit(ctx, parsed(t, `[
		{"id":"p1","arrival":"2025-01-01T00:00:00Z","status":"cancelled"},
		{"id":"p2","arrival":"2025-01-01T00:00:00Z","status":"done"}
	]`), CommitMeta{Source: "test", Importer: machine})
	require.NoError(t, err)

	engine.now = time.Now
	_, err = engine.Commit(ctx, parsed(t, `[{"id":"p3","arrival":"2026-01-01T00:00:00Z","status":"storno"}]`), CommitMeta{Source: "test", Importer: machine})
	require.NoError(t, err)
	before := len(inv.calls())

	n, err := PurgeCancelled(ctx, NewRepository(db), inv, old.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, inv.calls(), before+2)

	var ids []string
	require.NoError(t, db.Model(&Record{}).Order("external_id").Pluck("external_id", &ids).Error)
	assert.Equal(t, []string{"p2", "p3"}, ids)

	n, err = PurgeCancelled(ctx, NewRepository(db), inv, old.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, inv.calls(), before+2)
}
