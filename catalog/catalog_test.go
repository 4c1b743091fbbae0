package catalog

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jameshyojaelee/omnispatial/errors"
	qtest "github.com/jameshyojaelee/omnispatial/internal/testing"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	db := qtest.CreateTestDB(t)
	require.NoError(t, Migrate(context.Background(), db, zaptest.NewLogger(t).Sugar()))

	c := New(db, zaptest.NewLogger(t).Sugar())
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return c
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := qtest.CreateTestDB(t)
	ctx := context.Background()
	require.NoError(t, Migrate(ctx, db, nil))
	require.NoError(t, Migrate(ctx, db, nil))

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n))
	assert.Equal(t, 3, n)
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "catalog.db")
	c, err := Open(context.Background(), path, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer c.Close()

	var journalMode string
	require.NoError(t, c.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, c.db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, SQLiteBusyTimeoutMS, busyTimeout)
}

func TestRecordAndRecent(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	convID, err := c.RecordConversion(ctx, Conversion{
		Input:       "/data/run1",
		Destination: "/out/run1.zarr",
		Adapter:     "manifest",
		Format:      "ngff",
		Fingerprint: "abc",
		Duration:    1500 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Len(t, convID, 36)

	_, err = c.RecordConversion(ctx, Conversion{
		Input:       "/data/run2",
		Destination: "/out/run2.zarr",
		Adapter:     "manifest",
		Format:      "ngff",
		Err:         "image layer \"dapi\": boom",
	})
	require.NoError(t, err)

	_, err = c.RecordValidation(ctx, Validation{
		ConversionID: convID,
		Target:       "/out/run1.zarr",
		Format:       "ngff",
		OK:           true,
		Warnings:     1,
	})
	require.NoError(t, err)

	entries, err := c.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, KindValidation, entries[0].Kind)
	assert.True(t, entries[0].OK)
	assert.Equal(t, "0 errors, 1 warnings", entries[0].Detail)

	assert.Equal(t, KindConversion, entries[1].Kind)
	assert.False(t, entries[1].OK)
	assert.Contains(t, entries[1].Detail, "boom")

	assert.Equal(t, convID, entries[2].ID)
	assert.Equal(t, "manifest <- /data/run1", entries[2].Detail)
	assert.True(t, entries[2].CreatedAt.Before(entries[0].CreatedAt))

	limited, err := c.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestLatestConversion(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	_, err := c.LatestConversion(ctx, "/out/a.zarr")
	assert.True(t, errors.IsNotFoundError(err))

	first, err := c.RecordConversion(ctx, Conversion{Input: "a", Destination: "/out/a.zarr", Adapter: "manifest", Format: "ngff"})
	require.NoError(t, err)
	_, err = c.RecordConversion(ctx, Conversion{Input: "a", Destination: "/out/a.zarr", Adapter: "manifest", Format: "ngff", Err: "failed"})
	require.NoError(t, err)

	got, err := c.LatestConversion(ctx, "/out/a.zarr")
	require.NoError(t, err)
	assert.Equal(t, first, got, "failed runs are skipped")
}

func TestValidationRejectsUnknownConversion(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.RecordValidation(context.Background(), Validation{
		ConversionID: "does-not-exist",
		Target:       "/out/a.zarr",
		Format:       "ngff",
	})
	assert.Error(t, err)
}

func TestRecordConversionDriverError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO conversions")).
		WillReturnError(errors.New("disk I/O error"))

	c := New(db, nil)
	_, err = c.RecordConversion(context.Background(), Conversion{ID: "fixed", Input: "a", Destination: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record conversion")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentMarksClosedDatabase(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id").WillReturnError(errors.New("sql: database is closed"))

	_, err = New(db, nil).Recent(context.Background(), 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDatabaseClosed))
	assert.True(t, IsDatabaseClosed(err))
	assert.False(t, IsDatabaseClosed(nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentScansRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "kind", "target", "format", "ok", "detail", "created_at"}).
		AddRow("v1", KindValidation, "/out/a.zarr", "ngff", int64(0), "2 errors, 0 warnings", at.UnixNano())
	mock.ExpectQuery("SELECT id").WithArgs(20).WillReturnRows(rows)

	entries, err := New(db, nil).Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, Entry{
		ID:        "v1",
		Kind:      KindValidation,
		Target:    "/out/a.zarr",
		Format:    "ngff",
		OK:        false,
		Detail:    "2 errors, 0 warnings",
		CreatedAt: at,
	}, entries[0])
}
