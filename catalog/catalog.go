// Package catalog keeps a local SQLite history of conversions and
// validations so `omnispatial history` can show what was produced where.
package catalog

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jameshyojaelee/omnispatial/errors"
	"github.com/jameshyojaelee/omnispatial/logger"
)

// Entry kinds returned by Recent.
const (
	KindConversion = "convert"
	KindValidation = "validate"
)

// Conversion records one convert run.
type Conversion struct {
	ID          string
	Input       string
	Destination string
	Adapter     string
	Format      string
	Fingerprint string
	Duration    time.Duration
	// Err is empty for successful runs.
	Err string
}

// Validation records one validate run. ConversionID links it to the
// conversion that produced the bundle, when known.
type Validation struct {
	ID           string
	ConversionID string
	Target       string
	Format       string
	OK           bool
	Errors       int
	Warnings     int
}

// Entry is one row of the merged history.
type Entry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Target    string    `json:"target"`
	Format    string    `json:"format"`
	OK        bool      `json:"ok"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

type Catalog struct {
	db  *sql.DB
	log *zap.SugaredLogger
	now func() time.Time
}

// New wraps an already migrated database.
func New(db *sql.DB, log *zap.SugaredLogger) *Catalog {
	return &Catalog{
		db:  db,
		log: logger.OrNop(log).With(logger.FieldComponent, "catalog"),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Open opens (creating if needed) the catalog at path and applies pending
// migrations.
func Open(ctx context.Context, path string, log *zap.SugaredLogger) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create catalog directory %s", dir)
		}
	}
	db, err := OpenDB(path, log)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db, log); err != nil {
		db.Close()
		return nil, err
	}
	return New(db, log), nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

// RecordConversion stores c and returns its id. A fresh UUID is assigned
// when c.ID is empty.
func (c *Catalog) RecordConversion(ctx context.Context, conv Conversion) (string, error) {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	_, err := c.db.ExecContext(ctx, `INSERT INTO conversions
		(id, input, destination, adapter, format, fingerprint, duration_ms, ok, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.Input, conv.Destination, conv.Adapter, conv.Format, conv.Fingerprint,
		conv.Duration.Milliseconds(), conv.Err == "", conv.Err, c.now().UnixNano())
	if err != nil {
		return "", wrapDB(err, "record conversion")
	}
	c.log.Debugw("conversion recorded", "id", conv.ID, logger.FieldPath, conv.Destination)
	return conv.ID, nil
}

// RecordValidation stores v and returns its id.
func (c *Catalog) RecordValidation(ctx context.Context, v Validation) (string, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	var conversionID any
	if v.ConversionID != "" {
		conversionID = v.ConversionID
	}
	_, err := c.db.ExecContext(ctx, `INSERT INTO validations
		(id, conversion_id, target, format, ok, errors, warnings, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, conversionID, v.Target, v.Format, v.OK, v.Errors, v.Warnings, c.now().UnixNano())
	if err != nil {
		return "", wrapDB(err, "record validation")
	}
	c.log.Debugw("validation recorded", "id", v.ID, logger.FieldPath, v.Target)
	return v.ID, nil
}

// LatestConversion returns the id of the newest successful conversion
// written to destination.
func (c *Catalog) LatestConversion(ctx context.Context, destination string) (string, error) {
	var id string
	err := c.db.QueryRowContext(ctx, `SELECT id FROM conversions
		WHERE destination = ? AND ok = 1 ORDER BY created_at DESC LIMIT 1`, destination).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.Wrapf(errors.ErrNotFound, "no conversion to %s", destination)
	}
	if err != nil {
		return "", wrapDB(err, "latest conversion")
	}
	return id, nil
}

// Recent returns the newest limit entries across conversions and
// validations, newest first.
func (c *Catalog) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, 'convert', destination, format, ok,
		       CASE WHEN ok = 1 THEN adapter || ' <- ' || input ELSE error END,
		       created_at
		  FROM conversions
		UNION ALL
		SELECT id, 'validate', target, format, ok,
		       errors || ' errors, ' || warnings || ' warnings',
		       created_at
		  FROM validations
		ORDER BY 7 DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, wrapDB(err, "query history")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var nanos int64
		if err := rows.Scan(&e.ID, &e.Kind, &e.Target, &e.Format, &e.OK, &e.Detail, &nanos); err != nil {
			return nil, wrapDB(err, "scan history")
		}
		e.CreatedAt = time.Unix(0, nanos).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err, "iterate history")
	}
	return out, nil
}
