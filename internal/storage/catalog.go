// Package storage keeps the on-disk catalog of logging sessions. The CSV and
// trace files themselves live in the session directories; the catalog records
// where each run ended up and what battery layout it was captured with.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/helios-ev/bms-datalogger/internal/telemetry"
)

// SessionStatus is the lifecycle state of a catalogued session.
type SessionStatus string

const (
	StatusRecording SessionStatus = "recording"
	StatusComplete  SessionStatus = "complete"
	StatusDiscarded SessionStatus = "discarded"
)

// SessionRecord is one row of the session catalog.
type SessionRecord struct {
	ID        int64
	StartedAt time.Time
	StoppedAt *time.Time

	Layout       telemetry.Layout
	RingCapacity int

	VoltageSamples int64
	TempSamples    int64

	// Destination is the final session directory, set once the run completes.
	Destination *string
	Status      SessionStatus
}

// Catalog handles the session database. Connections open lazily: a write
// connection with WAL journaling for the recorder, and a separate read-only
// connection for listing tools.
type Catalog struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewCatalog creates a catalog over the Sqlite database at dbPath. The file
// and schema are created on first write.
func NewCatalog(dbPath string) *Catalog {
	return &Catalog{dbPath: dbPath}
}

func (c *Catalog) getWriteDB() (*sql.DB, error) {
	c.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", c.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			c.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if _, err = db.Exec(initSchemaSQL); err != nil {
			_ = db.Close()
			c.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		c.writeDB = db
	})

	return c.writeDB, c.writeDBErr
}

func (c *Catalog) getReadDB() (*sql.DB, error) {
	c.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", c.dbPath, "mode=ro"))
		if err != nil {
			c.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		c.readDB = db
	})

	return c.readDB, c.readDBErr
}

// CreateSession registers a new recording run and returns its catalog ID.
func (c *Catalog) CreateSession(ctx context.Context, layout telemetry.Layout, ringCapacity int) (sessionID int64, err error) {
	db, err := c.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(ctx, layout.VoltageModules, layout.VoltageCells, layout.TempModules, layout.TempCells, ringCapacity)
	if err != nil {
		err = fmt.Errorf("inserting session: %w", err)
		return
	}

	sessionID, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting session ID: %w", err)
	}
	return
}

// CompleteSession marks a run as finished, recording the sample counts and
// the directory the session files were moved to.
func (c *Catalog) CompleteSession(ctx context.Context, sessionID int64, voltageSamples, tempSamples int64, destination string) (err error) {
	db, err := c.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, completeSessionSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	if _, err = stmt.ExecContext(ctx, voltageSamples, tempSamples, destination, sessionID); err != nil {
		return fmt.Errorf("completing session: %w", err)
	}
	return nil
}

// DiscardSession marks a run whose files were thrown away rather than kept.
func (c *Catalog) DiscardSession(ctx context.Context, sessionID int64) (err error) {
	db, err := c.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, discardSessionSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	if _, err = stmt.ExecContext(ctx, sessionID); err != nil {
		return fmt.Errorf("discarding session: %w", err)
	}
	return nil
}

// Session returns one catalog entry by its ID.
func (c *Catalog) Session(ctx context.Context, id int64) (record *SessionRecord, err error) {
	db, err := c.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, selectSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	rec, err := scanSession(stmt.QueryRowContext(ctx, id))
	if err != nil {
		err = fmt.Errorf("scanning session: %w", err)
		return
	}
	return rec, nil
}

// Sessions returns all catalog entries ordered by start time.
func (c *Catalog) Sessions(ctx context.Context) (records []*SessionRecord, err error) {
	db, err := c.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		err = fmt.Errorf("querying sessions: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var rec *SessionRecord
		if rec, err = scanSession(rows); err != nil {
			err = fmt.Errorf("scanning session: %w", err)
			return
		}
		records = append(records, rec)
	}
	err = rows.Err()
	return
}

// Close closes both database connections.
func (c *Catalog) Close() error {
	c.closeOnce.Do(func() {
		var writeErr, readErr error

		if c.writeDB != nil {
			writeErr = c.writeDB.Close()
			c.writeDB = nil
		}

		if c.readDB != nil {
			readErr = c.readDB.Close()
			c.readDB = nil
		}

		switch {
		case writeErr != nil && readErr != nil:
			c.closeErr = errors.Join(writeErr, readErr)
		case writeErr != nil:
			c.closeErr = writeErr
		case readErr != nil:
			c.closeErr = readErr
		}
	})

	return c.closeErr
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	var rec SessionRecord
	var stoppedAt sql.NullTime
	var destination sql.NullString
	var status string

	err := row.Scan(
		&rec.ID,
		&rec.StartedAt,
		&stoppedAt,
		&rec.Layout.VoltageModules,
		&rec.Layout.VoltageCells,
		&rec.Layout.TempModules,
		&rec.Layout.TempCells,
		&rec.RingCapacity,
		&rec.VoltageSamples,
		&rec.TempSamples,
		&destination,
		&status,
	)
	if err != nil {
		return nil, err
	}

	if stoppedAt.Valid {
		rec.StoppedAt = &stoppedAt.Time
	}
	if destination.Valid {
		rec.Destination = &destination.String
	}
	rec.Status = SessionStatus(status)

	return &rec, nil
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}
