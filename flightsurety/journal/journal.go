// Package journal keeps a SQLite record of the contract events the server has
// observed.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/flightsurety/oracle-server/flightsurety/contract"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schemaVersion = uint64(1)

//go:embed schema.sql
var schema string

var ErrLocked = errors.New("journal is in use by another process")

// Entry is one journaled event.
type Entry struct {
	ID         int64           `json:"id"`
	Session    string          `json:"session"`
	Kind       string          `json:"kind"`
	Block      uint64          `json:"block"`
	TxHash     common.Hash     `json:"txHash"`
	LogIndex   uint            `json:"logIndex"`
	Fields     json.RawMessage `json:"fields"`
	RecordedAt time.Time       `json:"recordedAt"`
}

type Journal struct {
	db      *sql.DB
	lock    *flock.Flock
	session string
	log     log.Logger
}

// Open opens or creates the journal at path. Only one process may hold a
// journal open at a time.
func Open(ctx context.Context, path string, logger log.Logger) (*Journal, error) {
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock journal: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=rwc&_journal_mode=WAL", path))
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	err = migrate(ctx, db)
	if err != nil {
		db.Close()
		lock.Unlock()
		return nil, err
	}

	j := &Journal{
		db:      db,
		lock:    lock,
		session: uuid.NewString(),
		log:     logger.New("component", "journal"),
	}
	j.log.Info("Journal ready", "path", path, "session", j.session)
	return j, nil
}

func migrate(ctx context.Context, db *sql.DB) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	_, err = tx.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	var version uint64
	err = tx.QueryRowContext(ctx, `SELECT journal FROM schema_versions WHERE id = 1;`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `INSERT INTO schema_versions (id, journal) VALUES (1, ?);`, schemaVersion)
		if err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	case version != schemaVersion:
		return fmt.Errorf("unsupported journal schema version %d, want %d", version, schemaVersion)
	}

	return tx.Commit()
}

// Session identifies the process that recorded an entry.
func (j *Journal) Session() string {
	return j.session
}

// Record stores ev. Events already journaled, by transaction hash and log
// index, are ignored; it reports whether ev was new.
func (j *Journal) Record(ctx context.Context, ev contract.Event) (bool, error) {
	fields, err := json.Marshal(ev.Fields())
	if err != nil {
		return false, fmt.Errorf("failed to encode %s fields: %w", ev.Kind(), err)
	}

	l := ev.Log()
	res, err := j.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO events (session, kind, block_number, tx_hash, log_index, fields, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?);`,
		j.session, string(ev.Kind()), l.BlockNumber, l.TxHash.Hex(), l.Index, string(fields), time.Now().UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record %s: %w", ev.Kind(), err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to record %s: %w", ev.Kind(), err)
	}
	return n > 0, nil
}

// Entries returns up to limit entries, newest first. An empty kind matches
// every kind and a non-positive limit returns everything.
func (j *Journal) Entries(ctx context.Context, kind string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, session, kind, block_number, tx_hash, log_index, fields, recorded_at
		FROM events
		WHERE ? = '' OR kind = ?
		ORDER BY id DESC
		LIMIT ?;`,
		kind, kind, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e          Entry
			txHash     string
			fields     string
			recordedAt int64
		)
		err = rows.Scan(&e.ID, &e.Session, &e.Kind, &e.Block, &txHash, &e.LogIndex, &fields, &recordedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to read journal entry: %w", err)
		}
		e.TxHash = common.HexToHash(txHash)
		e.Fields = json.RawMessage(fields)
		e.RecordedAt = time.UnixMilli(recordedAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	return entries, nil
}

func (j *Journal) Close() error {
	return errors.Join(j.db.Close(), j.lock.Unlock())
}
