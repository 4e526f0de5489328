// Package store persists interpreter snapshots in SQLite so a paused
// execution can be resumed by id from another process.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/wang/vm"
	"github.com/chazu/wang/vm/wire"
)

var log = commonlog.GetLogger("wang.store")

// ErrNotFound indicates the requested snapshot doesn't exist.
var ErrNotFound = errors.New("store: snapshot not found")

const schema = `CREATE TABLE IF NOT EXISTS snapshots (
	id         TEXT PRIMARY KEY,
	label      TEXT NOT NULL DEFAULT '',
	phase      TEXT NOT NULL,
	format     TEXT NOT NULL,
	digest     TEXT NOT NULL,
	operations INTEGER NOT NULL,
	data       BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

// Record describes a stored snapshot without its body.
type Record struct {
	ID         string      `json:"id"`
	Label      string      `json:"label,omitempty"`
	Phase      vm.Phase    `json:"phase"`
	Format     wire.Format `json:"format"`
	Digest     string      `json:"digest"`
	Size       int         `json:"size"`
	Operations int64       `json:"operations"`
	Created    time.Time   `json:"created"`
	Updated    time.Time   `json:"updated"`
}

// Store is a SQLite-backed snapshot table.
type Store struct {
	db     *sql.DB
	path   string
	format wire.Format
	mu     sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithFormat sets the encoding used for new snapshots. JSON is the default.
func WithFormat(f wire.Format) Option {
	return func(s *Store) { s.format = f }
}

// Open opens or creates the snapshot database at path.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{path: path, format: wire.FormatJSON}
	for _, opt := range opts {
		opt(s)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("store: creating %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	s.db = db

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: creating table: %w", err)
	}
	log.Debugf("opened %s", path)
	return s, nil
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// NewID returns a fresh snapshot id.
func NewID() string { return uuid.NewString() }

// Save stores a snapshot under id, replacing any previous body. An empty
// id allocates a new one. The id is returned.
func (s *Store) Save(ctx context.Context, id, label string, snap *vm.Snapshot) (string, error) {
	if snap == nil {
		return "", errors.New("store: nil snapshot")
	}
	if id == "" {
		id = NewID()
	} else if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("store: invalid id %q: %w", id, err)
	}
	data, err := wire.Encode(snap, s.format)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixNano()
	_, err = s.db.ExecContext(ctx, `INSERT INTO snapshots
		(id, label, phase, format, digest, operations, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			label = excluded.label,
			phase = excluded.phase,
			format = excluded.format,
			digest = excluded.digest,
			operations = excluded.operations,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		id, label, string(snap.Phase), string(s.format), hex.EncodeToString(sum[:]),
		snap.Operations, data, now, now)
	if err != nil {
		return "", fmt.Errorf("store: saving snapshot: %w", err)
	}
	log.Infof("saved snapshot %s (%s, %d bytes)", id, snap.Phase, len(data))
	return id, nil
}

// Load retrieves and decodes a snapshot.
func (s *Store) Load(ctx context.Context, id string) (*vm.Snapshot, *Record, error) {
	var (
		rec  Record
		data []byte
	)
	row := s.db.QueryRowContext(ctx, `SELECT id, label, phase, format, digest, operations,
		length(data), created_at, updated_at, data FROM snapshots WHERE id = ?`, id)
	if err := scanRecord(row, &rec, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, nil, fmt.Errorf("store: querying snapshot: %w", err)
	}
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != rec.Digest {
		return nil, nil, fmt.Errorf("store: snapshot %s: digest mismatch", id)
	}
	snap, err := wire.Decode(data)
	if err != nil {
		return nil, nil, fmt.Errorf("store: snapshot %s: %w", id, err)
	}
	return snap, &rec, nil
}

// Get returns the record of one snapshot.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	row := s.db.QueryRowContext(ctx, `SELECT id, label, phase, format, digest, operations,
		length(data), created_at, updated_at FROM snapshots WHERE id = ?`, id)
	if err := scanRecord(row, &rec, nil); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("store: querying snapshot: %w", err)
	}
	return &rec, nil
}

// Find expands an id prefix to the one stored id it matches.
func (s *Store) Find(ctx context.Context, prefix string) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("%w: empty id", ErrNotFound)
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM snapshots WHERE substr(id, 1, ?) = ? ORDER BY id LIMIT 2", len(prefix), prefix)
	if err != nil {
		return "", fmt.Errorf("store: finding snapshot: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("store: finding snapshot: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, prefix)
	case 1:
		return ids[0], nil
	}
	return "", fmt.Errorf("store: id prefix %q is ambiguous", prefix)
}

// List returns every stored snapshot, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, label, phase, format, digest, operations,
		length(data), created_at, updated_at FROM snapshots ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("store: listing snapshots: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := scanRecord(rows, &rec, nil); err != nil {
			return nil, fmt.Errorf("store: listing snapshots: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes a snapshot.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("store: deleting snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner, rec *Record, data *[]byte) error {
	var (
		phase, format    string
		created, updated int64
	)
	dest := []any{&rec.ID, &rec.Label, &phase, &format, &rec.Digest, &rec.Operations,
		&rec.Size, &created, &updated}
	if data != nil {
		dest = append(dest, data)
	}
	if err := sc.Scan(dest...); err != nil {
		return err
	}
	rec.Phase = vm.Phase(phase)
	rec.Format = wire.Format(format)
	rec.Created = time.Unix(0, created)
	rec.Updated = time.Unix(0, updated)
	return nil
}
