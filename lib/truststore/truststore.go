package truststore

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/go-i2p/go-wire/lib/keys"
	"github.com/go-i2p/logger"
	_ "github.com/mattn/go-sqlite3"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// ErrNotFound is returned when revoking a key that is not stored.
var ErrNotFound = errors.New("truststore: peer not found")

const schema = `
CREATE TABLE IF NOT EXISTS peers (
	public_key TEXT PRIMARY KEY,
	label      TEXT NOT NULL DEFAULT '',
	added_at   INTEGER NOT NULL,
	last_seen  INTEGER NOT NULL DEFAULT 0
);
`

// Peer is one trusted identity.
type Peer struct {
	PublicKey keys.PublicKey
	Label     string
	AddedAt   time.Time
	LastSeen  time.Time
}

// Store is a SQLite backed set of trusted peer keys. It is safe for
// concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens or creates the store at path. The special path ":memory:"
// opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, oops.Wrapf(err, "creating trust store directory")
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, oops.Wrapf(err, "opening trust store %s", path)
	}
	// a single connection keeps ":memory:" databases consistent
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, oops.Wrapf(err, "enabling WAL mode")
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, oops.Wrapf(err, "creating trust store schema")
	}

	log.WithFields(logger.Fields{
		"at":   "truststore.Open",
		"path": path,
	}).Debug("trust_store_opened")
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsTrusted reports whether pub is stored. A hit also refreshes the peer's
// last-seen time.
func (s *Store) IsTrusted(ctx context.Context, pub keys.PublicKey) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE peers SET last_seen = ? WHERE public_key = ?`,
		time.Now().Unix(), pub.String())
	if err != nil {
		return false, oops.Wrapf(err, "looking up peer")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, oops.Wrapf(err, "looking up peer")
	}
	return n > 0, nil
}

// Trust stores pub with a label. Trusting a stored key updates its label.
func (s *Store) Trust(ctx context.Context, pub keys.PublicKey, label string) error {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO peers (public_key, label, added_at, last_seen) VALUES (?, ?, ?, ?)
		ON CONFLICT(public_key) DO UPDATE SET label = excluded.label`,
		pub.String(), label, now, now)
	if err != nil {
		return oops.Wrapf(err, "trusting peer")
	}
	log.WithFields(logger.Fields{
		"at":    "truststore.Trust",
		"peer":  pub.Short(),
		"label": label,
	}).Debug("peer_trusted")
	return nil
}

// Revoke removes pub. It returns ErrNotFound when pub was not stored.
func (s *Store) Revoke(ctx context.Context, pub keys.PublicKey) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM peers WHERE public_key = ?`, pub.String())
	if err != nil {
		return oops.Wrapf(err, "revoking peer")
	}
	if n, err := res.RowsAffected(); err != nil {
		return oops.Wrapf(err, "revoking peer")
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns the stored entry for pub.
func (s *Store) Get(ctx context.Context, pub keys.PublicKey) (Peer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT public_key, label, added_at, last_seen FROM peers WHERE public_key = ?`,
		pub.String())
	p, err := scanPeer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Peer{}, ErrNotFound
	}
	return p, err
}

// List returns every stored peer, oldest first.
func (s *Store) List(ctx context.Context) ([]Peer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT public_key, label, added_at, last_seen FROM peers ORDER BY added_at, public_key`)
	if err != nil {
		return nil, oops.Wrapf(err, "listing peers")
	}
	defer rows.Close()

	var peers []Peer
	for rows.Next() {
		p, err := scanPeer(rows)
		if err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPeer(row scanner) (Peer, error) {
	var (
		hexKey          string
		p               Peer
		added, lastSeen int64
	)
	if err := row.Scan(&hexKey, &p.Label, &added, &lastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Peer{}, err
		}
		return Peer{}, oops.Wrapf(err, "reading peer row")
	}
	pub, err := keys.ParsePublicKey(hexKey)
	if err != nil {
		return Peer{}, oops.Wrapf(err, "stored key %q", hexKey)
	}
	p.PublicKey = pub
	p.AddedAt = time.Unix(added, 0)
	if lastSeen > 0 {
		p.LastSeen = time.Unix(lastSeen, 0)
	}
	return p, nil
}
