package syncengine

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// CacheStore is the durable key-value cache of previously observed folder
// names and envelope identities, per account and side. Operations are
// serializable per account: the caller hands one *CacheStore around a
// single run and never shares it across concurrent mutations without the
// store's own critical section.
type CacheStore struct {
	db      *sql.DB
	account string
}

// OpenCacheStore opens (creating if absent) the sqlite-backed cache at path
// and runs Init. WAL journal mode plus synchronous=FULL gives the
// fsync-per-commit durability §4.1 requires: a crashed run must never leave
// the cache reporting phantom folders or envelopes.
func OpenCacheStore(ctx context.Context, path, account string) (*CacheStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single connection handed around, per §4.1/§5
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: journal_mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA synchronous=FULL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: synchronous: %w", err)
	}
	c := &CacheStore{db: db, account: account}
	if err := c.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Init creates the folders and envelopes tables if absent. Idempotent.
func (c *CacheStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS folders (
			account TEXT NOT NULL,
			side TEXT NOT NULL,
			name TEXT NOT NULL,
			PRIMARY KEY (account, side, name)
		);`,
		`CREATE TABLE IF NOT EXISTS envelopes (
			account TEXT NOT NULL,
			folder TEXT NOT NULL,
			side TEXT NOT NULL,
			internal_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			flags TEXT NOT NULL,
			date INTEGER NOT NULL,
			sender TEXT NOT NULL,
			subject TEXT NOT NULL,
			PRIMARY KEY (account, folder, side, internal_id)
		);`,
	}
	for _, s := range stmts {
		if _, err := c.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("cache: init: %w", err)
		}
	}
	return nil
}

func (c *CacheStore) Close() error { return c.db.Close() }

// ListFolders returns this account's cached folders for one side.
func (c *CacheStore) ListFolders(ctx context.Context, side Side) (FolderSet, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT name FROM folders WHERE account = ? AND side = ?`, c.account, side.String())
	if err != nil {
		return nil, fmt.Errorf("cache: list folders: %w", err)
	}
	defer rows.Close()
	out := FolderSet{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("cache: list folders: %w", err)
		}
		out[FolderName(name)] = struct{}{}
	}
	return out, rows.Err()
}

// InsertFolder records that name was observed on side.
func (c *CacheStore) InsertFolder(ctx context.Context, side Side, name FolderName) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO folders (account, side, name) VALUES (?, ?, ?)`,
		c.account, side.String(), string(name))
	if err != nil {
		return fmt.Errorf("cache: insert folder: %w", err)
	}
	return nil
}

// DeleteFolder removes the cached record of name on side.
func (c *CacheStore) DeleteFolder(ctx context.Context, side Side, name FolderName) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM folders WHERE account = ? AND side = ? AND name = ?`,
		c.account, side.String(), string(name))
	if err != nil {
		return fmt.Errorf("cache: delete folder: %w", err)
	}
	return nil
}

// ListEnvelopes returns this account/folder's cached envelopes for one side.
func (c *CacheStore) ListEnvelopes(ctx context.Context, folder FolderName, side Side) ([]EnvelopeIdentity, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT internal_id, message_id, flags, date, sender, subject
		 FROM envelopes WHERE account = ? AND folder = ? AND side = ?`,
		c.account, string(folder), side.String())
	if err != nil {
		return nil, fmt.Errorf("cache: list envelopes: %w", err)
	}
	defer rows.Close()
	var out []EnvelopeIdentity
	for rows.Next() {
		var e EnvelopeIdentity
		var flags, mid string
		if err := rows.Scan(&e.InternalID, &mid, &flags, &e.Date, &e.From, &e.Subject); err != nil {
			return nil, fmt.Errorf("cache: list envelopes: %w", err)
		}
		e.MessageID = MessageID(mid)
		e.Flags = ParseFlagSet(flags)
		out = append(out, e)
	}
	return out, rows.Err()
}

// InsertEnvelope records e as observed on side within folder.
func (c *CacheStore) InsertEnvelope(ctx context.Context, folder FolderName, side Side, e EnvelopeIdentity) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO envelopes
		 (account, folder, side, internal_id, message_id, flags, date, sender, subject)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.account, string(folder), side.String(), e.InternalID, string(e.MessageID),
		e.Flags.String(), e.Date, e.From, e.Subject)
	if err != nil {
		return fmt.Errorf("cache: insert envelope: %w", err)
	}
	return nil
}

// UpdateEnvelope overwrites the cached row for e's internal ID.
func (c *CacheStore) UpdateEnvelope(ctx context.Context, folder FolderName, side Side, e EnvelopeIdentity) error {
	return c.InsertEnvelope(ctx, folder, side, e)
}

// DeleteEnvelope removes the cached row keyed by internalID.
func (c *CacheStore) DeleteEnvelope(ctx context.Context, folder FolderName, side Side, internalID string) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM envelopes WHERE account = ? AND folder = ? AND side = ? AND internal_id = ?`,
		c.account, string(folder), side.String(), internalID)
	if err != nil {
		return fmt.Errorf("cache: delete envelope: %w", err)
	}
	return nil
}

// DeleteEnvelopeByMessageID removes the cached row keyed by Message-ID,
// for cache hunks produced by the cross-side algebra (which tracks
// envelopes by Message-ID, not internal ID).
func (c *CacheStore) DeleteEnvelopeByMessageID(ctx context.Context, folder FolderName, side Side, id MessageID) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM envelopes WHERE account = ? AND folder = ? AND side = ? AND message_id = ?`,
		c.account, string(folder), side.String(), string(id))
	if err != nil {
		return fmt.Errorf("cache: delete envelope by message id: %w", err)
	}
	return nil
}
