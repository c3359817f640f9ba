package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const putLIDMappingSQL = `INSERT OR REPLACE INTO lid_map (lid, pn) VALUES (?, ?)`

// LIDMapping maps a serialized LID JID to its phone number JID.
type LIDMapping struct {
	LID string
	PN  string
}

// SyncLIDMap merges mappings into lid_map in one transaction. Rows for other
// identifiers are kept, so LIDs learned from lookups survive a resync.
func (db *DB) SyncLIDMap(ctx context.Context, mappings []LIDMapping) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, m := range mappings {
			if _, err := tx.ExecContext(ctx, putLIDMappingSQL, m.LID, m.PN); err != nil {
				return fmt.Errorf("insert lid_map %q: %w", m.LID, err)
			}
		}
		return nil
	})
}

// PutLIDMapping records a single mapping, replacing any previous row for
// either side.
func (db *DB) PutLIDMapping(ctx context.Context, m LIDMapping) error {
	if _, err := db.ExecContext(ctx, putLIDMappingSQL, m.LID, m.PN); err != nil {
		return fmt.Errorf("put lid_map %q: %w", m.LID, err)
	}
	return nil
}

// LIDForPN returns the cached LID for a phone number JID, or "" when unknown.
func (db *DB) LIDForPN(ctx context.Context, pn string) (string, error) {
	var lid string
	err := db.QueryRowContext(ctx, `SELECT lid FROM lid_map WHERE pn = ?`, pn).Scan(&lid)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return lid, nil
}

// PNForLID returns the phone number JID mapped to a LID, or "" when unknown.
func (db *DB) PNForLID(ctx context.Context, lid string) (string, error) {
	var pn string
	err := db.QueryRowContext(ctx, `SELECT pn FROM lid_map WHERE lid = ?`, lid).Scan(&pn)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return pn, nil
}

// BackfillContactLIDs copies known lid_map entries onto contacts whose LID is
// still empty. Contacts that already carry a LID are left untouched.
// Returns the number of contacts updated.
func (db *DB) BackfillContactLIDs(ctx context.Context) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE contacts SET
			lid = (SELECT lm.lid FROM lid_map lm WHERE lm.pn = contacts.jid),
			updated_at = ?
		WHERE lid = ''
			AND EXISTS (SELECT 1 FROM lid_map lm WHERE lm.pn = contacts.jid)`,
		time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("backfill contact lids: %w", err)
	}
	return res.RowsAffected()
}
