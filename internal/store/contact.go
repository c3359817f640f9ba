package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const upsertContactSQL = `
	INSERT INTO contacts (jid, name, push_name, lid, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(jid) DO UPDATE SET
		name = CASE WHEN excluded.name != '' THEN excluded.name ELSE contacts.name END,
		push_name = CASE WHEN excluded.push_name != '' THEN excluded.push_name ELSE contacts.push_name END,
		lid = CASE WHEN contacts.lid = '' THEN excluded.lid ELSE contacts.lid END,
		updated_at = excluded.updated_at`

// UpsertContact inserts or updates a contact. Empty fields never clear
// stored values, and an already cached LID is kept.
func (db *DB) UpsertContact(ctx context.Context, c *Contact) error {
	_, err := db.ExecContext(ctx, upsertContactSQL, c.JID, c.Name, c.PushName, c.LID, time.Now().UnixMilli())
	return err
}

// BulkUpsertContacts inserts or updates multiple contacts in a single transaction.
func (db *DB) BulkUpsertContacts(ctx context.Context, contacts []Contact) error {
	now := time.Now().UnixMilli()
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, c := range contacts {
			if _, err := tx.ExecContext(ctx, upsertContactSQL, c.JID, c.Name, c.PushName, c.LID, now); err != nil {
				return fmt.Errorf("upsert contact %q: %w", c.JID, err)
			}
		}
		return nil
	})
}

// GetContact returns a contact by JID, or nil when none is stored.
func (db *DB) GetContact(ctx context.Context, jid string) (*Contact, error) {
	var c Contact
	err := db.QueryRowContext(ctx, `SELECT jid, name, push_name, lid FROM contacts WHERE jid = ?`, jid).
		Scan(&c.JID, &c.Name, &c.PushName, &c.LID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SetContactLIDIfEmpty caches lid on the contact keyed by jid, only when the
// contact exists and has no LID yet. Reports whether a row was updated.
func (db *DB) SetContactLIDIfEmpty(ctx context.Context, jid, lid string) (bool, error) {
	if lid == "" {
		return false, nil
	}
	res, err := db.ExecContext(ctx, `
		UPDATE contacts SET lid = ?, updated_at = ?
		WHERE jid = ? AND lid = ''`, lid, time.Now().UnixMilli(), jid)
	if err != nil {
		return false, fmt.Errorf("set contact lid %q: %w", jid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
