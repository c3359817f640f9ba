package sync

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/matheus3301/wppchat/internal/store"
	"go.uber.org/zap"
)

// CheckpointLIDReconcile records when the lid_map was last refreshed.
const CheckpointLIDReconcile = "lid_reconciled_at"

// Source exposes what the platform's device store knows about contacts and
// their linked identifiers.
type Source interface {
	GetContacts(ctx context.Context) ([]store.Contact, error)
	GetLIDMappings(ctx context.Context) ([]store.LIDMapping, error)
}

// Reconciler refreshes local identity data from the device store and manages
// sync checkpoints.
type Reconciler struct {
	db     *store.DB
	source Source
	logger *zap.Logger
}

// NewReconciler creates a new reconciler. source may be nil, in which case
// only local backfill runs.
func NewReconciler(db *store.DB, source Source, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{db: db, source: source, logger: logger}
}

// Reconcile imports device-store contacts and LID mappings, then copies known
// LIDs onto contacts that have none cached yet.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	var mapped int
	if r.source != nil {
		contacts, err := r.source.GetContacts(ctx)
		if err != nil {
			return fmt.Errorf("read device contacts: %w", err)
		}
		if err := r.db.BulkUpsertContacts(ctx, contacts); err != nil {
			return fmt.Errorf("import contacts: %w", err)
		}

		mappings, err := r.source.GetLIDMappings(ctx)
		if err != nil {
			return fmt.Errorf("read lid mappings: %w", err)
		}
		if err := r.db.SyncLIDMap(ctx, mappings); err != nil {
			return err
		}
		mapped = len(mappings)
	}

	n, err := r.db.BackfillContactLIDs(ctx)
	if err != nil {
		return err
	}
	r.logger.Info("identities reconciled", zap.Int("mappings", mapped), zap.Int64("backfilled", n))

	return r.UpdateCheckpoint(ctx, CheckpointLIDReconcile, time.Now().UTC().Format(time.RFC3339))
}

// UpdateCheckpoint updates a sync checkpoint value.
func (r *Reconciler) UpdateCheckpoint(ctx context.Context, key, value string) error {
	now := time.Now().UnixMilli()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetCheckpoint retrieves a sync checkpoint value, or "" when never set.
func (r *Reconciler) GetCheckpoint(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}
