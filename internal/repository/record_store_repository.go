package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/pasi-sync-api/internal/store"
)

const recordNodesSchema = `CREATE TABLE IF NOT EXISTS record_nodes (
    path TEXT PRIMARY KEY,
    value JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// RecordStoreRepository persists the hierarchical record store in PostgreSQL.
// Every leaf of the tree is one row keyed by its full path, so a multi-path write
// is a single SQL transaction and partial reads are a prefix scan.
type RecordStoreRepository struct {
	db        *sqlx.DB
	hub       *store.Hub
	publisher store.Publisher
	logger    *zap.Logger
}

// NewRecordStoreRepository constructs the repository. Committed writes are announced
// through publisher; subscriptions are served from hub. When publisher is nil the hub
// is notified directly.
func NewRecordStoreRepository(db *sqlx.DB, hub *store.Hub, publisher store.Publisher, logger *zap.Logger) *RecordStoreRepository {
	if hub == nil {
		hub = store.NewHub()
	}
	if publisher == nil {
		publisher = hub
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordStoreRepository{db: db, hub: hub, publisher: publisher, logger: logger}
}

// EnsureSchema creates the backing table when missing.
func (r *RecordStoreRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, recordNodesSchema); err != nil {
		return fmt.Errorf("create record_nodes: %w", err)
	}
	return nil
}

type recordNodeRow struct {
	Path  string `db:"path"`
	Value []byte `db:"value"`
}

// Get implements store.Store.
func (r *RecordStoreRepository) Get(ctx context.Context, path string, dest interface{}) (bool, error) {
	path = store.CleanPath(path)
	var rows []recordNodeRow
	var err error
	if path == "" {
		err = r.db.SelectContext(ctx, &rows, `SELECT path, value FROM record_nodes ORDER BY path`)
	} else {
		err = r.db.SelectContext(ctx, &rows, `SELECT path, value FROM record_nodes WHERE path = $1 OR starts_with(path, $2) ORDER BY path`, path, path+"/")
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}

	leaves := make([]store.Leaf, 0, len(rows))
	for _, row := range rows {
		value, err := decodeNodeValue(row.Value)
		if err != nil {
			return false, fmt.Errorf("decode %s: %w", row.Path, err)
		}
		leaves = append(leaves, store.Leaf{Path: row.Path, Value: value})
	}
	node, found := store.Unflatten(path, leaves)
	if !found {
		return false, nil
	}
	if dest == nil {
		return true, nil
	}
	if err := store.Decode(node, dest); err != nil {
		return true, fmt.Errorf("get %s: %w", path, err)
	}
	return true, nil
}

// Set implements store.Store.
func (r *RecordStoreRepository) Set(ctx context.Context, path string, value interface{}) error {
	return r.Update(ctx, map[string]interface{}{path: value})
}

// Update implements store.Store.
func (r *RecordStoreRepository) Update(ctx context.Context, updates map[string]interface{}) error {
	return r.write(ctx, "", updates)
}

// UpdateIfExists implements store.Store. The guard subtree is locked with
// SELECT ... FOR UPDATE so a concurrent delete of it waits for this transaction.
func (r *RecordStoreRepository) UpdateIfExists(ctx context.Context, guard string, updates map[string]interface{}) error {
	guard = store.CleanPath(guard)
	if guard == "" {
		return fmt.Errorf("update guard: empty path")
	}
	return r.write(ctx, guard, updates)
}

func (r *RecordStoreRepository) write(ctx context.Context, guard string, updates map[string]interface{}) (err error) {
	writes, err := store.PrepareUpdate(updates)
	if err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", store.ErrWriteFailed, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if guard != "" {
		const lockGuard = `SELECT path FROM record_nodes WHERE path = $1 OR starts_with(path, $2) FOR UPDATE`
		var locked []string
		if err = tx.SelectContext(ctx, &locked, lockGuard, guard, guard+"/"); err != nil {
			return fmt.Errorf("%w: lock %s: %v", store.ErrWriteFailed, guard, err)
		}
		if len(locked) == 0 {
			return fmt.Errorf("%w: %s", store.ErrGuardMissing, guard)
		}
	}

	now := time.Now().UTC()
	for _, w := range writes {
		if err = r.applyWrite(ctx, tx, w, now); err != nil {
			return fmt.Errorf("%w: %s: %v", store.ErrWriteFailed, w.Path, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", store.ErrWriteFailed, err)
	}

	paths := make([]string, len(writes))
	for i, w := range writes {
		paths[i] = w.Path
	}
	if pubErr := r.publisher.Publish(ctx, paths); pubErr != nil {
		r.logger.Warn("record store change publish failed", zap.Strings("paths", paths), zap.Error(pubErr))
	}
	return nil
}

func (r *RecordStoreRepository) applyWrite(ctx context.Context, tx *sqlx.Tx, w store.Leaf, now time.Time) error {
	const deleteSubtree = `DELETE FROM record_nodes WHERE path = $1 OR starts_with(path, $2)`
	if _, err := tx.ExecContext(ctx, deleteSubtree, w.Path, w.Path+"/"); err != nil {
		return fmt.Errorf("clear subtree: %w", err)
	}
	if w.Value == nil {
		return nil
	}

	if ancestors := ancestorPaths(w.Path); len(ancestors) > 0 {
		const deleteAncestors = `DELETE FROM record_nodes WHERE path = ANY($1)`
		if _, err := tx.ExecContext(ctx, deleteAncestors, pq.Array(ancestors)); err != nil {
			return fmt.Errorf("clear scalar ancestors: %w", err)
		}
	}

	const insertNode = `INSERT INTO record_nodes (path, value, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	for _, leaf := range store.Flatten(w.Path, w.Value) {
		payload, err := json.Marshal(leaf.Value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", leaf.Path, err)
		}
		if _, err := tx.ExecContext(ctx, insertNode, leaf.Path, payload, now); err != nil {
			return fmt.Errorf("insert %s: %w", leaf.Path, err)
		}
	}
	return nil
}

// Subscribe implements store.Store.
func (r *RecordStoreRepository) Subscribe(path string, fn store.Listener) store.Subscription {
	return r.hub.Subscribe(path, fn)
}

func ancestorPaths(path string) []string {
	parts := store.SplitPath(path)
	if len(parts) <= 1 {
		return nil
	}
	ancestors := make([]string, 0, len(parts)-1)
	for i := 1; i < len(parts); i++ {
		ancestors = append(ancestors, store.JoinPath(parts[:i]...))
	}
	return ancestors
}

func decodeNodeValue(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}
