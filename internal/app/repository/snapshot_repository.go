package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ikkim/cartsync/internal/app/model"
	"github.com/ikkim/cartsync/internal/storage"
	"github.com/ikkim/cartsync/pkg/logger"
)

// snapshotKey is the fixed storage key for the last known-good cart.
const snapshotKey = "cartsync:snapshot"

// SnapshotRepository persists a recovery copy of the cart. It is never
// authoritative; the engine only reads it back when the remote load fails.
type SnapshotRepository interface {
	Save(ctx context.Context, items []model.CartLineItem) error
	Restore(ctx context.Context) ([]model.CartLineItem, error)
	Clear(ctx context.Context) error
}

type snapshotDocument struct {
	Items   []model.CartLineItem `json:"items"`
	SavedAt time.Time            `json:"saved_at"`
}

type snapshotRepository struct {
	kv storage.KV
}

func NewSnapshotRepository(kv storage.KV) SnapshotRepository {
	return &snapshotRepository{kv: kv}
}

func (r *snapshotRepository) Save(ctx context.Context, items []model.CartLineItem) error {
	doc := snapshotDocument{
		Items:   items,
		SavedAt: time.Now(),
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal cart snapshot: %w", err)
	}

	if err := r.kv.Set(ctx, snapshotKey, string(data)); err != nil {
		logger.Error("Failed to persist cart snapshot", err, map[string]interface{}{
			"item_count": len(items),
		})
		return err
	}

	logger.Debug("Cart snapshot persisted", map[string]interface{}{
		"item_count": len(items),
	})
	return nil
}

func (r *snapshotRepository) Restore(ctx context.Context) ([]model.CartLineItem, error) {
	data, err := r.kv.Get(ctx, snapshotKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		logger.Error("Failed to read cart snapshot", err, nil)
		return nil, err
	}

	var doc snapshotDocument
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cart snapshot: %w", err)
	}

	logger.Debug("Cart snapshot restored", map[string]interface{}{
		"item_count": len(doc.Items),
		"saved_at":   doc.SavedAt,
	})
	return doc.Items, nil
}

func (r *snapshotRepository) Clear(ctx context.Context) error {
	return r.kv.Delete(ctx, snapshotKey)
}
