package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ikkim/cartsync/internal/app/model"
	"github.com/ikkim/cartsync/internal/storage"
	"github.com/ikkim/cartsync/pkg/logger"
)

// queueKey is the fixed storage key for the offline operation queue,
// separate from the snapshot key so the two documents never clobber each
// other.
const queueKey = "cartsync:queue"

// QueueRepository persists the offline operation queue so queued mutations
// survive a reload. Order is FIFO: Append goes to the tail, List returns
// enqueue order.
type QueueRepository interface {
	List(ctx context.Context) ([]model.QueuedOperation, error)
	Append(ctx context.Context, op model.QueuedOperation) error
	Update(ctx context.Context, op model.QueuedOperation) error
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

type queueRepository struct {
	kv storage.KV
}

func NewQueueRepository(kv storage.KV) QueueRepository {
	return &queueRepository{kv: kv}
}

func (r *queueRepository) List(ctx context.Context) ([]model.QueuedOperation, error) {
	data, err := r.kv.Get(ctx, queueKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		logger.Error("Failed to read offline queue", err, nil)
		return nil, err
	}

	var ops []model.QueuedOperation
	if err := json.Unmarshal([]byte(data), &ops); err != nil {
		return nil, fmt.Errorf("failed to unmarshal offline queue: %w", err)
	}
	return ops, nil
}

func (r *queueRepository) Append(ctx context.Context, op model.QueuedOperation) error {
	ops, err := r.List(ctx)
	if err != nil {
		return err
	}

	ops = append(ops, op)
	if err := r.save(ctx, ops); err != nil {
		return err
	}

	logger.Info("Operation queued for later sync", map[string]interface{}{
		"operation_id": op.ID,
		"kind":         op.Kind,
		"pending":      len(ops),
	})
	return nil
}

func (r *queueRepository) Update(ctx context.Context, op model.QueuedOperation) error {
	ops, err := r.List(ctx)
	if err != nil {
		return err
	}

	for idx := range ops {
		if ops[idx].ID == op.ID {
			ops[idx] = op
			return r.save(ctx, ops)
		}
	}
	return fmt.Errorf("queued operation %s not found", op.ID)
}

func (r *queueRepository) Remove(ctx context.Context, id string) error {
	ops, err := r.List(ctx)
	if err != nil {
		return err
	}

	kept := ops[:0]
	for _, op := range ops {
		if op.ID != id {
			kept = append(kept, op)
		}
	}
	if len(kept) == 0 {
		return r.kv.Delete(ctx, queueKey)
	}
	return r.save(ctx, kept)
}

func (r *queueRepository) Clear(ctx context.Context) error {
	return r.kv.Delete(ctx, queueKey)
}

func (r *queueRepository) save(ctx context.Context, ops []model.QueuedOperation) error {
	data, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("failed to marshal offline queue: %w", err)
	}
	return r.kv.Set(ctx, queueKey, string(data))
}
