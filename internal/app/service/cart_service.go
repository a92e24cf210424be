package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ikkim/cartsync/internal/api"
	"github.com/ikkim/cartsync/internal/app/model"
	"github.com/ikkim/cartsync/internal/app/repository"
	"github.com/ikkim/cartsync/pkg/logger"
	"github.com/ikkim/cartsync/pkg/retry"
)

var (
	ErrCartItemNotFound = errors.New("cart item not found")
	ErrDrainInProgress  = errors.New("queue drain already running")
)

// ValidationError reports structural problems found before any state was
// touched. Never retried.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

// Outcome distinguishes a mutation confirmed by the server from one parked
// in the offline queue.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeQueued    Outcome = "queued"
)

// QueueReport summarizes one drain pass over the offline queue.
type QueueReport struct {
	Resolved int
	Pending  int
	Dropped  int
}

// CartService is the optimistic mutation core. Every mutation applies to
// in-memory state first, persists a snapshot, then confirms with the remote
// API (or queues while offline); confirmed failures roll the optimistic
// change back to its exact pre-mutation value.
type CartService interface {
	AddItem(ctx context.Context, product model.Product, quantity int, options []model.SelectedOption) (Outcome, error)
	RemoveItem(ctx context.Context, productID, optionName string) (Outcome, error)
	UpdateQuantity(ctx context.Context, productID string, quantity int, optionName string) (Outcome, error)
	ClearCart(ctx context.Context) (Outcome, error)
	LoadCart(ctx context.Context) error
	ProcessQueue(ctx context.Context) (QueueReport, error)
	State() model.CartState
	LastError() error
	SetOnline(online bool)
	IsOnline() bool
}

// Options wires the engine's collaborators. Notifier and Analytics fall
// back to log implementations when nil.
type Options struct {
	API             api.CartAPI
	Snapshots       repository.SnapshotRepository
	Queue           repository.QueueRepository
	Notifier        Notifier
	Analytics       Analytics
	Retry           retry.Config
	QueueMaxRetries int
}

type cartService struct {
	apiClient       api.CartAPI
	snapshots       repository.SnapshotRepository
	queue           repository.QueueRepository
	notifier        Notifier
	analytics       Analytics
	retryCfg        retry.Config
	queueMaxRetries int

	online   atomic.Bool
	draining atomic.Bool

	mu      sync.Mutex // serializes mutations, held across remote confirmation
	state   model.CartState
	lastErr error
}

func NewCartService(opts Options) CartService {
	if opts.Notifier == nil {
		opts.Notifier = NewLogNotifier()
	}
	if opts.Analytics == nil {
		opts.Analytics = NewLogAnalytics()
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	if opts.QueueMaxRetries == 0 {
		opts.QueueMaxRetries = model.MaxOperationRetries
	}

	s := &cartService{
		apiClient:       opts.API,
		snapshots:       opts.Snapshots,
		queue:           opts.Queue,
		notifier:        opts.Notifier,
		analytics:       opts.Analytics,
		retryCfg:        opts.Retry,
		queueMaxRetries: opts.QueueMaxRetries,
	}
	s.online.Store(true)
	return s
}

func (s *cartService) SetOnline(online bool) {
	s.online.Store(online)
}

func (s *cartService) IsOnline() bool {
	return s.online.Load()
}

// State returns a copy of the current cart state.
func (s *cartService) State() model.CartState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// LastError returns the error surfaced by the most recent failed mutation,
// or nil after a confirmed success.
func (s *cartService) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *cartService) AddItem(ctx context.Context, product model.Product, quantity int, options []model.SelectedOption) (Outcome, error) {
	logger.Info("Adding item to cart", map[string]interface{}{
		"product_id": product.ID,
		"quantity":   quantity,
		"options":    len(options),
	})

	candidate := model.CartLineItem{Product: product, Quantity: quantity, SelectedOptions: options}
	if problems := model.ValidateLineItem(candidate); len(problems) > 0 {
		err := &ValidationError{Problems: problems}
		s.recordError(err)
		s.notifier.Error("Could not add " + product.Name + ": " + strings.Join(problems, ", "))
		s.analytics.Track(EventItemAddFailed, map[string]interface{}{
			"product_id": product.ID,
			"quantity":   quantity,
			"error":      err.Error(),
		})
		return "", err
	}

	key := candidate.Key()

	s.mu.Lock()
	if idx := s.state.FindByKey(key); idx >= 0 {
		// Same identity already in the cart: add on top of the existing
		// quantity instead of creating a duplicate line item.
		merged := s.state.Items[idx].Quantity + quantity
		if merged > model.MaxQuantity {
			s.mu.Unlock()
			err := &ValidationError{Problems: []string{"quantity cannot exceed 100"}}
			s.recordError(err)
			s.notifier.Error("Could not add " + product.Name + ": quantity cannot exceed 100")
			s.analytics.Track(EventItemAddFailed, map[string]interface{}{
				"product_id": product.ID,
				"quantity":   quantity,
				"error":      err.Error(),
			})
			return "", err
		}
		outcome, err := s.applyUpdateLocked(ctx, idx, merged, firstOptionName(options))
		s.mu.Unlock()
		return s.finishAdd(product, quantity, outcome, err)
	}

	// Optimistic insert
	s.state.Items = append(s.state.Items, candidate.Clone())
	s.markDirtyLocked(ctx)

	rb := rollbackRecord{kind: model.OpAdd, insertedKey: key}
	outcome, err := s.confirmLocked(ctx, model.NewAddOperation(product, quantity, options), rb)
	s.mu.Unlock()

	return s.finishAdd(product, quantity, outcome, err)
}

func (s *cartService) finishAdd(product model.Product, quantity int, outcome Outcome, err error) (Outcome, error) {
	if err != nil {
		s.notifier.Error("Could not add " + product.Name + " to your cart")
		s.analytics.Track(EventItemAddFailed, map[string]interface{}{
			"product_id": product.ID,
			"quantity":   quantity,
			"error":      err.Error(),
		})
		return "", err
	}

	if outcome == OutcomeQueued {
		s.notifier.Info(product.Name + " will be added when you're back online")
	} else {
		s.notifier.Success("Added " + product.Name + " to your cart")
	}
	s.analytics.Track(EventItemAdded, map[string]interface{}{
		"product_id": product.ID,
		"quantity":   quantity,
		"outcome":    string(outcome),
	})
	return outcome, nil
}

func (s *cartService) RemoveItem(ctx context.Context, productID, optionName string) (Outcome, error) {
	logger.Info("Removing item from cart", map[string]interface{}{
		"product_id":  productID,
		"option_name": optionName,
	})

	s.mu.Lock()
	idx := s.findItemLocked(productID, optionName)
	if idx < 0 {
		s.mu.Unlock()
		s.recordError(ErrCartItemNotFound)
		return "", ErrCartItemNotFound
	}

	removed := s.state.Items[idx]
	s.state.Items = append(s.state.Items[:idx], s.state.Items[idx+1:]...)
	s.markDirtyLocked(ctx)

	rb := rollbackRecord{kind: model.OpRemove, removedItem: &removed, removedIndex: idx}
	outcome, err := s.confirmLocked(ctx, model.NewRemoveOperation(productID, optionName), rb)
	s.mu.Unlock()

	name := removed.Product.Name
	if err != nil {
		s.notifier.Error("Could not remove " + name + " from your cart")
		s.analytics.Track(EventItemRemoved, map[string]interface{}{
			"product_id": productID,
			"error":      err.Error(),
		})
		return "", err
	}

	if outcome == OutcomeQueued {
		s.notifier.Info(name + " will be removed when you're back online")
	} else {
		s.notifier.Success("Removed " + name + " from your cart")
	}
	s.analytics.Track(EventItemRemoved, map[string]interface{}{
		"product_id": productID,
		"outcome":    string(outcome),
	})
	return outcome, nil
}

func (s *cartService) UpdateQuantity(ctx context.Context, productID string, quantity int, optionName string) (Outcome, error) {
	// Quantity 0 is never a valid persisted state: redirect to removal.
	if quantity < model.MinQuantity {
		return s.RemoveItem(ctx, productID, optionName)
	}
	if quantity > model.MaxQuantity {
		err := &ValidationError{Problems: []string{"quantity cannot exceed 100"}}
		s.recordError(err)
		s.notifier.Error("Quantity cannot exceed 100")
		s.analytics.Track(EventQuantityUpdated, map[string]interface{}{
			"product_id": productID,
			"quantity":   quantity,
			"error":      err.Error(),
		})
		return "", err
	}

	logger.Info("Updating cart item quantity", map[string]interface{}{
		"product_id":  productID,
		"quantity":    quantity,
		"option_name": optionName,
	})

	s.mu.Lock()
	idx := s.findItemLocked(productID, optionName)
	if idx < 0 {
		s.mu.Unlock()
		s.recordError(ErrCartItemNotFound)
		return "", ErrCartItemNotFound
	}
	outcome, err := s.applyUpdateLocked(ctx, idx, quantity, optionName)
	s.mu.Unlock()

	if err != nil {
		s.notifier.Error("Could not update the quantity")
		s.analytics.Track(EventQuantityUpdated, map[string]interface{}{
			"product_id": productID,
			"quantity":   quantity,
			"error":      err.Error(),
		})
		return "", err
	}

	if outcome == OutcomeQueued {
		s.notifier.Info("Quantity will be updated when you're back online")
	} else {
		s.notifier.Success("Quantity updated")
	}
	s.analytics.Track(EventQuantityUpdated, map[string]interface{}{
		"product_id": productID,
		"quantity":   quantity,
		"outcome":    string(outcome),
	})
	return outcome, nil
}

func (s *cartService) ClearCart(ctx context.Context) (Outcome, error) {
	logger.Info("Clearing cart", nil)

	s.mu.Lock()
	if len(s.state.Items) == 0 {
		// Already empty: nothing to confirm.
		s.mu.Unlock()
		return OutcomeConfirmed, nil
	}

	prev := s.state.Items
	s.state.Items = nil
	s.markDirtyLocked(ctx)

	rb := rollbackRecord{kind: model.OpClear, prevItems: prev}
	outcome, err := s.confirmLocked(ctx, model.NewClearOperation(), rb)
	s.mu.Unlock()

	if err != nil {
		s.notifier.Error("Could not clear your cart")
		s.analytics.Track(EventCartCleared, map[string]interface{}{
			"error": err.Error(),
		})
		return "", err
	}

	if outcome == OutcomeQueued {
		s.notifier.Info("Cart will be cleared when you're back online")
	} else {
		s.notifier.Success("Cart cleared")
	}
	s.analytics.Track(EventCartCleared, map[string]interface{}{
		"outcome": string(outcome),
	})
	return outcome, nil
}

// LoadCart replaces in-memory state with the server's authoritative cart.
// A fetch failure degrades silently to the local snapshot (or an empty
// cart): a stale view beats an error state on this path, so no user-facing
// error is raised.
func (s *cartService) LoadCart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cart *model.RemoteCart
	err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		fetched, fetchErr := s.apiClient.FetchCart(ctx)
		if fetchErr != nil {
			return fetchErr
		}
		cart = fetched
		return nil
	})
	if err != nil {
		logger.Warn("Cart fetch failed, falling back to local snapshot", map[string]interface{}{
			"error": err.Error(),
		})
		items, snapErr := s.snapshots.Restore(ctx)
		if snapErr != nil {
			logger.Error("Snapshot restore failed, presenting empty cart", snapErr, nil)
			items = nil
		}
		s.state.Items = model.CloneItems(items)
		s.state.Recompute()
		return nil
	}

	s.state.Items = model.CloneItems(cart.Items)
	s.state.Version = cart.Version
	now := time.Now()
	s.state.LastSynced = &now
	s.state.IsDirty = false
	s.lastErr = nil

	// The server does not know about queued offline mutations yet.
	// Re-apply them on top of the authoritative cart so the local view
	// keeps them until a drain confirms them; without this, a pull while
	// the queue is non-empty would drop them from local state.
	if ops, qErr := s.queue.List(ctx); qErr != nil {
		logger.Error("Failed to read offline queue during cart load", qErr, nil)
	} else if len(ops) > 0 {
		for _, op := range ops {
			s.applyOperationLocked(op)
		}
		s.state.IsDirty = true
	}

	s.state.Recompute()
	s.saveSnapshotLocked(ctx)

	logger.Info("Cart loaded from server", map[string]interface{}{
		"item_count": s.state.ItemCount,
		"version":    s.state.Version,
	})
	return nil
}

// ProcessQueue drains the offline queue in FIFO order, replaying each
// recorded operation through the same confirmation path as a live mutation.
// Single-flight: a second concurrent drain returns ErrDrainInProgress.
func (s *cartService) ProcessQueue(ctx context.Context) (QueueReport, error) {
	if !s.draining.CompareAndSwap(false, true) {
		return QueueReport{}, ErrDrainInProgress
	}
	defer s.draining.Store(false)

	ops, err := s.queue.List(ctx)
	if err != nil {
		return QueueReport{}, err
	}
	if len(ops) == 0 {
		return QueueReport{}, nil
	}

	logger.Info("Draining offline queue", map[string]interface{}{
		"pending": len(ops),
	})

	var report QueueReport
	for _, op := range ops {
		if replayErr := s.replayOperation(ctx, op); replayErr != nil {
			op.Retries++
			if op.Retries >= s.queueMaxRetries {
				// Out of budget: abandon rather than retry forever.
				logger.Error("Dropping queued operation after repeated failures", replayErr, map[string]interface{}{
					"operation_id": op.ID,
					"kind":         op.Kind,
					"retries":      op.Retries,
				})
				if err := s.queue.Remove(ctx, op.ID); err != nil {
					logger.Error("Failed to drop queued operation", err, map[string]interface{}{
						"operation_id": op.ID,
					})
				}
				report.Dropped++
			} else {
				if err := s.queue.Update(ctx, op); err != nil {
					logger.Error("Failed to record queued operation retry", err, map[string]interface{}{
						"operation_id": op.ID,
					})
				}
				report.Pending++
			}
			continue
		}

		if err := s.queue.Remove(ctx, op.ID); err != nil {
			logger.Error("Failed to remove replayed operation from queue", err, map[string]interface{}{
				"operation_id": op.ID,
			})
		}
		report.Resolved++
	}

	if report.Pending > 0 {
		s.notifier.Info(fmt.Sprintf("%d cart changes are still waiting to sync", report.Pending))
	} else if report.Resolved > 0 {
		s.notifier.Success("All offline cart changes are synced")
	}
	s.analytics.Track(EventQueueProcessed, map[string]interface{}{
		"resolved": report.Resolved,
		"pending":  report.Pending,
		"dropped":  report.Dropped,
	})

	return report, nil
}

// replayOperation pushes a queued operation through the confirmation path.
// The optimistic change is already present in local state — from when the
// operation was recorded, or re-applied by LoadCart while the queue was
// non-empty — so replay never re-applies it; a failure here only bumps the
// retry counter, it does not roll local state back.
func (s *cartService) replayOperation(ctx context.Context, op model.QueuedOperation) error {
	logger.Debug("Replaying queued operation", map[string]interface{}{
		"operation_id": op.ID,
		"kind":         op.Kind,
		"retries":      op.Retries,
	})

	err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		return s.confirmRemote(ctx, op)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.commitLocked(ctx)
	s.mu.Unlock()
	return nil
}

// findItemLocked resolves (productID, optionName) to an item index. An
// empty option name matches the first item for the product; a non-empty
// name requires the item to carry an option with that name.
func (s *cartService) findItemLocked(productID, optionName string) int {
	for idx, item := range s.state.Items {
		if item.Product.ID != productID {
			continue
		}
		if optionName == "" {
			return idx
		}
		for _, opt := range item.SelectedOptions {
			if opt.Name == optionName {
				return idx
			}
		}
	}
	return -1
}

// applyUpdateLocked optimistically sets a new quantity and confirms it.
// Caller holds the mutation lock.
func (s *cartService) applyUpdateLocked(ctx context.Context, idx, quantity int, optionName string) (Outcome, error) {
	item := &s.state.Items[idx]
	prev := item.Quantity
	key := item.Key()
	productID := item.Product.ID

	item.Quantity = quantity
	s.markDirtyLocked(ctx)

	rb := rollbackRecord{kind: model.OpUpdate, updatedKey: key, prevQuantity: prev}
	return s.confirmLocked(ctx, model.NewUpdateOperation(productID, quantity, optionName), rb)
}

// confirmLocked finishes a mutation whose optimistic change is already in
// state: queue it while offline, otherwise confirm remotely under retry and
// either commit or roll back. Caller holds the mutation lock.
func (s *cartService) confirmLocked(ctx context.Context, op model.QueuedOperation, rb rollbackRecord) (Outcome, error) {
	if !s.online.Load() {
		if err := s.queue.Append(ctx, op); err != nil {
			// Could not even queue: undo the optimistic change.
			s.rollbackLocked(ctx, rb)
			s.lastErr = err
			return "", err
		}
		return OutcomeQueued, nil
	}

	err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		return s.confirmRemote(ctx, op)
	})
	if err != nil {
		logger.Warn("Remote confirmation failed, rolling back", map[string]interface{}{
			"kind":  op.Kind,
			"error": err.Error(),
		})
		s.rollbackLocked(ctx, rb)
		s.lastErr = err
		return "", err
	}

	s.commitLocked(ctx)
	return OutcomeConfirmed, nil
}

// confirmRemote maps a tagged operation onto the Cart API. Both live
// mutations and queue replays go through this single entry point.
func (s *cartService) confirmRemote(ctx context.Context, op model.QueuedOperation) error {
	switch op.Kind {
	case model.OpAdd:
		return s.apiClient.AddItem(ctx, api.AddItemRequest{
			ProductID:       op.Add.Product.ID,
			Quantity:        op.Add.Quantity,
			SelectedOptions: op.Add.SelectedOptions,
		})
	case model.OpRemove:
		return s.apiClient.RemoveItem(ctx, op.Remove.ProductID)
	case model.OpUpdate:
		return s.apiClient.UpdateItem(ctx, op.Update.ProductID, op.Update.Quantity)
	case model.OpClear:
		return s.apiClient.ClearCart(ctx)
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}

// applyOperationLocked replays a queued operation against local state only,
// with the same identity-merge semantics as a live mutation. Used when the
// authoritative cart replaces local state before the queue has drained.
// Caller holds the mutation lock.
func (s *cartService) applyOperationLocked(op model.QueuedOperation) {
	switch op.Kind {
	case model.OpAdd:
		key := model.ItemKey(op.Add.Product.ID, op.Add.SelectedOptions)
		if idx := s.state.FindByKey(key); idx >= 0 {
			merged := s.state.Items[idx].Quantity + op.Add.Quantity
			if merged > model.MaxQuantity {
				merged = model.MaxQuantity
			}
			s.state.Items[idx].Quantity = merged
			return
		}
		s.state.Items = append(s.state.Items, model.CartLineItem{
			Product:         op.Add.Product,
			Quantity:        op.Add.Quantity,
			SelectedOptions: op.Add.SelectedOptions,
		})
	case model.OpRemove:
		if idx := s.findItemLocked(op.Remove.ProductID, op.Remove.OptionName); idx >= 0 {
			s.state.Items = append(s.state.Items[:idx], s.state.Items[idx+1:]...)
		}
	case model.OpUpdate:
		if idx := s.findItemLocked(op.Update.ProductID, op.Update.OptionName); idx >= 0 {
			s.state.Items[idx].Quantity = op.Update.Quantity
		}
	case model.OpClear:
		s.state.Items = nil
	}
}

// rollbackRecord captures the exact pre-mutation value before the
// optimistic write. Rollback reapplies it verbatim; it never recomputes
// from post-failure state.
type rollbackRecord struct {
	kind model.OperationKind

	insertedKey string // add: key of the item to take back out

	removedItem  *model.CartLineItem // remove: the item to reinsert
	removedIndex int                 // remove: its original position

	updatedKey   string // update: key of the item whose quantity changed
	prevQuantity int    // update: the original quantity

	prevItems []model.CartLineItem // clear: the original item slice
}

func (s *cartService) rollbackLocked(ctx context.Context, rb rollbackRecord) {
	switch rb.kind {
	case model.OpAdd:
		if idx := s.state.FindByKey(rb.insertedKey); idx >= 0 {
			s.state.Items = append(s.state.Items[:idx], s.state.Items[idx+1:]...)
		}
	case model.OpRemove:
		idx := rb.removedIndex
		if idx > len(s.state.Items) {
			idx = len(s.state.Items)
		}
		items := append(s.state.Items[:idx:idx], *rb.removedItem)
		s.state.Items = append(items, s.state.Items[idx:]...)
	case model.OpUpdate:
		if idx := s.state.FindByKey(rb.updatedKey); idx >= 0 {
			s.state.Items[idx].Quantity = rb.prevQuantity
		}
	case model.OpClear:
		s.state.Items = rb.prevItems
	}

	s.state.Recompute()
	s.saveSnapshotLocked(ctx)
}

// commitLocked records a confirmed mutation: version advances, lastSynced
// is stamped, the dirty flag clears.
func (s *cartService) commitLocked(ctx context.Context) {
	s.state.Version++
	now := time.Now()
	s.state.LastSynced = &now
	s.state.IsDirty = false
	s.lastErr = nil
	s.saveSnapshotLocked(ctx)
}

func (s *cartService) markDirtyLocked(ctx context.Context) {
	s.state.IsDirty = true
	s.state.Recompute()
	s.saveSnapshotLocked(ctx)
}

func (s *cartService) saveSnapshotLocked(ctx context.Context) {
	if err := s.snapshots.Save(ctx, model.CloneItems(s.state.Items)); err != nil {
		// Snapshot loss only hurts recovery after a crash, never the
		// current session.
		logger.Error("Failed to save cart snapshot", err, nil)
	}
}

func (s *cartService) recordError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func firstOptionName(options []model.SelectedOption) string {
	if len(options) == 0 {
		return ""
	}
	return options[0].Name
}
