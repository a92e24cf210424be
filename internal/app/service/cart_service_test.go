package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ikkim/cartsync/internal/api"
	"github.com/ikkim/cartsync/internal/app/model"
	"github.com/ikkim/cartsync/internal/app/repository"
	"github.com/ikkim/cartsync/internal/storage"
	"github.com/ikkim/cartsync/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCartAPI records confirmation calls and can fail on demand.
type fakeCartAPI struct {
	mu       sync.Mutex
	calls    int // mutation attempts, including failed ones
	failures int // fail this many upcoming mutation attempts
	failAll  bool

	addReqs []api.AddItemRequest
	updates []api.AddItemRequest // ProductID + Quantity reused
	removes []string
	clears  int

	cart     model.RemoteCart
	fetchErr error
	block    chan struct{} // when set, mutation attempts wait on it
	blocked  chan struct{} // signalled once an attempt is parked on block
}

func (f *fakeCartAPI) mutate(record func()) error {
	if f.block != nil {
		if f.blocked != nil {
			select {
			case f.blocked <- struct{}{}:
			default:
			}
		}
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.failAll || f.failures > 0 {
		if f.failures > 0 {
			f.failures--
		}
		return errors.New("remote unavailable")
	}
	record()
	return nil
}

func (f *fakeCartAPI) FetchCart(ctx context.Context) (*model.RemoteCart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	cart := f.cart
	cart.Items = model.CloneItems(f.cart.Items)
	return &cart, nil
}

func (f *fakeCartAPI) AddItem(ctx context.Context, req api.AddItemRequest) error {
	return f.mutate(func() { f.addReqs = append(f.addReqs, req) })
}

func (f *fakeCartAPI) UpdateItem(ctx context.Context, productID string, quantity int) error {
	return f.mutate(func() {
		f.updates = append(f.updates, api.AddItemRequest{ProductID: productID, Quantity: quantity})
	})
}

func (f *fakeCartAPI) RemoveItem(ctx context.Context, productID string) error {
	return f.mutate(func() { f.removes = append(f.removes, productID) })
}

func (f *fakeCartAPI) ClearCart(ctx context.Context) error {
	return f.mutate(func() { f.clears++ })
}

// recordingNotifier captures user-facing messages.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) record(level, msg string) {
	n.mu.Lock()
	n.messages = append(n.messages, level+": "+msg)
	n.mu.Unlock()
}

func (n *recordingNotifier) Success(msg string) { n.record("success", msg) }
func (n *recordingNotifier) Error(msg string)   { n.record("error", msg) }
func (n *recordingNotifier) Info(msg string)    { n.record("info", msg) }

func setupCartServiceTest(t *testing.T) (*fakeCartAPI, *recordingNotifier, repository.QueueRepository, CartService) {
	t.Helper()

	kv := storage.NewMemoryKV()
	apiClient := &fakeCartAPI{}
	notifier := &recordingNotifier{}
	queueRepo := repository.NewQueueRepository(kv)

	svc := NewCartService(Options{
		API:       apiClient,
		Snapshots: repository.NewSnapshotRepository(kv),
		Queue:     queueRepo,
		Notifier:  notifier,
		Retry:     retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond},
	})
	return apiClient, notifier, queueRepo, svc
}

func burger() model.Product {
	return model.Product{ID: "p1", Name: "Burger", Price: 10}
}

func TestCartService_AddItem_Success(t *testing.T) {
	apiClient, _, _, svc := setupCartServiceTest(t)

	outcome, err := svc.AddItem(context.Background(), burger(), 2, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, outcome)

	state := svc.State()
	require.Len(t, state.Items, 1)
	assert.Equal(t, 2, state.Items[0].Quantity)
	assert.Equal(t, int64(1), state.Version)
	assert.NotNil(t, state.LastSynced)
	assert.False(t, state.IsDirty)
	assert.Equal(t, 2, state.ItemCount)
	assert.InDelta(t, 20.0, state.TotalPrice, 1e-9)

	require.Len(t, apiClient.addReqs, 1)
	assert.Equal(t, "p1", apiClient.addReqs[0].ProductID)
	assert.NoError(t, svc.LastError())
}

func TestCartService_AddItem_ValidationNeverReachesRemote(t *testing.T) {
	apiClient, _, _, svc := setupCartServiceTest(t)

	_, err := svc.AddItem(context.Background(), model.Product{ID: "", Name: "x", Price: 1}, 1, nil)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, apiClient.calls)
	assert.Empty(t, svc.State().Items)
	assert.Error(t, svc.LastError())
}

func TestCartService_AddItem_RollbackOnRemoteFailure(t *testing.T) {
	apiClient, _, _, svc := setupCartServiceTest(t)
	apiClient.failAll = true

	_, err := svc.AddItem(context.Background(), burger(), 2, nil)
	require.Error(t, err)

	// Three attempts, then the optimistic insert is taken back out
	assert.Equal(t, 3, apiClient.calls)
	assert.Empty(t, svc.State().Items)
	assert.Zero(t, svc.State().ItemCount)
	assert.Error(t, svc.LastError())
}

func TestCartService_AddItem_IdentityMerge(t *testing.T) {
	_, _, _, svc := setupCartServiceTest(t)
	ctx := context.Background()
	opts := []model.SelectedOption{{Name: "bacon", PriceDelta: 1}}

	_, err := svc.AddItem(ctx, burger(), 1, opts)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, burger(), 2, opts)
	require.NoError(t, err)

	state := svc.State()
	require.Len(t, state.Items, 1)
	assert.Equal(t, 3, state.Items[0].Quantity)
}

func TestCartService_AddItem_IdentityDistinction(t *testing.T) {
	_, _, _, svc := setupCartServiceTest(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, burger(), 1, []model.SelectedOption{{Name: "bacon"}})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, burger(), 1, []model.SelectedOption{{Name: "extra cheese"}})
	require.NoError(t, err)

	assert.Len(t, svc.State().Items, 2)
}

func TestCartService_AddItem_MergeOverflowRejected(t *testing.T) {
	_, _, _, svc := setupCartServiceTest(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, burger(), 60, nil)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, burger(), 50, nil)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 60, svc.State().Items[0].Quantity)
}

func TestCartService_UpdateQuantity_Success(t *testing.T) {
	apiClient, _, _, svc := setupCartServiceTest(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, burger(), 2, nil)
	require.NoError(t, err)

	outcome, err := svc.UpdateQuantity(ctx, "p1", 5, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, outcome)

	state := svc.State()
	assert.Equal(t, 5, state.Items[0].Quantity)
	assert.InDelta(t, 50.0, state.TotalPrice, 1e-9)
	require.Len(t, apiClient.updates, 1)
	assert.Equal(t, 5, apiClient.updates[0].Quantity)
}

func TestCartService_UpdateQuantity_ZeroRemoves(t *testing.T) {
	apiClient, _, _, svc := setupCartServiceTest(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, burger(), 2, nil)
	require.NoError(t, err)

	outcome, err := svc.UpdateQuantity(ctx, "p1", 0, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, outcome)

	assert.Empty(t, svc.State().Items)
	assert.Equal(t, []string{"p1"}, apiClient.removes)
}

func TestCartService_UpdateQuantity_CeilingRejected(t *testing.T) {
	apiClient, _, _, svc := setupCartServiceTest(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, burger(), 2, nil)
	require.NoError(t, err)
	callsBefore := apiClient.calls

	_, err = svc.UpdateQuantity(ctx, "p1", 101, "")

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 2, svc.State().Items[0].Quantity)
	assert.Equal(t, callsBefore, apiClient.calls)
}

func TestCartService_UpdateQuantity_RollbackRestoresExactQuantity(t *testing.T) {
	apiClient, _, _, svc := setupCartServiceTest(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, burger(), 2, nil)
	require.NoError(t, err)

	apiClient.failAll = true
	_, err = svc.UpdateQuantity(ctx, "p1", 5, "")
	require.Error(t, err)

	state := svc.State()
	require.Len(t, state.Items, 1)
	assert.Equal(t, 2, state.Items[0].Quantity)
	assert.InDelta(t, 20.0, state.TotalPrice, 1e-9)
}

func TestCartService_UpdateQuantity_NotFound(t *testing.T) {
	_, _, _, svc := setupCartServiceTest(t)

	_, err := svc.UpdateQuantity(context.Background(), "missing", 2, "")
	assert.ErrorIs(t, err, ErrCartItemNotFound)
}

func TestCartService_RemoveItem_RollbackReinsertsAtPosition(t *testing.T) {
	apiClient, _, _, svc := setupCartServiceTest(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, burger(), 2, nil)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, model.Product{ID: "p2", Name: "Pizza", Price: 8}, 1, nil)
	require.NoError(t, err)

	apiClient.failAll = true
	_, err = svc.RemoveItem(ctx, "p1", "")
	require.Error(t, err)

	state := svc.State()
	require.Len(t, state.Items, 2)
	assert.Equal(t, "p1", state.Items[0].Product.ID)
	assert.Equal(t, 2, state.Items[0].Quantity)
	assert.Equal(t, "p2", state.Items[1].Product.ID)
}

func TestCartService_RemoveItem_ByOptionName(t *testing.T) {
	_, _, _, svc := setupCartServiceTest(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, burger(), 1, []model.SelectedOption{{Name: "bacon"}})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, burger(), 1, []model.SelectedOption{{Name: "extra cheese"}})
	require.NoError(t, err)

	_, err = svc.RemoveItem(ctx, "p1", "extra cheese")
	require.NoError(t, err)

	state := svc.State()
	require.Len(t, state.Items, 1)
	assert.Equal(t, "bacon", state.Items[0].SelectedOptions[0].Name)
}

func TestCartService_ClearCart_Idempotent(t *testing.T) {
	apiClient, _, _, svc := setupCartServiceTest(t)

	outcome, err := svc.ClearCart(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, outcome)
	assert.Empty(t, svc.State().Items)
	assert.Zero(t, apiClient.calls)
}

func TestCartService_ClearCart_RollbackRestoresOriginalItems(t *testing.T) {
	apiClient, _, _, svc := setupCartServiceTest(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, burger(), 2, nil)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, model.Product{ID: "p2", Name: "Pizza", Price: 8}, 3, nil)
	require.NoError(t, err)

	apiClient.failAll = true
	_, err = svc.ClearCart(ctx)
	require.Error(t, err)

	state := svc.State()
	require.Len(t, state.Items, 2)
	assert.Equal(t, "p1", state.Items[0].Product.ID)
	assert.Equal(t, 2, state.Items[0].Quantity)
	assert.Equal(t, "p2", state.Items[1].Product.ID)
	assert.Equal(t, 3, state.Items[1].Quantity)
	assert.Equal(t, 5, state.ItemCount)
}

func TestCartService_Offline_QueuesInsteadOfConfirming(t *testing.T) {
	apiClient, notifier, queueRepo, svc := setupCartServiceTest(t)
	ctx := context.Background()

	svc.SetOnline(false)
	outcome, err := svc.AddItem(ctx, burger(), 1, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, outcome)

	// Optimistic state holds, nothing hit the network
	state := svc.State()
	require.Len(t, state.Items, 1)
	assert.True(t, state.IsDirty)
	assert.Zero(t, apiClient.calls)

	ops, err := queueRepo.List(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, model.OpAdd, ops[0].Kind)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Contains(t, notifier.messages, "info: Burger will be added when you're back online")
}

func TestCartService_ProcessQueue_ReplaysWithoutDuplicates(t *testing.T) {
	apiClient, _, queueRepo, svc := setupCartServiceTest(t)
	ctx := context.Background()

	svc.SetOnline(false)
	_, err := svc.AddItem(ctx, burger(), 1, nil)
	require.NoError(t, err)

	svc.SetOnline(true)
	report, err := svc.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueReport{Resolved: 1}, report)

	// Same single item locally, one confirmation on the wire
	state := svc.State()
	require.Len(t, state.Items, 1)
	assert.Equal(t, 1, state.Items[0].Quantity)
	assert.False(t, state.IsDirty)
	require.Len(t, apiClient.addReqs, 1)

	ops, _ := queueRepo.List(ctx)
	assert.Empty(t, ops)
}

func TestCartService_ProcessQueue_DropsAfterMaxRetries(t *testing.T) {
	apiClient, _, queueRepo, svc := setupCartServiceTest(t)
	ctx := context.Background()

	svc.SetOnline(false)
	_, err := svc.AddItem(ctx, burger(), 1, nil)
	require.NoError(t, err)

	svc.SetOnline(true)
	apiClient.failAll = true

	report, err := svc.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueReport{Pending: 1}, report)

	report, err = svc.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueReport{Pending: 1}, report)

	// Third failed pass exhausts the budget
	report, err = svc.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueReport{Dropped: 1}, report)

	ops, _ := queueRepo.List(ctx)
	assert.Empty(t, ops)
}

func TestCartService_ProcessQueue_SingleFlight(t *testing.T) {
	apiClient, _, _, svc := setupCartServiceTest(t)
	ctx := context.Background()

	svc.SetOnline(false)
	_, err := svc.AddItem(ctx, burger(), 1, nil)
	require.NoError(t, err)
	svc.SetOnline(true)

	apiClient.block = make(chan struct{})
	apiClient.blocked = make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		svc.ProcessQueue(ctx)
		close(done)
	}()

	// Wait until the drain is parked inside the remote call, then make
	// sure a second drain refuses to start
	<-apiClient.blocked
	_, err = svc.ProcessQueue(ctx)
	assert.ErrorIs(t, err, ErrDrainInProgress)

	close(apiClient.block)
	<-done
}

func TestCartService_LoadCart_ReplacesState(t *testing.T) {
	apiClient, _, _, svc := setupCartServiceTest(t)
	apiClient.cart = model.RemoteCart{
		Items: []model.CartLineItem{
			{Product: model.Product{ID: "p9", Name: "Salad", Price: 6}, Quantity: 2},
		},
		Version: 42,
	}

	require.NoError(t, svc.LoadCart(context.Background()))

	state := svc.State()
	require.Len(t, state.Items, 1)
	assert.Equal(t, "p9", state.Items[0].Product.ID)
	assert.Equal(t, int64(42), state.Version)
	assert.NotNil(t, state.LastSynced)
	assert.False(t, state.IsDirty)
	assert.InDelta(t, 12.0, state.TotalPrice, 1e-9)
}

func TestCartService_LoadCart_ReappliesQueuedAdd(t *testing.T) {
	apiClient, _, _, svc := setupCartServiceTest(t)
	ctx := context.Background()

	svc.SetOnline(false)
	_, err := svc.AddItem(ctx, burger(), 1, nil)
	require.NoError(t, err)

	apiClient.cart = model.RemoteCart{
		Items: []model.CartLineItem{
			{Product: model.Product{ID: "p9", Name: "Salad", Price: 6}, Quantity: 2},
		},
		Version: 7,
	}
	require.NoError(t, svc.LoadCart(ctx))

	// The server does not know about the queued add yet; the local view
	// keeps it on top of the authoritative cart
	state := svc.State()
	require.Len(t, state.Items, 2)
	assert.Equal(t, "p9", state.Items[0].Product.ID)
	assert.Equal(t, "p1", state.Items[1].Product.ID)
	assert.Equal(t, 1, state.Items[1].Quantity)
	assert.True(t, state.IsDirty)
}

func TestCartService_LoadCart_ReappliesQueuedUpdateOverServerItem(t *testing.T) {
	apiClient, _, _, svc := setupCartServiceTest(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, burger(), 2, nil)
	require.NoError(t, err)

	svc.SetOnline(false)
	_, err = svc.UpdateQuantity(ctx, "p1", 5, "")
	require.NoError(t, err)

	// Server still has the pre-offline quantity
	apiClient.cart = model.RemoteCart{
		Items:   []model.CartLineItem{{Product: burger(), Quantity: 2}},
		Version: 3,
	}
	require.NoError(t, svc.LoadCart(ctx))

	state := svc.State()
	require.Len(t, state.Items, 1)
	assert.Equal(t, 5, state.Items[0].Quantity)
	assert.True(t, state.IsDirty)
}

func TestCartService_LoadCart_ThenDrainConverges(t *testing.T) {
	apiClient, _, queueRepo, svc := setupCartServiceTest(t)
	ctx := context.Background()

	svc.SetOnline(false)
	_, err := svc.AddItem(ctx, burger(), 1, nil)
	require.NoError(t, err)

	// Pull the (empty) authoritative cart, then drain: the offline item
	// must survive locally and land on the server exactly once
	svc.SetOnline(true)
	require.NoError(t, svc.LoadCart(ctx))
	report, err := svc.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueReport{Resolved: 1}, report)

	state := svc.State()
	require.Len(t, state.Items, 1)
	assert.Equal(t, "p1", state.Items[0].Product.ID)
	assert.False(t, state.IsDirty)
	require.Len(t, apiClient.addReqs, 1)

	ops, _ := queueRepo.List(ctx)
	assert.Empty(t, ops)
}

func TestCartService_LoadCart_FallsBackToSnapshotSilently(t *testing.T) {
	apiClient, notifier, _, svc := setupCartServiceTest(t)
	ctx := context.Background()

	// Seed a snapshot through a confirmed mutation
	_, err := svc.AddItem(ctx, burger(), 2, nil)
	require.NoError(t, err)

	apiClient.fetchErr = errors.New("server down")
	require.NoError(t, svc.LoadCart(ctx))

	state := svc.State()
	require.Len(t, state.Items, 1)
	assert.Equal(t, "p1", state.Items[0].Product.ID)
	assert.Equal(t, 2, state.ItemCount)

	// The degraded path is silent: no error notification
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	for _, msg := range notifier.messages {
		assert.NotContains(t, msg, "error:")
	}
}

func TestCartService_LoadCart_NoSnapshotYieldsEmptyCart(t *testing.T) {
	apiClient, _, _, svc := setupCartServiceTest(t)
	apiClient.fetchErr = errors.New("server down")

	require.NoError(t, svc.LoadCart(context.Background()))
	assert.Empty(t, svc.State().Items)
	assert.Zero(t, svc.State().ItemCount)
}

func TestCartService_EndToEndScenario(t *testing.T) {
	_, _, _, svc := setupCartServiceTest(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, model.Product{ID: "p1", Name: "Burger", Price: 10}, 2, nil)
	require.NoError(t, err)
	state := svc.State()
	require.Len(t, state.Items, 1)
	assert.Equal(t, 2, state.Items[0].Quantity)
	assert.InDelta(t, 20.0, state.TotalPrice, 1e-9)

	_, err = svc.UpdateQuantity(ctx, "p1", 5, "")
	require.NoError(t, err)
	assert.InDelta(t, 50.0, svc.State().TotalPrice, 1e-9)

	_, err = svc.RemoveItem(ctx, "p1", "")
	require.NoError(t, err)
	state = svc.State()
	assert.Empty(t, state.Items)
	assert.Zero(t, state.TotalPrice)
}
