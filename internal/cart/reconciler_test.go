package cart

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/commerce"
	"storefront/internal/domain"
)

type fakeBackend struct {
	mu      sync.Mutex
	items   []commerce.CartItem
	nextID  int64
	creates int
	updates int
	listErr error
	pushErr error
	lists   int
	// listHook runs inside ListCart, before the response is returned.
	listHook func()
	// createHook runs inside CreateCartItem, before the line is stored.
	createHook func()
}

func (f *fakeBackend) ListCart(_ context.Context, _ string) ([]commerce.CartItem, error) {
	f.mu.Lock()
	f.lists++
	hook := f.listHook
	err := f.listErr
	out := append([]commerce.CartItem(nil), f.items...)
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *fakeBackend) CreateCartItem(_ context.Context, _ string, variantID int64, quantity int) (commerce.CartItem, error) {
	f.mu.Lock()
	hook := f.createHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return commerce.CartItem{}, f.pushErr
	}
	f.creates++
	f.nextID++
	item := commerce.CartItem{ID: f.nextID, ProductVariantID: variantID, Quantity: quantity}
	f.items = append(f.items, item)
	return item, nil
}

func (f *fakeBackend) UpdateCartItem(_ context.Context, _ string, itemID int64, quantity int) (commerce.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return commerce.CartItem{}, f.pushErr
	}
	f.updates++
	for i := range f.items {
		if f.items[i].ID == itemID {
			f.items[i].Quantity = quantity
			return f.items[i], nil
		}
	}
	return commerce.CartItem{}, &commerce.StatusError{Method: "PUT", Route: "/shopping-carts/{id}", StatusCode: 404}
}

func (f *fakeBackend) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

// emptyServerCart mimics the backend clearing the cart when an order is placed.
func (f *fakeBackend) emptyServerCart() {
	f.mu.Lock()
	f.items = nil
	f.mu.Unlock()
}

type fakeCatalog map[int64]domain.Product

func (c fakeCatalog) Get(id int64) (domain.Product, bool) {
	p, ok := c[id]
	return p, ok
}

type fakeSession struct {
	mu          sync.Mutex
	token       string
	invalidated []string
}

func (s *fakeSession) Current() (domain.Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return domain.Credential{}, false
	}
	return domain.Credential{Token: s.token}, true
}

func (s *fakeSession) Invalidate(_ context.Context, token string, _ error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.token {
		return false
	}
	s.invalidated = append(s.invalidated, token)
	s.token = ""
	return true
}

func (s *fakeSession) set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func testCatalog() fakeCatalog {
	return fakeCatalog{
		42: {ID: 42, Name: "Hoodie", Variants: []domain.Variant{
			{ID: 7, ProductID: 42, Size: "S", StockQuantity: 4},
			{ID: 8, ProductID: 42, Size: "M", StockQuantity: 2},
		}},
		43: {ID: 43, Name: "Broken"},
	}
}

func newReconciler(backend *fakeBackend, session *fakeSession) *Reconciler {
	return New(backend, testCatalog(), session, zerolog.Nop(), WithTimeout(time.Second))
}

func TestAddToCartRequiresCredential(t *testing.T) {
	backend := &fakeBackend{}
	r := newReconciler(backend, &fakeSession{})

	_, err := r.AddToCart(context.Background(), 42)
	require.ErrorIs(t, err, ErrUnauthenticated)
	assert.Zero(t, backend.creates)
	assert.Empty(t, r.Snapshot())
	assert.Equal(t, StateEmpty, r.State())
}

func TestAddToCartResolutionErrors(t *testing.T) {
	r := newReconciler(&fakeBackend{}, &fakeSession{token: "tok"})

	_, err := r.AddToCart(context.Background(), 999)
	assert.ErrorIs(t, err, ErrUnknownProduct)

	_, err = r.AddToCart(context.Background(), 43)
	assert.ErrorIs(t, err, ErrNoVariant)
}

func TestAddToCartCreatesThenUpdates(t *testing.T) {
	backend := &fakeBackend{}
	r := newReconciler(backend, &fakeSession{token: "tok"})
	ctx := context.Background()

	line, err := r.AddToCart(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, domain.CartLine{VariantID: 7, Quantity: 1}, line)
	assert.Equal(t, 1, backend.creates)

	line, err = r.AddToCart(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 2, line.Quantity)
	assert.Equal(t, 1, backend.creates)
	assert.Equal(t, 1, backend.updates)
	require.Len(t, backend.items, 1)
	assert.Equal(t, 2, backend.items[0].Quantity)

	assert.Equal(t, domain.Cart{7: {VariantID: 7, Quantity: 2}}, r.Snapshot())
	assert.Equal(t, StateSynced, r.State())
}

func TestConcurrentAddsAreSerialized(t *testing.T) {
	backend := &fakeBackend{}
	r := newReconciler(backend, &fakeSession{token: "tok"})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.AddToCart(context.Background(), 42)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, backend.creates)
	assert.Equal(t, 4, backend.updates)
	require.Len(t, backend.items, 1)
	assert.Equal(t, 5, backend.items[0].Quantity)
	assert.Equal(t, 5, r.Snapshot()[7].Quantity)
}

func TestAddToCartFailureLeavesCartUnchanged(t *testing.T) {
	backend := &fakeBackend{}
	r := newReconciler(backend, &fakeSession{token: "tok"})
	ctx := context.Background()
	_, err := r.AddToCart(ctx, 42)
	require.NoError(t, err)

	backend.pushErr = &commerce.StatusError{Method: "PUT", Route: "/shopping-carts/{id}", StatusCode: 409, Message: "insufficient stock"}
	_, err = r.AddToCart(ctx, 42)
	require.ErrorIs(t, err, ErrSyncFailed)
	assert.Equal(t, 409, commerce.StatusCode(err))

	assert.Equal(t, domain.Cart{7: {VariantID: 7, Quantity: 1}}, r.Snapshot())
	assert.Equal(t, StateSynced, r.State())
}

func TestAddToCartUnauthorizedInvalidatesSession(t *testing.T) {
	backend := &fakeBackend{listErr: &commerce.StatusError{Method: "GET", Route: "/shopping-carts", StatusCode: 401}}
	session := &fakeSession{token: "tok"}
	r := newReconciler(backend, session)

	_, err := r.AddToCart(context.Background(), 42)
	require.ErrorIs(t, err, ErrSyncFailed)
	assert.True(t, commerce.IsUnauthorized(err))
	assert.Equal(t, []string{"tok"}, session.invalidated)
	assert.Empty(t, r.Snapshot())
}

func TestHydrateReplacesLocalCart(t *testing.T) {
	backend := &fakeBackend{}
	session := &fakeSession{token: "tok"}
	r := newReconciler(backend, session)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := r.AddToCart(ctx, 42)
		require.NoError(t, err)
	}
	require.Equal(t, domain.Cart{7: {VariantID: 7, Quantity: 3}}, r.Snapshot())

	backend.items = []commerce.CartItem{{ID: 90, ProductVariantID: 2, Quantity: 1}}
	require.NoError(t, r.Hydrate(ctx))

	assert.Equal(t, domain.Cart{2: {VariantID: 2, Quantity: 1}}, r.Snapshot())
	assert.Equal(t, StateSynced, r.State())
}

func TestHydrateMergesDuplicateServerLines(t *testing.T) {
	backend := &fakeBackend{items: []commerce.CartItem{
		{ID: 1, ProductVariantID: 7, Quantity: 1},
		{ID: 2, ProductVariantID: 7, Quantity: 2},
		{ID: 3, ProductVariantID: 9, Quantity: 0},
	}}
	r := newReconciler(backend, &fakeSession{token: "tok"})

	require.NoError(t, r.Hydrate(context.Background()))
	assert.Equal(t, domain.Cart{7: {VariantID: 7, Quantity: 3}}, r.Snapshot())
}

func TestHydrateWithoutCredentialEmptiesCart(t *testing.T) {
	session := &fakeSession{token: "tok"}
	r := newReconciler(&fakeBackend{}, session)
	_, err := r.AddToCart(context.Background(), 42)
	require.NoError(t, err)

	session.set("")
	require.NoError(t, r.Hydrate(context.Background()))
	assert.Empty(t, r.Snapshot())
	assert.Equal(t, StateEmpty, r.State())
}

func TestHydrateDropsResponseForStaleCredential(t *testing.T) {
	session := &fakeSession{token: "old"}
	backend := &fakeBackend{items: []commerce.CartItem{{ID: 1, ProductVariantID: 7, Quantity: 5}}}
	backend.listHook = func() { session.set("new") }
	r := newReconciler(backend, session)

	require.NoError(t, r.Hydrate(context.Background()))
	assert.Empty(t, r.Snapshot())
	assert.Equal(t, StateStale, r.State())
}

func TestHydrateFailure(t *testing.T) {
	backend := &fakeBackend{listErr: errors.New("connection reset")}
	r := newReconciler(backend, &fakeSession{token: "tok"})

	err := r.Hydrate(context.Background())
	require.ErrorIs(t, err, ErrSyncFailed)
	assert.Equal(t, StateStale, r.State())
}

func TestClearAndLines(t *testing.T) {
	backend := &fakeBackend{items: []commerce.CartItem{
		{ID: 1, ProductVariantID: 9, Quantity: 1},
		{ID: 2, ProductVariantID: 3, Quantity: 2},
	}}
	r := newReconciler(backend, &fakeSession{token: "tok"})
	require.NoError(t, r.Hydrate(context.Background()))

	lines := r.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, int64(3), lines[0].VariantID)
	assert.Equal(t, int64(9), lines[1].VariantID)

	r.Clear()
	assert.Empty(t, r.Snapshot())
	assert.Equal(t, StateEmpty, r.State())
	assert.Len(t, backend.items, 2)
}

func TestSnapshotIsACopy(t *testing.T) {
	r := newReconciler(&fakeBackend{}, &fakeSession{token: "tok"})
	_, err := r.AddToCart(context.Background(), 42)
	require.NoError(t, err)

	snap := r.Snapshot()
	snap[7] = domain.CartLine{VariantID: 7, Quantity: 100}
	assert.Equal(t, 1, r.Snapshot()[7].Quantity)
}

func TestAcquireHonoursContext(t *testing.T) {
	r := newReconciler(&fakeBackend{}, &fakeSession{token: "tok"})
	r.ops <- struct{}{}
	defer r.release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.AddToCart(ctx, 42)
	require.ErrorIs(t, err, ErrSyncFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHydrateWaitsForInFlightAdd(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	backend := &fakeBackend{}
	backend.createHook = func() {
		close(entered)
		<-release
	}
	r := newReconciler(backend, &fakeSession{token: "tok"})
	ctx := context.Background()

	addDone := make(chan error, 1)
	go func() {
		_, err := r.AddToCart(ctx, 42)
		addDone <- err
	}()
	<-entered
	listsDuringAdd := backend.listCount()

	hydrateDone := make(chan error, 1)
	go func() { hydrateDone <- r.Hydrate(ctx) }()

	select {
	case err := <-hydrateDone:
		t.Fatalf("hydrate finished while an add was in flight: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, listsDuringAdd, backend.listCount())

	close(release)
	require.NoError(t, <-addDone)
	require.NoError(t, <-hydrateDone)

	assert.Equal(t, listsDuringAdd+1, backend.listCount())
	assert.Equal(t, domain.Cart{7: {VariantID: 7, Quantity: 1}}, r.Snapshot())
	assert.Equal(t, StateSynced, r.State())
}

func TestSubmitKeepsLineAddedDuringSubmission(t *testing.T) {
	backend := &fakeBackend{items: []commerce.CartItem{{ID: 1, ProductVariantID: 7, Quantity: 2}}}
	r := newReconciler(backend, &fakeSession{token: "tok"})
	ctx := context.Background()
	require.NoError(t, r.Hydrate(ctx))

	inSubmit := make(chan struct{})
	release := make(chan struct{})
	var submitted domain.Cart
	submitDone := make(chan error, 1)
	go func() {
		submitDone <- r.Submit(ctx, func(c domain.Cart) error {
			submitted = c
			close(inSubmit)
			<-release
			backend.emptyServerCart()
			return nil
		})
	}()
	<-inSubmit

	addDone := make(chan error, 1)
	go func() {
		_, err := r.AddToCart(ctx, 42)
		addDone <- err
	}()
	select {
	case err := <-addDone:
		t.Fatalf("add finished during submission: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-submitDone)
	require.NoError(t, <-addDone)

	assert.Equal(t, domain.Cart{7: {VariantID: 7, Quantity: 2}}, submitted)
	assert.Equal(t, domain.Cart{7: {VariantID: 7, Quantity: 1}}, r.Snapshot())
	require.Len(t, backend.items, 1)
	assert.Equal(t, 1, backend.items[0].Quantity)
}

func TestSubmitFailureKeepsCart(t *testing.T) {
	r := newReconciler(&fakeBackend{}, &fakeSession{token: "tok"})
	_, err := r.AddToCart(context.Background(), 42)
	require.NoError(t, err)

	boom := errors.New("order rejected")
	err = r.Submit(context.Background(), func(domain.Cart) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, domain.Cart{7: {VariantID: 7, Quantity: 1}}, r.Snapshot())
	assert.Equal(t, StateSynced, r.State())
}
