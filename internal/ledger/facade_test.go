package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lumbung-erp/lumbung-erp/internal/audit"
	"github.com/lumbung-erp/lumbung-erp/internal/credit"
	"github.com/lumbung-erp/lumbung-erp/internal/orders"
	"github.com/lumbung-erp/lumbung-erp/internal/platform/db"
	"github.com/lumbung-erp/lumbung-erp/internal/shared"
	"github.com/lumbung-erp/lumbung-erp/internal/stock"
)

// memRunner keeps all ledger state in memory and rolls fn's writes back
// when it fails, so atomicity across ledgers is observable. failures
// injects transient errors before fn runs, one per call.
type memRunner struct {
	products  map[int64]stock.Product
	accounts  map[int64]credit.Account
	orders    map[int64]*orders.Order
	movements []stock.Movement
	entries   []audit.Entry
	nextID    int64
	failures  []error
	calls     int
}

func newMemRunner() *memRunner {
	return &memRunner{
		products: make(map[int64]stock.Product),
		accounts: make(map[int64]credit.Account),
		orders:   make(map[int64]*orders.Order),
	}
}

func (m *memRunner) WithTx(ctx context.Context, fn func(context.Context, TxRepos) error) error {
	m.calls++
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return err
	}

	productsSnap := make(map[int64]stock.Product, len(m.products))
	for id, p := range m.products {
		productsSnap[id] = p
	}
	accountsSnap := make(map[int64]credit.Account, len(m.accounts))
	for id, a := range m.accounts {
		accountsSnap[id] = a
	}
	ordersSnap := make(map[int64]*orders.Order, len(m.orders))
	for id, o := range m.orders {
		copied := *o
		ordersSnap[id] = &copied
	}
	movementMark := len(m.movements)
	entryMark := len(m.entries)

	err := fn(ctx, TxRepos{Stock: memStockTx{m}, Credit: memCreditTx{m}, Orders: memOrderTx{m}})
	if err != nil {
		m.products = productsSnap
		m.accounts = accountsSnap
		m.orders = ordersSnap
		m.movements = m.movements[:movementMark]
		m.entries = m.entries[:entryMark]
		return err
	}
	return nil
}

func (m *memRunner) id() int64 {
	m.nextID++
	return m.nextID
}

type memStockTx struct{ m *memRunner }

func (t memStockTx) GetProductForUpdate(ctx context.Context, productID int64) (stock.Product, error) {
	p, ok := t.m.products[productID]
	if !ok {
		return stock.Product{}, shared.ErrNotFound
	}
	return p, nil
}

func (t memStockTx) UpdateProductQuantity(ctx context.Context, productID, quantity int64) error {
	p := t.m.products[productID]
	p.Quantity = quantity
	t.m.products[productID] = p
	return nil
}

func (t memStockTx) InsertMovement(ctx context.Context, mv stock.Movement) (int64, error) {
	mv.ID = t.m.id()
	t.m.movements = append(t.m.movements, mv)
	return mv.ID, nil
}

func (t memStockTx) InsertProduct(ctx context.Context, p stock.Product) (int64, error) {
	p.ID = t.m.id()
	t.m.products[p.ID] = p
	return p.ID, nil
}

func (t memStockTx) SetProductRetired(ctx context.Context, productID int64, retired bool) error {
	p := t.m.products[productID]
	p.Retired = retired
	t.m.products[productID] = p
	return nil
}

func (t memStockTx) RecordAudit(ctx context.Context, e audit.Entry) (int64, error) {
	e.ID = t.m.id()
	t.m.entries = append(t.m.entries, e)
	return e.ID, nil
}

type memCreditTx struct{ m *memRunner }

func (t memCreditTx) GetAccountForUpdate(ctx context.Context, accountID int64) (credit.Account, error) {
	a, ok := t.m.accounts[accountID]
	if !ok {
		return credit.Account{}, shared.ErrNotFound
	}
	return a, nil
}

func (t memCreditTx) UpdateAccountBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error {
	a := t.m.accounts[accountID]
	a.Balance = balance
	t.m.accounts[accountID] = a
	return nil
}

func (t memCreditTx) InsertTransaction(ctx context.Context, tr credit.Transaction) (int64, error) {
	tr.ID = t.m.id()
	return tr.ID, nil
}

func (t memCreditTx) InsertAccount(ctx context.Context, a credit.Account) (int64, error) {
	a.ID = t.m.id()
	t.m.accounts[a.ID] = a
	return a.ID, nil
}

func (t memCreditTx) SetAccountStatus(ctx context.Context, accountID int64, status credit.AccountStatus) error {
	a := t.m.accounts[accountID]
	a.Status = status
	t.m.accounts[accountID] = a
	return nil
}

func (t memCreditTx) RecordAudit(ctx context.Context, e audit.Entry) (int64, error) {
	e.ID = t.m.id()
	t.m.entries = append(t.m.entries, e)
	return e.ID, nil
}

type memOrderTx struct{ m *memRunner }

func (t memOrderTx) GetOrderForUpdate(ctx context.Context, orderID int64) (orders.Order, error) {
	o, ok := t.m.orders[orderID]
	if !ok {
		return orders.Order{}, shared.ErrNotFound
	}
	return *o, nil
}

func (t memOrderTx) InsertOrder(ctx context.Context, o orders.Order) (int64, error) {
	o.ID = t.m.id()
	t.m.orders[o.ID] = &o
	return o.ID, nil
}

func (t memOrderTx) InsertLines(ctx context.Context, orderID int64, lines []orders.Line) error {
	t.m.orders[orderID].Lines = lines
	return nil
}

func (t memOrderTx) UpdateOrderStatus(ctx context.Context, orderID int64, status orders.Status, paymentStatus orders.PaymentStatus) error {
	o := t.m.orders[orderID]
	o.Status = status
	o.PaymentStatus = paymentStatus
	return nil
}

func (t memOrderTx) RecordAudit(ctx context.Context, e audit.Entry) (int64, error) {
	e.ID = t.m.id()
	t.m.entries = append(t.m.entries, e)
	return e.ID, nil
}

type memIdempotency struct {
	mu     sync.Mutex
	claims map[string]string
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{claims: make(map[string]string)}
}

func (s *memIdempotency) Claim(ctx context.Context, key, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.claims[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	s.claims[key] = scope
	return nil
}

func (s *memIdempotency) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, key)
	return nil
}

type memCache struct {
	invalidated []int64
}

func (c *memCache) Invalidate(ctx context.Context, productIDs ...int64) {
	c.invalidated = append(c.invalidated, productIDs...)
}

type memAlerts struct {
	lowStock [][]int64
	sources  []string
}

func (a *memAlerts) LowStock(ctx context.Context, productIDs []int64, source string) error {
	a.lowStock = append(a.lowStock, productIDs)
	a.sources = append(a.sources, source)
	return nil
}

type fixture struct {
	runner      *memRunner
	idempotency *memIdempotency
	cache       *memCache
	alerts      *memAlerts
	facade      *Facade
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		runner:      newMemRunner(),
		idempotency: newMemIdempotency(),
		cache:       &memCache{},
		alerts:      &memAlerts{},
	}
	f.facade = NewFacade(Config{
		Repos:        f.runner,
		StockLedger:  stock.NewLedger(),
		CreditLedger: credit.NewLedger(),
		Machine:      orders.NewMachine(stock.NewLedger(), credit.NewLedger()),
		Idempotency:  f.idempotency,
		Cache:        f.cache,
		Alerts:       f.alerts,
		Retry:        db.RetryConfig{Attempts: 3, Backoff: 0},
	})
	return f
}

func TestProcessSale(t *testing.T) {
	f := newFixture(t)
	f.runner.products[1] = stock.Product{ID: 1, Quantity: 10, MinThreshold: 2}
	f.runner.products[2] = stock.Product{ID: 2, Quantity: 8, MinThreshold: 2}

	result, err := f.facade.ProcessSale(context.Background(), SaleInput{
		Items:     []SaleItem{{ProductID: 1, Quantity: 3}, {ProductID: 2, Quantity: 1}},
		Reference: "POS-118",
		ActorID:   7,
	})
	require.NoError(t, err)
	require.Len(t, result.Movements, 2)
	require.Empty(t, result.LowStock)
	require.EqualValues(t, 7, f.runner.products[1].Quantity)
	require.EqualValues(t, 7, f.runner.products[2].Quantity)
	require.ElementsMatch(t, []int64{1, 2}, f.cache.invalidated)
	require.Empty(t, f.alerts.lowStock)
}

func TestStockMutationsRejectNonPositiveQuantity(t *testing.T) {
	f := newFixture(t)
	f.runner.products[1] = stock.Product{ID: 1, Quantity: 10, MinThreshold: 2}

	// A negative sale line must never turn into an additive movement.
	_, err := f.facade.ProcessSale(context.Background(), SaleInput{
		Items:   []SaleItem{{ProductID: 1, Quantity: -5}},
		ActorID: 7,
	})
	require.ErrorIs(t, err, stock.ErrInvalidQuantity)

	_, err = f.facade.ReceivePurchase(context.Background(), ReceiptInput{ProductID: 1, Quantity: 0, ActorID: 7})
	require.ErrorIs(t, err, stock.ErrInvalidQuantity)

	_, err = f.facade.RecordReturn(context.Background(), ReturnInput{ProductID: 1, Quantity: -3, ActorID: 7})
	require.ErrorIs(t, err, stock.ErrInvalidQuantity)

	require.EqualValues(t, 10, f.runner.products[1].Quantity)
	require.Empty(t, f.runner.movements)
	require.Zero(t, f.runner.calls)
}

func TestProcessSaleRejectsEmptySale(t *testing.T) {
	f := newFixture(t)

	_, err := f.facade.ProcessSale(context.Background(), SaleInput{ActorID: 7})
	require.ErrorIs(t, err, stock.ErrEmptyBatch)
	require.Zero(t, f.runner.calls)
}

func TestProcessSaleSignalsLowStock(t *testing.T) {
	f := newFixture(t)
	f.runner.products[1] = stock.Product{ID: 1, Quantity: 10, MinThreshold: 8}

	result, err := f.facade.ProcessSale(context.Background(), SaleInput{
		Items:   []SaleItem{{ProductID: 1, Quantity: 3}},
		ActorID: 7,
	})
	require.NoError(t, err)
	require.Equal(t, []int64{1}, result.LowStock)
	require.Len(t, f.alerts.lowStock, 1)
	require.Equal(t, []int64{1}, f.alerts.lowStock[0])
	require.Equal(t, "sale", f.alerts.sources[0])
}

func TestProcessSaleAtomicRollback(t *testing.T) {
	f := newFixture(t)
	f.runner.products[1] = stock.Product{ID: 1, Quantity: 10}
	f.runner.products[2] = stock.Product{ID: 2, Quantity: 1}

	_, err := f.facade.ProcessSale(context.Background(), SaleInput{
		Items:          []SaleItem{{ProductID: 1, Quantity: 3}, {ProductID: 2, Quantity: 2}},
		ActorID:        7,
		IdempotencyKey: "sale-1",
	})
	require.ErrorIs(t, err, stock.ErrInsufficientStock)
	require.EqualValues(t, 10, f.runner.products[1].Quantity)
	require.EqualValues(t, 1, f.runner.products[2].Quantity)
	require.Empty(t, f.cache.invalidated)

	// Failed mutations free their key so the caller may retry.
	require.Empty(t, f.idempotency.claims)
}

func TestIdempotencyConflict(t *testing.T) {
	f := newFixture(t)
	f.runner.products[1] = stock.Product{ID: 1, Quantity: 10}

	input := AdjustmentInput{ProductID: 1, Delta: 5, Reason: "recount", ActorID: 7, IdempotencyKey: "adj-1"}
	_, err := f.facade.RecordAdjustment(context.Background(), input)
	require.NoError(t, err)
	require.EqualValues(t, 15, f.runner.products[1].Quantity)

	_, err = f.facade.RecordAdjustment(context.Background(), input)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.EqualValues(t, 15, f.runner.products[1].Quantity)
}

func TestRetriesContention(t *testing.T) {
	f := newFixture(t)
	f.runner.products[1] = stock.Product{ID: 1, Quantity: 10}
	f.runner.failures = []error{shared.ErrContention, shared.ErrContention}

	result, err := f.facade.ReceivePurchase(context.Background(), ReceiptInput{
		ProductID: 1, Quantity: 5, Reference: "PO-9", ActorID: 7,
	})
	require.NoError(t, err)
	require.EqualValues(t, 15, result.NewQuantity)
	require.Equal(t, 3, f.runner.calls)
}

func TestContentionExhaustsRetries(t *testing.T) {
	f := newFixture(t)
	f.runner.products[1] = stock.Product{ID: 1, Quantity: 10}
	f.runner.failures = []error{shared.ErrContention, shared.ErrContention, shared.ErrContention}

	_, err := f.facade.ReceivePurchase(context.Background(), ReceiptInput{
		ProductID: 1, Quantity: 5, ActorID: 7, IdempotencyKey: "po-9",
	})
	require.ErrorIs(t, err, shared.ErrContention)
	require.Equal(t, 3, f.runner.calls)
	require.Empty(t, f.idempotency.claims)
}

func TestRecordAdjustmentPicksSource(t *testing.T) {
	f := newFixture(t)
	f.runner.products[1] = stock.Product{ID: 1, Quantity: 10}

	_, err := f.facade.RecordAdjustment(context.Background(), AdjustmentInput{ProductID: 1, Delta: -4, Reason: "damage", ActorID: 7})
	require.NoError(t, err)
	require.Equal(t, stock.SourceAdjustmentRemove, f.runner.movements[0].Source)

	_, err = f.facade.RecordAdjustment(context.Background(), AdjustmentInput{ProductID: 1, Delta: 2, Reason: "recount", ActorID: 7})
	require.NoError(t, err)
	require.Equal(t, stock.SourceAdjustmentAdd, f.runner.movements[1].Source)
	require.EqualValues(t, 8, f.runner.products[1].Quantity)
}

func TestCreateOrderSnapshotsCatalogPrice(t *testing.T) {
	f := newFixture(t)
	f.runner.products[1] = stock.Product{ID: 1, Quantity: 10, UnitPrice: decimal.NewFromInt(12_500)}

	order, err := f.facade.CreateOrder(context.Background(), OrderInput{
		RetailerID:    4,
		PaymentMethod: orders.PaymentCash,
		Lines:         []OrderLineInput{{ProductID: 1, Quantity: 2}},
		ActorID:       7,
	})
	require.NoError(t, err)
	require.True(t, order.Lines[0].UnitPrice.Equal(decimal.NewFromInt(12_500)))
	require.True(t, order.Total.Equal(decimal.NewFromInt(25_000)))

	// An agreed price wins over the catalog price.
	order, err = f.facade.CreateOrder(context.Background(), OrderInput{
		RetailerID:    4,
		PaymentMethod: orders.PaymentCash,
		Lines:         []OrderLineInput{{ProductID: 1, Quantity: 2, UnitPrice: decimal.NewFromInt(11_000)}},
		ActorID:       7,
	})
	require.NoError(t, err)
	require.True(t, order.Total.Equal(decimal.NewFromInt(22_000)))
}

func TestCreateOrderRejectsRetiredProduct(t *testing.T) {
	f := newFixture(t)
	f.runner.products[1] = stock.Product{ID: 1, Quantity: 10, Retired: true, UnitPrice: decimal.NewFromInt(100)}

	_, err := f.facade.CreateOrder(context.Background(), OrderInput{
		RetailerID:    4,
		PaymentMethod: orders.PaymentCash,
		Lines:         []OrderLineInput{{ProductID: 1, Quantity: 1}},
		ActorID:       7,
	})
	require.ErrorIs(t, err, stock.ErrProductRetired)
	require.Empty(t, f.runner.orders)
}

func TestTransitionOrderInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	f.runner.products[1] = stock.Product{ID: 1, Quantity: 10, MinThreshold: 9}
	orderID := f.runner.id()
	f.runner.orders[orderID] = &orders.Order{
		ID:            orderID,
		RetailerID:    4,
		Status:        orders.StatusPending,
		PaymentMethod: orders.PaymentCash,
		Lines:         []orders.Line{{ProductID: 1, Quantity: 2, UnitPrice: decimal.NewFromInt(100)}},
		Total:         decimal.NewFromInt(200),
	}

	result, err := f.facade.TransitionOrder(context.Background(), TransitionInput{
		OrderID: orderID,
		Target:  orders.StatusConfirmed,
		ActorID: 7,
	})
	require.NoError(t, err)
	require.Equal(t, []int64{1}, result.ReservedProducts)
	require.Equal(t, []int64{1}, f.cache.invalidated)
	// 10 - 2 = 8 is at or below the threshold of 9.
	require.Len(t, f.alerts.lowStock, 1)
	require.Equal(t, "order_confirmed", f.alerts.sources[0])
}

func TestRecordCreditTransactionFlags(t *testing.T) {
	f := newFixture(t)
	accountID := f.runner.id()
	f.runner.accounts[accountID] = credit.Account{
		ID:      accountID,
		Limit:   decimal.NewFromInt(1_000_000),
		Balance: decimal.NewFromInt(900_000),
		Status:  credit.StatusActive,
	}

	result, err := f.facade.RecordCreditTransaction(context.Background(), CreditInput{
		AccountID: accountID,
		Type:      credit.TxCredit,
		Amount:    decimal.NewFromInt(300_000),
		Reference: "INV-77",
		ActorID:   7,
	})
	require.NoError(t, err)
	require.True(t, result.LimitExceeded)
	require.True(t, f.runner.accounts[accountID].Balance.Equal(decimal.NewFromInt(1_200_000)))
}
