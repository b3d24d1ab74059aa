package orders

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lumbung-erp/lumbung-erp/internal/audit"
	"github.com/lumbung-erp/lumbung-erp/internal/credit"
	"github.com/lumbung-erp/lumbung-erp/internal/stock"
)

// world holds all ledger state for one test, with snapshot/rollback so
// transition atomicity is observable.
type world struct {
	orders       map[int64]*Order
	products     map[int64]stock.Product
	accounts     map[int64]credit.Account
	movements    []stock.Movement
	transactions []credit.Transaction
	auditEntries []audit.Entry
	nextID       int64
}

func newWorld() *world {
	return &world{
		orders:   make(map[int64]*Order),
		products: make(map[int64]stock.Product),
		accounts: make(map[int64]credit.Account),
	}
}

func (w *world) withTx(fn func() error) error {
	ordersSnap := make(map[int64]*Order, len(w.orders))
	for id, o := range w.orders {
		copied := *o
		ordersSnap[id] = &copied
	}
	productsSnap := make(map[int64]stock.Product, len(w.products))
	for id, p := range w.products {
		productsSnap[id] = p
	}
	accountsSnap := make(map[int64]credit.Account, len(w.accounts))
	for id, a := range w.accounts {
		accountsSnap[id] = a
	}
	movementMark := len(w.movements)
	txMark := len(w.transactions)
	auditMark := len(w.auditEntries)

	if err := fn(); err != nil {
		w.orders = ordersSnap
		w.products = productsSnap
		w.accounts = accountsSnap
		w.movements = w.movements[:movementMark]
		w.transactions = w.transactions[:txMark]
		w.auditEntries = w.auditEntries[:auditMark]
		return err
	}
	return nil
}

func (w *world) id() int64 {
	w.nextID++
	return w.nextID
}

// order tx repo

type orderTx struct{ w *world }

func (t orderTx) GetOrderForUpdate(ctx context.Context, orderID int64) (Order, error) {
	o, ok := t.w.orders[orderID]
	if !ok {
		return Order{}, errors.New("order not found")
	}
	return *o, nil
}

func (t orderTx) InsertOrder(ctx context.Context, o Order) (int64, error) {
	o.ID = t.w.id()
	t.w.orders[o.ID] = &o
	return o.ID, nil
}

func (t orderTx) InsertLines(ctx context.Context, orderID int64, lines []Line) error {
	t.w.orders[orderID].Lines = lines
	return nil
}

func (t orderTx) UpdateOrderStatus(ctx context.Context, orderID int64, status Status, paymentStatus PaymentStatus) error {
	o := t.w.orders[orderID]
	o.Status = status
	o.PaymentStatus = paymentStatus
	return nil
}

func (t orderTx) RecordAudit(ctx context.Context, e audit.Entry) (int64, error) {
	e.ID = t.w.id()
	t.w.auditEntries = append(t.w.auditEntries, e)
	return e.ID, nil
}

// stock tx repo

type stockTx struct{ w *world }

func (t stockTx) GetProductForUpdate(ctx context.Context, productID int64) (stock.Product, error) {
	p, ok := t.w.products[productID]
	if !ok {
		return stock.Product{}, errors.New("product not found")
	}
	return p, nil
}

func (t stockTx) UpdateProductQuantity(ctx context.Context, productID, quantity int64) error {
	p := t.w.products[productID]
	p.Quantity = quantity
	t.w.products[productID] = p
	return nil
}

func (t stockTx) InsertMovement(ctx context.Context, m stock.Movement) (int64, error) {
	m.ID = t.w.id()
	t.w.movements = append(t.w.movements, m)
	return m.ID, nil
}

func (t stockTx) InsertProduct(ctx context.Context, p stock.Product) (int64, error) {
	p.ID = t.w.id()
	t.w.products[p.ID] = p
	return p.ID, nil
}

func (t stockTx) SetProductRetired(ctx context.Context, productID int64, retired bool) error {
	p := t.w.products[productID]
	p.Retired = retired
	t.w.products[productID] = p
	return nil
}

func (t stockTx) RecordAudit(ctx context.Context, e audit.Entry) (int64, error) {
	e.ID = t.w.id()
	t.w.auditEntries = append(t.w.auditEntries, e)
	return e.ID, nil
}

// credit tx repo

type creditTx struct{ w *world }

func (t creditTx) GetAccountForUpdate(ctx context.Context, accountID int64) (credit.Account, error) {
	a, ok := t.w.accounts[accountID]
	if !ok {
		return credit.Account{}, errors.New("account not found")
	}
	return a, nil
}

func (t creditTx) UpdateAccountBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error {
	a := t.w.accounts[accountID]
	a.Balance = balance
	t.w.accounts[accountID] = a
	return nil
}

func (t creditTx) InsertTransaction(ctx context.Context, tr credit.Transaction) (int64, error) {
	tr.ID = t.w.id()
	t.w.transactions = append(t.w.transactions, tr)
	return tr.ID, nil
}

func (t creditTx) InsertAccount(ctx context.Context, a credit.Account) (int64, error) {
	a.ID = t.w.id()
	t.w.accounts[a.ID] = a
	return a.ID, nil
}

func (t creditTx) SetAccountStatus(ctx context.Context, accountID int64, status credit.AccountStatus) error {
	a := t.w.accounts[accountID]
	a.Status = status
	t.w.accounts[accountID] = a
	return nil
}

func (t creditTx) RecordAudit(ctx context.Context, e audit.Entry) (int64, error) {
	e.ID = t.w.id()
	t.w.auditEntries = append(t.w.auditEntries, e)
	return e.ID, nil
}

func transition(w *world, machine *Machine, input TransitionInput) (TransitionResult, error) {
	var result TransitionResult
	err := w.withTx(func() error {
		var trErr error
		result, trErr = machine.Transition(context.Background(), orderTx{w}, stockTx{w}, creditTx{w}, input)
		return trErr
	})
	return result, err
}

func seedOrder(w *world, status Status, method PaymentMethod, accountID int64, lines ...Line) int64 {
	id := w.id()
	order := &Order{
		ID:              id,
		RetailerID:      11,
		CreditAccountID: accountID,
		Status:          status,
		PaymentMethod:   method,
		PaymentStatus:   PaymentStatusUnpaid,
		Lines:           lines,
	}
	for _, l := range lines {
		order.Total = order.Total.Add(l.Total())
	}
	w.orders[id] = order
	return id
}

func newMachine() *Machine {
	return NewMachine(stock.NewLedger(), credit.NewLedger())
}

func TestConfirmReservesStock(t *testing.T) {
	w := newWorld()
	w.products[1] = stock.Product{ID: 1, Quantity: 10, MinThreshold: 2}
	w.products[2] = stock.Product{ID: 2, Quantity: 5, MinThreshold: 2}
	orderID := seedOrder(w, StatusPending, PaymentCash, 0,
		Line{ProductID: 1, Quantity: 3, UnitPrice: decimal.NewFromInt(10000)},
		Line{ProductID: 2, Quantity: 2, UnitPrice: decimal.NewFromInt(7000)},
	)

	result, err := transition(w, newMachine(), TransitionInput{OrderID: orderID, Target: StatusConfirmed, ActorID: 9})
	require.NoError(t, err)
	require.Equal(t, StatusPending, result.From)
	require.Equal(t, StatusConfirmed, result.To)
	require.Equal(t, []int64{1, 2}, result.ReservedProducts)
	require.EqualValues(t, 7, w.products[1].Quantity)
	require.EqualValues(t, 3, w.products[2].Quantity)
	require.Equal(t, StatusConfirmed, w.orders[orderID].Status)
	// Two reserve movements plus one transition entry, each line audited.
	require.Len(t, w.movements, 2)
}

func TestConfirmFailsAtomicallyOnShortLine(t *testing.T) {
	w := newWorld()
	w.products[1] = stock.Product{ID: 1, Quantity: 10}
	w.products[2] = stock.Product{ID: 2, Quantity: 1}
	orderID := seedOrder(w, StatusPending, PaymentCash, 0,
		Line{ProductID: 1, Quantity: 3, UnitPrice: decimal.NewFromInt(10000)},
		Line{ProductID: 2, Quantity: 2, UnitPrice: decimal.NewFromInt(7000)},
	)

	_, err := transition(w, newMachine(), TransitionInput{OrderID: orderID, Target: StatusConfirmed, ActorID: 9})
	require.ErrorIs(t, err, stock.ErrInsufficientStock)

	// Whole confirmation rolled back: no stock touched, status unchanged.
	require.EqualValues(t, 10, w.products[1].Quantity)
	require.EqualValues(t, 1, w.products[2].Quantity)
	require.Equal(t, StatusPending, w.orders[orderID].Status)
	require.Empty(t, w.movements)
	require.Empty(t, w.auditEntries)
}

func TestIllegalTransitions(t *testing.T) {
	w := newWorld()
	orderID := seedOrder(w, StatusPacked, PaymentCash, 0, Line{ProductID: 1, Quantity: 1, UnitPrice: decimal.NewFromInt(1000)})

	// packed -> pending is not a legal step.
	_, err := transition(w, newMachine(), TransitionInput{OrderID: orderID, Target: StatusPending, ActorID: 9})
	require.ErrorIs(t, err, ErrInvalidTransition)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, StatusPacked, invalid.From)

	// Skipping a state is rejected too.
	_, err = transition(w, newMachine(), TransitionInput{OrderID: orderID, Target: StatusOutForDelivery, ActorID: 9})
	require.ErrorIs(t, err, ErrInvalidTransition)

	// Terminal states reject everything.
	deliveredID := seedOrder(w, StatusDelivered, PaymentCash, 0)
	_, err = transition(w, newMachine(), TransitionInput{OrderID: deliveredID, Target: StatusCancelled, ActorID: 9})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelReleasesReservedStock(t *testing.T) {
	w := newWorld()
	w.products[1] = stock.Product{ID: 1, Quantity: 7}
	orderID := seedOrder(w, StatusPacked, PaymentCash, 0, Line{ProductID: 1, Quantity: 3, UnitPrice: decimal.NewFromInt(1000)})

	result, err := transition(w, newMachine(), TransitionInput{OrderID: orderID, Target: StatusCancelled, ActorID: 9, Notes: "retailer withdrew"})
	require.NoError(t, err)
	require.Equal(t, []int64{1}, result.ReleasedProducts)
	require.EqualValues(t, 10, w.products[1].Quantity)
	require.Equal(t, StatusCancelled, w.orders[orderID].Status)
	require.Len(t, w.movements, 1)
	require.Equal(t, stock.SourceOrderRelease, w.movements[0].Source)
}

func TestCancelPendingSkipsRelease(t *testing.T) {
	w := newWorld()
	w.products[1] = stock.Product{ID: 1, Quantity: 7}
	orderID := seedOrder(w, StatusPending, PaymentCash, 0, Line{ProductID: 1, Quantity: 3, UnitPrice: decimal.NewFromInt(1000)})

	result, err := transition(w, newMachine(), TransitionInput{OrderID: orderID, Target: StatusCancelled, ActorID: 9})
	require.NoError(t, err)
	require.Empty(t, result.ReleasedProducts)
	require.EqualValues(t, 7, w.products[1].Quantity)
	require.Empty(t, w.movements)
}

func TestDeliveredPostsCredit(t *testing.T) {
	w := newWorld()
	w.accounts[5] = credit.Account{ID: 5, Limit: decimal.NewFromInt(100_000), Status: credit.StatusActive}
	orderID := seedOrder(w, StatusOutForDelivery, PaymentCredit, 5, Line{ProductID: 1, Quantity: 2, UnitPrice: decimal.NewFromInt(30_000)})

	result, err := transition(w, newMachine(), TransitionInput{OrderID: orderID, Target: StatusDelivered, ActorID: 9})
	require.NoError(t, err)
	require.NotZero(t, result.CreditTransactionID)
	require.False(t, result.CreditLimitExceeded)
	require.True(t, w.accounts[5].Balance.Equal(decimal.NewFromInt(60_000)))
	require.Equal(t, PaymentStatusOnCredit, w.orders[orderID].PaymentStatus)
}

func TestDeliveredOverLimitStillDelivers(t *testing.T) {
	w := newWorld()
	w.accounts[5] = credit.Account{ID: 5, Limit: decimal.NewFromInt(40_000), Status: credit.StatusActive}
	orderID := seedOrder(w, StatusOutForDelivery, PaymentCredit, 5, Line{ProductID: 1, Quantity: 2, UnitPrice: decimal.NewFromInt(30_000)})

	result, err := transition(w, newMachine(), TransitionInput{OrderID: orderID, Target: StatusDelivered, ActorID: 9})
	require.NoError(t, err)
	require.True(t, result.CreditLimitExceeded)
	require.Equal(t, StatusDelivered, w.orders[orderID].Status)
	require.True(t, w.accounts[5].Balance.Equal(decimal.NewFromInt(60_000)))
}

func TestCreateOrder(t *testing.T) {
	w := newWorld()
	machine := newMachine()

	var order Order
	err := w.withTx(func() error {
		var createErr error
		order, createErr = machine.Create(context.Background(), orderTx{w}, CreateInput{
			RetailerID:    11,
			PaymentMethod: PaymentTransfer,
			Lines: []Line{
				{ProductID: 1, Quantity: 3, UnitPrice: decimal.NewFromInt(10_000)},
				{ProductID: 2, Quantity: 1, UnitPrice: decimal.NewFromInt(5_000)},
			},
			ActorID: 9,
		})
		return createErr
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, order.Status)
	require.True(t, order.Total.Equal(decimal.NewFromInt(35_000)))

	// Validation failures.
	err = w.withTx(func() error {
		_, createErr := machine.Create(context.Background(), orderTx{w}, CreateInput{RetailerID: 11, PaymentMethod: PaymentCash})
		return createErr
	})
	require.ErrorIs(t, err, ErrNoLines)

	err = w.withTx(func() error {
		_, createErr := machine.Create(context.Background(), orderTx{w}, CreateInput{
			RetailerID: 11, PaymentMethod: PaymentCredit,
			Lines: []Line{{ProductID: 1, Quantity: 1, UnitPrice: decimal.NewFromInt(1)}},
		})
		return createErr
	})
	require.ErrorIs(t, err, ErrCreditAccountRequired)
}
