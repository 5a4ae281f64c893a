package purchase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phantommask/m/domain"
	"phantommask/m/internal/store"
)

type balanceWrite struct {
	id      int64
	balance decimal.Decimal
}

type stockWrite struct {
	id    int64
	stock int64
}

type fakeAccounts struct {
	users      map[int64]domain.User
	pharmacies map[int64]domain.Pharmacy

	existsErr  error
	getUserErr error

	getUserCalls   int
	userWrites     []balanceWrite
	pharmacyWrites []balanceWrite
}

func (f *fakeAccounts) UserExists(_ context.Context, id int64) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.users[id]
	return ok, nil
}

func (f *fakeAccounts) GetUser(_ context.Context, id int64) (domain.User, error) {
	f.getUserCalls++
	if f.getUserErr != nil {
		return domain.User{}, f.getUserErr
	}
	user, ok := f.users[id]
	if !ok {
		return domain.User{}, fmt.Errorf("user %d not found", id)
	}
	return user, nil
}

func (f *fakeAccounts) SetUserBalance(_ context.Context, id int64, balance decimal.Decimal, version int64) error {
	user, ok := f.users[id]
	if !ok {
		return fmt.Errorf("user %d not found", id)
	}
	if user.Version != version {
		return fmt.Errorf("set user %d balance: %w", id, store.ErrVersionConflict)
	}
	user.CashBalance = balance
	user.Version++
	f.users[id] = user
	f.userWrites = append(f.userWrites, balanceWrite{id: id, balance: balance})
	return nil
}

func (f *fakeAccounts) GetPharmacy(_ context.Context, id int64) (domain.Pharmacy, error) {
	pharmacy, ok := f.pharmacies[id]
	if !ok {
		return domain.Pharmacy{}, fmt.Errorf("pharmacy %d not found", id)
	}
	return pharmacy, nil
}

func (f *fakeAccounts) SetPharmacyBalance(_ context.Context, id int64, balance decimal.Decimal, version int64) error {
	pharmacy, ok := f.pharmacies[id]
	if !ok {
		return fmt.Errorf("pharmacy %d not found", id)
	}
	if pharmacy.Version != version {
		return fmt.Errorf("set pharmacy %d balance: %w", id, store.ErrVersionConflict)
	}
	pharmacy.CashBalance = balance
	pharmacy.Version++
	f.pharmacies[id] = pharmacy
	f.pharmacyWrites = append(f.pharmacyWrites, balanceWrite{id: id, balance: balance})
	return nil
}

type fakeInventory struct {
	masks map[int64]domain.Mask

	getErr map[int64]error
	setErr map[int64]error

	getCalls    map[int64]int
	stockWrites []stockWrite
}

func (f *fakeInventory) GetMask(_ context.Context, id int64) (domain.Mask, error) {
	if f.getCalls == nil {
		f.getCalls = map[int64]int{}
	}
	f.getCalls[id]++
	if err := f.getErr[id]; err != nil {
		return domain.Mask{}, err
	}
	mask, ok := f.masks[id]
	if !ok {
		return domain.Mask{}, fmt.Errorf("mask %d not found", id)
	}
	return mask, nil
}

func (f *fakeInventory) SetMaskStock(_ context.Context, id int64, stock int64, version int64) error {
	if err := f.setErr[id]; err != nil {
		return err
	}
	mask, ok := f.masks[id]
	if !ok {
		return fmt.Errorf("mask %d not found", id)
	}
	if mask.Version != version {
		return fmt.Errorf("set mask %d stock: %w", id, store.ErrVersionConflict)
	}
	mask.StockQuantity = stock
	mask.Version++
	f.masks[id] = mask
	f.stockWrites = append(f.stockWrites, stockWrite{id: id, stock: stock})
	return nil
}

type fakeLedger struct {
	accounts  *fakeAccounts
	inventory *fakeInventory

	createErr map[int64]error
	nextID    int64
	created   []domain.Purchase
}

func (f *fakeLedger) CreatePurchase(_ context.Context, userID, pharmacyID, maskID, quantity int64) (domain.Purchase, error) {
	if err := f.createErr[maskID]; err != nil {
		return domain.Purchase{}, err
	}
	mask := f.inventory.masks[maskID]
	f.nextID++
	entry := domain.Purchase{
		ID:                  f.nextID,
		UserName:            f.accounts.users[userID].Name,
		PharmacyName:        f.accounts.pharmacies[pharmacyID].Name,
		MaskName:            mask.Name,
		TransactionQuantity: quantity,
		TransactionAmount:   mask.Price.Mul(decimal.NewFromInt(quantity)),
		TransactionDateTime: "2026-08-28T12:00:00Z",
		CreatedAt:           "2026-08-28T12:00:00Z",
	}
	f.created = append(f.created, entry)
	return entry, nil
}

type fixture struct {
	accounts  *fakeAccounts
	inventory *fakeInventory
	ledger    *fakeLedger
	processor *Processor
}

// newFixture builds one buyer (id 1, balance 500) and two pharmacies with
// three masks: A (id 101 at pharmacy 201, price 50, stock 5), B (id 102 at
// pharmacy 202, price 30, stock 3) and C (id 103 at pharmacy 201, price 20,
// stock 10).
func newFixture() *fixture {
	accounts := &fakeAccounts{
		users: map[int64]domain.User{
			1: {ID: 1, Name: "Youri Gagnebuhler", CashBalance: decimal.NewFromInt(500)},
		},
		pharmacies: map[int64]domain.Pharmacy{
			201: {ID: 201, Name: "DFW Wellness", CashBalance: decimal.NewFromInt(1000)},
			202: {ID: 202, Name: "Carepoint", CashBalance: decimal.NewFromInt(500)},
		},
	}
	inventory := &fakeInventory{
		masks: map[int64]domain.Mask{
			101: {ID: 101, PharmacyID: 201, Name: "True Barrier (green) (3 per pack)", Price: decimal.NewFromInt(50), StockQuantity: 5},
			102: {ID: 102, PharmacyID: 202, Name: "Second Smile (black) (6 per pack)", Price: decimal.NewFromInt(30), StockQuantity: 3},
			103: {ID: 103, PharmacyID: 201, Name: "Masquerade (blue) (10 per pack)", Price: decimal.NewFromInt(20), StockQuantity: 10},
		},
	}
	ledger := &fakeLedger{accounts: accounts, inventory: inventory}
	return &fixture{
		accounts:  accounts,
		inventory: inventory,
		ledger:    ledger,
		processor: NewProcessor(accounts, inventory, ledger),
	}
}

func requireTotalMatchesCompleted(t *testing.T, res Result) {
	t.Helper()
	sum := decimal.Zero
	for _, entry := range res.CompletedPurchases {
		sum = sum.Add(entry.TransactionAmount)
	}
	require.True(t, res.TotalAmount.Equal(sum),
		"total %s != sum of completed %s", res.TotalAmount, sum)
}

func TestProcessBulkPurchase_BuyerDoesNotExist(t *testing.T) {
	f := newFixture()

	res := f.processor.ProcessBulkPurchase(context.Background(), Request{
		UserID:    999,
		Purchases: []LineItem{{PharmacyID: 201, MaskID: 101, Quantity: 1}},
	})

	require.False(t, res.Success)
	assert.Equal(t, "buyer 999 does not exist", res.Message)
	assert.Equal(t, []string{"buyer 999 does not exist"}, res.Errors)
	assert.Empty(t, res.CompletedPurchases)
	assert.True(t, res.TotalAmount.IsZero())

	// Nothing past the existence check runs.
	assert.Zero(t, f.accounts.getUserCalls)
	assert.Empty(t, f.inventory.getCalls)
	assert.Empty(t, f.accounts.userWrites)
	assert.Empty(t, f.accounts.pharmacyWrites)
	assert.Empty(t, f.inventory.stockWrites)
}

func TestProcessBulkPurchase_InsufficientFunds(t *testing.T) {
	f := newFixture()
	f.accounts.users[1] = domain.User{ID: 1, Name: "Youri Gagnebuhler", CashBalance: decimal.NewFromInt(90)}

	res := f.processor.ProcessBulkPurchase(context.Background(), Request{
		UserID:    1,
		Purchases: []LineItem{{PharmacyID: 201, MaskID: 101, Quantity: 2}}, // 2 x 50 = 100
	})

	require.False(t, res.Success)
	assert.Equal(t, "insufficient buyer funds, balance is 90.00", res.Message)
	assert.Equal(t, []string{"insufficient buyer funds, balance is 90.00"}, res.Errors)
	assert.Empty(t, res.CompletedPurchases)
	assert.True(t, res.TotalAmount.IsZero())

	// Estimate pass read the mask once; no second (commit) read, no writes.
	assert.Equal(t, 1, f.inventory.getCalls[101])
	assert.Empty(t, f.accounts.userWrites)
	assert.Empty(t, f.accounts.pharmacyWrites)
	assert.Empty(t, f.inventory.stockWrites)
	assert.Empty(t, f.ledger.created)
}

func TestProcessBulkPurchase_FundsAbortDiscardsStockErrors(t *testing.T) {
	f := newFixture()
	f.accounts.users[1] = domain.User{ID: 1, Name: "Youri Gagnebuhler", CashBalance: decimal.NewFromInt(90)}

	res := f.processor.ProcessBulkPurchase(context.Background(), Request{
		UserID: 1,
		Purchases: []LineItem{
			{PharmacyID: 202, MaskID: 102, Quantity: 5}, // stock 3, short
			{PharmacyID: 201, MaskID: 101, Quantity: 2}, // 100, unaffordable
		},
	})

	require.False(t, res.Success)
	// Only the funds error survives the abort; the stock warning from the
	// estimate pass is dropped with it.
	assert.Equal(t, []string{"insufficient buyer funds, balance is 90.00"}, res.Errors)
}

func TestProcessBulkPurchase_AllLinesOutOfStock(t *testing.T) {
	f := newFixture()

	res := f.processor.ProcessBulkPurchase(context.Background(), Request{
		UserID:    1,
		Purchases: []LineItem{{PharmacyID: 202, MaskID: 102, Quantity: 5}}, // stock 3
	})

	require.False(t, res.Success)
	assert.Equal(t, "all purchases failed", res.Message)
	wantErr := "insufficient stock at seller 202 for item 102 (remaining: 3, requested: 5)"
	// Reported by both the estimate pass and the commit pass.
	assert.Equal(t, []string{wantErr, wantErr}, res.Errors)
	assert.Empty(t, res.CompletedPurchases)
	assert.True(t, res.TotalAmount.IsZero())

	// The buyer debit still happens, as a no-op write of the snapshot.
	require.Len(t, f.accounts.userWrites, 1)
	assert.True(t, f.accounts.userWrites[0].balance.Equal(decimal.NewFromInt(500)))
	assert.Empty(t, f.accounts.pharmacyWrites)
	assert.Empty(t, f.inventory.stockWrites)
}

func TestProcessBulkPurchase_SingleLineSuccess(t *testing.T) {
	f := newFixture()

	res := f.processor.ProcessBulkPurchase(context.Background(), Request{
		UserID:    1,
		Purchases: []LineItem{{PharmacyID: 201, MaskID: 101, Quantity: 2}},
	})

	require.True(t, res.Success)
	assert.Equal(t, "completed 1 purchases, total amount: $100.00", res.Message)
	assert.Empty(t, res.Errors)
	require.Len(t, res.CompletedPurchases, 1)
	assert.True(t, res.TotalAmount.Equal(decimal.NewFromInt(100)))
	requireTotalMatchesCompleted(t, res)

	entry := res.CompletedPurchases[0]
	assert.Equal(t, "Youri Gagnebuhler", entry.UserName)
	assert.Equal(t, "DFW Wellness", entry.PharmacyName)
	assert.Equal(t, int64(2), entry.TransactionQuantity)

	// Mask read once to estimate, once to commit.
	assert.Equal(t, 2, f.inventory.getCalls[101])

	// Seller credited, stock debited, buyer debited once.
	require.Len(t, f.accounts.pharmacyWrites, 1)
	assert.Equal(t, int64(201), f.accounts.pharmacyWrites[0].id)
	assert.True(t, f.accounts.pharmacyWrites[0].balance.Equal(decimal.NewFromInt(1100)))
	require.Len(t, f.inventory.stockWrites, 1)
	assert.Equal(t, stockWrite{id: 101, stock: 3}, f.inventory.stockWrites[0])
	require.Len(t, f.accounts.userWrites, 1)
	assert.True(t, f.accounts.userWrites[0].balance.Equal(decimal.NewFromInt(400)))
}

func TestProcessBulkPurchase_PartialSuccess(t *testing.T) {
	f := newFixture()

	res := f.processor.ProcessBulkPurchase(context.Background(), Request{
		UserID: 1,
		Purchases: []LineItem{
			{PharmacyID: 201, MaskID: 101, Quantity: 2}, // 100, ok
			{PharmacyID: 202, MaskID: 102, Quantity: 5}, // stock 3, short
			{PharmacyID: 201, MaskID: 103, Quantity: 3}, // 60, ok
		},
	})

	require.True(t, res.Success)
	assert.Equal(t, "completed 2 purchases, total amount: $160.00", res.Message)
	require.Len(t, res.CompletedPurchases, 2)
	assert.True(t, res.TotalAmount.Equal(decimal.NewFromInt(160)))
	requireTotalMatchesCompleted(t, res)

	wantErr := "insufficient stock at seller 202 for item 102 (remaining: 3, requested: 5)"
	assert.Equal(t, []string{wantErr, wantErr}, res.Errors)

	// Pharmacy 201 credited per line; pharmacy 202 untouched.
	require.Len(t, f.accounts.pharmacyWrites, 2)
	assert.Equal(t, int64(201), f.accounts.pharmacyWrites[0].id)
	assert.True(t, f.accounts.pharmacyWrites[0].balance.Equal(decimal.NewFromInt(1100)))
	assert.Equal(t, int64(201), f.accounts.pharmacyWrites[1].id)
	assert.True(t, f.accounts.pharmacyWrites[1].balance.Equal(decimal.NewFromInt(1160)))

	assert.Equal(t, []stockWrite{{id: 101, stock: 3}, {id: 103, stock: 7}}, f.inventory.stockWrites)

	// Buyer debited once by the actual total.
	require.Len(t, f.accounts.userWrites, 1)
	assert.True(t, f.accounts.userWrites[0].balance.Equal(decimal.NewFromInt(340)))
}

func TestProcessBulkPurchase_EmptyBatch(t *testing.T) {
	f := newFixture()

	res := f.processor.ProcessBulkPurchase(context.Background(), Request{UserID: 1})

	require.False(t, res.Success)
	assert.Equal(t, "all purchases failed", res.Message)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.CompletedPurchases)
	assert.True(t, res.TotalAmount.IsZero())

	// The zero debit is still written once.
	require.Len(t, f.accounts.userWrites, 1)
	assert.True(t, f.accounts.userWrites[0].balance.Equal(decimal.NewFromInt(500)))
}

func TestProcessBulkPurchase_MaskFetchErrorIsPerLine(t *testing.T) {
	f := newFixture()
	f.inventory.getErr = map[int64]error{101: errors.New("mask 101 unavailable")}

	res := f.processor.ProcessBulkPurchase(context.Background(), Request{
		UserID: 1,
		Purchases: []LineItem{
			{PharmacyID: 201, MaskID: 101, Quantity: 2},
			{PharmacyID: 202, MaskID: 102, Quantity: 1},
		},
	})

	require.True(t, res.Success)
	assert.Equal(t, "completed 1 purchases, total amount: $30.00", res.Message)
	// The fetch failure is recorded by both passes.
	assert.Equal(t, []string{
		"purchase failed: mask 101 unavailable",
		"purchase failed: mask 101 unavailable",
	}, res.Errors)
	require.Len(t, res.CompletedPurchases, 1)
	assert.Equal(t, "Second Smile (black) (6 per pack)", res.CompletedPurchases[0].MaskName)
	requireTotalMatchesCompleted(t, res)
}

func TestProcessBulkPurchase_LedgerAppendFailureSkipsMutations(t *testing.T) {
	f := newFixture()
	f.ledger.createErr = map[int64]error{102: errors.New("purchase record creation failed")}

	res := f.processor.ProcessBulkPurchase(context.Background(), Request{
		UserID: 1,
		Purchases: []LineItem{
			{PharmacyID: 201, MaskID: 101, Quantity: 2},
			{PharmacyID: 202, MaskID: 102, Quantity: 1},
		},
	})

	require.True(t, res.Success)
	assert.Equal(t, "completed 1 purchases, total amount: $100.00", res.Message)
	assert.Equal(t, []string{"purchase failed: purchase record creation failed"}, res.Errors)
	require.Len(t, res.CompletedPurchases, 1)
	requireTotalMatchesCompleted(t, res)

	// The failed line left no trace: no credit for pharmacy 202, no stock
	// debit for mask 102.
	require.Len(t, f.accounts.pharmacyWrites, 1)
	assert.Equal(t, int64(201), f.accounts.pharmacyWrites[0].id)
	require.Len(t, f.inventory.stockWrites, 1)
	assert.Equal(t, int64(101), f.inventory.stockWrites[0].id)
}

func TestProcessBulkPurchase_StockWriteConflictIsPerLine(t *testing.T) {
	f := newFixture()
	f.inventory.setErr = map[int64]error{101: fmt.Errorf("set mask 101 stock: %w", store.ErrVersionConflict)}

	res := f.processor.ProcessBulkPurchase(context.Background(), Request{
		UserID: 1,
		Purchases: []LineItem{
			{PharmacyID: 201, MaskID: 101, Quantity: 2},
			{PharmacyID: 202, MaskID: 102, Quantity: 1},
		},
	})

	// The ledger entry was already appended when the conflicting stock
	// write surfaced, so the line counts as completed and is also reported.
	require.True(t, res.Success)
	require.Len(t, res.CompletedPurchases, 2)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "row version conflict")
	requireTotalMatchesCompleted(t, res)
}

func TestProcessBulkPurchase_OuterGuard(t *testing.T) {
	f := newFixture()
	f.accounts.existsErr = errors.New("store unavailable")

	res := f.processor.ProcessBulkPurchase(context.Background(), Request{
		UserID:    1,
		Purchases: []LineItem{{PharmacyID: 201, MaskID: 101, Quantity: 1}},
	})

	require.False(t, res.Success)
	assert.Equal(t, "bulk purchase processing failed", res.Message)
	assert.Equal(t, []string{"store unavailable"}, res.Errors)
	assert.Empty(t, res.CompletedPurchases)
	assert.True(t, res.TotalAmount.IsZero())
}

func TestProcessBulkPurchase_BuyerFetchErrorHitsOuterGuard(t *testing.T) {
	f := newFixture()
	f.accounts.getUserErr = errors.New("balance lookup timed out")

	res := f.processor.ProcessBulkPurchase(context.Background(), Request{
		UserID:    1,
		Purchases: []LineItem{{PharmacyID: 201, MaskID: 101, Quantity: 1}},
	})

	require.False(t, res.Success)
	assert.Equal(t, "bulk purchase processing failed", res.Message)
	assert.Equal(t, []string{"balance lookup timed out"}, res.Errors)
	assert.Empty(t, f.accounts.userWrites)
}
