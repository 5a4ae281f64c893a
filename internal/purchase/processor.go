// Package purchase implements the bulk purchase transaction processor: one
// buyer, a batch of (pharmacy, mask, quantity) lines, partial success per
// line.
package purchase

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"phantommask/m/domain"
)

// Accounts reads and writes buyer and seller balances. Balance writes are
// absolute values guarded by the version read with them.
type Accounts interface {
	UserExists(ctx context.Context, id int64) (bool, error)
	GetUser(ctx context.Context, id int64) (domain.User, error)
	SetUserBalance(ctx context.Context, id int64, balance decimal.Decimal, version int64) error
	GetPharmacy(ctx context.Context, id int64) (domain.Pharmacy, error)
	SetPharmacyBalance(ctx context.Context, id int64, balance decimal.Decimal, version int64) error
}

// Inventory reads mask rows and writes stock levels.
type Inventory interface {
	GetMask(ctx context.Context, id int64) (domain.Mask, error)
	SetMaskStock(ctx context.Context, id int64, stock int64, version int64) error
}

// Ledger appends purchase records, resolving display names and computing the
// amount from the current unit price.
type Ledger interface {
	CreatePurchase(ctx context.Context, userID, pharmacyID, maskID, quantity int64) (domain.Purchase, error)
}

// LineItem is one requested purchase within a batch.
type LineItem struct {
	PharmacyID int64 `json:"pharmacy_id"`
	MaskID     int64 `json:"mask_id"`
	Quantity   int64 `json:"quantity"`
}

// Request is a bulk purchase: one buyer, an ordered list of lines.
type Request struct {
	UserID    int64      `json:"user_id"`
	Purchases []LineItem `json:"purchases"`
}

// Result is the structured outcome of a batch. TotalAmount always equals the
// sum of the completed entries' amounts.
type Result struct {
	Success            bool              `json:"success"`
	Message            string            `json:"message"`
	CompletedPurchases []domain.Purchase `json:"completed_purchases"`
	Errors             []string          `json:"errors"`
	TotalAmount        decimal.Decimal   `json:"total_amount"`
}

// Processor runs bulk purchases against the three stores. It never returns
// an error: every failure mode is folded into the Result.
type Processor struct {
	accounts  Accounts
	inventory Inventory
	ledger    Ledger
}

func NewProcessor(accounts Accounts, inventory Inventory, ledger Ledger) *Processor {
	return &Processor{accounts: accounts, inventory: inventory, ledger: ledger}
}

// ProcessBulkPurchase validates the buyer and their funds, then commits each
// line independently. A line that fails its live stock check or errors
// mid-commit is recorded and skipped; the batch keeps going.
func (p *Processor) ProcessBulkPurchase(ctx context.Context, req Request) Result {
	res, err := p.process(ctx, req)
	if err != nil {
		log.Printf("bulk purchase for user %d failed: %v", req.UserID, err)
		return Result{
			Success:            false,
			Message:            "bulk purchase processing failed",
			CompletedPurchases: []domain.Purchase{},
			Errors:             []string{err.Error()},
			TotalAmount:        decimal.Zero,
		}
	}
	return res
}

func (p *Processor) process(ctx context.Context, req Request) (Result, error) {
	exists, err := p.accounts.UserExists(ctx, req.UserID)
	if err != nil {
		return Result{}, err
	}
	if !exists {
		return abort(fmt.Sprintf("buyer %d does not exist", req.UserID)), nil
	}

	errs := []string{}

	// Estimate pass: reads only. Lines short on stock (or failing to load)
	// are excluded from the estimate but do not stop the batch.
	estimated := decimal.Zero
	for _, line := range req.Purchases {
		mask, err := p.inventory.GetMask(ctx, line.MaskID)
		if err != nil {
			errs = append(errs, "purchase failed: "+err.Error())
			continue
		}
		if mask.StockQuantity < line.Quantity {
			msg := insufficientStock(line, mask.StockQuantity)
			log.Printf("bulk purchase for user %d: %s", req.UserID, msg)
			errs = append(errs, msg)
			continue
		}
		estimated = estimated.Add(mask.Price.Mul(decimal.NewFromInt(line.Quantity)))
	}

	buyer, err := p.accounts.GetUser(ctx, req.UserID)
	if err != nil {
		return Result{}, err
	}
	if buyer.CashBalance.LessThan(estimated) {
		// This abort path reports only the funds error; line errors
		// collected during the estimate are dropped with it.
		return abort(fmt.Sprintf("insufficient buyer funds, balance is %s", buyer.CashBalance.StringFixed(2))), nil
	}

	// Commit pass: re-check every line against live stock, then append the
	// ledger entry, credit the seller and debit the stock. Lines are
	// independent; nothing here rolls back a prior line.
	completed := []domain.Purchase{}
	total := decimal.Zero
	for _, line := range req.Purchases {
		mask, err := p.inventory.GetMask(ctx, line.MaskID)
		if err != nil {
			errs = append(errs, "purchase failed: "+err.Error())
			continue
		}
		if mask.StockQuantity < line.Quantity {
			msg := insufficientStock(line, mask.StockQuantity)
			log.Printf("bulk purchase for user %d: %s", req.UserID, msg)
			errs = append(errs, msg)
			continue
		}
		seller, err := p.accounts.GetPharmacy(ctx, line.PharmacyID)
		if err != nil {
			errs = append(errs, "purchase failed: "+err.Error())
			continue
		}
		entry, err := p.ledger.CreatePurchase(ctx, req.UserID, line.PharmacyID, line.MaskID, line.Quantity)
		if err != nil {
			errs = append(errs, "purchase failed: "+err.Error())
			continue
		}
		completed = append(completed, entry)
		total = total.Add(entry.TransactionAmount)
		if err := p.accounts.SetPharmacyBalance(ctx, seller.ID, seller.CashBalance.Add(entry.TransactionAmount), seller.Version); err != nil {
			errs = append(errs, "purchase failed: "+err.Error())
			continue
		}
		if err := p.inventory.SetMaskStock(ctx, mask.ID, mask.StockQuantity-line.Quantity, mask.Version); err != nil {
			errs = append(errs, "purchase failed: "+err.Error())
			continue
		}
	}

	// The buyer is debited exactly once, from the balance snapshot taken at
	// the affordability check, even when nothing was committed.
	if err := p.accounts.SetUserBalance(ctx, buyer.ID, buyer.CashBalance.Sub(total), buyer.Version); err != nil {
		return Result{}, err
	}

	res := Result{
		Success:            len(completed) > 0,
		CompletedPurchases: completed,
		Errors:             errs,
		TotalAmount:        total,
	}
	if res.Success {
		res.Message = fmt.Sprintf("completed %d purchases, total amount: $%s", len(completed), total.StringFixed(2))
	} else {
		res.Message = "all purchases failed"
	}
	log.Printf("user %d bulk purchase: %d/%d lines completed", req.UserID, len(completed), len(req.Purchases))
	return res, nil
}

func abort(msg string) Result {
	return Result{
		Success:            false,
		Message:            msg,
		CompletedPurchases: []domain.Purchase{},
		Errors:             []string{msg},
		TotalAmount:        decimal.Zero,
	}
}

func insufficientStock(line LineItem, remaining int64) string {
	return fmt.Sprintf("insufficient stock at seller %d for item %d (remaining: %d, requested: %d)",
		line.PharmacyID, line.MaskID, remaining, line.Quantity)
}
