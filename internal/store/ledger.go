package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"phantommask/m/domain"
)

// LedgerStore appends purchase records. Entries are never updated or
// deleted.
type LedgerStore struct {
	db *sqlx.DB
}

func NewLedgerStore(db *sqlx.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// CreatePurchase resolves the display names of the parties, computes the
// amount from the mask's current unit price and appends one ledger entry.
func (s *LedgerStore) CreatePurchase(ctx context.Context, userID, pharmacyID, maskID, quantity int64) (domain.Purchase, error) {
	var userName string
	if err := s.db.GetContext(ctx, &userName, `SELECT name FROM users WHERE id = ?`, userID); err != nil {
		return domain.Purchase{}, fmt.Errorf("resolve user %d: %w", userID, err)
	}

	var pharmacyName string
	if err := s.db.GetContext(ctx, &pharmacyName, `SELECT name FROM pharmacies WHERE id = ?`, pharmacyID); err != nil {
		return domain.Purchase{}, fmt.Errorf("resolve pharmacy %d: %w", pharmacyID, err)
	}

	var mask struct {
		Name  string          `db:"name"`
		Price decimal.Decimal `db:"price"`
	}
	if err := s.db.GetContext(ctx, &mask, `SELECT name, price FROM masks WHERE id = ?`, maskID); err != nil {
		return domain.Purchase{}, fmt.Errorf("resolve mask %d: %w", maskID, err)
	}

	amount := mask.Price.Mul(decimal.NewFromInt(quantity))
	now := time.Now().UTC().Format(time.RFC3339)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO purchases (user_name, pharmacy_name, mask_name, transaction_quantity, transaction_amount, transaction_datetime, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userName, pharmacyName, mask.Name, quantity, amount, now, now)
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("append purchase: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Purchase{}, err
	}

	return domain.Purchase{
		ID:                  id,
		UserName:            userName,
		PharmacyName:        pharmacyName,
		MaskName:            mask.Name,
		TransactionQuantity: quantity,
		TransactionAmount:   amount,
		TransactionDateTime: now,
		CreatedAt:           now,
	}, nil
}
