package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"phantommask/m/domain"
)

// AccountStore reads and writes buyer (user) and seller (pharmacy) balances.
// Buyers and sellers live in separate tables, so the methods are
// role-explicit rather than keyed on a shared account id.
type AccountStore struct {
	db *sqlx.DB
}

func NewAccountStore(db *sqlx.DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) UserExists(ctx context.Context, id int64) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM users WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("check user %d: %w", id, err)
	}
	return n > 0, nil
}

func (s *AccountStore) GetUser(ctx context.Context, id int64) (domain.User, error) {
	var user domain.User
	err := s.db.GetContext(ctx, &user,
		`SELECT id, name, cash_balance, version, created_at FROM users WHERE id = ?`, id)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user %d: %w", id, err)
	}
	return user, nil
}

// SetUserBalance writes an absolute balance, guarded by the version read
// with it.
func (s *AccountStore) SetUserBalance(ctx context.Context, id int64, balance decimal.Decimal, version int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET cash_balance = ?, version = version + 1 WHERE id = ? AND version = ?`,
		balance, id, version)
	if err != nil {
		return fmt.Errorf("set user %d balance: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("set user %d balance: %w", id, ErrVersionConflict)
	}
	return nil
}

func (s *AccountStore) GetPharmacy(ctx context.Context, id int64) (domain.Pharmacy, error) {
	var pharmacy domain.Pharmacy
	err := s.db.GetContext(ctx, &pharmacy,
		`SELECT id, name, cash_balance, opening_hours, version, created_at FROM pharmacies WHERE id = ?`, id)
	if err != nil {
		return domain.Pharmacy{}, fmt.Errorf("get pharmacy %d: %w", id, err)
	}
	return pharmacy, nil
}

func (s *AccountStore) SetPharmacyBalance(ctx context.Context, id int64, balance decimal.Decimal, version int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pharmacies SET cash_balance = ?, version = version + 1 WHERE id = ? AND version = ?`,
		balance, id, version)
	if err != nil {
		return fmt.Errorf("set pharmacy %d balance: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("set pharmacy %d balance: %w", id, ErrVersionConflict)
	}
	return nil
}
