package domain

import "github.com/shopspring/decimal"

// Pharmacy is a seller account, credited for each completed purchase.
type Pharmacy struct {
	ID           int64           `db:"id" json:"id"`
	Name         string          `db:"name" json:"name"`
	CashBalance  decimal.Decimal `db:"cash_balance" json:"cash_balance"`
	OpeningHours string          `db:"opening_hours" json:"opening_hours"`
	Version      int64           `db:"version" json:"-"`
	CreatedAt    string          `db:"created_at" json:"created_at"`
}
