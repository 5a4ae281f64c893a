package domain

import "github.com/shopspring/decimal"

// User is a buyer account. The cash balance is only ever debited by the
// bulk purchase processor.
type User struct {
	ID          int64           `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	CashBalance decimal.Decimal `db:"cash_balance" json:"cash_balance"`
	Version     int64           `db:"version" json:"-"`
	CreatedAt   string          `db:"created_at" json:"created_at"`
}
