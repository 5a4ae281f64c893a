package domain

import "github.com/shopspring/decimal"

// Purchase is one append-only ledger entry. Display names are resolved at
// creation time so the record stays readable even if the parties change.
// Timestamps are RFC 3339 in UTC.
type Purchase struct {
	ID                  int64           `db:"id" json:"id"`
	UserName            string          `db:"user_name" json:"user_name"`
	PharmacyName        string          `db:"pharmacy_name" json:"pharmacy_name"`
	MaskName            string          `db:"mask_name" json:"mask_name"`
	TransactionQuantity int64           `db:"transaction_quantity" json:"transaction_quantity"`
	TransactionAmount   decimal.Decimal `db:"transaction_amount" json:"transaction_amount"`
	TransactionDateTime string          `db:"transaction_datetime" json:"transaction_datetime"`
	CreatedAt           string          `db:"created_at" json:"created_at"`
}
