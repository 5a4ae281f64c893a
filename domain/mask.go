package domain

import "github.com/shopspring/decimal"

// Mask is an inventory item owned by a pharmacy.
type Mask struct {
	ID            int64           `db:"id" json:"id"`
	PharmacyID    int64           `db:"pharmacy_id" json:"pharmacy_id"`
	Name          string          `db:"name" json:"name"`
	Price         decimal.Decimal `db:"price" json:"price"`
	StockQuantity int64           `db:"stock_quantity" json:"stock_quantity"`
	Version       int64           `db:"version" json:"-"`
	CreatedAt     string          `db:"created_at" json:"created_at"`
}
