package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"phantommask/m/domain"
)

// InventoryStore reads mask rows and writes stock levels.
type InventoryStore struct {
	db *sqlx.DB
}

func NewInventoryStore(db *sqlx.DB) *InventoryStore {
	return &InventoryStore{db: db}
}

func (s *InventoryStore) GetMask(ctx context.Context, id int64) (domain.Mask, error) {
	var mask domain.Mask
	err := s.db.GetContext(ctx, &mask,
		`SELECT id, pharmacy_id, name, price, stock_quantity, version, created_at FROM masks WHERE id = ?`, id)
	if err != nil {
		return domain.Mask{}, fmt.Errorf("get mask %d: %w", id, err)
	}
	return mask, nil
}

// SetMaskStock writes an absolute stock quantity, guarded by the version
// read with it.
func (s *InventoryStore) SetMaskStock(ctx context.Context, id int64, stock int64, version int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE masks SET stock_quantity = ?, version = version + 1 WHERE id = ? AND version = ?`,
		stock, id, version)
	if err != nil {
		return fmt.Errorf("set mask %d stock: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("set mask %d stock: %w", id, ErrVersionConflict)
	}
	return nil
}
