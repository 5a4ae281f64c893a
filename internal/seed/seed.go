package seed

import (
	"encoding/json"
	"log"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type seedPurchase struct {
	PharmacyName        string           `json:"pharmacyName"`
	MaskName            string           `json:"maskName"`
	TransactionAmount   *decimal.Decimal `json:"transactionAmount"`
	TransactionQuantity *int64           `json:"transactionQuantity"`
	TransactionDatetime string           `json:"transactionDatetime"`
}

type seedUser struct {
	Name              string          `json:"name"`
	CashBalance       decimal.Decimal `json:"cashBalance"`
	PurchaseHistories []seedPurchase  `json:"purchaseHistories"`
}

type seedMask struct {
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int64           `json:"stockQuantity"`
}

type seedPharmacy struct {
	Name         string          `json:"name"`
	CashBalance  decimal.Decimal `json:"cashBalance"`
	OpeningHours string          `json:"openingHours"`
	Masks        []seedMask      `json:"masks"`
}

// Load ingests the user and pharmacy fixtures. Records are upserted by
// display name, so re-running against an existing database refreshes
// balances and stock instead of duplicating rows. Missing fixture files are
// logged and skipped.
func Load(db *sqlx.DB, usersPath, pharmaciesPath string) {
	loadUsers(db, usersPath)
	loadPharmacies(db, pharmaciesPath)
}

func loadUsers(db *sqlx.DB, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("unable to load user fixtures %s: %v", path, err)
		return
	}

	var users []seedUser
	if err := json.Unmarshal(data, &users); err != nil {
		log.Printf("unable to parse user fixtures %s: %v", path, err)
		return
	}

	tx, err := db.Beginx()
	if err != nil {
		log.Printf("unable to start user seed: %v", err)
		return
	}

	rows := 0
	for _, user := range users {
		name := strings.TrimSpace(user.Name)
		if name == "" {
			continue
		}

		res, err := tx.Exec(`UPDATE users SET cash_balance = ? WHERE name = ?`, user.CashBalance, name)
		if err != nil {
			log.Printf("unable to upsert user %s: %v", name, err)
			continue
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if _, err := tx.Exec(`INSERT INTO users (name, cash_balance) VALUES (?, ?)`, name, user.CashBalance); err != nil {
				log.Printf("unable to insert user %s: %v", name, err)
				continue
			}
		}
		rows++

		seedUserHistory(tx, name, user.PurchaseHistories)
	}

	if err := tx.Commit(); err != nil {
		log.Printf("unable to commit user seed: %v", err)
		return
	}
	log.Printf("seeded %d users", rows)
}

// seedUserHistory backfills historical ledger entries for a user, once.
func seedUserHistory(tx *sqlx.Tx, userName string, histories []seedPurchase) {
	var existing int
	if err := tx.Get(&existing, `SELECT COUNT(1) FROM purchases WHERE user_name = ?`, userName); err != nil || existing > 0 {
		return
	}

	for _, h := range histories {
		pharmacyName := strings.TrimSpace(h.PharmacyName)
		maskName := strings.TrimSpace(h.MaskName)
		if pharmacyName == "" || maskName == "" || h.TransactionAmount == nil || h.TransactionQuantity == nil {
			continue
		}
		_, err := tx.Exec(
			`INSERT INTO purchases (user_name, pharmacy_name, mask_name, transaction_quantity, transaction_amount, transaction_datetime, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			userName, pharmacyName, maskName, *h.TransactionQuantity, *h.TransactionAmount, h.TransactionDatetime, h.TransactionDatetime)
		if err != nil {
			log.Printf("unable to insert purchase history for %s: %v", userName, err)
		}
	}
}

func loadPharmacies(db *sqlx.DB, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("unable to load pharmacy fixtures %s: %v", path, err)
		return
	}

	var pharmacies []seedPharmacy
	if err := json.Unmarshal(data, &pharmacies); err != nil {
		log.Printf("unable to parse pharmacy fixtures %s: %v", path, err)
		return
	}

	tx, err := db.Beginx()
	if err != nil {
		log.Printf("unable to start pharmacy seed: %v", err)
		return
	}

	rows := 0
	for _, pharmacy := range pharmacies {
		name := strings.TrimSpace(pharmacy.Name)
		if name == "" {
			continue
		}

		var pharmacyID int64
		err := tx.Get(&pharmacyID, `SELECT id FROM pharmacies WHERE name = ?`, name)
		if err != nil {
			res, err := tx.Exec(`INSERT INTO pharmacies (name, cash_balance, opening_hours) VALUES (?, ?, ?)`,
				name, pharmacy.CashBalance, pharmacy.OpeningHours)
			if err != nil {
				log.Printf("unable to insert pharmacy %s: %v", name, err)
				continue
			}
			pharmacyID, err = res.LastInsertId()
			if err != nil {
				log.Printf("unable to insert pharmacy %s: %v", name, err)
				continue
			}
		} else {
			if _, err := tx.Exec(`UPDATE pharmacies SET cash_balance = ?, opening_hours = ? WHERE id = ?`,
				pharmacy.CashBalance, pharmacy.OpeningHours, pharmacyID); err != nil {
				log.Printf("unable to update pharmacy %s: %v", name, err)
				continue
			}
		}
		rows++

		for _, mask := range pharmacy.Masks {
			maskName := strings.TrimSpace(mask.Name)
			if maskName == "" {
				continue
			}
			res, err := tx.Exec(`UPDATE masks SET price = ?, stock_quantity = ? WHERE pharmacy_id = ? AND name = ?`,
				mask.Price, mask.StockQuantity, pharmacyID, maskName)
			if err != nil {
				log.Printf("unable to upsert mask %s at %s: %v", maskName, name, err)
				continue
			}
			if n, _ := res.RowsAffected(); n == 0 {
				if _, err := tx.Exec(`INSERT INTO masks (pharmacy_id, name, price, stock_quantity) VALUES (?, ?, ?, ?)`,
					pharmacyID, maskName, mask.Price, mask.StockQuantity); err != nil {
					log.Printf("unable to insert mask %s at %s: %v", maskName, name, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("unable to commit pharmacy seed: %v", err)
		return
	}
	log.Printf("seeded %d pharmacies", rows)
}
