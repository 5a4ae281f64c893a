package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"phantommask/m/domain"
	"phantommask/m/internal/purchase"
	"phantommask/m/internal/store"
)

type ctxKey string

const (
	ctxStaffID ctxKey = "staffID"
	ctxRole    ctxKey = "role"
)

// Handler bundles dependencies for HTTP handlers.
type Handler struct {
	db        *sqlx.DB
	secret    string
	processor *purchase.Processor
}

// New constructs a Handler and wires the bulk purchase processor to its
// sqlx-backed stores.
func New(db *sqlx.DB, secret string) *Handler {
	processor := purchase.NewProcessor(
		store.NewAccountStore(db),
		store.NewInventoryStore(db),
		store.NewLedgerStore(db),
	)
	return &Handler{db: db, secret: secret, processor: processor}
}

// Router wires up the HTTP API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/login", h.login)
	})

	r.Group(func(pr chi.Router) {
		pr.Use(h.authMiddleware)

		pr.Route("/pharmacies", func(r chi.Router) {
			r.Get("/", h.listPharmacies)
			r.Get("/{id}/masks", h.listPharmacyMasks)
			r.Post("/{id}/masks", h.upsertMasks)
		})

		pr.Put("/masks/{id}/stock", h.updateMaskStock)

		pr.Route("/users", func(r chi.Router) {
			r.Get("/", h.listUsers)
			r.Get("/{id}/purchases", h.listUserPurchases)
		})

		pr.Post("/purchases/bulk", h.bulkPurchase)

		pr.Get("/analytics/top-spenders", h.topSpenders)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Authentication helpers

type authClaims struct {
	StaffID int64  `json:"staff_id"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

func (h *Handler) generateToken(staffID int64, role string) (string, error) {
	claims := authClaims{
		StaffID: staffID,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.secret))
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		tokenString := strings.TrimSpace(header[len("Bearer "):])
		token, err := jwt.ParseWithClaims(tokenString, &authClaims{}, func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwt.SigningMethodHS256 {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(h.secret), nil
		})
		if err != nil || !token.Valid {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		claims, ok := token.Claims.(*authClaims)
		if !ok {
			respondError(w, http.StatusUnauthorized, "invalid token claims")
			return
		}
		ctx := context.WithValue(r.Context(), ctxStaffID, claims.StaffID)
		ctx = context.WithValue(ctx, ctxRole, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) requireRole(w http.ResponseWriter, r *http.Request, allowed ...string) bool {
	role := r.Context().Value(ctxRole)
	if role == nil {
		respondError(w, http.StatusUnauthorized, "missing role")
		return false
	}
	current := role.(string)
	for _, allowedRole := range allowed {
		if current == allowedRole {
			return true
		}
	}
	respondError(w, http.StatusForbidden, "insufficient permissions")
	return false
}

// Auth handlers

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type authResponse struct {
	Token string       `json:"token"`
	Staff domain.Staff `json:"staff"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" || req.Role == "" {
		respondError(w, http.StatusBadRequest, "username, email, password and role are required")
		return
	}
	if req.Role != "admin" && req.Role != "operator" {
		respondError(w, http.StatusBadRequest, "role must be admin or operator")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to secure password")
		return
	}

	res, err := h.db.Exec(`INSERT INTO staff (username, email, password, role) VALUES ($1, $2, $3, $4)`,
		req.Username, strings.ToLower(req.Email), hashed, req.Role)
	if err != nil {
		respondError(w, http.StatusConflict, "email already exists")
		return
	}
	staffID, err := res.LastInsertId()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to complete registration")
		return
	}

	token, err := h.generateToken(staffID, req.Role)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to generate token")
		return
	}

	respondJSON(w, http.StatusCreated, authResponse{
		Token: token,
		Staff: domain.Staff{ID: staffID, Username: req.Username, Email: strings.ToLower(req.Email), Role: req.Role},
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var staff domain.Staff
	err := h.db.Get(&staff, `SELECT id, username, email, password, role FROM staff WHERE email = $1`, strings.ToLower(req.Email))
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(staff.Password), []byte(req.Password)) != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.generateToken(staff.ID, staff.Role)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to generate token")
		return
	}

	staff.Password = ""
	respondJSON(w, http.StatusOK, authResponse{Token: token, Staff: staff})
}

// Pharmacy handlers

func (h *Handler) listPharmacies(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	var pharmacies []domain.Pharmacy
	var err error
	if name == "" {
		err = h.db.Select(&pharmacies, `SELECT id, name, cash_balance, opening_hours, version, created_at FROM pharmacies ORDER BY name`)
	} else {
		err = h.db.Select(&pharmacies, `SELECT id, name, cash_balance, opening_hours, version, created_at FROM pharmacies WHERE name LIKE $1 ORDER BY name`,
			"%"+name+"%")
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list pharmacies")
		return
	}
	respondJSON(w, http.StatusOK, pharmacies)
}

func (h *Handler) listPharmacyMasks(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid pharmacy id")
		return
	}

	orderBy := "name"
	switch r.URL.Query().Get("sort_by") {
	case "", "name":
	case "price":
		orderBy = "price"
	default:
		respondError(w, http.StatusBadRequest, "sort_by must be name or price")
		return
	}

	var masks []domain.Mask
	query := fmt.Sprintf(`SELECT id, pharmacy_id, name, price, stock_quantity, version, created_at FROM masks WHERE pharmacy_id = $1 ORDER BY %s`, orderBy)
	if err := h.db.Select(&masks, query, id); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list masks")
		return
	}
	respondJSON(w, http.StatusOK, masks)
}

type maskUpsertRequest struct {
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int64           `json:"stock_quantity"`
}

func (h *Handler) upsertMasks(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, "admin", "operator") {
		return
	}
	pharmacyID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid pharmacy id")
		return
	}
	var reqs []maskUpsertRequest
	if err := decodeJSON(r, &reqs); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(reqs) == 0 {
		respondError(w, http.StatusBadRequest, "at least one mask is required")
		return
	}
	for _, m := range reqs {
		if strings.TrimSpace(m.Name) == "" || m.Price.IsNegative() || m.StockQuantity < 0 {
			respondError(w, http.StatusBadRequest, "each mask needs a name, a non-negative price and a non-negative stock_quantity")
			return
		}
	}

	var exists int
	if err := h.db.Get(&exists, `SELECT COUNT(1) FROM pharmacies WHERE id = $1`, pharmacyID); err != nil || exists == 0 {
		respondError(w, http.StatusNotFound, "pharmacy not found")
		return
	}

	tx, err := h.db.Beginx()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to start upsert")
		return
	}
	defer tx.Rollback()

	for _, m := range reqs {
		name := strings.TrimSpace(m.Name)
		res, err := tx.Exec(`UPDATE masks SET price = $1, stock_quantity = $2, version = version + 1 WHERE pharmacy_id = $3 AND name = $4`,
			m.Price, m.StockQuantity, pharmacyID, name)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "unable to upsert masks")
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if _, err := tx.Exec(`INSERT INTO masks (pharmacy_id, name, price, stock_quantity) VALUES ($1, $2, $3, $4)`,
				pharmacyID, name, m.Price, m.StockQuantity); err != nil {
				respondError(w, http.StatusInternalServerError, "unable to upsert masks")
				return
			}
		}
	}

	if err := tx.Commit(); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to complete upsert")
		return
	}

	var masks []domain.Mask
	if err := h.db.Select(&masks, `SELECT id, pharmacy_id, name, price, stock_quantity, version, created_at FROM masks WHERE pharmacy_id = $1 ORDER BY name`, pharmacyID); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load masks")
		return
	}
	respondJSON(w, http.StatusOK, masks)
}

func (h *Handler) updateMaskStock(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, "admin", "operator") {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid mask id")
		return
	}
	var payload struct {
		StockQuantity int64 `json:"stock_quantity"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.StockQuantity < 0 {
		respondError(w, http.StatusBadRequest, "stock_quantity must be non-negative")
		return
	}
	res, err := h.db.Exec(`UPDATE masks SET stock_quantity = $1, version = version + 1 WHERE id = $2`, payload.StockQuantity, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to update stock")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		respondError(w, http.StatusNotFound, "mask not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "stock updated"})
}

// User handlers

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	var users []domain.User
	if err := h.db.Select(&users, `SELECT id, name, cash_balance, version, created_at FROM users ORDER BY name`); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list users")
		return
	}
	respondJSON(w, http.StatusOK, users)
}

func (h *Handler) listUserPurchases(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var userName string
	err = h.db.Get(&userName, `SELECT name FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load user")
		return
	}

	var purchases []domain.Purchase
	err = h.db.Select(&purchases,
		`SELECT id, user_name, pharmacy_name, mask_name, transaction_quantity, transaction_amount, transaction_datetime, created_at
         FROM purchases WHERE user_name = $1 ORDER BY transaction_datetime DESC`, userName)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load purchases")
		return
	}
	if purchases == nil {
		purchases = []domain.Purchase{}
	}
	respondJSON(w, http.StatusOK, purchases)
}

// Bulk purchase

func (h *Handler) bulkPurchase(w http.ResponseWriter, r *http.Request) {
	var req purchase.Request
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID == 0 {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if len(req.Purchases) == 0 {
		respondError(w, http.StatusBadRequest, "purchases must not be empty")
		return
	}
	for _, line := range req.Purchases {
		if line.PharmacyID == 0 || line.MaskID == 0 || line.Quantity <= 0 {
			respondError(w, http.StatusBadRequest, "each purchase needs pharmacy_id, mask_id and a positive quantity")
			return
		}
	}

	// The processor reports every outcome, including failure, through the
	// result body; the status is 200 either way.
	result := h.processor.ProcessBulkPurchase(r.Context(), req)
	respondJSON(w, http.StatusOK, result)
}

// Analytics

type topSpender struct {
	UserName       string          `db:"user_name" json:"user_name"`
	TotalSpent     decimal.Decimal `db:"total_spent" json:"total_spent"`
	TotalPurchases int64           `db:"total_purchases" json:"total_purchases"`
	FirstPurchase  string          `db:"first_purchase" json:"first_purchase"`
	LastPurchase   string          `db:"last_purchase" json:"last_purchase"`
}

func (h *Handler) topSpenders(w http.ResponseWriter, r *http.Request) {
	top := 5
	if raw := r.URL.Query().Get("top"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "top must be a positive integer")
			return
		}
		top = parsed
	}

	var (
		args    []any
		clauses []string
	)

	start := strings.TrimSpace(r.URL.Query().Get("start"))
	if start != "" {
		if _, err := time.Parse("2006-01-02", start); err != nil {
			respondError(w, http.StatusBadRequest, "start must be in YYYY-MM-DD format")
			return
		}
		args = append(args, start+"T00:00:00Z")
		clauses = append(clauses, fmt.Sprintf("transaction_datetime >= $%d", len(args)))
	}

	end := strings.TrimSpace(r.URL.Query().Get("end"))
	if end != "" {
		if _, err := time.Parse("2006-01-02", end); err != nil {
			respondError(w, http.StatusBadRequest, "end must be in YYYY-MM-DD format")
			return
		}
		args = append(args, end+"T23:59:59Z")
		clauses = append(clauses, fmt.Sprintf("transaction_datetime <= $%d", len(args)))
	}

	query := `SELECT user_name, SUM(transaction_amount) AS total_spent, COUNT(*) AS total_purchases,
                MIN(transaction_datetime) AS first_purchase, MAX(transaction_datetime) AS last_purchase
              FROM purchases`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, top)
	query += fmt.Sprintf(" GROUP BY user_name ORDER BY total_spent DESC LIMIT $%d", len(args))

	var spenders []topSpender
	if err := h.db.Select(&spenders, query, args...); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load top spenders")
		return
	}
	if spenders == nil {
		spenders = []topSpender{}
	}
	respondJSON(w, http.StatusOK, spenders)
}

// Helpers

func decodeJSON(r *http.Request, dest interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
