package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/breadline/orderform/httpx"
	"github.com/breadline/orderform/internal/models"
	"github.com/breadline/orderform/internal/services"
)

// OrderHandler exposes the order admission flow: submit, edit, delete, move.
type OrderHandler struct {
	DB  *gorm.DB
	Svc *services.AdmissionService
}

func NewOrderHandler(db *gorm.DB, svc *services.AdmissionService) *OrderHandler {
	return &OrderHandler{DB: db, Svc: svc}
}

type orderRequest struct {
	Name             string `json:"name"`
	Phone            string `json:"phone"`
	Date             string `json:"date"`
	Comment          string `json:"comment"`
	SelectedProducts map[string]struct {
		Selected *bool          `json:"selected"`
		Extras   map[string]int `json:"extras"`
	} `json:"selectedProducts"`
	// totalAmount is accepted for wire compatibility but recomputed from the
	// server-side prices; the client value is never trusted.
	TotalAmount float64 `json:"totalAmount"`
}

func (r orderRequest) draft() services.OrderDraft {
	products := map[string]map[string]int{}
	for name, p := range r.SelectedProducts {
		if p.Selected != nil && !*p.Selected {
			continue
		}
		extras := map[string]int{}
		for extraName, qty := range p.Extras {
			extras[extraName] = qty
		}
		products[name] = extras
	}
	return services.OrderDraft{
		Name:     r.Name,
		Phone:    r.Phone,
		Comment:  r.Comment,
		FormName: r.Date,
		Products: products,
	}
}

// orderJSON renders an order in the public wire shape.
func orderJSON(o *models.Order) map[string]any {
	selected := map[string]any{}
	for name, extras := range o.SelectedProducts() {
		selected[name] = map[string]any{"extras": extras}
	}
	return map[string]any{
		"id":               o.ID,
		"name":             o.Name,
		"phone":            o.Phone,
		"date":             o.FormName,
		"comment":          o.Comment,
		"selectedProducts": selected,
		"totalAmount":      o.TotalAmount,
		"timestamp":        o.CreatedAt,
	}
}

// writeAdmissionError maps service errors onto the JSON error envelope.
func writeAdmissionError(w http.ResponseWriter, err error) {
	var vErr *services.ValidationError
	if errors.As(err, &vErr) {
		httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", vErr.Fields)
		return
	}
	var invErr *services.InventoryError
	if errors.As(err, &invErr) {
		httpx.JSONError(w, http.StatusConflict, "inventory_exceeded", map[string]any{
			"product":   invErr.Product,
			"available": invErr.Available,
			"message":   invErr.Message(),
		})
		return
	}
	if errors.Is(err, services.ErrOrderNotFound) || errors.Is(err, services.ErrFormNotFound) ||
		errors.Is(err, services.ErrProductNotFound) {
		httpx.NotFound(w)
		return
	}
	httpx.Internal(w)
}

// Submit: POST /api/orders
func (h *OrderHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	order, err := h.Svc.Submit(r.Context(), req.draft())
	if err != nil {
		writeAdmissionError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"order": orderJSON(order)})
}

// List: GET /api/orders?date=F – orders plus the per-product aggregate the
// back office renders ("who ordered what").
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	formName := strings.TrimSpace(r.URL.Query().Get("date"))
	q := h.DB.Preload("Items.Extras").Order("created_at asc")
	if formName != "" {
		q = q.Where("form_name = ?", formName)
	}
	var orders []models.Order
	if err := q.Find(&orders).Error; err != nil {
		httpx.Internal(w)
		return
	}

	type extraAgg struct {
		Amount int      `json:"amount"`
		Names  []string `json:"names"`
	}
	type productAgg struct {
		TotalAmount int                  `json:"total_amount"`
		Extras      map[string]*extraAgg `json:"extras"`
	}
	aggregates := map[string]*productAgg{}
	rendered := make([]map[string]any, 0, len(orders))
	for i := range orders {
		o := &orders[i]
		rendered = append(rendered, orderJSON(o))
		for _, item := range o.Items {
			agg, ok := aggregates[item.ProductName]
			if !ok {
				agg = &productAgg{Extras: map[string]*extraAgg{}}
				aggregates[item.ProductName] = agg
			}
			for _, e := range item.Extras {
				ea, ok := agg.Extras[e.ExtraName]
				if !ok {
					ea = &extraAgg{}
					agg.Extras[e.ExtraName] = ea
				}
				ea.Amount += e.Quantity
				ea.Names = append(ea.Names, o.Name)
				agg.TotalAmount += e.Quantity
			}
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": rendered, "products": aggregates})
}

// Get: GET /api/orders/{id}
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request, orderID string) {
	order, err := h.Svc.Get(r.Context(), orderID)
	if err != nil {
		writeAdmissionError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"order": orderJSON(order)})
}

// Update: PUT /api/orders/{id} – full replace-and-revalidate.
func (h *OrderHandler) Update(w http.ResponseWriter, r *http.Request, orderID string) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	order, err := h.Svc.Update(r.Context(), orderID, req.draft())
	if err != nil {
		writeAdmissionError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"order": orderJSON(order)})
}

// Delete: DELETE /api/orders/{id}
func (h *OrderHandler) Delete(w http.ResponseWriter, r *http.Request, orderID string) {
	if err := h.Svc.Delete(r.Context(), orderID); err != nil {
		writeAdmissionError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": orderID})
}

// Move: POST /api/orders/{id}/move – delete-from-source + admit-to-target as
// one logical unit.
func (h *OrderHandler) Move(w http.ResponseWriter, r *http.Request, orderID string) {
	var req struct {
		TargetForm string `json:"targetForm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if strings.TrimSpace(req.TargetForm) == "" {
		httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", map[string]string{"targetForm": "required"})
		return
	}
	order, err := h.Svc.Move(r.Context(), orderID, req.TargetForm)
	if err != nil {
		writeAdmissionError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"order": orderJSON(order)})
}

// ProductsOrdered: GET /api/products_ordered/{form} – the pre-aggregated
// committed-quantity view; stays consistent with the ledger's definition
// because it is the ledger's definition.
func (h *OrderHandler) ProductsOrdered(w http.ResponseWriter, r *http.Request, formName string) {
	ledger := &services.Ledger{DB: h.DB.WithContext(r.Context())}
	committed, err := ledger.CommittedByForm(formName)
	if err != nil {
		httpx.Internal(w)
		return
	}
	// Stable key order is not required for JSON maps, but make sure every
	// existent product appears, including ones nobody ordered yet.
	var form models.Form
	if err := h.DB.Preload("Products").Where("name = ?", formName).First(&form).Error; err == nil {
		for _, p := range form.Products {
			if _, ok := committed[p.Name]; !ok && p.Existent {
				committed[p.Name] = 0
			}
		}
	}
	httpx.JSON(w, http.StatusOK, committed)
}
