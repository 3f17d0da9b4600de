package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/breadline/orderform/internal/models"
	"github.com/breadline/orderform/validation"
)

// OrderDraft is a candidate order: contact info plus the selected products
// with their extra quantities. Prices are never taken from the draft.
type OrderDraft struct {
	Name     string
	Phone    string
	Comment  string
	FormName string
	// Products maps product name to extra name to requested quantity.
	Products map[string]map[string]int
}

// AdmissionService is the only path by which orders are created, edited,
// deleted, or moved. Each operation locks the forms it touches (sorted, so
// Move cannot deadlock) and runs inside one transaction, which closes the
// check-then-act window: two concurrent admissions against the same product
// can never jointly oversell. Operations on disjoint forms run in parallel.
type AdmissionService struct {
	db *gorm.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewAdmissionService(db *gorm.DB) *AdmissionService {
	return &AdmissionService{db: db, locks: make(map[string]*sync.Mutex)}
}

func (s *AdmissionService) formLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

// lockForms acquires the per-form locks in sorted order and returns the
// release function.
func (s *AdmissionService) lockForms(names ...string) func() {
	uniq := map[string]bool{}
	var sorted []string
	for _, n := range names {
		if !uniq[n] {
			uniq[n] = true
			sorted = append(sorted, n)
		}
	}
	sort.Strings(sorted)
	var held []*sync.Mutex
	for _, n := range sorted {
		l := s.formLock(n)
		l.Lock()
		held = append(held, l)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// Submit validates the draft against the form's products and remaining stock
// and persists the order. Nothing is committed on any failure.
func (s *AdmissionService) Submit(ctx context.Context, draft OrderDraft) (*models.Order, error) {
	if err := validateDraft(draft); err != nil {
		return nil, err
	}
	unlock := s.lockForms(draft.FormName)
	defer unlock()

	var order *models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		total, items, err := s.admit(tx, draft, "")
		if err != nil {
			return err
		}
		order = &models.Order{
			ID:          uuid.NewString(),
			FormName:    draft.FormName,
			Name:        strings.TrimSpace(draft.Name),
			Phone:       strings.TrimSpace(draft.Phone),
			Comment:     draft.Comment,
			TotalAmount: total,
			Items:       items,
		}
		return tx.Create(order).Error
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// lockOrder locks the form the order currently belongs to. The form name is
// first read outside the lock, so a concurrent Move may re-home the order
// before the lock is held; re-read under the lock and retry until the locked
// form is the order's form. Once they agree no Move can intervene, because a
// Move must hold this same lock.
func (s *AdmissionService) lockOrder(ctx context.Context, orderID string) (*models.Order, func(), error) {
	for {
		order, err := s.Get(ctx, orderID)
		if err != nil {
			return nil, nil, err
		}
		unlock := s.lockForms(order.FormName)
		current, err := s.Get(ctx, orderID)
		if err != nil {
			unlock()
			return nil, nil, err
		}
		if current.FormName == order.FormName {
			return current, unlock, nil
		}
		unlock()
	}
}

// Update replaces an order with the draft, re-running admission with the
// order's prior commitment refunded first: the order may keep or reduce its
// allocation even when the form is otherwise sold out, but cannot grow past
// remaining availability.
func (s *AdmissionService) Update(ctx context.Context, orderID string, draft OrderDraft) (*models.Order, error) {
	existing, unlock, err := s.lockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	draft.FormName = existing.FormName
	if err := validateDraft(draft); err != nil {
		return nil, err
	}

	var order *models.Order
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order = &models.Order{}
		if err := tx.Preload("Items.Extras").First(order, "id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		total, items, err := s.admit(tx, draft, orderID)
		if err != nil {
			return err
		}
		if err := deleteItems(tx, order); err != nil {
			return err
		}
		for i := range items {
			items[i].OrderID = orderID
		}
		if len(items) > 0 {
			if err := tx.Create(&items).Error; err != nil {
				return err
			}
		}
		order.Name = strings.TrimSpace(draft.Name)
		order.Phone = strings.TrimSpace(draft.Phone)
		order.Comment = draft.Comment
		order.TotalAmount = total
		order.Items = items
		return tx.Model(&models.Order{}).Where("id = ?", orderID).
			Updates(map[string]any{
				"name":         order.Name,
				"phone":        order.Phone,
				"comment":      order.Comment,
				"total_amount": order.TotalAmount,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Delete unconditionally removes the order; its committed quantity is freed
// implicitly by the next ledger read.
func (s *AdmissionService) Delete(ctx context.Context, orderID string) error {
	_, unlock, err := s.lockOrder(ctx, orderID)
	if err != nil {
		return err
	}
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.Preload("Items").First(&order, "id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		if err := deleteItems(tx, &order); err != nil {
			return err
		}
		return tx.Delete(&models.Order{}, "id = ?", orderID).Error
	})
}

// Move re-validates the order's selections against the target form's own
// products and stock, then re-homes the order in a single column update, so
// it is never counted against two forms and never lost: if target admission
// fails the source order is untouched.
func (s *AdmissionService) Move(ctx context.Context, orderID, targetForm string) (*models.Order, error) {
	// Same retry as lockOrder, with the target held alongside the source.
	var unlock func()
	for {
		existing, err := s.Get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if targetForm == existing.FormName {
			return existing, nil
		}
		unlock = s.lockForms(existing.FormName, targetForm)
		current, err := s.Get(ctx, orderID)
		if err != nil {
			unlock()
			return nil, err
		}
		if current.FormName == existing.FormName {
			break
		}
		unlock()
	}
	defer unlock()

	var order *models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order = &models.Order{}
		if err := tx.Preload("Items.Extras").First(order, "id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		draft := OrderDraft{
			Name:     order.Name,
			Phone:    order.Phone,
			Comment:  order.Comment,
			FormName: targetForm,
			Products: order.SelectedProducts(),
		}
		// The order is committed against the source only, so no exclusion
		// applies in the target.
		total, _, err := s.admit(tx, draft, "")
		if err != nil {
			return err
		}
		order.FormName = targetForm
		order.TotalAmount = total
		return tx.Model(&models.Order{}).Where("id = ?", orderID).
			Updates(map[string]any{"form_name": targetForm, "total_amount": total}).Error
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Get loads one order with its items.
func (s *AdmissionService) Get(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Preload("Items.Extras").First(&order, "id = ?", orderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// admit runs every per-product check against one transaction snapshot and
// returns the repriced total plus the item rows to persist. Products are
// visited in sorted order so a multi-product failure is deterministic.
func (s *AdmissionService) admit(tx *gorm.DB, draft OrderDraft, excludeOrderID string) (float64, []models.OrderItem, error) {
	var form models.Form
	if err := tx.Where("name = ?", draft.FormName).First(&form).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil, ErrFormNotFound
		}
		return 0, nil, err
	}
	if form.IsTemplate() {
		return 0, nil, ErrFormNotFound
	}

	ledger := &Ledger{DB: tx}
	names := make([]string, 0, len(draft.Products))
	for name := range draft.Products {
		names = append(names, name)
	}
	sort.Strings(names)

	var total float64
	var items []models.OrderItem
	for _, productName := range names {
		requestedExtras := draft.Products[productName]

		var product models.Product
		err := tx.Preload("Extras").
			Where("form_id = ? AND name = ? AND existent = ?", form.ID, productName, true).
			First(&product).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, nil, &ValidationError{Fields: validation.Violations{
					"products." + productName: "not_available",
				}}
			}
			return 0, nil, err
		}

		defined := map[string]models.Extra{}
		for _, e := range product.Extras {
			defined[e.Name] = e
		}
		for extraName := range requestedExtras {
			if _, ok := defined[extraName]; !ok {
				return 0, nil, &ValidationError{Fields: validation.Violations{
					"products." + productName + ".extras." + extraName: "unknown_extra",
				}}
			}
		}

		requested := 0
		item := models.OrderItem{ProductName: productName}
		v := validation.Violations{}
		for _, extra := range product.Extras {
			qty := requestedExtras[extra.Name]
			validation.RangeInt("products."+productName+".extras."+extra.Name, qty, extra.MinAmount, extra.MaxAmount, v)
			requested += qty
			total += float64(qty) * extra.Price
			if qty > 0 {
				item.Extras = append(item.Extras, models.OrderExtra{ExtraName: extra.Name, Quantity: qty})
			}
		}
		if !v.Empty() {
			return 0, nil, &ValidationError{Fields: v}
		}

		ok, available, err := ledger.WouldAdmit(draft.FormName, productName, requested, excludeOrderID)
		if err != nil {
			return 0, nil, err
		}
		if !ok {
			return 0, nil, &InventoryError{Product: productName, Available: available}
		}
		items = append(items, item)
	}
	return total, items, nil
}

func validateDraft(draft OrderDraft) error {
	v := validation.Violations{}
	validation.Required("name", draft.Name, v)
	validation.Required("phone", draft.Phone, v)
	validation.Required("date", draft.FormName, v)
	if len(draft.Products) == 0 {
		v["products"] = "at_least_one_required"
	}
	for name, extras := range draft.Products {
		for extraName, qty := range extras {
			validation.NonNegativeInt("products."+name+".extras."+extraName, qty, v)
		}
	}
	if !v.Empty() {
		return &ValidationError{Fields: v}
	}
	return nil
}

func deleteItems(tx *gorm.DB, order *models.Order) error {
	itemIDs := make([]uint, 0, len(order.Items))
	for _, it := range order.Items {
		itemIDs = append(itemIDs, it.ID)
	}
	if len(itemIDs) > 0 {
		if err := tx.Where("order_item_id IN ?", itemIDs).Delete(&models.OrderExtra{}).Error; err != nil {
			return err
		}
	}
	return tx.Where("order_id = ?", order.ID).Delete(&models.OrderItem{}).Error
}
