package services

import (
	"errors"

	"gorm.io/gorm"

	"github.com/breadline/orderform/internal/models"
)

// Ledger answers "how much of product P remains orderable in form F". It is
// read-only: the committed quantity is not a counter but the live sum over
// existing orders, so it is consistent with the order set by construction.
// Admission passes its transaction handle as DB so checks and writes see one
// snapshot.
type Ledger struct {
	DB *gorm.DB
}

// Committed sums the extra quantities of every order in the form that
// selected the product, excluding excludeOrderID when set (the order being
// edited, whose prior commitment is conceptually refunded first).
func (l *Ledger) Committed(formName, productName, excludeOrderID string) (int, error) {
	q := l.DB.Model(&models.OrderExtra{}).
		Joins("JOIN order_items ON order_items.id = order_extras.order_item_id").
		Joins("JOIN orders ON orders.id = order_items.order_id").
		Where("orders.form_name = ? AND order_items.product_name = ?", formName, productName)
	if excludeOrderID != "" {
		q = q.Where("orders.id <> ?", excludeOrderID)
	}
	var total *int
	if err := q.Select("SUM(order_extras.quantity)").Scan(&total).Error; err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

// CommittedByForm returns committed quantities for every ordered product of
// a form in one query (the pre-aggregated view the API exposes).
func (l *Ledger) CommittedByForm(formName string) (map[string]int, error) {
	rows := []struct {
		ProductName string
		Total       int
	}{}
	err := l.DB.Model(&models.OrderExtra{}).
		Joins("JOIN order_items ON order_items.id = order_extras.order_item_id").
		Joins("JOIN orders ON orders.id = order_items.order_id").
		Where("orders.form_name = ?", formName).
		Group("order_items.product_name").
		Select("order_items.product_name AS product_name, SUM(order_extras.quantity) AS total").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.ProductName] = r.Total
	}
	return out, nil
}

// Available is declared inventory minus committed quantity.
func (l *Ledger) Available(formName, productName, excludeOrderID string) (int, error) {
	var form models.Form
	if err := l.DB.Where("name = ?", formName).First(&form).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrFormNotFound
		}
		return 0, err
	}
	var product models.Product
	err := l.DB.Where("form_id = ? AND name = ?", form.ID, productName).First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrProductNotFound
		}
		return 0, err
	}
	committed, err := l.Committed(formName, productName, excludeOrderID)
	if err != nil {
		return 0, err
	}
	return product.Inventory - committed, nil
}

// WouldAdmit reports whether requested more units of the product fit into the
// form's remaining stock, and how many units that is.
func (l *Ledger) WouldAdmit(formName, productName string, requested int, excludeOrderID string) (bool, int, error) {
	available, err := l.Available(formName, productName, excludeOrderID)
	if err != nil {
		return false, 0, err
	}
	return requested <= available, available, nil
}
