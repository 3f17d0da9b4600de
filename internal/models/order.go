package models

import "time"

// Order is one client submission against one form. The form is referenced by
// name (the "date" field of the public API); moving an order between forms is
// a single column update, so an order is never counted against two forms.
type Order struct {
	ID          string      `gorm:"size:36;primaryKey" json:"id"`
	FormName    string      `gorm:"not null;index" json:"date"`
	Name        string      `gorm:"not null" json:"name"`
	Phone       string      `gorm:"not null" json:"phone"`
	Comment     string      `json:"comment"`
	TotalAmount float64     `json:"totalAmount"`
	Items       []OrderItem `gorm:"foreignKey:OrderID" json:"-"`
	CreatedAt   time.Time   `json:"timestamp"`
}

// OrderItem is one ordered product within an order. The product carries no
// independent count; its quantity is entirely expressed through its extras.
type OrderItem struct {
	ID          uint         `gorm:"primaryKey" json:"-"`
	OrderID     string       `gorm:"size:36;not null;index" json:"-"`
	ProductName string       `gorm:"not null" json:"productName"`
	Extras      []OrderExtra `gorm:"foreignKey:OrderItemID" json:"extras"`
}

// OrderExtra records the chosen quantity of one extra.
type OrderExtra struct {
	ID          uint   `gorm:"primaryKey" json:"-"`
	OrderItemID uint   `gorm:"not null;index" json:"-"`
	ExtraName   string `gorm:"not null" json:"name"`
	Quantity    int    `gorm:"not null" json:"quantity"`
}

// Quantity is the admission-relevant count of this item: the sum of its
// extra quantities.
func (i OrderItem) Quantity() int {
	total := 0
	for _, e := range i.Extras {
		total += e.Quantity
	}
	return total
}

// SelectedProducts renders the items in the wire shape of the public API:
// map of product name to its extra quantities.
func (o *Order) SelectedProducts() map[string]map[string]int {
	out := make(map[string]map[string]int, len(o.Items))
	for _, item := range o.Items {
		extras := make(map[string]int, len(item.Extras))
		for _, e := range item.Extras {
			extras[e.ExtraName] = e.Quantity
		}
		out[item.ProductName] = extras
	}
	return out
}
