package models

import (
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/breadline/orderform/validation"
)

// TemplateFormName is the reserved form holding the canonical product
// definitions (including recipes). It is never listed to clients and cannot
// be deleted; new forms clone its products.
const TemplateFormName = "generic_products"

// Form is one selling window (usually keyed by a delivery date string).
type Form struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Name      string    `gorm:"not null;uniqueIndex" json:"name"`
	Visible   bool      `gorm:"not null;default:true" json:"visible"`
	Comment   string    `json:"comment"`
	Products  []Product `gorm:"foreignKey:FormID" json:"products"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// IsTemplate reports whether this is the reserved recipe/template form.
func (f *Form) IsTemplate() bool { return f.Name == TemplateFormName }

// Sourdough types. A product uses exactly one type (or none).
const (
	SourdoughNone     = "none"
	SourdoughBlack    = "black"
	SourdoughHalfHalf = "halfHalf"
	SourdoughWhite    = "white"
)

// Sourdough describes the leaven portion of a product's recipe.
// When Is20Percent is set the per-unit weight is always derived from flour;
// the stored weight only matters with the flag off.
type Sourdough struct {
	Type        string  `gorm:"column:type;size:16;not null;default:'none'" json:"type"`
	Weight      float64 `gorm:"column:weight" json:"weight"`
	Is20Percent bool    `gorm:"column:is20_percent" json:"is20Percent"`
}

// FlourDiversion names a sub-portion of a product's total flour.
type FlourDiversion struct {
	ID         uint    `gorm:"primaryKey" json:"-"`
	ProductID  uint    `gorm:"not null;index" json:"-"`
	Name       string  `gorm:"not null" json:"name"`
	Percentage float64 `gorm:"not null" json:"percentage"`
	Substitute float64 `gorm:"not null;default:0" json:"substitute"`
}

// Extra is a priced, quantity-bounded add-on of a product.
type Extra struct {
	ID        uint    `gorm:"primaryKey" json:"-"`
	ProductID uint    `gorm:"not null;index" json:"-"`
	Name      string  `gorm:"not null" json:"name"`
	MinAmount int     `gorm:"not null;default:0" json:"minAmount"`
	MaxAmount int     `gorm:"not null;default:0" json:"maxAmount"`
	Price     float64 `gorm:"not null;default:0" json:"price"`
}

// Product belongs to a form and carries its own per-form inventory.
// Recipe fields are only meaningful on the template form's products.
type Product struct {
	ID          uint   `gorm:"primaryKey" json:"-"`
	FormID      uint   `gorm:"not null;index:idx_form_product,unique,priority:1" json:"-"`
	Name        string `gorm:"not null;index:idx_form_product,unique,priority:2" json:"name"`
	Description string `json:"description"`
	Inventory   int    `gorm:"not null;default:0" json:"inventory"`
	Existent    bool   `gorm:"not null;default:true" json:"existent"`
	Position    int    `gorm:"not null;default:0" json:"-"`

	Extras []Extra `gorm:"foreignKey:ProductID" json:"extras"`

	// Recipe (grams per baked unit).
	Flour     float64          `json:"flour"`
	Water     float64          `json:"water"`
	Salt      float64          `json:"salt"`
	Flours    []FlourDiversion `gorm:"foreignKey:ProductID" json:"flours"`
	Sourdough Sourdough        `gorm:"embedded;embeddedPrefix:sourdough_" json:"sourdough"`

	// Derived on read, never authored.
	SoldOut bool `gorm:"-" json:"soldOut"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// AfterFind recomputes the derived fields so stored values can never drift
// from the rules that define them.
func (p *Product) AfterFind(_ *gorm.DB) error {
	p.Refresh()
	return nil
}

// Refresh recomputes SoldOut and the derived sourdough weight.
func (p *Product) Refresh() {
	p.SoldOut = p.Inventory == 0
	if p.Sourdough.Type == SourdoughNone {
		p.Sourdough.Weight = 0
	} else if p.Sourdough.Is20Percent {
		p.Sourdough.Weight = math.Round(p.Flour * 0.2)
	}
}

// SourdoughPerUnit returns the per-unit leaven weight under the derivation
// rule: round(flour x 0.2) whenever the 20% flag is set.
func (p *Product) SourdoughPerUnit() float64 {
	if p.Sourdough.Type == SourdoughNone {
		return 0
	}
	if p.Sourdough.Is20Percent {
		return math.Round(p.Flour * 0.2)
	}
	return p.Sourdough.Weight
}

// ValidateRecipe checks the recipe bounds at the data-entry boundary.
func (p *Product) ValidateRecipe() validation.Violations {
	v := validation.Violations{}
	if p.Flour < 0 {
		v["flour"] = "must_not_be_negative"
	}
	if p.Water < 0 {
		v["water"] = "must_not_be_negative"
	}
	if p.Salt < 0 {
		v["salt"] = "must_not_be_negative"
	}
	var pctSum, subSum float64
	for _, d := range p.Flours {
		validation.Required("flours."+d.Name+".name", d.Name, v)
		validation.RangeFloat("flours."+d.Name+".percentage", d.Percentage, 0, 100, v)
		validation.RangeFloat("flours."+d.Name+".substitute", d.Substitute, 0, 10, v)
		if d.Substitute > d.Percentage {
			v["flours."+d.Name+".substitute"] = "exceeds_percentage"
		}
		pctSum += d.Percentage
		subSum += d.Substitute
	}
	validation.MaxFloat("flours.percentage_sum", pctSum, 100, v)
	validation.MaxFloat("flours.substitute_sum", subSum, 10, v)
	switch p.Sourdough.Type {
	case SourdoughNone, SourdoughBlack, SourdoughHalfHalf, SourdoughWhite:
	default:
		v["sourdough.type"] = "unknown_type"
	}
	if p.Sourdough.Weight < 0 {
		v["sourdough.weight"] = "must_not_be_negative"
	}
	return v
}

// ValidateExtras checks extra bounds at the data-entry boundary.
func (p *Product) ValidateExtras() validation.Violations {
	v := validation.Violations{}
	for _, e := range p.Extras {
		validation.Required("extras."+e.Name+".name", e.Name, v)
		validation.NonNegativeInt("extras."+e.Name+".minAmount", e.MinAmount, v)
		if e.MinAmount > e.MaxAmount {
			v["extras."+e.Name+".minAmount"] = "exceeds_max_amount"
		}
		if e.Price < 0 {
			v["extras."+e.Name+".price"] = "must_not_be_negative"
		}
	}
	return v
}
