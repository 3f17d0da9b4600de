package services

import (
	"context"
	"errors"
	"sort"

	"gorm.io/gorm"

	"github.com/breadline/orderform/internal/models"
)

// ProductionService turns the committed orders of a form into baker-facing
// quantities. It is read-only and recomputed on demand; each report is built
// inside one transaction so it reflects a single consistent snapshot of the
// order set.
type ProductionService struct {
	DB *gorm.DB
}

func NewProductionService(db *gorm.DB) *ProductionService {
	return &ProductionService{DB: db}
}

// ExtraBreakdown is a baker's "who ordered what" view of one extra.
type ExtraBreakdown struct {
	Total      int            `json:"total"`
	ByCustomer map[string]int `json:"byCustomer"`
}

// FlourLine is the scaled grams of one flour diversion.
type FlourLine struct {
	Name       string  `json:"name"`
	Percentage float64 `json:"percentage"`
	Substitute float64 `json:"substitute"`
	Grams      float64 `json:"grams"`
}

// ProductReport holds the scaled recipe of one product. All values are
// grams; rounding happens only at presentation.
type ProductReport struct {
	Product        string                    `json:"product"`
	TotalOrdered   int                       `json:"totalOrdered"`
	FlourTotal     float64                   `json:"flourTotal"`
	Flours         []FlourLine               `json:"flours"`
	WaterTotal     float64                   `json:"waterTotal"`
	WaterAdjusted  float64                   `json:"waterAdjusted"`
	W1             float64                   `json:"w1"`
	W2             float64                   `json:"w2"`
	SaltTotal      float64                   `json:"saltTotal"`
	SourdoughType  string                    `json:"sourdoughType"`
	SourdoughTotal float64                   `json:"sourdoughTotal"`
	Extras         map[string]ExtraBreakdown `json:"extras"`
}

// FormReport aggregates every ordered product of a form, plus the three
// leaven totals summed across products.
type FormReport struct {
	Form              string          `json:"form"`
	Products          []ProductReport `json:"products"`
	SourdoughWhite    float64         `json:"sourdoughWhite"`
	SourdoughHalfHalf float64         `json:"sourdoughHalfHalf"`
	SourdoughBlack    float64         `json:"sourdoughBlack"`
}

// ScaleRecipe scales a product's base recipe by the total ordered units.
// Pure and linear; no intermediate rounding.
func ScaleRecipe(p *models.Product, totalOrdered int) ProductReport {
	n := float64(totalOrdered)
	r := ProductReport{
		Product:       p.Name,
		TotalOrdered:  totalOrdered,
		FlourTotal:    p.Flour * n,
		WaterTotal:    p.Water * n,
		SaltTotal:     p.Salt * n,
		SourdoughType: p.Sourdough.Type,
	}
	for _, d := range p.Flours {
		r.Flours = append(r.Flours, FlourLine{
			Name:       d.Name,
			Percentage: d.Percentage,
			Substitute: d.Substitute,
			Grams:      ((d.Percentage - d.Substitute) / 100) * r.FlourTotal,
		})
	}
	// Fixed 10%-of-flour absorption correction, then the 95/5 stage split.
	r.WaterAdjusted = r.WaterTotal - r.FlourTotal*0.1
	r.W1 = r.WaterAdjusted * 0.95
	r.W2 = r.WaterAdjusted * 0.05
	r.SourdoughTotal = p.SourdoughPerUnit() * n
	return r
}

// TotalOrdered is the committed quantity of a product in a form; same
// definition as the ledger uses for admission.
func (s *ProductionService) TotalOrdered(ctx context.Context, formName, productName string) (int, error) {
	ledger := &Ledger{DB: s.DB.WithContext(ctx)}
	return ledger.Committed(formName, productName, "")
}

// PerExtraBreakdown reports the total quantity of one extra and who ordered
// it. Quantities sum to the product's TotalOrdered across all its extras.
func (s *ProductionService) PerExtraBreakdown(ctx context.Context, formName, productName, extraName string) (ExtraBreakdown, error) {
	var orders []models.Order
	err := s.DB.WithContext(ctx).Preload("Items.Extras").
		Where("form_name = ?", formName).Find(&orders).Error
	if err != nil {
		return ExtraBreakdown{}, err
	}
	out := ExtraBreakdown{ByCustomer: map[string]int{}}
	for _, o := range orders {
		for _, item := range o.Items {
			if item.ProductName != productName {
				continue
			}
			for _, e := range item.Extras {
				if e.ExtraName != extraName {
					continue
				}
				out.Total += e.Quantity
				out.ByCustomer[o.Name] += e.Quantity
			}
		}
	}
	return out, nil
}

// Report builds the full production report for a form. Recipes come from the
// template form's canonical product definitions.
func (s *ProductionService) Report(ctx context.Context, formName string) (*FormReport, error) {
	report := &FormReport{Form: formName}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var form models.Form
		if err := tx.Where("name = ?", formName).First(&form).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrFormNotFound
			}
			return err
		}

		var template models.Form
		if err := tx.Preload("Products.Flours").Preload("Products.Extras").
			Where("name = ?", models.TemplateFormName).First(&template).Error; err != nil {
			return err
		}
		recipes := map[string]*models.Product{}
		for i := range template.Products {
			recipes[template.Products[i].Name] = &template.Products[i]
		}

		var orders []models.Order
		if err := tx.Preload("Items.Extras").Where("form_name = ?", formName).Find(&orders).Error; err != nil {
			return err
		}

		totals := map[string]int{}
		breakdowns := map[string]map[string]ExtraBreakdown{}
		for _, o := range orders {
			for _, item := range o.Items {
				totals[item.ProductName] += item.Quantity()
				if breakdowns[item.ProductName] == nil {
					breakdowns[item.ProductName] = map[string]ExtraBreakdown{}
				}
				for _, e := range item.Extras {
					b := breakdowns[item.ProductName][e.ExtraName]
					if b.ByCustomer == nil {
						b.ByCustomer = map[string]int{}
					}
					b.Total += e.Quantity
					b.ByCustomer[o.Name] += e.Quantity
					breakdowns[item.ProductName][e.ExtraName] = b
				}
			}
		}

		names := make([]string, 0, len(totals))
		for name := range totals {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			recipe, ok := recipes[name]
			if !ok {
				// Ordered product without a canonical definition: report the
				// counts, leave the bake quantities at zero.
				recipe = &models.Product{Name: name, Sourdough: models.Sourdough{Type: models.SourdoughNone}}
			}
			pr := ScaleRecipe(recipe, totals[name])
			pr.Extras = breakdowns[name]
			report.Products = append(report.Products, pr)
			switch pr.SourdoughType {
			case models.SourdoughWhite:
				report.SourdoughWhite += pr.SourdoughTotal
			case models.SourdoughHalfHalf:
				report.SourdoughHalfHalf += pr.SourdoughTotal
			case models.SourdoughBlack:
				report.SourdoughBlack += pr.SourdoughTotal
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}
