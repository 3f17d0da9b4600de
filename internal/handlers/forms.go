package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/breadline/orderform/auth"
	"github.com/breadline/orderform/httpx"
	"github.com/breadline/orderform/internal/models"
	"github.com/breadline/orderform/validation"
)

// defaultFormComment is shown above a new form until the back office edits it.
const defaultFormComment = "The bread comes sliced unless you specify otherwise here. You can also add additional notes here."

// defaultInventory is assigned to a cloned or submitted product when no
// explicit stock is given.
const defaultInventory = 12

// FormHandler owns the form/product back-office flows plus the public
// listing endpoints.
type FormHandler struct {
	DB *gorm.DB
}

func NewFormHandler(db *gorm.DB) *FormHandler {
	return &FormHandler{DB: db}
}

// Dates: GET /api/dates – visible forms only for client-facing callers; the
// back office sees hidden forms too.
func (h *FormHandler) Dates(w http.ResponseWriter, r *http.Request) {
	q := h.DB.Model(&models.Form{}).Where("name <> ?", models.TemplateFormName)
	if !auth.IsBackoffice(r.Context()) {
		q = q.Where("visible = ?", true)
	}
	var names []string
	if err := q.Order("created_at asc").Pluck("name", &names).Error; err != nil {
		httpx.Internal(w)
		return
	}
	if names == nil {
		names = []string{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"dates": names})
}

// GetProducts: GET /api/products/{form} – products in display order plus the
// form metadata and comment. Clients only see existent products.
func (h *FormHandler) GetProducts(w http.ResponseWriter, r *http.Request, formName string) {
	var form models.Form
	err := h.DB.Preload("Products", func(db *gorm.DB) *gorm.DB {
		return db.Order("position asc")
	}).Preload("Products.Extras").Preload("Products.Flours").
		Where("name = ?", formName).First(&form).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.NotFound(w)
			return
		}
		httpx.Internal(w)
		return
	}
	products := make([]models.Product, 0, len(form.Products))
	backoffice := auth.IsBackoffice(r.Context())
	for _, p := range form.Products {
		if !p.Existent && !backoffice {
			continue
		}
		products = append(products, p)
	}
	comment := form.Comment
	if comment == "" {
		comment = defaultFormComment
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"products": products,
		"metadata": map[string]any{"visible": form.Visible},
		"comment":  comment,
	})
}

// Create: POST /api/forms – a new selling window cloned from the template's
// canonical products.
func (h *FormHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FormName string `json:"formName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	name := strings.TrimSpace(req.FormName)
	if name == "" {
		httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", map[string]string{"formName": "required"})
		return
	}
	if name == models.TemplateFormName {
		httpx.JSONError(w, http.StatusForbidden, "reserved_form_name", nil)
		return
	}

	err := h.DB.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Form{}).Where("name = ?", name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return errFormExists
		}
		var template models.Form
		if err := tx.Preload("Products", func(db *gorm.DB) *gorm.DB {
			return db.Order("position asc")
		}).Preload("Products.Extras").
			Where("name = ?", models.TemplateFormName).First(&template).Error; err != nil {
			return err
		}
		form := models.Form{Name: name, Visible: true, Comment: defaultFormComment}
		for _, p := range template.Products {
			inv := p.Inventory
			if inv == 0 {
				inv = defaultInventory
			}
			clone := models.Product{
				Name:        p.Name,
				Description: p.Description,
				Inventory:   inv,
				Existent:    p.Existent,
				Position:    p.Position,
			}
			for _, e := range p.Extras {
				clone.Extras = append(clone.Extras, models.Extra{
					Name: e.Name, MinAmount: e.MinAmount, MaxAmount: e.MaxAmount, Price: e.Price,
				})
			}
			form.Products = append(form.Products, clone)
		}
		return tx.Create(&form).Error
	})
	if err != nil {
		if errors.Is(err, errFormExists) {
			httpx.JSONError(w, http.StatusConflict, "form_already_exists", nil)
			return
		}
		httpx.Internal(w)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"formName": name})
}

var errFormExists = errors.New("form already exists")

type productRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Inventory   *int    `json:"inventory"`
	Existent    *bool   `json:"existent"`
	Extras      []extra `json:"extras"`
}

type extra struct {
	Name      string  `json:"name"`
	MinAmount int     `json:"minAmount"`
	MaxAmount int     `json:"maxAmount"`
	Price     float64 `json:"price"`
}

// Update: PUT /api/forms/{form} – replaces the product list, preserving the
// submitted display order. soldOut is never taken from the payload.
func (h *FormHandler) Update(w http.ResponseWriter, r *http.Request, formName string) {
	var req struct {
		Products []productRequest `json:"products"`
		// Pointer so an absent comment keeps the old one while an explicit
		// empty string clears it.
		Comment *string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if req.Products == nil {
		httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", map[string]string{"products": "required"})
		return
	}

	incoming := make([]models.Product, 0, len(req.Products))
	v := validation.Violations{}
	seen := map[string]bool{}
	for pos, pr := range req.Products {
		validation.Required("products."+pr.Name+".name", pr.Name, v)
		if seen[pr.Name] {
			v["products."+pr.Name] = "duplicate_name"
		}
		seen[pr.Name] = true
		inv := defaultInventory
		if pr.Inventory != nil {
			inv = *pr.Inventory
		}
		validation.NonNegativeInt("products."+pr.Name+".inventory", inv, v)
		existent := true
		if pr.Existent != nil {
			existent = *pr.Existent
		}
		p := models.Product{
			Name:        pr.Name,
			Description: pr.Description,
			Inventory:   inv,
			Existent:    existent,
			Position:    pos,
		}
		for _, e := range pr.Extras {
			p.Extras = append(p.Extras, models.Extra{
				Name: e.Name, MinAmount: e.MinAmount, MaxAmount: e.MaxAmount, Price: e.Price,
			})
		}
		for field, reason := range p.ValidateExtras() {
			v["products."+pr.Name+"."+field] = reason
		}
		incoming = append(incoming, p)
	}
	if !v.Empty() {
		httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", v)
		return
	}

	err := h.DB.Transaction(func(tx *gorm.DB) error {
		var form models.Form
		if err := tx.Preload("Products.Flours").Where("name = ?", formName).First(&form).Error; err != nil {
			return err
		}
		// Replace the product rows wholesale; recipes are edited through the
		// recipe endpoint, so they are carried over by name.
		recipeByName := map[string]models.Product{}
		for _, old := range form.Products {
			recipeByName[old.Name] = old
		}
		if err := deleteFormProducts(tx, &form); err != nil {
			return err
		}
		for i := range incoming {
			incoming[i].FormID = form.ID
			if old, ok := recipeByName[incoming[i].Name]; ok {
				incoming[i].Flour = old.Flour
				incoming[i].Water = old.Water
				incoming[i].Salt = old.Salt
				incoming[i].Sourdough = old.Sourdough
				for _, d := range old.Flours {
					incoming[i].Flours = append(incoming[i].Flours, models.FlourDiversion{
						Name: d.Name, Percentage: d.Percentage, Substitute: d.Substitute,
					})
				}
			}
		}
		if len(incoming) > 0 {
			if err := tx.Create(&incoming).Error; err != nil {
				return err
			}
		}
		comment := form.Comment
		if req.Comment != nil {
			comment = *req.Comment
		}
		return tx.Model(&models.Form{}).Where("id = ?", form.ID).Update("comment", comment).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.NotFound(w)
			return
		}
		httpx.Internal(w)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"formName": formName, "productCount": len(incoming)})
}

// Delete: DELETE /api/forms/{form} – removes the form, its products, and its
// orders. The template form is protected.
func (h *FormHandler) Delete(w http.ResponseWriter, r *http.Request, formName string) {
	if formName == models.TemplateFormName {
		httpx.JSONError(w, http.StatusForbidden, "cannot_delete_template", nil)
		return
	}
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		var form models.Form
		if err := tx.Preload("Products").Where("name = ?", formName).First(&form).Error; err != nil {
			return err
		}
		if err := deleteFormProducts(tx, &form); err != nil {
			return err
		}
		var orders []models.Order
		if err := tx.Preload("Items").Where("form_name = ?", formName).Find(&orders).Error; err != nil {
			return err
		}
		for i := range orders {
			if err := deleteOrderRows(tx, &orders[i]); err != nil {
				return err
			}
		}
		return tx.Delete(&models.Form{}, "id = ?", form.ID).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.NotFound(w)
			return
		}
		httpx.Internal(w)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": formName})
}

// Visibility: PUT /api/forms_visibility – bulk show/hide. Unknown forms and
// the template are skipped, mirroring the tolerant original behavior.
func (h *FormHandler) Visibility(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Visibility map[string]bool `json:"visibility"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if req.Visibility == nil {
		httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", map[string]string{"visibility": "required"})
		return
	}
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		for name, visible := range req.Visibility {
			if name == models.TemplateFormName {
				continue
			}
			if err := tx.Model(&models.Form{}).Where("name = ?", name).Update("visible", visible).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		httpx.Internal(w)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"updated": len(req.Visibility)})
}

// UpdateInventory: PUT /api/update_inventory – bulk stock edit for one form.
// soldOut follows inventory by derivation, never by input.
func (h *FormHandler) UpdateInventory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date             string `json:"date"`
		InventoryUpdates []struct {
			Name      string `json:"name"`
			Inventory int    `json:"inventory"`
		} `json:"inventoryUpdates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	v := validation.Violations{}
	validation.Required("date", req.Date, v)
	if len(req.InventoryUpdates) == 0 {
		v["inventoryUpdates"] = "required"
	}
	for _, u := range req.InventoryUpdates {
		validation.NonNegativeInt("inventoryUpdates."+u.Name, u.Inventory, v)
	}
	if !v.Empty() {
		httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", v)
		return
	}
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		var form models.Form
		if err := tx.Where("name = ?", req.Date).First(&form).Error; err != nil {
			return err
		}
		for _, u := range req.InventoryUpdates {
			res := tx.Model(&models.Product{}).
				Where("form_id = ? AND name = ?", form.ID, u.Name).
				Update("inventory", u.Inventory)
			if res.Error != nil {
				return res.Error
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.NotFound(w)
			return
		}
		httpx.Internal(w)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"updated": len(req.InventoryUpdates)})
}

type recipeRequest struct {
	Flour  float64 `json:"flour"`
	Water  float64 `json:"water"`
	Salt   float64 `json:"salt"`
	Flours []struct {
		Name       string  `json:"name"`
		Percentage float64 `json:"percentage"`
		Substitute float64 `json:"substitute"`
	} `json:"flours"`
	Sourdough struct {
		Type        string  `json:"type"`
		Weight      float64 `json:"weight"`
		Is20Percent bool    `json:"is20Percent"`
	} `json:"sourdough"`
}

// UpdateRecipes: PUT /api/update_sourdough – rewrites the canonical recipe
// fields on the template form's products. Invalid recipes are rejected here,
// at the data-entry boundary, not at scale time.
func (h *FormHandler) UpdateRecipes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amounts map[string]recipeRequest `json:"amounts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if len(req.Amounts) == 0 {
		httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", map[string]string{"amounts": "required"})
		return
	}

	err := h.DB.Transaction(func(tx *gorm.DB) error {
		var template models.Form
		if err := tx.Preload("Products.Flours").
			Where("name = ?", models.TemplateFormName).First(&template).Error; err != nil {
			return err
		}
		byName := map[string]*models.Product{}
		for i := range template.Products {
			byName[template.Products[i].Name] = &template.Products[i]
		}
		for name, recipe := range req.Amounts {
			product, ok := byName[name]
			if !ok {
				continue
			}
			candidate := *product
			candidate.Flour = recipe.Flour
			candidate.Water = recipe.Water
			candidate.Salt = recipe.Salt
			candidate.Sourdough = models.Sourdough{
				Type:        recipe.Sourdough.Type,
				Weight:      recipe.Sourdough.Weight,
				Is20Percent: recipe.Sourdough.Is20Percent,
			}
			candidate.Flours = nil
			for _, f := range recipe.Flours {
				candidate.Flours = append(candidate.Flours, models.FlourDiversion{
					ProductID: product.ID, Name: f.Name, Percentage: f.Percentage, Substitute: f.Substitute,
				})
			}
			if violations := candidate.ValidateRecipe(); !violations.Empty() {
				prefixed := validation.Violations{}
				for field, reason := range violations {
					prefixed[name+"."+field] = reason
				}
				return &recipeValidationError{fields: prefixed}
			}
			candidate.Refresh()
			if err := tx.Model(&models.Product{}).Where("id = ?", product.ID).
				Updates(map[string]any{
					"flour":                  candidate.Flour,
					"water":                  candidate.Water,
					"salt":                   candidate.Salt,
					"sourdough_type":         candidate.Sourdough.Type,
					"sourdough_weight":       candidate.Sourdough.Weight,
					"sourdough_is20_percent": candidate.Sourdough.Is20Percent,
				}).Error; err != nil {
				return err
			}
			if err := tx.Where("product_id = ?", product.ID).Delete(&models.FlourDiversion{}).Error; err != nil {
				return err
			}
			if len(candidate.Flours) > 0 {
				if err := tx.Create(&candidate.Flours).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		var rvErr *recipeValidationError
		if errors.As(err, &rvErr) {
			httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", rvErr.fields)
			return
		}
		httpx.Internal(w)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"updated": len(req.Amounts)})
}

type recipeValidationError struct {
	fields validation.Violations
}

func (e *recipeValidationError) Error() string { return "recipe validation failed" }

func deleteFormProducts(tx *gorm.DB, form *models.Form) error {
	ids := make([]uint, 0, len(form.Products))
	for _, p := range form.Products {
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 {
		return nil
	}
	if err := tx.Where("product_id IN ?", ids).Delete(&models.Extra{}).Error; err != nil {
		return err
	}
	if err := tx.Where("product_id IN ?", ids).Delete(&models.FlourDiversion{}).Error; err != nil {
		return err
	}
	return tx.Where("form_id = ?", form.ID).Delete(&models.Product{}).Error
}

func deleteOrderRows(tx *gorm.DB, order *models.Order) error {
	itemIDs := make([]uint, 0, len(order.Items))
	for _, it := range order.Items {
		itemIDs = append(itemIDs, it.ID)
	}
	if len(itemIDs) > 0 {
		if err := tx.Where("order_item_id IN ?", itemIDs).Delete(&models.OrderExtra{}).Error; err != nil {
			return err
		}
	}
	if err := tx.Where("order_id = ?", order.ID).Delete(&models.OrderItem{}).Error; err != nil {
		return err
	}
	return tx.Delete(&models.Order{}, "id = ?", order.ID).Error
}
