package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/breadline/orderform/auth"
	"github.com/breadline/orderform/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// Use a unique in-memory database per test to avoid cross-test collisions.
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = db.AutoMigrate(
		&models.Form{}, &models.Product{}, &models.Extra{}, &models.FlourDiversion{},
		&models.Order{}, &models.OrderItem{}, &models.OrderExtra{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedForm(t *testing.T, db *gorm.DB, name string, visible bool, products ...models.Product) *models.Form {
	t.Helper()
	form := &models.Form{Name: name, Visible: visible, Products: products}
	if err := db.Create(form).Error; err != nil {
		t.Fatalf("seed form %s: %v", name, err)
	}
	return form
}

func templateProduct(name string, inventory int) models.Product {
	return models.Product{
		Name: name, Inventory: inventory, Existent: true,
		Flour: 1000, Water: 700, Salt: 20,
		Flours:    []models.FlourDiversion{{Name: "Rye", Percentage: 30, Substitute: 5}},
		Sourdough: models.Sourdough{Type: models.SourdoughWhite, Weight: 200},
		Extras:    []models.Extra{{Name: "plain", MinAmount: 0, MaxAmount: 100, Price: 6}},
	}
}

func backofficeRequest(method, target string, body string) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return r.WithContext(auth.WithBackoffice(r.Context()))
}

func TestCreateFormClonesTemplate(t *testing.T) {
	db := setupTestDB(t)
	seedForm(t, db, models.TemplateFormName, false, templateProduct("Country Loaf", 0))
	h := NewFormHandler(db)

	w := httptest.NewRecorder()
	h.Create(w, backofficeRequest(http.MethodPost, "/api/forms", `{"formName":"Friday 12.07"}`))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", w.Code, w.Body.String())
	}

	var form models.Form
	if err := db.Preload("Products.Extras").Where("name = ?", "Friday 12.07").First(&form).Error; err != nil {
		t.Fatalf("load form: %v", err)
	}
	if !form.Visible || form.Comment != defaultFormComment {
		t.Fatalf("new form metadata wrong: visible=%v comment=%q", form.Visible, form.Comment)
	}
	if len(form.Products) != 1 {
		t.Fatalf("expected cloned product, got %d", len(form.Products))
	}
	p := form.Products[0]
	if p.Inventory != defaultInventory {
		t.Fatalf("zero template stock should default to %d, got %d", defaultInventory, p.Inventory)
	}
	if len(p.Extras) != 1 || p.Extras[0].Price != 6 {
		t.Fatalf("extras not cloned: %+v", p.Extras)
	}
}

func TestCreateFormRejectsReservedAndDuplicate(t *testing.T) {
	db := setupTestDB(t)
	seedForm(t, db, models.TemplateFormName, false)
	seedForm(t, db, "Friday", true)
	h := NewFormHandler(db)

	w := httptest.NewRecorder()
	h.Create(w, backofficeRequest(http.MethodPost, "/api/forms", `{"formName":"`+models.TemplateFormName+`"}`))
	if w.Code != http.StatusForbidden {
		t.Fatalf("reserved name: expected 403 got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.Create(w, backofficeRequest(http.MethodPost, "/api/forms", `{"formName":"Friday"}`))
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate: expected 409 got %d", w.Code)
	}
}

func TestDatesVisibilityFiltering(t *testing.T) {
	db := setupTestDB(t)
	seedForm(t, db, models.TemplateFormName, false)
	seedForm(t, db, "Friday", true)
	seedForm(t, db, "Saturday", false)
	h := NewFormHandler(db)

	decode := func(w *httptest.ResponseRecorder) []string {
		var payload struct {
			Dates []string `json:"dates"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return payload.Dates
	}

	w := httptest.NewRecorder()
	h.Dates(w, httptest.NewRequest(http.MethodGet, "/api/dates", nil))
	public := decode(w)
	if len(public) != 1 || public[0] != "Friday" {
		t.Fatalf("public listing wrong: %v", public)
	}

	w = httptest.NewRecorder()
	h.Dates(w, backofficeRequest(http.MethodGet, "/api/dates", ""))
	all := decode(w)
	if len(all) != 2 {
		t.Fatalf("back office should see hidden forms too: %v", all)
	}
	for _, name := range all {
		if name == models.TemplateFormName {
			t.Fatal("template form must never be listed")
		}
	}
}

func TestGetProductsFiltersNonExistent(t *testing.T) {
	db := setupTestDB(t)
	gone := models.Product{Name: "Retired", Inventory: 3, Existent: false}
	live := models.Product{Name: "Loaf", Inventory: 0, Existent: true}
	seedForm(t, db, "Friday", true, gone, live)
	h := NewFormHandler(db)

	decode := func(w *httptest.ResponseRecorder) struct {
		Products []models.Product `json:"products"`
		Comment  string           `json:"comment"`
	} {
		var payload struct {
			Products []models.Product `json:"products"`
			Comment  string           `json:"comment"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return payload
	}

	w := httptest.NewRecorder()
	h.GetProducts(w, httptest.NewRequest(http.MethodGet, "/api/products/Friday", nil), "Friday")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", w.Code)
	}
	public := decode(w)
	if len(public.Products) != 1 || public.Products[0].Name != "Loaf" {
		t.Fatalf("clients must not see retired products: %+v", public.Products)
	}
	if !public.Products[0].SoldOut {
		t.Fatal("zero inventory should render sold out")
	}
	if public.Comment != defaultFormComment {
		t.Fatalf("empty comment should fall back, got %q", public.Comment)
	}

	w = httptest.NewRecorder()
	h.GetProducts(w, backofficeRequest(http.MethodGet, "/api/products/Friday", ""), "Friday")
	if got := decode(w); len(got.Products) != 2 {
		t.Fatalf("back office should see retired products: %+v", got.Products)
	}
}

func TestUpdateFormPreservesRecipes(t *testing.T) {
	db := setupTestDB(t)
	seedForm(t, db, "Friday", true, templateProduct("Country Loaf", 12))
	h := NewFormHandler(db)

	body := `{"products":[
		{"name":"Baguette","inventory":8,"extras":[{"name":"plain","minAmount":0,"maxAmount":10,"price":3}]},
		{"name":"Country Loaf","inventory":5}
	],"comment":"New week"}`
	w := httptest.NewRecorder()
	h.Update(w, backofficeRequest(http.MethodPut, "/api/forms/Friday", body), "Friday")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", w.Code, w.Body.String())
	}

	var form models.Form
	err := db.Preload("Products", func(db *gorm.DB) *gorm.DB { return db.Order("position asc") }).
		Preload("Products.Flours").Where("name = ?", "Friday").First(&form).Error
	if err != nil {
		t.Fatalf("load form: %v", err)
	}
	if form.Comment != "New week" {
		t.Fatalf("comment not updated: %q", form.Comment)
	}
	if len(form.Products) != 2 || form.Products[0].Name != "Baguette" {
		t.Fatalf("submitted order not preserved: %+v", form.Products)
	}
	loaf := form.Products[1]
	if loaf.Inventory != 5 {
		t.Fatalf("inventory not updated: %d", loaf.Inventory)
	}
	if loaf.Flour != 1000 || len(loaf.Flours) != 1 || loaf.Flours[0].Name != "Rye" {
		t.Fatalf("recipe must survive a product-list rewrite: %+v", loaf)
	}
}

func TestUpdateFormCommentSemantics(t *testing.T) {
	db := setupTestDB(t)
	seedForm(t, db, "Friday", true)
	if err := db.Model(&models.Form{}).Where("name = ?", "Friday").Update("comment", "old note").Error; err != nil {
		t.Fatalf("seed comment: %v", err)
	}
	h := NewFormHandler(db)

	loadComment := func() string {
		var f models.Form
		if err := db.Where("name = ?", "Friday").First(&f).Error; err != nil {
			t.Fatalf("load: %v", err)
		}
		return f.Comment
	}

	// Absent comment keeps the old one.
	w := httptest.NewRecorder()
	h.Update(w, backofficeRequest(http.MethodPut, "/api/forms/Friday", `{"products":[]}`), "Friday")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", w.Code, w.Body.String())
	}
	if got := loadComment(); got != "old note" {
		t.Fatalf("absent comment must keep the old one, got %q", got)
	}

	// An explicit empty string clears it.
	w = httptest.NewRecorder()
	h.Update(w, backofficeRequest(http.MethodPut, "/api/forms/Friday", `{"products":[],"comment":""}`), "Friday")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", w.Code, w.Body.String())
	}
	if got := loadComment(); got != "" {
		t.Fatalf("empty comment must clear, got %q", got)
	}
}

func TestUpdateFormRejectsDuplicatesAndBadExtras(t *testing.T) {
	db := setupTestDB(t)
	seedForm(t, db, "Friday", true)
	h := NewFormHandler(db)

	body := `{"products":[
		{"name":"Loaf"},
		{"name":"Loaf","extras":[{"name":"plain","minAmount":5,"maxAmount":1}]}
	]}`
	w := httptest.NewRecorder()
	h.Update(w, backofficeRequest(http.MethodPut, "/api/forms/Friday", body), "Friday")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d: %s", w.Code, w.Body.String())
	}
}

func TestUpdateInventory(t *testing.T) {
	db := setupTestDB(t)
	seedForm(t, db, "Friday", true, models.Product{Name: "Loaf", Inventory: 12, Existent: true})
	h := NewFormHandler(db)

	w := httptest.NewRecorder()
	h.UpdateInventory(w, backofficeRequest(http.MethodPut, "/api/update_inventory",
		`{"date":"Friday","inventoryUpdates":[{"name":"Loaf","inventory":0}]}`))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", w.Code, w.Body.String())
	}

	var p models.Product
	if err := db.Where("name = ?", "Loaf").First(&p).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Inventory != 0 || !p.SoldOut {
		t.Fatalf("expected sold out at 0, got inventory=%d soldOut=%v", p.Inventory, p.SoldOut)
	}

	w = httptest.NewRecorder()
	h.UpdateInventory(w, backofficeRequest(http.MethodPut, "/api/update_inventory",
		`{"date":"Friday","inventoryUpdates":[{"name":"Loaf","inventory":-1}]}`))
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("negative stock: expected 422 got %d", w.Code)
	}
}

func TestVisibilityBulkUpdate(t *testing.T) {
	db := setupTestDB(t)
	seedForm(t, db, models.TemplateFormName, false)
	seedForm(t, db, "Friday", true)
	seedForm(t, db, "Saturday", false)
	h := NewFormHandler(db)

	w := httptest.NewRecorder()
	h.Visibility(w, backofficeRequest(http.MethodPut, "/api/forms_visibility",
		`{"visibility":{"Friday":false,"Saturday":true,"`+models.TemplateFormName+`":true}}`))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", w.Code)
	}

	check := func(name string, want bool) {
		var f models.Form
		if err := db.Where("name = ?", name).First(&f).Error; err != nil {
			t.Fatalf("load %s: %v", name, err)
		}
		if f.Visible != want {
			t.Fatalf("%s visibility: want %v got %v", name, want, f.Visible)
		}
	}
	check("Friday", false)
	check("Saturday", true)
	check(models.TemplateFormName, false)
}

func TestUpdateRecipesValidatesAtEntry(t *testing.T) {
	db := setupTestDB(t)
	seedForm(t, db, models.TemplateFormName, false, templateProduct("Country Loaf", 12))
	h := NewFormHandler(db)

	bad := `{"amounts":{"Country Loaf":{"flour":1000,"water":700,"salt":20,
		"flours":[{"name":"Spelt","percentage":3,"substitute":5}],
		"sourdough":{"type":"white","weight":200}}}}`
	w := httptest.NewRecorder()
	h.UpdateRecipes(w, backofficeRequest(http.MethodPut, "/api/update_sourdough", bad))
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d: %s", w.Code, w.Body.String())
	}

	good := `{"amounts":{"Country Loaf":{"flour":800,"water":560,"salt":16,
		"flours":[{"name":"Spelt","percentage":10,"substitute":2}],
		"sourdough":{"type":"halfHalf","weight":999,"is20Percent":true}}}}`
	w = httptest.NewRecorder()
	h.UpdateRecipes(w, backofficeRequest(http.MethodPut, "/api/update_sourdough", good))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", w.Code, w.Body.String())
	}

	var p models.Product
	if err := db.Preload("Flours").Where("name = ?", "Country Loaf").First(&p).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Flour != 800 || p.Sourdough.Type != models.SourdoughHalfHalf {
		t.Fatalf("recipe not persisted: %+v", p)
	}
	if p.Sourdough.Weight != 160 {
		t.Fatalf("20%% flag must derive weight from flour, got %v", p.Sourdough.Weight)
	}
	if len(p.Flours) != 1 || p.Flours[0].Name != "Spelt" {
		t.Fatalf("diversions not replaced: %+v", p.Flours)
	}
}

func TestDeleteFormCascades(t *testing.T) {
	db := setupTestDB(t)
	seedForm(t, db, "Friday", true, models.Product{Name: "Loaf", Inventory: 5, Existent: true})
	order := models.Order{
		ID: "o1", FormName: "Friday", Name: "Alice", Phone: "1",
		Items: []models.OrderItem{{ProductName: "Loaf", Extras: []models.OrderExtra{{ExtraName: "plain", Quantity: 1}}}},
	}
	if err := db.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	h := NewFormHandler(db)

	w := httptest.NewRecorder()
	h.Delete(w, backofficeRequest(http.MethodDelete, "/api/forms/Friday", ""), "Friday")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", w.Code, w.Body.String())
	}
	for _, m := range []any{&models.Form{}, &models.Product{}, &models.Order{}, &models.OrderItem{}, &models.OrderExtra{}} {
		var count int64
		if err := db.Model(m).Count(&count).Error; err != nil {
			t.Fatalf("count %T: %v", m, err)
		}
		if count != 0 {
			t.Fatalf("%T rows not removed: %d", m, count)
		}
	}

	w = httptest.NewRecorder()
	h.Delete(w, backofficeRequest(http.MethodDelete, "/api/forms/x", ""), models.TemplateFormName)
	if w.Code != http.StatusForbidden {
		t.Fatalf("template delete: expected 403 got %d", w.Code)
	}
}
