package server

import (
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/breadline/orderform/auth"
	"github.com/breadline/orderform/httpx"
	"github.com/breadline/orderform/internal/handlers"
	"github.com/breadline/orderform/internal/services"
)

// Options carries the handler wiring knobs main resolves from config.
type Options struct {
	AdminPasswordHash string
	ImageDir          string
}

// New constructs the root http.Handler with all routes and middlewares applied.
func New(db *gorm.DB, opts Options) http.Handler {
	mux := http.NewServeMux()

	admission := services.NewAdmissionService(db)
	production := services.NewProductionService(db)

	fh := handlers.NewFormHandler(db)
	oh := handlers.NewOrderHandler(db, admission)
	ph := handlers.NewProductionHandler(production)
	ih := handlers.NewImageHandler(opts.ImageDir)
	ah := handlers.NewAuthHandler(opts.AdminPasswordHash)

	// --- Health endpoints ---
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if err := db.Exec("SELECT 1").Error; err != nil {
			httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// --- Shared password gate ---
	mux.HandleFunc("/login", methodOnly(http.MethodPost, ah.Login))
	mux.HandleFunc("/logout", methodOnly(http.MethodPost, ah.Logout))

	// --- Public order-form API ---
	mux.HandleFunc("/api/dates", methodOnly(http.MethodGet, fh.Dates))
	mux.HandleFunc("/api/products/", func(w http.ResponseWriter, r *http.Request) {
		formName := pathTail(r.URL.Path, "/api/products/")
		if r.Method != http.MethodGet || formName == "" {
			httpx.MethodNotAllowed(w)
			return
		}
		fh.GetProducts(w, r, formName)
	})
	mux.HandleFunc("/api/products_ordered/", func(w http.ResponseWriter, r *http.Request) {
		formName := pathTail(r.URL.Path, "/api/products_ordered/")
		if r.Method != http.MethodGet || formName == "" {
			httpx.MethodNotAllowed(w)
			return
		}
		oh.ProductsOrdered(w, r, formName)
	})
	mux.HandleFunc("/api/orders", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			oh.List(w, r)
		case http.MethodPost:
			oh.Submit(w, r)
		default:
			httpx.MethodNotAllowed(w)
		}
	})
	mux.HandleFunc("/api/orders/", func(w http.ResponseWriter, r *http.Request) {
		tail := pathTail(r.URL.Path, "/api/orders/")
		if id, ok := strings.CutSuffix(tail, "/move"); ok {
			if r.Method != http.MethodPost {
				httpx.MethodNotAllowed(w)
				return
			}
			oh.Move(w, r, id)
			return
		}
		switch r.Method {
		case http.MethodGet:
			oh.Get(w, r, tail)
		case http.MethodPut:
			oh.Update(w, r, tail)
		case http.MethodDelete:
			oh.Delete(w, r, tail)
		default:
			httpx.MethodNotAllowed(w)
		}
	})
	mux.HandleFunc("/api/images/", func(w http.ResponseWriter, r *http.Request) {
		name := pathTail(r.URL.Path, "/api/images/")
		if r.Method != http.MethodGet || name == "" {
			httpx.MethodNotAllowed(w)
			return
		}
		ih.Get(w, r, name)
	})

	// --- Back office (session gate) ---
	mux.Handle("/api/forms", auth.RequireAuth(methodOnly(http.MethodPost, fh.Create)))
	mux.Handle("/api/forms/", auth.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		formName := pathTail(r.URL.Path, "/api/forms/")
		if formName == "" {
			httpx.NotFound(w)
			return
		}
		switch r.Method {
		case http.MethodPut:
			fh.Update(w, r, formName)
		case http.MethodDelete:
			fh.Delete(w, r, formName)
		default:
			httpx.MethodNotAllowed(w)
		}
	})))
	mux.Handle("/api/forms_visibility", auth.RequireAuth(methodOnly(http.MethodPut, fh.Visibility)))
	mux.Handle("/api/update_inventory", auth.RequireAuth(methodOnly(http.MethodPut, fh.UpdateInventory)))
	mux.Handle("/api/update_sourdough", auth.RequireAuth(methodOnly(http.MethodPut, fh.UpdateRecipes)))
	mux.Handle("/api/production/", auth.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		formName := pathTail(r.URL.Path, "/api/production/")
		if r.Method != http.MethodGet || formName == "" {
			httpx.MethodNotAllowed(w)
			return
		}
		ph.Report(w, r, formName)
	})))
	mux.Handle("/api/upload_image", auth.RequireAuth(methodOnly(http.MethodPost, ih.Upload)))

	return auth.Middleware(mux)
}

func methodOnly(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			httpx.MethodNotAllowed(w)
			return
		}
		h(w, r)
	}
}

func pathTail(path, prefix string) string {
	tail := strings.TrimPrefix(path, prefix)
	return strings.Trim(tail, "/")
}
