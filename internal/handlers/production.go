package handlers

import (
	"errors"
	"net/http"

	"github.com/breadline/orderform/httpx"
	"github.com/breadline/orderform/internal/services"
)

// ProductionHandler serves the baker-facing production report.
type ProductionHandler struct {
	Svc *services.ProductionService
}

func NewProductionHandler(svc *services.ProductionService) *ProductionHandler {
	return &ProductionHandler{Svc: svc}
}

// Report: GET /api/production/{form}
func (h *ProductionHandler) Report(w http.ResponseWriter, r *http.Request, formName string) {
	report, err := h.Svc.Report(r.Context(), formName)
	if err != nil {
		if errors.Is(err, services.ErrFormNotFound) {
			httpx.NotFound(w)
			return
		}
		httpx.Internal(w)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}
