package httpsvc

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// Машиночитаемые коды ошибок в теле ответа.
const (
	codeInvalidRequest    = "invalid_request"
	codeNotFound          = "not_found"
	codeAlreadyExists     = "already_exists"
	codeInsufficientStock = "insufficient_stock"
	codeInternal          = "internal"
)

// ErrorResponse отдаётся клиенту при любой ошибке.
type ErrorResponse struct {
	Error   string        `json:"error"`
	Message string        `json:"message"`
	Details *StockDetails `json:"details,omitempty"`
}

// StockDetails уточняет, какого товара не хватило.
type StockDetails struct {
	ProductID string `json:"product_id"`
	Requested int64  `json:"requested"`
	Available int64  `json:"available"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// writeDomainError переводит ошибку сервиса в HTTP-ответ.
// Внутренние ошибки логируются, клиенту уходит общее сообщение.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch metrics.Reason(err) {
	case metrics.ReasonInsufficientStock:
		resp := ErrorResponse{Error: codeInsufficientStock, Message: err.Error()}
		var stockErr *domain.InsufficientStockError
		if errors.As(err, &stockErr) {
			resp.Message = stockErr.Error()
			resp.Details = &StockDetails{
				ProductID: stockErr.ProductID,
				Requested: stockErr.Requested,
				Available: stockErr.Available,
			}
		}
		writeJSON(w, http.StatusConflict, resp)
	case metrics.ReasonAlreadyExists:
		writeError(w, http.StatusConflict, codeAlreadyExists, err.Error())
	case metrics.ReasonNotFound:
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case metrics.ReasonInvalid:
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
	default:
		h.logger.WithError(err).WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}
