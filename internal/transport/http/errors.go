package http

import (
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/lolgoatvowsly-cell/cookie/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	codeMethodNotAllowed     = "method_not_allowed"
	codeNotFound             = "not_found"
	codeInvalidRequestBody   = "invalid_request_body"
	codeMissingRequiredField = "missing_required_field"
	codeInvalidID            = "invalid_id"
	codeInvalidQuantity      = "invalid_quantity"
	codeInvalidDeliveryURL   = "invalid_delivery_url"
	codeInvalidItem          = "invalid_item"
	codeDuplicateItem        = "duplicate_item"
	codeItemNotFound         = "item_not_found"
	codeBuyerNotFound        = "buyer_not_found"
	codeInsufficientStock    = "insufficient_stock"
	codePurchaseNotFound     = "purchase_not_found"
	codeOrderNotFound        = "order_not_found"
	codeFeedUnavailable      = "feed_unavailable"
	codeUnavailable          = "unavailable"
	codeInternalError        = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{
		Error: msg,
		Code:  code,
	})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps a domain sentinel to its HTTP status and code.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, codeInvalidQuantity, domain.ErrInvalidQuantity.Error())
	case errors.Is(err, domain.ErrInvalidItem):
		writeError(w, http.StatusBadRequest, codeInvalidItem, domain.ErrInvalidItem.Error())
	case errors.Is(err, domain.ErrDuplicateItem):
		writeError(w, http.StatusConflict, codeDuplicateItem, domain.ErrDuplicateItem.Error())
	case errors.Is(err, domain.ErrItemNotFound):
		writeError(w, http.StatusNotFound, codeItemNotFound, domain.ErrItemNotFound.Error())
	case errors.Is(err, domain.ErrBuyerNotFound):
		writeError(w, http.StatusNotFound, codeBuyerNotFound, domain.ErrBuyerNotFound.Error())
	case errors.Is(err, domain.ErrInsufficientStock):
		writeError(w, http.StatusConflict, codeInsufficientStock, domain.ErrInsufficientStock.Error())
	case errors.Is(err, domain.ErrPurchaseNotFound):
		writeError(w, http.StatusNotFound, codePurchaseNotFound, domain.ErrPurchaseNotFound.Error())
	case errors.Is(err, domain.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, codeOrderNotFound, domain.ErrOrderNotFound.Error())
	case errors.Is(err, domain.ErrFetch):
		writeError(w, http.StatusBadGateway, codeFeedUnavailable, domain.ErrFetch.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}
