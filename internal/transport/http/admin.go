package http

import (
	"net/http"
	"strconv"

	"github.com/lolgoatvowsly-cell/cookie/internal/app"
	"github.com/lolgoatvowsly-cell/cookie/internal/domain"
)

// StockService is the minimal interface needed for admin stock endpoints.
type StockService interface {
	AddItems(lines []string) app.AddItemsResult
	RemoveItem(identifier string) (domain.InventoryItem, error)
	Count() int
	Preview(limit int) []domain.InventoryItem
	Clear() int
}

// HandleStock lists, adds, or clears stock depending on the method. Secrets
// never leave the process; listings carry identifiers only.
func HandleStock(svc StockService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			limit := 0
			if raw := r.URL.Query().Get("limit"); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n < 0 {
					writeError(w, http.StatusBadRequest, codeInvalidQuantity, "invalid limit")
					return
				}
				limit = n
			}
			preview := svc.Preview(limit)
			resp := stockResponse{
				Count: svc.Count(),
				Next:  make([]string, 0, len(preview)),
			}
			for _, item := range preview {
				resp.Next = append(resp.Next, item.Identifier)
			}
			writeJSON(w, http.StatusOK, resp)
			return
		case http.MethodPost:
			var req addStockRequest
			dec := json.NewDecoder(r.Body)
			dec.DisallowUnknownFields()
			if err := dec.Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
				return
			}
			if len(req.Items) == 0 {
				writeError(w, http.StatusBadRequest, codeMissingRequiredField, "items is required")
				return
			}

			res := svc.AddItems(req.Items)
			resp := addStockResponse{
				Added:    res.Added,
				Rejected: make([]rejectedLineResponse, 0, len(res.Rejected)),
				Count:    res.Count,
			}
			for _, rej := range res.Rejected {
				resp.Rejected = append(resp.Rejected, rejectedLineResponse{Line: rej.Line, Reason: rej.Reason})
			}
			status := http.StatusCreated
			if len(res.Added) == 0 {
				status = http.StatusUnprocessableEntity
			}
			writeJSON(w, status, resp)
			return
		case http.MethodDelete:
			writeJSON(w, http.StatusOK, clearStockResponse{Removed: svc.Clear()})
			return
		default:
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}
	}
}

func HandleRemoveStockItem(svc StockService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := svc.RemoveItem(r.PathValue("identifier"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, removeStockResponse{
			Identifier: item.Identifier,
			Count:      svc.Count(),
		})
	}
}

type stockResponse struct {
	Count int      `json:"count"`
	Next  []string `json:"next"`
}

type addStockRequest struct {
	Items []string `json:"items"`
}

type rejectedLineResponse struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

type addStockResponse struct {
	Added    []string               `json:"added"`
	Rejected []rejectedLineResponse `json:"rejected"`
	Count    int                    `json:"count"`
}

type clearStockResponse struct {
	Removed int `json:"removed"`
}

type removeStockResponse struct {
	Identifier string `json:"identifier"`
	Count      int    `json:"count"`
}
