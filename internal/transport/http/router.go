package http

import (
	"net/http"

	"go.uber.org/zap"
)

// Services groups the handlers' dependencies. DB may be nil when the audit
// archive is disabled.
type Services struct {
	Purchases PurchaseService
	Delivery  Deliverer
	Stock     StockService
	Reports   ReportService
	DB        Pinger
	Logger    *zap.Logger
}

// NewRouter registers every route and wraps the mux with panic recovery and
// request logging.
func NewRouter(s Services) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /health", HandleHealth(s.DB))

	mux.Handle("POST /purchases", HandleStartPurchase(s.Purchases, s.Delivery))
	mux.Handle("GET /purchases", HandleListPurchases(s.Purchases))
	mux.Handle("GET /purchases/{id}", HandleGetPurchase(s.Purchases))
	mux.Handle("POST /purchases/{id}/cancel", HandleCancelPurchase(s.Purchases))

	mux.Handle("/admin/stock", HandleStock(s.Stock))
	mux.Handle("DELETE /admin/stock/{identifier}", HandleRemoveStockItem(s.Stock))

	mux.Handle("GET /admin/orders/{id}", HandleGetOrder(s.Reports))
	mux.Handle("GET /admin/buyers/{id}", HandleGetBuyer(s.Reports))
	mux.Handle("GET /admin/reports/top-buyers", HandleTopBuyers(s.Reports))

	mux.HandleFunc("/", notFound)

	return RequestLogger(Recoverer(mux, s.Logger), s.Logger)
}

// notFound answers unmatched routes, including known paths called with an
// unsupported method, with the JSON error envelope.
func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, codeNotFound, "no route for "+r.Method+" "+r.URL.Path)
}
