package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router plain http.ServeMux routing; handlers check the method themselves.
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler registers a plain http.Handler such as the metrics endpoint.
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func onlyGet(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, req)
	}
}

// RegisterMonitorRoutes the display and status API.
func (r *Router) RegisterMonitorRoutes(h *MonitorHandler) {
	r.Handle("/health", onlyGet(h.Health))
	r.Handle("/api/v1/zones", onlyGet(h.ListZones))
	r.Handle("/api/v1/zones/", onlyGet(func(w http.ResponseWriter, req *http.Request) {
		id, rest, ok := pathID(req.URL.Path, "/api/v1/zones/")
		if !ok || rest != "" {
			writeJSON(w, http.StatusNotFound, Fail("zone not found"))
			return
		}
		h.GetZone(w, req, id)
	}))
	r.Handle("/api/v1/employees/", onlyGet(func(w http.ResponseWriter, req *http.Request) {
		id, rest, ok := pathID(req.URL.Path, "/api/v1/employees/")
		if !ok || rest != "daily" {
			writeJSON(w, http.StatusNotFound, Fail("not found"))
			return
		}
		h.EmployeeDaily(w, req, id)
	}))
	r.Handle("/api/v1/sync/status", onlyGet(h.SyncStatus))
	r.Handle("/api/v1/reports/daily.xlsx", onlyGet(h.DailyReport))
}

// RegisterMetrics exposes Prometheus metrics at /metrics.
func (r *Router) RegisterMetrics(h http.Handler) {
	r.HandleHandler("/metrics", h)
}
