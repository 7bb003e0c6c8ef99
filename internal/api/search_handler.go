package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// SearchHandler 智能问答与索引维护 API
type SearchHandler struct {
	svc KnowledgeService
}

// NewSearchHandler 创建问答处理器
func NewSearchHandler(svc KnowledgeService) *SearchHandler {
	return &SearchHandler{svc: svc}
}

// RegisterRoutes 注册问答路由
func (h *SearchHandler) RegisterRoutes(r chi.Router) {
	r.Get("/intelligent-search", h.IntelligentSearch)
	r.With(requireRole("admin")).Post("/index/reconcile", h.Reconcile)
}

func (h *SearchHandler) IntelligentSearch(w http.ResponseWriter, r *http.Request) {
	ans, err := h.svc.Ask(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

func (h *SearchHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Reconcile(r.Context())
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
