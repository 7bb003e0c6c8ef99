package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"faultkb/internal/domain/fault"
)

// maxBodyBytes 单条记录请求体上限
const maxBodyBytes = 1 << 20

// RecordHandler 故障记录增删改查 API
type RecordHandler struct {
	svc KnowledgeService
}

// NewRecordHandler 创建记录处理器
func NewRecordHandler(svc KnowledgeService) *RecordHandler {
	return &RecordHandler{svc: svc}
}

// RegisterRoutes 注册记录路由
func (h *RecordHandler) RegisterRoutes(r chi.Router) {
	r.Route("/records", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/ticket/{ticketNo}", h.GetByTicket)
		r.Put("/ticket/{ticketNo}", h.Update)
		r.Delete("/ticket/{ticketNo}", h.Delete)
		r.Get("/device/{deviceName}", h.SearchByDevice)
	})
}

func (h *RecordHandler) Create(w http.ResponseWriter, r *http.Request) {
	var rec fault.Record
	if err := decodeJSON(w, r, &rec, false); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	rec.RecordID = 0

	out, err := h.svc.CreateRecord(r.Context(), &rec)
	if err != nil {
		writeServiceError(w, r, err, out)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *RecordHandler) GetByTicket(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetRecord(r.Context(), chi.URLParam(r, "ticketNo"))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *RecordHandler) Update(w http.ResponseWriter, r *http.Request) {
	var upd fault.RecordUpdate
	if err := decodeJSON(w, r, &upd, true); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	out, err := h.svc.UpdateRecord(r.Context(), chi.URLParam(r, "ticketNo"), &upd)
	if err != nil {
		writeServiceError(w, r, err, out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *RecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ticketNo := chi.URLParam(r, "ticketNo")
	if err := h.svc.DeleteRecord(r.Context(), ticketNo); err != nil {
		writeServiceError(w, r, err, map[string]string{"ticket_no": ticketNo})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ticket_no": ticketNo})
}

func (h *RecordHandler) SearchByDevice(w http.ResponseWriter, r *http.Request) {
	recs, err := h.svc.SearchByDevice(r.Context(), chi.URLParam(r, "deviceName"))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// decodeJSON 解析请求体；strict 时拒绝未知字段
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}, strict bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %v", err)
	}
	return nil
}
