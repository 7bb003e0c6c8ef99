package api

import (
	"context"
	"errors"
	"net/http"

	"faultkb/internal/domain/fault"
	applog "faultkb/internal/platform/log"
	"faultkb/internal/platform/worker"
)

// retryAfterSeconds 可重试的上游错误与排队满时建议的重试间隔
const retryAfterSeconds = "5"

// writeServiceError 把领域错误映射为 HTTP 状态码。
// 部分成功返回 202 与 index_pending，并在 data 中带上已提交的结果。
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, committed interface{}) {
	var (
		pe *fault.PartialSyncError
		ue *fault.UpstreamError
	)
	switch {
	case errors.As(err, &pe):
		writeErrorCode(w, http.StatusAccepted, "index_pending", err.Error(), committed)
	case errors.Is(err, fault.ErrValidation):
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, fault.ErrConflict):
		writeErrorCode(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, fault.ErrNoMatch):
		writeErrorCode(w, http.StatusNotFound, "no_match", err.Error())
	case errors.Is(err, fault.ErrNotFound):
		writeErrorCode(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, fault.ErrInitialization):
		writeErrorCode(w, http.StatusServiceUnavailable, "backend_unavailable", err.Error())
	case errors.As(err, &ue):
		if ue.Retryable() {
			w.Header().Set("Retry-After", retryAfterSeconds)
		}
		if ue.Timeout() {
			writeErrorCode(w, http.StatusGatewayTimeout, "upstream_timeout", err.Error())
			return
		}
		writeErrorCode(w, http.StatusBadGateway, "upstream_error", err.Error())
	case errors.Is(err, worker.ErrSaturated):
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeErrorCode(w, http.StatusServiceUnavailable, "busy", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeErrorCode(w, http.StatusGatewayTimeout, "timeout", err.Error())
	case errors.Is(err, context.Canceled):
		// 客户端已断开
		applog.Debug("[API] Request canceled", "path", r.URL.Path)
	default:
		applog.Error("[API] Internal error", "path", r.URL.Path, "error", err)
		writeErrorCode(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
