package api

import (
	"encoding/json"
	"net/http"
)

// APIResponse 统一 JSON 响应
type APIResponse struct {
	Code    int         `json:"code"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&APIResponse{
		Code:    status,
		Message: "ok",
		Data:    data,
	})
}

// writeErrorCode 带错误码的统一错误响应；data 可携带已提交的结果（部分成功）
func writeErrorCode(w http.ResponseWriter, status int, code string, message string, data ...interface{}) {
	resp := &APIResponse{
		Code:    status,
		Error:   code,
		Message: message,
	}
	if len(data) > 0 {
		resp.Data = data[0]
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
