package fault

import (
	"fmt"
	"strings"
)

// Record 故障记录。记录库是它唯一的事实来源，向量索引只保存 record_id 到向量的映射。
type Record struct {
	RecordID        int64   `json:"record_id" db:"record_id"`
	TicketNo        string  `json:"ticket_no" db:"ticket_no"`
	Specialty       string  `json:"specialty" db:"specialty"`
	DeviceName      string  `json:"device_name" db:"device_name"`
	StationName     string  `json:"station_name" db:"station_name"`
	ReportTime      string  `json:"report_time" db:"report_time"`
	FixTime         string  `json:"fix_time" db:"fix_time"`
	FaultTime       string  `json:"fault_time" db:"fault_time"`
	FaultPhenomenon string  `json:"fault_phenomenon" db:"fault_phenomenon"`
	FaultCause      string  `json:"fault_cause" db:"fault_cause"`
	Resolution      string  `json:"resolution" db:"resolution"`
	SpareParts      string  `json:"spare_parts" db:"spare_parts"`
	Handler         *string `json:"handler" db:"handler"`
	Remarks         *string `json:"remarks" db:"remarks"`

	// Revision 每次更新递增，用于判断已写入索引的向量是否过期
	Revision  int64  `json:"revision" db:"revision"`
	CreatedAt string `json:"created_at" db:"created_at"`
	UpdatedAt string `json:"updated_at" db:"updated_at"`
}

// Validate 校验新建记录
func (r *Record) Validate() error {
	if r == nil {
		return fmt.Errorf("record is required: %w", ErrValidation)
	}
	if strings.TrimSpace(r.TicketNo) == "" {
		return fmt.Errorf("ticket_no is required: %w", ErrValidation)
	}
	if len(r.TicketNo) > 128 {
		return fmt.Errorf("ticket_no exceeds 128 characters: %w", ErrValidation)
	}
	return nil
}

// EmbeddingText 由故障现象与处理措施确定性地派生向量化文本
func EmbeddingText(r *Record) string {
	return fmt.Sprintf("故障现象: %s\n处理措施: %s", r.FaultPhenomenon, r.Resolution)
}

// StringPtr 返回字符串指针（可选字段赋值用）
func StringPtr(s string) *string {
	return &s
}
