package fault

import "fmt"

// RecordUpdate 部分更新。只识别固定字段集合，nil 表示不修改。
// ticket_no 与 record_id 不可更新。
type RecordUpdate struct {
	Specialty       *string `json:"specialty,omitempty"`
	DeviceName      *string `json:"device_name,omitempty"`
	StationName     *string `json:"station_name,omitempty"`
	ReportTime      *string `json:"report_time,omitempty"`
	FixTime         *string `json:"fix_time,omitempty"`
	FaultTime       *string `json:"fault_time,omitempty"`
	FaultPhenomenon *string `json:"fault_phenomenon,omitempty"`
	FaultCause      *string `json:"fault_cause,omitempty"`
	Resolution      *string `json:"resolution,omitempty"`
	SpareParts      *string `json:"spare_parts,omitempty"`
	Handler         *string `json:"handler,omitempty"`
	Remarks         *string `json:"remarks,omitempty"`
}

// Assignment 一个待写入的列
type Assignment struct {
	Column string
	Value  string
}

// Assignments 按固定列顺序返回已设置的字段
func (u *RecordUpdate) Assignments() []Assignment {
	if u == nil {
		return nil
	}
	fields := []struct {
		column string
		value  *string
	}{
		{"specialty", u.Specialty},
		{"device_name", u.DeviceName},
		{"station_name", u.StationName},
		{"report_time", u.ReportTime},
		{"fix_time", u.FixTime},
		{"fault_time", u.FaultTime},
		{"fault_phenomenon", u.FaultPhenomenon},
		{"fault_cause", u.FaultCause},
		{"resolution", u.Resolution},
		{"spare_parts", u.SpareParts},
		{"handler", u.Handler},
		{"remarks", u.Remarks},
	}

	out := make([]Assignment, 0, len(fields))
	for _, f := range fields {
		if f.value != nil {
			out = append(out, Assignment{Column: f.column, Value: *f.value})
		}
	}
	return out
}

// IsEmpty 是否没有设置任何字段
func (u *RecordUpdate) IsEmpty() bool {
	return len(u.Assignments()) == 0
}

// Validate 空更新视为校验错误
func (u *RecordUpdate) Validate() error {
	if u.IsEmpty() {
		return fmt.Errorf("update payload must set at least one field: %w", ErrValidation)
	}
	return nil
}
