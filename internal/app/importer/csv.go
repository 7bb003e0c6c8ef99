// Package importer 从 CSV 批量导入故障记录。
package importer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"faultkb/internal/db/sqldb"
	"faultkb/internal/domain/fault"
	applog "faultkb/internal/platform/log"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// columnAliases 中文表头到列名的映射；英文列名直接识别
var columnAliases = map[string]string{
	"序号":      "record_id",
	"故障单号":    "ticket_no",
	"专业":      "specialty",
	"设备名称":    "device_name",
	"站名":      "station_name",
	"接报时间":    "report_time",
	"修复时间":    "fix_time",
	"故障时间":    "fault_time",
	"故障现象":    "fault_phenomenon",
	"故障发生原因":  "fault_cause",
	"处理措施及结果": "resolution",
	"消耗备件及数量": "spare_parts",
	"处理人":     "handler",
	"备注":      "remarks",
}

var knownColumns = map[string]bool{
	"record_id": true, "ticket_no": true, "specialty": true, "device_name": true,
	"station_name": true, "report_time": true, "fix_time": true, "fault_time": true,
	"fault_phenomenon": true, "fault_cause": true, "resolution": true,
	"spare_parts": true, "handler": true, "remarks": true,
}

// Importer 写入批量记录的存储
type Importer interface {
	Import(ctx context.Context, recs []*fault.Record, replace bool) (*sqldb.ImportResult, error)
}

// ParseCSV 解析 CSV。首行为表头，未知列忽略，ticket_no 列必需。
func ParseCSV(r io.Reader) ([]*fault.Record, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty csv: %w", fault.ErrValidation)
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	cols := make([]string, len(header))
	hasTicket := false
	for i, h := range header {
		name := strings.TrimSpace(h)
		if alias, ok := columnAliases[name]; ok {
			name = alias
		}
		name = strings.ToLower(name)
		if !knownColumns[name] {
			applog.Warn("[Importer] Unknown column ignored", "column", h)
			name = ""
		}
		if name == "ticket_no" {
			hasTicket = true
		}
		cols[i] = name
	}
	if !hasTicket {
		return nil, fmt.Errorf("csv header has no ticket_no/故障单号 column: %w", fault.ErrValidation)
	}

	var recs []*fault.Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		if isBlank(row) {
			continue
		}

		rec := &fault.Record{}
		for i, v := range row {
			if i >= len(cols) || cols[i] == "" {
				continue
			}
			if err := assign(rec, cols[i], strings.TrimSpace(v)); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// ImportFile 读取 CSV 文件并写入记录库
func ImportFile(ctx context.Context, store Importer, path string, replace bool) (*sqldb.ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	recs, err := ParseCSV(f)
	if err != nil {
		return nil, err
	}
	applog.Info("[Importer] CSV parsed", "path", path, "rows", len(recs))
	return store.Import(ctx, recs, replace)
}

func assign(rec *fault.Record, column, v string) error {
	switch column {
	case "record_id":
		if v == "" {
			return nil
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid record_id %q: %w", v, fault.ErrValidation)
		}
		rec.RecordID = id
	case "ticket_no":
		rec.TicketNo = v
	case "specialty":
		rec.Specialty = v
	case "device_name":
		rec.DeviceName = v
	case "station_name":
		rec.StationName = v
	case "report_time":
		rec.ReportTime = v
	case "fix_time":
		rec.FixTime = v
	case "fault_time":
		rec.FaultTime = v
	case "fault_phenomenon":
		rec.FaultPhenomenon = v
	case "fault_cause":
		rec.FaultCause = v
	case "resolution":
		rec.Resolution = v
	case "spare_parts":
		rec.SpareParts = v
	case "handler":
		if v != "" {
			rec.Handler = fault.StringPtr(v)
		}
	case "remarks":
		if v != "" {
			rec.Remarks = fault.StringPtr(v)
		}
	}
	return nil
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
