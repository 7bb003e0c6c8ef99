package importer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faultkb/internal/db/sqldb"
	"faultkb/internal/domain/fault"
)

const chineseCSV = "\ufeff序号,故障单号,专业,设备名称,站名,故障现象,故障发生原因,处理措施及结果,处理人,备注,额外列\n" +
	"3,T-1,通信,Cooling Fan A,东站,fan failure,dust,cleaned dust,张三,,x\n" +
	",,,,,,,,,,\n" +
	"7,T-2,供电,UPS,西站,\"alarm, beeping\",battery,replaced battery,,checked,y\n"

func TestParseCSVChineseHeaders(t *testing.T) {
	recs, err := ParseCSV(strings.NewReader(chineseCSV))
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, int64(3), recs[0].RecordID)
	assert.Equal(t, "T-1", recs[0].TicketNo)
	assert.Equal(t, "Cooling Fan A", recs[0].DeviceName)
	assert.Equal(t, "cleaned dust", recs[0].Resolution)
	require.NotNil(t, recs[0].Handler)
	assert.Equal(t, "张三", *recs[0].Handler)
	assert.Nil(t, recs[0].Remarks)

	assert.Equal(t, "alarm, beeping", recs[1].FaultPhenomenon)
	assert.Nil(t, recs[1].Handler)
	require.NotNil(t, recs[1].Remarks)
}

func TestParseCSVEnglishHeaders(t *testing.T) {
	in := "ticket_no,device_name,fault_phenomenon,resolution\nE-1,Pump,leak,replaced seal\n"
	recs, err := ParseCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Zero(t, recs[0].RecordID)
	assert.Equal(t, "replaced seal", recs[0].Resolution)
}

func TestParseCSVRejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "empty", in: ""},
		{name: "no ticket column", in: "设备名称,故障现象\nfan,noise\n"},
		{name: "bad record id", in: "序号,故障单号\nabc,T-1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCSV(strings.NewReader(tt.in))
			assert.ErrorIs(t, err, fault.ErrValidation)
		})
	}
}

func TestImportFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	db, dialect, err := sqldb.Open(ctx, sqldb.Config{URL: filepath.Join(dir, "kb.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqldb.EnsureSchema(ctx, db, dialect))
	store := sqldb.NewStore(db, dialect)

	path := filepath.Join(dir, "knowledge_base.csv")
	require.NoError(t, os.WriteFile(path, []byte(chineseCSV), 0o644))

	res, err := ImportFile(ctx, store, path, true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)

	rec, err := store.Get(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "T-2", rec.TicketNo)

	pending, _, err := store.CountPending(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, pending)

	res, err = ImportFile(ctx, store, path, true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Removed)
	assert.Equal(t, 2, res.Inserted)
}
