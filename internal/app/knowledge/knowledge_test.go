package knowledge

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faultkb/internal/app/bootstrap"
	"faultkb/internal/db/sqldb"
	"faultkb/internal/domain/fault"
	"faultkb/internal/domain/vectorindex"
	"faultkb/internal/platform/worker"
	"faultkb/internal/testutil"
)

const testDims = 512

type harness struct {
	store    *sqldb.Store
	emb      *testutil.HashEmbedder
	idx      *vectorindex.Index
	gate     *bootstrap.Gate
	gen      *testutil.Generator
	syncer   *Synchronizer
	pipeline *QueryPipeline
	recon    *Reconciler
	svc      *Service

	indexPath string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, dialect, err := sqldb.Open(ctx, sqldb.Config{URL: filepath.Join(dir, "kb.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqldb.EnsureSchema(ctx, db, dialect))

	h := &harness{
		store:     sqldb.NewStore(db, dialect),
		emb:       testutil.NewHashEmbedder(testDims),
		gen:       &testutil.Generator{Answer: "清理灰尘后风扇恢复正常。"},
		indexPath: filepath.Join(dir, "vector_index.bin"),
	}
	h.idx = vectorindex.New(h.indexPath, testDims)
	h.gate = bootstrap.NewGate(func(context.Context) (*bootstrap.Backends, error) {
		return &bootstrap.Backends{Embedder: h.emb, Index: h.idx}, nil
	})
	h.syncer = NewSynchronizer(h.store, h.store, h.gate, 0)
	h.pipeline = NewQueryPipeline(h.gate, h.store, h.gen, 3, DefaultTemperature)
	h.recon = NewReconciler(h.syncer, h.store, h.gate, ReconcilerConfig{})
	h.svc = NewService(ServiceDeps{
		Store:        h.store,
		Synchronizer: h.syncer,
		Query:        h.pipeline,
		Reconciler:   h.recon,
		Gate:         h.gate,
		Pool:         worker.New(worker.Config{MaxConcurrency: 4}),
	})
	return h
}

func (h *harness) create(t *testing.T, ticket, phenomenon, resolution string) *fault.Record {
	t.Helper()
	rec, err := h.svc.CreateRecord(context.Background(), &fault.Record{
		TicketNo:        ticket,
		DeviceName:      "设备-" + ticket,
		FaultPhenomenon: phenomenon,
		Resolution:      resolution,
	})
	require.NoError(t, err)
	return rec
}

func (h *harness) pending(t *testing.T) int {
	t.Helper()
	n, _, err := h.store.CountPending(context.Background(), 10)
	require.NoError(t, err)
	return n
}

func TestAskRetrievesMostSimilarRecord(t *testing.T) {
	h := newHarness(t)
	h.create(t, "T-1", "fan failure", "cleaned dust")
	h.create(t, "T-2", "power supply smells burnt", "replaced power supply unit")
	h.create(t, "T-3", "screen flickers", "reseated display cable")

	ans, err := h.svc.Ask(context.Background(), "fan failure")
	require.NoError(t, err)

	assert.Equal(t, "清理灰尘后风扇恢复正常。", ans.Text)
	require.Len(t, ans.Context, 3)
	assert.Equal(t, "T-1", ans.Context[0].TicketNo)

	prompt := h.gen.LastPrompt()
	assert.Contains(t, prompt, "故障单号: T-1")
	assert.Contains(t, prompt, "cleaned dust")
	assert.Contains(t, prompt, "'fan failure'")
	assert.Equal(t, DefaultTemperature, h.gen.LastTemperature())
	assert.Zero(t, h.pending(t))
}

func TestCreatedRecordIsItsOwnNearestNeighbour(t *testing.T) {
	h := newHarness(t)
	recs := []*fault.Record{
		h.create(t, "A-1", "compressor overheating alarm", "replaced thermal paste"),
		h.create(t, "A-2", "conveyor belt slipping", "tightened belt tension"),
		h.create(t, "A-3", "hydraulic pump leaking oil", "replaced seal kit"),
	}

	for _, rec := range recs {
		vec := h.emb.Vector(fault.EmbeddingText(rec))
		hits, err := h.idx.Search(vec, 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, rec.RecordID, hits[0].RecordID)
		assert.InDelta(t, 0, hits[0].Distance, 1e-6)
	}
}

func TestValidationRejectedBeforeInitialization(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.CreateRecord(context.Background(), &fault.Record{TicketNo: "  "})
	assert.ErrorIs(t, err, fault.ErrValidation)

	_, err = h.store.Create(context.Background(), &fault.Record{TicketNo: "T-1", FaultPhenomenon: "fan failure"})
	require.NoError(t, err)

	_, err = h.svc.UpdateRecord(context.Background(), "T-1", &fault.RecordUpdate{})
	assert.ErrorIs(t, err, fault.ErrValidation)

	_, err = h.svc.UpdateRecord(context.Background(), "T-404", &fault.RecordUpdate{})
	assert.ErrorIs(t, err, fault.ErrNotFound)

	_, err = h.svc.Ask(context.Background(), "   ")
	assert.ErrorIs(t, err, fault.ErrValidation)

	assert.False(t, h.gate.IsReady())
}

func TestLookupsDoNotInitializeBackends(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.store.Create(ctx, &fault.Record{TicketNo: "L-1", DeviceName: "Cooling Fan A"})
	require.NoError(t, err)

	rec, err := h.svc.GetRecord(ctx, "L-1")
	require.NoError(t, err)
	assert.Equal(t, "Cooling Fan A", rec.DeviceName)

	recs, err := h.svc.SearchByDevice(ctx, "Fan")
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	_, err = h.svc.GetRecord(ctx, "missing")
	assert.ErrorIs(t, err, fault.ErrNotFound)
	_, err = h.svc.SearchByDevice(ctx, "pump")
	assert.ErrorIs(t, err, fault.ErrNotFound)

	health := h.svc.Health(ctx)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "lazy", health.AIBackend)
	assert.False(t, h.gate.IsReady())
}

func TestDuplicateTicketLeavesIndexUntouched(t *testing.T) {
	h := newHarness(t)
	h.create(t, "D-1", "fan failure", "cleaned dust")

	_, err := h.svc.CreateRecord(context.Background(), &fault.Record{TicketNo: "D-1", FaultPhenomenon: "other"})
	assert.ErrorIs(t, err, fault.ErrConflict)
	assert.Equal(t, 1, h.idx.Len())
}

func TestUpdateReplacesVector(t *testing.T) {
	h := newHarness(t)
	rec := h.create(t, "U-1", "fan failure", "cleaned dust")

	upd := &fault.RecordUpdate{Resolution: fault.StringPtr("replaced bearing")}
	updated, err := h.svc.UpdateRecord(context.Background(), "U-1", upd)
	require.NoError(t, err)
	assert.Equal(t, "replaced bearing", updated.Resolution)
	assert.Equal(t, rec.RecordID, updated.RecordID)
	assert.Equal(t, int64(2), updated.Revision)

	got, ok := h.idx.Vector(rec.RecordID)
	require.True(t, ok)
	assert.Equal(t, h.emb.Vector(fault.EmbeddingText(updated)), got)
	assert.Equal(t, 1, h.idx.Len())

	_, err = h.svc.UpdateRecord(context.Background(), "missing", upd)
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestDeleteRemovesVector(t *testing.T) {
	h := newHarness(t)
	gone := h.create(t, "X-1", "fan failure", "cleaned dust")
	kept := h.create(t, "X-2", "pump noise", "lubricated pump")

	require.NoError(t, h.svc.DeleteRecord(context.Background(), "X-1"))
	assert.False(t, h.idx.Contains(gone.RecordID))
	assert.True(t, h.idx.Contains(kept.RecordID))

	ans, err := h.svc.Ask(context.Background(), "fan failure")
	require.NoError(t, err)
	for _, r := range ans.Context {
		assert.NotEqual(t, "X-1", r.TicketNo)
	}

	err = h.svc.DeleteRecord(context.Background(), "X-1")
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestAskOnEmptyIndexSkipsGeneration(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Ask(context.Background(), "fan failure")
	assert.ErrorIs(t, err, fault.ErrNoMatch)
	assert.ErrorIs(t, err, fault.ErrNotFound)
	assert.Zero(t, h.gen.Calls())
}

func TestAskDropsVectorsWithoutRecords(t *testing.T) {
	h := newHarness(t)
	rec := h.create(t, "M-1", "fan failure", "cleaned dust")
	require.NoError(t, h.idx.Add(999, h.emb.Vector("fan failure stale")))

	ans, err := h.svc.Ask(context.Background(), "fan failure")
	require.NoError(t, err)
	require.Len(t, ans.Context, 1)
	assert.Equal(t, rec.RecordID, ans.Context[0].RecordID)

	_, err = h.idx.Remove(rec.RecordID)
	require.NoError(t, err)
	_, err = h.svc.Ask(context.Background(), "fan failure")
	assert.ErrorIs(t, err, fault.ErrNoMatch)
	assert.Equal(t, 1, h.gen.Calls())
}

func TestGenerationFailureSurfaces(t *testing.T) {
	h := newHarness(t)
	h.create(t, "G-1", "fan failure", "cleaned dust")
	h.gen.Err = &fault.UpstreamError{Service: "generation", StatusCode: 500, Err: errors.New("boom")}

	_, err := h.svc.Ask(context.Background(), "fan failure")
	assert.ErrorIs(t, err, fault.ErrUpstreamUnavailable)
}

func TestPartialSuccessIsReconciled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.emb.FailNext(1)
	rec, err := h.svc.CreateRecord(ctx, &fault.Record{TicketNo: "P-1", FaultPhenomenon: "fan failure", Resolution: "cleaned dust"})
	require.Error(t, err)
	assert.True(t, fault.IsPartial(err))
	assert.ErrorIs(t, err, fault.ErrIndexInconsistency)
	assert.ErrorIs(t, err, fault.ErrUpstreamUnavailable)
	require.NotNil(t, rec)
	assert.Positive(t, rec.RecordID)

	stored, err := h.store.GetByTicket(ctx, "P-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.False(t, h.idx.Contains(rec.RecordID))
	assert.Equal(t, 1, h.pending(t))

	report, err := h.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Zero(t, report.Pending)
	assert.True(t, h.idx.Contains(rec.RecordID))
}

func TestReconcilerGivesUpAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.recon = NewReconciler(h.syncer, h.store, h.gate, ReconcilerConfig{MaxAttempts: 2})

	h.emb.FailNext(-1)
	_, err := h.syncer.Create(ctx, &fault.Record{TicketNo: "E-1", FaultPhenomenon: "fan failure"})
	require.True(t, fault.IsPartial(err))

	report, err := h.recon.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Pending)
	assert.Equal(t, 1, report.Exhausted)

	report, err = h.recon.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Events)

	h.emb.FailNext(0)
}

func TestConcurrentUpdateDuringEmbedSettles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "C-1", "fan failure", "cleaned dust")

	var fired atomic.Bool
	h.emb.OnEmbed(func(string) {
		if fired.CompareAndSwap(false, true) {
			_, err := h.store.Update(ctx, "C-1", &fault.RecordUpdate{Resolution: fault.StringPtr("replaced fan motor")})
			assert.NoError(t, err)
		}
	})

	_, err := h.syncer.Update(ctx, "C-1", &fault.RecordUpdate{FaultPhenomenon: fault.StringPtr("fan stalls on startup")})
	require.NoError(t, err)

	latest, err := h.store.Get(ctx, rec.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "replaced fan motor", latest.Resolution)
	assert.Equal(t, "fan stalls on startup", latest.FaultPhenomenon)

	got, ok := h.idx.Vector(rec.RecordID)
	require.True(t, ok)
	assert.Equal(t, h.emb.Vector(fault.EmbeddingText(latest)), got)
}

func TestDeleteDuringEmbedRemovesVector(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "C-2", "fan failure", "cleaned dust")

	var fired atomic.Bool
	h.emb.OnEmbed(func(string) {
		if fired.CompareAndSwap(false, true) {
			_, err := h.store.Delete(ctx, "C-2")
			assert.NoError(t, err)
		}
	})

	_, err := h.syncer.Update(ctx, "C-2", &fault.RecordUpdate{Remarks: fault.StringPtr("checked")})
	assert.ErrorIs(t, err, fault.ErrNotFound)
	assert.False(t, h.idx.Contains(rec.RecordID))
}

func TestFailedSettleRoundLeavesRecordUnindexed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "C-3", "fan failure", "replaced fan")

	var fired atomic.Bool
	h.emb.OnEmbed(func(string) {
		if fired.CompareAndSwap(false, true) {
			_, err := h.store.Update(ctx, "C-3", &fault.RecordUpdate{Resolution: fault.StringPtr("cleaned dust")})
			assert.NoError(t, err)
			h.emb.FailNext(1)
		}
	})

	_, err := h.syncer.Update(ctx, "C-3", &fault.RecordUpdate{Remarks: fault.StringPtr("checked")})
	require.Error(t, err)
	assert.True(t, fault.IsPartial(err))
	assert.False(t, h.idx.Contains(rec.RecordID), "vector of an older revision must not stay searchable")
	assert.Positive(t, h.pending(t))

	h.emb.OnEmbed(nil)
	_, err = h.svc.Reconcile(ctx)
	require.NoError(t, err)

	latest, err := h.store.Get(ctx, rec.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "cleaned dust", latest.Resolution)
	got, ok := h.idx.Vector(rec.RecordID)
	require.True(t, ok)
	assert.Equal(t, h.emb.Vector(fault.EmbeddingText(latest)), got)
}

// flakyGetStore 第 failOn 次 Get 返回错误
type flakyGetStore struct {
	fault.RecordStore
	calls  atomic.Int32
	failOn int32
}

var errStoreDown = errors.New("store down")

func (s *flakyGetStore) Get(ctx context.Context, recordID int64) (*fault.Record, error) {
	if s.calls.Add(1) == s.failOn {
		return nil, errStoreDown
	}
	return s.RecordStore.Get(ctx, recordID)
}

func TestUpdateKeepsPartialErrorWhenRereadFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.create(t, "C-4", "fan failure", "cleaned dust")

	// SyncRecord 读一次后嵌入失败，第二次 Get 是 Update 的回读
	store := &flakyGetStore{RecordStore: h.store, failOn: 2}
	syncer := NewSynchronizer(store, h.store, h.gate, 0)

	h.emb.FailNext(1)
	_, err := syncer.Update(ctx, "C-4", &fault.RecordUpdate{Remarks: fault.StringPtr("checked")})
	require.Error(t, err)
	assert.True(t, fault.IsPartial(err))
	assert.ErrorIs(t, err, errStoreDown)
}

func TestReconcileWaitRespectsDeadline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.emb.FailNext(1)
	_, err := h.syncer.Create(ctx, &fault.Record{TicketNo: "R-1", FaultPhenomenon: "fan failure"})
	require.True(t, fault.IsPartial(err))

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.emb.OnEmbed(func(string) {
		once.Do(func() {
			close(entered)
			<-release
		})
	})

	done := make(chan error, 1)
	go func() {
		_, err := h.recon.RunOnce(ctx)
		done <- err
	}()
	<-entered

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = h.recon.RunOnce(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 400*time.Millisecond)

	close(release)
	require.NoError(t, <-done)
}

func TestConcurrentMutationsConverge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "K-1", "fan failure", "cleaned dust")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := []string{"cleaned dust", "replaced fan", "tightened screws", "updated firmware"}[i%4]
			_, err := h.svc.UpdateRecord(ctx, "K-1", &fault.RecordUpdate{Resolution: &res})
			if err != nil {
				assert.True(t, fault.IsPartial(err), "unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	_, err := h.svc.Reconcile(ctx)
	require.NoError(t, err)

	latest, err := h.store.Get(ctx, rec.RecordID)
	require.NoError(t, err)
	got, ok := h.idx.Vector(rec.RecordID)
	require.True(t, ok)
	assert.Equal(t, h.emb.Vector(fault.EmbeddingText(latest)), got)
}

func TestReindexRebuildsAndRequeuesSkipped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, tk := range []string{"I-1", "I-2", "I-3"} {
		h.create(t, tk, "fault "+tk, "fix "+tk)
	}
	_, err := h.store.Enqueue(ctx, 12345, fault.OutboxOpRemove)
	require.NoError(t, err)
	require.NoError(t, h.idx.Rebuild(nil))

	h.emb.FailNext(1)
	r := NewReindexer(h.store, h.store, h.gate, ReindexConfig{Parallelism: 2, PageSize: 2})
	report, err := r.Run(ctx)
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 3, report.Records)
	assert.Equal(t, 2, report.Indexed)
	assert.Equal(t, 1, report.Skipped)
	require.Len(t, report.SkippedIDs, 1)
	assert.Equal(t, 2, h.idx.Len())
	assert.Equal(t, 1, h.pending(t), "stale events cleared, skipped record re-queued")

	_, err = h.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, h.idx.Len())
	assert.True(t, h.idx.Contains(report.SkippedIDs[0]))

	reopened, err := vectorindex.Open(h.indexPath, testDims)
	require.NoError(t, err)
	assert.Equal(t, 3, reopened.Len())
}
