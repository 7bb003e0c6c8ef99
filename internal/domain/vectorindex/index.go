// Package vectorindex 维护 record_id 到向量的精确 L2 最近邻索引，并在每次变更后整体重写磁盘快照。
package vectorindex

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	applog "faultkb/internal/platform/log"
	"faultkb/internal/platform/metrics"
)

// ErrDimensionMismatch 向量维度与索引不一致
var ErrDimensionMismatch = errors.New("vectorindex: dimension mismatch")

// Hit 一条检索结果，Distance 为 L2 距离的平方
type Hit struct {
	RecordID int64   `json:"record_id"`
	Distance float32 `json:"distance"`
}

// Index 内存向量索引。
//
// 写操作（Add/Remove/Rebuild）与快照落盘在同一把写锁内完成，单写者；
// Search 持读锁，可并发执行，且不会观察到写了一半的索引。
// 落盘失败时回滚内存变更，内存与磁盘在任一操作完成后都保持一致。
type Index struct {
	mu   sync.RWMutex
	path string // 空表示不落盘
	dim  int    // 0 表示由第一条向量决定

	ids  []int64
	vecs [][]float32
	pos  map[int64]int
}

// New 创建空索引
func New(path string, dim int) *Index {
	return &Index{
		path: path,
		dim:  dim,
		pos:  make(map[int64]int),
	}
}

// Open 创建索引并加载快照（文件不存在时为空索引）
func Open(path string, dim int) (*Index, error) {
	idx := New(path, dim)
	if path == "" {
		return idx, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		applog.Warn("[VectorIndex] Snapshot not found, starting empty", "path", path)
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index snapshot %q: %w", path, err)
	}

	fileDim, entries, err := decodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("load index snapshot %q: %w", path, err)
	}
	if len(entries) > 0 {
		if dim > 0 && fileDim != dim {
			return nil, fmt.Errorf("%w: snapshot %q has dim %d, configured %d", ErrDimensionMismatch, path, fileDim, dim)
		}
		idx.dim = fileDim
	}
	for _, e := range entries {
		idx.insertLocked(e.ID, e.Vector)
	}
	metrics.IndexVectors.Set(float64(len(idx.ids)))

	applog.Info("[VectorIndex] Snapshot loaded", "path", path, "vectors", len(entries), "dim", idx.dim)
	return idx, nil
}

// Dim 返回索引维度（0 表示尚未确定）
func (x *Index) Dim() int {
	if x == nil {
		return 0
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dim
}

// Len 返回向量数
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids)
}

// Contains 是否存在该 id
func (x *Index) Contains(id int64) bool {
	if x == nil {
		return false
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.pos[id]
	return ok
}

// Vector 返回该 id 的向量副本
func (x *Index) Vector(id int64) ([]float32, bool) {
	if x == nil {
		return nil, false
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	p, ok := x.pos[id]
	if !ok {
		return nil, false
	}
	return append([]float32(nil), x.vecs[p]...), true
}

// Search 返回距离最近的至多 k 个 id，按距离升序（同距离按 id 升序）。
// 空索引或未初始化索引返回空结果。
func (x *Index) Search(query []float32, k int) ([]Hit, error) {
	if x == nil || k <= 0 {
		return nil, nil
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.ids) == 0 {
		return nil, nil
	}
	if len(query) != x.dim {
		return nil, fmt.Errorf("%w: query dim %d, index dim %d", ErrDimensionMismatch, len(query), x.dim)
	}

	hits := make([]Hit, len(x.ids))
	for i, v := range x.vecs {
		hits[i] = Hit{RecordID: x.ids[i], Distance: squaredL2(query, v)}
	}
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].Distance != hits[b].Distance {
			return hits[a].Distance < hits[b].Distance
		}
		return hits[a].RecordID < hits[b].RecordID
	})
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Add 写入一条向量并同步落盘。id 已存在时替换原向量。
func (x *Index) Add(id int64, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("vectorindex: empty vector for id %d", id)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	prevDim := x.dim
	if x.dim == 0 {
		x.dim = len(vec)
	}
	if len(vec) != x.dim {
		x.dim = prevDim
		return fmt.Errorf("%w: vector dim %d, index dim %d", ErrDimensionMismatch, len(vec), x.dim)
	}

	vec = append([]float32(nil), vec...)
	var rollback func()
	if p, ok := x.pos[id]; ok {
		old := x.vecs[p]
		x.vecs[p] = vec
		rollback = func() { x.vecs[p] = old }
	} else {
		x.insertLocked(id, vec)
		rollback = func() { x.deleteLocked(id) }
	}

	if err := x.persistLocked(); err != nil {
		rollback()
		if len(x.ids) == 0 {
			x.dim = prevDim
		}
		return err
	}
	metrics.IndexVectors.Set(float64(len(x.ids)))
	return nil
}

// Remove 删除该 id 的向量并同步落盘。id 不存在时不做任何事，返回 false。
func (x *Index) Remove(id int64) (bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	p, ok := x.pos[id]
	if !ok {
		return false, nil
	}
	old := x.vecs[p]
	x.deleteLocked(id)

	if err := x.persistLocked(); err != nil {
		x.insertLocked(id, old)
		return false, err
	}
	metrics.IndexVectors.Set(float64(len(x.ids)))
	return true, nil
}

// Rebuild 用给定条目整体替换索引并落盘（全量重建）
func (x *Index) Rebuild(entries []Entry) error {
	dim := 0
	seen := make(map[int64]struct{}, len(entries))
	for _, e := range entries {
		if dim == 0 {
			dim = len(e.Vector)
		}
		if len(e.Vector) == 0 || len(e.Vector) != dim {
			return fmt.Errorf("%w: entry %d has dim %d, expected %d", ErrDimensionMismatch, e.ID, len(e.Vector), dim)
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("vectorindex: duplicate id %d in rebuild", e.ID)
		}
		seen[e.ID] = struct{}{}
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if dim > 0 && x.dim > 0 && dim != x.dim {
		return fmt.Errorf("%w: rebuild dim %d, index dim %d", ErrDimensionMismatch, dim, x.dim)
	}

	prevIDs, prevVecs, prevPos, prevDim := x.ids, x.vecs, x.pos, x.dim
	x.ids, x.vecs, x.pos = nil, nil, make(map[int64]int, len(entries))
	if dim > 0 {
		x.dim = dim
	}
	for _, e := range entries {
		x.insertLocked(e.ID, append([]float32(nil), e.Vector...))
	}

	if err := x.persistLocked(); err != nil {
		x.ids, x.vecs, x.pos, x.dim = prevIDs, prevVecs, prevPos, prevDim
		return err
	}
	metrics.IndexVectors.Set(float64(len(x.ids)))
	return nil
}

// Entries 返回全部条目的副本（按插入顺序）
func (x *Index) Entries() []Entry {
	if x == nil {
		return nil
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Entry, len(x.ids))
	for i, id := range x.ids {
		out[i] = Entry{ID: id, Vector: append([]float32(nil), x.vecs[i]...)}
	}
	return out
}

func (x *Index) insertLocked(id int64, vec []float32) {
	x.pos[id] = len(x.ids)
	x.ids = append(x.ids, id)
	x.vecs = append(x.vecs, vec)
}

// deleteLocked swap-delete，O(1)
func (x *Index) deleteLocked(id int64) {
	p, ok := x.pos[id]
	if !ok {
		return
	}
	last := len(x.ids) - 1
	if p != last {
		x.ids[p] = x.ids[last]
		x.vecs[p] = x.vecs[last]
		x.pos[x.ids[p]] = p
	}
	x.ids = x.ids[:last]
	x.vecs = x.vecs[:last]
	delete(x.pos, id)
}

// persistLocked 写临时文件 + fsync + rename，保证快照要么是旧的要么是新的
func (x *Index) persistLocked() error {
	if x.path == "" {
		return nil
	}
	start := time.Now()
	data := encodeSnapshot(x.dim, x.ids, x.vecs)

	dir := filepath.Dir(x.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(x.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("persist index: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("persist index: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("persist index: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("persist index: close: %w", err)
	}
	if err := os.Rename(tmpName, x.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("persist index: rename: %w", err)
	}

	metrics.IndexPersistDuration.Observe(time.Since(start).Seconds())
	applog.Debug("[VectorIndex] Snapshot written", "path", x.path, "vectors", len(x.ids), "bytes", len(data))
	return nil
}

func squaredL2(a, b []float32) float32 {
	var s float32
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}
