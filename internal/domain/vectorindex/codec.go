package vectorindex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
)

// 快照格式（小端）：
//
//	magic[8] "FKBVEC01" | dim uint32 | count uint64 |
//	count × (id int64 | dim × float32) | crc32(IEEE, 之前所有字节) uint32
var snapshotMagic = [8]byte{'F', 'K', 'B', 'V', 'E', 'C', '0', '1'}

const headerSize = 8 + 4 + 8

// ErrCorruptSnapshot 快照文件损坏或格式不符
var ErrCorruptSnapshot = errors.New("vectorindex: corrupt snapshot")

// Entry 一条 (record_id, vector)
type Entry struct {
	ID     int64
	Vector []float32
}

// encodeSnapshot 按给定顺序编码全部条目
func encodeSnapshot(dim int, ids []int64, vecs [][]float32) []byte {
	size := headerSize + len(ids)*(8+4*dim) + 4
	out := make([]byte, size)

	copy(out[0:8], snapshotMagic[:])
	binary.LittleEndian.PutUint32(out[8:12], uint32(dim))
	binary.LittleEndian.PutUint64(out[12:20], uint64(len(ids)))

	off := headerSize
	for i, id := range ids {
		binary.LittleEndian.PutUint64(out[off:off+8], uint64(id))
		off += 8
		for _, f := range vecs[i] {
			binary.LittleEndian.PutUint32(out[off:off+4], math.Float32bits(f))
			off += 4
		}
	}
	binary.LittleEndian.PutUint32(out[off:off+4], crc32.ChecksumIEEE(out[:off]))
	return out
}

// decodeSnapshot 解码快照并校验长度、校验和与 id 唯一性
func decodeSnapshot(data []byte) (int, []Entry, error) {
	if len(data) < headerSize+4 {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrCorruptSnapshot, len(data))
	}
	if [8]byte(data[0:8]) != snapshotMagic {
		return 0, nil, fmt.Errorf("%w: bad magic", ErrCorruptSnapshot)
	}

	body := data[:len(data)-4]
	want := binary.LittleEndian.Uint32(data[len(data)-4:])
	if crc32.ChecksumIEEE(body) != want {
		return 0, nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptSnapshot)
	}

	dim := int(binary.LittleEndian.Uint32(data[8:12]))
	count := binary.LittleEndian.Uint64(data[12:20])
	entrySize := uint64(8 + 4*dim)
	if uint64(len(body)-headerSize) != count*entrySize {
		return 0, nil, fmt.Errorf("%w: expected %d entries of dim %d", ErrCorruptSnapshot, count, dim)
	}

	entries := make([]Entry, 0, count)
	seen := make(map[int64]struct{}, count)
	off := headerSize
	for n := uint64(0); n < count; n++ {
		id := int64(binary.LittleEndian.Uint64(data[off : off+8]))
		off += 8
		if _, dup := seen[id]; dup {
			return 0, nil, fmt.Errorf("%w: duplicate id %d", ErrCorruptSnapshot, id)
		}
		seen[id] = struct{}{}

		vec := make([]float32, dim)
		for j := 0; j < dim; j++ {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
			off += 4
		}
		entries = append(entries, Entry{ID: id, Vector: vec})
	}
	return dim, entries, nil
}
