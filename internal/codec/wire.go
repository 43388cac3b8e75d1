package codec

import "encoding/binary"

// wire reads little-endian fields in order. Callers check the length first.
type wire struct {
	b   []byte
	off int
}

func (w *wire) u16() uint16 {
	v := binary.LittleEndian.Uint16(w.b[w.off:])
	w.off += 2
	return v
}

func (w *wire) u32() uint32 {
	v := binary.LittleEndian.Uint32(w.b[w.off:])
	w.off += 4
	return v
}

func (w *wire) u64() uint64 {
	v := binary.LittleEndian.Uint64(w.b[w.off:])
	w.off += 8
	return v
}

func (w *wire) i64() int64 { return int64(w.u64()) }

func (w *wire) skip(n int) { w.off += n }

// reuse returns dst emptied, or a new slice when it cannot hold size bytes.
func reuse(dst []byte, size int) []byte {
	if cap(dst) < size {
		return make([]byte, 0, size)
	}
	return dst[:0]
}
