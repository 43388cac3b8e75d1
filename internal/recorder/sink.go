package recorder

import (
	"bytes"
	"encoding/hex"
	"sync"

	"github.com/zeebo/blake3"

	"hft/internal/schema"
)

// Sink consumes encoded events. The engine appends intents, risk decisions,
// transitions and fills; Append must not block the caller.
type Sink interface {
	Append(header schema.EventHeader, payload []byte) error
}

// Tee fans one append out to several sinks and returns the first error.
type Tee []Sink

func (t Tee) Append(header schema.EventHeader, payload []byte) error {
	var first error
	for _, s := range t {
		if s == nil {
			continue
		}
		if err := s.Append(header, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// MemoryLog keeps framed records in memory using the on-disk encoding.
type MemoryLog struct {
	mu  sync.Mutex
	buf []byte
	n   int
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (m *MemoryLog) Append(header schema.EventHeader, payload []byte) error {
	if uint64(len(payload)) > maxPayloadLen {
		return ErrPayloadTooLarge
	}
	if header.Version == 0 {
		header.Version = schema.SchemaVersion
	}
	m.mu.Lock()
	m.buf = AppendRecord(m.buf, header, payload)
	m.n++
	m.mu.Unlock()
	return nil
}

// Bytes returns a copy of the framed records.
func (m *MemoryLog) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Clone(m.buf)
}

// Len returns the number of records appended.
func (m *MemoryLog) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.n
}

// Reader returns a record reader over a snapshot of the log.
func (m *MemoryLog) Reader() *Reader {
	return NewReader(bytes.NewReader(m.Bytes()), ReaderOptions{})
}

// Digest hashes framed records with BLAKE3 as they are appended. Two runs that
// log the same bytes produce the same digest.
type Digest struct {
	mu      sync.Mutex
	h       *blake3.Hasher
	scratch []byte
	n       uint64
}

// NewDigest creates an empty digest sink.
func NewDigest() *Digest {
	return &Digest{h: blake3.New()}
}

func (d *Digest) Append(header schema.EventHeader, payload []byte) error {
	if header.Version == 0 {
		header.Version = schema.SchemaVersion
	}
	d.mu.Lock()
	d.scratch = AppendRecord(d.scratch[:0], header, payload)
	_, _ = d.h.Write(d.scratch)
	d.n++
	d.mu.Unlock()
	return nil
}

// Sum returns the hex digest of everything appended so far.
func (d *Digest) Sum() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return hex.EncodeToString(d.h.Sum(nil))
}

// Count returns the number of records hashed.
func (d *Digest) Count() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}
