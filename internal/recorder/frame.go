package recorder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"

	yerrors "github.com/yanun0323/errors"

	"hft/internal/schema"
)

// Frame layout, little endian. The trailing checksum is CRC32C over the
// header and the payload.
//
//	off  size  field
//	0    4     magic "HFTE"
//	4    1     frame version
//	5    1     header size
//	6    2     event type
//	8    2     schema version
//	10   2     source
//	12   2     flags
//	14   2     reserved
//	16   4     payload length
//	20   8     seq
//	28   8     ts event
//	36   8     ts recv
//	44   8     trace id
//	52   n     payload
//	52+n 4     checksum
const (
	frameVersion     byte = 3
	frameHeaderSize       = 52
	frameTrailerSize      = 4
	maxPayloadLen         = uint64(^uint32(0))
)

var (
	frameMagic = []byte("HFTE")
	castagnoli = crc32.MakeTable(crc32.Castagnoli)
)

var (
	ErrBadMagic         = errors.New("event log: bad frame magic")
	ErrFrameVersion     = errors.New("event log: unsupported frame version")
	ErrFrameHeader      = errors.New("event log: bad frame header size")
	ErrChecksumMismatch = errors.New("event log: checksum mismatch")
	ErrPayloadTooLarge  = errors.New("event log: payload too large")
	ErrTruncated        = errors.New("event log: truncated frame")
)

// RecordSize returns the encoded size of a frame with the given payload.
func RecordSize(payloadLen int) int {
	return frameHeaderSize + payloadLen + frameTrailerSize
}

// AppendRecord encodes one frame onto dst.
func AppendRecord(dst []byte, header schema.EventHeader, payload []byte) []byte {
	start := len(dst)
	dst = appendHeader(dst, header, len(payload))
	dst = append(dst, payload...)
	return binary.LittleEndian.AppendUint32(dst, crc32.Checksum(dst[start:], castagnoli))
}

func appendHeader(dst []byte, h schema.EventHeader, payloadLen int) []byte {
	le := binary.LittleEndian
	dst = append(dst, frameMagic...)
	dst = append(dst, frameVersion, frameHeaderSize)
	dst = le.AppendUint16(dst, uint16(h.Type))
	dst = le.AppendUint16(dst, h.Version)
	dst = le.AppendUint16(dst, h.Source)
	dst = le.AppendUint16(dst, h.Flags)
	dst = le.AppendUint16(dst, 0)
	dst = le.AppendUint32(dst, uint32(payloadLen))
	dst = le.AppendUint64(dst, h.Seq)
	dst = le.AppendUint64(dst, uint64(h.TsEvent))
	dst = le.AppendUint64(dst, uint64(h.TsRecv))
	return le.AppendUint64(dst, h.TraceID)
}

func parseHeader(src []byte) (schema.EventHeader, uint32, error) {
	switch {
	case len(src) < frameHeaderSize:
		return schema.EventHeader{}, 0, ErrFrameHeader
	case !bytes.Equal(src[:4], frameMagic):
		return schema.EventHeader{}, 0, ErrBadMagic
	case src[4] != frameVersion:
		return schema.EventHeader{}, 0, yerrors.Wrapf(ErrFrameVersion, "version %d", src[4])
	case src[5] != frameHeaderSize:
		return schema.EventHeader{}, 0, yerrors.Wrapf(ErrFrameHeader, "size %d", src[5])
	}
	le := binary.LittleEndian
	h := schema.EventHeader{
		Type:    schema.EventType(le.Uint16(src[6:])),
		Version: le.Uint16(src[8:]),
		Source:  le.Uint16(src[10:]),
		Flags:   le.Uint16(src[12:]),
		Seq:     le.Uint64(src[20:]),
		TsEvent: int64(le.Uint64(src[28:])),
		TsRecv:  int64(le.Uint64(src[36:])),
		TraceID: le.Uint64(src[44:]),
	}
	return h, le.Uint32(src[16:]), nil
}
