package recorder

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/yanun0323/errors"

	"hft/internal/schema"
)

// ReaderOptions controls frame decoding.
type ReaderOptions struct {
	DisableChecksum bool
	MaxPayloadSize  int
}

// Reader decodes frames sequentially from one stream.
type Reader struct {
	src    *bufio.Reader
	opts   ReaderOptions
	header [frameHeaderSize]byte
	body   []byte
}

func NewReader(r io.Reader, opts ReaderOptions) *Reader {
	return &Reader{src: bufio.NewReader(r), opts: opts}
}

// Next returns the next header and payload, or io.EOF at a clean end of
// stream. A frame cut short returns ErrTruncated. The payload is only valid
// until the next call.
func (r *Reader) Next() (schema.EventHeader, []byte, error) {
	n, err := io.ReadFull(r.src, r.header[:])
	switch {
	case err == io.EOF:
		return schema.EventHeader{}, nil, io.EOF
	case err == io.ErrUnexpectedEOF:
		return schema.EventHeader{}, nil, errors.Wrapf(ErrTruncated, "header %d of %d bytes", n, frameHeaderSize)
	case err != nil:
		return schema.EventHeader{}, nil, err
	}

	header, size, err := parseHeader(r.header[:])
	if err != nil {
		return header, nil, err
	}
	if uint64(size) > maxPayloadLen || (r.opts.MaxPayloadSize > 0 && int(size) > r.opts.MaxPayloadSize) {
		return header, nil, errors.Wrapf(ErrPayloadTooLarge, "seq %d payload %d", header.Seq, size)
	}

	want := int(size) + frameTrailerSize
	if cap(r.body) < want {
		r.body = make([]byte, want)
	}
	r.body = r.body[:want]
	if _, err := io.ReadFull(r.src, r.body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return header, nil, errors.Wrapf(ErrTruncated, "seq %d body", header.Seq)
		}
		return header, nil, err
	}

	payload := r.body[:size]
	if !r.opts.DisableChecksum {
		sum := crc32.Update(crc32.Checksum(r.header[:], castagnoli), castagnoli, payload)
		if sum != binary.LittleEndian.Uint32(r.body[size:]) {
			return header, nil, errors.Wrapf(ErrChecksumMismatch, "seq %d", header.Seq)
		}
	}
	return header, payload, nil
}
