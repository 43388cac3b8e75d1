// Package scanner pulls single top-level fields out of flat JSON frames
// without decoding them. Keys are matched on their quoted form, so a key
// must not appear as a quoted string value earlier in the frame.
package scanner

import "bytes"

// String returns the raw bytes of the string field key. Escapes are not
// processed; the result aliases frame.
func String(frame []byte, key string) ([]byte, bool) {
	i, ok := value(frame, key)
	if !ok || frame[i] != '"' {
		return nil, false
	}
	i++
	end := bytes.IndexByte(frame[i:], '"')
	if end < 0 {
		return nil, false
	}
	return frame[i : i+end], true
}

// Uint returns the unsigned integer field key.
func Uint(frame []byte, key string) (uint64, bool) {
	i, ok := value(frame, key)
	if !ok || !isDigit(frame[i]) {
		return 0, false
	}
	var v uint64
	for ; i < len(frame) && isDigit(frame[i]); i++ {
		d := uint64(frame[i] - '0')
		if v > (^uint64(0)-d)/10 {
			return 0, false
		}
		v = v*10 + d
	}
	return v, true
}

// Is reports whether the string field key equals want.
func Is(frame []byte, key, want string) bool {
	v, ok := String(frame, key)
	return ok && string(v) == want
}

// value returns the index of the first byte of key's value.
func value(frame []byte, key string) (int, bool) {
	off := 0
	for off < len(frame) {
		idx := indexKey(frame[off:], key)
		if idx < 0 {
			return 0, false
		}
		i := skipSpace(frame, off+idx+len(key)+2)
		if i < len(frame) && frame[i] == ':' {
			i = skipSpace(frame, i+1)
			if i >= len(frame) {
				return 0, false
			}
			return i, true
		}
		off += idx + 1
	}
	return 0, false
}

func indexKey(frame []byte, key string) int {
	for off := 0; ; {
		idx := bytes.IndexByte(frame[off:], '"')
		if idx < 0 {
			return -1
		}
		start := off + idx
		end := start + 1 + len(key)
		if end < len(frame) && frame[end] == '"' && string(frame[start+1:end]) == key {
			return start
		}
		off = start + 1
	}
}

func skipSpace(frame []byte, i int) int {
	for i < len(frame) && isSpace(frame[i]) {
		i++
	}
	return i
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
