package instrument

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var errUnexpectedEOF = errors.New("unexpected end of input")

// reader walks a wasm byte stream. Unsigned LEB128 is the same encoding as
// Go's uvarint, so the standard decoder is used for it.
type reader struct {
	buf []byte
	pos int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) eof() bool {
	return r.pos >= len(r.buf)
}

func (r *reader) readByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, errUnexpectedEOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) peekByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, errUnexpectedEOF
	}
	return r.buf[r.pos], nil
}

func (r *reader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, errUnexpectedEOF
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) readU32() (uint32, error) {
	if r.pos >= len(r.buf) {
		return 0, errUnexpectedEOF
	}
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 || n > 5 || v > math.MaxUint32 {
		return 0, fmt.Errorf("invalid u32 at offset %d", r.pos)
	}
	r.pos += n
	return uint32(v), nil
}

// skipSigned steps over a signed LEB128 of at most maxLen bytes.
func (r *reader) skipSigned(maxLen int) error {
	for i := 0; i < maxLen; i++ {
		b, err := r.readByte()
		if err != nil {
			return err
		}
		if b&0x80 == 0 {
			return nil
		}
	}
	return fmt.Errorf("signed integer too long at offset %d", r.pos)
}

func (r *reader) readName() (string, error) {
	n, err := r.readU32()
	if err != nil {
		return "", err
	}
	bz, err := r.readBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(bz), nil
}

func appendU32(dst []byte, v uint32) []byte {
	return binary.AppendUvarint(dst, uint64(v))
}

func appendS32(dst []byte, v int32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

func appendName(dst []byte, name string) []byte {
	dst = appendU32(dst, uint32(len(name)))
	return append(dst, name...)
}
