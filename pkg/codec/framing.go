package codec

import (
	"bytes"
	"encoding/binary"

	"github.com/TyKolt/kremis/pkg/kremis"
)

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeInt64(buf *bytes.Buffer, v int64) {
	writeUint64(buf, uint64(v))
}

// writeAttribute writes a length-prefixed attribute: a uint32 byte length
// followed by the raw bytes.
func writeAttribute(buf *bytes.Buffer, attr kremis.Attribute) {
	writeUint32(buf, uint32(len(attr)))
	buf.WriteString(string(attr))
}

// writeValue writes a length-prefixed value: a uint32 byte length (values
// are capped at 65536 bytes) followed by the raw bytes.
func writeValue(buf *bytes.Buffer, v kremis.Value) {
	writeUint32(buf, uint32(len(v)))
	buf.WriteString(string(v))
}

// cursor is a bounds-checked forward reader over a byte slice, used by both
// codec decoders so a truncated payload fails with Serialization instead of
// panicking on an out-of-range slice.
type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) take(n int) ([]byte, error) {
	if n < 0 || c.pos+n > len(c.buf) {
		return nil, kremis.NewSerialization("unexpected end of codec payload")
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

func (c *cursor) readUint32() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *cursor) readUint64() (uint64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (c *cursor) readInt64() (int64, error) {
	v, err := c.readUint64()
	return int64(v), err
}

func (c *cursor) readAttribute() (kremis.Attribute, error) {
	n, err := c.readUint32()
	if err != nil {
		return "", err
	}
	b, err := c.take(int(n))
	if err != nil {
		return "", err
	}
	return kremis.Attribute(b), nil
}

func (c *cursor) readValue() (kremis.Value, error) {
	n, err := c.readUint32()
	if err != nil {
		return "", err
	}
	b, err := c.take(int(n))
	if err != nil {
		return "", err
	}
	return kremis.Value(b), nil
}
