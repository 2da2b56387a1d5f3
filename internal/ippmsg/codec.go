package ippmsg

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cyra/ippproxyd/internal/ippattr"
)

// cursor is a position-tracking reader over an in-memory buffer. The
// decoder uses it instead of bufio.Reader so that, once the attribute
// groups are consumed, the remaining unread bytes (a Fetch-Document or
// Fetch-Job response's document payload) are recoverable as a plain slice
// instead of being lost inside bufio's internal read-ahead buffer.
type cursor struct {
	buf []byte
	pos int
}

func newCursor(buf []byte) *cursor { return &cursor{buf: buf} }

func (c *cursor) ReadByte() (byte, error) {
	if c.pos >= len(c.buf) {
		return 0, io.EOF
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

// peek returns the next byte without consuming it, and whether one exists.
func (c *cursor) peek() (byte, bool) {
	if c.pos >= len(c.buf) {
		return 0, false
	}
	return c.buf[c.pos], true
}

func (c *cursor) Read(p []byte) (int, error) {
	if c.pos >= len(c.buf) {
		return 0, io.EOF
	}
	n := copy(p, c.buf[c.pos:])
	c.pos += n
	return n, nil
}

// remaining returns the unconsumed tail of the buffer.
func (c *cursor) remaining() []byte { return c.buf[c.pos:] }

// Encode serializes m into the IPP binary wire format: a fixed header
// followed by tagged attribute groups, terminated by the end-of-attributes
// tag. Document bytes (for Send-Document/Print-Job) are not part of the
// message and are written separately by the caller, immediately after.
func Encode(m *Message) ([]byte, error) {
	buf := &bytes.Buffer{}
	_ = binary.Write(buf, binary.BigEndian, m.Version)
	_ = binary.Write(buf, binary.BigEndian, m.Code)
	_ = binary.Write(buf, binary.BigEndian, m.RequestID)

	for _, g := range m.Groups {
		buf.WriteByte(byte(g.Tag))
		if err := writeGroup(buf, g.Attrs); err != nil {
			return nil, err
		}
	}
	buf.WriteByte(byte(GroupEnd))
	return buf.Bytes(), nil
}

func writeGroup(buf *bytes.Buffer, attrs ippattr.Set) error {
	for name, v := range attrs {
		if err := writeAttribute(buf, name, v); err != nil {
			return fmt.Errorf("attribute %q: %w", name, err)
		}
	}
	return nil
}

func writeAttribute(buf *bytes.Buffer, name string, v ippattr.Value) error {
	switch v.Tag {
	case ippattr.TagInteger, ippattr.TagEnum:
		return writeMultiValue(buf, v.Tag, name, len(v.Ints), func(i int) []byte {
			b := make([]byte, 4)
			binary.BigEndian.PutUint32(b, uint32(v.Ints[i]))
			return b
		})
	case ippattr.TagBoolean:
		return writeMultiValue(buf, v.Tag, name, len(v.Bools), func(i int) []byte {
			if v.Bools[i] {
				return []byte{1}
			}
			return []byte{0}
		})
	case ippattr.TagResolution:
		return writeMultiValue(buf, v.Tag, name, len(v.Resolutions), func(i int) []byte {
			r := v.Resolutions[i]
			b := make([]byte, 9)
			binary.BigEndian.PutUint32(b[0:4], uint32(r.X))
			binary.BigEndian.PutUint32(b[4:8], uint32(r.Y))
			b[8] = r.Units
			return b
		})
	case ippattr.TagUnsupported, ippattr.TagUnknown, ippattr.TagNoValue:
		return writeRaw(buf, v.Tag, name, nil)
	case ippattr.TagBeginCollection:
		for i, coll := range v.Collections {
			n := name
			if i > 0 {
				n = ""
			}
			if err := writeRaw(buf, ippattr.TagBeginCollection, n, nil); err != nil {
				return err
			}
			for memberName, memberValue := range coll {
				if err := writeRaw(buf, ippattr.TagMemberName, "", []byte(memberName)); err != nil {
					return err
				}
				if err := writeAttribute(buf, "", memberValue); err != nil {
					return err
				}
			}
			if err := writeRaw(buf, ippattr.TagEndCollection, "", nil); err != nil {
				return err
			}
		}
		return nil
	default:
		// String-family tags (keyword, uri, text, name, charset, ...).
		return writeMultiValue(buf, v.Tag, name, len(v.Strings), func(i int) []byte {
			return []byte(v.Strings[i])
		})
	}
}

// writeMultiValue writes the first value with its attribute name, then any
// additional values with a zero-length name — the wire convention IPP uses
// for multi-valued attributes (the teacher's writeAttributeMulti does the
// same thing for the single string case; this generalizes it to every tag).
func writeMultiValue(buf *bytes.Buffer, tag ippattr.Tag, name string, n int, value func(int) []byte) error {
	if n == 0 {
		return writeRaw(buf, tag, name, nil)
	}
	for i := 0; i < n; i++ {
		n := name
		if i > 0 {
			n = ""
		}
		if err := writeRaw(buf, tag, n, value(i)); err != nil {
			return err
		}
	}
	return nil
}

func writeRaw(buf *bytes.Buffer, tag ippattr.Tag, name string, value []byte) error {
	buf.WriteByte(byte(tag))
	if err := binary.Write(buf, binary.BigEndian, uint16(len(name))); err != nil {
		return err
	}
	buf.WriteString(name)
	if err := binary.Write(buf, binary.BigEndian, uint16(len(value))); err != nil {
		return err
	}
	buf.Write(value)
	return nil
}

// Decode parses an IPP message header and its attribute groups from r. Any
// trailing document bytes (for a Fetch-Document/Fetch-Job response) are
// discarded; callers that need them must use DecodeBytes instead.
func Decode(r io.Reader) (*Message, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	m, _, err := DecodeBytes(data)
	return m, err
}

// DecodeBytes parses an IPP message header and its attribute groups from
// data, returning both the message and whatever bytes remain unconsumed
// after the end-of-attributes tag — the document payload a Fetch-Document
// or Fetch-Job response carries.
func DecodeBytes(data []byte) (*Message, []byte, error) {
	c := newCursor(data)

	var version, code uint16
	var requestID uint32
	if err := binary.Read(c, binary.BigEndian, &version); err != nil {
		return nil, nil, fmt.Errorf("read version: %w", err)
	}
	if err := binary.Read(c, binary.BigEndian, &code); err != nil {
		return nil, nil, fmt.Errorf("read code: %w", err)
	}
	if err := binary.Read(c, binary.BigEndian, &requestID); err != nil {
		return nil, nil, fmt.Errorf("read request-id: %w", err)
	}

	m := &Message{Version: version, Code: code, RequestID: requestID}

	for {
		tagByte, err := c.ReadByte()
		if err != nil {
			if err == io.EOF {
				return m, nil, nil
			}
			return nil, nil, fmt.Errorf("read group tag: %w", err)
		}
		tag := GroupTag(tagByte)
		if tag == GroupEnd {
			return m, c.remaining(), nil
		}
		attrs, lastName, err := readGroup(c)
		if err != nil {
			return nil, nil, fmt.Errorf("read group %#x: %w", tagByte, err)
		}
		_ = lastName
		m.Groups = append(m.Groups, Group{Tag: tag, Attrs: attrs})
	}
}

// readGroup reads attributes until it encounters a byte that is itself a
// group-delimiter tag (<= 0x0f) or the end tag, then leaves that byte
// unconsumed for the caller's outer loop.
func readGroup(c *cursor) (ippattr.Set, string, error) {
	attrs := ippattr.Set{}
	lastName := ""

	for {
		peek, ok := c.peek()
		if !ok {
			return attrs, lastName, nil
		}
		if peek <= 0x0f {
			return attrs, lastName, nil
		}

		valueTag, _ := c.ReadByte()
		name, value, err := readAttribute(c)
		if err != nil {
			return nil, "", err
		}
		if name == "" {
			name = lastName
		}
		lastName = name

		if ippattr.Tag(valueTag) == ippattr.TagBeginCollection {
			coll, err := readCollection(c)
			if err != nil {
				return nil, "", fmt.Errorf("attribute %q: %w", name, err)
			}
			parsed := ippattr.Value{Tag: ippattr.TagBeginCollection, Collections: []ippattr.Set{coll}}
			attrs[name] = mergeValue(attrs[name], parsed)
			continue
		}

		parsed, err := parseValue(ippattr.Tag(valueTag), value)
		if err != nil {
			return nil, "", fmt.Errorf("attribute %q: %w", name, err)
		}
		attrs[name] = mergeValue(attrs[name], parsed)
	}
}

// readCollection reads member-name/member-value attribute pairs until it
// consumes the matching end-collection marker, assembling them into a Set.
// The begin-collection attribute itself (name + empty value) has already
// been consumed by the caller.
func readCollection(c *cursor) (ippattr.Set, error) {
	members := ippattr.Set{}
	memberName := ""
	for {
		tagByte, err := c.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("read member tag: %w", err)
		}
		tag := ippattr.Tag(tagByte)
		if tag == ippattr.TagEndCollection {
			// Consume the end-collection attribute's (empty) name/value.
			if _, _, err := readAttribute(c); err != nil {
				return nil, fmt.Errorf("read end-collection: %w", err)
			}
			return members, nil
		}
		if tag == ippattr.TagMemberName {
			_, value, err := readAttribute(c)
			if err != nil {
				return nil, fmt.Errorf("read member-name: %w", err)
			}
			memberName = string(value)
			continue
		}
		if tag == ippattr.TagBeginCollection {
			_, _, err := readAttribute(c)
			if err != nil {
				return nil, fmt.Errorf("read nested collection begin: %w", err)
			}
			nested, err := readCollection(c)
			if err != nil {
				return nil, err
			}
			members[memberName] = ippattr.Value{Tag: ippattr.TagBeginCollection, Collections: []ippattr.Set{nested}}
			continue
		}
		_, value, err := readAttribute(c)
		if err != nil {
			return nil, fmt.Errorf("read member value: %w", err)
		}
		parsed, err := parseValue(tag, value)
		if err != nil {
			return nil, fmt.Errorf("member %q: %w", memberName, err)
		}
		members[memberName] = parsed
	}
}

func readAttribute(c *cursor) (name string, value []byte, err error) {
	var nameLen uint16
	if err = binary.Read(c, binary.BigEndian, &nameLen); err != nil {
		return "", nil, err
	}
	nameBytes := make([]byte, nameLen)
	if _, err = io.ReadFull(c, nameBytes); err != nil {
		return "", nil, err
	}

	var valueLen uint16
	if err = binary.Read(c, binary.BigEndian, &valueLen); err != nil {
		return "", nil, err
	}
	value = make([]byte, valueLen)
	if _, err = io.ReadFull(c, value); err != nil {
		return "", nil, err
	}
	return string(nameBytes), value, nil
}

func parseValue(tag ippattr.Tag, raw []byte) (ippattr.Value, error) {
	switch tag {
	case ippattr.TagInteger, ippattr.TagEnum:
		if len(raw) != 4 {
			return ippattr.Value{}, fmt.Errorf("integer value must be 4 bytes, got %d", len(raw))
		}
		return ippattr.Value{Tag: tag, Ints: []int32{int32(binary.BigEndian.Uint32(raw))}}, nil
	case ippattr.TagBoolean:
		if len(raw) != 1 {
			return ippattr.Value{}, fmt.Errorf("boolean value must be 1 byte, got %d", len(raw))
		}
		return ippattr.Value{Tag: tag, Bools: []bool{raw[0] != 0}}, nil
	case ippattr.TagResolution:
		if len(raw) != 9 {
			return ippattr.Value{}, fmt.Errorf("resolution value must be 9 bytes, got %d", len(raw))
		}
		return ippattr.Value{Tag: tag, Resolutions: []ippattr.Resolution{{
			X:     int(int32(binary.BigEndian.Uint32(raw[0:4]))),
			Y:     int(int32(binary.BigEndian.Uint32(raw[4:8]))),
			Units: raw[8],
		}}}, nil
	case ippattr.TagUnsupported, ippattr.TagUnknown, ippattr.TagNoValue:
		return ippattr.Value{Tag: tag}, nil
	default:
		return ippattr.Value{Tag: tag, Strings: []string{string(raw)}}, nil
	}
}

// mergeValue appends an additional-value occurrence onto an existing
// attribute of the same tag family; when existing is the zero Value, next
// is returned as is.
func mergeValue(existing, next ippattr.Value) ippattr.Value {
	if existing.Tag == 0 {
		return next
	}
	existing.Ints = append(existing.Ints, next.Ints...)
	existing.Bools = append(existing.Bools, next.Bools...)
	existing.Strings = append(existing.Strings, next.Strings...)
	existing.Resolutions = append(existing.Resolutions, next.Resolutions...)
	existing.Collections = append(existing.Collections, next.Collections...)
	return existing
}
