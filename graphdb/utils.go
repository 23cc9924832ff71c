package graphdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

const codecVersion = 1

// EncodeRecord converts a node or edge record to its storage form.
func EncodeRecord(rec Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(64)

	if err := buf.WriteByte(codecVersion); err != nil {
		return nil, fmt.Errorf("failed to write version: %w", err)
	}
	if rec.Kind != KindNode && rec.Kind != KindEdge {
		return nil, fmt.Errorf("unsupported record kind %d", rec.Kind)
	}
	fields := []interface{}{
		byte(rec.Kind),
		rec.ID,
		rec.Seq,
		uint32(rec.Tag),
		btoi(rec.Active),
	}
	if rec.Kind == KindEdge {
		fields = append(fields, rec.Source, rec.Target)
	}
	fields = append(fields, uint32(len(rec.Properties)))
	for _, f := range fields {
		if err := binary.Write(&buf, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("failed to write %s %d header: %w", rec.Kind, rec.ID, err)
		}
	}
	for _, kv := range rec.Properties {
		if err := writeProperty(&buf, kv); err != nil {
			return nil, fmt.Errorf("failed to serialize property %d of %s %d: %w", kv.Key, rec.Kind, rec.ID, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeRecord is the inverse of EncodeRecord.
func DecodeRecord(data []byte) (Record, error) {
	var rec Record
	if len(data) == 0 {
		return rec, fmt.Errorf("%w: empty record", ErrCorrupt)
	}
	buf := bytes.NewReader(data)

	var ver, kind, active byte
	var tag uint32
	if err := binary.Read(buf, binary.LittleEndian, &ver); err != nil {
		return rec, fmt.Errorf("%w: read version: %v", ErrCorrupt, err)
	}
	if ver != codecVersion {
		return rec, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, ver)
	}
	for _, f := range []interface{}{&kind, &rec.ID, &rec.Seq, &tag, &active} {
		if err := binary.Read(buf, binary.LittleEndian, f); err != nil {
			return rec, fmt.Errorf("%w: read record header: %v", ErrCorrupt, err)
		}
	}
	rec.Kind = ElementKind(kind)
	rec.Tag = StringID(tag)
	rec.Active = active != 0
	switch rec.Kind {
	case KindNode:
	case KindEdge:
		if err := binary.Read(buf, binary.LittleEndian, &rec.Source); err != nil {
			return rec, fmt.Errorf("%w: read source: %v", ErrCorrupt, err)
		}
		if err := binary.Read(buf, binary.LittleEndian, &rec.Target); err != nil {
			return rec, fmt.Errorf("%w: read target: %v", ErrCorrupt, err)
		}
	default:
		return rec, fmt.Errorf("%w: unsupported record kind %d", ErrCorrupt, kind)
	}

	var count uint32
	if err := binary.Read(buf, binary.LittleEndian, &count); err != nil {
		return rec, fmt.Errorf("%w: read property count: %v", ErrCorrupt, err)
	}
	if int(count) > buf.Len() {
		return rec, fmt.Errorf("%w: property count %d exceeds remaining buffer %d", ErrCorrupt, count, buf.Len())
	}
	if count > 0 {
		rec.Properties = make([]KeyValue, count)
	}
	for i := range rec.Properties {
		if err := readProperty(buf, &rec.Properties[i]); err != nil {
			return rec, fmt.Errorf("%w: property at index %d: %v", ErrCorrupt, i, err)
		}
	}
	return rec, nil
}

// EncodeBatch serializes a commit batch for the write-ahead log.
func EncodeBatch(batch CommitBatch) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, batch.Seq); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(batch.Records))); err != nil {
		return nil, err
	}
	for _, rec := range batch.Records {
		data, err := EncodeRecord(rec)
		if err != nil {
			return nil, err
		}
		if err := writeBytes(&buf, data); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func DecodeBatch(data []byte) (CommitBatch, error) {
	var batch CommitBatch
	buf := bytes.NewReader(data)
	var count uint32
	if err := binary.Read(buf, binary.LittleEndian, &batch.Seq); err != nil {
		return batch, fmt.Errorf("%w: read batch sequence: %v", ErrCorrupt, err)
	}
	if err := binary.Read(buf, binary.LittleEndian, &count); err != nil {
		return batch, fmt.Errorf("%w: read batch size: %v", ErrCorrupt, err)
	}
	if int(count) > buf.Len() {
		return batch, fmt.Errorf("%w: batch size %d exceeds remaining buffer %d", ErrCorrupt, count, buf.Len())
	}
	batch.Records = make([]Record, 0, count)
	for i := uint32(0); i < count; i++ {
		data, err := readBytes(buf)
		if err != nil {
			return batch, fmt.Errorf("%w: batch record %d: %v", ErrCorrupt, i, err)
		}
		rec, err := DecodeRecord(data)
		if err != nil {
			return batch, err
		}
		batch.Records = append(batch.Records, rec)
	}
	return batch, nil
}

// encodeString serializes an interned string record.
func encodeString(id StringID, text string) []byte {
	buf := make([]byte, 8+len(text))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(id))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(text)))
	copy(buf[8:], text)
	return buf
}

func decodeString(data []byte) (StringID, string, error) {
	if len(data) < 8 {
		return 0, "", fmt.Errorf("%w: short string record", ErrCorrupt)
	}
	id := StringID(binary.LittleEndian.Uint32(data[0:4]))
	n := binary.LittleEndian.Uint32(data[4:8])
	if int(n) > len(data)-8 {
		return 0, "", fmt.Errorf("%w: string length %d exceeds record", ErrCorrupt, n)
	}
	return id, string(data[8 : 8+n]), nil
}

// writeProperty serializes a single property
func writeProperty(buf *bytes.Buffer, kv KeyValue) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(kv.Key)); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}
	p := kv.Value
	if err := buf.WriteByte(byte(p.typ)); err != nil {
		return fmt.Errorf("failed to write type: %w", err)
	}
	switch p.typ {
	case TypeEmpty:
		return nil
	case TypeBoolean:
		return buf.WriteByte(btoi(p.b))
	case TypeInteger:
		return binary.Write(buf, binary.LittleEndian, p.i)
	case TypeFloat:
		return binary.Write(buf, binary.LittleEndian, math.Float64bits(p.f))
	case TypeString:
		return writeBytes(buf, []byte(p.s))
	}
	return fmt.Errorf("unsupported property type %d", p.typ)
}

// readProperty deserializes a single property
func readProperty(buf *bytes.Reader, kv *KeyValue) error {
	var key uint32
	if err := binary.Read(buf, binary.LittleEndian, &key); err != nil {
		return fmt.Errorf("failed to read key: %w", err)
	}
	kv.Key = StringID(key)
	typ, err := buf.ReadByte()
	if err != nil {
		return fmt.Errorf("failed to read property type: %w", err)
	}
	switch PropertyType(typ) {
	case TypeEmpty:
		kv.Value = NewEmpty()
	case TypeBoolean:
		b, err := buf.ReadByte()
		if err != nil {
			return fmt.Errorf("failed to read bool value: %w", err)
		}
		kv.Value = NewBool(b != 0)
	case TypeInteger:
		var v int64
		if err := binary.Read(buf, binary.LittleEndian, &v); err != nil {
			return fmt.Errorf("failed to read int64 value: %w", err)
		}
		kv.Value = NewInt(v)
	case TypeFloat:
		var bits uint64
		if err := binary.Read(buf, binary.LittleEndian, &bits); err != nil {
			return fmt.Errorf("failed to read float value: %w", err)
		}
		kv.Value = NewFloat(math.Float64frombits(bits))
	case TypeString:
		data, err := readBytes(buf)
		if err != nil {
			return fmt.Errorf("failed to read string value: %w", err)
		}
		kv.Value = NewString(string(data))
	default:
		return fmt.Errorf("unsupported property type %d", typ)
	}
	return nil
}

func writeBytes(buf *bytes.Buffer, data []byte) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err := buf.Write(data)
	return err
}

func readBytes(buf *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(buf, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if int(n) > buf.Len() {
		return nil, fmt.Errorf("length %d exceeds remaining buffer %d", n, buf.Len())
	}
	data := make([]byte, n)
	if _, err := buf.Read(data); err != nil {
		return nil, err
	}
	return data, nil
}

// btoi converts bool to byte (0 or 1)
func btoi(b bool) byte {
	if b {
		return 1
	}
	return 0
}
