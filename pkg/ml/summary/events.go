// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package summary

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Event is one record of an event file: either the file version header or a set of scalar
// values at a step.
type Event struct {
	WallTime    float64
	Step        int64
	FileVersion string
	Values      []Value
}

// FileVersion written in the first event of every file.
const FileVersion = "brain.Event:2"

// Field numbers of the tensorflow.Event, tensorflow.Summary and tensorflow.Summary.Value
// protocol buffers.
const (
	eventWallTime    protowire.Number = 1
	eventStep        protowire.Number = 2
	eventFileVersion protowire.Number = 3
	eventSummary     protowire.Number = 5

	summaryValue protowire.Number = 1

	valueTag         protowire.Number = 1
	valueSimpleValue protowire.Number = 2
)

func marshalEvent(e *Event) []byte {
	var b []byte
	b = protowire.AppendTag(b, eventWallTime, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(e.WallTime))
	if e.Step != 0 {
		b = protowire.AppendTag(b, eventStep, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.Step))
	}
	if e.FileVersion != "" {
		b = protowire.AppendTag(b, eventFileVersion, protowire.BytesType)
		b = protowire.AppendString(b, e.FileVersion)
	}
	if len(e.Values) > 0 {
		var summary []byte
		for _, v := range e.Values {
			var value []byte
			value = protowire.AppendTag(value, valueTag, protowire.BytesType)
			value = protowire.AppendString(value, v.Tag)
			value = protowire.AppendTag(value, valueSimpleValue, protowire.Fixed32Type)
			value = protowire.AppendFixed32(value, math.Float32bits(float32(v.Value)))
			summary = protowire.AppendTag(summary, summaryValue, protowire.BytesType)
			summary = protowire.AppendBytes(summary, value)
		}
		b = protowire.AppendTag(b, eventSummary, protowire.BytesType)
		b = protowire.AppendBytes(b, summary)
	}
	return b
}

// consumeFields calls fn for each field of the message b. fn returns the number of bytes it
// consumed, or 0 to skip the field.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		n, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

func unmarshalEvent(b []byte) (*Event, error) {
	e := &Event{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == eventWallTime && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			e.WallTime = math.Float64frombits(v)
			return n, nil
		case num == eventStep && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			e.Step = int64(v)
			return n, nil
		case num == eventFileVersion && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			e.FileVersion = v
			return n, nil
		case num == eventSummary && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			values, err := unmarshalSummary(v)
			e.Values = append(e.Values, values...)
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decoding event")
	}
	return e, nil
}

func unmarshalSummary(b []byte) (values []Value, err error) {
	err = consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != summaryValue || typ != protowire.BytesType {
			return 0, nil
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		var value Value
		err := consumeFields(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			switch {
			case num == valueTag && typ == protowire.BytesType:
				s, n := protowire.ConsumeString(b)
				value.Tag = s
				return n, nil
			case num == valueSimpleValue && typ == protowire.Fixed32Type:
				f, n := protowire.ConsumeFixed32(b)
				value.Value = float64(math.Float32frombits(f))
				return n, nil
			}
			return 0, nil
		})
		values = append(values, value)
		return n, err
	})
	return
}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// maskedCRC is the checksum used by the TFRecord framing.
func maskedCRC(data []byte) uint32 {
	crc := crc32.Checksum(data, crcTable)
	return ((crc >> 15) | (crc << 17)) + 0xa282ead8
}

// writeRecord writes data with the TFRecord framing: length, masked CRC of the length, data and
// masked CRC of the data, all little-endian.
func writeRecord(w io.Writer, data []byte) error {
	header := make([]byte, 12)
	binary.LittleEndian.PutUint64(header, uint64(len(data)))
	binary.LittleEndian.PutUint32(header[8:], maskedCRC(header[:8]))
	footer := make([]byte, 4)
	binary.LittleEndian.PutUint32(footer, maskedCRC(data))
	for _, part := range [][]byte{header, data, footer} {
		if _, err := w.Write(part); err != nil {
			return err
		}
	}
	return nil
}

// readRecord reads one record written by writeRecord. It returns io.EOF at the end of r.
func readRecord(r io.Reader) ([]byte, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "reading record header")
	}
	if got, want := binary.LittleEndian.Uint32(header[8:]), maskedCRC(header[:8]); got != want {
		return nil, errors.Errorf("corrupted record header: crc %#x, expected %#x", got, want)
	}
	length := binary.LittleEndian.Uint64(header)
	const maxRecordLength = 1 << 30
	if length > maxRecordLength {
		return nil, errors.Errorf("record length %d too large", length)
	}
	data := make([]byte, length+4)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, errors.Wrap(err, "reading record")
	}
	data, footer := data[:length], data[length:]
	if got, want := binary.LittleEndian.Uint32(footer), maskedCRC(data); got != want {
		return nil, errors.Errorf("corrupted record: crc %#x, expected %#x", got, want)
	}
	return data, nil
}
