// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the ImuData protobuf message.
const (
	fieldAccX protowire.Number = iota + 1
	fieldAccY
	fieldAccZ
	fieldAccTimestamp
	fieldGyroX
	fieldGyroY
	fieldGyroZ
	fieldGyroTimestamp
	fieldMagX
	fieldMagY
	fieldMagZ
	fieldMagTimestamp
)

// DecodeError reports a payload that is not a valid ImuData message.
type DecodeError struct {
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("imu decode at byte %d: %s", e.Offset, e.Reason)
}

// Encode serializes s as a protobuf ImuData message.
// Zero-valued fields are omitted (proto3 implicit presence).
func Encode(s Sample) []byte {
	b := make([]byte, 0, 64)
	b = appendFloat(b, fieldAccX, s.AccX)
	b = appendFloat(b, fieldAccY, s.AccY)
	b = appendFloat(b, fieldAccZ, s.AccZ)
	b = appendUint32(b, fieldAccTimestamp, s.AccTimestamp)
	b = appendInt32(b, fieldGyroX, s.GyroX)
	b = appendInt32(b, fieldGyroY, s.GyroY)
	b = appendInt32(b, fieldGyroZ, s.GyroZ)
	b = appendUint32(b, fieldGyroTimestamp, s.GyroTimestamp)
	b = appendFloat(b, fieldMagX, s.MagX)
	b = appendFloat(b, fieldMagY, s.MagY)
	b = appendFloat(b, fieldMagZ, s.MagZ)
	b = appendUint32(b, fieldMagTimestamp, s.MagTimestamp)
	return b
}

func appendFloat(b []byte, num protowire.Number, v float32) []byte {
	bits := math.Float32bits(v)
	if bits == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, bits)
}

func appendUint32(b []byte, num protowire.Number, v uint32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

// int32 negatives are sign extended to 64 bits on the wire.
func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

// Decode parses a protobuf ImuData message. Absent fields decode as zero and
// unknown fields are skipped.
func Decode(b []byte) (Sample, error) {
	var s Sample
	off := 0
	for off < len(b) {
		num, typ, n := protowire.ConsumeTag(b[off:])
		if n < 0 {
			return Sample{}, decodeErr(off, "tag", n)
		}
		off += n

		switch num {
		case fieldAccX, fieldAccY, fieldAccZ, fieldMagX, fieldMagY, fieldMagZ:
			if typ != protowire.Fixed32Type {
				return Sample{}, wrongType(off, num, typ)
			}
			v, m := protowire.ConsumeFixed32(b[off:])
			if m < 0 {
				return Sample{}, decodeErr(off, fmt.Sprintf("field %d", num), m)
			}
			off += m
			s.setFloat(num, math.Float32frombits(v))

		case fieldAccTimestamp, fieldGyroTimestamp, fieldMagTimestamp,
			fieldGyroX, fieldGyroY, fieldGyroZ:
			if typ != protowire.VarintType {
				return Sample{}, wrongType(off, num, typ)
			}
			v, m := protowire.ConsumeVarint(b[off:])
			if m < 0 {
				return Sample{}, decodeErr(off, fmt.Sprintf("field %d", num), m)
			}
			off += m
			s.setVarint(num, v)

		default:
			m := protowire.ConsumeFieldValue(num, typ, b[off:])
			if m < 0 {
				return Sample{}, decodeErr(off, fmt.Sprintf("unknown field %d", num), m)
			}
			off += m
		}
	}
	return s, nil
}

func (s *Sample) setFloat(num protowire.Number, v float32) {
	switch num {
	case fieldAccX:
		s.AccX = v
	case fieldAccY:
		s.AccY = v
	case fieldAccZ:
		s.AccZ = v
	case fieldMagX:
		s.MagX = v
	case fieldMagY:
		s.MagY = v
	case fieldMagZ:
		s.MagZ = v
	}
}

// Varints are truncated to 32 bits like any proto3 (u)int32 field.
func (s *Sample) setVarint(num protowire.Number, v uint64) {
	switch num {
	case fieldAccTimestamp:
		s.AccTimestamp = uint32(v)
	case fieldGyroTimestamp:
		s.GyroTimestamp = uint32(v)
	case fieldMagTimestamp:
		s.MagTimestamp = uint32(v)
	case fieldGyroX:
		s.GyroX = int32(v)
	case fieldGyroY:
		s.GyroY = int32(v)
	case fieldGyroZ:
		s.GyroZ = int32(v)
	}
}

func decodeErr(off int, what string, n int) *DecodeError {
	return &DecodeError{Offset: off, Reason: fmt.Sprintf("%s: %v", what, protowire.ParseError(n))}
}

func wrongType(off int, num protowire.Number, typ protowire.Type) *DecodeError {
	return &DecodeError{Offset: off, Reason: fmt.Sprintf("field %d has wire type %d", num, typ)}
}
