// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

// Package routewire defines the wire messages exchanged by the route guide
// and greeter services, hand-encoded in protobuf wire format via
// [protowire] so the field numbering stays byte-compatible with the
// canonical route_guide.proto and helloworld.proto peers.
//
// All coordinates are fixed-point integers in units of 1e-7 degree; the
// scale factor is applied only for display.
package routewire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// CoordFactor converts fixed-point coordinate units to degrees.
const CoordFactor = 1e7

// Wire type aliases, to keep the per-message decoders readable.
const (
	protowireVarint = protowire.VarintType
	protowireBytes  = protowire.BytesType
)

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	// Negative int32 values are sign-extended to 64 bits on the wire.
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendUint32(b []byte, num protowire.Number, v uint32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendMessage(b []byte, num protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

// fieldError wraps a protowire consume failure with the message context.
func fieldError(msg string, err error) error {
	return fmt.Errorf("routewire: decoding %s: %w", msg, err)
}

// consumeField reads the next tag from data. It returns the field number,
// wire type, and the number of header bytes consumed.
func consumeField(msg string, data []byte) (protowire.Number, protowire.Type, int, error) {
	num, typ, n := protowire.ConsumeTag(data)
	if n < 0 {
		return 0, 0, 0, fieldError(msg, protowire.ParseError(n))
	}
	return num, typ, n, nil
}

// skipField discards an unknown field and returns the bytes consumed.
func skipField(msg string, data []byte, num protowire.Number, typ protowire.Type) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, data)
	if n < 0 {
		return 0, fieldError(msg, protowire.ParseError(n))
	}
	return n, nil
}

func consumeVarint(msg string, data []byte) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, 0, fieldError(msg, protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeBytes(msg string, data []byte) ([]byte, int, error) {
	v, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return nil, 0, fieldError(msg, protowire.ParseError(n))
	}
	return v, n, nil
}
