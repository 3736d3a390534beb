// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

package routewire

// HelloRequest carries the name to greet.
type HelloRequest struct {
	Name string // field 1
}

func (r *HelloRequest) AppendWire(b []byte) []byte {
	return appendString(b, 1, r.Name)
}

func (r *HelloRequest) UnmarshalWire(data []byte) error {
	*r = HelloRequest{}
	for len(data) > 0 {
		num, typ, n, err := consumeField("HelloRequest", data)
		if err != nil {
			return err
		}
		data = data[n:]
		if num == 1 && typ == protowireBytes {
			body, n, err := consumeBytes("HelloRequest.name", data)
			if err != nil {
				return err
			}
			r.Name = string(body)
			data = data[n:]
			continue
		}
		n, err = skipField("HelloRequest", data, num, typ)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// HelloReply carries the greeting and the server-wide order in which the
// request was served. Order values form a strict monotone sequence
// starting at 1 for the lifetime of a server process.
type HelloReply struct {
	Message string // field 1
	Order   uint32 // field 2
}

func (r *HelloReply) AppendWire(b []byte) []byte {
	b = appendString(b, 1, r.Message)
	b = appendUint32(b, 2, r.Order)
	return b
}

func (r *HelloReply) UnmarshalWire(data []byte) error {
	*r = HelloReply{}
	for len(data) > 0 {
		num, typ, n, err := consumeField("HelloReply", data)
		if err != nil {
			return err
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowireBytes:
			body, n, err := consumeBytes("HelloReply.message", data)
			if err != nil {
				return err
			}
			r.Message = string(body)
			data = data[n:]
		case num == 2 && typ == protowireVarint:
			v, n, err := consumeVarint("HelloReply.order", data)
			if err != nil {
				return err
			}
			r.Order = uint32(v)
			data = data[n:]
		default:
			n, err := skipField("HelloReply", data, num, typ)
			if err != nil {
				return err
			}
			data = data[n:]
		}
	}
	return nil
}
