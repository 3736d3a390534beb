// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

package routewire

// Point is a latitude-longitude pair in units of 1e-7 degree.
type Point struct {
	Latitude  int32 // field 1
	Longitude int32 // field 2
}

// AppendWire appends the protobuf encoding of p to b.
func (p *Point) AppendWire(b []byte) []byte {
	b = appendInt32(b, 1, p.Latitude)
	b = appendInt32(b, 2, p.Longitude)
	return b
}

// UnmarshalWire decodes p from protobuf wire data, resetting all fields.
func (p *Point) UnmarshalWire(data []byte) error {
	*p = Point{}
	for len(data) > 0 {
		num, typ, n, err := consumeField("Point", data)
		if err != nil {
			return err
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowireVarint:
			v, n, err := consumeVarint("Point.latitude", data)
			if err != nil {
				return err
			}
			p.Latitude = int32(v)
			data = data[n:]
		case num == 2 && typ == protowireVarint:
			v, n, err := consumeVarint("Point.longitude", data)
			if err != nil {
				return err
			}
			p.Longitude = int32(v)
			data = data[n:]
		default:
			n, err := skipField("Point", data, num, typ)
			if err != nil {
				return err
			}
			data = data[n:]
		}
	}
	return nil
}

// Equal reports exact integer equality of both coordinates.
func (p *Point) Equal(o *Point) bool {
	return p.Latitude == o.Latitude && p.Longitude == o.Longitude
}

// Rectangle is a latitude-longitude box. The lo/hi corners carry no
// ordering guarantee; consumers normalize before testing containment.
type Rectangle struct {
	Lo *Point // field 1
	Hi *Point // field 2
}

func (r *Rectangle) AppendWire(b []byte) []byte {
	if r.Lo != nil {
		b = appendMessage(b, 1, r.Lo.AppendWire(nil))
	}
	if r.Hi != nil {
		b = appendMessage(b, 2, r.Hi.AppendWire(nil))
	}
	return b
}

func (r *Rectangle) UnmarshalWire(data []byte) error {
	*r = Rectangle{}
	for len(data) > 0 {
		num, typ, n, err := consumeField("Rectangle", data)
		if err != nil {
			return err
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowireBytes:
			body, n, err := consumeBytes("Rectangle.lo", data)
			if err != nil {
				return err
			}
			r.Lo = new(Point)
			if err := r.Lo.UnmarshalWire(body); err != nil {
				return err
			}
			data = data[n:]
		case num == 2 && typ == protowireBytes:
			body, n, err := consumeBytes("Rectangle.hi", data)
			if err != nil {
				return err
			}
			r.Hi = new(Point)
			if err := r.Hi.UnmarshalWire(body); err != nil {
				return err
			}
			data = data[n:]
		default:
			n, err := skipField("Rectangle", data, num, typ)
			if err != nil {
				return err
			}
			data = data[n:]
		}
	}
	return nil
}

// Feature is a named location. Name may be empty for anonymous features;
// a Feature without a Location is malformed (the location carries the
// identity of the lookup).
type Feature struct {
	Name     string // field 1
	Location *Point // field 2
}

func (f *Feature) AppendWire(b []byte) []byte {
	b = appendString(b, 1, f.Name)
	if f.Location != nil {
		b = appendMessage(b, 2, f.Location.AppendWire(nil))
	}
	return b
}

func (f *Feature) UnmarshalWire(data []byte) error {
	*f = Feature{}
	for len(data) > 0 {
		num, typ, n, err := consumeField("Feature", data)
		if err != nil {
			return err
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowireBytes:
			body, n, err := consumeBytes("Feature.name", data)
			if err != nil {
				return err
			}
			f.Name = string(body)
			data = data[n:]
		case num == 2 && typ == protowireBytes:
			body, n, err := consumeBytes("Feature.location", data)
			if err != nil {
				return err
			}
			f.Location = new(Point)
			if err := f.Location.UnmarshalWire(body); err != nil {
				return err
			}
			data = data[n:]
		default:
			n, err := skipField("Feature", data, num, typ)
			if err != nil {
				return err
			}
			data = data[n:]
		}
	}
	return nil
}

// RouteNote is a message tagged with the location it was sent from.
type RouteNote struct {
	Location *Point // field 1
	Message  string // field 2
}

func (n *RouteNote) AppendWire(b []byte) []byte {
	if n.Location != nil {
		b = appendMessage(b, 1, n.Location.AppendWire(nil))
	}
	b = appendString(b, 2, n.Message)
	return b
}

func (n *RouteNote) UnmarshalWire(data []byte) error {
	*n = RouteNote{}
	for len(data) > 0 {
		num, typ, sz, err := consumeField("RouteNote", data)
		if err != nil {
			return err
		}
		data = data[sz:]
		switch {
		case num == 1 && typ == protowireBytes:
			body, sz, err := consumeBytes("RouteNote.location", data)
			if err != nil {
				return err
			}
			n.Location = new(Point)
			if err := n.Location.UnmarshalWire(body); err != nil {
				return err
			}
			data = data[sz:]
		case num == 2 && typ == protowireBytes:
			body, sz, err := consumeBytes("RouteNote.message", data)
			if err != nil {
				return err
			}
			n.Message = string(body)
			data = data[sz:]
		default:
			sz, err := skipField("RouteNote", data, num, typ)
			if err != nil {
				return err
			}
			data = data[sz:]
		}
	}
	return nil
}

// RouteSummary is the aggregate returned at the end of a RecordRoute call.
// Distance is in meters, truncated from the floating-point haversine total;
// ElapsedTime is wall-clock seconds from first point to end-of-stream.
type RouteSummary struct {
	PointCount   int32 // field 1
	FeatureCount int32 // field 2
	Distance     int32 // field 3
	ElapsedTime  int32 // field 4
}

func (s *RouteSummary) AppendWire(b []byte) []byte {
	b = appendInt32(b, 1, s.PointCount)
	b = appendInt32(b, 2, s.FeatureCount)
	b = appendInt32(b, 3, s.Distance)
	b = appendInt32(b, 4, s.ElapsedTime)
	return b
}

func (s *RouteSummary) UnmarshalWire(data []byte) error {
	*s = RouteSummary{}
	for len(data) > 0 {
		num, typ, n, err := consumeField("RouteSummary", data)
		if err != nil {
			return err
		}
		data = data[n:]
		if typ != protowireVarint || num < 1 || num > 4 {
			n, err := skipField("RouteSummary", data, num, typ)
			if err != nil {
				return err
			}
			data = data[n:]
			continue
		}
		v, n, err := consumeVarint("RouteSummary", data)
		if err != nil {
			return err
		}
		switch num {
		case 1:
			s.PointCount = int32(v)
		case 2:
			s.FeatureCount = int32(v)
		case 3:
			s.Distance = int32(v)
		case 4:
			s.ElapsedTime = int32(v)
		}
		data = data[n:]
	}
	return nil
}
