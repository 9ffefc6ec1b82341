package codec

// RouteDict maps routes to the short codes negotiated at handshake time.
// A RouteDict is read-only once built; a nil *RouteDict knows no routes.
type RouteDict struct {
	codes  map[string]uint16
	routes map[uint16]string
}

// NewRouteDict builds a dictionary from route->code pairs. Duplicate codes keep
// the first route seen in map order, so callers should supply unique codes.
func NewRouteDict(dict map[string]uint16) *RouteDict {
	d := &RouteDict{
		codes:  make(map[string]uint16, len(dict)),
		routes: make(map[uint16]string, len(dict)),
	}
	for route, code := range dict {
		if _, taken := d.routes[code]; taken {
			continue
		}
		d.codes[route] = code
		d.routes[code] = route
	}
	return d
}

func (d *RouteDict) Code(route string) (uint16, bool) {
	if d == nil {
		return 0, false
	}
	code, ok := d.codes[route]
	return code, ok
}

func (d *RouteDict) Route(code uint16) (string, bool) {
	if d == nil {
		return "", false
	}
	route, ok := d.routes[code]
	return route, ok
}

func (d *RouteDict) Len() int {
	if d == nil {
		return 0
	}
	return len(d.codes)
}

// Map returns a copy of the route->code pairs, suitable for a handshake body.
func (d *RouteDict) Map() map[string]uint16 {
	out := make(map[string]uint16, d.Len())
	if d == nil {
		return out
	}
	for route, code := range d.codes {
		out[route] = code
	}
	return out
}
