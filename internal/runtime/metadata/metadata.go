package metadata

import "fmt"

// Metadata holds the string headers carried by an envelope.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the headers. It never returns nil.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a cloned map containing the supplied entries.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// New constructs headers from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// Stringify coerces an arbitrary value into a header value.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

// FromAny converts a decoded map into headers, coercing every value to a
// string. It accepts the map shapes produced by msgpack and JSON decoders.
func FromAny(v any) (Metadata, bool) {
	switch t := v.(type) {
	case Metadata:
		return t.Clone(), true
	case map[string]string:
		return Metadata(t).Clone(), true
	case map[string]any:
		md := make(Metadata, len(t))
		for k, val := range t {
			md[k] = Stringify(val)
		}
		return md, true
	case map[any]any:
		md := make(Metadata, len(t))
		for k, val := range t {
			md[Stringify(k)] = Stringify(val)
		}
		return md, true
	default:
		return nil, false
	}
}
