package gateway

import (
	"fmt"
	"strings"
)

// URIScheme is the fixed scheme for gateway resource identifiers.
const URIScheme = "companion"

// ResourceURI is a parsed companion://category/type[/id] identifier.
// The segment after the scheme is a category label, not a network host, so
// these identifiers must never go through general-purpose URL parsing —
// host/port normalization would corrupt the category field.
type ResourceURI struct {
	Category string
	Type     string
	ID       string
}

// ParseResourceURI splits a raw identifier into its components. Identifiers
// have two or three segments after the scheme; anything else is malformed.
func ParseResourceURI(raw string) (ResourceURI, error) {
	prefix := URIScheme + "://"
	if !strings.HasPrefix(raw, prefix) {
		return ResourceURI{}, fmt.Errorf("identifier %q does not use the %s scheme", raw, URIScheme)
	}

	rest := strings.TrimPrefix(raw, prefix)
	if rest == "" || strings.HasPrefix(rest, "/") {
		return ResourceURI{}, fmt.Errorf("identifier %q has an empty category", raw)
	}

	segments := strings.Split(rest, "/")
	for _, seg := range segments {
		if seg == "" {
			return ResourceURI{}, fmt.Errorf("identifier %q contains an empty segment", raw)
		}
	}

	switch len(segments) {
	case 2:
		return ResourceURI{Category: segments[0], Type: segments[1]}, nil
	case 3:
		return ResourceURI{Category: segments[0], Type: segments[1], ID: segments[2]}, nil
	default:
		return ResourceURI{}, fmt.Errorf("identifier %q must have 2 or 3 segments, got %d", raw, len(segments))
	}
}

// String reassembles the identifier from its components.
func (u ResourceURI) String() string {
	s := URIScheme + "://" + u.Category + "/" + u.Type
	if u.ID != "" {
		s += "/" + u.ID
	}
	return s
}
