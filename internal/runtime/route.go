package runtime

import (
	"fmt"
	"strings"

	errspkg "github.com/drblury/eventmesh/internal/runtime/errors"
)

var doubledSeparators = []string{"..", "__", "--"}

// ValidateRoute checks a route name: lowercase letters, digits, '.', '_' and
// '-', at least one '.', no leading or trailing separator and no doubled
// separator.
func ValidateRoute(route string) error {
	if route == "" {
		return errspkg.ErrRouteRequired
	}
	for _, c := range route {
		if !isRouteChar(c) {
			return fmt.Errorf("%w: %q contains %q", errspkg.ErrInvalidRoute, route, c)
		}
	}
	if !strings.Contains(route, ".") {
		return fmt.Errorf("%w: %q must contain a '.'", errspkg.ErrInvalidRoute, route)
	}
	if isSeparator(route[0]) || isSeparator(route[len(route)-1]) {
		return fmt.Errorf("%w: %q must not start or end with a separator", errspkg.ErrInvalidRoute, route)
	}
	for _, sep := range doubledSeparators {
		if strings.Contains(route, sep) {
			return fmt.Errorf("%w: %q contains %q", errspkg.ErrInvalidRoute, route, sep)
		}
	}
	return nil
}

func isRouteChar(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '.' || c == '_' || c == '-'
}

func isSeparator(c byte) bool {
	return c == '.' || c == '_' || c == '-'
}
