package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// InboxPrefix starts every temporary reply route.
const InboxPrefix = "r."

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// CreateOrigin returns the identity of this runtime instance on the mesh.
func CreateOrigin() string {
	return "go" + strings.ToLower(CreateULID())
}

// CreateInboxRoute returns a unique private route name for RPC replies.
// Route names are lowercase, so the ULID is lowered.
func CreateInboxRoute() string {
	return InboxPrefix + strings.ToLower(CreateULID())
}

// IsInboxRoute reports whether route was produced by CreateInboxRoute.
func IsInboxRoute(route string) bool {
	return strings.HasPrefix(route, InboxPrefix)
}
