package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Entity prefixes keep identifiers self-describing in logs and audit trails.
const (
	PrefixOrg      = "org_"
	PrefixContract = "ctr_"
	PrefixRequest  = "req_"
	PrefixAudit    = "aud_"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewOrg returns an organization identifier.
func NewOrg() string { return PrefixOrg + New() }

// NewContract returns a contract identifier.
func NewContract() string { return PrefixContract + New() }

// NewRequest returns an access-request identifier.
func NewRequest() string { return PrefixRequest + New() }

// NewAudit returns an audit-entry identifier.
func NewAudit() string { return PrefixAudit + New() }
