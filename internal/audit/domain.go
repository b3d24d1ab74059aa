package audit

import (
	"errors"
	"time"
)

// Category groups audit entries by the subsystem that produced them.
type Category string

const (
	// CategoryInventory tags stock ledger mutations.
	CategoryInventory Category = "inventory"
	// CategoryCredit tags credit ledger mutations.
	CategoryCredit Category = "credit"
	// CategoryOrder tags order status transitions.
	CategoryOrder Category = "order"
	// CategoryAdmin tags policy and account-status changes.
	CategoryAdmin Category = "admin"
)

// Entry is one append-only audit record. Entries are never updated or
// deleted; the checksum chains each entry to the previous entry of the same
// resource so tampering is detectable.
type Entry struct {
	ID           int64
	ActorID      int64
	Action       string
	ResourceType string
	ResourceID   string
	Before       map[string]any
	After        map[string]any
	Details      string
	Category     Category
	Checksum     string
	At           time.Time
}

// TimelineFilters narrows the audit timeline query.
type TimelineFilters struct {
	ResourceType string
	Category     Category
	ActorID      int64
	From         time.Time
	To           time.Time
	Page         int
	PageSize     int
}

// PagingInfo describes timeline paging.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}

// Result bundles timeline rows with paging information.
type Result struct {
	Rows   []Entry
	Paging PagingInfo
}

// ErrIncomplete indicates an entry missing required identity fields.
var ErrIncomplete = errors.New("audit: entry requires action, resource type and resource id")
