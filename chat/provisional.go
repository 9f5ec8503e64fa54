package chat

import (
	"sync"
	"time"
)

// ProvisionalIDThreshold separates provisional ids from server ids. Server
// ids are small sequence numbers; provisional ids are millisecond clock
// readings and stay above this value.
const ProvisionalIDThreshold int64 = 1_000_000_000_000

// IDGen hands out provisional message ids: the current Unix millisecond,
// bumped by one whenever the clock has not advanced since the last id.
// Safe for concurrent use.
type IDGen struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewIDGen creates a provisional id generator.
func NewIDGen() *IDGen {
	return &IDGen{now: time.Now}
}

// Next returns a new id, strictly greater than every id returned before.
func (g *IDGen) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.now().UnixMilli()
	if id <= g.last {
		id = g.last + 1
	}
	if id <= ProvisionalIDThreshold {
		id = ProvisionalIDThreshold + 1
	}
	g.last = id
	return id
}

// IsProvisionalID reports whether id came from an IDGen.
func IsProvisionalID(id int64) bool {
	return id > ProvisionalIDThreshold
}
