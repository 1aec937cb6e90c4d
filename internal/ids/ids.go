// ABOUTME: Per-process-unique id generation for orders, bookings, complaints, escalations
// ABOUTME: Combines wall-clock millis with an atomic counter so same-instant ids never collide

package ids

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Well-known entity prefixes.
const (
	PrefixOrder      = "ORD"
	PrefixBooking    = "BKG"
	PrefixComplaint  = "CMP"
	PrefixEscalation = "ESC"
)

// Generator issues ids of the form PREFIX-<unix-millis>-<sequence>. The
// sequence alone guarantees per-process uniqueness; the timestamp keeps ids
// roughly sortable and human-dateable.
type Generator struct {
	seq atomic.Uint64
}

// NewGenerator returns a Generator starting at sequence zero.
func NewGenerator() *Generator {
	return &Generator{}
}

// Next returns the next id for the given prefix.
func (g *Generator) Next(prefix string) string {
	seq := g.seq.Add(1)
	return fmt.Sprintf("%s-%d-%04d", prefix, time.Now().UnixMilli(), seq)
}
