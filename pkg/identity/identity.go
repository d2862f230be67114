package identity

import (
	"time"

	"github.com/google/uuid"
)

// Identity is the immutable identity of a single peer instance. The pair
// (CreatedAt, ID) is the peer's priority key: an older creation time wins,
// and equal creation times are broken by the lexicographically smaller id.
// Because ids are unique the resulting order is total, so any set of peers
// has exactly one highest-priority member.
type Identity struct {
	ID        string
	CreatedAt int64 // unix milliseconds at construction
}

// New generates a fresh identity. The id is never reused across instances.
func New() Identity {
	return Identity{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UnixMilli(),
	}
}

// ShouldYieldTo reports whether this peer must defer to the other peer,
// i.e. the other peer has strictly higher priority.
func (p Identity) ShouldYieldTo(otherID string, otherCreatedAt int64) bool {
	return Outranks(otherCreatedAt, otherID, p.CreatedAt, p.ID)
}

// Outranks reports whether key (aTS, aID) has strictly higher priority than
// key (bTS, bID). Every peer applies this rule identically, which is what
// guarantees elections converge on a single winner.
func Outranks(aTS int64, aID string, bTS int64, bID string) bool {
	if aTS != bTS {
		return aTS < bTS
	}
	return aID < bID
}
