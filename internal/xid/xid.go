package xid

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var fallbackSeq atomic.Uint64

// New returns a time-ordered UUIDv7. The prefix only shows up in the
// fallback form used when the random source fails.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), fallbackSeq.Add(1))
	}
	return id.String()
}
