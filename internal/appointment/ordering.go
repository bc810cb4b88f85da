package appointment

import (
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
)

const orderStripes = 64

// appointmentLocks serialises commit plus publish per appointment so events
// leave this process in the order their changes were committed.
type appointmentLocks struct {
	stripes [orderStripes]sync.Mutex
}

func (l *appointmentLocks) lock(id uuid.UUID) func() {
	h := fnv.New32a()
	_, _ = h.Write(id[:])
	m := &l.stripes[h.Sum32()%orderStripes]
	m.Lock()
	return m.Unlock
}
