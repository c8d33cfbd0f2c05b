package reactor

import "github.com/eapache/queue"

// reclaimer holds the slots of watches removed during a dispatch pass. The
// slots go back to the watch table only when the pass is over, so a stale
// event later in the same batch can never resolve to a reused slot.
type reclaimer struct {
	q *queue.Queue
}

func newReclaimer() *reclaimer {
	return &reclaimer{q: queue.New()}
}

func (r *reclaimer) hold(slot uint32) { r.q.Add(slot) }

func (r *reclaimer) pending() int { return r.q.Length() }

// drain hands every held slot to release, oldest first, and empties the
// buffer.
func (r *reclaimer) drain(release func(slot uint32)) int {
	n := 0
	for r.q.Length() > 0 {
		release(r.q.Remove().(uint32))
		n++
	}
	return n
}
