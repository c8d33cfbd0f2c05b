package reactor

import "github.com/legamerdc/reactor/poller"

type watch struct {
	fd   int
	mask Interest // what the backend was last asked for
	cb   WatchFunc
	ctx  any
	gen  uint32
	dead bool
}

// watchTable is a slot arena of watches. A slot is reused only after the
// reclaimer hands it back, and every reuse bumps its generation.
type watchTable struct {
	slots []*watch
	free  []uint32
	byFD  map[int]uint32
}

func newWatchTable() watchTable {
	return watchTable{byFD: make(map[int]uint32)}
}

func tokenFor(slot uint32, gen uint32) poller.Token {
	return poller.Token(gen)<<32 | poller.Token(slot)
}

func (t *watchTable) alloc(fd int) (uint32, *watch) {
	var (
		slot uint32
		w    *watch
	)
	if n := len(t.free); n > 0 {
		slot = t.free[n-1]
		t.free = t.free[:n-1]
		w = t.slots[slot]
	} else {
		slot = uint32(len(t.slots))
		w = &watch{gen: 1}
		t.slots = append(t.slots, w)
	}
	w.fd = fd
	w.dead = false
	t.byFD[fd] = slot
	return slot, w
}

// lookup resolves a slot and generation, dead or not.
func (t *watchTable) lookup(slot, gen uint32) *watch {
	if gen == 0 || int(slot) >= len(t.slots) {
		return nil
	}
	w := t.slots[slot]
	if w.gen != gen {
		return nil
	}
	return w
}

// get resolves a host handle to a live watch.
func (t *watchTable) get(h Watch) *watch {
	w := t.lookup(h.slot, h.gen)
	if w == nil || w.dead {
		return nil
	}
	return w
}

func (t *watchTable) resolve(tok poller.Token) (uint32, *watch) {
	slot, gen := uint32(tok), uint32(tok>>32)
	return slot, t.lookup(slot, gen)
}

// forget drops the descriptor index so the fd can be watched again at once.
func (t *watchTable) forget(w *watch, slot uint32) {
	if s, ok := t.byFD[w.fd]; ok && s == slot {
		delete(t.byFD, w.fd)
	}
}

// release returns a slot to the free list. Handles and tokens naming the
// old generation stop resolving.
func (t *watchTable) release(slot uint32) {
	w := t.slots[slot]
	t.forget(w, slot)
	w.gen++
	if w.gen == 0 {
		w.gen = 1
	}
	w.cb, w.ctx = nil, nil
	w.mask = None
	w.dead = true
	t.free = append(t.free, slot)
}

func (t *watchTable) live() int { return len(t.byFD) }
