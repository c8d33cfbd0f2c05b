package reactor

import "time"

// timeout is a node of the intrusive timeout list. A zero at means disarmed.
type timeout struct {
	at   time.Time
	cb   TimeoutFunc
	ctx  any
	prev *timeout
	next *timeout
	list *timeoutList
	born uint64 // pass during which it was added
}

func (t *timeout) armed() bool { return !t.at.IsZero() }

// timeoutList keeps timeouts in insertion order. Deadline order is
// recomputed by a full scan each iteration.
type timeoutList struct {
	head *timeout
	tail *timeout
	n    int
	// cursor is the next node fireExpired visits; remove keeps it valid.
	cursor *timeout
	pass   uint64
}

func (l *timeoutList) len() int { return l.n }

func (l *timeoutList) push(t *timeout) {
	t.list = l
	t.born = l.pass
	t.next = nil
	t.prev = l.tail
	if l.tail == nil {
		l.head = t
	} else {
		l.tail.next = t
	}
	l.tail = t
	l.n++
}

func (l *timeoutList) remove(t *timeout) {
	if l.cursor == t {
		l.cursor = t.next
	}
	switch {
	case l.head == t && l.tail == t:
		l.head, l.tail = nil, nil
	case l.head == t:
		l.head = t.next
		t.next.prev = nil
	case l.tail == t:
		l.tail = t.prev
		t.prev.next = nil
	default:
		t.prev.next = t.next
		t.next.prev = t.prev
	}
	t.prev, t.next, t.list = nil, nil, nil
	t.cb, t.ctx = nil, nil
	l.n--
}

// earliest returns the smallest armed trigger time.
func (l *timeoutList) earliest() (time.Time, bool) {
	var (
		min   time.Time
		found bool
	)
	for t := l.head; t != nil; t = t.next {
		if t.armed() && (!found || t.at.Before(min)) {
			min, found = t.at, true
		}
	}
	return min, found
}

// fireExpired disarms and runs every armed timeout due at or before now, in
// list order. Callbacks may add or remove any timeout while the pass runs;
// timeouts added during the pass wait for the next one.
func (l *timeoutList) fireExpired(now time.Time, fire func(*timeout)) {
	l.pass++
	for t := l.head; t != nil; t = l.cursor {
		l.cursor = t.next
		if t.born != l.pass && t.armed() && !t.at.After(now) {
			t.at = time.Time{}
			fire(t)
		}
	}
	l.cursor = nil
}
