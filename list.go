package pipedispatch

// callNode is one entry of a callList.
type callNode struct {
	h    Handler
	next *callNode
}

// callList is a singly-linked list of call-result registrations. New entries
// go to the front, so a scan visits the most recent registration first.
type callList struct {
	head *callNode
	n    int
}

func (l *callList) pushFront(h Handler) {
	l.head = &callNode{h: h, next: l.head}
	l.n++
}

// remove unlinks the first entry whose handler is h.
func (l *callList) remove(h Handler) bool {
	return l.unlink(func(n *callNode) bool { return n.h == h })
}

// erase unlinks node n if it is still in the list.
func (l *callList) erase(n *callNode) bool {
	return l.unlink(func(c *callNode) bool { return c == n })
}

func (l *callList) unlink(match func(*callNode) bool) bool {
	if l.head == nil {
		return false
	}
	if match(l.head) {
		l.head = l.head.next
		l.n--
		return true
	}
	for prev := l.head; prev.next != nil; prev = prev.next {
		if match(prev.next) {
			prev.next = prev.next.next
			l.n--
			return true
		}
	}
	return false
}

// collect returns the nodes whose handler matches, in list order.
func (l *callList) collect(match func(Handler) bool) []*callNode {
	var out []*callNode
	for n := l.head; n != nil; n = n.next {
		if match(n.h) {
			out = append(out, n)
		}
	}
	return out
}

func (l *callList) len() int { return l.n }

func (l *callList) handlers() []Handler {
	out := make([]Handler, 0, l.n)
	for n := l.head; n != nil; n = n.next {
		out = append(out, n.h)
	}
	return out
}

// callbackList is the ordered broadcast registration list. Mutations build a
// new slice, so a snapshot taken before an invocation stays valid even if the
// handler unregisters itself or others.
type callbackList struct {
	hs []Handler
}

func (l *callbackList) add(h Handler) {
	next := make([]Handler, len(l.hs), len(l.hs)+1)
	copy(next, l.hs)
	l.hs = append(next, h)
}

// remove drops the first entry whose handler is h, keeping the order of the
// survivors.
func (l *callbackList) remove(h Handler) bool {
	for i, c := range l.hs {
		if c != h {
			continue
		}
		next := make([]Handler, 0, len(l.hs)-1)
		next = append(next, l.hs[:i]...)
		l.hs = append(next, l.hs[i+1:]...)
		return true
	}
	return false
}

func (l *callbackList) snapshot() []Handler { return l.hs }

func (l *callbackList) len() int { return len(l.hs) }
