package ktable

// wheel is a doubly-linked (nil-terminated) list of Nodes ordered by
// LastRequestSent, threaded through the prev/next pointers embedded in
// each Node. Popping from the head yields the least-recently-pinged
// contact, the one due for the next refresh.
type wheel struct {
	head, tail *Node
	size       int
}

// pushBack appends n to the tail of the wheel. n must not already be
// linked into any wheel.
func (w *wheel) pushBack(n *Node) {
	n.prev, n.next = nil, nil
	if w.tail == nil {
		w.head, w.tail = n, n
		w.size = 1
		return
	}
	n.prev = w.tail
	w.tail.next = n
	w.tail = n
	w.size++
}

// remove unlinks n from the wheel. n must currently be linked into it.
func (w *wheel) remove(n *Node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else if w.head == n {
		w.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else if w.tail == n {
		w.tail = n.prev
	}
	n.prev, n.next = nil, nil
	w.size--
}

// bump moves n to the tail, as if it had just been freshly touched.
func (w *wheel) bump(n *Node) {
	w.remove(n)
	w.pushBack(n)
}

// popExpired calls fn for every Node at the head of the wheel for which
// isDue reports true, removing each as it is visited, stopping at the
// first Node that is not yet due.
func (w *wheel) popExpired(isDue func(*Node) bool, fn func(*Node)) {
	for w.head != nil && isDue(w.head) {
		n := w.head
		w.remove(n)
		fn(n)
	}
}

// front returns the head of the wheel without removing it, or nil if empty.
func (w *wheel) front() *Node {
	return w.head
}

// Len returns the number of Nodes currently linked into the wheel.
func (w *wheel) Len() int {
	return w.size
}
