package sched

// WaitList is an intrusive singly-linked list of threads parked on a
// kernel object. A thread is on at most one wait list at a time; callers
// provide their own lock around Push/Pop/Remove.
type WaitList struct {
	head *Thread
}

// Push links t at the head. Returns false if t is already parked.
func (w *WaitList) Push(t *Thread) bool {
	if t == nil || t.onWait {
		return false
	}
	t.onWait = true
	t.waitNext = w.head
	w.head = t
	return true
}

// Pop unlinks and returns the most recently parked thread, or nil.
func (w *WaitList) Pop() *Thread {
	t := w.head
	if t != nil {
		w.head = t.waitNext
		t.waitNext = nil
		t.onWait = false
	}
	return t
}

// Remove unlinks t wherever it sits in the list.
func (w *WaitList) Remove(t *Thread) {
	if t == nil || !t.onWait {
		return
	}
	for pp := &w.head; *pp != nil; pp = &(*pp).waitNext {
		if *pp == t {
			*pp = t.waitNext
			t.waitNext = nil
			t.onWait = false
			return
		}
	}
	t.onWait = false
}

// Empty reports whether no thread is parked.
func (w *WaitList) Empty() bool { return w.head == nil }
