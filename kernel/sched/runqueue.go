package sched

import "sync"

// RunQueue holds all Ready threads of one CPU, ordered by virtual runtime
// in a red-black tree. The currently executing thread is referenced here
// but is never in the tree. One lock protects the tree and the aggregate
// fields for the duration of each insert/remove/pick.
type RunQueue struct {
	mu sync.Mutex

	root    *Thread
	current *Thread

	nrRunning  int
	loadWeight uint64
	// minVruntime is a monotonic floor; newly inserted threads are raised
	// to it so a long-blocked thread cannot starve the queue on wake.
	minVruntime uint64
	lastUpdate  uint64
	tickCount   uint64
}

// NrRunning returns the number of threads in the tree.
func (rq *RunQueue) NrRunning() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.nrRunning
}

// LoadWeight returns the aggregate weight of enqueued threads.
func (rq *RunQueue) LoadWeight() uint64 {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.loadWeight
}

// MinVRuntime returns the monotonic minimum-vruntime watermark.
func (rq *RunQueue) MinVRuntime() uint64 {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.minVruntime
}

// Current returns the thread executing on this CPU, nil when idle.
func (rq *RunQueue) Current() *Thread {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.current
}

// Insert raises the thread's vruntime to the queue watermark and links it
// into the tree.
func (rq *RunQueue) Insert(t *Thread) {
	rq.mu.Lock()
	rq.insert(t)
	rq.mu.Unlock()
}

// Remove unlinks the thread from the tree.
func (rq *RunQueue) Remove(t *Thread) {
	rq.mu.Lock()
	rq.remove(t)
	rq.mu.Unlock()
}

// PickNext returns the minimum-vruntime thread without removing it, or nil
// if the tree is empty.
func (rq *RunQueue) PickNext() *Thread {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.pickNext()
}

func (rq *RunQueue) insert(t *Thread) {
	if t.onRQ {
		return
	}
	if t.vruntime < rq.minVruntime {
		t.vruntime = rq.minVruntime
	}

	link := &rq.root
	var parent *Thread
	for *link != nil {
		parent = *link
		if t.vruntime < parent.vruntime {
			link = &parent.left
		} else {
			link = &parent.right
		}
	}
	t.left, t.right = nil, nil
	t.parent = parent
	t.red = true
	*link = t
	rq.insertFixup(t)

	t.onRQ = true
	t.rq = rq
	rq.nrRunning++
	rq.loadWeight += t.weight
}

func (rq *RunQueue) pickNext() *Thread {
	n := rq.root
	if n == nil {
		return nil
	}
	for n.left != nil {
		n = n.left
	}
	return n
}

func (rq *RunQueue) remove(t *Thread) {
	if !t.onRQ || t.rq != rq {
		return
	}
	rq.removeNode(t)
	t.onRQ = false
	t.rq = nil
	rq.nrRunning--
	rq.loadWeight -= t.weight
}

func isRed(n *Thread) bool { return n != nil && n.red }

func (rq *RunQueue) rotateLeft(x *Thread) {
	y := x.right
	x.right = y.left
	if y.left != nil {
		y.left.parent = x
	}
	y.parent = x.parent
	switch {
	case x.parent == nil:
		rq.root = y
	case x == x.parent.left:
		x.parent.left = y
	default:
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (rq *RunQueue) rotateRight(y *Thread) {
	x := y.left
	y.left = x.right
	if x.right != nil {
		x.right.parent = y
	}
	x.parent = y.parent
	switch {
	case y.parent == nil:
		rq.root = x
	case y == y.parent.left:
		y.parent.left = x
	default:
		y.parent.right = x
	}
	x.right = y
	y.parent = x
}

func (rq *RunQueue) insertFixup(n *Thread) {
	for isRed(n.parent) {
		parent := n.parent
		gparent := parent.parent
		if parent == gparent.left {
			uncle := gparent.right
			if isRed(uncle) {
				uncle.red = false
				parent.red = false
				gparent.red = true
				n = gparent
				continue
			}
			if n == parent.right {
				rq.rotateLeft(parent)
				n, parent = parent, n
			}
			parent.red = false
			gparent.red = true
			rq.rotateRight(gparent)
		} else {
			uncle := gparent.left
			if isRed(uncle) {
				uncle.red = false
				parent.red = false
				gparent.red = true
				n = gparent
				continue
			}
			if n == parent.left {
				rq.rotateRight(parent)
				n, parent = parent, n
			}
			parent.red = false
			gparent.red = true
			rq.rotateLeft(gparent)
		}
	}
	rq.root.red = false
}

// transplant replaces the subtree rooted at u with the one rooted at v.
func (rq *RunQueue) transplant(u, v *Thread) {
	switch {
	case u.parent == nil:
		rq.root = v
	case u == u.parent.left:
		u.parent.left = v
	default:
		u.parent.right = v
	}
	if v != nil {
		v.parent = u.parent
	}
}

// removeNode excises z with the full delete fixup, so tree height bounds
// survive arbitrary churn. A two-child node is replaced structurally by
// its in-order successor rather than by key swapping, so the removed
// thread itself always leaves the tree.
func (rq *RunQueue) removeNode(z *Thread) {
	var x, xParent *Thread
	yRed := z.red

	switch {
	case z.left == nil:
		x, xParent = z.right, z.parent
		rq.transplant(z, z.right)
	case z.right == nil:
		x, xParent = z.left, z.parent
		rq.transplant(z, z.left)
	default:
		y := z.right
		for y.left != nil {
			y = y.left
		}
		yRed = y.red
		x = y.right
		if y.parent == z {
			xParent = y
		} else {
			xParent = y.parent
			rq.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		rq.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.red = z.red
	}

	if !yRed {
		rq.removeFixup(x, xParent)
	}
	z.parent, z.left, z.right = nil, nil, nil
	z.red = false
}

func (rq *RunQueue) removeFixup(x, parent *Thread) {
	for x != rq.root && !isRed(x) {
		if parent == nil {
			break
		}
		if x == parent.left {
			sib := parent.right
			if isRed(sib) {
				sib.red = false
				parent.red = true
				rq.rotateLeft(parent)
				sib = parent.right
			}
			if !isRed(sib.left) && !isRed(sib.right) {
				sib.red = true
				x = parent
				parent = x.parent
				continue
			}
			if !isRed(sib.right) {
				sib.left.red = false
				sib.red = true
				rq.rotateRight(sib)
				sib = parent.right
			}
			sib.red = parent.red
			parent.red = false
			sib.right.red = false
			rq.rotateLeft(parent)
			x = rq.root
			parent = nil
		} else {
			sib := parent.left
			if isRed(sib) {
				sib.red = false
				parent.red = true
				rq.rotateRight(parent)
				sib = parent.left
			}
			if !isRed(sib.left) && !isRed(sib.right) {
				sib.red = true
				x = parent
				parent = x.parent
				continue
			}
			if !isRed(sib.left) {
				sib.right.red = false
				sib.red = true
				rq.rotateLeft(sib)
				sib = parent.left
			}
			sib.red = parent.red
			parent.red = false
			sib.left.red = false
			rq.rotateRight(parent)
			x = rq.root
			parent = nil
		}
	}
	if x != nil {
		x.red = false
	}
}

// nextInOrder walks the tree in vruntime order.
func nextInOrder(n *Thread) *Thread {
	if n == nil {
		return nil
	}
	if n.right != nil {
		n = n.right
		for n.left != nil {
			n = n.left
		}
		return n
	}
	parent := n.parent
	for parent != nil && n == parent.right {
		n = parent
		parent = parent.parent
	}
	return parent
}
