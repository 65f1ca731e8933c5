package orderbook

// Child slots. Every rebalancing case has a mirror image, so the code is
// written once against a direction d and its opposite 1-d.
const (
	lo = 0
	hi = 1
)

type node struct {
	key    int64
	level  *PriceLevel
	red    bool
	child  [2]*node
	parent *node
}

// RBTree is a red-black tree of price levels keyed by tick. The sentinel
// leaf is shared and always black.
type RBTree struct {
	root *node
	nil  *node
	size int
}

func NewRBTree() *RBTree {
	leaf := &node{}
	return &RBTree{root: leaf, nil: leaf}
}

func (t *RBTree) Size() int { return t.size }

func (t *RBTree) Find(key int64) *PriceLevel {
	n, _ := t.locate(key)
	if n == t.nil {
		return nil
	}
	return n.level
}

// Upsert returns the level at key, creating it with mk when absent.
func (t *RBTree) Upsert(key int64, mk func() *PriceLevel) *PriceLevel {
	n, parent := t.locate(key)
	if n != t.nil {
		return n.level
	}

	n = &node{key: key, level: mk(), red: true, parent: parent}
	n.child[lo], n.child[hi] = t.nil, t.nil
	if parent == t.nil {
		t.root = n
	} else {
		parent.child[side(key, parent.key)] = n
	}
	t.rebalanceInsert(n)
	t.size++
	return n.level
}

func (t *RBTree) Delete(key int64) bool {
	n, _ := t.locate(key)
	if n == t.nil {
		return false
	}
	t.unlink(n)
	t.size--
	return true
}

func (t *RBTree) Min() *PriceLevel { return t.edge(lo) }

func (t *RBTree) Max() *PriceLevel { return t.edge(hi) }

func (t *RBTree) Ascend(fn func(*PriceLevel) bool) { t.walk(lo, fn) }

func (t *RBTree) Descend(fn func(*PriceLevel) bool) { t.walk(hi, fn) }

func side(key, at int64) int {
	if key < at {
		return lo
	}
	return hi
}

// locate returns the node holding key, or the sentinel and the parent a new
// node for key would hang from.
func (t *RBTree) locate(key int64) (n, parent *node) {
	n, parent = t.root, t.nil
	for n != t.nil && n.key != key {
		parent = n
		n = n.child[side(key, n.key)]
	}
	return n, parent
}

func (t *RBTree) edge(d int) *PriceLevel {
	n := t.extreme(t.root, d)
	if n == t.nil {
		return nil
	}
	return n.level
}

func (t *RBTree) walk(from int, fn func(*PriceLevel) bool) {
	for n := t.extreme(t.root, from); n != t.nil; n = t.step(n, 1-from) {
		if !fn(n.level) {
			return
		}
	}
}

// extreme follows child[d] from n to the end.
func (t *RBTree) extreme(n *node, d int) *node {
	if n == t.nil {
		return n
	}
	for n.child[d] != t.nil {
		n = n.child[d]
	}
	return n
}

// step moves to the in-order neighbour of n in direction d.
func (t *RBTree) step(n *node, d int) *node {
	if n.child[d] != t.nil {
		return t.extreme(n.child[d], 1-d)
	}
	p := n.parent
	for p != t.nil && n == p.child[d] {
		n, p = p, p.parent
	}
	return p
}

func (t *RBTree) dir(n *node) int {
	if n == n.parent.child[lo] {
		return lo
	}
	return hi
}

// replace puts v where u hangs from u's parent.
func (t *RBTree) replace(u, v *node) {
	if u.parent == t.nil {
		t.root = v
	} else {
		u.parent.child[t.dir(u)] = v
	}
	v.parent = u.parent
}

// rotate turns x down toward d, lifting its 1-d child into its place.
func (t *RBTree) rotate(x *node, d int) {
	y := x.child[1-d]
	x.child[1-d] = y.child[d]
	if y.child[d] != t.nil {
		y.child[d].parent = x
	}
	t.replace(x, y)
	y.child[d] = x
	x.parent = y
}

func (t *RBTree) rebalanceInsert(n *node) {
	for n.parent.red {
		p := n.parent
		g := p.parent
		d := t.dir(p)
		if uncle := g.child[1-d]; uncle.red {
			p.red, uncle.red, g.red = false, false, true
			n = g
			continue
		}
		if n == p.child[1-d] {
			n = p
			t.rotate(n, d)
			p = n.parent
		}
		p.red, g.red = false, true
		t.rotate(g, 1-d)
	}
	t.root.red = false
}

func (t *RBTree) unlink(z *node) {
	removedRed := z.red
	var x *node

	switch {
	case z.child[lo] == t.nil:
		x = z.child[hi]
		t.replace(z, x)
	case z.child[hi] == t.nil:
		x = z.child[lo]
		t.replace(z, x)
	default:
		succ := t.extreme(z.child[hi], lo)
		removedRed = succ.red
		x = succ.child[hi]
		if succ.parent == z {
			x.parent = succ
		} else {
			t.replace(succ, x)
			succ.child[hi] = z.child[hi]
			succ.child[hi].parent = succ
		}
		t.replace(z, succ)
		succ.child[lo] = z.child[lo]
		succ.child[lo].parent = succ
		succ.red = z.red
	}

	if !removedRed {
		t.rebalanceDelete(x)
	}
	// the sentinel's parent is scratch space during rebalancing
	t.nil.parent = nil
}

func (t *RBTree) rebalanceDelete(x *node) {
	for x != t.root && !x.red {
		d := t.dir(x)
		w := x.parent.child[1-d]
		if w.red {
			w.red, x.parent.red = false, true
			t.rotate(x.parent, d)
			w = x.parent.child[1-d]
		}
		if !w.child[lo].red && !w.child[hi].red {
			w.red = true
			x = x.parent
			continue
		}
		if !w.child[1-d].red {
			w.child[d].red, w.red = false, true
			t.rotate(w, 1-d)
			w = x.parent.child[1-d]
		}
		w.red, x.parent.red = x.parent.red, false
		w.child[1-d].red = false
		t.rotate(x.parent, d)
		x = t.root
	}
	x.red = false
}
