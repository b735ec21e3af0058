package cluster

// disjointSet is a union-find over dense arena slots. Besides parent and
// size it keeps, per root, the number of members still in the active
// window, and a circular member list threaded through next so a finished
// set can be walked without scanning the arena.
//
// Slots are recycled through a free list once their set has been emitted.
// A set is only released as a whole, so no live slot ever points at a
// freed one.
type disjointSet struct {
	parent []int32
	size   []int32
	live   []int32 // Valid at roots only
	next   []int32
	free   []int32
}

// add creates a singleton set and returns its slot.
func (d *disjointSet) add() int32 {
	var s int32
	if n := len(d.free); n > 0 {
		s = d.free[n-1]
		d.free = d.free[:n-1]
	} else {
		s = int32(len(d.parent))
		d.parent = append(d.parent, 0)
		d.size = append(d.size, 0)
		d.live = append(d.live, 0)
		d.next = append(d.next, 0)
	}
	d.parent[s] = s
	d.size[s] = 1
	d.live[s] = 1
	d.next[s] = s
	return s
}

// find returns the root of s, compressing the path on the way.
func (d *disjointSet) find(s int32) int32 {
	root := s
	for d.parent[root] != root {
		root = d.parent[root]
	}
	for d.parent[s] != root {
		s, d.parent[s] = d.parent[s], root
	}
	return root
}

// union merges the sets containing a and b and returns the new root.
func (d *disjointSet) union(a, b int32) int32 {
	ra, rb := d.find(a), d.find(b)
	if ra == rb {
		return ra
	}
	// Union by size; ties keep the lower slot as root.
	if d.size[ra] < d.size[rb] || (d.size[ra] == d.size[rb] && rb < ra) {
		ra, rb = rb, ra
	}
	d.parent[rb] = ra
	d.size[ra] += d.size[rb]
	d.live[ra] += d.live[rb]
	d.next[ra], d.next[rb] = d.next[rb], d.next[ra]
	return ra
}

// retire marks one member of s as having left the active window and
// reports the root and whether the whole set has now left.
func (d *disjointSet) retire(s int32) (root int32, done bool) {
	root = d.find(s)
	d.live[root]--
	return root, d.live[root] == 0
}

// members appends every slot in root's set to dst.
func (d *disjointSet) members(root int32, dst []int32) []int32 {
	s := root
	for {
		dst = append(dst, s)
		s = d.next[s]
		if s == root {
			return dst
		}
	}
}

// release returns the slots to the free list.
func (d *disjointSet) release(slots []int32) {
	d.free = append(d.free, slots...)
}

// capacity returns the number of allocated slots.
func (d *disjointSet) capacity() int { return len(d.parent) }
