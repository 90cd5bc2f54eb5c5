// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package imap implements a map from disjoint address intervals to
// values.
package imap

// An Imap maps non-overlapping intervals of addresses to values of
// type V. The zero value is an empty map.
type Imap[V comparable] struct {
	tree avlTree[V]
	len  int
}

type avlNode[V comparable] struct {
	key         uint64 // Interval low
	left, right *avlNode[V]
	parent      *avlNode[V]
	heightCache int

	high  uint64
	value V
}

func (n *avlNode[V]) interval() Interval {
	return Interval{n.key, n.high}
}

// Insert maps every address in key to value, replacing any existing
// mappings in that range. Abutting intervals with equal values are
// merged.
func (m *Imap[V]) Insert(key Interval, value V) {
	if key.Empty() {
		return
	}
	low, high := key.Low, key.High

	// Find the node that overlaps or just abuts the new range. If an
	// existing range abuts the new range, we'll extend the existing
	// range.
	n := m.tree.Search(func(n *avlNode[V]) bool {
		return low <= n.high
	})
	pred := n

	// Split intervals that intersect low or high (one interval could do
	// both) and delete fully overlapping intervals.
	for n != nil && n.key < high {
		// Fetch the next node in case we delete this node.
		nNext := n.Next()

		// Make room for our new interval.
		l, h := n.interval().Subtract(Interval{low, high})
		lok := !l.Empty()
		hok := !h.Empty()
		if lok && !hok {
			// n overlaps the low end of the new interval. Adjust n's
			// high. Order doesn't change.
			n.high = l.High
		} else if !lok && hok {
			// n overlaps the high end of the new interval. Adjust n's
			// low. Order doesn't change.
			n.key = h.Low
			break
		} else if lok && hok {
			// The new interval falls in the middle of an existing
			// interval. Split the existing interval.
			if n.value == value {
				return
			}
			n.high = l.High
			n2 := m.tree.Insert(h.Low)
			n2.high, n2.value = h.High, n.value
			m.len++
			n = n2
			break
		} else {
			// The new interval covers this interval. Delete it.
			m.tree.Delete(n)
			m.len--
		}

		n = nNext
	}

	// Merge with existing intervals if possible. We already handled the
	// completely overlapping case above.
	if pred != nil && pred.high == low && pred.value == value {
		pred.high = high
		if n != nil && n.key == high && n.value == value {
			// We merged right into the successor. Extend the
			// predecessor and delete the successor.
			pred.high = n.high
			m.tree.Delete(n)
			m.len--
		}
		return
	}
	if n != nil && n.key == high && n.value == value {
		n.key = low
		return
	}

	n = m.tree.Insert(low)
	n.high, n.value = high, value
	m.len++
}

// Find returns the value at addr and the interval over which value is
// the same (which may be smaller than the interval originally
// inserted). If no interval contains addr, it returns Interval{}, the
// zero V, and false.
func (m *Imap[V]) Find(addr uint64) (key Interval, value V, ok bool) {
	n := m.tree.Search(func(n *avlNode[V]) bool {
		return addr < n.high
	})
	if n != nil && n.key <= addr {
		return n.interval(), n.value, true
	}
	return Interval{}, value, false
}

// Len returns the number of distinct intervals in m.
func (m *Imap[V]) Len() int {
	return m.len
}
