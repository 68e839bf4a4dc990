package topk

import (
	"math/rand/v2"

	"github.com/okian/topkboard/internal/domain/model"
)

// Treap ordered by model.Compare: in-order traversal yields the leaderboard
// from best to worst. Priorities are random so the expected depth stays
// logarithmic whatever the score distribution. Subtree sizes give rank
// lookups in O(log n).

type node struct {
	row   model.UserScore
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	fix(x)
	fix(y)
	return y
}

func insert(n *node, row model.UserScore) *node {
	if n == nil {
		return &node{row: row, prio: rand.Uint64(), size: 1}
	}
	if model.Compare(row, n.row) < 0 {
		n.left = insert(n.left, row)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, row)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

// remove deletes the node holding exactly row.
func remove(n *node, row model.UserScore) *node {
	if n == nil {
		return nil
	}
	switch c := model.Compare(row, n.row); {
	case c < 0:
		n.left = remove(n.left, row)
	case c > 0:
		n.right = remove(n.right, row)
	default:
		// Rotate the higher priority child up until the node is a leaf.
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = remove(n.right, row)
		} else {
			n = rotateLeft(n)
			n.left = remove(n.left, row)
		}
	}
	fix(n)
	return n
}

// position returns the number of rows ranked ahead of row.
func position(n *node, row model.UserScore) int {
	pos := 0
	for n != nil {
		c := model.Compare(row, n.row)
		switch {
		case c < 0:
			n = n.left
		case c > 0:
			pos += nsize(n.left) + 1
			n = n.right
		default:
			return pos + nsize(n.left)
		}
	}
	return pos
}

// collectTop appends up to limit rows in rank order.
func collectTop(n *node, limit int, out *[]model.UserScore) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTop(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, n.row)
	}
	if len(*out) < limit {
		collectTop(n.right, limit, out)
	}
}
