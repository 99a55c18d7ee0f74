package btree

import (
	"errors"
	"sort"
)

var (
	ErrOrderTooSmall = errors.New("btree: max keys per node must be at least 3")
	ErrNodeNotFull   = errors.New("btree: split requires a full node")
)

// Node is the in-memory view of one tree node. The pager owns the on-disk
// copy; a Node is only valid between a load and the next store of its page.
type Node struct {
	pageID   int // 0 until the first store; page 0 is the header, never a node
	maxKeys  int
	leaf     bool
	keys     []int
	children []int
}

// nodeEnvelope is the on-disk shape of a node.
type nodeEnvelope struct {
	PageID   int   `json:"page_id"`
	MaxKeys  int   `json:"max_keys_per_node"`
	IsLeaf   bool  `json:"is_leaf"`
	Keys     []int `json:"keys"`
	Children []int `json:"children"`
}

// NewNode creates an empty node with the given capacity.
func NewNode(maxKeys int, leaf bool) (*Node, error) {
	if maxKeys < 3 {
		return nil, ErrOrderTooSmall
	}
	return &Node{maxKeys: maxKeys, leaf: leaf}, nil
}

// PageID returns the page this node is stored on, or 0 if it has never
// been stored.
func (n *Node) PageID() int {
	return n.pageID
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return n.leaf
}

// Keys returns the node's keys in ascending order.
func (n *Node) Keys() []int {
	return n.keys
}

// Children returns the page ids of the node's children, one more than the
// number of keys on internal nodes and none on leaves.
func (n *Node) Children() []int {
	return n.children
}

// MinDegree returns t = ceil(maxKeys / 2). It fixes the split point and the
// minimum occupancy for every node below the root.
func (n *Node) MinDegree() int {
	return (n.maxKeys + 1) / 2
}

// MinKeys returns the fewest keys a non-root node may hold.
func (n *Node) MinKeys() int {
	return n.MinDegree() - 1
}

// IsFull reports whether the node is at capacity.
func (n *Node) IsFull() bool {
	return len(n.keys) >= n.maxKeys
}

// HasMinimumKeys reports whether the node meets the non-root occupancy floor.
func (n *Node) HasMinimumKeys() bool {
	return len(n.keys) >= n.MinKeys()
}

// HasSpareKeys reports whether the node can give up a key without dropping
// below the occupancy floor.
func (n *Node) HasSpareKeys() bool {
	return len(n.keys) > n.MinKeys()
}

// AtMinimum reports whether the node sits at the occupancy floor and must be
// enriched before the delete descent may enter it.
func (n *Node) AtMinimum() bool {
	return len(n.keys) <= n.MinKeys()
}

// AddKey inserts key keeping the key slice sorted. Duplicate keys are
// accepted and stored side by side.
func (n *Node) AddKey(key int) {
	i := sort.SearchInts(n.keys, key)
	n.keys = insertInt(n.keys, i, key)
}

// AddChild inserts childID at the exact position index.
func (n *Node) AddChild(childID, index int) {
	n.children = insertInt(n.children, index, childID)
}

// Split divides a full node in two. The node keeps the keys below the split
// point, the returned sibling takes the keys above it, and the key at the
// split point is returned for the caller to place into the parent. Neither
// node is persisted; the sibling has no page id yet.
func (n *Node) Split() (int, *Node, error) {
	if !n.IsFull() {
		return 0, nil, ErrNodeNotFull
	}

	splitIndex := n.MinDegree() - 1
	promoted := n.keys[splitIndex]

	right := &Node{maxKeys: n.maxKeys, leaf: n.leaf}
	right.keys = append([]int(nil), n.keys[splitIndex+1:]...)
	n.keys = n.keys[:splitIndex]

	if !n.leaf {
		right.children = append([]int(nil), n.children[splitIndex+1:]...)
		n.children = n.children[:splitIndex+1]
	}

	return promoted, right, nil
}

// Serialize encodes the node as a page body.
func (n *Node) Serialize() ([]byte, error) {
	env := nodeEnvelope{
		PageID:   n.pageID,
		MaxKeys:  n.maxKeys,
		IsLeaf:   n.leaf,
		Keys:     n.keys,
		Children: n.children,
	}
	// Keys and children encode as arrays even when empty.
	if env.Keys == nil {
		env.Keys = []int{}
	}
	if env.Children == nil {
		env.Children = []int{}
	}
	return json.Marshal(env)
}

// DeserializeNode decodes a page body produced by Serialize.
func DeserializeNode(data []byte) (*Node, error) {
	var env nodeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &Node{
		pageID:   env.PageID,
		maxKeys:  env.MaxKeys,
		leaf:     env.IsLeaf,
		keys:     env.Keys,
		children: env.Children,
	}, nil
}

func insertInt(s []int, i, v int) []int {
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func removeInt(s []int, i int) []int {
	return append(s[:i], s[i+1:]...)
}

// upperBound returns the index of the first key greater than key.
func upperBound(keys []int, key int) int {
	return sort.Search(len(keys), func(i int) bool { return keys[i] > key })
}
