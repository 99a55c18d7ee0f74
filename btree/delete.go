package btree

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Delete removes one occurrence of key from the tree. Deleting from an
// empty tree is a no-op. Deleting a key that is not present removes no key,
// though the descent may still borrow or merge nodes along its path.
//
// The descent is proactive: before stepping into a child sitting at the
// occupancy floor, the child is enriched by borrowing from a sibling or
// merging with one, so every node entered can lose a key without
// rebalancing on the way back up.
func (t *BTree) Delete(key int) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if t.rootPageID == 0 {
		return nil
	}

	if err := t.deleteFrom(t.rootPageID, key); err != nil {
		return err
	}

	// A merge may drain the root; its only child becomes the new root and
	// the tree loses a level. The old root page is abandoned.
	root, err := t.pager.LoadNode(t.rootPageID)
	if err != nil {
		return err
	}
	if root != nil && !root.leaf && len(root.keys) == 0 {
		t.rootPageID = root.children[0]
		t.log.Debug("tree shrank", zap.Int("root", t.rootPageID))
	}
	return nil
}

// deleteFrom removes key from the subtree rooted at pageID. Except for the
// root, the node on pageID is guaranteed to hold more than the minimum
// number of keys when entered.
func (t *BTree) deleteFrom(pageID, key int) error {
	node, err := t.pager.LoadNode(pageID)
	if err != nil {
		return err
	}
	if node == nil {
		return fmt.Errorf("btree: page %d is empty", pageID)
	}

	idx := sort.SearchInts(node.keys, key)
	if idx < len(node.keys) && node.keys[idx] == key {
		if node.leaf {
			node.keys = removeInt(node.keys, idx)
			_, err := t.pager.StoreNode(node)
			return err
		}
		return t.deleteFromInternal(pageID, node, key, idx)
	}

	if node.leaf {
		// Not present.
		return nil
	}

	idx = upperBound(node.keys, key)
	childID := node.children[idx]
	child, err := t.pager.LoadNode(childID)
	if err != nil {
		return err
	}
	if child.AtMinimum() {
		if err := t.resolveMinimalChild(pageID, idx); err != nil {
			return err
		}
		// A merge may have pulled the key into this node; start over here.
		return t.deleteFrom(pageID, key)
	}
	return t.deleteFrom(childID, key)
}

// deleteFromInternal removes the key sitting at index idx of the internal
// node on pageID. When the right child has keys to spare, the key is
// overwritten with its in-order successor and the successor is deleted from
// that subtree. Otherwise the right child is enriched first and the delete
// restarts from this node, since a borrow from or merge with the left
// sibling moves the key itself down into the child.
func (t *BTree) deleteFromInternal(pageID int, node *Node, key, idx int) error {
	rightID := node.children[idx+1]
	right, err := t.pager.LoadNode(rightID)
	if err != nil {
		return err
	}

	if right.AtMinimum() {
		if err := t.resolveMinimalChild(pageID, idx+1); err != nil {
			return err
		}
		return t.deleteFrom(pageID, key)
	}

	successor, err := t.smallestKeyInSubtree(rightID)
	if err != nil {
		return err
	}
	node.keys[idx] = successor
	if _, err := t.pager.StoreNode(node); err != nil {
		return err
	}
	return t.deleteFrom(rightID, successor)
}

// resolveMinimalChild lifts the child at childIndex of the parent on
// parentID above the occupancy floor: borrow from a spare sibling when one
// exists, merge with a sibling otherwise.
func (t *BTree) resolveMinimalChild(parentID, childIndex int) error {
	parent, err := t.pager.LoadNode(parentID)
	if err != nil {
		return err
	}

	if childIndex > 0 {
		left, err := t.pager.LoadNode(parent.children[childIndex-1])
		if err != nil {
			return err
		}
		if left.HasSpareKeys() {
			return t.borrowFromLeft(parent, childIndex)
		}
	}

	if childIndex < len(parent.children)-1 {
		right, err := t.pager.LoadNode(parent.children[childIndex+1])
		if err != nil {
			return err
		}
		if right.HasSpareKeys() {
			return t.borrowFromRight(parent, childIndex)
		}
	}

	if childIndex > 0 {
		return t.mergeWithLeft(parent, childIndex)
	}
	return t.mergeWithRight(parent, childIndex)
}

// borrowFromLeft rotates a key from the left sibling through the parent
// into the child at childIndex: the separator comes down in front of the
// child's keys and the sibling's largest key replaces it in the parent.
func (t *BTree) borrowFromLeft(parent *Node, childIndex int) error {
	current, err := t.pager.LoadNode(parent.children[childIndex])
	if err != nil {
		return err
	}
	left, err := t.pager.LoadNode(parent.children[childIndex-1])
	if err != nil {
		return err
	}

	sepIndex := childIndex - 1
	separator := parent.keys[sepIndex]
	parent.keys = removeInt(parent.keys, sepIndex)
	current.keys = insertInt(current.keys, 0, separator)

	borrowed := left.keys[len(left.keys)-1]
	left.keys = left.keys[:len(left.keys)-1]
	parent.keys = insertInt(parent.keys, sepIndex, borrowed)

	if !left.leaf {
		moved := left.children[len(left.children)-1]
		left.children = left.children[:len(left.children)-1]
		current.children = insertInt(current.children, 0, moved)
	}

	return t.storeNodes(parent, current, left)
}

// borrowFromRight mirrors borrowFromLeft: the separator comes down behind
// the child's keys and the right sibling's smallest key replaces it.
func (t *BTree) borrowFromRight(parent *Node, childIndex int) error {
	current, err := t.pager.LoadNode(parent.children[childIndex])
	if err != nil {
		return err
	}
	right, err := t.pager.LoadNode(parent.children[childIndex+1])
	if err != nil {
		return err
	}

	sepIndex := childIndex
	separator := parent.keys[sepIndex]
	parent.keys = removeInt(parent.keys, sepIndex)
	current.keys = append(current.keys, separator)

	borrowed := right.keys[0]
	right.keys = removeInt(right.keys, 0)
	parent.keys = insertInt(parent.keys, sepIndex, borrowed)

	if !right.leaf {
		moved := right.children[0]
		right.children = removeInt(right.children, 0)
		current.children = append(current.children, moved)
	}

	return t.storeNodes(parent, current, right)
}

// mergeWithLeft folds the child at childIndex and the separator into its
// left sibling. The child's page is abandoned and never reclaimed.
func (t *BTree) mergeWithLeft(parent *Node, childIndex int) error {
	current, err := t.pager.LoadNode(parent.children[childIndex])
	if err != nil {
		return err
	}
	left, err := t.pager.LoadNode(parent.children[childIndex-1])
	if err != nil {
		return err
	}

	separator := parent.keys[childIndex-1]
	parent.keys = removeInt(parent.keys, childIndex-1)

	left.keys = append(left.keys, separator)
	left.keys = append(left.keys, current.keys...)
	if !current.leaf {
		left.children = append(left.children, current.children...)
	}

	parent.children = removeInt(parent.children, childIndex)

	t.log.Debug("merged with left sibling",
		zap.Int("kept", left.pageID), zap.Int("abandoned", current.pageID))
	return t.storeNodes(parent, left)
}

// mergeWithRight folds the right sibling and the separator into the child
// at childIndex. The sibling's page is abandoned and never reclaimed.
func (t *BTree) mergeWithRight(parent *Node, childIndex int) error {
	current, err := t.pager.LoadNode(parent.children[childIndex])
	if err != nil {
		return err
	}
	right, err := t.pager.LoadNode(parent.children[childIndex+1])
	if err != nil {
		return err
	}

	separator := parent.keys[childIndex]
	parent.keys = removeInt(parent.keys, childIndex)

	current.keys = append(current.keys, separator)
	current.keys = append(current.keys, right.keys...)
	if !right.leaf {
		current.children = append(current.children, right.children...)
	}

	parent.children = removeInt(parent.children, childIndex+1)

	t.log.Debug("merged with right sibling",
		zap.Int("kept", current.pageID), zap.Int("abandoned", right.pageID))
	return t.storeNodes(parent, current)
}

// smallestKeyInSubtree walks the leftmost path from pageID down to a leaf
// and returns its first key.
func (t *BTree) smallestKeyInSubtree(pageID int) (int, error) {
	node, err := t.pager.LoadNode(pageID)
	if err != nil {
		return 0, err
	}
	for node != nil && !node.leaf {
		node, err = t.pager.LoadNode(node.children[0])
		if err != nil {
			return 0, err
		}
	}
	if node == nil || len(node.keys) == 0 {
		return 0, fmt.Errorf("btree: subtree at page %d has no keys", pageID)
	}
	return node.keys[0], nil
}

func (t *BTree) storeNodes(nodes ...*Node) error {
	for _, n := range nodes {
		if _, err := t.pager.StoreNode(n); err != nil {
			return err
		}
	}
	return nil
}
