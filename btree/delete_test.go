package btree

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// fillTree inserts keys in order.
func fillTree(t *testing.T, tree *BTree, keys ...int) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, tree.Insert(k))
	}
}

func TestDeleteFromEmptyTree(t *testing.T) {
	tree := newTestTree(t, 5)
	require.NoError(t, tree.Delete(1))
}

func TestDeleteAbsentKey(t *testing.T) {
	tree := newTestTree(t, 3)
	fillTree(t, tree, 1, 2, 3, 4, 5, 6, 7)

	require.NoError(t, tree.Delete(100))
	require.NoError(t, tree.Delete(0))
	checkInvariants(t, tree)
	requireFound(t, tree, 1, 2, 3, 4, 5, 6, 7)
}

func TestDeleteRootKeyBorrowsFromRightSibling(t *testing.T) {
	tree := newTestTree(t, 5)
	fillTree(t, tree, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)

	// 3 sits in the root [3 6] over [1 2] [4 5] [7 8 9 10]. Its minimal right
	// child borrows 7 through the root, then the successor 4 replaces 3.
	require.NoError(t, tree.Delete(3))

	checkInvariants(t, tree)
	requireNotFound(t, tree, 3)
	requireFound(t, tree, 1, 2, 4, 5, 6, 7, 8, 9, 10)
	require.Equal(t, []int{4, 7}, rootKeys(t, tree))
}

func TestDeleteRootKeyReplacedBySuccessor(t *testing.T) {
	tree := newTestTree(t, 3)
	fillTree(t, tree, 1, 2, 3, 4, 5, 6, 7)
	require.Equal(t, []int{2, 4}, rootKeys(t, tree))

	// Deleting 2 first enriches the minimal right child by borrowing from
	// the rich rightmost leaf, then the successor takes its place.
	require.NoError(t, tree.Delete(2))

	checkInvariants(t, tree)
	requireNotFound(t, tree, 2)
	requireFound(t, tree, 1, 3, 4, 5, 6, 7)
	require.Equal(t, []int{3, 5}, rootKeys(t, tree))
}

func TestDeleteCascadeShrinksRoot(t *testing.T) {
	tree := newTestTree(t, 3)
	fillTree(t, tree, 1, 2, 3, 4, 5, 6, 7)
	require.Equal(t, 2, treeHeight(t, tree))

	for _, k := range []int{1, 2, 3, 4, 5} {
		require.NoError(t, tree.Delete(k))
		checkInvariants(t, tree)
	}

	require.Equal(t, 1, treeHeight(t, tree))
	requireNotFound(t, tree, 1, 2, 3, 4, 5)
	requireFound(t, tree, 6, 7)
}

// buildBorrowLeftTree yields, for M=3, root [20 40] over leaves
// [5 10 15] [30] [50]: the middle and right leaves are minimal while the
// left one has keys to spare.
func buildBorrowLeftTree(t *testing.T) *BTree {
	t.Helper()
	tree := newTestTree(t, 3)
	fillTree(t, tree, 10, 20, 30, 40, 50, 60, 5, 15)
	require.NoError(t, tree.Delete(60))
	require.Equal(t, []int{20, 40}, rootKeys(t, tree))
	checkInvariants(t, tree)
	return tree
}

func TestDeleteBorrowsFromLeftSibling(t *testing.T) {
	tree := buildBorrowLeftTree(t)

	// Descending into the minimal middle leaf rotates 15 up through the
	// root and 20 down in front of it.
	require.NoError(t, tree.Delete(30))

	checkInvariants(t, tree)
	requireNotFound(t, tree, 30)
	requireFound(t, tree, 5, 10, 15, 20, 40, 50)
	require.Equal(t, []int{15, 40}, rootKeys(t, tree))
}

func TestDeleteInternalKeyAfterLeftBorrow(t *testing.T) {
	tree := buildBorrowLeftTree(t)

	// 20 sits in the root with a minimal right child. Enriching that
	// child borrows from the left sibling, which moves 20 itself down
	// into the child; the restarted descent must chase it there.
	require.NoError(t, tree.Delete(20))

	checkInvariants(t, tree)
	requireNotFound(t, tree, 20)
	requireFound(t, tree, 5, 10, 15, 30, 50)
	require.Equal(t, []int{15, 40}, rootKeys(t, tree))
}

func TestDeleteInternalKeyMergesMinimalChildren(t *testing.T) {
	tree := newTestTree(t, 3)
	fillTree(t, tree, 10, 20, 30, 40, 50, 60)
	require.NoError(t, tree.Delete(60))
	require.Equal(t, []int{20, 40}, rootKeys(t, tree))

	// Both children around 20 are minimal, so they merge and 20 descends
	// into the merged leaf before being removed from it.
	require.NoError(t, tree.Delete(20))

	checkInvariants(t, tree)
	requireNotFound(t, tree, 20)
	requireFound(t, tree, 10, 30, 40, 50)
	require.Equal(t, []int{40}, rootKeys(t, tree))
}

func TestDeleteMergesWithRightSibling(t *testing.T) {
	tree := newTestTree(t, 3)
	fillTree(t, tree, 10, 20, 30, 40, 50, 60)
	require.NoError(t, tree.Delete(60))

	// The leftmost leaf is minimal with no left sibling and a minimal
	// right sibling, forcing a merge to the right.
	require.NoError(t, tree.Delete(10))

	checkInvariants(t, tree)
	requireNotFound(t, tree, 10)
	requireFound(t, tree, 20, 30, 40, 50)
}

func TestDeleteEverything(t *testing.T) {
	tree := newTestTree(t, 4)
	for k := 1; k <= 50; k++ {
		require.NoError(t, tree.Insert(k))
	}

	for k := 1; k <= 50; k++ {
		require.NoError(t, tree.Delete(k))
		checkInvariants(t, tree)
		requireNotFound(t, tree, k)
	}
	for k := 1; k <= 50; k++ {
		requireNotFound(t, tree, k)
	}
}

func TestDeleteRandomizedWorkload(t *testing.T) {
	tree := newTestTree(t, 4)
	r := rand.New(rand.NewSource(42))

	live := make(map[int]bool)
	for op := 0; op < 600; op++ {
		key := r.Intn(80)
		if live[key] {
			require.NoError(t, tree.Delete(key))
			delete(live, key)
		} else {
			require.NoError(t, tree.Insert(key))
			live[key] = true
		}
		if op%25 == 0 {
			checkInvariants(t, tree)
		}
	}

	checkInvariants(t, tree)
	for key := 0; key < 80; key++ {
		found, _, err := tree.Search(key)
		require.NoError(t, err)
		require.Equal(t, live[key], found, "key %d", key)
	}
}

func TestDeletePersistsAcrossReopen(t *testing.T) {
	tree := newTestTree(t, 3)
	fillTree(t, tree, 1, 2, 3, 4, 5, 6, 7, 8, 9)
	require.NoError(t, tree.Delete(4))
	require.NoError(t, tree.Delete(8))
	require.NoError(t, tree.Close())

	reopened, err := Open(tree.pager.path)
	require.NoError(t, err)
	defer reopened.Close()

	checkInvariants(t, reopened)
	requireNotFound(t, reopened, 4, 8)
	requireFound(t, reopened, 1, 2, 3, 5, 6, 7, 9)
}
