package btree

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"
)

// DefaultMaxKeysPerNode is the tree order used when a fresh file is opened
// without an explicit capacity.
const DefaultMaxKeysPerNode = 5

var ErrClosed = errors.New("btree: closed")

// Config holds the knobs for opening a tree.
type Config struct {
	Path           string
	MaxKeysPerNode int // M, at least 3
	CacheSize      int // pages held in memory
	PageSize       int
	Logger         *zap.Logger
}

// DefaultConfig returns a configuration with the standard defaults.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		MaxKeysPerNode: DefaultMaxKeysPerNode,
		CacheSize:      DefaultCacheSize,
		PageSize:       DefaultPageSize,
		Logger:         zap.NewNop(),
	}
}

// PathEntry is one step of a search descent.
type PathEntry struct {
	PageID   int
	KeyIndex int
}

// BTree is a persistent ordered index over integer keys. Nodes live one per
// page behind the pager; the tree itself holds only page ids.
type BTree struct {
	pager      *Pager
	maxKeys    int
	rootPageID int // 0 while the tree is empty
	log        *zap.Logger
	closed     atomic.Bool
}

// Open opens the tree at path with default configuration.
func Open(path string) (*BTree, error) {
	return New(DefaultConfig(path))
}

// New opens or creates the tree described by config. An existing header
// takes precedence over the configured capacity; a fresh file is initialized
// with it and page 0 is reserved for the header immediately.
func New(config Config) (*BTree, error) {
	if config.MaxKeysPerNode == 0 {
		config.MaxKeysPerNode = DefaultMaxKeysPerNode
	}
	if config.CacheSize == 0 {
		config.CacheSize = DefaultCacheSize
	}
	if config.PageSize == 0 {
		config.PageSize = DefaultPageSize
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	hdr, found, err := readHeader(config.Path, config.PageSize)
	if err != nil {
		return nil, err
	}

	nextPageID := 1
	if found {
		nextPageID = hdr.NextPageID
	}

	pager, err := NewPager(config.Path, config.CacheSize, config.PageSize, nextPageID, config.Logger)
	if err != nil {
		return nil, err
	}

	t := &BTree{pager: pager, log: config.Logger}

	if found {
		t.maxKeys = hdr.MaxKeysPerNode
		if hdr.RootPageID != nil {
			t.rootPageID = *hdr.RootPageID
		}
	} else {
		t.maxKeys = config.MaxKeysPerNode
	}
	if t.maxKeys < 3 {
		return nil, ErrOrderTooSmall
	}

	if !found {
		if err := t.writeHeader(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// readHeader reads the first page of the file directly, before the pager
// exists. A missing or empty file, or a first page that is all zeros or does
// not parse as a header, reads as no header.
func readHeader(path string, pageSize int) (header, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return header{}, false, nil
		}
		return header{}, false, err
	}
	defer f.Close()

	buf := make([]byte, pageSize)
	n, err := f.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return header{}, false, err
	}
	if n == 0 {
		return header{}, false, nil
	}

	page := NewPage(HeaderPageID, pageSize)
	page.FromBytes(buf[:n])
	hdr, ok := decodeHeader(page.Body())
	return hdr, ok, nil
}

// writeHeader stores the current metadata into page 0.
func (t *BTree) writeHeader() error {
	body, err := encodeHeader(t.maxKeys, t.rootPageID, t.pager.NextPageID())
	if err != nil {
		return err
	}
	return t.pager.StorePageContent(HeaderPageID, body)
}

// Search looks key up and returns whether it was found together with the
// descent path, one (page id, key index) entry per node visited.
func (t *BTree) Search(key int) (bool, []PathEntry, error) {
	if t.closed.Load() {
		return false, nil, ErrClosed
	}
	if t.rootPageID == 0 {
		return false, nil, nil
	}

	var path []PathEntry
	pageID := t.rootPageID
	for pageID != 0 {
		node, err := t.pager.LoadNode(pageID)
		if err != nil {
			return false, path, err
		}
		if node == nil {
			break
		}

		idx := sort.SearchInts(node.keys, key)
		path = append(path, PathEntry{PageID: pageID, KeyIndex: idx})

		if idx < len(node.keys) && node.keys[idx] == key {
			return true, path, nil
		}
		if node.leaf {
			break
		}
		pageID = node.children[idx]
	}
	return false, path, nil
}

// Insert adds key to the tree. Duplicates are accepted; the index behaves as
// a multiset and callers wanting set semantics search first.
func (t *BTree) Insert(key int) error {
	if t.closed.Load() {
		return ErrClosed
	}

	if t.rootPageID == 0 {
		root, err := NewNode(t.maxKeys, true)
		if err != nil {
			return err
		}
		root.AddKey(key)
		id, err := t.pager.StoreNode(root)
		if err != nil {
			return err
		}
		t.rootPageID = id
		return nil
	}

	root, err := t.pager.LoadNode(t.rootPageID)
	if err != nil {
		return err
	}
	if root == nil {
		return fmt.Errorf("btree: root page %d is empty", t.rootPageID)
	}

	if root.IsFull() {
		// The root is full, so the tree grows a level: a fresh internal
		// root adopts the old one as child 0 and the old root is split.
		oldRootID := t.rootPageID
		newRoot, err := NewNode(t.maxKeys, false)
		if err != nil {
			return err
		}
		newRoot.AddChild(oldRootID, 0)
		id, err := t.pager.StoreNode(newRoot)
		if err != nil {
			return err
		}
		t.rootPageID = id
		t.log.Debug("tree grew", zap.Int("root", id))
		if err := t.splitChild(id, 0); err != nil {
			return err
		}
	}
	return t.insertNonFull(t.rootPageID, key)
}

// splitChild splits the full child at position index of the parent on
// parentID, promoting the middle key into the parent.
func (t *BTree) splitChild(parentID, index int) error {
	parent, err := t.pager.LoadNode(parentID)
	if err != nil {
		return err
	}
	child, err := t.pager.LoadNode(parent.children[index])
	if err != nil {
		return err
	}

	promoted, right, err := child.Split()
	if err != nil {
		return err
	}
	rightID, err := t.pager.StoreNode(right)
	if err != nil {
		return err
	}

	parent.AddKey(promoted)
	parent.AddChild(rightID, index+1)

	if _, err := t.pager.StoreNode(parent); err != nil {
		return err
	}
	_, err = t.pager.StoreNode(child)
	return err
}

// insertNonFull descends towards the leaf for key, splitting any full child
// before stepping into it so that every node entered has room.
func (t *BTree) insertNonFull(pageID, key int) error {
	node, err := t.pager.LoadNode(pageID)
	if err != nil {
		return err
	}
	if node == nil {
		return fmt.Errorf("btree: page %d is empty", pageID)
	}

	if node.leaf {
		node.AddKey(key)
		_, err := t.pager.StoreNode(node)
		return err
	}

	idx := upperBound(node.keys, key)
	childID := node.children[idx]
	child, err := t.pager.LoadNode(childID)
	if err != nil {
		return err
	}

	if child.IsFull() {
		if err := t.splitChild(pageID, idx); err != nil {
			return err
		}
		// The split moved a key into this node; reload and re-pick the
		// side of the promoted key to descend into.
		node, err = t.pager.LoadNode(pageID)
		if err != nil {
			return err
		}
		childID = node.children[idx]
		if key > node.keys[idx] {
			childID = node.children[idx+1]
		}
	}
	return t.insertNonFull(childID, key)
}

// Close writes the header and flushes every dirty page. Operations on a
// closed tree fail with ErrClosed; closing twice is a no-op.
func (t *BTree) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	if err := t.writeHeader(); err != nil {
		return err
	}
	return t.pager.FlushAll()
}
