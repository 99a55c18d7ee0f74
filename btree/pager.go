package btree

import (
	"container/list"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

// DefaultCacheSize is the maximum number of pages held in memory.
const DefaultCacheSize = 100

// Pager mediates all page I/O between the tree and the database file. Pages
// live in a bounded cache ordered by recency (front of the list is the most
// recently used); dirty pages are written back on eviction and on FlushAll.
// The file handle is opened per read and per write and never held across
// operations.
type Pager struct {
	path       string
	cacheSize  int
	pageSize   int
	nextPageID int
	lru        *list.List
	elems      map[int]*list.Element
	log        *zap.Logger
}

// NewPager opens the database file, creating it when absent. nextPageID is
// the allocation cursor recovered from the header, 1 for a fresh file.
func NewPager(path string, cacheSize, pageSize, nextPageID int, log *zap.Logger) (*Pager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("btree: create database file: %w", err)
		}
		if err := f.Close(); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	return &Pager{
		path:       path,
		cacheSize:  cacheSize,
		pageSize:   pageSize,
		nextPageID: nextPageID,
		lru:        list.New(),
		elems:      make(map[int]*list.Element),
		log:        log,
	}, nil
}

// NextPageID returns the next page id the pager will allocate.
func (p *Pager) NextPageID() int {
	return p.nextPageID
}

// PageSize returns the fixed page size in bytes.
func (p *Pager) PageSize() int {
	return p.pageSize
}

// FetchPage returns page id from the cache, reading it from disk on a miss.
// It returns nil when the file region is empty.
func (p *Pager) FetchPage(id int) (*Page, error) {
	if elem, ok := p.elems[id]; ok {
		p.lru.MoveToFront(elem)
		return elem.Value.(*Page), nil
	}

	if p.lru.Len() >= p.cacheSize {
		if err := p.evict(); err != nil {
			return nil, err
		}
	}

	page, err := p.readPage(id)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, nil
	}
	p.elems[id] = p.lru.PushFront(page)
	return page, nil
}

// StorePageContent upserts the body of page id and marks it dirty. Content
// larger than the page size is rejected before the cache is touched.
func (p *Pager) StorePageContent(id int, content []byte) error {
	if len(content) > p.pageSize {
		return fmt.Errorf("%w: page %d holds %d bytes", ErrPageOverflow, id, len(content))
	}

	page, err := p.FetchPage(id)
	if err != nil {
		return err
	}
	if page == nil {
		page = NewPage(id, p.pageSize)
		p.elems[id] = p.lru.PushFront(page)
	}
	page.SetBody(content)
	return nil
}

// LoadPageContent returns the body of page id, nil when the page is absent.
func (p *Pager) LoadPageContent(id int) ([]byte, error) {
	page, err := p.FetchPage(id)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, nil
	}
	return page.Body(), nil
}

// StoreNode serializes node into its page, allocating a page id on first
// store, and returns the page id.
func (p *Pager) StoreNode(n *Node) (int, error) {
	if n.pageID == 0 {
		n.pageID = p.nextPageID
		p.nextPageID++
	}
	content, err := n.Serialize()
	if err != nil {
		return 0, err
	}
	if err := p.StorePageContent(n.pageID, content); err != nil {
		return 0, err
	}
	return n.pageID, nil
}

// LoadNode reads and decodes the node on page id. It returns nil, nil when
// the page is absent or does not hold a node.
func (p *Pager) LoadNode(id int) (*Node, error) {
	content, err := p.LoadPageContent(id)
	if err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, nil
	}
	node, err := DeserializeNode(content)
	if err != nil {
		// A page that fails to decode reads as empty.
		return nil, nil
	}
	return node, nil
}

// FlushAll writes every dirty cached page to disk and clears its dirty flag.
func (p *Pager) FlushAll() error {
	flushed := 0
	for elem := p.lru.Front(); elem != nil; elem = elem.Next() {
		page := elem.Value.(*Page)
		if !page.IsDirty() {
			continue
		}
		if err := p.writePage(page); err != nil {
			return err
		}
		page.setDirty(false)
		flushed++
	}
	p.log.Debug("flushed dirty pages", zap.Int("count", flushed))
	return nil
}

// evict makes room in the cache using second chance. Pages are popped from
// the cold end; a clean page is evicted outright, a dirty page is written
// back and returned to the hot end. When a full pass finds only dirty pages,
// the entry now sitting at the cold end (the first one written back) is
// evicted.
func (p *Pager) evict() error {
	for i := p.lru.Len(); i > 0; i-- {
		elem := p.lru.Back()
		page := elem.Value.(*Page)
		p.lru.Remove(elem)
		delete(p.elems, page.ID())

		if !page.IsDirty() {
			p.log.Debug("evicted clean page", zap.Int("page", page.ID()))
			return nil
		}

		if err := p.writePage(page); err != nil {
			p.elems[page.ID()] = p.lru.PushFront(page)
			return fmt.Errorf("btree: write back page %d: %w", page.ID(), err)
		}
		page.setDirty(false)
		p.elems[page.ID()] = p.lru.PushFront(page)
		p.log.Debug("second chance for dirty page", zap.Int("page", page.ID()))
	}

	// Every page was dirty. All of them are clean now; drop the coldest.
	if elem := p.lru.Back(); elem != nil {
		page := elem.Value.(*Page)
		p.lru.Remove(elem)
		delete(p.elems, page.ID())
		p.log.Debug("evicted after full dirty pass", zap.Int("page", page.ID()))
	}
	return nil
}

// writePage writes one page at its fixed offset, NUL-padded to the page
// size, and fsyncs before returning.
func (p *Pager) writePage(page *Page) error {
	buf, err := page.ToBytes()
	if err != nil {
		return err
	}

	f, err := os.OpenFile(p.path, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	offset := int64(page.ID()) * int64(p.pageSize)
	if _, err := f.WriteAt(buf, offset); err != nil {
		return err
	}
	return f.Sync()
}

// readPage reads one page from disk, returning nil when the file region is
// empty.
func (p *Pager) readPage(id int) (*Page, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, p.pageSize)
	offset := int64(id) * int64(p.pageSize)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	page := NewPage(id, p.pageSize)
	page.FromBytes(buf[:n])
	return page, nil
}
