package btree

import (
	"bytes"
	"errors"

	jsoniter "github.com/json-iterator/go"
)

const (
	// DefaultPageSize is the fixed page size in bytes. Page n occupies file
	// bytes [n*pageSize, (n+1)*pageSize).
	DefaultPageSize = 4096

	// HeaderPageID is the reserved page holding tree-wide metadata.
	HeaderPageID = 0
)

var ErrPageOverflow = errors.New("btree: serialized content exceeds page size")

// json is the body codec. Page bodies are plain textual JSON, so the
// drop-in standard-library configuration keeps the file format stable.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Page is one fixed-size region of the database file as held in the cache.
// The body is the JSON text with the NUL padding stripped; a blank or
// unparsable region reads as an empty body.
type Page struct {
	id    int
	size  int
	body  []byte
	dirty bool
}

// NewPage creates an empty page.
func NewPage(id, size int) *Page {
	return &Page{id: id, size: size}
}

// ID returns the page number.
func (p *Page) ID() int {
	return p.id
}

// Body returns the page body, nil when the page is blank.
func (p *Page) Body() []byte {
	return p.body
}

// SetBody replaces the page body and marks the page dirty.
func (p *Page) SetBody(body []byte) {
	p.body = body
	p.dirty = true
}

// IsDirty reports whether the page has changes not yet on disk.
func (p *Page) IsDirty() bool {
	return p.dirty
}

// setDirty is used by the pager after a write-back.
func (p *Page) setDirty(dirty bool) {
	p.dirty = dirty
}

// ToBytes renders the body right-padded with NUL to the page size.
func (p *Page) ToBytes() ([]byte, error) {
	if len(p.body) > p.size {
		return nil, ErrPageOverflow
	}
	buf := make([]byte, p.size)
	copy(buf, p.body)
	return buf, nil
}

// FromBytes loads the body from raw disk bytes. Padding is stripped;
// anything that does not parse as JSON reads as an empty body.
func (p *Page) FromBytes(raw []byte) {
	body := bytes.TrimRight(raw, "\x00")
	if len(body) == 0 || !json.Valid(body) {
		p.body = nil
		return
	}
	p.body = append([]byte(nil), body...)
}

// CanFit reports whether content fits within the page size.
func (p *Page) CanFit(content []byte) bool {
	return len(content) <= p.size
}

// header is the body of page 0.
type header struct {
	MaxKeysPerNode int  `json:"max_keys_per_node"`
	RootPageID     *int `json:"root_page_id"`
	NextPageID     int  `json:"next_page_id"`
}

// encodeHeader renders the header page body. A root of 0 encodes as null.
func encodeHeader(maxKeys, rootPageID, nextPageID int) ([]byte, error) {
	h := header{MaxKeysPerNode: maxKeys, NextPageID: nextPageID}
	if rootPageID != HeaderPageID {
		h.RootPageID = &rootPageID
	}
	return json.Marshal(h)
}

// decodeHeader parses a header page body. It reports ok=false for a blank
// body or one missing the capacity field, which is how a fresh or zeroed
// file presents.
func decodeHeader(body []byte) (h header, ok bool) {
	if len(body) == 0 {
		return header{}, false
	}
	if err := json.Unmarshal(body, &h); err != nil {
		return header{}, false
	}
	if h.MaxKeysPerNode == 0 {
		return header{}, false
	}
	return h, true
}
