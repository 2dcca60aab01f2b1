// Package kvcache implements the paged key/value cache: per-layer
// attention state held in fixed-size pages, allocated lazily, so
// long-running conversations pay for context growth in O(context/page)
// allocations instead of one per decoded token.
//
// Per spec.md §9 (REDESIGN FLAG (b)), writes here actually copy K/V data
// into the page buffers rather than only tracking occupancy counters, and
// Row reads it back. Within this module the generator uses the cache only
// for per-call occupancy diagnostics; no prefix reuse reads from it.
package kvcache

import (
	"fmt"

	"github.com/emirpasic/gods/v2/maps/treemap"
)

// PageSize is fixed at 16 tokens per spec.md §3.
const PageSize = 16

// Page holds one page's worth of K and V vectors, each num_heads*head_dim
// wide, for up to PageSize token positions.
type Page struct {
	K    [][]float32 // len == PageSize; entries [0, Used) are written, each len == numHeads*headDim
	V    [][]float32
	Used int
}

// Cache is a sparse, page-indexed store of attention state for a single
// layer's worth of K/V tensors. A Generator holds a single one, as its
// diagnostics cache.
type Cache struct {
	numHeads, headDim int
	maxPages          int
	pages             *treemap.Map[int, *Page]
	currentSeqLen     int
}

// New builds a cache sized for maxSeqLen positions (rounded up to a whole
// number of pages).
func New(numHeads, headDim, maxSeqLen int) *Cache {
	maxPages := (maxSeqLen + PageSize - 1) / PageSize
	if maxPages < 1 {
		maxPages = 1
	}
	return &Cache{
		numHeads: numHeads,
		headDim:  headDim,
		maxPages: maxPages,
		pages:    treemap.NewWithIntComparator[*Page](),
	}
}

// Reset drops all pages and zeroes occupancy.
func (c *Cache) Reset() {
	c.pages.Clear()
	c.currentSeqLen = 0
}

// CurrentSeqLen returns the number of positions written so far.
func (c *Cache) CurrentSeqLen() int { return c.currentSeqLen }

// MaxSeqLen returns the cache's total page-backed capacity.
func (c *Cache) MaxSeqLen() int { return c.maxPages * PageSize }

// PageCount returns the number of pages actually allocated — used by the
// "page count == ceil(S/page_size)" testable property.
func (c *Cache) PageCount() int { return c.pages.Size() }

// Append writes seqLen new K/V rows (row width numHeads*headDim each),
// splitting the write across page boundaries as needed, allocating any
// page touched for the first time. Returns an error if the write would
// exceed MaxSeqLen().
func (c *Cache) Append(k, v [][]float32) error {
	seqLen := len(k)
	if seqLen == 0 {
		return nil
	}
	if len(v) != seqLen {
		return fmt.Errorf("kvcache: k and v row counts differ (%d vs %d)", seqLen, len(v))
	}
	if c.currentSeqLen+seqLen > c.MaxSeqLen() {
		return fmt.Errorf("kvcache: append of %d rows at offset %d exceeds capacity %d", seqLen, c.currentSeqLen, c.MaxSeqLen())
	}

	pos := c.currentSeqLen
	for i := 0; i < seqLen; i++ {
		pageIdx := pos / PageSize
		offset := pos % PageSize

		page, ok := c.pages.Get(pageIdx)
		if !ok {
			page = &Page{
				K: make([][]float32, PageSize),
				V: make([][]float32, PageSize),
			}
			c.pages.Put(pageIdx, page)
		}
		page.K[offset] = append([]float32(nil), k[i]...)
		page.V[offset] = append([]float32(nil), v[i]...)
		if offset+1 > page.Used {
			page.Used = offset + 1
		}
		pos++
	}

	c.currentSeqLen += seqLen
	return nil
}

// Row returns the K/V pair written at absolute position pos, or ok=false
// if nothing was ever written there.
func (c *Cache) Row(pos int) (k, v []float32, ok bool) {
	pageIdx := pos / PageSize
	offset := pos % PageSize
	page, found := c.pages.Get(pageIdx)
	if !found || offset >= page.Used || page.K[offset] == nil {
		return nil, nil, false
	}
	return page.K[offset], page.V[offset], true
}

// UsageSnapshot returns the occupancy of every allocated page, keyed by
// page index (a map, so iterating it has no defined order) — a
// diagnostics view, not used on any hot path.
func (c *Cache) UsageSnapshot() map[int]int {
	out := make(map[int]int, c.pages.Size())
	c.pages.Each(func(idx int, p *Page) {
		out[idx] = p.Used
	})
	return out
}
