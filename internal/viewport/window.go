// Package viewport implements windowed rendering over a render-ready item
// sequence using measured-or-estimated heights. Only the visible slice
// (plus overscan) is materialized; offsets are derived from cumulative
// heights of all preceding items so the scrollable area's total height
// stays stable while the user is mid-history.
package viewport

import (
	"fmt"
	"sort"
	"sync"

	"github.com/quillchat/quill/internal/timeline"
)

// Height constants for the type/size-based estimate. An estimate is only
// a seed: it is replaced once the real layout reports a measurement.
const (
	estLineHeight       = 20
	estHeaderHeight     = 22
	estAttachmentHeight = 60
	estCharsPerLine     = 80

	// DividerHeight is the fixed height of a date divider row.
	DividerHeight = 32
	// PlaceholderHeight is the fixed height of the error placeholder shown
	// for an item whose renderer failed.
	PlaceholderHeight = 40
)

// Rendered is one materialized visible item with its absolute offset.
type Rendered struct {
	Item   timeline.Item
	Top    int
	Height int
	Text   string
	Failed bool
}

// RenderFunc produces the display text for one item. A returned error or a
// panic is isolated to that item.
type RenderFunc func(it timeline.Item) (string, error)

// Window is the virtualized view over a RenderItem sequence.
type Window struct {
	mu       sync.Mutex
	items    []timeline.Item
	index    map[string]int // item id -> position
	measured map[string]int // reported real heights, cached per item lifetime
	failed   map[string]bool
	offsets  []int // offsets[i] = top of item i; offsets[len] = total height
	clean    int   // offsets are valid for indices < clean
	overscan int
	maxItems int
}

// New creates a window with the given overscan item count and resident
// item cap.
func New(overscan, maxItems int) *Window {
	return &Window{
		index:    make(map[string]int),
		measured: make(map[string]int),
		failed:   make(map[string]bool),
		offsets:  []int{0},
		overscan: overscan,
		maxItems: maxItems,
	}
}

// SetItems replaces the item sequence. If it exceeds the resident cap the
// oldest items are evicted first; cached measurements survive for items
// still present and are pruned for the rest.
func (w *Window) SetItems(items []timeline.Item) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.maxItems > 0 && len(items) > w.maxItems {
		items = items[len(items)-w.maxItems:]
	}
	w.items = items

	w.index = make(map[string]int, len(items))
	for i, it := range items {
		w.index[it.ID] = i
	}
	for id := range w.measured {
		if _, ok := w.index[id]; !ok {
			delete(w.measured, id)
		}
	}
	for id := range w.failed {
		if _, ok := w.index[id]; !ok {
			delete(w.failed, id)
		}
	}
	w.clean = 0
}

// Len returns the resident item count.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}

// ReportMeasuredHeight records an item's real laid-out height, replacing
// its estimate. Offsets downstream of the item are invalidated lazily and
// recomputed on the next range query rather than eagerly reflowed.
func (w *Window) ReportMeasuredHeight(id string, height int) {
	if height <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	i, ok := w.index[id]
	if !ok || w.failed[id] {
		return
	}
	if prev, ok := w.measured[id]; ok && prev == height {
		return
	}
	w.measured[id] = height
	if i < w.clean {
		w.clean = i
	}
}

// TotalHeight returns the cumulative height of all resident items.
func (w *Window) TotalHeight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ensureOffsets()
	return w.offsets[len(w.items)]
}

// Top returns the absolute offset of the item at index i.
func (w *Window) Top(i int) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if i < 0 || i >= len(w.items) {
		return 0
	}
	w.ensureOffsets()
	return w.offsets[i]
}

// VisibleRange returns the inclusive index range whose cumulative heights
// cover [scrollTop, scrollTop+viewportHeight], widened by the overscan
// count on both sides. Returns (0, -1) when empty.
func (w *Window) VisibleRange(scrollTop, viewportHeight int) (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visibleRangeLocked(scrollTop, viewportHeight)
}

func (w *Window) visibleRangeLocked(scrollTop, viewportHeight int) (int, int) {
	n := len(w.items)
	if n == 0 {
		return 0, -1
	}
	w.ensureOffsets()

	if scrollTop < 0 {
		scrollTop = 0
	}
	bottom := scrollTop + viewportHeight

	// First item whose bottom edge passes scrollTop.
	start := sort.Search(n, func(i int) bool { return w.offsets[i+1] > scrollTop })
	if start == n {
		start = n - 1
	}
	// Last item whose top edge is above the viewport bottom.
	end := start
	for end+1 < n && w.offsets[end+1] < bottom {
		end++
	}

	start -= w.overscan
	if start < 0 {
		start = 0
	}
	end += w.overscan
	if end >= n {
		end = n - 1
	}
	return start, end
}

// Render materializes the visible range. A failure (error or panic) in fn
// for one item yields a fixed-height placeholder for that item only; all
// other items render normally. Once failed, an item keeps its placeholder
// for its lifetime.
func (w *Window) Render(scrollTop, viewportHeight int, fn RenderFunc) []Rendered {
	w.mu.Lock()
	start, end := w.visibleRangeLocked(scrollTop, viewportHeight)
	items := make([]timeline.Item, 0, end-start+1)
	for i := start; i <= end; i++ {
		items = append(items, w.items[i])
	}
	w.mu.Unlock()

	out := make([]Rendered, 0, len(items))
	for _, it := range items {
		text, err := safeRender(fn, it)

		w.mu.Lock()
		if err != nil && !w.failed[it.ID] {
			w.failed[it.ID] = true
			delete(w.measured, it.ID)
			if i, ok := w.index[it.ID]; ok && i < w.clean {
				w.clean = i
			}
		}
		failed := w.failed[it.ID]
		w.mu.Unlock()

		if failed {
			text = "[message could not be displayed]"
		}
		i, top := w.locate(it.ID)
		if i < 0 {
			continue
		}
		out = append(out, Rendered{
			Item:   it,
			Top:    top,
			Height: w.heightByID(it.ID),
			Text:   text,
			Failed: failed,
		})
	}
	return out
}

func (w *Window) locate(id string) (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	i, ok := w.index[id]
	if !ok {
		return -1, 0
	}
	w.ensureOffsets()
	return i, w.offsets[i]
}

func (w *Window) heightByID(id string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	i, ok := w.index[id]
	if !ok {
		return 0
	}
	return w.heightOf(w.items[i])
}

func safeRender(fn RenderFunc, it timeline.Item) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("render %s: panic: %v", it.ID, r)
		}
	}()
	return fn(it)
}

// ensureOffsets recomputes the dirty suffix of the prefix-sum table.
// Callers must hold w.mu.
func (w *Window) ensureOffsets() {
	n := len(w.items)
	if cap(w.offsets) < n+1 {
		next := make([]int, n+1)
		copy(next, w.offsets)
		w.offsets = next
	}
	w.offsets = w.offsets[:n+1]
	if w.clean > n {
		w.clean = n
	}
	for i := w.clean; i < n; i++ {
		w.offsets[i+1] = w.offsets[i] + w.heightOf(w.items[i])
	}
	w.clean = n
}

// heightOf resolves measured > placeholder > estimated height for an
// item. Callers must hold w.mu.
func (w *Window) heightOf(it timeline.Item) int {
	if w.failed[it.ID] {
		return PlaceholderHeight
	}
	if h, ok := w.measured[it.ID]; ok {
		return h
	}
	return estimateHeight(it)
}

func estimateHeight(it timeline.Item) int {
	if it.Kind == timeline.KindDivider {
		return DividerHeight
	}
	m := it.Message
	if m == nil {
		return PlaceholderHeight
	}
	lines := 1 + len(m.Body)/estCharsPerLine
	h := lines * estLineHeight
	if it.GroupStart {
		h += estHeaderHeight
	}
	h += len(m.Attachments) * estAttachmentHeight
	return h
}
