// Package scroll tracks per-conversation scroll offsets and the
// stick-to-bottom behavior: a reader at the bottom follows new messages,
// a reader mid-history keeps their place and gets a jump-to-latest
// affordance instead.
package scroll

import (
	"sync"

	"go.uber.org/zap"

	"github.com/quillchat/quill/internal/bus"
)

// Positions persists scroll offsets across restarts.
type Positions interface {
	SaveScrollPosition(targetKey string, scrollTop int) error
	LoadScrollPosition(targetKey string) (int, bool, error)
}

// NewMessages is the payload published on bus.KindScrollNewMessages when
// messages arrive while the reader is away from the bottom.
type NewMessages struct {
	TargetKey string
}

// Controller owns the scroll state of the active conversation.
type Controller struct {
	mu        sync.Mutex
	bus       *bus.Bus
	logger    *zap.Logger
	positions Positions // nil disables persistence
	threshold int

	target         string
	records        map[string]int
	scrollTop      int
	totalHeight    int
	viewportHeight int
	atBottom       bool
	hasNew         bool
}

// New creates a controller. thresholdPx is the near-bottom distance below
// which the reader counts as at the bottom.
func New(b *bus.Bus, positions Positions, thresholdPx int, logger *zap.Logger) *Controller {
	return &Controller{
		bus:       b,
		logger:    logger,
		positions: positions,
		threshold: thresholdPx,
		records:   make(map[string]int),
		atBottom:  true,
	}
}

// SwitchTo saves the current conversation's offset and activates
// targetKey, restoring its recorded offset or defaulting to the bottom if
// it was never visited.
func (c *Controller) SwitchTo(targetKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.target != "" {
		c.persistLocked()
	}
	c.target = targetKey
	c.hasNew = false

	// Extents still describe the previous conversation here, so at-bottom
	// is not recomputed until the next SetExtent.
	if top, ok := c.records[targetKey]; ok {
		c.scrollTop = top
		c.atBottom = false
		return
	}
	if c.positions != nil {
		top, ok, err := c.positions.LoadScrollPosition(targetKey)
		if err != nil {
			c.logger.Warn("failed to load scroll position",
				zap.String("target", targetKey), zap.Error(err))
		} else if ok {
			c.records[targetKey] = top
			c.scrollTop = top
			c.atBottom = false
			return
		}
	}
	c.atBottom = true
}

// SetExtent informs the controller of the current content and viewport
// heights. A reader at the bottom stays pinned there as the extent grows.
func (c *Controller) SetExtent(totalHeight, viewportHeight int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalHeight = totalHeight
	c.viewportHeight = viewportHeight
	if c.atBottom {
		c.scrollTop = c.bottomLocked()
	}
	c.recomputeLocked()
}

// OnScroll records a user scroll to scrollTop and recomputes the
// at-bottom state. Manually reaching the bottom clears the new-messages
// notice.
func (c *Controller) OnScroll(scrollTop int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if scrollTop < 0 {
		scrollTop = 0
	}
	if max := c.bottomLocked(); scrollTop > max {
		scrollTop = max
	}
	c.scrollTop = scrollTop
	if c.target != "" {
		c.records[c.target] = scrollTop
	}
	c.persistLocked()
	c.recomputeLocked()
	if c.atBottom {
		c.hasNew = false
	}
}

// OnNewMessage handles content growth from an arriving message. At the
// bottom the view follows; away from it the offset is kept and the
// new-messages notice is raised.
func (c *Controller) OnNewMessage(totalHeight int) {
	c.mu.Lock()
	c.totalHeight = totalHeight
	if c.atBottom {
		c.scrollTop = c.bottomLocked()
		c.recomputeLocked()
		c.mu.Unlock()
		return
	}
	already := c.hasNew
	c.hasNew = true
	target := c.target
	c.mu.Unlock()

	if !already {
		c.bus.PublishKind(bus.KindScrollNewMessages, NewMessages{TargetKey: target})
	}
}

// JumpToLatest scrolls to the bottom and clears the new-messages notice.
func (c *Controller) JumpToLatest() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.scrollTop = c.bottomLocked()
	c.atBottom = true
	c.hasNew = false
	if c.target != "" {
		c.records[c.target] = c.scrollTop
	}
	c.persistLocked()
}

// ScrollTop returns the active conversation's offset.
func (c *Controller) ScrollTop() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scrollTop
}

// IsAtBottom reports whether the reader is within the near-bottom
// threshold of the end.
func (c *Controller) IsAtBottom() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.atBottom
}

// HasNewMessages reports whether messages arrived while scrolled away
// from the bottom.
func (c *Controller) HasNewMessages() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasNew
}

func (c *Controller) bottomLocked() int {
	bottom := c.totalHeight - c.viewportHeight
	if bottom < 0 {
		bottom = 0
	}
	return bottom
}

func (c *Controller) recomputeLocked() {
	c.atBottom = c.totalHeight-c.scrollTop-c.viewportHeight < c.threshold
}

func (c *Controller) persistLocked() {
	if c.positions == nil || c.target == "" {
		return
	}
	if err := c.positions.SaveScrollPosition(c.target, c.scrollTop); err != nil {
		c.logger.Warn("failed to save scroll position",
			zap.String("target", c.target), zap.Error(err))
	}
}
