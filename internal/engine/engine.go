// Package engine composes the delivery pipeline with the timeline state
// of the active conversation. It owns the resident message slice, feeds
// the grouping pass and the render window, and reconciles the optimistic
// local echo of own sends with the transport's authoritative copy by
// client message id.
package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quillchat/quill/internal/bus"
	"github.com/quillchat/quill/internal/config"
	"github.com/quillchat/quill/internal/conn"
	"github.com/quillchat/quill/internal/outbound"
	"github.com/quillchat/quill/internal/scroll"
	"github.com/quillchat/quill/internal/store"
	"github.com/quillchat/quill/internal/timeline"
	"github.com/quillchat/quill/internal/transport"
	"github.com/quillchat/quill/internal/typing"
	"github.com/quillchat/quill/internal/viewport"
)

// ErrNoConversation is returned by Submit before any conversation has
// been opened.
var ErrNoConversation = errors.New("engine: no active conversation")

// Engine is the composition root of the chat core. All mutation of the
// active conversation's state flows through it.
type Engine struct {
	mu      sync.Mutex
	cfg     config.Engine
	bus     *bus.Bus
	logger  *zap.Logger
	db      *store.DB
	tracker *conn.Tracker
	queue   *outbound.Queue
	tr      transport.Transport
	self    store.Author

	window     *viewport.Window
	scroll     *scroll.Controller
	debouncer  *typing.Debouncer
	aggregator *typing.Aggregator

	active         string
	messages       []*store.Message // chronological, resident-capped
	byID           map[string]int   // msg_id -> index into messages
	viewportHeight int
	cancel         context.CancelFunc
}

// New assembles an engine. self identifies the local user for optimistic
// echoes of own sends.
func New(cfg config.Engine, db *store.DB, tracker *conn.Tracker, queue *outbound.Queue, tr transport.Transport, b *bus.Bus, logger *zap.Logger, self store.Author) *Engine {
	debounce := time.Duration(cfg.TypingDebounceMs) * time.Millisecond
	return &Engine{
		cfg:        cfg,
		bus:        b,
		logger:     logger,
		db:         db,
		tracker:    tracker,
		queue:      queue,
		tr:         tr,
		self:       self,
		window:     viewport.New(cfg.Overscan, cfg.MaxResidentItems),
		scroll:     scroll.New(b, db, cfg.NearBottomThresholdPx, logger),
		debouncer:  typing.NewDebouncer(tr, debounce),
		aggregator: typing.NewAggregator(b, debounce),
		byID:       make(map[string]int),
	}
}

// Start restores the journaled queue, registers the transport handler and
// opens the connection. Delivery lifecycle events are consumed to keep
// resident message statuses current.
func (e *Engine) Start(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)

	if err := e.queue.Restore(); err != nil {
		e.logger.Warn("failed to restore outbox journal", zap.Error(err))
	}
	e.queue.Start(ctx)

	ch, unsub := e.bus.Subscribe("message.", 64)
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.onDeliveryEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()

	e.tr.SetHandler(e)
	return e.tr.Connect(ctx)
}

// Stop tears down the queue, the typing debouncer and the transport.
func (e *Engine) Stop() error {
	e.debouncer.Cancel()
	e.queue.Stop()
	if e.cancel != nil {
		e.cancel()
	}
	return e.tr.Close()
}

// HandleConnected implements transport.Handler. A connection following a
// deliberate disconnect resumes through Connecting.
func (e *Engine) HandleConnected() {
	if err := e.tracker.Transition(conn.Connected); err == nil {
		return
	}
	if err := e.tracker.Transition(conn.Connecting); err != nil {
		e.logger.Warn("connection state", zap.Error(err))
		return
	}
	if err := e.tracker.Transition(conn.Connected); err != nil {
		e.logger.Warn("connection state", zap.Error(err))
	}
}

// HandleDisconnected implements transport.Handler.
func (e *Engine) HandleDisconnected() {
	if err := e.tracker.Transition(conn.Disconnected); err != nil {
		e.logger.Warn("connection state", zap.Error(err))
	}
}

// HandleReconnecting implements transport.Handler.
func (e *Engine) HandleReconnecting(attempt int) {
	if err := e.tracker.Transition(conn.Reconnecting); err != nil {
		e.logger.Warn("connection state", zap.Error(err))
	}
}

// HandleFault implements transport.Handler.
func (e *Engine) HandleFault(err error) {
	e.logger.Error("transport fault", zap.Error(err))
	if terr := e.tracker.Transition(conn.Error); terr != nil {
		e.logger.Warn("connection state", zap.Error(terr))
	}
}

// HandleMessage implements transport.Handler. Inbound messages are
// ingested idempotently: an echo of an own send carries the same client
// id as the optimistic copy and replaces it rather than duplicating it.
func (e *Engine) HandleMessage(msg *transport.Inbound) {
	m := &store.Message{
		TargetKey:   msg.TargetKey,
		MsgID:       msg.ID,
		AuthorID:    msg.AuthorID,
		AuthorName:  msg.AuthorName,
		Body:        msg.Body,
		Attachments: msg.Attachments,
		ReplyTo:     msg.ReplyTo,
		FromMe:      msg.FromMe,
		Edited:      msg.Edited,
		Deleted:     msg.Deleted,
		Timestamp:   msg.Timestamp,
	}
	if msg.FromMe {
		m.Status = store.StatusSent
	}

	if msg.AuthorID != "" {
		if err := e.db.UpsertAuthor(&store.Author{
			AuthorID:    msg.AuthorID,
			DisplayName: msg.AuthorName,
			Username:    msg.Username,
			AvatarURL:   msg.AvatarURL,
		}); err != nil {
			e.logger.Warn("failed to upsert author", zap.Error(err))
		}
	}
	if err := e.db.UpsertConversation(&store.Conversation{
		TargetKey:          msg.TargetKey,
		Kind:               kindOf(msg.TargetKey),
		LastMessageAt:      msg.Timestamp,
		LastMessagePreview: preview(m),
	}); err != nil {
		e.logger.Warn("failed to upsert conversation", zap.Error(err))
	}

	var err error
	if msg.Deleted {
		err = e.db.TombstoneMessage(msg.TargetKey, msg.ID)
	} else {
		err = e.db.UpsertMessage(m)
	}
	if err != nil {
		e.logger.Error("failed to store inbound message",
			zap.String("msg_id", msg.ID), zap.Error(err))
		return
	}

	e.mu.Lock()
	if msg.TargetKey != e.active {
		e.mu.Unlock()
		return
	}
	appended := e.reconcileLocked(m)
	e.rebuildLocked()
	total := e.window.TotalHeight()
	e.mu.Unlock()

	if appended && !msg.FromMe {
		e.scroll.OnNewMessage(total)
	}
	e.bus.PublishKind(bus.KindMessageUpserted, m)
}

// HandleTyping implements transport.Handler.
func (e *Engine) HandleTyping(targetKey, userID, displayName string, started bool) {
	e.aggregator.Observe(targetKey, userID, displayName, started)
}

// Submit sends or queues composer content for the active conversation and
// renders it immediately as a pending or sent own message. The composer's
// typing signal stops with the send.
func (e *Engine) Submit(ctx context.Context, content string, attachments []string, replyTo string) (*store.Message, error) {
	e.mu.Lock()
	target := e.active
	e.mu.Unlock()
	if target == "" {
		return nil, ErrNoConversation
	}

	out, pending, err := e.queue.Send(ctx, target, content, attachments, replyTo)
	if err != nil {
		return nil, err
	}
	e.debouncer.Cancel()

	m := &store.Message{
		TargetKey:   target,
		MsgID:       out.ID,
		AuthorID:    e.self.AuthorID,
		AuthorName:  e.self.DisplayName,
		Body:        out.Body,
		Attachments: out.Attachments,
		ReplyTo:     out.ReplyTo,
		FromMe:      true,
		Status:      store.StatusSent,
		Timestamp:   out.CreatedAt.UnixMilli(),
	}
	if pending {
		m.Status = store.StatusPending
	}
	if err := e.db.UpsertMessage(m); err != nil {
		e.logger.Error("failed to store own message",
			zap.String("msg_id", m.MsgID), zap.Error(err))
	}

	e.mu.Lock()
	e.reconcileLocked(m)
	e.rebuildLocked()
	e.mu.Unlock()

	// Own sends always reveal themselves.
	e.scroll.JumpToLatest()
	e.bus.PublishKind(bus.KindMessageUpserted, m)
	return m, nil
}

// OnContentChange feeds a composer edit into the typing debouncer.
func (e *Engine) OnContentChange(text string) {
	e.debouncer.OnContentChange(text)
}

// SetComposing marks an IME composition session on the composer.
func (e *Engine) SetComposing(composing bool) {
	e.debouncer.SetComposing(composing)
}

// SwitchConversation activates targetKey: the previous conversation's
// scroll offset is saved and its typing signal stopped, the resident
// slice is seeded from stored history, and the recorded offset restored.
func (e *Engine) SwitchConversation(targetKey string) error {
	e.debouncer.SwitchTarget(targetKey)
	e.scroll.SwitchTo(targetKey)

	history, err := e.db.ListMessages(targetKey, 0, e.cfg.MaxResidentItems)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.active = targetKey
	// ListMessages returns newest first; residents are chronological.
	e.messages = make([]*store.Message, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		e.messages = append(e.messages, &m)
	}
	e.reindexLocked()
	e.rebuildLocked()
	e.mu.Unlock()
	return nil
}

// ActiveTarget returns the active conversation key.
func (e *Engine) ActiveTarget() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// SetViewportSize informs the engine of the render surface height.
func (e *Engine) SetViewportSize(heightPx int) {
	e.mu.Lock()
	e.viewportHeight = heightPx
	total := e.window.TotalHeight()
	e.mu.Unlock()
	e.scroll.SetExtent(total, heightPx)
}

// GetVisibleRange returns the render window's index range for a scroll
// position.
func (e *Engine) GetVisibleRange(scrollTop, viewportHeight int) (int, int) {
	return e.window.VisibleRange(scrollTop, viewportHeight)
}

// ReportMeasuredHeight feeds a laid-out item height back into the window.
func (e *Engine) ReportMeasuredHeight(itemID string, height int) {
	e.window.ReportMeasuredHeight(itemID, height)
	e.mu.Lock()
	vh := e.viewportHeight
	total := e.window.TotalHeight()
	e.mu.Unlock()
	e.scroll.SetExtent(total, vh)
}

// OnScroll records a user scroll of the thread view.
func (e *Engine) OnScroll(scrollTop int) {
	e.scroll.OnScroll(scrollTop)
}

// JumpToLatest scrolls to the bottom and clears the new-messages notice.
func (e *Engine) JumpToLatest() {
	e.scroll.JumpToLatest()
}

// Window exposes the render window for materialization.
func (e *Engine) Window() *viewport.Window {
	return e.window
}

// ConnectionState returns the tracker's current state.
func (e *Engine) ConnectionState() conn.State {
	return e.tracker.Current()
}

// QueuedCount returns the number of messages awaiting delivery.
func (e *Engine) QueuedCount() int {
	return e.queue.QueuedCount()
}

// RenderItems returns the current item sequence for the active
// conversation.
func (e *Engine) RenderItems() []timeline.Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return timeline.GroupAndDivide(e.messages, e.cfg.GroupingEnabled)
}

// ScrollTop returns the active conversation's scroll offset.
func (e *Engine) ScrollTop() int {
	return e.scroll.ScrollTop()
}

// IsAtBottom reports whether the reader is at the bottom of the thread.
func (e *Engine) IsAtBottom() bool {
	return e.scroll.IsAtBottom()
}

// HasNewMessages reports whether messages arrived while scrolled away.
func (e *Engine) HasNewMessages() bool {
	return e.scroll.HasNewMessages()
}

// TypingDisplayText returns the aggregated typing indicator text for the
// active conversation.
func (e *Engine) TypingDisplayText() string {
	e.mu.Lock()
	target := e.active
	e.mu.Unlock()
	return e.aggregator.DisplayText(target)
}

// onDeliveryEvent keeps resident own-message statuses in step with the
// queue's lifecycle events.
func (e *Engine) onDeliveryEvent(evt bus.Event) {
	var id, targetKey, status string
	switch evt.Kind {
	case bus.KindMessageSendAck:
		m, ok := evt.Payload.(*outbound.Message)
		if !ok {
			return
		}
		id, targetKey, status = m.ID, m.TargetKey, store.StatusSent
	case bus.KindMessageDropped:
		d, ok := evt.Payload.(outbound.Delivery)
		if !ok {
			return
		}
		id, targetKey, status = d.Message.ID, d.Message.TargetKey, store.StatusFailed
	default:
		return
	}

	if err := e.db.SetMessageStatus(targetKey, id, status); err != nil {
		e.logger.Warn("failed to update message status",
			zap.String("msg_id", id), zap.Error(err))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if targetKey != e.active {
		return
	}
	if i, ok := e.byID[id]; ok {
		e.messages[i].Status = status
		e.rebuildLocked()
	}
}

// reconcileLocked merges m into the resident slice by client message id.
// Returns true when m was appended as a new message rather than replacing
// an existing copy.
func (e *Engine) reconcileLocked(m *store.Message) bool {
	if i, ok := e.byID[m.MsgID]; ok {
		if m.Timestamp <= 0 {
			m.Timestamp = e.messages[i].Timestamp
		}
		e.messages[i] = m
		return false
	}
	e.messages = append(e.messages, m)
	e.byID[m.MsgID] = len(e.messages) - 1
	return true
}

// rebuildLocked recomputes items and pushes them through the window and
// the scroll extent. The resident cap evicts oldest messages first.
func (e *Engine) rebuildLocked() {
	if n := len(e.messages); e.cfg.MaxResidentItems > 0 && n > e.cfg.MaxResidentItems {
		e.messages = append([]*store.Message(nil), e.messages[n-e.cfg.MaxResidentItems:]...)
		e.reindexLocked()
	}
	items := timeline.GroupAndDivide(e.messages, e.cfg.GroupingEnabled)
	e.window.SetItems(items)
	e.scroll.SetExtent(e.window.TotalHeight(), e.viewportHeight)
}

func (e *Engine) reindexLocked() {
	e.byID = make(map[string]int, len(e.messages))
	for i, m := range e.messages {
		e.byID[m.MsgID] = i
	}
}

func kindOf(targetKey string) store.TargetKind {
	if strings.HasPrefix(targetKey, "direct:") {
		return store.TargetDirect
	}
	return store.TargetChannel
}

func preview(m *store.Message) string {
	if m.Deleted {
		return ""
	}
	if m.Body != "" {
		return m.Body
	}
	if len(m.Attachments) > 0 {
		return "[attachment]"
	}
	return ""
}
