// Package drawing replicates a multi-page drawing surface: every
// participant replays every segment it has received or produced, in
// receipt order, so identical delivered sets converge to identical
// rasters.
package drawing

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/huddle-live/huddle/internal/domain"
	"github.com/huddle-live/huddle/internal/protocol"
)

// DefaultFlushInterval bounds the outbound message rate independently
// of pointer sampling: a drag gesture coalesces into one batch per tick.
const DefaultFlushInterval = 25 * time.Millisecond

// Canvas is the external rendering collaborator.
type Canvas interface {
	DrawSegment(domain.DrawSegment)
	Clear()
}

// Sender routes outbound messages; the message router implements it.
type Sender interface {
	Send(to domain.PeerID, v any)
	Broadcast(v any)
}

type Board struct {
	logger zerolog.Logger

	mu         sync.Mutex
	send       Sender
	canvas     Canvas
	active     bool
	page       int
	history    map[int][]domain.DrawSegment
	pending    []domain.DrawSegment
	flushEvery time.Duration
	cancel     context.CancelFunc
}

func NewBoard(send Sender, canvas Canvas, flushEvery time.Duration) *Board {
	if flushEvery <= 0 {
		flushEvery = DefaultFlushInterval
	}
	return &Board{
		logger:     log.With().Str("module", "activity.drawing").Logger(),
		send:       send,
		canvas:     canvas,
		history:    make(map[int][]domain.DrawSegment),
		flushEvery: flushEvery,
	}
}

// Start begins the activity as initiator: announce and run the batch
// flush loop until ctx is cancelled or Stop is called.
func (b *Board) Start(ctx context.Context) {
	b.begin(ctx)
	b.broadcast(protocol.ActionStart, nil)
}

// Join begins the activity as a late joiner: instead of announcing,
// ask exactly one established participant for the full history. A
// single responder keeps the append-only log duplicate-free; asking
// everyone would land every segment once per responder. The dump is
// the only catch-up mechanism; with no peer to ask there is nothing
// to catch up on.
func (b *Board) Join(ctx context.Context, from domain.PeerID) {
	b.begin(ctx)
	if from != "" {
		b.request(from, protocol.ActionSyncRequest, nil)
	}
}

func (b *Board) begin(ctx context.Context) {
	b.mu.Lock()
	if b.active {
		b.mu.Unlock()
		return
	}
	b.active = true
	ctx, b.cancel = context.WithCancel(ctx)
	b.mu.Unlock()
	go b.loop(ctx)
}

// Stop cancels the flush loop cooperatively. Page histories persist
// locally; only the timer dies.
func (b *Board) Stop() {
	b.mu.Lock()
	if !b.active {
		b.mu.Unlock()
		return
	}
	b.active = false
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.broadcast(protocol.ActionStop, nil)
}

func (b *Board) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// loop flushes the pending batch on a fixed tick. The tick callback
// re-checks liveness before acting so a cancelled board never sends
// against closed channels.
func (b *Board) loop(ctx context.Context) {
	ticker := time.NewTicker(b.flushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.mu.Lock()
			alive := b.active
			b.mu.Unlock()
			if !alive {
				return
			}
			b.Flush()
		}
	}
}

// AddLocal records one stroke segment: rendered immediately, appended
// to the page history, queued for the next network flush.
func (b *Board) AddLocal(seg domain.DrawSegment) {
	b.mu.Lock()
	if !b.active {
		b.mu.Unlock()
		return
	}
	b.history[b.page] = append(b.history[b.page], seg)
	b.pending = append(b.pending, seg)
	b.mu.Unlock()
	b.canvas.DrawSegment(seg)
}

// Flush broadcasts the pending batch, if any. Exposed for page/clear
// paths that must not let a batch straddle a page boundary.
func (b *Board) Flush() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	msg, err := protocol.NewActivity(protocol.ActivityDrawing, protocol.ActionSegments, protocol.Segments{
		Page:     b.page,
		Segments: b.pending,
	})
	b.pending = nil
	b.mu.Unlock()
	if err != nil {
		b.logger.Error().Err(err).Msg("segments marshal")
		return
	}
	b.send.Broadcast(msg)
}

// ClearLocal wipes the current page. Destructive and unreplayable:
// the clear itself is not remembered, so a peer that missed it only
// converges via a fresh sync-request.
func (b *Board) ClearLocal() {
	b.Flush()
	b.mu.Lock()
	page := b.page
	delete(b.history, page)
	b.pending = nil
	b.mu.Unlock()
	b.canvas.Clear()
	b.broadcast(protocol.ActionClear, protocol.Clear{Page: page})
}

// SetPageLocal switches the displayed page everywhere and replays the
// target page's local history onto the cleared raster.
func (b *Board) SetPageLocal(page int) {
	b.Flush()
	b.setPage(page)
	b.broadcast(protocol.ActionPage, protocol.Page{Page: page})
}

func (b *Board) setPage(page int) {
	b.mu.Lock()
	b.page = page
	replay := make([]domain.DrawSegment, len(b.history[page]))
	copy(replay, b.history[page])
	b.mu.Unlock()
	b.canvas.Clear()
	for _, seg := range replay {
		b.canvas.DrawSegment(seg)
	}
}

func (b *Board) Page() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.page
}

// History returns a copy of one page's segment log.
func (b *Board) History(page int) []domain.DrawSegment {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.DrawSegment, len(b.history[page]))
	copy(out, b.history[page])
	return out
}

// HandleRemote consumes a routed drawing activity message.
func (b *Board) HandleRemote(from domain.PeerID, action string, data json.RawMessage) {
	switch action {
	case protocol.ActionStart:
		// Remote started the board; local side joins on user intent,
		// nothing to do here beyond presence (handled via status).
	case protocol.ActionStop:
	case protocol.ActionSegments:
		var p protocol.Segments
		if err := json.Unmarshal(data, &p); err != nil {
			b.logger.Warn().Err(err).Str("peer", string(from)).Msg("bad segments payload")
			return
		}
		b.applySegments(p)
	case protocol.ActionClear:
		var p protocol.Clear
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		b.applyClear(p.Page)
	case protocol.ActionPage:
		var p protocol.Page
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		b.setPage(p.Page)
	case protocol.ActionSyncRequest:
		b.dumpHistory(from)
	default:
		b.logger.Debug().Str("action", action).Msg("unknown drawing action ignored")
	}
}

// applySegments stores the batch and renders it only when it targets
// the displayed page; off-page segments appear on a later page switch
// through full replay.
func (b *Board) applySegments(p protocol.Segments) {
	b.mu.Lock()
	b.history[p.Page] = append(b.history[p.Page], p.Segments...)
	render := p.Page == b.page
	b.mu.Unlock()
	if !render {
		return
	}
	for _, seg := range p.Segments {
		b.canvas.DrawSegment(seg)
	}
}

func (b *Board) applyClear(page int) {
	b.mu.Lock()
	delete(b.history, page)
	wipe := page == b.page
	if wipe {
		b.pending = nil
	}
	b.mu.Unlock()
	if wipe {
		b.canvas.Clear()
	}
}

// dumpHistory answers a sync-request with the entire history, every
// page as one batch, straight to the requester.
func (b *Board) dumpHistory(to domain.PeerID) {
	b.mu.Lock()
	pages := make([]int, 0, len(b.history))
	for page := range b.history {
		pages = append(pages, page)
	}
	sort.Ints(pages)
	batches := make([]protocol.Segments, 0, len(pages))
	for _, page := range pages {
		segs := make([]domain.DrawSegment, len(b.history[page]))
		copy(segs, b.history[page])
		batches = append(batches, protocol.Segments{Page: page, Segments: segs})
	}
	b.mu.Unlock()

	b.logger.Info().Str("peer", string(to)).Int("pages", len(batches)).Msg("answering sync-request")
	for _, batch := range batches {
		msg, err := protocol.NewActivity(protocol.ActivityDrawing, protocol.ActionSegments, batch)
		if err != nil {
			b.logger.Error().Err(err).Msg("history marshal")
			continue
		}
		b.send.Send(to, msg)
	}
}

func (b *Board) broadcast(action string, payload any) {
	msg, err := protocol.NewActivity(protocol.ActivityDrawing, action, payload)
	if err != nil {
		b.logger.Error().Err(err).Str("action", action).Msg("activity marshal")
		return
	}
	b.send.Broadcast(msg)
}

func (b *Board) request(to domain.PeerID, action string, payload any) {
	msg, err := protocol.NewActivity(protocol.ActivityDrawing, action, payload)
	if err != nil {
		b.logger.Error().Err(err).Str("action", action).Msg("activity marshal")
		return
	}
	b.send.Send(to, msg)
}
