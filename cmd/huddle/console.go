package main

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/huddle-live/huddle/internal/domain"
)

// consolePlayer simulates a media player for the headless CLI: it
// tracks position by wall clock so drift reconciliation has a real
// value to compare against.
type consolePlayer struct {
	mu       sync.Mutex
	state    domain.PlayerState
	position float64
	playedAt time.Time
}

func (p *consolePlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == domain.PlayerPlaying {
		return
	}
	p.state = domain.PlayerPlaying
	p.playedAt = time.Now()
	log.Info().Str("module", "console.player").Msg("play")
}

func (p *consolePlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == domain.PlayerPlaying {
		p.position += time.Since(p.playedAt).Seconds()
	}
	p.state = domain.PlayerPaused
	log.Info().Str("module", "console.player").Float64("position", p.position).Msg("pause")
}

func (p *consolePlayer) Seek(position float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = position
	p.playedAt = time.Now()
	log.Info().Str("module", "console.player").Float64("position", position).Msg("seek")
}

func (p *consolePlayer) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == domain.PlayerPlaying {
		return p.position + time.Since(p.playedAt).Seconds()
	}
	return p.position
}

func (p *consolePlayer) State() domain.PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == "" {
		return domain.PlayerPaused
	}
	return p.state
}

// consoleCanvas renders nothing; it counts strokes so "who is drawing
// what" is at least visible in the logs.
type consoleCanvas struct {
	mu       sync.Mutex
	segments int
}

func (c *consoleCanvas) DrawSegment(domain.DrawSegment) {
	c.mu.Lock()
	c.segments++
	n := c.segments
	c.mu.Unlock()
	if n%100 == 0 {
		log.Debug().Str("module", "console.canvas").Int("segments", n).Msg("canvas update")
	}
}

func (c *consoleCanvas) Clear() {
	c.mu.Lock()
	c.segments = 0
	c.mu.Unlock()
	log.Info().Str("module", "console.canvas").Msg("canvas cleared")
}
