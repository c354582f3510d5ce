package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/huddle-live/huddle/internal/adapters/rtc"
	sigclient "github.com/huddle-live/huddle/internal/adapters/signal"
	"github.com/huddle-live/huddle/internal/app"
	"github.com/huddle-live/huddle/internal/config"
	"github.com/huddle-live/huddle/internal/domain"
)

func main() {
	joinTarget := flag.String("join", "", "peer id of an existing huddle member to join")
	name := flag.String("name", "", "display name (overrides config)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if *name != "" {
		cfg.DisplayName = *name
	}

	id := domain.NewPeerID(cfg.DisplayName)
	log.Info().Str("peer", string(id)).Msg("local peer id")

	sig, err := sigclient.Dial(ctx, cfg.RendezvousURL, id)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.RendezvousURL).Msg("rendezvous dial failed")
	}

	// The transport registers its envelope handler before the read
	// pump starts, so no early signal is lost.
	transport, err := rtc.NewTransport(ctx, id, cfg.StunServers, sig)
	if err != nil {
		log.Fatal().Err(err).Msg("transport init failed")
	}
	sig.Start(ctx)

	session := app.NewSession(cfg, id, transport, &consolePlayer{}, &consoleCanvas{})
	session.Start(ctx)

	if *joinTarget != "" {
		session.Join(domain.PeerID(*joinTarget))
	} else {
		log.Info().Int("capacity", cfg.Capacity).Msg("hosting; share your peer id to invite guests")
	}

	go readCommands(ctx, session)

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	session.Leave()
	transport.Close()
	sig.Close()
	log.Info().Msg("Session exited gracefully")
}

// readCommands drives the session from stdin: a stand-in control
// surface until a real frontend binds to the session API.
func readCommands(ctx context.Context, s *app.Session) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cmd, rest, _ := strings.Cut(line, " ")
		switch cmd {
		case "say":
			s.SendChat(rest)
		case "mute":
			s.SetMuted(true)
		case "unmute":
			s.SetMuted(false)
		case "deafen":
			s.SetDeafened(true)
		case "undeafen":
			s.SetDeafened(false)
		case "rename":
			if err := s.Rename(rest); err != nil {
				log.Error().Err(err).Msg("rename")
			}
		case "pin":
			s.Pin(domain.PeerID(rest))
		case "watch":
			s.StartPlayback()
		case "draw":
			s.StartDrawing()
		case "stop":
			if s.Playback.Active() {
				s.StopPlayback()
			}
			if s.Drawing.Active() {
				s.StopDrawing()
			}
		case "who":
			for _, p := range s.Store.Snapshot() {
				fmt.Printf("  %s (%s)\n", p.DisplayName, p.ID)
			}
		default:
			log.Warn().Str("cmd", cmd).Msg("unknown command")
		}
	}
}
