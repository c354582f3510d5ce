package rendezvous

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/huddle-live/huddle/internal/config"
)

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type Server struct {
	cfg     *config.Config
	sw      *Switchboard
	limiter *RegisterRateLimiter
}

func NewServer(cfg *config.Config) *Server {
	return &Server{
		cfg:     cfg,
		sw:      NewSwitchboard(),
		limiter: NewRegisterRateLimiter(cfg.RateLimit, cfg.RateWindow),
	}
}

func (s *Server) Switchboard() *Switchboard { return s.sw }

func SetupRouter(ctx context.Context, cfg *config.Config, s *Server) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("HuddleSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"peers": s.sw.Count()})
	})

	log.Info().Str("module", "rendezvous").Msg("router setup")

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "rendezvous").Str("sid", c.GetString("client_token")).Msg("ws signal endpoint hit")
		s.HandleSignal(ctx, c)
	})

	return r
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsConn struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func (c *wsConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (s *Server) HandleSignal(ctx context.Context, c *gin.Context) {
	peerID := c.Query("peer")
	if peerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "peer query param required"})
		return
	}
	if !s.limiter.Allow(peerID) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many registration attempts"})
		return
	}

	wire, err := s.sw.Register(peerID)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.sw.Unregister(peerID)
		log.Error().Err(err).Str("module", "rendezvous").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "rendezvous").Str("peer", peerID).Msg("new WS connection")

	conn := &wsConn{conn: ws}
	ctx, cancel := context.WithCancel(ctx)

	go s.writePump(ctx, cancel, peerID, conn, wire)
	go s.readPump(ctx, cancel, peerID, conn)
}

func (s *Server) writePump(ctx context.Context, cancel context.CancelFunc, peerID string, c *wsConn, wire Wire) {
	pinger := time.NewTicker(s.cfg.PingPeriod)
	defer func() {
		pinger.Stop()
		cancel()
		c.close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "rendezvous").Str("peer", peerID).Msg("writePump ctx done")
			return
		case <-pinger.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "rendezvous").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("module", "rendezvous").Msg("writePump ping error")
				return
			}
		case data, ok := <-wire.TX:
			if !ok {
				log.Warn().Str("module", "rendezvous").Str("peer", peerID).Msg("writePump wire closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "rendezvous").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "rendezvous").Msg("writePump write error")
				return
			}
		}
	}
}

func (s *Server) readPump(ctx context.Context, cancel context.CancelFunc, peerID string, c *wsConn) {
	defer func() {
		log.Info().Str("module", "rendezvous").Str("peer", peerID).Msg("readPump closing")
		cancel()
		s.sw.Unregister(peerID)
		c.close()
	}()

	c.conn.SetReadLimit(s.cfg.ReadLimit)
	readWait := s.cfg.PingPeriod + 10*time.Second
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "rendezvous").Str("peer", peerID).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "rendezvous").Str("peer", peerID).Msg("readPump read error")
				return
			}
			s.sw.Route(peerID, data)
		}
	}
}
