package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/danmuck/relaychat/internal/auth"
	"github.com/danmuck/relaychat/internal/observability"
	"github.com/danmuck/relaychat/internal/relay"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Stats is the /stats response body.
type Stats struct {
	ActiveClients int64       `json:"active_clients"`
	Ready         bool        `json:"ready"`
	Relay         relay.Stats `json:"relay"`
}

func (s *Service) Stats() Stats {
	return Stats{
		ActiveClients: s.ActiveClients(),
		Ready:         s.Ready(),
		Relay:         s.relay.Stats(),
	}
}

// AdminRouter builds the admin HTTP surface. Sessions opened through the
// websocket gateway run until ctx ends or the peer leaves.
func (s *Service) AdminRouter(ctx context.Context) *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(observability.ComponentLogger("relay-admin")))
	r.Use(observability.RequestMetricsMiddleware("relay"))
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: s.cfg.CORSOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Authorization"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if !s.Ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ready": true})
	})

	stats := []gin.HandlerFunc{func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Stats())
	}}
	if token := strings.TrimSpace(s.cfg.AdminToken); token != "" {
		stats = append([]gin.HandlerFunc{auth.RequireBearer(auth.StaticToken{Token: token})}, stats...)
	}
	r.GET("/stats", stats...)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if s.cfg.WebSocketEnabled {
		r.GET(s.cfg.WebSocketPath, s.websocketHandler(ctx))
	}
	return r
}

func (s *Service) serveAdmin(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.AdminRouter(ctx),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Bool("websocket", s.cfg.WebSocketEnabled).Msg("relay.Service admin listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// websocketHandler upgrades the request and runs the line protocol over the
// websocket byte stream, one frame per text message.
func (s *Service) websocketHandler(ctx context.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
			OriginPatterns: originPatterns(s.cfg.CORSOrigins),
		})
		if err != nil {
			log.Warn().Err(err).Str("remote", c.Request.RemoteAddr).Msg("relay.websocket accept failed")
			return
		}
		conn := websocket.NetConn(c.Request.Context(), ws, websocket.MessageText)
		s.ServeConn(ctx, conn, TransportWebSocket)
	}
}

// originPatterns reduces configured CORS origins to the host patterns the
// websocket handshake checks.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, origin)
	}
	return out
}
