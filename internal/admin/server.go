// Package admin serves the rig's HTTP surface: health, session status,
// operator fault reports, and prometheus metrics.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/rigctl/internal/observability"
	"github.com/danmuck/rigctl/internal/robot"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const shutdownGrace = 2 * time.Second

// Session is the view of the robot session the admin surface needs. Both
// methods are safe to call while the control loop runs.
type Session interface {
	Diagnose() robot.Status
	ReportError(reason string)
}

type Server struct {
	Rig     string
	Addr    string
	Started time.Time

	session Session
	router  *gin.Engine
}

type faultRequest struct {
	Reason string `json:"reason"`
}

func New(rig, addr string, session Session, corsOrigins []string) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(rig))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Rig:     rig,
		Addr:    addr,
		Started: time.Now(),
		session: session,
		router:  r,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ok":     true,
			"rig":    s.Rig,
			"uptime": time.Since(s.Started).String(),
		})
	})

	s.router.GET("/status", func(c *gin.Context) {
		st := s.session.Diagnose()
		c.JSON(http.StatusOK, gin.H{
			"rig":       s.Rig,
			"phase":     st.Phase,
			"ready":     st.Ready,
			"error":     st.Error,
			"kinds":     st.Kinds(),
			"diagnosis": st,
		})
	})

	s.router.POST("/faults", func(c *gin.Context) {
		var req faultRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fault report: " + err.Error()})
			return
		}
		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
			return
		}
		s.session.ReportError(reason)
		log.Warn().Str("rig", s.Rig).Str("reason", reason).Str("client_ip", c.ClientIP()).Msg("operator fault")
		c.JSON(http.StatusAccepted, gin.H{
			"status": "faulted",
			"phase":  s.session.Diagnose().Phase,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Serve listens on Addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("rig", s.Rig).Str("addr", s.Addr).Msg("admin listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
