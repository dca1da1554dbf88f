// Package web serves the token-protected links handed out in chat: profile
// file downloads and config editing. It also exposes /metrics.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"factorio-server-manager/db"
	"factorio-server-manager/domain"
	"factorio-server-manager/logger"
	"factorio-server-manager/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxConfigSize = 1 << 20

// Profiles is the profile side the server needs.
type Profiles interface {
	ValidateToken(ctx context.Context, name, token string) (db.Profile, error)
	FilePath(name, file string) (string, error)
	Configs(p db.Profile) (map[string]json.RawMessage, error)
	WriteConfig(p db.Profile, name string, data []byte) error
}

// Server is the link server.
type Server struct {
	profiles Profiles
	addr     string
	log      *zap.SugaredLogger
	engine   *gin.Engine
}

// NewServer builds the router.
func NewServer(profiles Profiles, addr string, log *zap.SugaredLogger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{profiles: profiles, addr: addr, log: logger.OrNop(log), engine: gin.New()}
	s.engine.Use(gin.Recovery(), s.accessLog())

	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	s.engine.GET("/files/:profile/:token/*file", s.requireToken("files"), s.downloadFile)
	s.engine.GET("/edit/:profile/:token", s.requireToken("edit"), s.getConfigs)
	s.engine.PUT("/edit/:profile/:token/:config", s.requireToken("edit"), s.putConfig)
	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("Link server listening", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		// the token is part of the path, log the route instead
		s.log.Debugw("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

func (s *Server) requireToken(route string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := s.profiles.ValidateToken(c.Request.Context(), c.Param("profile"), c.Param("token"))
		metrics.RecordLinkRequest(route, err == nil)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": domain.ErrForbidden.Error()})
			return
		}
		c.Set("profile", p)
		c.Next()
	}
}

func profileOf(c *gin.Context) db.Profile {
	return c.MustGet("profile").(db.Profile)
}

func (s *Server) downloadFile(c *gin.Context) {
	p := profileOf(c)
	path, err := s.profiles.FilePath(p.Name, c.Param("file"))
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}

func (s *Server) getConfigs(c *gin.Context) {
	configs, err := s.profiles.Configs(profileOf(c))
	if err != nil {
		s.log.Errorw("Failed to read configs", zap.Error(err))
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, configs)
}

func (s *Server) putConfig(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxConfigSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.profiles.WriteConfig(profileOf(c), c.Param("config"), data); err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
