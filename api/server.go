// Package api exposes drawing sessions over HTTP and WebSocket.
package api

import (
	"context"
	_ "embed"
	"errors"
	"io"
	"net/http"
	"time"

	iface "SketchDetect/interface"
	"SketchDetect/logger"
	"SketchDetect/monitor"
	"SketchDetect/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxUpload caps multipart image uploads.
const maxUpload = 20 << 20

//go:embed static/index.html
var indexHTML []byte

// Pinger reports whether the model server answers its ping endpoint.
type Pinger interface {
	Ping(ctx context.Context) bool
}

type Server struct {
	mgr    *session.Manager
	pinger Pinger
	engine *gin.Engine
	log    *zap.Logger
}

func New(mgr *session.Manager, pinger Pinger) *Server {
	s := &Server{
		mgr:    mgr,
		pinger: pinger,
		engine: gin.New(),
		log:    logger.Named("api"),
	}
	s.engine.Use(gin.Recovery(), s.accessLog(), cors())
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	r := s.engine
	r.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
	})
	r.GET("/metrics", gin.WrapH(monitor.Handler()))
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/health", s.health)

	r.POST("/api/sessions", s.createSession)
	sess := r.Group("/api/sessions/:id", s.loadSession)
	sess.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, sessionFrom(c).View())
	})
	sess.DELETE("", func(c *gin.Context) {
		if !s.mgr.Release(c.Param("id")) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": "Session released"})
	})
	sess.POST("/pointer", s.pointer)
	sess.POST("/brush", s.brush)
	sess.POST("/reset", func(c *gin.Context) {
		c.JSON(http.StatusOK, sessionFrom(c).Reset())
	})
	sess.POST("/upload", s.upload)
	sess.GET("/canvas.png", s.canvasPNG)
	sess.POST("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, sessionFrom(c).CheckStatus(c.Request.Context()))
	})
	sess.POST("/detect", s.detect)

	r.GET("/ws/:id", s.stream)
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	c.JSON(http.StatusOK, gin.H{
		"status":              "healthy",
		"torchserveConnected": s.pinger.Ping(ctx),
		"sessions":            s.mgr.Len(),
		"timestamp":           time.Now().Format(time.RFC3339),
	})
}

func (s *Server) createSession(c *gin.Context) {
	sess := s.mgr.Create()
	v := sess.CheckStatus(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"sessionID": sess.ID(),
		"wsURL":     "ws://" + c.Request.Host + "/ws/" + sess.ID(),
		"view":      v,
	})
}

type brushRequest struct {
	Size int `json:"size" binding:"required"`
}

func (s *Server) brush(c *gin.Context) {
	var req brushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess := sessionFrom(c)
	sess.SetBrushSize(req.Size)
	c.JSON(http.StatusOK, sess.View())
}

func (s *Server) pointer(c *gin.Context) {
	var ev iface.PointerEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess := sessionFrom(c)
	if err := sess.Pointer(ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"drawing": sess.View().Drawing})
}

func (s *Server) upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File upload failed: " + err.Error()})
		return
	}
	if file.Size > maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File upload failed: " + err.Error()})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUpload))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File upload failed: " + err.Error()})
		return
	}
	v, err := sessionFrom(c).Upload(file.Filename, data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Image load failed: " + err.Error(), "view": v})
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) canvasPNG(c *gin.Context) {
	data, err := sessionFrom(c).CanvasPNG()
	if err != nil {
		s.log.Error("encode canvas", zap.String("sessionID", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", data)
}

func (s *Server) detect(c *gin.Context) {
	v, err := sessionFrom(c).Detect(c.Request.Context())
	if errors.Is(err, session.ErrBusy) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "view": v})
		return
	}
	c.JSON(http.StatusOK, v)
}

const sessionKey = "session"

func (s *Server) loadSession(c *gin.Context) {
	sess, err := s.mgr.Get(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	c.Set(sessionKey, sess)
	c.Next()
}

func sessionFrom(c *gin.Context) *session.Session {
	return c.MustGet(sessionKey).(*session.Session)
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "POST, GET, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}
