package display

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"market-board-go/market"
)

// Options 配置看板 HTTP 路由。
type Options struct {
	Service *market.Service
	Title   string
	Session string
	// Symbols 返回当前订阅的品种，可为空。
	Symbols func() []string
	Metrics http.Handler
	Logger  *zap.Logger
	// Started 用于 /healthz 的 uptime。
	Started time.Time
	// Health 可选：返回非 nil 时 /healthz 报 503。
	Health func() error
}

// Snapshot 是 /api/snapshot 与 SSE 推送的 JSON 结构。
type Snapshot struct {
	Session   string          `json:"session,omitempty"`
	Connected bool            `json:"connected"`
	Error     string          `json:"error,omitempty"`
	Tracking  []string        `json:"tracking"`
	Symbols   []RecordView    `json:"symbols"`
}

// RecordView 在快照记录上附加距上次更新的毫秒数。
type RecordView struct {
	market.Record
	AgeMs int64 `json:"ageMs"`
}

type server struct {
	opts  Options
	board *Fallback
	log   *zap.Logger
}

// NewRouter 构建 gin 路由：/、/api/snapshot、/api/stream、/healthz、/metrics。
func NewRouter(opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Title == "" {
		opts.Title = "Live Market Data"
	}
	if opts.Started.IsZero() {
		opts.Started = time.Now()
	}
	s := &server{opts: opts, log: opts.Logger.Named("display")}
	s.board = &Fallback{
		Child: Board{Title: opts.Title, Session: opts.Session, Svc: opts.Service},
		Reporter: FaultFunc(func(f Fault) {
			s.log.Error("board render failed", zap.Error(f.Err), zap.ByteString("stack", f.Stack))
		}),
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.GET("/", s.index)
	r.GET("/api/snapshot", s.snapshot)
	r.GET("/api/stream", s.stream)
	r.GET("/healthz", s.healthz)
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	return r
}

func (s *server) index(c *gin.Context) {
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := s.board.Render(c.Writer); err != nil {
		s.log.Warn("write board", zap.Error(err))
	}
}

func (s *server) view() Snapshot {
	conn := s.opts.Service.Connection()
	tracking := []string{}
	if s.opts.Symbols != nil {
		if syms := s.opts.Symbols(); syms != nil {
			tracking = syms
		}
	}
	return Snapshot{
		Session:   s.opts.Session,
		Connected: conn.Status == market.Connected,
		Error:     conn.LastError,
		Tracking:  tracking,
		Symbols:   s.recordViews(),
	}
}

func (s *server) recordViews() []RecordView {
	recs := s.opts.Service.Snapshot().Records()
	out := make([]RecordView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, RecordView{
			Record: rec,
			AgeMs:  s.opts.Service.Staleness(rec.Symbol).Milliseconds(),
		})
	}
	return out
}

func (s *server) snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.view())
}

// stream 以 SSE 推送快照：连接建立时先推一次，之后每次变更推一次。
func (s *server) stream(c *gin.Context) {
	changes, cancel := s.opts.Service.Publisher().Subscribe()
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent("snapshot", s.view())
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case _, ok := <-changes:
			if !ok {
				return false
			}
			c.SSEvent("snapshot", s.view())
			return true
		}
	})
}

func (s *server) healthz(c *gin.Context) {
	conn := s.opts.Service.Connection()
	if s.opts.Health != nil {
		if err := s.opts.Health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
				"feed":   conn.Status.String(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"feed":      conn.Status.String(),
		"symbols":   s.opts.Service.Snapshot().Len(),
		"uptimeSec": int(time.Since(s.opts.Started).Seconds()),
	})
}

func (s *server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
