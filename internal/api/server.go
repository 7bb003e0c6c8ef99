package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"faultkb/internal/app/knowledge"
	"faultkb/internal/domain/fault"
	applog "faultkb/internal/platform/log"
)

// KnowledgeService HTTP 层依赖的知识库服务
type KnowledgeService interface {
	CreateRecord(ctx context.Context, rec *fault.Record) (*fault.Record, error)
	UpdateRecord(ctx context.Context, ticketNo string, upd *fault.RecordUpdate) (*fault.Record, error)
	DeleteRecord(ctx context.Context, ticketNo string) error
	GetRecord(ctx context.Context, ticketNo string) (*fault.Record, error)
	SearchByDevice(ctx context.Context, deviceName string) ([]*fault.Record, error)
	Ask(ctx context.Context, question string) (*knowledge.Answer, error)
	Reconcile(ctx context.Context) (*knowledge.ReconcileReport, error)
	Health(ctx context.Context) *knowledge.Health
}

// ServerConfig 服务配置
type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration // 单个请求（含嵌入与生成调用）的超时
	JWTSecret      string        // 为空时不启用鉴权
	JWTIssuer      string        // JWT 签发者（可选）
}

// DefaultServerConfig 默认配置
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   3 * time.Minute,
		RequestTimeout: 2 * time.Minute,
	}
}

// Server HTTP 服务器
type Server struct {
	config  *ServerConfig
	svc     KnowledgeService
	httpSrv *http.Server
}

// NewServer 创建服务器
func NewServer(config *ServerConfig, svc KnowledgeService) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	return &Server{config: config, svc: svc}
}

// Start 启动服务器
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.buildRouter(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	applog.Infof("🚀 Fault knowledge API server starting on %s", addr)
	return s.httpSrv.ListenAndServe()
}

// Stop 优雅停机
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// Handler 返回 HTTP Handler（用于测试）
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(requestIDHeader)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/", s.health)
	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	records := NewRecordHandler(s.svc)
	search := NewSearchHandler(s.svc)

	r.Route("/api/v1", func(r chi.Router) {
		if s.config.JWTSecret != "" {
			r.Use(authMiddleware(&JWTConfig{Secret: s.config.JWTSecret, Issuer: s.config.JWTIssuer}))
		} else {
			applog.Warn("⚠️  JWT_SECRET not set, API routes are unauthenticated")
		}
		if s.config.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.config.RequestTimeout))
		}
		records.RegisterRoutes(r)
		search.RegisterRoutes(r)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	h := s.svc.Health(r.Context())
	status := http.StatusOK
	if h.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

// requestIDHeader 沿用调用方的 X-Request-ID，缺失时生成 uuid，并回写到响应头
func requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(middleware.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(middleware.RequestIDHeader, id)
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware CORS 中间件
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
