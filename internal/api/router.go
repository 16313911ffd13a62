package api

import (
	"log/slog"
	"net/http"

	"filecollection/internal/auth"
	"filecollection/internal/config"
	fcmiddleware "filecollection/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter 构建 HTTP 路由，集中注册所有对外服务的端点。
func NewRouter(cfg *config.Config, authn auth.Authenticator, fileHandler *FileHandler, liveHandler *LiveHandler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(fcmiddleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(fcmiddleware.CORS(cfg.CORSAllowedOrigins, cfg.AuthCookieName))
	r.Use(fcmiddleware.Metrics())

	// 健康检查不需要鉴权
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Prometheus 指标端点
	r.Handle("/metrics", promhttp.Handler())

	// 未携带令牌的请求以匿名身份进入，由拥有者规则拒绝
	r.Group(func(r chi.Router) {
		r.Use(fcmiddleware.Authenticate(authn, cfg.AuthCookieName, true))
		r.Use(fcmiddleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		if fileHandler != nil {
			r.Route("/gridfs/"+cfg.CollectionName, fileHandler.RegisterRoutes)
		}
		if liveHandler != nil {
			r.Handle("/websocket", liveHandler)
		}
	})

	return r
}
