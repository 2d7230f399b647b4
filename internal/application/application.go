package application

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/call-relay-service/internal/config"
	"github.com/psds-microservice/call-relay-service/internal/handler"
	"github.com/psds-microservice/call-relay-service/internal/router"
	"github.com/psds-microservice/call-relay-service/internal/service"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// API is the HTTP + WebSocket API application.
type API struct {
	cfg    *config.Config
	srv    *http.Server
	hub    *service.Hub
	logger *zap.Logger
}

// NewAPI creates the API application: validates config, builds the hub and the router.
func NewAPI(cfg *config.Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.AppEnv != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	hub := service.NewHub(service.HubConfig{
		Identities:         cfg.Identities,
		RingTimeout:        cfg.CallRingTimeout,
		Cooldown:           cfg.CallCooldown,
		AttachmentMaxBytes: cfg.AttachmentMaxBytes,
		SendBuffer:         cfg.WSSendBuffer,
	}, logger.Named("hub"))

	statusHandler := handler.NewStatusHandler(hub, cfg.WSBaseURL)
	chatWS := handler.NewChatWSHandler(hub, cfg.WSReadBufferSize, cfg.WSWriteBufferSize, cfg.WSMaxMessageSize, logger.Named("ws"))
	health := handler.NewHealthHandler()

	r := router.New(statusHandler, chatWS, health)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &API{cfg: cfg, srv: srv, hub: hub, logger: logger}, nil
}

// NewLogger builds the zap logger for APP_ENV and LOG_LEVEL.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.AppEnv == "development" {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.LogLevel != "" {
		lvl, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zc.Build()
}

// Run starts the hub and the HTTP server and blocks until ctx is cancelled; then shuts down gracefully.
func (a *API) Run(ctx context.Context) error {
	defer a.logger.Sync() //nolint:errcheck

	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	a.logger.Info("HTTP server listening",
		zap.String("addr", a.srv.Addr),
		zap.String("health", base+"/health"),
		zap.String("status", base+"/status"),
		zap.String("websocket", "ws://"+host+":"+a.cfg.HTTPPort+"/ws"),
		zap.Strings("identities", a.cfg.Identities))

	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		a.hub.Run(hubCtx)
		close(hubDone)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = fmt.Errorf("http: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Hijacked WebSocket connections are not tracked by Shutdown; stopping the hub closes them.
	stopHub()
	<-hubDone
	if err := a.srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("http shutdown: %w", err)
	}
	a.logger.Info("server exited")
	return runErr
}
