// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"depot/internal/pkg/logger"
)

// AppInfo 包含了启动一个服务所需的所有特定信息。
type AppInfo struct {
	ServiceName string
	Port        int
	MetricsPort int
	// RegisterHandlers 允许每个服务注册自己独特的 HTTP 路由
	RegisterHandlers func(mux *http.ServeMux)
	// OnShutdown 在收到退出信号后按注册顺序执行清理（关闭连接等）
	OnShutdown []func(ctx context.Context)
}

// StartService 封装了通用的启动和优雅关停逻辑。
func StartService(info AppInfo) {
	ctx := context.Background()

	// 1. 业务 HTTP Server
	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(mux)
	}
	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: mux}
	go func() {
		logger.Ctx(ctx).Info().Str("addr", server.Addr).Msgf("%s listening", info.ServiceName)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Ctx(ctx).Fatal().Err(err).Msg("http server failed")
		}
	}()

	// 2. 独立端口暴露健康检查和监控指标
	metricsMux := http.NewServeMux()
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: ":" + strconv.Itoa(info.MetricsPort), Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Ctx(ctx).Fatal().Err(err).Msg("metrics server failed")
		}
	}()

	// 3. 阻塞主 goroutine，直到接收到退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Ctx(ctx).Info().Msgf("shutting down %s...", info.ServiceName)

	// 4. 带超时的关停流程
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("error shutting down http server")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("error shutting down metrics server")
	}
	for _, fn := range info.OnShutdown {
		fn(shutdownCtx)
	}

	logger.Ctx(ctx).Info().Msgf("%s gracefully shut down", info.ServiceName)
}
