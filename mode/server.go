package mode

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/khaledhikmat/vs-inspect/api"
	"github.com/khaledhikmat/vs-inspect/model"
	"github.com/khaledhikmat/vs-inspect/pipeline"
	"github.com/khaledhikmat/vs-inspect/service/lgr"
	"google.golang.org/grpc"
)

// Server runs the HTTP front door, the gRPC health service and the camera monitor
// until the context is cancelled
func Server(canxCtx context.Context, svcs pipeline.ServicesFactory) error {
	// Buffered and never closed: stream loops may report after the main loop exits
	errorStream := make(chan interface{}, 16)
	statsStream := make(chan interface{}, 64)

	rt := newRuntime(svcs)

	streamer := pipeline.NewStreamer(rt, svcs.CfgSvc.GetStreamFPSLimit())
	streamer.OnStats = func(stats model.StreamerStats) {
		select {
		case statsStream <- stats:
		default:
			lgr.Logger.Warn("stats stream full, dropping stats", slog.String("session", stats.Session))
		}
	}

	apiSrv := api.NewServer(svcs, rt, streamer)
	httpServer := &http.Server{
		Addr:              svcs.CfgSvc.GetHTTPAddr(),
		Handler:           apiSrv.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := api.NewHealthReporter()
	grpcServer := grpc.NewServer()
	health.Register(grpcServer)

	go func() {
		lgr.Logger.Info("http server listening", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorStream <- model.GenError("server", err, map[string]interface{}{"addr": httpServer.Addr}, "http server failed")
		}
	}()

	go func() {
		addr := svcs.CfgSvc.GetGRPCAddr()
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			errorStream <- model.GenError("server", err, map[string]interface{}{"addr": addr}, "grpc listen failed")
			return
		}
		lgr.Logger.Info("grpc health server listening", slog.String("addr", addr))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errorStream <- model.GenError("server", err, map[string]interface{}{"addr": addr}, "grpc server failed")
		}
	}()

	svcs.EventsSvc.Broadcast("System", "inspection service started", model.SeverityInfo, "")

	monitor := newCameraMonitor(rt, svcs.EventsSvc, health)
	monitor.check()

	// Wait for cancellation, timeout, stats or errors
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"server context cancelled",
			)
			goto resume

		case <-time.After(time.Duration(svcs.CfgSvc.GetMonitorPeriodicTimeout()) * time.Second):
			monitor.check()
			monitor.reconnect()

		case s := <-statsStream:
			procStats(svcs.DataSvc, s)

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		}
	}

	// Stream loops must stop before the http server can drain
resume:
	svcs.EventsSvc.Broadcast("System", "inspection service stopping", model.SeverityInfo, "")
	health.Shutdown()
	rt.Shutdown()

	shutdownPeriod := time.Duration(svcs.CfgSvc.GetModeMaxShutdownTime()) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownPeriod)
	defer cancel()

	lgr.Logger.Info("closing event viewers", slog.Int("viewers", apiSrv.Hub().ClientCount()))
	apiSrv.Hub().Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		lgr.Logger.Error("http server shutdown", slog.Any("error", err))
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		lgr.Logger.Warn("forcing grpc server stop")
		grpcServer.Stop()
	}

	// Record whatever the stream loops reported while draining
	for {
		select {
		case s := <-statsStream:
			procStats(svcs.DataSvc, s)
		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		default:
			lgr.Logger.Info("server stopped")
			return nil
		}
	}
}
