package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"

	"github.com/khaledhikmat/vs-inspect/mode"
	"github.com/khaledhikmat/vs-inspect/model"
	"github.com/khaledhikmat/vs-inspect/pipeline"
	"github.com/khaledhikmat/vs-inspect/service/config"
	"github.com/khaledhikmat/vs-inspect/service/data"
	"github.com/khaledhikmat/vs-inspect/service/events"
	"github.com/khaledhikmat/vs-inspect/service/inference"
	"github.com/khaledhikmat/vs-inspect/service/lgr"
	"github.com/khaledhikmat/vs-inspect/service/storage"
)

const (
	// WARNING: this has to be bigger that the mode processor shutdown time
	waitOnShutdown = 8 * time.Second
)

var modeProcessors = map[string]mode.Processor{
	"server":   mode.Server,
	"snapshot": mode.Snapshot,
}

func main() {
	rootCtx := context.Background()
	canxCtx, canxFn := context.WithCancel(rootCtx)

	// Hook up a signal handler to cancel the context
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		lgr.Logger.Info(
			"received kill signal",
			slog.Any("signal", sig),
		)
		canxFn()
	}()

	// Load env vars if we are in DEV mode
	if os.Getenv("RUN_TIME_ENV") == "dev" || os.Getenv("RUN_TIME_ENV") == "" {
		lgr.Logger.Info("loading env vars from .env file")
		err := godotenv.Load()
		if err != nil {
			// Defaults cover every setting, so a missing .env is not fatal
			lgr.Logger.Warn("error loading .env file", slog.Any("error", xerrors.New(err)))
		}
	}

	// Config service
	cfgSvc := config.NewEnvironment()

	lgr.Setup(lgr.Options{
		Dev:   cfgSvc.IsDev(),
		Level: cfgSvc.GetLogLevel(),
		File:  cfgSvc.GetAppLogFile(),
	})

	modeType := "server"
	args := os.Args[1:]
	if len(args) > 0 {
		modeType = args[0]
	}

	modeProc, ok := modeProcessors[modeType]
	if !ok {
		lgr.Logger.Error("invalid mode", slog.String("mode", modeType))
		panic("invalid mode")
	}

	// Create the services needed for the mode processor
	// Data service
	dataSvc := data.NewFilesDB(cfgSvc)
	// storage service
	storageSvc := storage.NewLocal(cfgSvc)
	// events service
	eventsSvc := events.NewBroadcaster(cfgSvc)
	defer eventsSvc.Close()
	// inference service
	var inferenceSvc inference.IService
	if cfgSvc.GetInferenceBackend() == "passthrough" {
		inferenceSvc = inference.NewPassthrough(model.Settings{
			Confidence: cfgSvc.GetDefaultConfidence(),
			InputSize:  cfgSvc.GetDefaultInputSize(),
		})
	} else {
		inferenceSvc = inference.NewYolo(cfgSvc)
	}

	svcs := pipeline.ServicesFactory{
		CfgSvc:       cfgSvc,
		DataSvc:      dataSvc,
		StorageSvc:   storageSvc,
		EventsSvc:    eventsSvc,
		InferenceSvc: inferenceSvc,
	}

	lgr.Logger.Info(
		"inspection service starting",
		slog.String("mode", modeType),
		slog.String("env", cfgSvc.GetRunTimeEnv()),
		slog.Int("slots", cfgSvc.GetCameraSlots()),
		slog.String("device", inferenceSvc.Device()),
		slog.Bool("vendorSDK", pipeline.SDKAvailable),
	)

	// Create mode processor result
	modeProcResult := make(chan error, 1)

	// Start the mode processor
	go func() {
		modeProcResult <- modeProc(canxCtx, svcs)
	}()

	// Wait for cancellation or mode proc
	select {
	case <-canxCtx.Done():
		lgr.Logger.Info(
			"inspection service context cancelled",
		)

	case err := <-modeProcResult:
		if err != nil {
			lgr.Logger.Info(
				"inspection service mode processor exited",
				slog.Any("error", xerrors.New(err)),
			)
		}
		canxFn()
		return
	}

	lgr.Logger.Info(
		"inspection service is waiting for the mode processor to exit",
	)

	// Wait at most `waitOnShutdown` for the mode processor to wind down
	timer := time.NewTimer(waitOnShutdown)
	defer timer.Stop()

	select {
	case <-timer.C:
		lgr.Logger.Info(
			"inspection service shutdown waiting period expired. Exiting now",
			slog.Duration("period", waitOnShutdown),
		)

	case err := <-modeProcResult:
		if err != nil {
			lgr.Logger.Info(
				"inspection service mode processor exited",
				slog.Any("error", xerrors.New(err)),
			)
		}
	}
}
