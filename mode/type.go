package mode

import (
	"context"
	"log/slog"

	"github.com/khaledhikmat/vs-inspect/model"
	"github.com/khaledhikmat/vs-inspect/pipeline"
	"github.com/khaledhikmat/vs-inspect/service/data"
	"github.com/khaledhikmat/vs-inspect/service/lgr"
)

type Processor func(canxCtx context.Context, svcs pipeline.ServicesFactory) error

func procStats(datasvc data.IService, stats interface{}) {
	switch stats := stats.(type) {
	case model.StreamerStats:
		procStreamerStats(datasvc, stats)
	default:
		lgr.Logger.Error(
			"unknown stats type",
			slog.Any("stats", stats),
		)
	}
}

func procStreamerStats(datasvc data.IService, stats model.StreamerStats) {
	err := datasvc.NewStreamerStats(stats)
	if err != nil {
		lgr.Logger.Error(
			"failed to store streamer stats",
			slog.Any("stats", stats),
			slog.Any("error", err),
		)
	}
}

func procError(datasvc data.IService, err interface{}) {
	lgr.Logger.Error(
		"processor error",
		slog.Any("error", err),
	)

	errTemp := datasvc.NewError(err)
	if errTemp != nil {
		lgr.Logger.Error(
			"failed to store error",
			slog.Any("error", errTemp),
		)
	}
}

// newRuntime builds the camera registry from the stored camera definitions
func newRuntime(svcs pipeline.ServicesFactory) *pipeline.Runtime {
	cameras, err := svcs.DataSvc.RetrieveCameras()
	if err != nil {
		procError(svcs.DataSvc, model.GenError("runtime",
			err,
			map[string]interface{}{},
			"error retrieving cameras, using default slots"))
		cameras = nil
	}

	registry := pipeline.NewRegistry(cameras, svcs.CfgSvc.GetCameraSlots(), pipeline.NewSourceFactory(svcs.CfgSvc))
	return pipeline.NewRuntime(registry, svcs.InferenceSvc)
}
