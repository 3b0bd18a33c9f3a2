package mode

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/khaledhikmat/vs-inspect/model"
	"github.com/khaledhikmat/vs-inspect/pipeline"
	"github.com/khaledhikmat/vs-inspect/service/lgr"
	"golang.org/x/xerrors"
)

const engineLoadWait = 30 * time.Second

// Snapshot grabs one frame per slot, runs detection and stores the annotated result
func Snapshot(canxCtx context.Context, svcs pipeline.ServicesFactory) error {
	rt := newRuntime(svcs)
	defer rt.Shutdown()

	waitCtx, cancel := context.WithTimeout(canxCtx, engineLoadWait)
	defer cancel()
	for !rt.Ready() {
		select {
		case <-waitCtx.Done():
			return xerrors.Errorf("detection engine not ready: %w", waitCtx.Err())
		case <-time.After(200 * time.Millisecond):
		}
	}

	engine := rt.Engine
	settings := engine.Settings()
	for slot := 0; slot < rt.Registry.Len(); slot++ {
		if canxCtx.Err() != nil {
			return nil
		}

		src, err := rt.Registry.Source(slot)
		if err != nil {
			return err
		}

		frame := src.GetFrame()
		dets, annotated := engine.Predict(frame.Mat, settings)
		frame.Close()

		name := fmt.Sprintf("snapshot_%d_%d.jpg", slot, time.Now().UnixMilli())
		url, err := svcs.StorageSvc.StoreImage(name, annotated)
		annotated.Close()
		if err != nil {
			procError(svcs.DataSvc, model.GenError("snapshot", err, map[string]interface{}{"slot": slot}, "error storing snapshot"))
			continue
		}

		severity := model.SeverityInfo
		if len(dets) > 0 {
			severity = model.SeverityHigh
		}
		status := "live"
		if frame.Synthetic {
			status = frame.Status
		}
		title := fmt.Sprintf("Snapshot %d", slot)
		if camera, ok, err := svcs.DataSvc.RetrieveCameraByID(slot); err == nil && ok && camera.Name != "" {
			title = fmt.Sprintf("Snapshot %s", camera.Name)
		}
		svcs.EventsSvc.Broadcast(
			title,
			fmt.Sprintf("%s frame, %d objects detected", status, len(dets)),
			severity,
			url,
		)
		lgr.Logger.Info(
			"snapshot stored",
			slog.Int("slot", slot),
			slog.String("status", status),
			slog.Int("detections", len(dets)),
			slog.String("url", url),
		)
	}

	return nil
}
