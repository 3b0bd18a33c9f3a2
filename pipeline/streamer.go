package pipeline

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/khaledhikmat/vs-inspect/model"
	"github.com/khaledhikmat/vs-inspect/service/lgr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gocv.io/x/gocv"
)

const tracerName = "github.com/khaledhikmat/vs-inspect/pipeline"

const (
	notReadyBackoff = 500 * time.Millisecond
	noFrameBackoff  = 100 * time.Millisecond
)

// Emitter delivers one encoded JPEG to a viewer. An error ends the stream.
type Emitter func(jpeg []byte) error

// Streamer runs one stream loop per viewer. Loops share sources and the engine through the runtime.
type Streamer struct {
	rt       *Runtime
	interval time.Duration

	// OnStats receives the final stats of every stream, if set
	OnStats func(stats model.StreamerStats)
}

func NewStreamer(rt *Runtime, fpsLimit int) *Streamer {
	if fpsLimit <= 0 {
		fpsLimit = 30
	}
	return &Streamer{
		rt:       rt,
		interval: time.Second / time.Duration(fpsLimit),
	}
}

// Run streams annotated frames of a slot until ctx is done, the runtime stops or emit fails.
// It returns ErrSlotOutOfRange before emitting anything for an invalid slot.
func (s *Streamer) Run(ctx context.Context, slot int, emit Emitter) error {
	src, err := s.rt.Registry.Source(slot)
	if err != nil {
		return err
	}

	session := uuid.NewString()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "stream",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.Int("camera", slot),
			attribute.String("session", session),
		),
	)
	defer span.End()

	lgr.Logger.Info(
		"stream starting",
		slog.Int("camera", slot),
		slog.String("session", session),
	)

	beginTime := time.Now()
	frames := 0
	synthetic := 0
	errors := 0
	var totalProcTime time.Duration
	lastStatus := "" // "" before the first frame

	defer func() {
		uptime := time.Since(beginTime)
		stats := model.StreamerStats{
			Name:      "mjpeg",
			Session:   session,
			Camera:    slot,
			Frames:    frames,
			Synthetic: synthetic,
			Errors:    errors,
			Uptime:    int64(uptime.Seconds()),
			Timestamp: time.Now().Unix(),
		}
		if uptime > 0 {
			stats.FPS = float64(frames) / uptime.Seconds()
		}
		if frames > 0 {
			stats.AvgProcTime = totalProcTime.Seconds() / float64(frames)
		}
		span.SetAttributes(attribute.Int("frames", frames), attribute.Int("errors", errors))
		lgr.Logger.Info(
			"stream stopped",
			slog.Any("stats", stats),
		)
		if s.OnStats != nil {
			s.OnStats(stats)
		}
	}()

	for {
		if ctx.Err() != nil || !s.rt.Running() {
			return nil
		}

		iterStart := time.Now()

		if !s.rt.Ready() {
			if !sleepCtx(ctx, notReadyBackoff) {
				return nil
			}
			continue
		}

		frame := src.GetFrame()
		if frame.Mat.Empty() {
			frame.Close()
			errors++
			if !sleepCtx(ctx, noFrameBackoff) {
				return nil
			}
			continue
		}

		status := "live"
		if frame.Synthetic {
			status = frame.Status
			synthetic++
		}
		if status != lastStatus {
			lgr.Logger.Info(
				"stream provenance changed",
				slog.Int("camera", slot),
				slog.String("session", session),
				slog.String("from", lastStatus),
				slog.String("to", status),
			)
			lastStatus = status
		}

		procStart := time.Now()
		_, annotated := s.rt.Engine.Predict(frame.Mat, s.rt.Engine.Settings())
		frame.Close()

		jpeg, err := EncodeJPEG(annotated)
		annotated.Close()
		totalProcTime += time.Since(procStart)
		if err != nil {
			errors++
			lgr.Logger.Warn("jpeg encode failed", slog.Int("camera", slot), slog.Any("error", err))
			if !sleepCtx(ctx, noFrameBackoff) {
				return nil
			}
			continue
		}

		if err := emit(jpeg); err != nil {
			lgr.Logger.Debug(
				"viewer gone",
				slog.Int("camera", slot),
				slog.String("session", session),
				slog.Any("error", err),
			)
			return nil
		}
		frames++

		// The limit is a ceiling: slow iterations are not compensated
		if elapsed := time.Since(iterStart); elapsed < s.interval {
			if !sleepCtx(ctx, s.interval-elapsed) {
				return nil
			}
		}
	}
}

// EncodeJPEG returns a Go-owned copy of the encoded image
func EncodeJPEG(img gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	return bytes.Clone(buf.GetBytes()), nil
}

// sleepCtx returns false if ctx was done before d elapsed
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
