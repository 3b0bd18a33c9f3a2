package api

import (
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/khaledhikmat/vs-inspect/service/lgr"
)

const boundary = "frame"

// handleVideoFeed streams one slot as MJPEG until the viewer goes away.
// /video_feed without an id is slot 0.
func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	slot := 0
	if id := r.PathValue("id"); id != "" {
		n, err := strconv.Atoi(id)
		if err != nil {
			writeError(w, http.StatusBadRequest, "camera id must be an integer")
			return
		}
		slot = n
	}
	if _, err := s.rt.Registry.Source(slot); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(boundary); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Streams outlive the server write timeout; each part gets its own deadline instead
	rc := http.NewResponseController(w)

	header := textproto.MIMEHeader{}
	header.Set("Content-Type", "image/jpeg")

	err := s.streamer.Run(r.Context(), slot, func(jpeg []byte) error {
		if err := rc.SetWriteDeadline(time.Now().Add(s.partWriteTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		header.Set("Content-Length", strconv.Itoa(len(jpeg)))
		part, err := mw.CreatePart(header)
		if err != nil {
			return err
		}
		if _, err := part.Write(jpeg); err != nil {
			return err
		}
		return rc.Flush()
	})
	if err != nil {
		lgr.Logger.Warn("stream ended with error", slog.Int("camera", slot), slog.Any("error", err))
	}
}
