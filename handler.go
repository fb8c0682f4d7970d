package datatables

import (
	"errors"
	"log/slog"
	"net/http"
)

// SetupFunc binds a fresh adapter for one HTTP request. The query builder
// it wraps must not be shared with other requests.
type SetupFunc func(r *http.Request) (*DataTables, error)

// Handler serves a grid over HTTP.
type Handler struct {
	Setup  SetupFunc
	Logger *slog.Logger
}

func NewHandler(setup SetupFunc, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Setup: setup, Logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := ParseHTTPRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	dt, err := h.Setup(r)
	if err != nil {
		h.fail(w, r, "grid setup failed", err)
		return
	}

	resp, err := dt.Generate(r.Context(), req)
	if err != nil {
		h.fail(w, r, "grid request failed", err)
		return
	}

	if err := Write(w, resp); err != nil {
		h.logger().Warn("failed to write grid response", "path", r.URL.Path, "error", err)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger().Error(msg, "path", r.URL.Path, "error", err)

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
