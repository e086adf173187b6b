// Package ingest exposes the write-side HTTP surface: unit
// registration and prediction outcome intake.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-driftd/driftd/internal/adapter"
	"github.com/go-driftd/driftd/internal/httputil"
	"github.com/go-driftd/driftd/internal/logging"
	metricModel "github.com/go-driftd/driftd/internal/metric/model"
	"github.com/go-driftd/driftd/internal/monitor"
)

const maxBodyBytes = 64 * 1024 * 1024

// Recorder is the slice of the monitor the intake handlers need.
type Recorder interface {
	RecordOutcome(ctx context.Context, outcome metricModel.Outcome) error
	RegisterUnit(unit adapter.AdaptableUnit) error
}

type outcomesRequest struct {
	UnitID string `json:"unit"`
	Data   []struct {
		Predicted    float64   `json:"predicted"`
		Actual       float64   `json:"actual"`
		Confidence   float64   `json:"confidence"`
		ResponseTime float64   `json:"responseTime"`
		Features     []float64 `json:"features,omitempty"`
		CreatedAt    time.Time `json:"createdAt"`
	} `json:"data"`
}

func NewOutcomesHandler(cfg *Config, recorder Recorder) (http.Handler, error) {
	if recorder == nil {
		return nil, fmt.Errorf("recorder instance is not created")
	}
	return &outcomesHandler{cfg: cfg, recorder: recorder}, nil
}

type outcomesHandler struct {
	cfg      *Config
	recorder Recorder
}

func (h *outcomesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req outcomesRequest
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
	defer cancel()
	logger := logging.FromContext(ctx)

	if r.Method != "POST" {
		w.WriteHeader(http.StatusMethodNotAllowed)
		logger.Debug(fmt.Sprintf(`{"error": "method %v is not allowed"}`, r.Method))
		_, _ = fmt.Fprintf(w, `{"error": "method %v is not allowed"}`, r.Method)
		return
	}

	if t := r.Header.Get("content-type"); len(t) < 16 || t[:16] != "application/json" {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		logger.Debug(`{"error": "content-type is not application/json"}`)
		_, _ = fmt.Fprintf(w, `{"error": "%v"}`, "content-type is not application/json")
		return
	}

	defer r.Body.Close()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	d := json.NewDecoder(r.Body)
	if err := d.Decode(&req); err != nil {
		httputil.DecodeErr(ctx, w, err)
		return
	}
	if req.UnitID == "" {
		httputil.RespBadRequest(ctx, w, `{"error": "unit must not be empty"}`)
		return
	}

	sort.Slice(req.Data, func(i, j int) bool {
		return req.Data[i].CreatedAt.Before(req.Data[j].CreatedAt)
	})
	for _, dat := range req.Data {
		outcome := metricModel.NewOutcome(
			req.UnitID, dat.Predicted, dat.Actual, dat.Confidence, dat.ResponseTime, dat.Features, dat.CreatedAt,
		)
		if err := h.recorder.RecordOutcome(ctx, outcome); err != nil {
			var unregistered *monitor.UnregisteredUnitError
			if errors.As(err, &unregistered) {
				httputil.RespNotFound(ctx, w, `{"error": "unit %s is not registered"}`, req.UnitID)
				return
			}
			httputil.RespInternalError(ctx, w, `{"error": "unable record outcome: %v"}`, err)
			return
		}
	}

	logger.Infof("recorded %d outcomes for unit %s", len(req.Data), req.UnitID)
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, `{"status": "ok", "accepted": %d}`, len(req.Data))
}

type unitsRequest struct {
	UnitID string `json:"unit"`
}

func NewUnitsHandler(cfg *Config, recorder Recorder) (http.Handler, error) {
	if recorder == nil {
		return nil, fmt.Errorf("recorder instance is not created")
	}
	return &unitsHandler{cfg: cfg, recorder: recorder}, nil
}

type unitsHandler struct {
	cfg      *Config
	recorder Recorder
}

func (h *unitsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req unitsRequest
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
	defer cancel()
	logger := logging.FromContext(ctx)

	if r.Method != "POST" {
		w.WriteHeader(http.StatusMethodNotAllowed)
		_, _ = fmt.Fprintf(w, `{"error": "method %v is not allowed"}`, r.Method)
		return
	}

	defer r.Body.Close()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	d := json.NewDecoder(r.Body)
	if err := d.Decode(&req); err != nil {
		httputil.DecodeErr(ctx, w, err)
		return
	}
	if req.UnitID == "" {
		httputil.RespBadRequest(ctx, w, `{"error": "unit must not be empty"}`)
		return
	}

	if err := h.recorder.RegisterUnit(adapter.NoopUnit{UnitID: req.UnitID}); err != nil {
		httputil.RespInternalError(ctx, w, `{"error": "unable register unit: %v"}`, err)
		return
	}

	logger.Infof("registered unit %s", req.UnitID)
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, `{"status": "ok"}`)
}
