// Package query exposes the read-side HTTP surface: dashboard, unit
// metrics, alerts, historical series, thresholds and retrain flags.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	alertModel "github.com/go-driftd/driftd/internal/alert/model"
	"github.com/go-driftd/driftd/internal/httputil"
	learningModel "github.com/go-driftd/driftd/internal/learning/model"
	metricModel "github.com/go-driftd/driftd/internal/metric/model"
	"github.com/go-driftd/driftd/internal/monitor"
	"github.com/go-driftd/driftd/internal/threshold"
)

// Monitor is the slice of the monitor service the read handlers need.
type Monitor interface {
	Dashboard(ctx context.Context) (metricModel.Dashboard, error)
	UnitMetrics(ctx context.Context, unitID string) (monitor.UnitMetrics, error)
	ActiveAlerts(level alertModel.Level) []alertModel.Alert
	HistoricalMetrics(ctx context.Context, metricType metricModel.Type, unitID string, since time.Time) ([]metricModel.Snapshot, error)
	UpdateThreshold(metricType metricModel.Type, severity threshold.Severity, value float64) error
	ThresholdLevels(metricType metricModel.Type) map[threshold.Severity]float64
	ClearRetrainFlag(ctx context.Context, unitID string) error
	RetrainFlags(ctx context.Context) ([]learningModel.RetrainFlag, error)
	DriftEvents(ctx context.Context, unitID string, limit int) ([]learningModel.Event, error)
}

func respondJSON(ctx context.Context, w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		httputil.RespInternalError(ctx, w, `{"error": "unable encode response: %v"}`, err)
	}
}

func NewDashboardHandler(cfg *Config, mon Monitor) (http.Handler, error) {
	if mon == nil {
		return nil, fmt.Errorf("monitor instance is not created")
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), cfg.RequestTimeout)
		defer cancel()

		dashboard, err := mon.Dashboard(ctx)
		if errors.Is(err, monitor.ErrNotReady) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, `{"error": "dashboard is not computed yet"}`)
			return
		}
		if err != nil {
			httputil.RespInternalError(ctx, w, `{"error": "unable fetch dashboard: %v"}`, err)
			return
		}
		respondJSON(ctx, w, dashboard)
	}), nil
}

func NewUnitHandler(cfg *Config, mon Monitor) (http.Handler, error) {
	if mon == nil {
		return nil, fmt.Errorf("monitor instance is not created")
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), cfg.RequestTimeout)
		defer cancel()

		unitID := r.URL.Query().Get("unit")
		if unitID == "" {
			httputil.RespBadRequest(ctx, w, `{"error": "unit must not be empty"}`)
			return
		}
		metrics, err := mon.UnitMetrics(ctx, unitID)
		if err != nil {
			var unregistered *monitor.UnregisteredUnitError
			if errors.As(err, &unregistered) {
				httputil.RespNotFound(ctx, w, `{"error": "unit %s is not registered"}`, unitID)
				return
			}
			httputil.RespInternalError(ctx, w, `{"error": "unable fetch unit metrics: %v"}`, err)
			return
		}
		respondJSON(ctx, w, metrics)
	}), nil
}

func NewAlertsHandler(cfg *Config, mon Monitor) (http.Handler, error) {
	if mon == nil {
		return nil, fmt.Errorf("monitor instance is not created")
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), cfg.RequestTimeout)
		defer cancel()

		level := alertModel.Level(r.URL.Query().Get("level"))
		if level != "" && alertModel.Rank(level) < 0 {
			httputil.RespBadRequest(ctx, w, `{"error": "unknown level %q"}`, level)
			return
		}
		alerts := mon.ActiveAlerts(level)
		if alerts == nil {
			alerts = []alertModel.Alert{}
		}
		respondJSON(ctx, w, alerts)
	}), nil
}

func NewHistoryHandler(cfg *Config, mon Monitor) (http.Handler, error) {
	if mon == nil {
		return nil, fmt.Errorf("monitor instance is not created")
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), cfg.RequestTimeout)
		defer cancel()

		since := time.Now().UTC().Add(-cfg.DefaultLookback)
		if raw := r.URL.Query().Get("since"); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				httputil.RespBadRequest(ctx, w, `{"error": "since must be RFC3339"}`)
				return
			}
			since = parsed
		}
		snapshots, err := mon.HistoricalMetrics(
			ctx,
			metricModel.Type(r.URL.Query().Get("metric")),
			r.URL.Query().Get("unit"),
			since,
		)
		if err != nil {
			httputil.RespInternalError(ctx, w, `{"error": "unable fetch history: %v"}`, err)
			return
		}
		if snapshots == nil {
			snapshots = []metricModel.Snapshot{}
		}
		respondJSON(ctx, w, snapshots)
	}), nil
}

type thresholdRequest struct {
	Metric   string  `json:"metric"`
	Severity string  `json:"severity"`
	Value    float64 `json:"value"`
}

func NewThresholdsHandler(cfg *Config, mon Monitor) (http.Handler, error) {
	if mon == nil {
		return nil, fmt.Errorf("monitor instance is not created")
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), cfg.RequestTimeout)
		defer cancel()

		switch r.Method {
		case "GET":
			metric := metricModel.Type(r.URL.Query().Get("metric"))
			levels := mon.ThresholdLevels(metric)
			if levels == nil {
				httputil.RespNotFound(ctx, w, `{"error": "no thresholds for metric %q"}`, metric)
				return
			}
			respondJSON(ctx, w, levels)
		case "POST":
			defer r.Body.Close()
			var req thresholdRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httputil.DecodeErr(ctx, w, err)
				return
			}
			if err := mon.UpdateThreshold(metricModel.Type(req.Metric), threshold.Severity(req.Severity), req.Value); err != nil {
				httputil.RespBadRequest(ctx, w, `{"error": "%v"}`, err)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = fmt.Fprintf(w, `{"status": "ok"}`)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
			_, _ = fmt.Fprintf(w, `{"error": "method %v is not allowed"}`, r.Method)
		}
	}), nil
}

type retrainRequest struct {
	UnitID string `json:"unit"`
}

func NewRetrainHandler(cfg *Config, mon Monitor) (http.Handler, error) {
	if mon == nil {
		return nil, fmt.Errorf("monitor instance is not created")
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), cfg.RequestTimeout)
		defer cancel()

		switch r.Method {
		case "GET":
			flags, err := mon.RetrainFlags(ctx)
			if err != nil {
				httputil.RespInternalError(ctx, w, `{"error": "unable fetch retrain flags: %v"}`, err)
				return
			}
			if flags == nil {
				flags = []learningModel.RetrainFlag{}
			}
			respondJSON(ctx, w, flags)
		case "POST":
			defer r.Body.Close()
			var req retrainRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httputil.DecodeErr(ctx, w, err)
				return
			}
			if req.UnitID == "" {
				httputil.RespBadRequest(ctx, w, `{"error": "unit must not be empty"}`)
				return
			}
			if err := mon.ClearRetrainFlag(ctx, req.UnitID); err != nil {
				httputil.RespInternalError(ctx, w, `{"error": "unable clear retrain flag: %v"}`, err)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = fmt.Fprintf(w, `{"status": "ok"}`)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
			_, _ = fmt.Fprintf(w, `{"error": "method %v is not allowed"}`, r.Method)
		}
	}), nil
}

func NewDriftEventsHandler(cfg *Config, mon Monitor) (http.Handler, error) {
	if mon == nil {
		return nil, fmt.Errorf("monitor instance is not created")
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), cfg.RequestTimeout)
		defer cancel()

		unitID := r.URL.Query().Get("unit")
		if unitID == "" {
			httputil.RespBadRequest(ctx, w, `{"error": "unit must not be empty"}`)
			return
		}
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				httputil.RespBadRequest(ctx, w, `{"error": "limit must be a non-negative integer"}`)
				return
			}
			limit = parsed
		}
		events, err := mon.DriftEvents(ctx, unitID, limit)
		if err != nil {
			httputil.RespInternalError(ctx, w, `{"error": "unable fetch drift events: %v"}`, err)
			return
		}
		if events == nil {
			events = []learningModel.Event{}
		}
		respondJSON(ctx, w, events)
	}), nil
}
