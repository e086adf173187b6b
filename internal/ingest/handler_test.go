package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-driftd/driftd/internal/adapter"
	metricModel "github.com/go-driftd/driftd/internal/metric/model"
	"github.com/go-driftd/driftd/internal/monitor"
)

type fakeRecorder struct {
	outcomes []metricModel.Outcome
	units    []string
}

func (f *fakeRecorder) RecordOutcome(_ context.Context, outcome metricModel.Outcome) error {
	if outcome.UnitID == "ghost" {
		return &monitor.UnregisteredUnitError{UnitID: outcome.UnitID}
	}
	f.outcomes = append(f.outcomes, outcome)
	return nil
}

func (f *fakeRecorder) RegisterUnit(unit adapter.AdaptableUnit) error {
	f.units = append(f.units, unit.ID())
	return nil
}

func testConfig() *Config {
	return &Config{RequestTimeout: time.Second}
}

func postJSON(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestOutcomesHandlerRejectsGet(t *testing.T) {
	h, err := NewOutcomesHandler(testConfig(), &fakeRecorder{})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status got: %v, expected: %v", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestOutcomesHandlerRejectsContentType(t *testing.T) {
	h, err := NewOutcomesHandler(testConfig(), &fakeRecorder{})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status got: %v, expected: %v", w.Code, http.StatusUnsupportedMediaType)
	}
}

func TestOutcomesHandlerMalformedBody(t *testing.T) {
	h, err := NewOutcomesHandler(testConfig(), &fakeRecorder{})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	if w := postJSON(t, h, `{"unit":`); w.Code != http.StatusBadRequest {
		t.Errorf("status got: %v, expected: %v", w.Code, http.StatusBadRequest)
	}
}

func TestOutcomesHandlerEmptyUnit(t *testing.T) {
	h, err := NewOutcomesHandler(testConfig(), &fakeRecorder{})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	if w := postJSON(t, h, `{"unit": "", "data": []}`); w.Code != http.StatusBadRequest {
		t.Errorf("status got: %v, expected: %v", w.Code, http.StatusBadRequest)
	}
}

func TestOutcomesHandlerUnregisteredUnit(t *testing.T) {
	h, err := NewOutcomesHandler(testConfig(), &fakeRecorder{})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	body := `{"unit": "ghost", "data": [{"predicted": 0.7, "actual": 0.7, "confidence": 0.9}]}`
	if w := postJSON(t, h, body); w.Code != http.StatusNotFound {
		t.Errorf("status got: %v, expected: %v", w.Code, http.StatusNotFound)
	}
}

func TestOutcomesHandlerRecordsInTimeOrder(t *testing.T) {
	recorder := &fakeRecorder{}
	h, err := NewOutcomesHandler(testConfig(), recorder)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	body := `{
		"unit": "expert_7",
		"data": [
			{"predicted": 0.9, "actual": 0.9, "confidence": 0.9, "createdAt": "2026-08-24T12:00:02Z"},
			{"predicted": 0.7, "actual": 0.7, "confidence": 0.9, "createdAt": "2026-08-24T12:00:00Z"},
			{"predicted": 0.8, "actual": 0.8, "confidence": 0.9, "createdAt": "2026-08-24T12:00:01Z"}
		]
	}`
	w := postJSON(t, h, body)
	if w.Code != http.StatusOK {
		t.Fatalf("status got: %v, body: %s", w.Code, w.Body.String())
	}
	if len(recorder.outcomes) != 3 {
		t.Fatalf("recorded got: %v, expected: 3", len(recorder.outcomes))
	}
	for i := 1; i < len(recorder.outcomes); i++ {
		if recorder.outcomes[i].CreatedAt.Before(recorder.outcomes[i-1].CreatedAt) {
			t.Fatalf("outcomes recorded out of time order at %d", i)
		}
	}
	if !strings.Contains(w.Body.String(), `"accepted": 3`) {
		t.Errorf("body got: %s, expected accepted count", w.Body.String())
	}
}

func TestUnitsHandlerRegisters(t *testing.T) {
	recorder := &fakeRecorder{}
	h, err := NewUnitsHandler(testConfig(), recorder)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	w := postJSON(t, h, `{"unit": "expert_7"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status got: %v, body: %s", w.Code, w.Body.String())
	}
	if len(recorder.units) != 1 || recorder.units[0] != "expert_7" {
		t.Errorf("registered units got: %v, expected: [expert_7]", recorder.units)
	}
}

func TestUnitsHandlerEmptyUnit(t *testing.T) {
	h, err := NewUnitsHandler(testConfig(), &fakeRecorder{})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	if w := postJSON(t, h, `{"unit": ""}`); w.Code != http.StatusBadRequest {
		t.Errorf("status got: %v, expected: %v", w.Code, http.StatusBadRequest)
	}
}
