package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/wwessex/smart-tool/internal/train"
)

type fixedStatus struct {
	snap train.Snapshot
}

func (f fixedStatus) Snapshot() train.Snapshot { return f.snap }

func newTestEcho(snap train.Snapshot) *echo.Echo {
	e := echo.New()
	NewServer(fixedStatus{snap: snap}).Register(e)
	return e
}

func doGet(t *testing.T, e *echo.Echo, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	rec := doGet(t, newTestEcho(train.Snapshot{}), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestStatusReportsProgress(t *testing.T) {
	t.Parallel()
	snap := train.Snapshot{
		RunID:      "run-1",
		Stage:      "sft",
		Step:       25,
		TotalSteps: 100,
		Loss:       2.5,
		LR:         1e-4,
		StartedAt:  time.Now().Add(-time.Minute),
		UpdatedAt:  time.Now(),
	}
	rec := doGet(t, newTestEcho(snap), "/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}

	var got statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.RunID != "run-1" || got.Stage != "sft" || got.Step != 25 {
		t.Fatalf("snapshot fields lost: %+v", got)
	}
	if got.Progress != 0.25 {
		t.Fatalf("progress %v want 0.25", got.Progress)
	}
	if got.ElapsedSeconds <= 0 {
		t.Fatalf("elapsed %v want positive", got.ElapsedSeconds)
	}
}

func TestStatusZeroTotalSteps(t *testing.T) {
	t.Parallel()
	rec := doGet(t, newTestEcho(train.Snapshot{}), "/v1/status")
	var got statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Progress != 0 {
		t.Fatalf("progress without total steps %v want 0", got.Progress)
	}
}
