package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/ayusman/facecam/internal/app"
	"github.com/ayusman/facecam/internal/capture"
	"github.com/ayusman/facecam/internal/crop"
	"github.com/ayusman/facecam/internal/detector"
	"github.com/ayusman/facecam/internal/overlay"
	"github.com/ayusman/facecam/internal/session"
	"github.com/ayusman/facecam/internal/store"
)

// newTestStore creates a new Store with a temporary database for testing.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestApp(t *testing.T, cam *capture.MockCamera) *app.App {
	t.Helper()

	log, _ := test.NewNullLogger()
	a := app.New(app.Config{Canvas: overlay.NewRecorder(), Log: log}, cam,
		detector.NewLoader(detector.Static(detector.NewMockDetector(), nil)))
	t.Cleanup(func() { a.Close() })
	return a
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return resp.Error
}

func TestCaptureHandler(t *testing.T) {
	cam := capture.NewMockCamera(nil, false)
	handler := NewCaptureHandler(newTestApp(t, cam))

	t.Run("start", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/capture/start", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		var snap session.Snapshot
		if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if !snap.Streaming {
			t.Error("expected streaming after start")
		}
	})

	t.Run("stop", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/capture/stop", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		if cam.IsOpen() {
			t.Error("camera should be closed after stop")
		}
	})

	t.Run("camera unavailable", func(t *testing.T) {
		cam.SetOpenError(errors.New("no device"))
		defer cam.SetOpenError(nil)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/capture/start", nil))

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
		}
		if msg := decodeError(t, rec); msg != "Camera unavailable" {
			t.Errorf("error = %q", msg)
		}
	})

	t.Run("unknown action", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/capture/pause", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})

	t.Run("only allows POST", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/capture/start", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})
}

func TestSettingsHandler_Get(t *testing.T) {
	a := newTestApp(t, capture.NewMockCamera(nil, false))
	handler := NewSettingsHandler(a, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/settings", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}

	var got app.Settings
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.IntervalMs != 100 || got.Policy != crop.DefaultPolicy() {
		t.Errorf("settings = %+v", got)
	}
}

func TestSettingsHandler_Put(t *testing.T) {
	s := newTestStore(t)
	a := newTestApp(t, capture.NewMockCamera(nil, false))
	handler := NewSettingsHandler(a, s)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "partial update", body: `{"displayWidth": 320, "displayHeight": 240}`, wantStatus: http.StatusOK},
		{name: "crop policy", body: `{"crop": true, "policy": {"enlarge": 1.2, "offsetY": 0.2, "anchor": "corner"}}`, wantStatus: http.StatusOK},
		{name: "invalid json", body: `{"displayWidth":`, wantStatus: http.StatusBadRequest},
		{name: "interval out of range", body: `{"intervalMs": 1}`, wantStatus: http.StatusBadRequest},
		{name: "unknown anchor", body: `{"policy": {"enlarge": 1.2, "anchor": "middle"}}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/api/settings", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d (%s)", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}

	got := a.Settings()
	if got.DisplayWidth != 320 || !got.Crop || got.Policy.Anchor != crop.AnchorCorner {
		t.Errorf("settings after updates = %+v", got)
	}
	if a.Session().DisplaySize() != image.Pt(320, 240) {
		t.Errorf("display size = %v", a.Session().DisplaySize())
	}

	var saved app.Settings
	if err := s.Settings().GetJSON(SettingsKey, &saved); err != nil {
		t.Fatalf("settings not persisted: %v", err)
	}
	if saved != got {
		t.Errorf("saved = %+v, want %+v", saved, got)
	}
}

func TestSettingsHandler_ValidationMessage(t *testing.T) {
	handler := NewSettingsHandler(newTestApp(t, capture.NewMockCamera(nil, false)), nil)

	req := httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(`{"intervalMs": 0}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if msg := decodeError(t, rec); !strings.Contains(msg, "IntervalMs") {
		t.Errorf("error = %q, want field name", msg)
	}
}

func TestRestoreSettings(t *testing.T) {
	s := newTestStore(t)
	a := newTestApp(t, capture.NewMockCamera(nil, false))

	if err := RestoreSettings(s, a); err != nil {
		t.Fatalf("RestoreSettings() on empty store error = %v", err)
	}

	want := app.Settings{DisplayWidth: 800, DisplayHeight: 600, IntervalMs: 40, Crop: true, Policy: crop.DefaultPolicy()}
	if err := s.Settings().SetJSON(SettingsKey, want); err != nil {
		t.Fatalf("SetJSON() error = %v", err)
	}
	if err := RestoreSettings(s, a); err != nil {
		t.Fatalf("RestoreSettings() error = %v", err)
	}
	if got := a.Settings(); got != want {
		t.Errorf("Settings() = %+v, want %+v", got, want)
	}
}

func TestFacesHandler(t *testing.T) {
	st := session.New()
	st.Commit(session.Result{
		NativeSize: image.Pt(640, 480),
		Scale:      overlay.Identity,
		Crops: []crop.Artifact{{
			ID:        "face-1",
			Region:    image.Rect(10, 10, 60, 60),
			Thumbnail: []byte{0xff, 0xd8, 0xff, 0xd9},
			ThumbSize: image.Pt(50, 50),
			Landmarks: &detector.LandmarkSet{Model: "mesh", Points: []detector.Point3D{{X: 10, Y: 20}, {X: 40, Y: 30}}},
			Points:    []image.Point{{10, 20}, {40, 30}},
		}},
	})
	handler := NewFacesHandler(st)

	t.Run("list", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/faces", nil))

		var resp listFacesResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(resp.Faces) != 1 || resp.Faces[0].ID != "face-1" || resp.Seq != 1 {
			t.Fatalf("response = %+v", resp)
		}
		f := resp.Faces[0]
		if f.Landmarks != 2 || f.Model != "mesh" {
			t.Errorf("landmark summary = %d %q", f.Landmarks, f.Model)
		}
		if len(f.Points) != 2 || f.Points[0] != image.Pt(10, 20) || f.Points[1] != image.Pt(40, 30) {
			t.Errorf("points = %v", f.Points)
		}
	})

	t.Run("thumbnail", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/faces/face-1.jpg", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("Content-Type = %s", ct)
		}
		if rec.Body.Len() != 4 {
			t.Errorf("body length = %d", rec.Body.Len())
		}
	})

	t.Run("stale id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/faces/gone.jpg", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})

	t.Run("only allows GET", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/faces/face-1.jpg", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})
}
