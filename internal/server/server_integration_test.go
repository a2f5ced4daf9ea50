package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"gocv.io/x/gocv"

	"github.com/ayusman/facecam/internal/app"
	"github.com/ayusman/facecam/internal/capture"
	"github.com/ayusman/facecam/internal/detector"
	"github.com/ayusman/facecam/internal/session"
	"github.com/ayusman/facecam/internal/store"
	"github.com/ayusman/facecam/testdata"
)

func TestAPI_CaptureWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	frame := testdata.Frame(640, 480)
	defer frame.Close()

	faces := detector.NewMockDetector()
	faces.SetDetections([]detector.Detection{box(100, 100, 200, 200)})
	marks := detector.NewMockLandmarkDetector(&detector.LandmarkSet{Model: "mock", Points: make([]detector.Point3D, 5)})
	log, _ := test.NewNullLogger()

	a := app.New(app.Config{Interval: 5 * time.Millisecond, Log: log},
		capture.NewMockCamera([]*gocv.Mat{frame}, true),
		detector.NewLoader(detector.Static(faces, marks)))
	defer a.Close()
	a.Load(context.Background())

	ts := httptest.NewServer(New(Config{App: a, Store: s, Log: log}))
	defer ts.Close()
	client := ts.Client()

	// 1. Enable the crop pipeline
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/settings",
		bytes.NewBufferString(`{"crop": true, "displayWidth": 320, "displayHeight": 240}`))
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("PUT /api/settings error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	// 2. Start capture
	resp, err = client.Post(ts.URL+"/api/capture/start", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/capture/start error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	// 3. Wait for a crop to show up
	var listed struct {
		Faces []session.Face `json:"faces"`
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(listed.Faces) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no faces listed")
		}
		resp, err = client.Get(ts.URL + "/api/faces")
		if err != nil {
			t.Fatalf("GET /api/faces error = %v", err)
		}
		json.NewDecoder(resp.Body).Decode(&listed)
		resp.Body.Close()
		time.Sleep(5 * time.Millisecond)
	}

	if listed.Faces[0].Landmarks != 5 {
		t.Errorf("landmarks = %d, want 5", listed.Faces[0].Landmarks)
	}

	// 4. Stop capture
	resp, err = client.Post(ts.URL+"/api/capture/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/capture/stop error = %v", err)
	}
	var snap session.Snapshot
	json.NewDecoder(resp.Body).Decode(&snap)
	resp.Body.Close()

	if snap.Streaming || len(snap.Detections) != 0 || len(snap.Faces) != 0 {
		t.Errorf("snapshot after stop = %+v", snap)
	}

	// 5. Settings survived in the store
	var saved app.Settings
	if err := s.Settings().GetJSON("runtime", &saved); err != nil {
		t.Fatalf("settings not saved: %v", err)
	}
	if !saved.Crop || saved.DisplayWidth != 320 {
		t.Errorf("saved settings = %+v", saved)
	}
}

func TestAPI_HealthCheck(t *testing.T) {
	srv := New(Config{})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var health struct {
		Status string `json:"status"`
		Uptime string `json:"uptime"`
	}
	json.NewDecoder(resp.Body).Decode(&health)

	if health.Status != "ok" {
		t.Errorf("status = %s, want ok", health.Status)
	}
}

func TestServer_ListenAndShutdown(t *testing.T) {
	srv := New(Config{})

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe("127.0.0.1:0") }()

	time.Sleep(20 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ListenAndServe() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
