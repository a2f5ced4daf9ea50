package detector

import (
	"context"
	"errors"
	"image"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

const epsilon = 1e-9

func TestDetection_Geometry(t *testing.T) {
	d := Detection{
		TopLeft:     Point{X: 10.4, Y: 20.6},
		BottomRight: Point{X: 110.5, Y: 70.2},
	}

	if math.Abs(d.Width()-100.1) > epsilon {
		t.Errorf("Width() = %f, want 100.1", d.Width())
	}
	if math.Abs(d.Height()-49.6) > 1e-6 {
		t.Errorf("Height() = %f, want 49.6", d.Height())
	}

	want := image.Rect(10, 21, 111, 70)
	if got := d.Rect(); got != want {
		t.Errorf("Rect() = %v, want %v", got, want)
	}
}

func TestDetection_Landmark(t *testing.T) {
	d := SampleDetection()

	t.Run("finds named landmark", func(t *testing.T) {
		p, ok := d.Landmark(Nose)
		if !ok {
			t.Fatal("expected nose landmark")
		}
		if p.X != 150 || p.Y != 155 {
			t.Errorf("nose = %+v, want (150,155)", p)
		}
	})

	t.Run("missing landmark", func(t *testing.T) {
		if _, ok := d.Landmark("chin"); ok {
			t.Error("expected chin to be missing")
		}
	})

	t.Run("landmarks keep model order", func(t *testing.T) {
		for i, name := range blazeFaceKeypoints {
			if d.Landmarks[i].Name != name {
				t.Errorf("landmark %d = %s, want %s", i, d.Landmarks[i].Name, name)
			}
		}
	})
}

func TestLandmarkSet_Len(t *testing.T) {
	var nilSet *LandmarkSet
	if nilSet.Len() != 0 {
		t.Errorf("nil set Len() = %d, want 0", nilSet.Len())
	}

	set := &LandmarkSet{Points: make([]Point3D, 468)}
	if set.Len() != 468 {
		t.Errorf("Len() = %d, want 468", set.Len())
	}
}

func TestConfig_Limit(t *testing.T) {
	dets := []Detection{SampleDetection(), SampleDetection(), SampleDetection()}

	tests := []struct {
		name     string
		maxFaces int
		want     int
	}{
		{name: "unlimited", maxFaces: 0, want: 3},
		{name: "above count", maxFaces: 5, want: 3},
		{name: "trims", maxFaces: 2, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Config{MaxFaces: tt.maxFaces}.limit(dets)
			if len(got) != tt.want {
				t.Errorf("limit() len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestMockDetector(t *testing.T) {
	t.Run("returns empty detections by default", func(t *testing.T) {
		mock := NewMockDetector()

		dets, err := mock.Detect(nil)

		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if dets != nil {
			t.Errorf("expected nil detections, got %v", dets)
		}
	})

	t.Run("returns configured detections", func(t *testing.T) {
		mock := NewMockDetector()
		mock.SetDetections([]Detection{SampleDetection(), SampleDetection()})

		dets, err := mock.Detect(nil)

		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if len(dets) != 2 {
			t.Errorf("expected 2 detections, got %d", len(dets))
		}
	})

	t.Run("returns copies", func(t *testing.T) {
		mock := NewMockDetector()
		mock.SetDetections([]Detection{SampleDetection()})

		first, _ := mock.Detect(nil)
		first[0].Probability = 0

		second, _ := mock.Detect(nil)
		if second[0].Probability == 0 {
			t.Error("mutating a result changed the configured detections")
		}
	})

	t.Run("returns configured error and counts calls", func(t *testing.T) {
		mock := NewMockDetector()

		expectedErr := errors.New("inference failed")
		mock.SetError(expectedErr)

		dets, err := mock.Detect(nil)

		if err != expectedErr {
			t.Errorf("expected error %v, got %v", expectedErr, err)
		}
		if dets != nil {
			t.Errorf("expected nil detections when error is set, got %v", dets)
		}
		if mock.Calls() != 1 {
			t.Errorf("Calls() = %d, want 1", mock.Calls())
		}
	})

	t.Run("implements Detector interface", func(t *testing.T) {
		var _ Detector = (*MockDetector)(nil)
		var _ LandmarkDetector = (*MockLandmarkDetector)(nil)
	})
}

func TestLoader_Success(t *testing.T) {
	mock := NewMockDetector()
	var calls int32
	l := NewLoader(func(ctx context.Context) (*Models, error) {
		atomic.AddInt32(&calls, 1)
		return &Models{Faces: mock}, nil
	})

	if l.Loading() {
		t.Error("Loading() should be false before Load")
	}
	if _, err := l.Models(); !errors.Is(err, ErrModelsLoading) {
		t.Errorf("Models() before load error = %v, want ErrModelsLoading", err)
	}

	l.Load(context.Background())
	l.Load(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	models, err := l.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if models.Faces != mock {
		t.Error("Wait() returned unexpected detector")
	}
	if l.Loading() {
		t.Error("Loading() should be false after completion")
	}
	if l.Err() != nil {
		t.Errorf("Err() = %v, want nil", l.Err())
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("load function called %d times, want 1", n)
	}
}

func TestLoader_Failure(t *testing.T) {
	loadErr := errors.New("model not found")
	l := NewLoader(Failing(loadErr))
	l.Load(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	models, err := l.Wait(ctx)
	if models != nil {
		t.Error("expected nil models after failure")
	}
	if !errors.Is(err, ErrModelsUnavailable) || !errors.Is(err, loadErr) {
		t.Errorf("Wait() error = %v, want ErrModelsUnavailable wrapping %v", err, loadErr)
	}
	if l.Loading() {
		t.Error("Loading() should be false after failure")
	}
	if l.Err() != loadErr {
		t.Errorf("Err() = %v, want %v", l.Err(), loadErr)
	}

	// Failure is terminal: another Load does not retry.
	l.Load(context.Background())
	if l.Loading() || l.Err() == nil {
		t.Error("failed loader should stay failed")
	}
}

func TestLoader_NilDetectorIsFailure(t *testing.T) {
	l := NewLoader(Static(nil, nil))
	l.Load(context.Background())
	<-l.Done()

	if l.Err() == nil {
		t.Error("expected error when no face detector is loaded")
	}
}

func TestLoader_WaitHonorsContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	l := NewLoader(func(ctx context.Context) (*Models, error) {
		<-block
		return nil, errors.New("unblocked")
	})
	l.Load(context.Background())

	if !l.Loading() {
		t.Error("Loading() should be true while loading")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}
}

func TestResolveAsset(t *testing.T) {
	t.Run("empty reference", func(t *testing.T) {
		got, err := ResolveAsset(context.Background(), "", "models", "")
		if err != nil || got != "" {
			t.Errorf("ResolveAsset(\"\") = %q, %v", got, err)
		}
	})

	t.Run("relative path joins asset dir", func(t *testing.T) {
		got, err := ResolveAsset(context.Background(), "face.xml", "models", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != filepath.Join("models", "face.xml") {
			t.Errorf("got %q", got)
		}
	})

	t.Run("absolute path kept", func(t *testing.T) {
		got, err := ResolveAsset(context.Background(), "/opt/face.xml", "models", "")
		if err != nil || got != "/opt/face.xml" {
			t.Errorf("got %q, %v", got, err)
		}
	})

	t.Run("remote uri downloaded once", func(t *testing.T) {
		var hits int32
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			w.Write([]byte("<cascade/>"))
		}))
		defer ts.Close()

		cache := t.TempDir()
		for i := 0; i < 2; i++ {
			got, err := ResolveAsset(context.Background(), ts.URL+"/models/face.xml", "models", cache)
			if err != nil {
				t.Fatalf("ResolveAsset() error = %v", err)
			}
			if got != filepath.Join(cache, "face.xml") {
				t.Errorf("got %q", got)
			}
			data, err := os.ReadFile(got)
			if err != nil || string(data) != "<cascade/>" {
				t.Errorf("cached content = %q, %v", data, err)
			}
		}
		if n := atomic.LoadInt32(&hits); n != 1 {
			t.Errorf("server hit %d times, want 1", n)
		}
	})

	t.Run("remote failure", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		defer ts.Close()

		if _, err := ResolveAsset(context.Background(), ts.URL+"/missing.xml", "", t.TempDir()); err == nil {
			t.Error("expected error for 404")
		}
	})
}

func TestOpen(t *testing.T) {
	t.Run("mock backends", func(t *testing.T) {
		models, err := Open(ModelConfig{Backend: BackendMock, Landmarks: BackendMock})(context.Background())
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer models.Close()

		if _, ok := models.Faces.(*MockDetector); !ok {
			t.Errorf("Faces = %T, want *MockDetector", models.Faces)
		}
		if _, ok := models.Landmarks.(*MockLandmarkDetector); !ok {
			t.Errorf("Landmarks = %T, want *MockLandmarkDetector", models.Landmarks)
		}
	})

	t.Run("unknown backend", func(t *testing.T) {
		if _, err := Open(ModelConfig{Backend: "yolo"})(context.Background()); err == nil {
			t.Error("expected error for unknown backend")
		}
	})

	t.Run("unknown landmark backend", func(t *testing.T) {
		if _, err := Open(ModelConfig{Backend: BackendMock, Landmarks: "hourglass"})(context.Background()); err == nil {
			t.Error("expected error for unknown landmark backend")
		}
	})

	t.Run("missing cascade", func(t *testing.T) {
		cfg := ModelConfig{Backend: BackendCascade, FaceModel: "does-not-exist.xml", AssetDir: t.TempDir()}
		if _, err := Open(cfg)(context.Background()); err == nil {
			t.Error("expected error for missing cascade file")
		}
	})
}

func TestJSONFace_ToDetection(t *testing.T) {
	var f jsonFace
	f.Box.XMin, f.Box.YMin, f.Box.Width, f.Box.Height = 0.25, 0.5, 0.25, 0.25
	f.Score = 0.9
	f.Keypoints = []jsonPoint{{X: 0.3, Y: 0.6}, {X: 0.45, Y: 0.6}, {X: 0.375, Y: 0.65}}

	d := f.toDetection(640, 480)

	if d.TopLeft != (Point{X: 160, Y: 240}) {
		t.Errorf("TopLeft = %+v", d.TopLeft)
	}
	if d.BottomRight != (Point{X: 320, Y: 360}) {
		t.Errorf("BottomRight = %+v", d.BottomRight)
	}
	if len(d.Landmarks) != 3 {
		t.Fatalf("landmarks = %d, want 3", len(d.Landmarks))
	}
	if d.Landmarks[2].Name != Nose {
		t.Errorf("third keypoint = %s, want %s", d.Landmarks[2].Name, Nose)
	}
	if math.Abs(d.Landmarks[0].X-192) > epsilon {
		t.Errorf("right eye X = %f, want 192", d.Landmarks[0].X)
	}
}

func TestShapeLandmarks(t *testing.T) {
	t.Run("five point shape is named", func(t *testing.T) {
		pts := []image.Point{{1, 1}, {2, 2}, {3, 3}, {4, 4}, {5, 5}}
		got := shapeLandmarks(pts)
		if got[0].Name != "rightEyeOuter" || got[4].Name != Nose {
			t.Errorf("names = %s..%s", got[0].Name, got[4].Name)
		}
	})

	t.Run("other shapes are numbered", func(t *testing.T) {
		pts := make([]image.Point, 68)
		got := shapeLandmarks(pts)
		if got[67].Name != "shape67" {
			t.Errorf("name = %s, want shape67", got[67].Name)
		}
	})
}
