package detector

import (
	"context"
	"fmt"
)

// Face backends.
const (
	BackendCascade   = "cascade"
	BackendDNN       = "dnn"
	BackendDlib      = "dlib"
	BackendMediaPipe = "mediapipe"
	BackendMock      = "mock"
)

// Landmark backends; BackendDlib, BackendMediaPipe and BackendMock also apply.
const LandmarksNone = "none"

// ModelConfig selects and locates the models for Open.
type ModelConfig struct {
	Backend   string
	Landmarks string

	// FaceModel is the cascade XML, DNN weights, or dlib model directory.
	FaceModel string
	// EyeModel is the optional eye cascade for the cascade backend.
	EyeModel string
	// NetConfig is the DNN network description (prototxt).
	NetConfig string
	// LandmarkModel is the dlib model directory for dlib landmarks when the
	// face backend is not dlib.
	LandmarkModel string
	// Script overrides the MediaPipe helper location.
	Script string

	AssetDir string
	CacheDir string

	Detector Config
}

// Open builds the models described by cfg. It is the production LoadFunc.
func Open(cfg ModelConfig) LoadFunc {
	return func(ctx context.Context) (*Models, error) {
		resolve := func(ref string) (string, error) {
			return ResolveAsset(ctx, ref, cfg.AssetDir, cfg.CacheDir)
		}

		faces, err := openFaces(cfg, resolve)
		if err != nil {
			return nil, err
		}

		landmarks, err := openLandmarks(cfg, faces, resolve)
		if err != nil {
			faces.Close()
			return nil, err
		}

		return &Models{Faces: faces, Landmarks: landmarks}, nil
	}
}

func openFaces(cfg ModelConfig, resolve func(string) (string, error)) (Detector, error) {
	switch cfg.Backend {
	case BackendCascade, "":
		face, err := resolve(cfg.FaceModel)
		if err != nil {
			return nil, err
		}
		eyes, err := resolve(cfg.EyeModel)
		if err != nil {
			return nil, err
		}
		return NewCascadeDetector(cfg.Detector, face, eyes)

	case BackendDNN:
		model, err := resolve(cfg.FaceModel)
		if err != nil {
			return nil, err
		}
		netConfig, err := resolve(cfg.NetConfig)
		if err != nil {
			return nil, err
		}
		return NewDNNDetector(cfg.Detector, model, netConfig)

	case BackendDlib:
		dir, err := resolve(cfg.FaceModel)
		if err != nil {
			return nil, err
		}
		return NewDlibDetector(cfg.Detector, dir)

	case BackendMediaPipe:
		return NewMediaPipeDetector(cfg.Detector, cfg.Script)

	case BackendMock:
		return NewMockDetector(), nil

	default:
		return nil, fmt.Errorf("unknown face backend %q", cfg.Backend)
	}
}

func openLandmarks(cfg ModelConfig, faces Detector, resolve func(string) (string, error)) (LandmarkDetector, error) {
	switch cfg.Landmarks {
	case LandmarksNone, "":
		return nil, nil

	case BackendDlib:
		if d, ok := faces.(*DlibDetector); ok {
			return d.Landmarks(), nil
		}
		dir, err := resolve(cfg.LandmarkModel)
		if err != nil {
			return nil, err
		}
		return NewDlibLandmarks(dir)

	case BackendMediaPipe:
		return NewMediaPipeMesh(cfg.Script)

	case BackendMock:
		return NewMockLandmarkDetector(&LandmarkSet{Model: BackendMock}), nil

	default:
		return nil, fmt.Errorf("unknown landmark backend %q", cfg.Landmarks)
	}
}
