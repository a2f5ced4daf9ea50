// Package config loads facecam configuration from the environment, an
// optional .env file and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/ayusman/facecam/internal/app"
	"github.com/ayusman/facecam/internal/crop"
	"github.com/ayusman/facecam/internal/detector"
	"github.com/ayusman/facecam/internal/server"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "FACECAM_"

// Config is the process configuration.
type Config struct {
	Addr     string `validate:"required"`
	Camera   int    `validate:"gte=0"`
	DataDir  string `validate:"required"`
	WebDir   string
	LogLevel string `validate:"oneof=trace debug info warn warning error"`

	Backend       string `validate:"oneof=cascade dnn dlib mediapipe mock"`
	Landmarks     string `validate:"oneof=none mediapipe dlib mock"`
	FaceModel     string
	EyeModel      string
	ModelConfig   string `validate:"required_if=Backend dnn"`
	LandmarkModel string
	Script        string
	AssetDir      string
	MinConfidence float64 `validate:"gte=0,lte=1"`
	MaxFaces      int     `validate:"gte=1,lte=64"`

	IntervalMs  int `validate:"gte=10,lte=60000"`
	Crop        bool
	CropEnlarge float64 `validate:"gt=0"`
	CropOffset  float64
	CropAnchor  string `validate:"oneof=center corner"`
	ThumbSize   int    `validate:"gte=16,lte=1024"`
	StreamFPS   int    `validate:"gte=1,lte=60"`
	Tray        bool
}

// Default returns the built-in defaults.
func Default() Config {
	dataDir := ".facecam"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".facecam")
	}

	policy := crop.DefaultPolicy()
	det := detector.DefaultConfig()

	return Config{
		Addr:          ":8080",
		Camera:        0,
		DataDir:       dataDir,
		LogLevel:      "info",
		Backend:       detector.BackendCascade,
		Landmarks:     detector.LandmarksNone,
		FaceModel:     "haarcascade_frontalface_default.xml",
		EyeModel:      "haarcascade_eye.xml",
		AssetDir:      "models",
		MinConfidence: det.MinConfidence,
		MaxFaces:      det.MaxFaces,
		IntervalMs:    int(app.DefaultInterval / time.Millisecond),
		CropEnlarge:   policy.Enlarge,
		CropOffset:    policy.OffsetY,
		CropAnchor:    string(policy.Anchor),
		ThumbSize:     crop.DefaultThumbSize,
		StreamFPS:     server.DefaultStreamFPS,
	}
}

// Load reads envFile if it exists, then applies FACECAM_* variables over the
// defaults. Variables already set in the environment win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := Default()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(EnvPrefix + key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("ADDR", &c.Addr)
	num("CAMERA", &c.Camera)
	str("DATA_DIR", &c.DataDir)
	str("WEB_DIR", &c.WebDir)
	str("LOG_LEVEL", &c.LogLevel)
	str("BACKEND", &c.Backend)
	str("LANDMARKS", &c.Landmarks)
	str("FACE_MODEL", &c.FaceModel)
	str("EYE_MODEL", &c.EyeModel)
	str("MODEL_CONFIG", &c.ModelConfig)
	str("LANDMARK_MODEL", &c.LandmarkModel)
	str("SCRIPT", &c.Script)
	str("ASSET_DIR", &c.AssetDir)
	float("MIN_CONFIDENCE", &c.MinConfidence)
	num("MAX_FACES", &c.MaxFaces)
	num("INTERVAL_MS", &c.IntervalMs)
	boolean("CROP", &c.Crop)
	float("CROP_ENLARGE", &c.CropEnlarge)
	float("CROP_OFFSET", &c.CropOffset)
	str("CROP_ANCHOR", &c.CropAnchor)
	num("THUMB_SIZE", &c.ThumbSize)
	num("STREAM_FPS", &c.StreamFPS)
	boolean("TRAY", &c.Tray)

	return errors.Join(errs...)
}

// BindFlags registers one flag per field, defaulting to the current values.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Addr, "addr", c.Addr, "HTTP listen address")
	fs.IntVar(&c.Camera, "camera", c.Camera, "camera device index")
	fs.StringVar(&c.DataDir, "data-dir", c.DataDir, "directory for the database, logs and model cache")
	fs.StringVar(&c.WebDir, "web-dir", c.WebDir, "static web directory (auto-detected when empty)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level")

	fs.StringVar(&c.Backend, "backend", c.Backend, "face backend: cascade, dnn, dlib, mediapipe or mock")
	fs.StringVar(&c.Landmarks, "landmarks", c.Landmarks, "landmark backend: none, mediapipe, dlib or mock")
	fs.StringVar(&c.FaceModel, "face-model", c.FaceModel, "face model path or URL")
	fs.StringVar(&c.EyeModel, "eye-model", c.EyeModel, "eye cascade path or URL")
	fs.StringVar(&c.ModelConfig, "model-config", c.ModelConfig, "DNN network description path or URL")
	fs.StringVar(&c.LandmarkModel, "landmark-model", c.LandmarkModel, "dlib model directory for landmarks")
	fs.StringVar(&c.Script, "script", c.Script, "MediaPipe helper script")
	fs.StringVar(&c.AssetDir, "asset-dir", c.AssetDir, "directory relative model paths resolve against")
	fs.Float64Var(&c.MinConfidence, "min-confidence", c.MinConfidence, "minimum detection probability")
	fs.IntVar(&c.MaxFaces, "max-faces", c.MaxFaces, "maximum faces per frame")

	fs.IntVar(&c.IntervalMs, "interval", c.IntervalMs, "detection interval in milliseconds")
	fs.BoolVar(&c.Crop, "crop", c.Crop, "enable the cropped face pipeline")
	fs.Float64Var(&c.CropEnlarge, "crop-enlarge", c.CropEnlarge, "crop enlargement factor")
	fs.Float64Var(&c.CropOffset, "crop-offset", c.CropOffset, "crop vertical offset factor")
	fs.StringVar(&c.CropAnchor, "crop-anchor", c.CropAnchor, "crop anchor: center or corner")
	fs.IntVar(&c.ThumbSize, "thumb-size", c.ThumbSize, "maximum thumbnail edge in pixels")
	fs.IntVar(&c.StreamFPS, "stream-fps", c.StreamFPS, "MJPEG stream rate")
	fs.BoolVar(&c.Tray, "tray", c.Tray, "show a system tray icon")
}

// Validate checks every field.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// DBPath is the settings database location.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, "facecam.db")
}

// LogDir is the rotating log file directory.
func (c Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// CacheDir holds downloaded model assets.
func (c Config) CacheDir() string {
	return filepath.Join(c.DataDir, "models")
}

// Models returns the model loader configuration.
func (c Config) Models() detector.ModelConfig {
	return detector.ModelConfig{
		Backend:       c.Backend,
		Landmarks:     c.Landmarks,
		FaceModel:     c.FaceModel,
		EyeModel:      c.EyeModel,
		NetConfig:     c.ModelConfig,
		LandmarkModel: c.LandmarkModel,
		Script:        c.Script,
		AssetDir:      c.AssetDir,
		CacheDir:      c.CacheDir(),
		Detector: detector.Config{
			MaxFaces:      c.MaxFaces,
			MinConfidence: c.MinConfidence,
		},
	}
}

// App returns the application configuration. Logging and canvas are left to
// the caller.
func (c Config) App() app.Config {
	return app.Config{
		Interval: time.Duration(c.IntervalMs) * time.Millisecond,
		Crop:     c.Crop,
		Crops: crop.Config{
			Policy: crop.Policy{
				Enlarge: c.CropEnlarge,
				OffsetY: c.CropOffset,
				Anchor:  crop.Anchor(c.CropAnchor),
			},
			MaxFaces:  c.MaxFaces,
			ThumbSize: c.ThumbSize,
		},
	}
}

// FindWebDir searches for the web directory in common locations: "web",
// "../web", "../../web" and <data dir>/web. It returns "" if none exists.
func (c Config) FindWebDir() string {
	if c.WebDir != "" {
		return c.WebDir
	}

	for _, p := range []string{"web", "../web", "../../web"} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}

	dataWeb := filepath.Join(c.DataDir, "web")
	if info, err := os.Stat(dataWeb); err == nil && info.IsDir() {
		return dataWeb
	}
	return ""
}
