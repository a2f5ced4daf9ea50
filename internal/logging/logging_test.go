package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level   string
		want    logrus.Level
		wantErr bool
	}{
		{level: "", want: logrus.InfoLevel},
		{level: "debug", want: logrus.DebugLevel},
		{level: "warn", want: logrus.WarnLevel},
		{level: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := New(Options{Level: tt.level, Output: &bytes.Buffer{}})
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && logger.GetLevel() != tt.want {
				t.Errorf("level = %v, want %v", logger.GetLevel(), tt.want)
			}
		})
	}
}

func TestNew_WritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.WithField("component", "capture").Info("camera streaming")

	out := buf.String()
	if !strings.Contains(out, "camera streaming") || !strings.Contains(out, "capture") {
		t.Errorf("output = %q", out)
	}
}

func TestNew_FileOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	logger, err := New(Options{Dir: dir, Output: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Warn("written to file")

	data, err := os.ReadFile(filepath.Join(dir, "facecam.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file = %q", data)
	}
}
