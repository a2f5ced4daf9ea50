package detector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ResolveAsset turns a model reference into a local file path. Remote http(s)
// references are downloaded once into cacheDir; anything else is a path,
// resolved against assetDir when relative. No version or integrity check is
// performed.
func ResolveAsset(ctx context.Context, ref, assetDir, cacheDir string) (string, error) {
	if ref == "" {
		return "", nil
	}

	if isRemote(ref) {
		return fetchAsset(ctx, ref, cacheDir)
	}

	if filepath.IsAbs(ref) || assetDir == "" {
		return ref, nil
	}
	return filepath.Join(assetDir, ref), nil
}

func isRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func fetchAsset(ctx context.Context, ref, cacheDir string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse model uri: %w", err)
	}

	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "", fmt.Errorf("model uri %s has no file name", ref)
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return "", fmt.Errorf("create model cache: %w", err)
	}

	dest := filepath.Join(cacheDir, name)
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		return dest, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: unexpected status %s", ref, resp.Status)
	}

	tmp, err := os.CreateTemp(cacheDir, name+".*.part")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("download %s: %w", ref, err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("store %s: %w", name, err)
	}
	return dest, nil
}
