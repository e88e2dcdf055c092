package httpapi

import (
	"bytes"
	"image"
	"image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/image/draw"
)

const (
	thumbsDirName = ".thumbs"
	thumbSize     = 120
)

// browserEntry is one row of a directory listing under /output/.
type browserEntry struct {
	Name     string `json:"name"`
	IsDir    bool   `json:"is_dir"`
	Size     int64  `json:"size,omitempty"`
	Modified int64  `json:"modified"`
}

// resolveOutputPath maps a URL path under prefix into the output root,
// rejecting any traversal outside it.
func (s *Server) resolveOutputPath(urlPath, prefix string) (string, bool) {
	rel := strings.TrimPrefix(urlPath, prefix)
	rel = filepath.FromSlash(strings.TrimPrefix(rel, "/"))

	root := s.deps.Config.Paths.Output
	full := filepath.Join(root, rel)

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	fullAbs, err := filepath.Abs(full)
	if err != nil {
		return "", false
	}
	if fullAbs != rootAbs && !strings.HasPrefix(fullAbs, rootAbs+string(os.PathSeparator)) {
		return "", false
	}
	return fullAbs, true
}

// handleOutputBrowser serves the output tree: a JSON listing for
// directories (hiding the .thumbs caches) and the file bytes otherwise.
func (s *Server) handleOutputBrowser(w http.ResponseWriter, r *http.Request) {
	full, ok := s.resolveOutputPath(r.URL.Path, "/output")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}

	info, err := os.Stat(full)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if !info.IsDir() {
		http.ServeFile(w, r, full)
		return
	}

	dirEntries, err := os.ReadDir(full)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read dir: %v", err)
		return
	}

	entries := make([]browserEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.Name() == thumbsDirName {
			continue
		}
		fi, err := de.Info()
		if err != nil {
			continue
		}
		entry := browserEntry{Name: de.Name(), IsDir: de.IsDir(), Modified: fi.ModTime().Unix()}
		if !de.IsDir() {
			entry.Size = fi.Size()
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"path":    strings.TrimPrefix(r.URL.Path, "/output"),
		"entries": entries,
	})
}

// handleThumbnail serves a 120x120 JPEG thumbnail for a media file under
// the output tree, generated lazily on first request and cached in a
// .thumbs directory alongside the source file.
func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	full, ok := s.resolveOutputPath(r.URL.Path, "/thumb")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}

	srcInfo, err := os.Stat(full)
	if err != nil || srcInfo.IsDir() {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	thumbPath := filepath.Join(filepath.Dir(full), thumbsDirName, filepath.Base(full)+".jpg")
	if thumbInfo, err := os.Stat(thumbPath); err == nil && !thumbInfo.ModTime().Before(srcInfo.ModTime()) {
		w.Header().Set("Content-Type", "image/jpeg")
		http.ServeFile(w, r, thumbPath)
		return
	}

	thumb, err := makeThumbnail(full)
	if err != nil {
		writeError(w, http.StatusUnsupportedMediaType, "cannot thumbnail %s: %v", filepath.Base(full), err)
		return
	}

	if err := os.MkdirAll(filepath.Dir(thumbPath), 0o755); err == nil {
		tmp := thumbPath + ".tmp"
		if os.WriteFile(tmp, thumb, 0o644) == nil {
			os.Rename(tmp, thumbPath)
			os.Chtimes(thumbPath, time.Now(), srcInfo.ModTime())
		}
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(thumb)
}

func makeThumbnail(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}

	bounds := src.Bounds()
	outW, outH := scaleToFit(bounds.Dx(), bounds.Dy(), thumbSize)
	dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func scaleToFit(w, h, max int) (int, int) {
	if w <= max && h <= max {
		return w, h
	}
	if w >= h {
		return max, h * max / w
	}
	return w * max / h, max
}
