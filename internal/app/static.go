package app

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// audioHandler serves synthesized artifacts from dir. Only flat .mp3 and
// .wav names resolve; sidecars, temp files and directory listings are 404.
func audioHandler(dir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path
		if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
			http.NotFound(w, r)
			return
		}
		switch path.Ext(name) {
		case ".mp3":
			w.Header().Set("Content-Type", "audio/mpeg")
		case ".wav":
			w.Header().Set("Content-Type", "audio/wav")
		default:
			http.NotFound(w, r)
			return
		}
		full := filepath.Join(dir, name)
		if info, err := os.Stat(full); err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		http.ServeFile(w, r, full)
	})
}

// publicHandler serves the presentation client from dir. Unknown paths
// without a file extension fall back to index.html so client-side routes
// load.
func publicHandler(dir string) http.Handler {
	root := os.DirFS(dir)
	files := http.FileServerFS(root)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		if name == "" {
			name = "."
		}
		info, err := fs.Stat(root, name)
		switch {
		case err == nil && !info.IsDir():
			files.ServeHTTP(w, r)
		case err == nil && info.IsDir():
			if _, err := fs.Stat(root, path.Join(name, "index.html")); err == nil {
				files.ServeHTTP(w, r)
				return
			}
			http.NotFound(w, r)
		case errors.Is(err, fs.ErrNotExist) && path.Ext(name) == "":
			http.ServeFileFS(w, r, root, "index.html")
		default:
			http.NotFound(w, r)
		}
	})
}
