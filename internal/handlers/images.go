package handlers

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/breadline/orderform/httpx"
)

// ImageHandler stores product photos on disk. Image storage is opaque to the
// order core; files are keyed by product name with a forced .jpg extension.
type ImageHandler struct {
	Dir string
}

func NewImageHandler(dir string) *ImageHandler {
	return &ImageHandler{Dir: dir}
}

// Upload: POST /api/upload_image – multipart form, JPEG only.
func (h *ImageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_multipart", nil)
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "no_image_file", nil)
		return
	}
	defer file.Close()

	name := header.Filename
	if v := r.FormValue("fileName"); v != "" {
		name = v
	}
	lower := strings.ToLower(name)
	if !strings.HasSuffix(lower, ".jpg") && !strings.HasSuffix(lower, ".jpeg") {
		httpx.JSONError(w, http.StatusBadRequest, "jpeg_only", nil)
		return
	}
	base := strings.TrimSuffix(strings.TrimSuffix(name, filepath.Ext(name)), ".")
	filename := filepath.Base(base) + ".jpg"

	if err := os.MkdirAll(h.Dir, 0o755); err != nil {
		httpx.Internal(w)
		return
	}
	dst, err := os.Create(filepath.Join(h.Dir, filename))
	if err != nil {
		httpx.Internal(w)
		return
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		httpx.Internal(w)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"imagePath": "/api/images/" + filename})
}

// Get: GET /api/images/{name} – serves by base name, appending .jpg.
func (h *ImageHandler) Get(w http.ResponseWriter, r *http.Request, name string) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	full := filepath.Join(h.Dir, filepath.Base(base)+".jpg")
	if _, err := os.Stat(full); err != nil {
		httpx.NotFound(w)
		return
	}
	http.ServeFile(w, r, full)
}
