package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/subtitler/internal/api/response"
	"github.com/kiranshivaraju/subtitler/internal/jobs"
	"github.com/kiranshivaraju/subtitler/pkg/models"
)

const multipartMemory = 32 << 20

// AllowedExtensions lists the upload containers accepted, without the dot.
var AllowedExtensions = []string{"mp4", "webm", "mkv", "avi", "mov", "m4a", "mp3", "wav"}

func allowedExtension(ext string) bool {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	for _, a := range AllowedExtensions {
		if ext == a {
			return true
		}
	}
	return false
}

// Upload handles POST /api/v1/uploads. The original is retained under the
// media directory and a working copy is handed to the pipeline, which
// deletes it when the job ends.
func (h *Jobs) Upload(w http.ResponseWriter, r *http.Request) {
	if h.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
				fmt.Sprintf("Uploads are limited to %d MB", h.cfg.MaxUploadBytes>>20), nil)
			return
		}
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Expected a multipart form", nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "file is required", nil)
		return
	}
	defer file.Close()

	if header.Filename == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "No file selected", nil)
		return
	}
	if !allowedExtension(filepath.Ext(header.Filename)) {
		response.Error(w, http.StatusBadRequest, "UNSUPPORTED_FILE_TYPE", "File type is not allowed",
			map[string][]string{"allowed": AllowedExtensions})
		return
	}

	title := SanitizeFilename(header.Filename)
	id := uuid.New()
	saved := id.String() + strings.ToLower(filepath.Ext(title))
	mediaPath := filepath.Join(h.cfg.MediaDir, saved)
	workPath := filepath.Join(h.cfg.DownloadDir, saved)

	if err := saveFile(mediaPath, file); err != nil {
		slog.Error("saving upload failed", "job_id", id, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store upload", nil)
		return
	}
	if err := copyFile(mediaPath, workPath); err != nil {
		removeQuietly(mediaPath)
		slog.Error("copying upload failed", "job_id", id, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store upload", nil)
		return
	}

	job, err := h.submitter.Submit(r.Context(), jobs.Task{
		JobID:     id,
		Kind:      models.SourceUpload,
		SourceRef: MediaPrefix + saved,
		Title:     title,
		LocalPath: workPath,
	})
	if err != nil {
		removeQuietly(mediaPath)
		removeQuietly(workPath)
		writeSubmitError(w, err)
		return
	}

	slog.Info("upload accepted", "job_id", job.ID, "file", title, "bytes", header.Size)
	response.Accepted(w, acceptedResponse{JobID: job.ID, Status: string(job.Status)})
}

// SanitizeFilename reduces a client-supplied name to a safe base name.
// Letters and digits in any script are kept; whitespace becomes an
// underscore and everything else is dropped. The extension is lowercased.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	ext := strings.ToLower(filepath.Ext(name))
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	var b strings.Builder
	for _, r := range stem {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	clean := strings.Trim(b.String(), "._")
	if clean == "" {
		clean = "upload"
	}
	return clean + sanitizeExt(ext)
}

func sanitizeExt(ext string) string {
	var b strings.Builder
	for _, r := range strings.TrimPrefix(ext, ".") {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "." + b.String()
}

func saveFile(dst string, src io.Reader) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return saveFile(dst, in)
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("remove file failed", "path", path, "error", err)
	}
}
