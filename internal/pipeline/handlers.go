package pipeline

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zombor/receipt-ledger/internal/journal"
	"github.com/zombor/receipt-ledger/internal/receipt"
	"github.com/zombor/receipt-ledger/internal/scanning"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ContentTypeFor guesses a MIME type from a file name when the client sent none
func ContentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".tif", ".tiff":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}

// statusFor maps a rejection to an HTTP status
func statusFor(out *Outcome) int {
	if out.Accepted() {
		return http.StatusCreated
	}

	var (
		endpointErr *scanning.EndpointError
		parseErr    *receipt.ParseError
	)
	switch {
	case errors.Is(out.Err, scanning.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(out.Err, scanning.ErrEndpointUnreachable):
		return http.StatusServiceUnavailable
	case errors.As(out.Err, &endpointErr):
		return http.StatusBadGateway
	case errors.As(out.Err, &parseErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// handleUploadReceipt handles receipt upload
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File is too large. Please compress or resize your image.")
			return
		}
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeError(w, http.StatusBadRequest, "No file was selected. Please choose a file to upload.")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = ContentTypeFor(header.Filename)
	}

	out, err := s.service.Process(r.Context(), Submission{
		Filename:    header.Filename,
		Data:        data,
		ContentType: contentType,
	})
	if err != nil {
		slog.Error("Error processing receipt", "filename", header.Filename, "error", err)
		writeError(w, http.StatusServiceUnavailable, "The server is busy. Please try again.")
		return
	}

	writeJSON(w, statusFor(out), out)
}

// handleGetReceipt returns a journaled outcome
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := s.service.Entry(id)
	switch {
	case errors.Is(err, journal.ErrNotFound):
		writeError(w, http.StatusNotFound, "Receipt not found")
	case errors.Is(err, ErrNoJournal):
		writeError(w, http.StatusNotFound, "Journal is disabled")
	case err != nil:
		slog.Error("Error getting receipt", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	default:
		writeJSON(w, http.StatusOK, entry)
	}
}

// handleListRejections returns rejected receipts with the model's raw answer
func (s *Server) handleListRejections(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.Rejections()
	switch {
	case errors.Is(err, ErrNoJournal):
		writeError(w, http.StatusNotFound, "Journal is disabled")
	case err != nil:
		slog.Error("Error listing rejections", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	default:
		writeJSON(w, http.StatusOK, entries)
	}
}
