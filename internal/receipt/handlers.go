package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/snapwise/receiptpipe/internal/queue"
	"github.com/snapwise/receiptpipe/internal/status"
)

// corsError writes an error response with CORS headers set.
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response.
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleListReceipts returns all receipts.
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.List()
	if err != nil {
		slog.Error("Error listing receipts", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

// handleUploadReceipt accepts a multipart upload, persists the receipt in
// PENDING state and enqueues the processing job. The response is 202: the
// parse happens in the background.
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	// 50MB to handle high-resolution phone photos.
	maxFormSize := int64(50 << 20)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "Error parsing form",
		})
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "No file was provided. Please choose a file to upload.",
		})
		return
	}
	defer f.Close()

	if header.Size > maxFormSize {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "File is too large. Maximum size is 50MB.",
		})
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Error reading file. Please try again.",
		})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		switch strings.ToLower(filepath.Ext(header.Filename)) {
		case ".jpg", ".jpeg":
			contentType = "image/jpeg"
		case ".png":
			contentType = "image/png"
		case ".gif":
			contentType = "image/gif"
		case ".pdf":
			contentType = "application/pdf"
		case ".heic", ".heif":
			contentType = "image/heic"
		default:
			contentType = "application/octet-stream"
		}
	}

	receipt, job, err := s.service.Upload(header.Filename, data, contentType)
	if err != nil {
		slog.Error("Error uploading receipt", "error", err, "filename", header.Filename)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Error saving receipt. Please try again.",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"receipt": receipt,
		"job_id":  job.ID,
	})
}

// handleGetReceipt returns a single receipt.
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			corsError(w, "Receipt not found", http.StatusNotFound)
			return
		}
		slog.Error("Error getting receipt", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleGetItems returns a receipt's line items in stored order.
func (s *Server) handleGetItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.Items(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			corsError(w, "Receipt not found", http.StatusNotFound)
			return
		}
		slog.Error("Error getting items", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// handleGetFile serves a receipt's stored image.
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetFile(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			corsError(w, "Receipt not found", http.StatusNotFound)
			return
		}
		slog.Error("Error getting receipt file", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	setCORSHeaders(w)
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Write(data)
}

// handleDeleteReceipt removes a receipt, its items and its image.
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Delete(r.PathValue("id")); err != nil {
		if errors.Is(err, ErrNotFound) {
			corsError(w, "Receipt not found", http.StatusNotFound)
			return
		}
		slog.Error("Error deleting receipt", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleJobStatus returns the queue's view of a job.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobStatus, err := s.service.JobStatus(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			corsError(w, "Job not found", http.StatusNotFound)
			return
		}
		slog.Error("Error getting job status", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, jobStatus)
}

// handleEvents upgrades to a websocket and streams job-state transitions
// for one receipt. The first frame is a connected event with the current
// receipt status, so a client attaching after the job finished still learns
// the outcome even though the hub keeps no history.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	receipt, err := s.service.Get(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			corsError(w, "Receipt not found", http.StatusNotFound)
			return
		}
		slog.Error("Error getting receipt", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// The snapshot re-reads the row once the subscription exists, so a job
	// finishing between the lookup above and the subscribe is still seen.
	status.ServeWS(s.hub, w, r, id, func() (status.Event, bool) {
		current := receipt.Status
		if fresh, err := s.service.Get(id); err == nil {
			current = fresh.Status
		}
		connected := status.Event{
			Type:   status.EventConnected,
			Status: string(current),
		}
		return connected, current == StatusCompleted || current == StatusFailed
	})
}
