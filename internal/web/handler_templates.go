package web

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/vbonduro/memelib/internal/domain"
	"github.com/vbonduro/memelib/internal/service"
)

const (
	defaultMaxUploadBytes = 20 << 20
	// multipartMemory is how much of a form is held in memory before
	// multipart spills file parts to disk.
	multipartMemory = 8 << 20
	maxJSONBody     = 64 << 10
)

type templateResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Keywords  []string  `json:"keywords"`
	ImageURL  string    `json:"image_url"`
	CreatedAt time.Time `json:"created_at"`
}

type templateListResponse struct {
	Templates []templateResponse `json:"templates"`
	Total     int                `json:"total"`
}

type updateTemplateRequest struct {
	Name     *string   `json:"name"`
	Keywords *[]string `json:"keywords"`
}

func toResponse(t *domain.Template) templateResponse {
	keywords := t.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	return templateResponse{
		ID:        t.ID,
		Name:      t.Name,
		Keywords:  keywords,
		ImageURL:  t.URL,
		CreatedAt: t.CreatedAt,
	}
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), service.DefaultListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}

	templates, total, err := s.service.ListTemplates(r.Context(), q.Get("search"), limit, offset)
	if err != nil {
		s.serviceError(w, err, "list templates failed")
		return
	}

	resp := templateListResponse{Templates: make([]templateResponse, 0, len(templates)), Total: total}
	for _, t := range templates {
		resp.Templates = append(resp.Templates, toResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid template id")
		return
	}

	t, err := s.service.GetTemplate(r.Context(), id)
	if err != nil {
		s.serviceError(w, err, "get template failed", "template_id", id)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(t))
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to parse form")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			s.logger.Error("failed to remove multipart temp files", "error", err)
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "file is required")
		return
	}
	defer closeWithLog(file, "upload file", s.logger)

	body := bufio.NewReader(file)
	contentType := declaredType(header.Header.Get("Content-Type"), body)

	t, err := s.service.CreateTemplate(r.Context(),
		r.FormValue("name"),
		service.ParseKeywordList(r.FormValue("keywords")),
		contentType,
		body,
	)
	if err != nil {
		s.serviceError(w, err, "create template failed", "content_type", contentType)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(t))
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid template id")
		return
	}

	var req updateTemplateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	current, err := s.service.GetTemplate(r.Context(), id)
	if err != nil {
		s.serviceError(w, err, "get template failed", "template_id", id)
		return
	}
	name, keywords := current.Name, current.Keywords
	if req.Name != nil {
		name = *req.Name
	}
	if req.Keywords != nil {
		keywords = *req.Keywords
	}

	t, err := s.service.UpdateTemplate(r.Context(), id, name, keywords)
	if err != nil {
		s.serviceError(w, err, "update template failed", "template_id", id)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(t))
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid template id")
		return
	}

	deleted, err := s.service.DeleteTemplate(r.Context(), id)
	if err != nil {
		s.serviceError(w, err, "delete template failed", "template_id", id)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "Template not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// serviceError maps service error categories onto HTTP statuses. Only
// server-side failures are logged.
func (s *Server) serviceError(w http.ResponseWriter, err error, msg string, args ...any) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "Template not found")
	default:
		s.logger.Error(msg, append(args, "error", err)...)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// declaredType returns the part's declared media type. Clients that send
// no useful type get one sniffed from the leading bytes, using the same
// allow-list the service enforces.
func declaredType(declared string, body *bufio.Reader) string {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
		return declared
	}
	head, _ := body.Peek(512)
	if detected, ok := allowedImageMIME(head); ok {
		return detected
	}
	return declared
}

// allowedImageTypes is the set of MIME types http.DetectContentType can
// recognise among the accepted upload formats.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// isWebP reports whether data is a WebP image (RIFF container with "WEBP" at
// offset 8). The stdlib sniffer has no WebP signature.
func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WEBP"
}

func allowedImageMIME(data []byte) (string, bool) {
	if isWebP(data) {
		return "image/webp", true
	}
	detected := http.DetectContentType(data)
	if allowedImageTypes[detected] {
		return detected, true
	}
	return "", false
}

func intParam(raw string, defaultVal int) (int, error) {
	if raw == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(raw)
}

func parseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
