package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"

	"github.com/google/uuid"

	"github.com/vbonduro/memelib/internal/disk"
	"github.com/vbonduro/memelib/internal/domain"
	"github.com/vbonduro/memelib/internal/store"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("template not found")
	// ErrStorage reports a failed blob operation on the active disk.
	ErrStorage = errors.New("storage failure")
	// ErrMetadata reports a failed record store operation.
	ErrMetadata = errors.New("metadata failure")
)

const (
	MaxListLimit     = 100
	DefaultListLimit = 40
)

// extensions maps every accepted upload media type to its filename extension.
var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// DeletePolicy decides what happens to the row when its blob cannot be deleted.
type DeletePolicy string

const (
	// DeletePolicyTolerate removes the row anyway and reports the orphaned blob.
	DeletePolicyTolerate DeletePolicy = "tolerate"
	// DeletePolicyAbort keeps the row and fails the delete.
	DeletePolicyAbort DeletePolicy = "abort"
)

// ParseDeletePolicy accepts "tolerate" or "abort", case-insensitively.
func ParseDeletePolicy(s string) (DeletePolicy, error) {
	switch p := DeletePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case DeletePolicyTolerate, DeletePolicyAbort:
		return p, nil
	default:
		return "", fmt.Errorf("unknown delete policy %q", s)
	}
}

// templateRepository is the subset of store.TemplateStore that TemplateService requires.
type templateRepository interface {
	Insert(ctx context.Context, name, filename string, keywords []string) (*domain.Template, error)
	GetByID(ctx context.Context, id int64) (*domain.Template, error)
	List(ctx context.Context, search string, limit, offset int) ([]*domain.Template, int, error)
	Update(ctx context.Context, id int64, name string, keywords []string) (*domain.Template, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

// Recorder receives operation outcomes. *metrics.Metrics implements it.
type Recorder interface {
	TemplateOperation(operation, result string)
	OrphanBlob(operation string)
}

type nopRecorder struct{}

func (nopRecorder) TemplateOperation(string, string) {}
func (nopRecorder) OrphanBlob(string)                {}

type Option func(*TemplateService)

func WithDeletePolicy(p DeletePolicy) Option {
	return func(s *TemplateService) { s.deletePolicy = p }
}

func WithRecorder(r Recorder) Option {
	return func(s *TemplateService) { s.recorder = r }
}

// WithFilenameGenerator replaces the random filename stem. Tests use it to
// force collisions.
func WithFilenameGenerator(fn func() string) Option {
	return func(s *TemplateService) { s.newStem = fn }
}

type TemplateService struct {
	templates    templateRepository
	disk         disk.Disk
	logger       *slog.Logger
	recorder     Recorder
	deletePolicy DeletePolicy
	newStem      func() string
}

func NewTemplateService(templates templateRepository, d disk.Disk, logger *slog.Logger, opts ...Option) *TemplateService {
	s := &TemplateService{
		templates:    templates,
		disk:         d,
		logger:       logger,
		recorder:     nopRecorder{},
		deletePolicy: DeletePolicyTolerate,
		newStem:      randomStem,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func randomStem() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")
}

// CreateTemplate stores the blob first and the row second. If the row
// cannot be written the new blob is deleted again on a best-effort basis.
func (s *TemplateService) CreateTemplate(ctx context.Context, name string, keywords []string, contentType string, r io.Reader) (*domain.Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, s.fail("create", fmt.Errorf("%w: name is required", ErrInvalidInput))
	}

	ext, err := extensionFor(contentType)
	if err != nil {
		return nil, s.fail("create", err)
	}

	filename := s.newStem() + ext
	keywords = NormalizeKeywords(keywords)

	if err := s.disk.Save(ctx, filename, r); err != nil {
		s.logger.Error("failed to save template blob", "filename", filename, "error", err)
		return nil, s.fail("create", fmt.Errorf("%w: save %s: %w", ErrStorage, filename, err))
	}

	tmpl, err := s.templates.Insert(ctx, name, filename, keywords)
	if err != nil {
		s.logger.Error("failed to insert template", "filename", filename, "error", err)
		// On a filename conflict the blob belongs to the existing row.
		if errors.Is(err, store.ErrConflict) {
			return nil, s.fail("create", fmt.Errorf("%w: insert %s: %w", ErrMetadata, filename, err))
		}
		if derr := s.disk.Delete(ctx, filename); derr != nil {
			s.logger.Error("orphaned template blob", "operation", "create", "filename", filename, "error", derr)
			s.recorder.OrphanBlob("create")
		}
		return nil, s.fail("create", fmt.Errorf("%w: insert %s: %w", ErrMetadata, filename, err))
	}

	s.resolve(tmpl)
	s.recorder.TemplateOperation("create", "ok")
	s.logger.Info("template created", "template_id", tmpl.ID, "filename", tmpl.Filename)
	return tmpl, nil
}

// ListTemplates returns one page of templates matching search together with
// the total number of matches.
func (s *TemplateService) ListTemplates(ctx context.Context, search string, limit, offset int) ([]*domain.Template, int, error) {
	if limit < 1 || limit > MaxListLimit {
		return nil, 0, s.fail("list", fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidInput, MaxListLimit))
	}
	if offset < 0 {
		return nil, 0, s.fail("list", fmt.Errorf("%w: offset must not be negative", ErrInvalidInput))
	}

	templates, total, err := s.templates.List(ctx, strings.TrimSpace(search), limit, offset)
	if err != nil {
		return nil, 0, s.fail("list", fmt.Errorf("%w: %w", ErrMetadata, err))
	}

	for _, tmpl := range templates {
		s.resolve(tmpl)
	}
	s.recorder.TemplateOperation("list", "ok")
	return templates, total, nil
}

func (s *TemplateService) GetTemplate(ctx context.Context, id int64) (*domain.Template, error) {
	tmpl, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return nil, s.fail("get", fmt.Errorf("%w: %w", ErrMetadata, err))
	}
	if tmpl == nil {
		return nil, s.fail("get", fmt.Errorf("%w: %d", ErrNotFound, id))
	}

	s.resolve(tmpl)
	s.recorder.TemplateOperation("get", "ok")
	return tmpl, nil
}

// UpdateTemplate replaces name and keywords. The blob is never touched.
func (s *TemplateService) UpdateTemplate(ctx context.Context, id int64, name string, keywords []string) (*domain.Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, s.fail("update", fmt.Errorf("%w: name is required", ErrInvalidInput))
	}

	tmpl, err := s.templates.Update(ctx, id, name, NormalizeKeywords(keywords))
	if err != nil {
		return nil, s.fail("update", fmt.Errorf("%w: %w", ErrMetadata, err))
	}
	if tmpl == nil {
		return nil, s.fail("update", fmt.Errorf("%w: %d", ErrNotFound, id))
	}

	s.resolve(tmpl)
	s.recorder.TemplateOperation("update", "ok")
	s.logger.Info("template updated", "template_id", tmpl.ID)
	return tmpl, nil
}

// DeleteTemplate removes the blob and then the row. It reports false, and
// leaves storage alone, when no template has the given id.
func (s *TemplateService) DeleteTemplate(ctx context.Context, id int64) (bool, error) {
	tmpl, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return false, s.fail("delete", fmt.Errorf("%w: %w", ErrMetadata, err))
	}
	if tmpl == nil {
		s.recorder.TemplateOperation("delete", "not_found")
		return false, nil
	}

	if err := s.disk.Delete(ctx, tmpl.Filename); err != nil {
		if s.deletePolicy == DeletePolicyAbort {
			s.logger.Error("failed to delete template blob", "template_id", id, "filename", tmpl.Filename, "error", err)
			return false, s.fail("delete", fmt.Errorf("%w: delete %s: %w", ErrStorage, tmpl.Filename, err))
		}
		s.logger.Warn("orphaned template blob", "operation", "delete", "template_id", id, "filename", tmpl.Filename, "error", err)
		s.recorder.OrphanBlob("delete")
	}

	deleted, err := s.templates.Delete(ctx, id)
	if err != nil {
		s.logger.Error("failed to delete template row", "template_id", id, "error", err)
		return false, s.fail("delete", fmt.Errorf("%w: %w", ErrMetadata, err))
	}
	if !deleted {
		// Removed concurrently between lookup and delete.
		s.recorder.TemplateOperation("delete", "not_found")
		return false, nil
	}

	s.recorder.TemplateOperation("delete", "ok")
	s.logger.Info("template deleted", "template_id", id, "filename", tmpl.Filename)
	return true, nil
}

func (s *TemplateService) resolve(tmpl *domain.Template) {
	tmpl.URL = s.disk.URL(tmpl.Filename)
}

// fail records the failed operation under its error category and returns err.
func (s *TemplateService) fail(operation string, err error) error {
	result := "error"
	switch {
	case errors.Is(err, ErrInvalidInput):
		result = "invalid"
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case errors.Is(err, ErrStorage):
		result = "storage_error"
	case errors.Is(err, ErrMetadata):
		result = "metadata_error"
	}
	s.recorder.TemplateOperation(operation, result)
	return err
}

func extensionFor(contentType string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: unsupported file type %q", ErrInvalidInput, contentType)
	}
	ext, ok := extensions[mediaType]
	if !ok {
		return "", fmt.Errorf("%w: unsupported file type %q", ErrInvalidInput, contentType)
	}
	return ext, nil
}

// NormalizeKeywords trims every keyword and drops the empty ones. Entries
// containing commas are split so they survive the comma-delimited column.
func NormalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		for _, part := range strings.Split(k, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// ParseKeywordList splits a comma-separated keyword string such as a form
// field or CLI flag.
func ParseKeywordList(s string) []string {
	return NormalizeKeywords([]string{s})
}
