package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/vbonduro/memelib/internal/db"
	"github.com/vbonduro/memelib/internal/domain"
)

// ErrConflict indicates a uniqueness violation, in practice a filename
// that is already referenced by another template.
var ErrConflict = errors.New("conflict")

// keywordSeparator delimits keywords inside the single keywords column.
const keywordSeparator = ","

const templateColumns = `id, name, filename, keywords, created_at`

type TemplateStore struct {
	db      *sql.DB
	dialect db.Dialect
}

func NewTemplateStore(d *db.DB) *TemplateStore {
	return &TemplateStore{db: d.DB, dialect: d.Dialect}
}

func (s *TemplateStore) Insert(ctx context.Context, name, filename string, keywords []string) (*domain.Template, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`
		INSERT INTO templates (name, filename, keywords) VALUES (?, ?, ?) RETURNING id
	`), name, filename, joinKeywords(keywords)).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("failed to create template: %w", ErrConflict)
		}
		return nil, fmt.Errorf("failed to create template: %w", err)
	}

	t, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("template %d vanished after insert", id)
	}
	return t, nil
}

func (s *TemplateStore) GetByID(ctx context.Context, id int64) (*domain.Template, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(`
		SELECT `+templateColumns+` FROM templates WHERE id = ?
	`), id)

	t, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	return t, nil
}

// List returns one page of templates, newest first, together with the
// number of templates matching search across all pages.
func (s *TemplateStore) List(ctx context.Context, search string, limit, offset int) ([]*domain.Template, int, error) {
	var (
		where string
		args  []any
	)
	if search != "" {
		pattern := "%" + escapeLike(strings.ToLower(search)) + "%"
		where = `WHERE LOWER(name) LIKE ? ESCAPE '\' OR LOWER(keywords) LIKE ? ESCAPE '\'`
		args = append(args, pattern, pattern)
	}

	// COUNT(*) OVER () is evaluated before LIMIT, so every row carries the
	// full match count and a second round trip is avoided.
	query := `SELECT ` + templateColumns + `, COUNT(*) OVER () FROM templates ` + where + `
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`
	pageArgs := append(append([]any{}, args...), limit, offset)

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list templates: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	templates := make([]*domain.Template, 0, limit)
	total := 0
	for rows.Next() {
		t, err := scanTemplate(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, t)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating templates: %w", err)
	}

	// Past the last page the window has no rows to report the count on.
	if len(templates) == 0 && offset > 0 {
		if err := rows.Close(); err != nil {
			return nil, 0, fmt.Errorf("failed to close rows: %w", err)
		}
		if err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`SELECT COUNT(*) FROM templates `+where), args...).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("failed to count templates: %w", err)
		}
	}

	return templates, total, nil
}

// Update changes the mutable fields of a template. It returns nil when no
// template has the given id.
func (s *TemplateStore) Update(ctx context.Context, id int64, name string, keywords []string) (*domain.Template, error) {
	result, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
		UPDATE templates SET name = ?, keywords = ? WHERE id = ?
	`), name, joinKeywords(keywords), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update template: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return nil, nil
	}

	return s.GetByID(ctx, id)
}

// Delete removes the template row and reports whether one existed.
func (s *TemplateStore) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
		DELETE FROM templates WHERE id = ?
	`), id)
	if err != nil {
		return false, fmt.Errorf("failed to delete template: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row scanner, extra ...any) (*domain.Template, error) {
	t := &domain.Template{}
	var keywords string
	dest := append([]any{&t.ID, &t.Name, &t.Filename, &keywords, &t.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	t.Keywords = splitKeywords(keywords)
	return t, nil
}

func joinKeywords(keywords []string) string {
	return strings.Join(keywords, keywordSeparator)
}

func splitKeywords(s string) []string {
	keywords := make([]string, 0)
	for _, k := range strings.Split(s, keywordSeparator) {
		if k != "" {
			keywords = append(keywords, k)
		}
	}
	return keywords
}

// escapeLike escapes LIKE wildcards so search terms match literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func isUniqueViolation(err error) bool {
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23505" // unique_violation
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
