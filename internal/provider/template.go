package provider

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const subjectTemplateName = "subject"

// ErrTemplateNotFound is returned when no template file exists for an id.
var ErrTemplateNotFound = errors.New("template not found")

// TemplateSet loads <dir>/<templateId>.html files on first use and caches them.
// A template may carry its subject line in a {{define "subject"}} block.
type TemplateSet struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*template.Template
}

func NewTemplateSet(dir string) (*TemplateSet, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, fmt.Errorf("template dir is required")
	}
	info, err := os.Stat(trimmed)
	if err != nil {
		return nil, fmt.Errorf("stat template dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("template dir %q is not a directory", trimmed)
	}

	return &TemplateSet{
		dir:   trimmed,
		cache: make(map[string]*template.Template),
	}, nil
}

// Render executes a template and returns its subject and HTML body.
func (s *TemplateSet) Render(templateID string, data map[string]string) (string, string, error) {
	tmpl, err := s.lookup(templateID)
	if err != nil {
		return "", "", err
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("execute template %q: %w", templateID, err)
	}

	subject := templateID
	if tmpl.Lookup(subjectTemplateName) != nil {
		var buf bytes.Buffer
		if err := tmpl.ExecuteTemplate(&buf, subjectTemplateName, data); err != nil {
			return "", "", fmt.Errorf("execute subject of %q: %w", templateID, err)
		}
		subject = strings.TrimSpace(buf.String())
	}

	return subject, body.String(), nil
}

func (s *TemplateSet) lookup(templateID string) (*template.Template, error) {
	id := strings.TrimSpace(templateID)
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return nil, fmt.Errorf("%w: invalid template id %q", ErrTemplateNotFound, templateID)
	}

	s.mu.RLock()
	tmpl, ok := s.cache[id]
	s.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	path := filepath.Join(s.dir, id+".html")
	tmpl, err := template.ParseFiles(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
		}
		return nil, fmt.Errorf("parse template %q: %w", id, err)
	}

	s.mu.Lock()
	s.cache[id] = tmpl
	s.mu.Unlock()
	return tmpl, nil
}
