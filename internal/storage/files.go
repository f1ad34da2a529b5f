package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// FrontMatter is the YAML header written at the top of every response
// file. Optional fields carry omitempty so absent values are omitted
// rather than serialized as null. The originating prompt text is echoed
// here so the file is self-describing without the database.
type FrontMatter struct {
	ID           string            `yaml:"id"`
	PromptID     string            `yaml:"promptId"`
	Provider     string            `yaml:"provider"`
	Model        string            `yaml:"model"`
	Status       string            `yaml:"status"`
	CreatedAt    time.Time         `yaml:"createdAt"`
	Parameters   map[string]string `yaml:"parameters,omitempty"`
	Prompt       string            `yaml:"prompt"`

	ResponseTimeMs   *int64   `yaml:"responseTimeMs,omitempty"`
	PromptTokens     *int     `yaml:"promptTokens,omitempty"`
	CompletionTokens *int     `yaml:"completionTokens,omitempty"`
	TotalTokens      *int     `yaml:"totalTokens,omitempty"`
	CostEstimate     *float64 `yaml:"costEstimate,omitempty"`
	ErrorCode        *string  `yaml:"errorCode,omitempty"`
	ErrorMessage     *string  `yaml:"errorMessage,omitempty"`

	GeneratedTitle        *string    `yaml:"generatedTitle,omitempty"`
	TitleGenerationStatus *string    `yaml:"titleGenerationStatus,omitempty"`
	TitleGeneratedAt      *time.Time `yaml:"titleGeneratedAt,omitempty"`
	TitleModel            *string    `yaml:"titleModel,omitempty"`
}

// FileStore writes response content as markdown files under a results
// root, one directory per prompt.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create results directory: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the results directory.
func (f *FileStore) Root() string {
	return f.root
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeName reduces a prompt name to a filesystem-safe directory
// component. Traversal sequences are rejected outright rather than
// silently rewritten.
func SanitizeName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", fmt.Errorf("prompt name %q: %w", name, ErrPathTraversal)
	}
	s := unsafeChars.ReplaceAllString(name, "-")
	s = strings.Trim(s, "-._")
	if len(s) > 50 {
		s = s[:50]
		s = strings.Trim(s, "-._")
	}
	if s == "" {
		s = "prompt"
	}
	return s, nil
}

func checkComponent(raw string) error {
	if raw == "" ||
		strings.Contains(raw, "..") ||
		strings.ContainsAny(raw, `/\`) ||
		strings.ContainsRune(raw, 0) {
		return fmt.Errorf("component %q: %w", raw, ErrPathTraversal)
	}
	return nil
}

// ResponsePath builds the relative path for a response file:
// <sanitized-prompt-name>-<first 8 of prompt id>/<response id>.md.
// Both inputs are validated before any file I/O happens.
func (f *FileStore) ResponsePath(promptID, promptName, responseID string) (string, error) {
	if err := checkComponent(responseID); err != nil {
		return "", err
	}
	if err := checkComponent(promptID); err != nil {
		return "", err
	}
	name, err := SanitizeName(promptName)
	if err != nil {
		return "", err
	}
	short := promptID
	if len(short) > 8 {
		short = short[:8]
	}
	rel := filepath.Join(name+"-"+short, responseID+".md")
	if err := f.verifyInRoot(rel); err != nil {
		return "", err
	}
	return rel, nil
}

func (f *FileStore) verifyInRoot(rel string) error {
	abs := filepath.Join(f.root, rel)
	r, err := filepath.Rel(f.root, abs)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes results root: %w", rel, ErrPathTraversal)
	}
	return nil
}

// WriteResponse renders front-matter plus content under the prompt's
// directory and returns the relative path for the metadata row. The
// body after the front-matter is the response content byte for byte.
func (f *FileStore) WriteResponse(promptID, promptName, responseID string, fm FrontMatter, content string) (string, error) {
	rel, err := f.ResponsePath(promptID, promptName, responseID)
	if err != nil {
		return "", err
	}
	header, err := yaml.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("marshal front matter: %w", err)
	}

	abs := filepath.Join(f.root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create prompt directory: %w", err)
	}

	var b strings.Builder
	b.Grow(len(header) + len(content) + 16)
	b.WriteString("---\n")
	b.Write(header)
	b.WriteString("---\n\n")
	b.WriteString(content)

	if err := os.WriteFile(abs, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write response file: %w", err)
	}
	return rel, nil
}

// ReadContent returns the response body exactly as it was generated,
// with the front-matter stripped. A missing file returns ErrNotFound.
func (f *FileStore) ReadContent(rel string) (string, error) {
	if err := f.verifyInRoot(rel); err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(f.root, rel))
	if os.IsNotExist(err) {
		return "", fmt.Errorf("response file %s: %w", rel, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read response file: %w", err)
	}
	return stripFrontMatter(string(data)), nil
}

// ReadFrontMatter parses the YAML header of a response file.
func (f *FileStore) ReadFrontMatter(rel string) (*FrontMatter, error) {
	if err := f.verifyInRoot(rel); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(f.root, rel))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("response file %s: %w", rel, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read response file: %w", err)
	}
	s := string(data)
	if !strings.HasPrefix(s, "---\n") {
		return nil, fmt.Errorf("response file %s has no front matter", rel)
	}
	end := strings.Index(s[4:], "\n---\n")
	if end < 0 {
		return nil, fmt.Errorf("response file %s has unterminated front matter", rel)
	}
	var fm FrontMatter
	if err := yaml.Unmarshal([]byte(s[4:4+end+1]), &fm); err != nil {
		return nil, fmt.Errorf("parse front matter: %w", err)
	}
	return &fm, nil
}

// WriteTitle rewrites a response file's front-matter with the title
// fields, leaving the body untouched byte for byte.
func (f *FileStore) WriteTitle(rel string, title *string, status string, generatedAt *time.Time, model *string) error {
	fm, err := f.ReadFrontMatter(rel)
	if err != nil {
		return err
	}
	body, err := f.ReadContent(rel)
	if err != nil {
		return err
	}

	fm.GeneratedTitle = title
	fm.TitleGenerationStatus = &status
	fm.TitleGeneratedAt = generatedAt
	fm.TitleModel = model

	header, err := yaml.Marshal(fm)
	if err != nil {
		return fmt.Errorf("marshal front matter: %w", err)
	}

	var b strings.Builder
	b.Grow(len(header) + len(body) + 16)
	b.WriteString("---\n")
	b.Write(header)
	b.WriteString("---\n\n")
	b.WriteString(body)

	if err := os.WriteFile(filepath.Join(f.root, rel), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("rewrite response file: %w", err)
	}
	return nil
}

// DeleteFile removes a response file if present. Absence is not an
// error; the prompt directory is pruned when it becomes empty.
func (f *FileStore) DeleteFile(rel string) error {
	if rel == "" {
		return nil
	}
	if err := f.verifyInRoot(rel); err != nil {
		return err
	}
	abs := filepath.Join(f.root, rel)
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete response file: %w", err)
	}
	// Best effort; fails while siblings remain.
	_ = os.Remove(filepath.Dir(abs))
	return nil
}

// HasFile reports whether the response file exists on disk.
func (f *FileStore) HasFile(rel string) bool {
	if rel == "" {
		return false
	}
	if err := f.verifyInRoot(rel); err != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(f.root, rel))
	return err == nil
}

func stripFrontMatter(s string) string {
	if !strings.HasPrefix(s, "---\n") {
		return s
	}
	end := strings.Index(s[4:], "\n---\n")
	if end < 0 {
		return s
	}
	body := s[4+end+5:]
	// WriteResponse emits one blank line between header and body.
	body = strings.TrimPrefix(body, "\n")
	return body
}
