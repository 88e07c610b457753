package corpus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
	"github.com/kirillkom/docs-assistant/internal/core/ports"
	"github.com/kirillkom/docs-assistant/internal/infrastructure/resilience"
)

const maxCorpusBytes = 64 << 20

// HTTPSource downloads the combined corpus file.
type HTTPSource struct {
	url        string
	httpClient *http.Client
	exec       *resilience.Executor
}

func NewHTTPSource(url string, exec *resilience.Executor) *HTTPSource {
	return &HTTPSource{
		url:        url,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		exec:       exec,
	}
}

func (s *HTTPSource) Fetch(ctx context.Context) ([]domain.DocPage, error) {
	var raw []byte
	call := func(callCtx context.Context) error {
		body, err := s.download(callCtx)
		if err != nil {
			return err
		}
		raw = body
		return nil
	}

	var err error
	if s.exec == nil {
		err = call(ctx)
	} else {
		err = s.exec.Execute(ctx, "corpus_fetch", call, resilience.ClassifyHTTPError)
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrUpstream, "fetch corpus", resilience.WrapTemporary("corpus fetch", err))
	}
	return ParseSections(raw, s.url)
}

func (s *HTTPSource) download(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create corpus request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("corpus request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, resilience.ReadHTTPError("corpus", "fetch", resp)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCorpusBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read corpus body: %w", err)
	}
	if len(body) > maxCorpusBytes {
		return nil, fmt.Errorf("corpus exceeds %d bytes", maxCorpusBytes)
	}
	return body, nil
}

// FileSource reads markdown files from a local file or directory. Files that
// use section headers with source lines are split like the remote corpus;
// any other file is one page titled by its first heading.
type FileSource struct {
	root string
}

func NewFileSource(root string) *FileSource {
	return &FileSource{root: root}
}

// Root is the watched path.
func (s *FileSource) Root() string {
	return s.root
}

func (s *FileSource) Fetch(ctx context.Context) ([]domain.DocPage, error) {
	info, err := os.Stat(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat corpus path: %w", err)
	}
	if !info.IsDir() {
		return s.readFile(s.root, filepath.Base(s.root))
	}

	var pages []domain.DocPage
	err = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !isMarkdown(path) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			rel = path
		}
		filePages, err := s.readFile(path, filepath.ToSlash(rel))
		if err != nil {
			slog.Warn("corpus_file_skipped", "path", path, "error", err.Error())
			return nil
		}
		pages = append(pages, filePages...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk corpus dir: %w", err)
	}
	return pages, nil
}

func (s *FileSource) readFile(path, rel string) ([]domain.DocPage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus file: %w", err)
	}
	pages, err := ParseSections(raw, rel)
	if err != nil {
		return nil, err
	}
	if len(pages) > 0 {
		return pages, nil
	}

	content := CleanMarkdown(string(raw))
	if content == "" {
		return nil, nil
	}
	return []domain.DocPage{{
		Path:    rel,
		Title:   firstHeading(string(raw), rel),
		Content: content,
	}}, nil
}

func isMarkdown(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".txt":
		return true
	default:
		return false
	}
}

func firstHeading(raw, fallback string) string {
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			if title := strings.TrimSpace(strings.TrimLeft(trimmed, "#")); title != "" {
				return title
			}
		}
	}
	return strings.TrimSuffix(filepath.Base(fallback), filepath.Ext(fallback))
}

// MultiSource concatenates the pages of several sources in order. Any source
// failure fails the fetch, so a re-index never publishes a partial corpus.
type MultiSource struct {
	sources []ports.CorpusSource
}

func NewMultiSource(sources ...ports.CorpusSource) *MultiSource {
	return &MultiSource{sources: sources}
}

func (m *MultiSource) Fetch(ctx context.Context) ([]domain.DocPage, error) {
	var pages []domain.DocPage
	for _, src := range m.sources {
		if src == nil {
			continue
		}
		got, err := src.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		pages = append(pages, got...)
	}
	return pages, nil
}
