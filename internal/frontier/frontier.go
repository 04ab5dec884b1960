// Package frontier stores the per-category URL lists that drive a crawl.
//
// Each category is a plain text file with one URL per line. Files are only
// ever appended to, so a position in the list is stable across runs and can
// be derived from how many entities of that category are already persisted.
package frontier

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/scentfinder-crawler/internal/crawler"
)

// Config captures where the frontier files live.
type Config struct {
	Dir   string
	Files map[crawler.Category]string
}

// Store is a file-backed frontier.
type Store struct {
	dir   string
	files map[crawler.Category]string
	mu    sync.Mutex
}

// New creates a Store rooted at cfg.Dir, creating the directory if needed.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("frontier directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create frontier directory: %w", err)
	}
	files := make(map[crawler.Category]string, len(cfg.Files))
	for cat, name := range cfg.Files {
		files[cat] = name
	}
	return &Store{dir: cfg.Dir, files: files}, nil
}

// Path returns the file backing category.
func (s *Store) Path(category crawler.Category) (string, error) {
	name, ok := s.files[category]
	if !ok || strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("no frontier file configured for category %q", category)
	}
	return filepath.Join(s.dir, name), nil
}

// Enumerate returns the category's URLs in file order. Blank lines are
// skipped and a missing file is an empty frontier.
func (s *Store) Enumerate(category crawler.Category) ([]string, error) {
	path, err := s.Path(category)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read frontier %s: %w", path, err)
	}

	var urls []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan frontier %s: %w", path, err)
	}
	return urls, nil
}

// Append adds urls to the end of the category file. Duplicates are kept;
// discovery may legitimately see a URL twice.
func (s *Store) Append(ctx context.Context, category crawler.Category, urls ...string) error {
	if len(urls) == 0 {
		return nil
	}
	path, err := s.Path(category)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o640) //nolint:gosec // path comes from configuration
	if err != nil {
		return fmt.Errorf("open frontier %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // Sync below surfaces write errors

	if err := terminateLastLine(f); err != nil {
		return fmt.Errorf("repair frontier %s: %w", path, err)
	}

	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			return err
		}
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, err := f.WriteString(u + "\n"); err != nil {
			return fmt.Errorf("append to frontier %s: %w", path, err)
		}
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync frontier %s: %w", path, err)
	}
	return nil
}

// terminateLastLine closes a final line left without its newline, as a crash
// mid-append leaves it, so the next URL starts on a line of its own.
func terminateLastLine(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = f.Write([]byte{'\n'})
	return err
}

// ResumeOffset returns the position processing should start from: the count
// of persisted entities of the category.
func ResumeOffset(ctx context.Context, counter crawler.Counter, category crawler.Category) (int, error) {
	n, err := counter.Count(ctx, category)
	if err != nil {
		return 0, fmt.Errorf("count persisted %s: %w", category, err)
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

// Window returns the unprocessed tail of urls starting at offset.
func Window(urls []string, offset int) []string {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(urls) {
		return nil
	}
	return urls[offset:]
}
