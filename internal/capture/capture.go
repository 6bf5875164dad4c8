// Package capture отправляет снимок пробы после стадии с флагом capture.
//
// Снимок — самый свежий файл в каталоге, подходящий под glob-шаблон.
// Метаданные и сами байты публикуются отдельными сообщениями.
// Любая ошибка здесь только логируется: тест из-за снимка не падает.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"
)

// Значения по умолчанию.
const (
	DefaultDir      = "test_img"
	DefaultPattern  = "**/*.{jpg,jpeg,png}"
	DefaultMaxBytes = 16 * 1024 * 1024
)

// Ошибки захвата.
var (
	// ErrNoArtifact — в каталоге нет подходящих файлов.
	ErrNoArtifact = errors.New("no artifact found")

	// ErrTooLarge — файл больше лимита.
	ErrTooLarge = errors.New("artifact exceeds size limit")
)

// Metadata — описание снимка для фронтенда.
type Metadata struct {
	TestID    string    `json:"testId"`
	Cycle     int       `json:"cycle"`
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	Timestamp time.Time `json:"timestamp"`
	Checksum  string    `json:"checksum"`
}

// Publisher — получатель снимков (шина сообщений).
type Publisher interface {
	PublishImage(ctx context.Context, meta Metadata, data []byte) error
}

// Config — конфигурация Capturer.
type Config struct {
	// Dir — каталог со снимками.
	Dir string

	// Pattern — doublestar-шаблон относительно Dir.
	Pattern string

	// MaxBytes — лимит размера файла.
	MaxBytes int64

	// Logger
	Logger *slog.Logger
}

// Capturer находит и публикует свежие снимки.
type Capturer struct {
	fsys      fs.FS
	dir       string
	pattern   string
	maxBytes  int64
	publisher Publisher
	logger    *slog.Logger
}

// New создаёт Capturer.
func New(cfg Config, publisher Publisher) (*Capturer, error) {
	if cfg.Dir == "" {
		cfg.Dir = DefaultDir
	}
	if cfg.Pattern == "" {
		cfg.Pattern = DefaultPattern
	}
	if !doublestar.ValidatePattern(cfg.Pattern) {
		return nil, fmt.Errorf("invalid capture pattern %q", cfg.Pattern)
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Capturer{
		fsys:      os.DirFS(cfg.Dir),
		dir:       cfg.Dir,
		pattern:   cfg.Pattern,
		maxBytes:  cfg.MaxBytes,
		publisher: publisher,
		logger:    cfg.Logger,
	}, nil
}

// Capture публикует самый свежий снимок для (testID, cycle).
// Ошибка возвращается для логов и тестов; вызывающий не должен
// прерывать тест из-за неё.
func (c *Capturer) Capture(ctx context.Context, testID string, cycle int) (*Metadata, error) {
	logger := c.logger.With("test_id", testID, "cycle", cycle)

	name, info, err := c.newest()
	if err != nil {
		logger.Warn("image capture skipped", "dir", c.dir, "error", err)
		return nil, err
	}

	if info.Size() > c.maxBytes {
		err := fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, name, info.Size())
		logger.Warn("image capture skipped", "error", err)
		return nil, err
	}

	data, err := fs.ReadFile(c.fsys, name)
	if err != nil {
		logger.Warn("image read failed", "file", name, "error", err)
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	meta := Metadata{
		TestID:    testID,
		Cycle:     cycle,
		Filename:  name,
		Size:      int64(len(data)),
		Timestamp: time.Now().UTC(),
		Checksum:  fmt.Sprintf("%016x", xxhash.Sum64(data)),
	}

	if err := c.publisher.PublishImage(ctx, meta, data); err != nil {
		logger.Warn("image publish failed", "file", name, "error", err)
		return nil, fmt.Errorf("publish %s: %w", name, err)
	}

	logger.Info("image published", "file", name, "size", meta.Size, "checksum", meta.Checksum)
	return &meta, nil
}

// newest возвращает самый свежий по mtime файл под шаблоном.
func (c *Capturer) newest() (string, fs.FileInfo, error) {
	matches, err := doublestar.Glob(c.fsys, c.pattern, doublestar.WithFilesOnly())
	if err != nil {
		return "", nil, fmt.Errorf("glob %s: %w", c.pattern, err)
	}

	var (
		bestName string
		bestInfo fs.FileInfo
	)
	for _, m := range matches {
		info, err := fs.Stat(c.fsys, m)
		if err != nil {
			continue
		}
		if bestInfo == nil || info.ModTime().After(bestInfo.ModTime()) {
			bestName, bestInfo = m, info
		}
	}

	if bestInfo == nil {
		return "", nil, fmt.Errorf("%w: %s in %s", ErrNoArtifact, c.pattern, c.dir)
	}
	return bestName, bestInfo, nil
}
