// Package subtitle exposes the line currently being spoken to overlays.
package subtitle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loqalabs/loqa-vtuber/internal/protocol"
)

// Writer replaces the current subtitle with text.
type Writer interface {
	Write(text string) error
}

// File keeps the subtitle in a single file that overlay software polls. Each
// write replaces the whole file atomically.
type File struct {
	path string
	mu   sync.Mutex
}

// NewFile clears any subtitle left over from a previous run.
func NewFile(path string) (*File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create subtitle dir: %w", err)
		}
	}
	f := &File{path: path}
	if err := f.Write(""); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) Path() string { return f.path }

func (f *File) Write(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".subtitle-*")
	if err != nil {
		return fmt.Errorf("create subtitle temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return fmt.Errorf("write subtitle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close subtitle temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod subtitle: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace subtitle: %w", err)
	}
	return nil
}

// Publisher is the subset of the bus client used to broadcast subtitles.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Bus broadcasts each subtitle as a protocol.Subtitle message.
type Bus struct {
	publisher Publisher
	subject   string
}

func NewBus(publisher Publisher, subject string) *Bus {
	if subject == "" {
		subject = protocol.SubjectSubtitle
	}
	return &Bus{publisher: publisher, subject: subject}
}

func (b *Bus) Write(text string) error {
	msg := protocol.Subtitle{Text: text, Timestamp: time.Now().UTC()}
	if err := b.publisher.PublishJSON(b.subject, msg); err != nil {
		return fmt.Errorf("publish subtitle: %w", err)
	}
	return nil
}

// Tee writes to every writer and joins their errors.
type Tee []Writer

func (t Tee) Write(text string) error {
	var errs []error
	for _, w := range t {
		if err := w.Write(text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
