package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-mbox"
	"go.uber.org/zap"
)

const mboxSender = "MAILER-DAEMON"

// MboxSource keeps every folder as <dir>/<folder>.mbox.
// Message IDs are positions within the folder selected by the last ListMessages call.
type MboxSource struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	selected string
	listed   []RawMessage
	deleted  map[int]struct{}
}

func NewMboxSource(dir string, logger *zap.Logger) (*MboxSource, error) {
	if dir == "" {
		return nil, fmt.Errorf("mbox directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create mbox directory: %w", err)
	}

	return &MboxSource{
		dir:     dir,
		logger:  logger,
		now:     time.Now,
		deleted: make(map[int]struct{}),
	}, nil
}

func (s *MboxSource) ListMessages(ctx context.Context, folder string) ([]RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := s.readFolder(folder)
	if err != nil {
		return nil, err
	}

	listed := make([]RawMessage, 0, len(data))
	for i, raw := range data {
		listed = append(listed, RawMessage{ID: strconv.Itoa(i), Folder: folder, Data: raw})
	}

	s.selected = folder
	s.listed = listed
	s.deleted = make(map[int]struct{})

	out := make([]RawMessage, len(listed))
	copy(out, listed)
	return out, nil
}

// MoveMessage appends a copy of the message to dest.
func (s *MboxSource) MoveMessage(ctx context.Context, id string, dest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	index, err := s.index(id)
	if err != nil {
		return err
	}
	return s.appendMessages(dest, s.listed[index].Data)
}

func (s *MboxSource) MarkDeleted(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	index, err := s.index(id)
	if err != nil {
		return err
	}
	s.deleted[index] = struct{}{}
	return nil
}

// Expunge rewrites the selected folder without the deleted messages.
// Messages appended after the listing are kept.
func (s *MboxSource) Expunge(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if s.selected == "" || len(s.deleted) == 0 {
		return nil
	}

	current, err := s.readFolder(s.selected)
	if err != nil {
		return err
	}

	kept := make([][]byte, 0, len(current))
	for i, raw := range current {
		if _, ok := s.deleted[i]; ok {
			continue
		}
		kept = append(kept, raw)
	}

	if err := s.rewriteFolder(s.selected, kept); err != nil {
		return err
	}

	s.logger.Debug("mbox folder expunged",
		zap.String("folder", s.selected),
		zap.Int("removed", len(current)-len(kept)),
	)
	s.listed = nil
	s.deleted = make(map[int]struct{})
	return nil
}

func (s *MboxSource) Relocate(ctx context.Context, messageID string, from string, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	current, err := s.readFolder(from)
	if err != nil {
		return err
	}

	var moved, kept [][]byte
	for _, raw := range current {
		if sameMessageID(messageIDOf(raw), messageID) {
			moved = append(moved, raw)
			continue
		}
		kept = append(kept, raw)
	}
	if len(moved) == 0 {
		return ErrMessageNotFound
	}

	if err := s.appendMessages(to, moved...); err != nil {
		return err
	}
	if err := s.rewriteFolder(from, kept); err != nil {
		return err
	}

	if from == s.selected {
		s.selected = ""
		s.listed = nil
		s.deleted = make(map[int]struct{})
	}
	return nil
}

func (s *MboxSource) Close() error { return nil }

func (s *MboxSource) index(id string) (int, error) {
	if s.selected == "" {
		return 0, fmt.Errorf("no folder selected")
	}
	index, err := strconv.Atoi(id)
	if err != nil || index < 0 || index >= len(s.listed) {
		return 0, fmt.Errorf("unknown message id %q", id)
	}
	return index, nil
}

func (s *MboxSource) path(folder string) (string, error) {
	if folder == "" || strings.ContainsAny(folder, `/\`) || strings.Contains(folder, "..") {
		return "", fmt.Errorf("invalid folder name %q", folder)
	}
	return filepath.Join(s.dir, folder+".mbox"), nil
}

func (s *MboxSource) readFolder(folder string) ([][]byte, error) {
	path, err := s.path(folder)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", folder, err)
	}
	defer f.Close()

	var messages [][]byte
	reader := mbox.NewReader(f)
	for {
		r, err := reader.NextMessage()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", folder, err)
		}
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read message in %s: %w", folder, err)
		}
		messages = append(messages, raw)
	}

	return messages, nil
}

func (s *MboxSource) appendMessages(folder string, messages ...[]byte) error {
	path, err := s.path(folder)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", folder, err)
	}
	defer f.Close()

	if err := s.writeMessages(f, messages); err != nil {
		return fmt.Errorf("failed to append to %s: %w", folder, err)
	}
	return f.Sync()
}

func (s *MboxSource) rewriteFolder(folder string, messages [][]byte) error {
	path, err := s.path(folder)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, folder+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to rewrite %s: %w", folder, err)
	}
	defer os.Remove(tmp.Name())

	if err := s.writeMessages(tmp, messages); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to rewrite %s: %w", folder, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to rewrite %s: %w", folder, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", folder, err)
	}
	return nil
}

func (s *MboxSource) writeMessages(w io.Writer, messages [][]byte) error {
	if len(messages) == 0 {
		return nil
	}

	mw := mbox.NewWriter(w)
	for _, raw := range messages {
		body, err := mw.CreateMessage(mboxSender, s.now())
		if err != nil {
			return err
		}
		if _, err := body.Write(raw); err != nil {
			return err
		}
	}
	return mw.Close()
}
