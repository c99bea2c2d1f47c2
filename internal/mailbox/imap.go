package mailbox

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"
)

type IMAPConfig struct {
	Addr     string
	Username string
	Password string
	TLS      bool
}

// IMAPSource works on the folder selected by the last ListMessages call.
// Message IDs are UIDs of that folder.
type IMAPSource struct {
	client *imapclient.Client
	logger *zap.Logger

	mu       sync.Mutex
	selected string
}

func DialIMAP(ctx context.Context, cfg IMAPConfig, logger *zap.Logger) (*IMAPSource, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("imap address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		client *imapclient.Client
		err    error
	)
	if cfg.TLS {
		client, err = imapclient.DialTLS(cfg.Addr, nil)
	} else {
		client, err = imapclient.DialInsecure(cfg.Addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to imap server: %w", err)
	}

	if err := client.Login(cfg.Username, cfg.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to login to imap server: %w", err)
	}

	logger.Info("imap connected", zap.String("addr", cfg.Addr))

	return &IMAPSource{client: client, logger: logger}, nil
}

func (s *IMAPSource) ListMessages(ctx context.Context, folder string) ([]RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.selectFolder(folder); err != nil {
		return nil, err
	}

	search, err := s.client.UIDSearch(&imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagDeleted},
	}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", folder, err)
	}

	uids := search.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	section := &imap.FetchItemBodySection{Peek: true}
	fetched, err := s.client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages from %s: %w", folder, err)
	}

	sort.Slice(fetched, func(i, j int) bool { return fetched[i].UID < fetched[j].UID })

	messages := make([]RawMessage, 0, len(fetched))
	for _, msg := range fetched {
		messages = append(messages, RawMessage{
			ID:     strconv.FormatUint(uint64(msg.UID), 10),
			Folder: folder,
			Data:   msg.FindBodySection(section),
		})
	}

	return messages, nil
}

// MoveMessage copies the message into dest.
func (s *IMAPSource) MoveMessage(ctx context.Context, id string, dest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	uid, err := s.uid(ctx, id)
	if err != nil {
		return err
	}

	if _, err := s.client.Copy(imap.UIDSetNum(uid), dest).Wait(); err != nil {
		return fmt.Errorf("failed to copy message %s to %s: %w", id, dest, err)
	}
	return nil
}

func (s *IMAPSource) MarkDeleted(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	uid, err := s.uid(ctx, id)
	if err != nil {
		return err
	}

	err = s.client.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil).Close()
	if err != nil {
		return fmt.Errorf("failed to flag message %s as deleted: %w", id, err)
	}
	return nil
}

func (s *IMAPSource) Expunge(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if s.selected == "" {
		return nil
	}
	if err := s.client.Expunge().Close(); err != nil {
		return fmt.Errorf("failed to expunge %s: %w", s.selected, err)
	}
	return nil
}

// Relocate moves every message in from whose Message-ID matches into to.
func (s *IMAPSource) Relocate(ctx context.Context, messageID string, from string, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if messageID == "" {
		return ErrMessageNotFound
	}
	if err := s.selectFolder(from); err != nil {
		return err
	}

	search, err := s.client.UIDSearch(&imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: "Message-ID", Value: messageID}},
	}, nil).Wait()
	if err != nil {
		return fmt.Errorf("failed to search %s for %s: %w", from, messageID, err)
	}

	uids := search.AllUIDs()
	if len(uids) == 0 {
		return ErrMessageNotFound
	}

	if _, err := s.client.Move(imap.UIDSetNum(uids...), to).Wait(); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", messageID, to, err)
	}
	return nil
}

func (s *IMAPSource) Close() error {
	if err := s.client.Logout().Wait(); err != nil {
		s.logger.Warn("imap logout failed", zap.Error(err))
	}
	return s.client.Close()
}

func (s *IMAPSource) selectFolder(folder string) error {
	if _, err := s.client.Select(folder, nil).Wait(); err != nil {
		return fmt.Errorf("failed to select %s: %w", folder, err)
	}
	s.selected = folder
	return nil
}

func (s *IMAPSource) uid(ctx context.Context, id string) (imap.UID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.selected == "" {
		return 0, fmt.Errorf("no folder selected")
	}
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid message id %q: %w", id, err)
	}
	return imap.UID(n), nil
}
