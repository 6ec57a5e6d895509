// Package messaging sends user-to-user messages and lists threads and
// inboxes page by page, newest first.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"

	"github.com/pliu/inbox/internal/cache"
	"github.com/pliu/inbox/internal/models"
	"github.com/pliu/inbox/internal/store"
)

// DefaultPageSize is the number of messages or threads per page.
const DefaultPageSize = 20

var (
	ErrSelfMessage       = errors.New("recipient is the sender")
	ErrEmptyContent      = errors.New("message content is empty")
	ErrRecipientNotFound = errors.New("recipient not found")
)

// EventMessage is published to the recipient of every new message.
const EventMessage = "message"

type Event struct {
	Type    string          `json:"type"`
	Message *models.Message `json:"message,omitempty"`
}

// Publisher delivers events to the connected sessions of a user.
type Publisher interface {
	Publish(userID string, event interface{})
}

type Service struct {
	Store     store.Store
	Cache     cache.Inbox // optional
	Publisher Publisher   // optional
	PageSize  int
}

func (s *Service) pageSize() int {
	if s.PageSize > 0 {
		return s.PageSize
	}
	return DefaultPageSize
}

// NormalizePage parses a 1-indexed page number; anything invalid is page 1.
func NormalizePage(raw string) int {
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		return 1
	}
	return page
}

func (s *Service) Send(ctx context.Context, senderID, recipientID, content string) (*models.Message, error) {
	if senderID == recipientID {
		return nil, ErrSelfMessage
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	sender, err := s.Store.GetUserByID(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("load sender: %w", err)
	}
	recipient, err := s.Store.GetUserByID(ctx, recipientID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !recipient.Public) {
		return nil, ErrRecipientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load recipient: %w", err)
	}

	msg := &models.Message{
		UserFrom: sender.Ref(),
		UserTo:   recipient.Ref(),
		Content:  content,
	}
	if err := s.Store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}

	s.invalidate(ctx, senderID, recipientID)
	if s.Publisher != nil {
		s.Publisher.Publish(recipientID, Event{Type: EventMessage, Message: msg})
	}
	return msg, nil
}

// ListThread returns one page of the conversation between userID and
// otherID and whether more pages follow.
func (s *Service) ListThread(ctx context.Context, userID, otherID string, page int) ([]models.Message, bool, error) {
	size := s.pageSize()
	offset, ok := pageOffset(page, size)
	if !ok {
		return []models.Message{}, false, nil
	}

	messages, err := s.Store.GetThreadMessages(ctx, userID, otherID, offset, size+1)
	if err != nil {
		return nil, false, err
	}
	more := len(messages) > size
	if more {
		messages = messages[:size]
	}
	return messages, more, nil
}

// ListInbox returns one page of the user's threads, latest activity first.
// Pages are cached under the generation read before the store query.
func (s *Service) ListInbox(ctx context.Context, userID string, page int) ([]models.Thread, bool, error) {
	size := s.pageSize()
	if page < 1 {
		page = 1
	}
	offset, ok := pageOffset(page, size)
	if !ok {
		return []models.Thread{}, false, nil
	}

	var gen int64
	cached := s.Cache != nil
	if cached {
		var err error
		if gen, err = s.Cache.Generation(ctx, userID); err != nil {
			log.Printf("inbox cache generation %s: %v", userID, err)
			cached = false
		}
	}

	if cached {
		p, err := s.Cache.Get(ctx, userID, gen, page)
		if err != nil {
			log.Printf("inbox cache get %s: %v", userID, err)
		} else if p != nil {
			return p.Threads, p.More, nil
		}
	}

	threads, err := s.Store.GetUserThreads(ctx, userID, offset, size+1)
	if err != nil {
		return nil, false, err
	}
	more := len(threads) > size
	if more {
		threads = threads[:size]
	}

	if cached {
		if err := s.Cache.Set(ctx, userID, gen, page, &cache.InboxPage{Threads: threads, More: more}); err != nil {
			log.Printf("inbox cache set %s: %v", userID, err)
		}
	}
	return threads, more, nil
}

// MarkRead marks messages addressed to userID as read. Ids of messages sent
// to someone else are ignored.
func (s *Service) MarkRead(ctx context.Context, userID string, messageIDs []string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	n, err := s.Store.MarkRead(ctx, userID, messageIDs)
	if err != nil {
		return 0, err
	}
	// The sender's cached inbox keeps the old read flag until its TTL runs out.
	s.invalidate(ctx, userID)
	return n, nil
}

func (s *Service) invalidate(ctx context.Context, userIDs ...string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Invalidate(ctx, userIDs...); err != nil {
		log.Printf("inbox cache invalidate %v: %v", userIDs, err)
	}
}

// pageOffset returns the offset of the first item of a 1-indexed page, or
// false when the page lies past any offset an int can hold.
func pageOffset(page, size int) (int, bool) {
	if page < 1 {
		page = 1
	}
	if page-1 > (math.MaxInt-size-1)/size {
		return 0, false
	}
	return (page - 1) * size, true
}
