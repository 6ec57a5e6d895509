// Package notify emails users about messages they have not read yet.
package notify

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/pliu/inbox/internal/store"
)

type Mailer interface {
	SendUnreadNotification(to, name string, count int, link string) error
}

// UnreadNotifier mails each recipient once about messages that stayed
// unread for longer than Delay, then flags those messages as notified.
type UnreadNotifier struct {
	Store   store.Store
	Mailer  Mailer
	Delay   time.Duration
	BaseURL string

	now func() time.Time
}

func (n *UnreadNotifier) clock() time.Time {
	if n.now != nil {
		return n.now()
	}
	return time.Now()
}

// Run calls Notify every interval until ctx is done.
func (n *UnreadNotifier) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sent, err := n.Notify(ctx); err != nil {
				log.Printf("notify: %v", err)
			} else if sent > 0 {
				log.Printf("notify: sent %d unread message notifications", sent)
			}
		}
	}
}

// Notify runs one pass and returns the number of mails sent. A failed mail
// leaves its messages un-notified for the next pass.
func (n *UnreadNotifier) Notify(ctx context.Context) (int, error) {
	messages, err := n.Store.GetUnnotifiedMessages(ctx, n.clock().Add(-n.Delay))
	if err != nil {
		return 0, err
	}

	// Recipients in order of their oldest pending message.
	var recipients []string
	pending := map[string][]string{}
	for _, m := range messages {
		if _, ok := pending[m.UserTo.ID]; !ok {
			recipients = append(recipients, m.UserTo.ID)
		}
		pending[m.UserTo.ID] = append(pending[m.UserTo.ID], m.ID)
	}

	sent := 0
	for _, userID := range recipients {
		ids := pending[userID]
		user, err := n.Store.GetUserByID(ctx, userID)
		if err != nil {
			log.Printf("notify: load user %s: %v", userID, err)
			continue
		}
		if user.Email == "" {
			// Nobody to tell; don't pick these up again.
			if err := n.Store.MarkNotified(ctx, ids); err != nil {
				return sent, err
			}
			continue
		}

		name := user.DisplayName
		if name == "" {
			name = user.Username
		}
		link := strings.TrimSuffix(n.BaseURL, "/") + "/messages"
		if err := n.Mailer.SendUnreadNotification(user.Email, name, len(ids), link); err != nil {
			log.Printf("notify: mail to %s: %v", userID, err)
			continue
		}
		if err := n.Store.MarkNotified(ctx, ids); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}
