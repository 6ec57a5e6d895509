package models

import "time"

type User struct {
	ID          string    `json:"_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email,omitempty"`
	Password    string    `json:"-"`
	Public      bool      `json:"public"`
	Created     time.Time `json:"created"`
}

// UserRef is the lightweight user reference embedded in messages and threads.
type UserRef struct {
	ID          string `json:"_id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

func (u *User) Ref() UserRef {
	return UserRef{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName}
}

type Message struct {
	ID       string    `json:"_id"`
	Seq      int64     `json:"-"` // insertion order, breaks ties between equal Created values
	UserFrom UserRef   `json:"userFrom"`
	UserTo   UserRef   `json:"userTo"`
	Content  string    `json:"content"`
	Notified bool      `json:"notified"`
	Read     bool      `json:"read"`
	Created  time.Time `json:"created"`
}

// ThreadMessage is the latest message of a thread as shown in the inbox.
type ThreadMessage struct {
	ID      string `json:"_id"`
	Content string `json:"content"`
}

type Thread struct {
	ID       string        `json:"_id"`
	UserFrom UserRef       `json:"userFrom"`
	UserTo   UserRef       `json:"userTo"`
	Message  ThreadMessage `json:"message"`
	Read     bool          `json:"read"`
	Updated  time.Time     `json:"updated"`
}
