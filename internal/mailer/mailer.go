// Package mailer delivers transactional email such as one-time codes.
package mailer

import (
	"context"
	"errors"
)

var ErrInvalidMessage = errors.New("invalid message")

type Message struct {
	To      string
	Subject string
	Body    string
}

func (m Message) Validate() error {
	if m.To == "" || m.Subject == "" || m.Body == "" {
		return ErrInvalidMessage
	}
	return nil
}

// Sender performs a single blocking delivery.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
