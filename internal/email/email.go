// Package email delivers integrity alerts.
package email

import (
	"context"
	"errors"
	"strings"
)

// Sender delivers a plain-text message to one or more recipients.
type Sender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// ErrNoRecipients is returned when Send is called with an empty list.
var ErrNoRecipients = errors.New("email: no recipients")

// errHeaderInjection guards against CR/LF smuggled into header values.
var errHeaderInjection = errors.New("email: header value contains a line break")

func buildMessage(from string, to []string, subject, body string) ([]byte, error) {
	if len(to) == 0 {
		return nil, ErrNoRecipients
	}
	for _, v := range append([]string{from, subject}, to...) {
		if strings.ContainsAny(v, "\r\n") {
			return nil, errHeaderInjection
		}
	}
	msg := strings.Join([]string{
		"From: " + from,
		"To: " + strings.Join(to, ", "),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		strings.ReplaceAll(body, "\n", "\r\n"),
	}, "\r\n")
	return []byte(msg), nil
}
