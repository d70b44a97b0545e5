package email

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestBuildMessage(t *testing.T) {
	msg, err := buildMessage("ledger@example.com", []string{"a@example.com", "b@example.com"},
		"Ledger integrity failure", "kind: DataTampered\nsequence: 2")
	if err != nil {
		t.Fatal(err)
	}
	s := string(msg)
	for _, want := range []string{
		"From: ledger@example.com\r\n",
		"To: a@example.com, b@example.com\r\n",
		"Subject: Ledger integrity failure\r\n",
		"\r\n\r\nkind: DataTampered\r\nsequence: 2",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("message missing %q:\n%s", want, s)
		}
	}
}

func TestBuildMessage_rejectsHeaderInjection(t *testing.T) {
	_, err := buildMessage("ledger@example.com", []string{"a@example.com"}, "hi\r\nBcc: evil@example.com", "")
	if !errors.Is(err, errHeaderInjection) {
		t.Errorf("expected header injection error, got %v", err)
	}
	_, err = buildMessage("ledger@example.com", nil, "hi", "")
	if !errors.Is(err, ErrNoRecipients) {
		t.Errorf("expected ErrNoRecipients, got %v", err)
	}
}

func TestNoopSender(t *testing.T) {
	s := NewNoopSender(zap.NewNop())
	if err := s.Send(context.Background(), []string{"ops@example.com"}, "subject", "body"); err != nil {
		t.Errorf("Send() error: %v", err)
	}
	if err := s.Send(context.Background(), nil, "subject", "body"); !errors.Is(err, ErrNoRecipients) {
		t.Errorf("expected ErrNoRecipients, got %v", err)
	}
}
