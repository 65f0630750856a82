package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mymmrac/telego"

	"vipgate-bot/internal/logger"
	"vipgate-bot/internal/membership"
	"vipgate-bot/internal/models"
)

type fakeSender struct {
	mu sync.Mutex

	// failMarkdown rejects messages sent with a parse mode.
	failMarkdown bool
	failPlain    bool
	failBan      bool

	messages []*telego.SendMessageParams
	calls    []string
}

func (f *fakeSender) SendMessage(_ context.Context, p *telego.SendMessageParams) (*telego.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, p)
	f.calls = append(f.calls, "send")
	if p.ParseMode != "" && f.failMarkdown {
		return nil, errors.New("Bad Request: can't parse entities")
	}
	if p.ParseMode == "" && f.failPlain {
		return nil, errors.New("Forbidden: bot was blocked by the user")
	}
	return &telego.Message{MessageID: len(f.messages)}, nil
}

func (f *fakeSender) BanChatMember(_ context.Context, p *telego.BanChatMemberParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "ban")
	if f.failBan {
		return errors.New("Bad Request: not enough rights")
	}
	return nil
}

func (f *fakeSender) UnbanChatMember(_ context.Context, p *telego.UnbanChatMemberParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "unban")
	if !p.OnlyIfBanned {
		return errors.New("unban would kick a member")
	}
	return nil
}

func TestSendFallsBackToPlainText(t *testing.T) {
	tests := []struct {
		name         string
		failMarkdown bool
		failPlain    bool
		wantSends    int
		wantErr      bool
	}{
		{name: "markdown accepted", wantSends: 1},
		{name: "markdown rejected, plain accepted", failMarkdown: true, wantSends: 2},
		{name: "both rejected", failMarkdown: true, failPlain: true, wantSends: 2, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSender{failMarkdown: tt.failMarkdown, failPlain: tt.failPlain}
			n := New(s, 0, "", logger.Discard())

			err := n.Send(context.Background(), "test", 5, "*hello*")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(s.messages) != tt.wantSends {
				t.Fatalf("sends = %d, want %d", len(s.messages), tt.wantSends)
			}
			if s.messages[0].ParseMode != telego.ModeMarkdown {
				t.Errorf("first attempt parse mode = %q", s.messages[0].ParseMode)
			}
			if tt.wantSends == 2 && s.messages[1].ParseMode != "" {
				t.Errorf("retry parse mode = %q", s.messages[1].ParseMode)
			}
			if s.messages[0].ChatID.ID != 5 {
				t.Errorf("chat id = %d", s.messages[0].ChatID.ID)
			}
		})
	}
}

func TestAdmissionIncludesInviteLink(t *testing.T) {
	s := &fakeSender{}
	n := New(s, 0, "https://t.me/+invite", logger.Discard())

	err := n.OnAdmissionGranted(context.Background(), membership.AdmissionGranted{
		SubscriberID: 8,
		WindowEnd:    time.Date(2026, 11, 14, 12, 0, 0, 0, time.UTC),
		Source:       membership.SourcePayment,
	})
	if err != nil {
		t.Fatalf("OnAdmissionGranted: %v", err)
	}
	text := s.messages[0].Text
	if !strings.Contains(text, "https://t.me/+invite") || !strings.Contains(text, "14.11.2026") {
		t.Errorf("text = %q", text)
	}
}

func TestRevocationEvictsFromGroup(t *testing.T) {
	s := &fakeSender{}
	n := New(s, -100123, "", logger.Discard())

	if err := n.OnAccessRevoked(context.Background(), membership.AccessRevoked{SubscriberID: 8}); err != nil {
		t.Fatalf("OnAccessRevoked: %v", err)
	}
	want := []string{"ban", "unban", "send"}
	if strings.Join(s.calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", s.calls, want)
	}
}

func TestRevocationWithoutGroupOnlyMessages(t *testing.T) {
	s := &fakeSender{}
	n := New(s, 0, "", logger.Discard())

	if err := n.OnAccessRevoked(context.Background(), membership.AccessRevoked{SubscriberID: 8}); err != nil {
		t.Fatalf("OnAccessRevoked: %v", err)
	}
	if len(s.calls) != 1 || s.calls[0] != "send" {
		t.Errorf("calls = %v", s.calls)
	}
}

func TestRevocationStillMessagesWhenEvictionFails(t *testing.T) {
	s := &fakeSender{failBan: true}
	n := New(s, -100123, "", logger.Discard())

	err := n.OnAccessRevoked(context.Background(), membership.AccessRevoked{SubscriberID: 8})
	if err == nil {
		t.Fatal("expected eviction error")
	}
	if len(s.messages) != 1 {
		t.Errorf("messages = %d, want 1", len(s.messages))
	}
}

func TestReminder(t *testing.T) {
	s := &fakeSender{}
	n := New(s, 0, "", logger.Discard())

	sub := models.Subscriber{ID: 3, WindowEnd: time.Now().Add(10 * time.Hour)}
	if err := n.OnExpiryReminder(context.Background(), sub); err != nil {
		t.Fatalf("OnExpiryReminder: %v", err)
	}
	if !strings.Contains(s.messages[0].Text, "/payment") {
		t.Errorf("text = %q", s.messages[0].Text)
	}
}
