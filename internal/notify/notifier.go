package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"vipgate-bot/internal/membership"
	"vipgate-bot/internal/metrics"
	"vipgate-bot/internal/models"
)

const dateLayout = "02.01.2006 15:04 MST"

// Sender is the part of the Telegram Bot API the notifier needs.
// *telego.Bot satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	BanChatMember(ctx context.Context, params *telego.BanChatMemberParams) error
	UnbanChatMember(ctx context.Context, params *telego.UnbanChatMemberParams) error
}

// Notifier turns membership events into chat messages and group changes.
type Notifier struct {
	sender     Sender
	groupID    int64
	inviteLink string
	log        *slog.Logger
}

func New(sender Sender, groupID int64, inviteLink string, log *slog.Logger) *Notifier {
	return &Notifier{
		sender:     sender,
		groupID:    groupID,
		inviteLink: inviteLink,
		log:        log.With("component", "notifier"),
	}
}

func (n *Notifier) OnAdmissionGranted(ctx context.Context, ev membership.AdmissionGranted) error {
	text := fmt.Sprintf("✅ *Access granted!*\n\nYour membership is active until %s.", ev.WindowEnd.Format(dateLayout))
	if n.inviteLink != "" {
		text += "\n\nJoin the group: " + n.inviteLink
	}
	return n.Send(ctx, "admission", ev.SubscriberID, text)
}

// OnAccessRevoked tells the subscriber their window lapsed and removes them
// from the group. They are unbanned right away so they can rejoin after
// renewing.
func (n *Notifier) OnAccessRevoked(ctx context.Context, ev membership.AccessRevoked) error {
	var errs []error
	if n.groupID != 0 {
		if err := n.evict(ctx, ev.SubscriberID); err != nil {
			metrics.NotificationFailuresTotal.WithLabelValues("eviction").Inc()
			errs = append(errs, err)
		}
	}

	text := "❌ *Your membership has expired.*\n\nAccess to the group was removed. Use /payment to renew."
	if err := n.Send(ctx, "revocation", ev.SubscriberID, text); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (n *Notifier) OnExpiryReminder(ctx context.Context, sub models.Subscriber) error {
	left := time.Until(sub.WindowEnd).Round(time.Hour)
	if left < time.Hour {
		left = time.Hour
	}
	text := fmt.Sprintf("⚠️ *Your membership ends %s* (about %s left).\n\nUse /payment to renew and keep your access.",
		sub.WindowEnd.Format(dateLayout), left)
	return n.Send(ctx, "reminder", sub.ID, text)
}

// Send delivers text as Markdown and retries once as plain text.
func (n *Notifier) Send(ctx context.Context, kind string, chatID int64, text string) error {
	_, err := n.sender.SendMessage(ctx, tu.Message(tu.ID(chatID), text).WithParseMode(telego.ModeMarkdown))
	if err == nil {
		return nil
	}
	n.log.Debug("Markdown message rejected, retrying as plain text", "kind", kind, "chat_id", chatID, "err", err)

	if _, err = n.sender.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		metrics.NotificationFailuresTotal.WithLabelValues(kind).Inc()
		n.log.Warn("Failed to send notification", "kind", kind, "chat_id", chatID, "err", err)
		return fmt.Errorf("send %s to %d: %w", kind, chatID, err)
	}
	return nil
}

func (n *Notifier) evict(ctx context.Context, userID int64) error {
	if err := n.sender.BanChatMember(ctx, &telego.BanChatMemberParams{
		ChatID: tu.ID(n.groupID),
		UserID: userID,
	}); err != nil {
		n.log.Warn("Failed to remove subscriber from group", "subscriber_id", userID, "err", err)
		return fmt.Errorf("ban %d: %w", userID, err)
	}
	if err := n.sender.UnbanChatMember(ctx, &telego.UnbanChatMemberParams{
		ChatID:       tu.ID(n.groupID),
		UserID:       userID,
		OnlyIfBanned: true,
	}); err != nil {
		n.log.Warn("Failed to lift group ban", "subscriber_id", userID, "err", err)
		return fmt.Errorf("unban %d: %w", userID, err)
	}
	n.log.Info("Subscriber removed from group", "subscriber_id", userID)
	return nil
}
