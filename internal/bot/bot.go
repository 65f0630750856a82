package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/shopspring/decimal"

	"vipgate-bot/internal/database"
	"vipgate-bot/internal/membership"
	"vipgate-bot/internal/models"
	"vipgate-bot/internal/payment"
	"vipgate-bot/internal/worker"
)

const (
	dateLayout     = "02.01.2006 15:04 MST"
	callbackPay    = "pay"
	callbackStatus = "status"
	callbackCheck  = "check:"

	stopTimeout = 10 * time.Second
)

type Payments interface {
	RequestPayment(ctx context.Context, subscriberID int64, amount decimal.Decimal) (*models.PaymentAttempt, error)
	ConfirmPayment(ctx context.Context, paymentID string) (*membership.Confirmation, error)
	PendingFor(ctx context.Context, subscriberID int64) (*models.PaymentAttempt, error)
}

type Operator interface {
	IsOperator(callerID int64) bool
	Approve(ctx context.Context, operatorID, subscriberID int64, displayName, note string) (*models.Subscriber, error)
	ResolvePayment(ctx context.Context, operatorID int64, paymentID, note string) (*database.SettleResult, error)
}

type Subscribers interface {
	Get(ctx context.Context, id int64) (*models.Subscriber, error)
}

type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (*worker.Report, error)
}

// Sender is the part of the Telegram Bot API the command layer replies through.
type Sender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *telego.AnswerCallbackQueryParams) error
}

type Config struct {
	Price         decimal.Decimal
	PriceCurrency string
	PeriodDays    int
}

// Bot is the chat command layer. It formats replies; every decision is made
// by the membership and worker packages.
type Bot struct {
	Instance    *telego.Bot
	sender      Sender
	payments    Payments
	operator    Operator
	subscribers Subscribers
	sweeper     Sweeper
	cfg         Config
	log         *slog.Logger
	now         func() time.Time
}

func NewBot(instance *telego.Bot, payments Payments, operator Operator, subscribers Subscribers, sweeper Sweeper, cfg Config, log *slog.Logger) *Bot {
	b := newBot(instance, payments, operator, subscribers, sweeper, cfg, log)
	b.Instance = instance
	return b
}

func newBot(sender Sender, payments Payments, operator Operator, subscribers Subscribers, sweeper Sweeper, cfg Config, log *slog.Logger) *Bot {
	return &Bot{
		sender:      sender,
		payments:    payments,
		operator:    operator,
		subscribers: subscribers,
		sweeper:     sweeper,
		cfg:         cfg,
		log:         log.With("component", "bot"),
		now:         time.Now,
	}
}

// reply is one outgoing message.
type reply struct {
	text   string
	markup *telego.InlineKeyboardMarkup
}

// Start long-polls for updates and dispatches commands until ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	updates, err := b.Instance.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.Instance, updates)
	if err != nil {
		return fmt.Errorf("failed to create update handler: %w", err)
	}

	onCommand := func(name string, fn func(ctx context.Context, from *telego.User, args []string) reply) {
		handler.Handle(func(_ *th.Context, update telego.Update) error {
			msg := update.Message
			if msg == nil || msg.From == nil {
				return nil
			}
			b.send(ctx, msg.Chat.ID, fn(ctx, msg.From, commandArgs(msg.Text)))
			return nil
		}, th.CommandEqual(name))
	}

	onCommand("start", b.handleStart)
	onCommand("help", b.handleStart)
	onCommand("payment", b.handlePayment)
	onCommand("check_payment", b.handleCheckPayment)
	onCommand("status", b.handleStatus)
	onCommand("approve", b.handleApprove)
	onCommand("resolve", b.handleResolve)
	onCommand("check_expired", b.handleCheckExpired)

	handler.Handle(func(_ *th.Context, update telego.Update) error {
		cb := update.CallbackQuery
		b.answer(ctx, cb.ID)
		from := cb.From
		b.send(ctx, from.ID, b.handleCallback(ctx, &from, cb.Data))
		return nil
	}, th.AnyCallbackQuery())

	b.log.Info("Bot started")
	return b.run(ctx, handler)
}

type updateLoop interface {
	Start() error
	StopWithContext(ctx context.Context) error
}

// run blocks in loop until ctx is done or the loop fails on its own.
func (b *Bot) run(ctx context.Context, loop updateLoop) error {
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := loop.StopWithContext(stopCtx); err != nil {
			b.log.Error("Failed to stop update handler", "err", err)
		}
	}()

	err := loop.Start()
	if ctx.Err() != nil {
		<-stopped
		if err != nil {
			b.log.Warn("Update handler stopped", "err", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("update handler: %w", err)
	}
	return errors.New("update handler stopped unexpectedly")
}

func (b *Bot) handleCallback(ctx context.Context, from *telego.User, data string) reply {
	switch {
	case data == callbackPay:
		return b.handlePayment(ctx, from, nil)
	case data == callbackStatus:
		return b.handleStatus(ctx, from, nil)
	case strings.HasPrefix(data, callbackCheck):
		return b.handleCheckPayment(ctx, from, []string{strings.TrimPrefix(data, callbackCheck)})
	default:
		return reply{text: "Unknown action."}
	}
}

func (b *Bot) handleStart(_ context.Context, from *telego.User, _ []string) reply {
	text := fmt.Sprintf("Hi, %s! 👋\n\n"+
		"Membership in the private group costs *%s %s* for %d days.\n\n"+
		"/payment - get payment details\n"+
		"/check_payment - check your latest payment\n"+
		"/status - see your membership",
		from.FirstName, b.cfg.Price.String(), strings.ToUpper(b.cfg.PriceCurrency), b.cfg.PeriodDays)
	if b.operator.IsOperator(from.ID) {
		text += "\n\nOperator:\n" +
			"/approve <user_id> [note] - grant a period after a receipt\n" +
			"/resolve <payment_id> [note] - confirm a pending payment\n" +
			"/check_expired - run the expiry sweep now"
	}

	keyboard := tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("💳 Pay").WithCallbackData(callbackPay),
			tu.InlineKeyboardButton("👤 Status").WithCallbackData(callbackStatus),
		),
	)
	return reply{text: text, markup: keyboard}
}

func (b *Bot) handlePayment(ctx context.Context, from *telego.User, _ []string) reply {
	attempt, err := b.payments.RequestPayment(ctx, from.ID, b.cfg.Price)
	if err != nil {
		b.log.Warn("Payment request failed", "user_id", from.ID, "err", err)
		return reply{text: paymentErrorText(err)}
	}

	text := fmt.Sprintf("💳 *Payment details*\n\n"+
		"Send exactly `%s` %s\n"+
		"to `%s`\n\n"+
		"Payment ID: `%s`\n"+
		"Valid until: %s\n\n"+
		"After paying, press the button below or send /check_payment %s",
		attempt.PayAmount.String(), strings.ToUpper(attempt.PayCurrency),
		attempt.PayAddress, attempt.PaymentID, attempt.ExpiresAt.Format(dateLayout), attempt.PaymentID)
	keyboard := tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("🔄 Check payment").WithCallbackData(callbackCheck + attempt.PaymentID),
		),
	)
	return reply{text: text, markup: keyboard}
}

func (b *Bot) handleCheckPayment(ctx context.Context, from *telego.User, args []string) reply {
	var paymentID string
	if len(args) > 0 {
		paymentID = args[0]
	} else {
		attempt, err := b.payments.PendingFor(ctx, from.ID)
		if errors.Is(err, database.ErrNotFound) {
			return reply{text: "You have no pending payment. Use /payment to start one."}
		}
		if err != nil {
			b.log.Error("Failed to look up pending payment", "user_id", from.ID, "err", err)
			return reply{text: "⚠️ Something went wrong. Please try again shortly."}
		}
		paymentID = attempt.PaymentID
	}

	res, err := b.payments.ConfirmPayment(ctx, paymentID)
	if errors.Is(err, database.ErrNotFound) {
		return reply{text: "Payment not found."}
	}
	if err != nil {
		b.log.Warn("Payment check failed", "user_id", from.ID, "payment_id", paymentID, "err", err)
		return reply{text: "⏳ Could not reach the payment processor. Please try again shortly."}
	}
	if res.Attempt.SubscriberID != from.ID && !b.operator.IsOperator(from.ID) {
		return reply{text: "Payment not found."}
	}
	return reply{text: confirmationText(res)}
}

func (b *Bot) handleStatus(ctx context.Context, from *telego.User, _ []string) reply {
	sub, err := b.subscribers.Get(ctx, from.ID)
	if errors.Is(err, database.ErrNotFound) {
		return reply{text: "You have no membership yet. Use /payment to join."}
	}
	if err != nil {
		b.log.Error("Failed to load subscriber", "user_id", from.ID, "err", err)
		return reply{text: "⚠️ Something went wrong. Please try again shortly."}
	}
	return reply{text: statusText(sub, b.now())}
}

func (b *Bot) handleApprove(ctx context.Context, from *telego.User, args []string) reply {
	if !b.operator.IsOperator(from.ID) {
		return reply{text: "This command is for the operator only."}
	}
	if len(args) == 0 {
		return reply{text: "Usage: /approve <user_id> [note]"}
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || userID <= 0 {
		return reply{text: "Invalid user id: " + args[0]}
	}

	sub, err := b.operator.Approve(ctx, from.ID, userID, "", strings.Join(args[1:], " "))
	if err != nil {
		b.log.Error("Approval failed", "user_id", userID, "err", err)
		return reply{text: "❌ Approval failed, nothing was changed."}
	}
	return reply{text: fmt.Sprintf("✅ User %d approved until %s.", userID, sub.WindowEnd.Format(dateLayout))}
}

func (b *Bot) handleResolve(ctx context.Context, from *telego.User, args []string) reply {
	if !b.operator.IsOperator(from.ID) {
		return reply{text: "This command is for the operator only."}
	}
	if len(args) == 0 {
		return reply{text: "Usage: /resolve <payment_id> [note]"}
	}

	res, err := b.operator.ResolvePayment(ctx, from.ID, args[0], strings.Join(args[1:], " "))
	if errors.Is(err, database.ErrNotFound) {
		return reply{text: "Payment not found."}
	}
	if err != nil {
		b.log.Error("Payment override failed", "payment_id", args[0], "err", err)
		return reply{text: "❌ Could not confirm the payment, nothing was changed."}
	}
	if !res.Applied {
		return reply{text: fmt.Sprintf("Payment %s is already %s.", args[0], res.Attempt.Status)}
	}
	return reply{text: fmt.Sprintf("✅ Payment %s confirmed. User %d has access until %s.",
		args[0], res.Subscriber.ID, res.Subscriber.WindowEnd.Format(dateLayout))}
}

func (b *Bot) handleCheckExpired(ctx context.Context, from *telego.User, _ []string) reply {
	if !b.operator.IsOperator(from.ID) {
		return reply{text: "This command is for the operator only."}
	}
	report, err := b.sweeper.Sweep(ctx, b.now())
	if err != nil {
		b.log.Error("Manual sweep failed", "err", err)
		if report == nil {
			return reply{text: "❌ Sweep failed. Check the logs."}
		}
	}
	return reply{text: fmt.Sprintf("🧹 Sweep done: %d lapsed, %d revoked, %d reminded.",
		report.Lapsed, report.Revoked, report.Reminded)}
}

// send replies as Markdown and falls back to plain text.
func (b *Bot) send(ctx context.Context, chatID int64, r reply) {
	params := tu.Message(tu.ID(chatID), r.text).WithParseMode(telego.ModeMarkdown)
	if r.markup != nil {
		params = params.WithReplyMarkup(r.markup)
	}
	if _, err := b.sender.SendMessage(ctx, params); err == nil {
		return
	}

	params.ParseMode = ""
	if _, err := b.sender.SendMessage(ctx, params); err != nil {
		b.log.Warn("Failed to send reply", "chat_id", chatID, "err", err)
	}
}

func (b *Bot) answer(ctx context.Context, callbackID string) {
	if err := b.sender.AnswerCallbackQuery(ctx, tu.CallbackQuery(callbackID)); err != nil {
		b.log.Debug("Failed to answer callback", "err", err)
	}
}

func paymentErrorText(err error) string {
	var ge *payment.GatewayError
	detail := ""
	if errors.As(err, &ge) && ge.Detail != "" {
		detail = "\n\n" + ge.Detail
	}
	switch {
	case errors.Is(err, payment.ErrInvalidAmount):
		return "❌ The payment processor refused this amount." + detail
	case errors.Is(err, payment.ErrGatewayRejected):
		return "❌ The payment processor refused the payment." + detail
	case errors.Is(err, payment.ErrGatewayUnavailable):
		return "⏳ The payment processor is not responding. Please try again shortly."
	default:
		return "⚠️ Could not create the payment. Please try again shortly."
	}
}

func confirmationText(res *membership.Confirmation) string {
	a := res.Attempt
	switch a.Status {
	case models.PaymentConfirmed, models.PaymentPartiallyPaid:
		text := "✅ Payment confirmed."
		if res.Subscriber != nil {
			text += " Your membership is active until " + res.Subscriber.WindowEnd.Format(dateLayout) + "."
		}
		return text
	case models.PaymentExpired:
		return "⌛ This payment expired. Use /payment to get new details."
	case models.PaymentFailed:
		return "❌ This payment failed at the processor. Use /payment to try again."
	}

	if res.InstructionsExpired {
		return "⏳ Payment not confirmed yet and its details have expired. " +
			"If you already paid, it will still be credited once it confirms; check again later."
	}
	if res.GatewayState == payment.StateNotFound {
		return "⏳ The processor does not see this payment yet. Please try again shortly."
	}
	return "⏳ Payment not confirmed yet. Please try again in a few minutes."
}

func statusText(sub *models.Subscriber, now time.Time) string {
	if !sub.HasAccess(now) {
		return fmt.Sprintf("❌ Your membership ended on %s.\n\nUse /payment to renew.", sub.WindowEnd.Format(dateLayout))
	}
	days := int(sub.Remaining(now).Hours() / 24)
	return fmt.Sprintf("✅ *Membership active*\n\nFrom: %s\nUntil: %s\nDays left: %d",
		sub.WindowStart.Format(dateLayout), sub.WindowEnd.Format(dateLayout), days)
}

func commandArgs(text string) []string {
	fields := strings.Fields(text)
	if len(fields) <= 1 {
		return nil
	}
	return fields[1:]
}
