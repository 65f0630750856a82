package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	GatewayManual = "manual"

	// expiredRetention keeps entries past their instruction expiry so late
	// polls still see the payment.
	expiredRetention = 24 * time.Hour
)

// ManualGateway issues instructions for a direct transfer to a fixed wallet.
// Payments never confirm through polling; an operator resolves them.
type ManualGateway struct {
	WalletAddress string
	PayCurrency   string
	PriceCurrency string
	TTL           time.Duration

	pending PendingTable
	now     func() time.Time
}

func NewManualGateway(walletAddress, payCurrency, priceCurrency string, ttl time.Duration, pending PendingTable) *ManualGateway {
	return &ManualGateway{
		WalletAddress: walletAddress,
		PayCurrency:   payCurrency,
		PriceCurrency: priceCurrency,
		TTL:           ttl,
		pending:       pending,
		now:           time.Now,
	}
}

func (g *ManualGateway) Name() string { return GatewayManual }

// Quote is one-to-one: the wallet takes a stablecoin pegged to the price currency.
func (g *ManualGateway) Quote(_ context.Context, amount decimal.Decimal) (*Quote, error) {
	if !amount.IsPositive() {
		return nil, &GatewayError{Kind: ErrInvalidAmount, Op: "estimate", Detail: fmt.Sprintf("amount %s", amount)}
	}
	return &Quote{
		PriceAmount:   amount,
		PriceCurrency: g.PriceCurrency,
		PayAmount:     amount,
		PayCurrency:   g.PayCurrency,
	}, nil
}

func (g *ManualGateway) CreatePayment(ctx context.Context, req PaymentRequest) (*Instructions, error) {
	if !req.Amount.IsPositive() {
		return nil, &GatewayError{Kind: ErrInvalidAmount, Op: "create_payment", Detail: fmt.Sprintf("amount %s", req.Amount)}
	}

	now := g.now()
	p := PendingPayment{
		PaymentID: strings.ReplaceAll(uuid.NewString(), "-", "")[:24],
		Amount:    req.Amount,
		CreatedAt: now,
		ExpiresAt: now.Add(g.TTL),
	}
	if err := g.pending.Put(ctx, p, g.TTL+expiredRetention); err != nil {
		return nil, unavailable("create_payment", 0, err)
	}

	return &Instructions{
		PaymentID:     p.PaymentID,
		OrderID:       req.OrderID,
		PayAddress:    g.WalletAddress,
		PayAmount:     req.Amount,
		PayCurrency:   g.PayCurrency,
		PriceAmount:   req.Amount,
		PriceCurrency: g.PriceCurrency,
		ExpiresAt:     p.ExpiresAt,
	}, nil
}

func (g *ManualGateway) PollStatus(ctx context.Context, paymentID string) (*Settlement, error) {
	p, err := g.pending.Get(ctx, paymentID)
	if errors.Is(err, ErrPendingNotFound) {
		return &Settlement{PaymentID: paymentID, State: StateNotFound}, nil
	}
	if err != nil {
		return nil, unavailable("poll_status", 0, err)
	}

	// Only an operator confirms a transfer; past ExpiresAt it stays pending.
	return &Settlement{PaymentID: paymentID, State: StatePending, RawStatus: string(StatePending), PayAmount: p.Amount}, nil
}
