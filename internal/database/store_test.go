package database_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"vipgate-bot/internal/database"
	"vipgate-bot/internal/models"
	"vipgate-bot/internal/testutil"
)

const period = 30 * 24 * time.Hour

var epoch = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func seedAttempt(t *testing.T, ledger *database.PaymentLedger, id string, subscriberID int64) {
	t.Helper()
	err := ledger.Create(context.Background(), &models.PaymentAttempt{
		PaymentID:     id,
		SubscriberID:  subscriberID,
		Gateway:       "test",
		PriceAmount:   decimal.NewFromInt(30),
		PriceCurrency: "usd",
		PayAmount:     decimal.RequireFromString("0.0005"),
		PayCurrency:   "btc",
		CreatedAt:     epoch,
		ExpiresAt:     epoch.Add(20 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Failed to seed attempt %s: %v", id, err)
	}
}

func TestExtendWindow(t *testing.T) {
	tests := []struct {
		name      string
		priorEnd  *time.Time
		now       time.Time
		wantEnd   time.Time
		wantStart time.Time
	}{
		{
			name:      "Given no record When extended Then window is now plus period",
			now:       epoch,
			wantStart: epoch,
			wantEnd:   epoch.Add(period),
		},
		{
			name:      "Given an open window When renewed Then period stacks on the current end",
			priorEnd:  ptr(epoch.Add(10 * 24 * time.Hour)),
			now:       epoch,
			wantStart: epoch,
			wantEnd:   epoch.Add(10*24*time.Hour + period),
		},
		{
			name:      "Given a lapsed window When renewed Then the gap is not credited",
			priorEnd:  ptr(epoch.Add(-5 * 24 * time.Hour)),
			now:       epoch,
			wantStart: epoch,
			wantEnd:   epoch.Add(period),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := database.NewSubscriberStore(testutil.NewDB(t))

			if tt.priorEnd != nil {
				// Open a window that ends at priorEnd.
				start := tt.priorEnd.Add(-period)
				if _, err := store.Extend(ctx, 7, "alice", period, start); err != nil {
					t.Fatalf("seed extend: %v", err)
				}
			}

			sub, err := store.Extend(ctx, 7, "", period, tt.now)
			if err != nil {
				t.Fatalf("Extend: %v", err)
			}
			if !sub.WindowEnd.Equal(tt.wantEnd) {
				t.Errorf("window_end = %s, want %s", sub.WindowEnd, tt.wantEnd)
			}
			if !sub.WindowStart.Equal(tt.wantStart) {
				t.Errorf("window_start = %s, want %s", sub.WindowStart, tt.wantStart)
			}
			if !sub.Active {
				t.Error("subscriber should be active after extension")
			}

			stored, err := store.Get(ctx, 7)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !stored.WindowEnd.Equal(tt.wantEnd) {
				t.Errorf("stored window_end = %s, want %s", stored.WindowEnd, tt.wantEnd)
			}
			if stored.WindowEnd.Before(stored.WindowStart) {
				t.Errorf("window_end %s before window_start %s", stored.WindowEnd, stored.WindowStart)
			}
			if tt.priorEnd != nil && stored.DisplayName != "alice" {
				t.Errorf("display name = %q, empty name must not clear it", stored.DisplayName)
			}
		})
	}
}

func TestGetUnknownSubscriber(t *testing.T) {
	store := database.NewSubscriberStore(testutil.NewDB(t))
	if _, err := store.Get(context.Background(), 404); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeactivateIsConditional(t *testing.T) {
	ctx := context.Background()
	store := database.NewSubscriberStore(testutil.NewDB(t))

	if _, err := store.Extend(ctx, 1, "", period, epoch.Add(-period-time.Hour)); err != nil {
		t.Fatalf("Extend: %v", err)
	}

	// Window is still open at this instant.
	ok, err := store.Deactivate(ctx, 1, epoch.Add(-2*time.Hour))
	if err != nil || ok {
		t.Fatalf("Deactivate before lapse = %v, %v; want false, nil", ok, err)
	}

	ok, err = store.Deactivate(ctx, 1, epoch)
	if err != nil || !ok {
		t.Fatalf("Deactivate after lapse = %v, %v; want true, nil", ok, err)
	}

	ok, err = store.Deactivate(ctx, 1, epoch)
	if err != nil || ok {
		t.Fatalf("second Deactivate = %v, %v; want false, nil", ok, err)
	}

	sub, err := store.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sub.Active {
		t.Error("subscriber should be inactive")
	}
}

func TestListLapsedAndExpiring(t *testing.T) {
	ctx := context.Background()
	store := database.NewSubscriberStore(testutil.NewDB(t))

	// 1 lapsed, 2 ends in 12h, 3 ends in 20 days.
	seeds := map[int64]time.Time{
		1: epoch.Add(-period - time.Hour),
		2: epoch.Add(-period + 12*time.Hour),
		3: epoch.Add(-10 * 24 * time.Hour),
	}
	for id, start := range seeds {
		if _, err := store.Extend(ctx, id, "", period, start); err != nil {
			t.Fatalf("Extend %d: %v", id, err)
		}
	}

	lapsed, err := store.ListLapsed(ctx, epoch)
	if err != nil {
		t.Fatalf("ListLapsed: %v", err)
	}
	if len(lapsed) != 1 || lapsed[0].ID != 1 {
		t.Errorf("lapsed = %+v, want only subscriber 1", lapsed)
	}

	expiring, err := store.ListExpiring(ctx, epoch, epoch.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("ListExpiring: %v", err)
	}
	if len(expiring) != 1 || expiring[0].ID != 2 {
		t.Errorf("expiring = %+v, want only subscriber 2", expiring)
	}
}

func TestExtendApprovedWritesAudit(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	store := database.NewSubscriberStore(db)
	approvals := database.NewApprovalLog(db)

	for i := 0; i < 2; i++ {
		approval := &models.ManualApproval{SubscriberID: 9, OperatorID: 42, Note: "receipt"}
		if _, err := store.ExtendApproved(ctx, approval, "bob", period, epoch); err != nil {
			t.Fatalf("ExtendApproved: %v", err)
		}
		if approval.ID == "" {
			t.Error("approval id not assigned")
		}
	}

	sub, err := store.Get(ctx, 9)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if want := epoch.Add(2 * period); !sub.WindowEnd.Equal(want) {
		t.Errorf("window_end = %s, want %s", sub.WindowEnd, want)
	}

	log, err := approvals.ListBySubscriber(ctx, 9)
	if err != nil {
		t.Fatalf("ListBySubscriber: %v", err)
	}
	if len(log) != 2 {
		t.Fatalf("approvals = %d, want 2", len(log))
	}
	if log[0].OperatorID != 42 || log[0].PaymentID != nil {
		t.Errorf("unexpected approval row %+v", log[0])
	}
}

func TestSettleCreditsOnce(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	ledger := database.NewPaymentLedger(db)
	store := database.NewSubscriberStore(db)
	seedAttempt(t, ledger, "P1", 5)

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ledger.Settle(ctx, database.SettleRequest{
				PaymentID:     "P1",
				Status:        models.PaymentConfirmed,
				GatewayStatus: "finished",
				At:            epoch,
				Credit:        period,
			})
			if err != nil {
				t.Errorf("Settle: %v", err)
				return
			}
			if res.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if applied != 1 {
		t.Fatalf("applied = %d, want 1", applied)
	}
	sub, err := store.Get(ctx, 5)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if want := epoch.Add(period); !sub.WindowEnd.Equal(want) {
		t.Errorf("window_end = %s, want %s", sub.WindowEnd, want)
	}

	attempt, err := ledger.Get(ctx, "P1")
	if err != nil {
		t.Fatalf("Get attempt: %v", err)
	}
	if attempt.Status != models.PaymentConfirmed || attempt.CompletedAt == nil {
		t.Errorf("attempt = %+v, want confirmed with completed_at", attempt)
	}
	if attempt.GatewayStatus != "finished" {
		t.Errorf("gateway status = %q", attempt.GatewayStatus)
	}
}

func TestSettleIsMonotonic(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	ledger := database.NewPaymentLedger(db)
	store := database.NewSubscriberStore(db)
	seedAttempt(t, ledger, "P2", 6)

	res, err := ledger.Settle(ctx, database.SettleRequest{PaymentID: "P2", Status: models.PaymentExpired, At: epoch, Credit: period})
	if err != nil || !res.Applied {
		t.Fatalf("expire = %+v, %v", res, err)
	}
	if res.Subscriber != nil {
		t.Error("expired payment must not credit a window")
	}

	res, err = ledger.Settle(ctx, database.SettleRequest{PaymentID: "P2", Status: models.PaymentConfirmed, At: epoch, Credit: period})
	if err != nil {
		t.Fatalf("late confirm: %v", err)
	}
	if res.Applied || res.Attempt.Status != models.PaymentExpired {
		t.Errorf("terminal status changed: %+v", res)
	}
	if _, err := store.Get(ctx, 6); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("subscriber created for expired payment: %v", err)
	}

	if _, err := ledger.Settle(ctx, database.SettleRequest{PaymentID: "P2", Status: models.PaymentPending, At: epoch}); err == nil {
		t.Error("settling to pending should be rejected")
	}
}

func TestSettleUnknownPayment(t *testing.T) {
	ledger := database.NewPaymentLedger(testutil.NewDB(t))
	_, err := ledger.Settle(context.Background(), database.SettleRequest{PaymentID: "nope", Status: models.PaymentConfirmed, At: epoch})
	if !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSettleWithApprovalAudit(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	ledger := database.NewPaymentLedger(db)
	seedAttempt(t, ledger, "P3", 8)

	res, err := ledger.Settle(ctx, database.SettleRequest{
		PaymentID: "P3",
		Status:    models.PaymentConfirmed,
		At:        epoch,
		Credit:    period,
		Approval:  &models.ManualApproval{OperatorID: 42, Note: "manual override"},
	})
	if err != nil || !res.Applied {
		t.Fatalf("Settle = %+v, %v", res, err)
	}

	log, err := database.NewApprovalLog(db).ListBySubscriber(ctx, 8)
	if err != nil {
		t.Fatalf("ListBySubscriber: %v", err)
	}
	if len(log) != 1 || log[0].PaymentID == nil || *log[0].PaymentID != "P3" {
		t.Fatalf("approval log = %+v", log)
	}
}

func TestLatestPending(t *testing.T) {
	ctx := context.Background()
	ledger := database.NewPaymentLedger(testutil.NewDB(t))

	if _, err := ledger.LatestPending(ctx, 3); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	seedAttempt(t, ledger, "old", 3)
	err := ledger.Create(ctx, &models.PaymentAttempt{
		PaymentID:    "new",
		SubscriberID: 3,
		Gateway:      "test",
		PriceAmount:  decimal.NewFromInt(30),
		CreatedAt:    epoch.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := ledger.LatestPending(ctx, 3)
	if err != nil {
		t.Fatalf("LatestPending: %v", err)
	}
	if got.PaymentID != "new" {
		t.Errorf("latest = %s, want new", got.PaymentID)
	}
}

func TestCreateDuplicatePaymentIsPersistenceError(t *testing.T) {
	ledger := database.NewPaymentLedger(testutil.NewDB(t))
	seedAttempt(t, ledger, "dup", 1)

	err := ledger.Create(context.Background(), &models.PaymentAttempt{PaymentID: "dup", SubscriberID: 1, Gateway: "test"})
	var pe *database.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want PersistenceError", err)
	}
}

func ptr(t time.Time) *time.Time { return &t }
