package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"freightfloo/bid"
	"freightfloo/notify"
	"freightfloo/shipment"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func testGuard(t *testing.T) *Guard {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewGuard(rdb)
}

func payableRow() ShipmentBidRow {
	return ShipmentBidRow{
		ShipmentID:     "ship-1",
		ShipmentOwner:  "shipper-1",
		ShipmentStatus: shipment.StatusPending,
		BidID:          "bid-1",
		CarrierID:      "carrier-1",
		BidStatus:      bid.StatusAccepted,
		Amount:         decimal.NewFromInt(480),
	}
}

func intentParams() IntentParams {
	return IntentParams{ShipmentID: "ship-1", BidID: "bid-1", PayerID: "shipper-1"}
}

func TestCreateOrReuseIntent_Success(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{row: payableRow(), payerCreatedAt: time.Now().Add(-48 * time.Hour)}
	gw := &fakeGateway{intent: Intent{ID: "pi_1", ClientSecret: "cs_1", Status: "requires_payment_method"}}
	svc := NewService(pool, repo, gw, testGuard(t), nil)

	result, err := svc.CreateOrReuseIntent(context.Background(), intentParams())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result.ClientSecret != "cs_1" {
		t.Errorf("expected client secret from the processor, got %q", result.ClientSecret)
	}
	if !repo.inserted {
		t.Errorf("expected a pending payment row")
	}
	if repo.intentSet != "pi_1" {
		t.Errorf("expected intent id recorded, got %q", repo.intentSet)
	}
	if gw.createCalls != 1 {
		t.Errorf("expected one processor call, got %d", gw.createCalls)
	}
	// Reservation tx and intent tx both committed.
	if pool.commits() != 2 {
		t.Errorf("expected 2 commits, got %d", pool.commits())
	}
}

func TestCreateOrReuseIntent_PendingRowSurvivesGatewayFailure(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{row: payableRow(), payerCreatedAt: time.Now().Add(-48 * time.Hour)}
	gw := &fakeGateway{createErr: ErrGateway}
	svc := NewService(pool, repo, gw, testGuard(t), nil)

	_, err := svc.CreateOrReuseIntent(context.Background(), intentParams())
	if !errors.Is(err, ErrGateway) {
		t.Fatalf("expected ErrGateway, got %v", err)
	}
	// The reservation committed before the processor was contacted.
	if !repo.inserted {
		t.Errorf("expected the pending row to be inserted")
	}
	if pool.commits() != 1 {
		t.Errorf("expected the reservation commit to survive, got %d commits", pool.commits())
	}
	if repo.intentSet != "" {
		t.Errorf("no intent should be recorded on failure")
	}
}

func TestCreateOrReuseIntent_ReusesPendingIntent(t *testing.T) {
	pool := &fakePool{}
	intentID := "pi_existing"
	repo := &fakeRepo{
		row:            payableRow(),
		payerCreatedAt: time.Now().Add(-48 * time.Hour),
		existing: &Payment{
			ID:         "pay-1",
			ShipmentID: "ship-1",
			BidID:      "bid-1",
			PayerID:    "shipper-1",
			Amount:     decimal.NewFromInt(480),
			Status:     StatusPending,
			IntentID:   &intentID,
		},
	}
	gw := &fakeGateway{intent: Intent{ID: intentID, ClientSecret: "cs_existing", Status: "requires_payment_method"}}
	svc := NewService(pool, repo, gw, testGuard(t), nil)

	result, err := svc.CreateOrReuseIntent(context.Background(), intentParams())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.inserted {
		t.Errorf("must not insert a second live payment")
	}
	if gw.createCalls != 0 {
		t.Errorf("must not open a second intent, got %d calls", gw.createCalls)
	}
	if gw.retrieveCalls != 1 {
		t.Errorf("expected the existing intent to be retrieved")
	}
	if result.Payment.ID != "pay-1" {
		t.Errorf("expected the existing payment back, got %s", result.Payment.ID)
	}
}

func TestCreateOrReuseIntent_AlreadyPaid(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{
		row:            payableRow(),
		payerCreatedAt: time.Now().Add(-48 * time.Hour),
		existing:       &Payment{ID: "pay-1", Status: StatusCompleted},
	}
	svc := NewService(pool, repo, &fakeGateway{}, testGuard(t), nil)

	if _, err := svc.CreateOrReuseIntent(context.Background(), intentParams()); !errors.Is(err, ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid, got %v", err)
	}
}

func TestCreateOrReuseIntent_Preconditions(t *testing.T) {
	base := payableRow()

	forbidden := base
	forbidden.ShipmentOwner = "someone-else"

	notAccepted := base
	notAccepted.BidStatus = bid.StatusPending

	notPayable := base
	notPayable.ShipmentStatus = shipment.StatusActive

	cases := []struct {
		name string
		row  ShipmentBidRow
		want error
	}{
		{"payer is not the owner", forbidden, ErrForbidden},
		{"bid not accepted", notAccepted, ErrBidNotAccepted},
		{"shipment not awaiting payment", notPayable, ErrShipmentNotPayable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pool := &fakePool{}
			repo := &fakeRepo{row: tc.row, payerCreatedAt: time.Now().Add(-48 * time.Hour)}
			gw := &fakeGateway{}
			svc := NewService(pool, repo, gw, testGuard(t), nil)

			if _, err := svc.CreateOrReuseIntent(context.Background(), intentParams()); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if repo.inserted {
				t.Errorf("no payment row on precondition failure")
			}
			if gw.createCalls != 0 {
				t.Errorf("processor must not be contacted")
			}
		})
	}
}

func TestCreateOrReuseIntent_BlocksNewAccounts(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{row: payableRow(), payerCreatedAt: time.Now().Add(-5 * time.Minute)}
	gw := &fakeGateway{}
	svc := NewService(pool, repo, gw, testGuard(t), nil)

	if _, err := svc.CreateOrReuseIntent(context.Background(), intentParams()); !errors.Is(err, ErrAccountTooNew) {
		t.Fatalf("expected ErrAccountTooNew, got %v", err)
	}
	if gw.createCalls != 0 {
		t.Errorf("processor must not be contacted when the gate fires")
	}
}

func TestComplete_FirstConfirmation(t *testing.T) {
	pool := &fakePool{}
	intentID := "pi_1"
	repo := &fakeRepo{
		row: payableRow(),
		payment: &Payment{
			ID:         "pay-1",
			ShipmentID: "ship-1",
			BidID:      "bid-1",
			PayerID:    "shipper-1",
			Amount:     decimal.NewFromInt(480),
			Status:     StatusPending,
			IntentID:   &intentID,
		},
	}
	gw := &fakeGateway{intent: Intent{ID: intentID, Status: IntentSucceeded}}
	notifier := &fakeNotifier{}
	svc := NewService(pool, repo, gw, testGuard(t), notifier)

	completed, err := svc.Complete(context.Background(), "pay-1", "shipper-1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if completed.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", completed.Status)
	}
	if !repo.assigned {
		t.Errorf("expected the shipment to be assigned")
	}
	if pool.commits() != 1 {
		t.Errorf("expected one commit, got %d", pool.commits())
	}
	// Shipper and carrier both hear about it.
	if len(notifier.sent) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notifier.sent))
	}
}

func TestComplete_IdempotentReplay(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{
		payment: &Payment{ID: "pay-1", PayerID: "shipper-1", Status: StatusCompleted},
	}
	gw := &fakeGateway{}
	notifier := &fakeNotifier{}
	svc := NewService(pool, repo, gw, testGuard(t), notifier)

	p, err := svc.Complete(context.Background(), "pay-1", "shipper-1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if p.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", p.Status)
	}
	if repo.completedCalls != 0 {
		t.Errorf("replay must not mark completed again")
	}
	if repo.assigned {
		t.Errorf("replay must not touch the shipment")
	}
	if gw.retrieveCalls != 0 {
		t.Errorf("replay must not hit the processor")
	}
	if len(notifier.sent) != 0 {
		t.Errorf("replay must not re-notify, got %d", len(notifier.sent))
	}
}

func TestComplete_RejectsUncapturedIntent(t *testing.T) {
	pool := &fakePool{}
	intentID := "pi_1"
	repo := &fakeRepo{
		payment: &Payment{ID: "pay-1", PayerID: "shipper-1", Status: StatusPending, IntentID: &intentID},
	}
	gw := &fakeGateway{intent: Intent{ID: intentID, Status: "requires_payment_method"}}
	svc := NewService(pool, repo, gw, testGuard(t), nil)

	if _, err := svc.Complete(context.Background(), "pay-1", "shipper-1"); !errors.Is(err, ErrIntentNotSucceeded) {
		t.Fatalf("expected ErrIntentNotSucceeded, got %v", err)
	}
	if repo.completedCalls != 0 {
		t.Errorf("must not complete an uncaptured charge")
	}
}

func TestHandleProcessorEvent_SucceededConvergesWithComplete(t *testing.T) {
	pool := &fakePool{}
	intentID := "pi_1"
	repo := &fakeRepo{
		row: payableRow(),
		payment: &Payment{
			ID:         "pay-1",
			ShipmentID: "ship-1",
			BidID:      "bid-1",
			PayerID:    "shipper-1",
			Status:     StatusPending,
			IntentID:   &intentID,
		},
	}
	notifier := &fakeNotifier{}
	svc := NewService(pool, repo, &fakeGateway{}, testGuard(t), notifier)

	if err := svc.HandleProcessorEvent(context.Background(), EventIntentSucceeded, intentID); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.completedCalls != 1 {
		t.Fatalf("expected one completion, got %d", repo.completedCalls)
	}
	if !repo.assigned {
		t.Errorf("expected the shipment to be assigned")
	}

	// A replay after the first application is a no-op.
	repo.payment.Status = StatusCompleted
	if err := svc.HandleProcessorEvent(context.Background(), EventIntentSucceeded, intentID); err != nil {
		t.Fatalf("expected nil error on replay, got %v", err)
	}
	if repo.completedCalls != 1 {
		t.Errorf("replay must not double-apply, got %d completions", repo.completedCalls)
	}
	if len(notifier.sent) != 2 {
		t.Errorf("replay must not re-notify, got %d", len(notifier.sent))
	}
}

func TestHandleProcessorEvent_FailureLeavesShipmentPayable(t *testing.T) {
	pool := &fakePool{}
	intentID := "pi_1"
	repo := &fakeRepo{
		payment: &Payment{ID: "pay-1", ShipmentID: "ship-1", PayerID: "shipper-1", Status: StatusPending, IntentID: &intentID},
	}
	notifier := &fakeNotifier{}
	svc := NewService(pool, repo, &fakeGateway{}, testGuard(t), notifier)

	if err := svc.HandleProcessorEvent(context.Background(), EventIntentFailed, intentID); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !repo.failed {
		t.Errorf("expected the payment marked failed")
	}
	if repo.assigned {
		t.Errorf("a failed payment must not assign the shipment")
	}
	if len(notifier.sent) != 1 || notifier.sent[0].Type != notify.TypePaymentFailed {
		t.Errorf("expected one payment_failed notification, got %+v", notifier.sent)
	}
}

func TestHandleProcessorEvent_UnknownIntentIgnored(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{}
	svc := NewService(pool, repo, &fakeGateway{}, testGuard(t), nil)

	if err := svc.HandleProcessorEvent(context.Background(), EventIntentSucceeded, "pi_unknown"); err != nil {
		t.Fatalf("unknown intents are acknowledged, got %v", err)
	}
	if err := svc.HandleProcessorEvent(context.Background(), "charge.captured", "pi_1"); err != nil {
		t.Fatalf("unhandled event types are acknowledged, got %v", err)
	}
}

type fakeGateway struct {
	intent        Intent
	createErr     error
	refund        RefundResult
	refundErr     error
	createCalls   int
	retrieveCalls int
}

func (f *fakeGateway) CreateIntent(ctx context.Context, params CreateIntentParams) (Intent, error) {
	f.createCalls++
	if f.createErr != nil {
		return Intent{}, f.createErr
	}
	return f.intent, nil
}

func (f *fakeGateway) RetrieveIntent(ctx context.Context, id string) (Intent, error) {
	f.retrieveCalls++
	return f.intent, nil
}

func (f *fakeGateway) CreateRefund(ctx context.Context, intentID string, amount decimal.Decimal, metadata map[string]string) (RefundResult, error) {
	if f.refundErr != nil {
		return RefundResult{}, f.refundErr
	}
	return f.refund, nil
}

type fakeRepo struct {
	row            ShipmentBidRow
	existing       *Payment
	payment        *Payment
	payerCreatedAt time.Time

	inserted       bool
	intentSet      string
	assigned       bool
	failed         bool
	completedCalls int
}

func (f *fakeRepo) ShipmentBidForUpdate(ctx context.Context, tx pgx.Tx, shipmentID, bidID string) (ShipmentBidRow, error) {
	if f.row.ShipmentID == "" {
		return ShipmentBidRow{}, ErrNotFound
	}
	return f.row, nil
}

func (f *fakeRepo) FindLiveForUpdate(ctx context.Context, tx pgx.Tx, shipmentID, bidID string) (Payment, bool, error) {
	if f.existing == nil {
		return Payment{}, false, nil
	}
	return *f.existing, true, nil
}

func (f *fakeRepo) Insert(ctx context.Context, tx pgx.Tx, p Payment) (Payment, error) {
	f.inserted = true
	f.payment = &p
	return p, nil
}

func (f *fakeRepo) SetIntent(ctx context.Context, tx pgx.Tx, paymentID, intentID string) error {
	f.intentSet = intentID
	return nil
}

func (f *fakeRepo) GetForUpdateByID(ctx context.Context, tx pgx.Tx, id string) (Payment, error) {
	if f.payment == nil || f.payment.ID != id {
		return Payment{}, ErrNotFound
	}
	return *f.payment, nil
}

func (f *fakeRepo) GetForUpdateByIntent(ctx context.Context, tx pgx.Tx, intentID string) (Payment, error) {
	if f.payment == nil || f.payment.IntentID == nil || *f.payment.IntentID != intentID {
		return Payment{}, ErrNotFound
	}
	return *f.payment, nil
}

func (f *fakeRepo) MarkCompleted(ctx context.Context, tx pgx.Tx, id string) (Payment, error) {
	f.completedCalls++
	p := *f.payment
	p.Status = StatusCompleted
	return p, nil
}

func (f *fakeRepo) MarkFailed(ctx context.Context, tx pgx.Tx, id string) (Payment, error) {
	f.failed = true
	p := *f.payment
	p.Status = StatusFailed
	return p, nil
}

func (f *fakeRepo) AssignShipment(ctx context.Context, tx pgx.Tx, shipmentID string) error {
	f.assigned = true
	return nil
}

func (f *fakeRepo) PayerCreatedAt(ctx context.Context, payerID string) (time.Time, error) {
	return f.payerCreatedAt, nil
}

type fakeNotifier struct {
	sent []notify.Notification
}

func (f *fakeNotifier) Notify(ctx context.Context, tx pgx.Tx, n notify.Notification) error {
	f.sent = append(f.sent, n)
	return nil
}

type fakePool struct {
	txs []*fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	tx := &fakeTx{}
	f.txs = append(f.txs, tx)
	return tx, nil
}

func (f *fakePool) commits() int {
	n := 0
	for _, tx := range f.txs {
		if tx.committed {
			n++
		}
	}
	return n
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
