package shipment

import (
	"context"
	"errors"
	"testing"

	"freightfloo/notify"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

func assignedShipment() Shipment {
	return Shipment{
		ID:            "ship-1",
		OwnerID:       "shipper-1",
		Origin:        "Dallas, TX",
		Destination:   "Atlanta, GA",
		PricingMode:   ModeAuction,
		Price:         decimal.NewFromInt(1000),
		Status:        StatusAssigned,
		PaymentStatus: PaymentStatusCompleted,
		CurrentStatus: DeliveryPending,
	}
}

func TestCreate_ValidatesInput(t *testing.T) {
	svc := NewService(&fakePool{}, &fakeRepo{}, nil)

	cases := []struct {
		name   string
		params CreateParams
	}{
		{"missing owner", CreateParams{Origin: "a", Destination: "b", PricingMode: ModeAuction, Price: decimal.NewFromInt(100)}},
		{"missing origin", CreateParams{OwnerID: "u", Destination: "b", PricingMode: ModeAuction, Price: decimal.NewFromInt(100)}},
		{"bad pricing mode", CreateParams{OwnerID: "u", Origin: "a", Destination: "b", PricingMode: "barter", Price: decimal.NewFromInt(100)}},
		{"zero price", CreateParams{OwnerID: "u", Origin: "a", Destination: "b", PricingMode: ModeAuction}},
		{"negative price", CreateParams{OwnerID: "u", Origin: "a", Destination: "b", PricingMode: ModeOffer, Price: decimal.NewFromInt(-5)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), tc.params); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestCreate_StartsActive(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{}
	svc := NewService(pool, repo, nil)

	created, err := svc.Create(context.Background(), CreateParams{
		OwnerID:     "shipper-1",
		Origin:      "Dallas, TX",
		Destination: "Atlanta, GA",
		PricingMode: ModeAuction,
		Price:       decimal.NewFromInt(1000),
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if created.Status != StatusActive {
		t.Errorf("expected active, got %s", created.Status)
	}
	if created.PaymentStatus != PaymentStatusNone {
		t.Errorf("expected payment status none, got %s", created.PaymentStatus)
	}
	if created.CurrentStatus != DeliveryPending {
		t.Errorf("expected delivery pending, got %s", created.CurrentStatus)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit")
	}
}

func TestAdvanceStatus_HappyPath(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{shipment: assignedShipment(), carrierID: "carrier-1"}
	notifier := &fakeNotifier{}
	svc := NewService(pool, repo, notifier)

	updated, err := svc.AdvanceStatus(context.Background(), AdvanceParams{
		ShipmentID: "ship-1",
		ActorID:    "carrier-1",
		Target:     DeliveryPickedUp,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if updated.CurrentStatus != DeliveryPickedUp {
		t.Errorf("expected picked_up, got %s", updated.CurrentStatus)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit")
	}
	// Both shipper and carrier are told.
	if len(notifier.sent) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notifier.sent))
	}
	for _, n := range notifier.sent {
		if n.Type != notify.TypeStatusUpdate {
			t.Errorf("expected status_update, got %s", n.Type)
		}
	}
}

func TestAdvanceStatus_RejectsSkip(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{shipment: assignedShipment(), carrierID: "carrier-1"}
	svc := NewService(pool, repo, nil)

	_, err := svc.AdvanceStatus(context.Background(), AdvanceParams{
		ShipmentID: "ship-1",
		ActorID:    "carrier-1",
		Target:     DeliveryDelivered,
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if pool.tx.committed {
		t.Errorf("expected rollback, not commit")
	}
}

func TestAdvanceStatus_RejectsUnknownTarget(t *testing.T) {
	svc := NewService(&fakePool{}, &fakeRepo{}, nil)

	_, err := svc.AdvanceStatus(context.Background(), AdvanceParams{
		ShipmentID: "ship-1",
		ActorID:    "carrier-1",
		Target:     "warp",
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestAdvanceStatus_ForbiddenActor(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{shipment: assignedShipment(), carrierID: "carrier-1"}
	svc := NewService(pool, repo, nil)

	_, err := svc.AdvanceStatus(context.Background(), AdvanceParams{
		ShipmentID: "ship-1",
		ActorID:    "stranger",
		Target:     DeliveryPickedUp,
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestAdvanceStatus_RequiresAssignment(t *testing.T) {
	s := assignedShipment()
	s.Status = StatusPending
	pool := &fakePool{}
	repo := &fakeRepo{shipment: s, carrierID: "carrier-1"}
	svc := NewService(pool, repo, nil)

	_, err := svc.AdvanceStatus(context.Background(), AdvanceParams{
		ShipmentID: "ship-1",
		ActorID:    "carrier-1",
		Target:     DeliveryPickedUp,
	})
	if !errors.Is(err, ErrNotAssigned) {
		t.Fatalf("expected ErrNotAssigned, got %v", err)
	}
}

func TestAdvanceStatus_CompletionRequiresPod(t *testing.T) {
	s := assignedShipment()
	s.CurrentStatus = DeliveryDelivered
	pool := &fakePool{}
	repo := &fakeRepo{shipment: s, carrierID: "carrier-1"}
	svc := NewService(pool, repo, nil)

	_, err := svc.AdvanceStatus(context.Background(), AdvanceParams{
		ShipmentID: "ship-1",
		ActorID:    "shipper-1",
		Target:     DeliveryCompleted,
	})
	if !errors.Is(err, ErrPodRequired) {
		t.Fatalf("expected ErrPodRequired, got %v", err)
	}

	updated, err := svc.AdvanceStatus(context.Background(), AdvanceParams{
		ShipmentID: "ship-1",
		ActorID:    "shipper-1",
		Target:     DeliveryCompleted,
		Pod:        &PodData{Reference: "pod-blob-1", Notes: "signed at dock 4"},
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if updated.CurrentStatus != DeliveryCompleted {
		t.Errorf("expected completed, got %s", updated.CurrentStatus)
	}
}

type fakeRepo struct {
	shipment  Shipment
	carrierID string
}

func (f *fakeRepo) Create(ctx context.Context, tx pgx.Tx, s Shipment) (Shipment, error) {
	return s, nil
}

func (f *fakeRepo) GetByID(ctx context.Context, id string) (Shipment, error) {
	if f.shipment.ID == "" {
		return Shipment{}, ErrNotFound
	}
	return f.shipment, nil
}

func (f *fakeRepo) List(ctx context.Context, filters Filters) ([]Shipment, int, error) {
	return []Shipment{f.shipment}, 1, nil
}

func (f *fakeRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Shipment, error) {
	if f.shipment.ID == "" {
		return Shipment{}, ErrNotFound
	}
	return f.shipment, nil
}

func (f *fakeRepo) AcceptedCarrier(ctx context.Context, tx pgx.Tx, shipmentID string) (string, string, error) {
	if f.carrierID == "" {
		return "", "", ErrNoAcceptedBid
	}
	return f.carrierID, "bid-1", nil
}

func (f *fakeRepo) AdvanceDelivery(ctx context.Context, tx pgx.Tx, id string, target DeliveryStatus, pod *PodData) (Shipment, error) {
	s := f.shipment
	s.CurrentStatus = target
	if pod != nil {
		s.PodReference = &pod.Reference
		s.PodNotes = &pod.Notes
		s.PodReceived = true
	}
	return s, nil
}

type fakeNotifier struct {
	sent []notify.Notification
}

func (f *fakeNotifier) Notify(ctx context.Context, tx pgx.Tx, n notify.Notification) error {
	f.sent = append(f.sent, n)
	return nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
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
