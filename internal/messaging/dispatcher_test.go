package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

type fakeRegistry struct {
	reg *ChannelRegistration
	err error
}

func (f *fakeRegistry) ActiveByTenant(ctx context.Context, tenantID, provider string) (*ChannelRegistration, error) {
	return f.reg, f.err
}

type fakeSender struct {
	lastReq ProviderSend
	id      string
	err     error
}

func (f *fakeSender) Send(ctx context.Context, req ProviderSend) (string, error) {
	f.lastReq = req
	return f.id, f.err
}

func TestDispatcherSend(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	registry := &fakeRegistry{reg: &ChannelRegistration{
		TenantID:          "tenant-1",
		Provider:          ProviderWhatsApp,
		ReceivingAddress:  "15551234567",
		ProviderAccountID: "acct-1",
		AccessToken:       "tok-1",
		Status:            RegistrationActive,
	}}
	sender := &fakeSender{id: "wamid.out.1"}
	store := &Store{pool: mock}

	mock.ExpectQuery("INSERT INTO messages").
		WithArgs(anyArgs(11)...).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(uuid.New()))

	d := NewDispatcher(registry, sender, store, nil).WithTimeout(2 * time.Second)
	res, err := d.Send(context.Background(), SendRequest{
		TenantID:  "tenant-1",
		ToAddress: "whatsapp:+1 (555) 000-1111",
		Content:   "your order shipped",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.ProviderMessageID != "wamid.out.1" {
		t.Fatalf("unexpected provider id %s", res.ProviderMessageID)
	}
	if sender.lastReq.To != "15550001111" {
		t.Fatalf("destination not normalized: %s", sender.lastReq.To)
	}
	if sender.lastReq.AccessToken != "tok-1" || sender.lastReq.AccountID != "acct-1" {
		t.Fatal("registration credentials not threaded to provider send")
	}
}

func TestDispatcherSendNoRegistration(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	d := NewDispatcher(&fakeRegistry{err: ErrNoRegistrationFound}, &fakeSender{}, &Store{pool: mock}, nil)
	_, err = d.Send(context.Background(), SendRequest{
		TenantID:  "tenant-1",
		ToAddress: "+15550001111",
		Content:   "hi",
	})
	if !errors.Is(err, ErrNoRegistrationFound) {
		t.Fatalf("expected ErrNoRegistrationFound, got %v", err)
	}
}

func TestDispatcherSendProviderRejection(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	registry := &fakeRegistry{reg: &ChannelRegistration{ReceivingAddress: "15551234567"}}
	d := NewDispatcher(registry, &fakeSender{err: errors.New("invalid recipient")}, &Store{pool: mock}, nil)
	_, err = d.Send(context.Background(), SendRequest{
		TenantID:  "tenant-1",
		ToAddress: "+15550001111",
		Content:   "hi",
	})
	if !errors.Is(err, ErrSendRejected) {
		t.Fatalf("expected ErrSendRejected, got %v", err)
	}
}

func TestSendRequestValidate(t *testing.T) {
	if err := (SendRequest{ToAddress: "+1555", Content: "x"}).validate(); err == nil {
		t.Fatal("expected missing tenant error")
	}
	if err := (SendRequest{TenantID: "t", Content: "x"}).validate(); err == nil {
		t.Fatal("expected missing destination error")
	}
	if err := (SendRequest{TenantID: "t", ToAddress: "+1555"}).validate(); err == nil {
		t.Fatal("expected missing content error")
	}
}
