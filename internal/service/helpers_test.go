package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shinyyama/flora-backend/internal/event"
	"github.com/shinyyama/flora-backend/internal/lock"
	"github.com/shinyyama/flora-backend/internal/model"
	"github.com/shinyyama/flora-backend/internal/payment"
	"github.com/shinyyama/flora-backend/internal/repository"
	"github.com/shinyyama/flora-backend/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeProvider struct {
	mu          sync.Mutex
	next        int
	createErr   error
	afterCreate func()
	statusErrs  int
	states      map[string][]payment.State
	sessions    map[string]payment.SessionStatus
	createCalls int
	statusCalls int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		states:   make(map[string][]payment.State),
		sessions: make(map[string]payment.SessionStatus),
	}
}

func (p *fakeProvider) CreateSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	p.mu.Lock()
	p.createCalls++
	if p.createErr != nil {
		p.mu.Unlock()
		return nil, p.createErr
	}
	p.next++
	ref := fmt.Sprintf("track-%d", p.next)
	p.states[ref] = []payment.State{payment.StatePending}
	p.sessions[ref] = payment.SessionStatus{
		MerchantReference: req.MerchantReference,
		Amount:            req.Amount,
		Currency:          req.Currency,
	}
	hook := p.afterCreate
	p.mu.Unlock()

	if hook != nil {
		hook()
	}
	return &payment.Session{ProviderReference: ref, RedirectURL: "https://pay.example/" + ref}, nil
}

// register makes ref known to the provider as a session for pi, as if it was
// created outside this service.
func (p *fakeProvider) register(ref string, pi *model.PaymentIntent, states ...payment.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[ref] = payment.SessionStatus{
		MerchantReference: pi.MerchantReference,
		Amount:            pi.Amount,
		Currency:          pi.Currency,
	}
	p.states[ref] = states
}

// settle overrides what the provider reports as collected for ref.
func (p *fakeProvider) settle(ref string, amount decimal.Decimal, currency string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sess := p.sessions[ref]
	sess.Amount = amount
	sess.Currency = currency
	p.sessions[ref] = sess
}

func (p *fakeProvider) GetSessionStatus(_ context.Context, ref string) (*payment.SessionStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusCalls++
	if p.statusErrs > 0 {
		p.statusErrs--
		return nil, errors.New("connection reset by peer")
	}
	script, ok := p.states[ref]
	if !ok || len(script) == 0 {
		return nil, payment.ErrUnknownReference
	}
	st := script[0]
	if len(script) > 1 {
		p.states[ref] = script[1:]
	}
	sess := p.sessions[ref]
	sess.State = st
	sess.Description = string(st)
	return &sess, nil
}

// set scripts the answers for ref; the last one repeats.
func (p *fakeProvider) set(ref string, states ...payment.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[ref] = states
}

func (p *fakeProvider) calls() (create, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.createCalls, p.statusCalls
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count(typ string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// nopLocker grants every lock immediately, leaving only the store's
// conditional updates to arbitrate.
type nopLocker struct{}

func (nopLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }

type fixture struct {
	db       *gorm.DB
	orders   repository.OrderRepository
	intents  repository.PaymentIntentRepository
	flowers  repository.FlowerRepository
	provider *fakeProvider
	events   *recordingPublisher

	notify   NotificationService
	orderSvc OrderService
	payments PaymentService
	messages MessageService

	rose, lily, orchid *model.Flower
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithLocker(t, lock.NewKeyedMutex())
}

func newFixtureWithLocker(t *testing.T, locker lock.Locker) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	log := zap.NewNop()

	f := &fixture{
		db:       db,
		orders:   repository.NewOrderRepository(db),
		intents:  repository.NewPaymentIntentRepository(db),
		flowers:  repository.NewFlowerRepository(db),
		provider: newFakeProvider(),
		events:   &recordingPublisher{},
	}
	f.notify = NewNotificationService(repository.NewNotificationRepository(db), log)
	f.orderSvc = NewOrderService(f.orders, NewFlowerCatalog(f.flowers), f.notify, f.events, log)
	f.payments = NewPaymentService(f.orders, f.intents, f.provider, locker, PaymentOptions{Currency: "KES"}, f.notify, f.events, log)
	f.messages = NewMessageService(f.orders, repository.NewMessageRepository(db), f.notify, f.events, log)

	ctx := context.Background()
	f.rose = &model.Flower{Name: "Rose", Price: decimal.NewFromInt(500), FloristUID: "seller-a"}
	f.lily = &model.Flower{Name: "Lily", Price: decimal.NewFromInt(300), FloristUID: "seller-b"}
	f.orchid = &model.Flower{Name: "Orchid", Price: decimal.NewFromInt(900), FloristUID: "seller-a", StockStatus: model.StockStatusOutOfStock}
	for _, fl := range []*model.Flower{f.rose, f.lily, f.orchid} {
		require.NoError(t, f.flowers.Create(ctx, fl))
	}
	return f
}

func (f *fixture) input(lines ...CartLine) CreateOrderInput {
	return CreateOrderInput{
		BuyerUID:        "buyer-1",
		DeliveryAddress: "12 Moi Avenue, Nairobi",
		BuyerContact:    "+254700000000",
		Items:           lines,
	}
}

// createOrder places the rose x2 + lily x1 order worth 1300.
func (f *fixture) createOrder(t *testing.T) *model.Order {
	t.Helper()
	o, err := f.orderSvc.CreateOrder(context.Background(), f.input(
		CartLine{FlowerID: f.rose.ID, Quantity: 2},
		CartLine{FlowerID: f.lily.ID, Quantity: 1},
	))
	require.NoError(t, err)
	return o
}

func (f *fixture) countRows(t *testing.T, m interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(m).Count(&n).Error)
	return n
}

func (f *fixture) notificationsFor(t *testing.T, uid, typ string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&model.Notification{}).
		Where("user_uid = ? AND type = ?", uid, typ).
		Count(&n).Error)
	return n
}

func (f *fixture) reloadOrder(t *testing.T, id uint64) *model.Order {
	t.Helper()
	o, err := f.orders.FindByID(context.Background(), id)
	require.NoError(t, err)
	return o
}
