package booking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

// mockRepository keeps committed state in maps. WithTx stages writes and
// applies them only when the callback succeeds, so failed conversions leave
// nothing behind.
type mockRepository struct {
	mu sync.Mutex

	quotes      map[uuid.UUID]*Quote
	aggregates  map[uuid.UUID]*AgentAggregate
	bookings    []Booking
	commissions []Commission
	agentDelta  map[uuid.UUID]AgentDelta
	clientDelta map[uuid.UUID]ClientDelta
	activities  []Activity

	// Error injection
	getQuoteError error
	txError       error
	failOn        string
	txCalls       int
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		quotes:      make(map[uuid.UUID]*Quote),
		aggregates:  make(map[uuid.UUID]*AgentAggregate),
		agentDelta:  make(map[uuid.UUID]AgentDelta),
		clientDelta: make(map[uuid.UUID]ClientDelta),
	}
}

func (m *mockRepository) addQuote(q Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[q.ID] = &q
}

func (m *mockRepository) quote(id uuid.UUID) Quote {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.quotes[id]
}

func (m *mockRepository) bookingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bookings)
}

func (m *mockRepository) GetQuote(ctx context.Context, id uuid.UUID) (*Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getQuoteError != nil {
		return nil, m.getQuoteError
	}
	q, ok := m.quotes[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (m *mockRepository) GetAgentAggregate(ctx context.Context, agentID uuid.UUID) (*AgentAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.aggregates[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCalls++
	if m.txError != nil {
		return m.txError
	}
	tx := &mockTxRepo{mock: m, ctx: ctx}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for _, apply := range tx.staged {
		apply()
	}
	return nil
}

type mockTxRepo struct {
	mock   *mockRepository
	ctx    context.Context
	staged []func()
	marked map[uuid.UUID]bool
}

func (t *mockTxRepo) check(op string) error {
	if err := t.ctx.Err(); err != nil {
		return err
	}
	if t.mock.failOn == op {
		return errors.New("injected failure in " + op)
	}
	return nil
}

func (t *mockTxRepo) MarkQuoteConverted(ctx context.Context, quoteID, bookingID uuid.UUID, at time.Time) error {
	if err := t.check("MarkQuoteConverted"); err != nil {
		return err
	}
	q, ok := t.mock.quotes[quoteID]
	if !ok || q.Status != QuoteStatusAccepted || q.ConvertedToBooking || t.marked[quoteID] {
		return ErrStateConflict
	}
	if t.marked == nil {
		t.marked = map[uuid.UUID]bool{}
	}
	t.marked[quoteID] = true
	t.staged = append(t.staged, func() {
		q.Status = QuoteStatusConverted
		q.ConvertedToBooking = true
		id := bookingID
		q.BookingID = &id
		q.UpdatedAt = at
	})
	return nil
}

func (t *mockTxRepo) CreateBooking(ctx context.Context, b Booking) error {
	if err := t.check("CreateBooking"); err != nil {
		return err
	}
	t.staged = append(t.staged, func() { t.mock.bookings = append(t.mock.bookings, b) })
	return nil
}

func (t *mockTxRepo) CreateCommission(ctx context.Context, c Commission) error {
	if err := t.check("CreateCommission"); err != nil {
		return err
	}
	t.staged = append(t.staged, func() { t.mock.commissions = append(t.mock.commissions, c) })
	return nil
}

func (t *mockTxRepo) IncrementAgentAggregate(ctx context.Context, agentID uuid.UUID, d AgentDelta) error {
	if err := t.check("IncrementAgentAggregate"); err != nil {
		return err
	}
	t.staged = append(t.staged, func() {
		cur := t.mock.agentDelta[agentID]
		cur.Sales = cur.Sales.Add(d.Sales)
		cur.Commissions = cur.Commissions.Add(d.Commissions)
		cur.MonthlyBookings += d.MonthlyBookings
		cur.MonthlyRevenue = cur.MonthlyRevenue.Add(d.MonthlyRevenue)
		cur.PendingBalance = cur.PendingBalance.Add(d.PendingBalance)
		cur.At = d.At
		t.mock.agentDelta[agentID] = cur
	})
	return nil
}

func (t *mockTxRepo) IncrementClientAggregate(ctx context.Context, clientID uuid.UUID, d ClientDelta) error {
	if err := t.check("IncrementClientAggregate"); err != nil {
		return err
	}
	t.staged = append(t.staged, func() {
		cur := t.mock.clientDelta[clientID]
		cur.Bookings += d.Bookings
		cur.Spent = cur.Spent.Add(d.Spent)
		cur.BookedAt = d.BookedAt
		cur.TripStartAt = d.TripStartAt
		t.mock.clientDelta[clientID] = cur
	})
	return nil
}

func (t *mockTxRepo) InsertActivity(ctx context.Context, a Activity) error {
	if err := t.check("InsertActivity"); err != nil {
		return err
	}
	t.staged = append(t.staged, func() { t.mock.activities = append(t.mock.activities, a) })
	return nil
}
