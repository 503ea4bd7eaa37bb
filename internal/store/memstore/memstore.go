// Package memstore is an in-memory store.UnitOfWork used by tests and local
// runs without Postgres. Transactions are serialized by a single mutex and
// roll back by restoring a snapshot taken at begin.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ledger-saga/internal/models"
	"ledger-saga/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is an in-memory UnitOfWork
type Store struct {
	mu    sync.Mutex
	state *state

	// CommitHook runs after fn succeeds and before the changes are kept.
	// A non-nil error rolls the transaction back.
	CommitHook func() error
}

var _ store.UnitOfWork = (*Store)(nil)

type outboxEntry struct {
	msg models.OutboxMessage
	seq int64
}

type state struct {
	orders        map[int64]models.Order
	accounts      map[int64]models.Account
	outbox        map[uuid.UUID]outboxEntry
	inbox         map[uuid.UUID]models.InboxMessage
	nextOrderID   int64
	nextAccountID int64
	seq           int64
}

func newState() *state {
	return &state{
		orders:   make(map[int64]models.Order),
		accounts: make(map[int64]models.Account),
		outbox:   make(map[uuid.UUID]outboxEntry),
		inbox:    make(map[uuid.UUID]models.InboxMessage),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.outbox {
		c.outbox[k] = v
	}
	for k, v := range s.inbox {
		c.inbox[k] = v
	}
	c.nextOrderID = s.nextOrderID
	c.nextAccountID = s.nextAccountID
	c.seq = s.seq
	return c
}

// New creates an empty in-memory store
func New() *Store {
	return &Store{state: newState()}
}

// WithinTx runs fn with exclusive access to the store
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	committed := false
	defer func() {
		if !committed {
			s.state = snapshot
		}
	}()

	if err := fn(ctx, &memTx{st: s.state}); err != nil {
		return err
	}

	if s.CommitHook != nil {
		if err := s.CommitHook(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
	}

	committed = true
	return nil
}

// Unpublished returns the outbox rows not yet published, oldest first
func (s *Store) Unpublished() []models.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.unpublished(-1)
}

// InboxSize returns the number of recorded inbound messages
func (s *Store) InboxSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.inbox)
}

func (s *state) unpublished(limit int) []models.OutboxMessage {
	entries := make([]outboxEntry, 0)
	for _, e := range s.outbox {
		if !e.msg.IsPublished {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].msg.CreatedAt.Equal(entries[j].msg.CreatedAt) {
			return entries[i].msg.CreatedAt.Before(entries[j].msg.CreatedAt)
		}
		return entries[i].seq < entries[j].seq
	})
	if limit >= 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	messages := make([]models.OutboxMessage, 0, len(entries))
	for _, e := range entries {
		messages = append(messages, e.msg)
	}
	return messages
}

type memTx struct {
	st *state
}

func (t *memTx) Orders() store.OrderRepository     { return orders{t.st} }
func (t *memTx) Accounts() store.AccountRepository { return accounts{t.st} }
func (t *memTx) Outbox() store.OutboxRepository    { return outbox{t.st} }
func (t *memTx) Inbox() store.InboxRepository      { return inbox{t.st} }

type orders struct{ st *state }

func (r orders) CreateOrder(_ context.Context, order *models.Order) error {
	r.st.nextOrderID++
	order.ID = r.st.nextOrderID
	order.Status = models.OrderStatusNew
	order.CreatedAt = time.Now().UTC()
	r.st.orders[order.ID] = *order
	return nil
}

func (r orders) GetOrderByID(_ context.Context, orderID, userID int64) (*models.Order, error) {
	order, ok := r.st.orders[orderID]
	if !ok || order.UserID != userID {
		return nil, models.ErrOrderNotFound
	}
	return &order, nil
}

func (r orders) ListOrdersByUserID(_ context.Context, userID int64) ([]models.Order, error) {
	list := []models.Order{}
	for _, o := range r.st.orders {
		if o.UserID == userID {
			list = append(list, o)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	return list, nil
}

func (r orders) LockOrder(_ context.Context, orderID int64) (*models.Order, error) {
	order, ok := r.st.orders[orderID]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	return &order, nil
}

func (r orders) UpdateOrderStatus(_ context.Context, orderID int64, status models.OrderStatus) error {
	order, ok := r.st.orders[orderID]
	if !ok || order.Status != models.OrderStatusNew {
		return nil
	}
	order.Status = status
	r.st.orders[orderID] = order
	return nil
}

type accounts struct{ st *state }

func (r accounts) CreateAccount(_ context.Context, userID int64) (*models.Account, error) {
	if _, ok := r.st.accounts[userID]; ok {
		return nil, models.ErrAccountExists
	}
	r.st.nextAccountID++
	account := models.Account{
		ID:        r.st.nextAccountID,
		UserID:    userID,
		Balance:   decimal.Zero,
		CreatedAt: time.Now().UTC(),
	}
	r.st.accounts[userID] = account
	return &account, nil
}

func (r accounts) GetAccountByUserID(_ context.Context, userID int64) (*models.Account, error) {
	account, ok := r.st.accounts[userID]
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	return &account, nil
}

func (r accounts) Deposit(_ context.Context, userID int64, amount decimal.Decimal) (*models.Account, error) {
	account, ok := r.st.accounts[userID]
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	account.Balance = account.Balance.Add(amount)
	r.st.accounts[userID] = account
	return &account, nil
}

func (r accounts) Withdraw(_ context.Context, userID int64, amount decimal.Decimal) (bool, error) {
	account, ok := r.st.accounts[userID]
	if !ok || account.Balance.LessThan(amount) {
		return false, nil
	}
	account.Balance = account.Balance.Sub(amount)
	r.st.accounts[userID] = account
	return true, nil
}

type outbox struct{ st *state }

func (r outbox) AddOutboxMessage(_ context.Context, msg *models.OutboxMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if _, ok := r.st.outbox[msg.ID]; ok {
		return fmt.Errorf("outbox message %s already exists", msg.ID)
	}
	msg.IsPublished = false
	msg.CreatedAt = time.Now().UTC()
	r.st.seq++
	r.st.outbox[msg.ID] = outboxEntry{msg: *msg, seq: r.st.seq}
	return nil
}

func (r outbox) ClaimUnpublished(_ context.Context, limit int) ([]models.OutboxMessage, error) {
	return r.st.unpublished(limit), nil
}

func (r outbox) MarkPublished(_ context.Context, id uuid.UUID) error {
	e, ok := r.st.outbox[id]
	if !ok {
		return nil
	}
	e.msg.IsPublished = true
	r.st.outbox[id] = e
	return nil
}

type inbox struct{ st *state }

func (r inbox) AddInboxMessage(_ context.Context, msg *models.InboxMessage) (bool, error) {
	if _, ok := r.st.inbox[msg.ID]; ok {
		return false, nil
	}
	stored := *msg
	stored.ProcessedAt = time.Now().UTC()
	r.st.inbox[msg.ID] = stored
	return true, nil
}
