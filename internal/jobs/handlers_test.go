package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/openbuilders/pix-bridge/internal/notifier"
	"github.com/openbuilders/pix-bridge/internal/repository"
	"github.com/openbuilders/pix-bridge/internal/repository/memory"
	"github.com/openbuilders/pix-bridge/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatStub struct {
	mu      sync.Mutex
	nextID  int64
	sent    []string
	deleted []int64
	sendErr error
}

func (c *chatStub) SendMessage(_ context.Context, _ int64, text string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendErr != nil {
		return 0, c.sendErr
	}

	c.nextID++
	c.sent = append(c.sent, text)
	return 1000 + c.nextID, nil
}

func (c *chatStub) DeleteMessage(_ context.Context, _, messageID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deleted = append(c.deleted, messageID)
	return nil
}

type schedulerStub struct {
	mu        sync.Mutex
	cancelled []string
	scheduled []string
}

func (s *schedulerStub) Cancel(_ context.Context, kind types.JobKind, entryID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelled = append(s.cancelled, types.JobID(kind, entryID))
	return true, nil
}

func (s *schedulerStub) Schedule(_ context.Context, kind types.JobKind, entryID string,
	_ types.JobPayload, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scheduled = append(s.scheduled, types.JobID(kind, entryID))
	return nil
}

// conflictingStore finalizes the transaction right before the reminder
// message gets stored.
type conflictingStore struct {
	*memory.Store
}

func (c conflictingStore) SetReminderMessage(ctx context.Context, entryID string, _ int64) error {
	_, err := c.CompareAndTransition(ctx, entryID, types.StatusPending, types.StatusPaid,
		repository.TransitionFields{})
	if err != nil {
		return err
	}
	return repository.ErrConflict
}

type fixture struct {
	store    *memory.Store
	chat     *chatStub
	sched    *schedulerStub
	handlers *Handlers
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store: memory.New(),
		chat:  &chatStub{},
		sched: &schedulerStub{},
	}

	n := notifier.New(&notifier.Config{
		FollowUpDelay: 10 * time.Second,
		ChatTimeout:   time.Second,
	}, f.chat, f.sched)
	f.handlers = New(f.store, n, f.sched)

	return f
}

func (f *fixture) pending(t *testing.T, entryID string) *types.Transaction {
	t.Helper()

	qr := int64(10)
	tx := &types.Transaction{
		ID:                   uuid.New(),
		OwnerID:              42,
		RequestedAmount:      decimal.NewFromInt(50),
		ExpectedPayoutAmount: decimal.RequireFromString("49.2"),
		ExternalEntryID:      entryID,
		Status:               types.StatusPending,
		QRMessageID:          &qr,
	}
	require.NoError(t, f.store.Create(context.Background(), tx))

	return tx
}

func jobFor(kind types.JobKind, entryID string) types.Job {
	return types.Job{
		ID:   types.JobID(kind, entryID),
		Kind: kind,
		Payload: types.JobPayload{
			OwnerID:         42,
			ExternalEntryID: entryID,
			Amount:          decimal.NewFromInt(50),
		},
	}
}

func TestExpiration_PendingTransaction(t *testing.T) {
	f := newFixture(t)
	f.pending(t, "t2")

	err := f.handlers.Expiration(context.Background(), jobFor(types.JobExpiration, "t2"))
	require.NoError(t, err)

	tx, err := f.store.GetByExternalEntryID(context.Background(), "t2")
	require.NoError(t, err)
	assert.Equal(t, types.StatusExpired, tx.Status)
	assert.Nil(t, tx.QRMessageID)

	assert.Equal(t, []int64{10}, f.chat.deleted)
	require.Len(t, f.chat.sent, 1)
	assert.Contains(t, f.chat.sent[0], "expired")
	assert.Contains(t, f.sched.cancelled, "reminder:t2")
	assert.Empty(t, f.sched.scheduled)
}

func TestExpiration_AfterPaid(t *testing.T) {
	f := newFixture(t)
	f.pending(t, "t1")

	_, err := f.store.CompareAndTransition(context.Background(), "t1",
		types.StatusPending, types.StatusPaid,
		repository.TransitionFields{SettlementReference: "0xdeadbeef"})
	require.NoError(t, err)

	err = f.handlers.Expiration(context.Background(), jobFor(types.JobExpiration, "t1"))
	require.NoError(t, err)

	tx, err := f.store.GetByExternalEntryID(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPaid, tx.Status)
	assert.Empty(t, f.chat.deleted)
	assert.Empty(t, f.chat.sent)
}

func TestExpiration_UnknownTransaction(t *testing.T) {
	f := newFixture(t)

	err := f.handlers.Expiration(context.Background(), jobFor(types.JobExpiration, "ghost"))
	assert.NoError(t, err)
	assert.Empty(t, f.chat.sent)
}

func TestReminder_PendingTransaction(t *testing.T) {
	f := newFixture(t)
	f.pending(t, "t3")

	require.NoError(t, f.handlers.Reminder(context.Background(),
		jobFor(types.JobReminder, "t3")))

	tx, err := f.store.GetByExternalEntryID(context.Background(), "t3")
	require.NoError(t, err)
	require.NotNil(t, tx.ReminderMessageID)
	assert.Equal(t, int64(1001), *tx.ReminderMessageID)
	require.Len(t, f.chat.sent, 1)
	assert.Contains(t, f.chat.sent[0], "50.00")

	// a redelivered reminder is not sent twice
	require.NoError(t, f.handlers.Reminder(context.Background(),
		jobFor(types.JobReminder, "t3")))
	assert.Len(t, f.chat.sent, 1)

	// and the reminder is removed together with the QR code
	require.NoError(t, f.handlers.Expiration(context.Background(),
		jobFor(types.JobExpiration, "t3")))
	assert.ElementsMatch(t, []int64{10, 1001}, f.chat.deleted)
}

func TestReminder_FinalizedTransaction(t *testing.T) {
	f := newFixture(t)
	f.pending(t, "t4")

	_, err := f.store.CompareAndTransition(context.Background(), "t4",
		types.StatusPending, types.StatusFailed, repository.TransitionFields{})
	require.NoError(t, err)

	require.NoError(t, f.handlers.Reminder(context.Background(),
		jobFor(types.JobReminder, "t4")))
	assert.Empty(t, f.chat.sent)
}

func TestReminder_FinalizedWhileSending(t *testing.T) {
	f := newFixture(t)
	f.pending(t, "t5")

	n := notifier.New(&notifier.Config{ChatTimeout: time.Second}, f.chat, f.sched)
	h := New(conflictingStore{f.store}, n, f.sched)

	require.NoError(t, h.Reminder(context.Background(), jobFor(types.JobReminder, "t5")))

	require.Len(t, f.chat.sent, 1)
	assert.Equal(t, []int64{1001}, f.chat.deleted)
}

func TestReminder_SendFailureIsRetried(t *testing.T) {
	f := newFixture(t)
	f.pending(t, "t6")
	f.chat.sendErr = errors.New("telegram is down")

	err := f.handlers.Reminder(context.Background(), jobFor(types.JobReminder, "t6"))
	assert.Error(t, err)
}

func TestFollowUp(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.handlers.FollowUp(context.Background(),
		jobFor(types.JobFollowUp, "t7")))
	require.Len(t, f.chat.sent, 1)
	assert.Contains(t, f.chat.sent[0], "support")
}
