package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/tkempf/paperboy/internal/domain"
)

// --- In-memory publish store ---
//
// memPublishStore mimics the row-lock behaviour of the real store: the first
// caller for a key holds the reservation lock until commit or rollback, and
// concurrent duplicates block on it instead of failing.

type memIssue struct {
	ID       uuid.UUID
	Title    string
	HTMLBody string
	TextBody string
}

type memReservation struct {
	mu   sync.Mutex
	resp *domain.StoredResponse
}

type memPublishStore struct {
	mu          sync.Mutex
	keys        map[string]*memReservation
	subscribers []string
	issues      []memIssue
	tasks       []domain.DeliveryTask

	insertIssueErr error
}

func newMemPublishStore(subscribers ...string) *memPublishStore {
	return &memPublishStore{
		keys:        make(map[string]*memReservation),
		subscribers: subscribers,
	}
}

func (s *memPublishStore) BeginPublish(_ context.Context, actorID uuid.UUID, key string) (domain.PublishTx, *domain.StoredResponse, error) {
	fullKey := actorID.String() + "/" + key

	for {
		s.mu.Lock()
		res, ok := s.keys[fullKey]
		if !ok {
			res = &memReservation{}
			s.keys[fullKey] = res
		}
		s.mu.Unlock()

		// Blocks while another caller holds an open transaction for this key.
		res.mu.Lock()

		// A rollback removes the reservation while duplicates are still
		// blocked on it; like the real store's vanished row, they must start
		// over on a fresh reservation instead of holding the orphan.
		s.mu.Lock()
		current := s.keys[fullKey]
		s.mu.Unlock()
		if current != res {
			res.mu.Unlock()
			continue
		}

		if res.resp != nil {
			resp := *res.resp
			res.mu.Unlock()
			return nil, &resp, nil
		}

		return &memPublishTx{store: s, res: res, key: fullKey}, nil, nil
	}
}

type memPublishTx struct {
	store *memPublishStore
	res   *memReservation
	key   string

	stagedIssue *memIssue
	stagedTasks []domain.DeliveryTask
	stagedResp  *domain.StoredResponse
	resolved    bool
}

func (tx *memPublishTx) InsertIssue(_ context.Context, title, htmlBody, textBody string) (uuid.UUID, error) {
	if err := tx.store.insertIssueErr; err != nil {
		return uuid.Nil, err
	}
	tx.stagedIssue = &memIssue{ID: uuid.New(), Title: title, HTMLBody: htmlBody, TextBody: textBody}
	return tx.stagedIssue.ID, nil
}

func (tx *memPublishTx) EnqueueDeliveries(_ context.Context, issueID uuid.UUID) (int, error) {
	tx.stagedTasks = nil
	for _, email := range tx.store.subscribers {
		tx.stagedTasks = append(tx.stagedTasks, domain.DeliveryTask{
			IssueID:         issueID,
			SubscriberEmail: email,
			Title:           tx.stagedIssue.Title,
			HTMLBody:        tx.stagedIssue.HTMLBody,
			TextBody:        tx.stagedIssue.TextBody,
		})
	}
	return len(tx.stagedTasks), nil
}

func (tx *memPublishTx) Complete(_ context.Context, resp domain.StoredResponse) error {
	tx.stagedResp = &resp
	return nil
}

func (tx *memPublishTx) Commit(_ context.Context) error {
	if tx.resolved {
		return fmt.Errorf("transaction already resolved")
	}
	tx.resolved = true

	tx.store.mu.Lock()
	if tx.stagedIssue != nil {
		tx.store.issues = append(tx.store.issues, *tx.stagedIssue)
	}
	tx.store.tasks = append(tx.store.tasks, tx.stagedTasks...)
	tx.store.mu.Unlock()

	tx.res.resp = tx.stagedResp
	tx.res.mu.Unlock()
	return nil
}

func (tx *memPublishTx) Rollback(_ context.Context) error {
	if tx.resolved {
		return nil
	}
	tx.resolved = true

	// The reservation vanishes with the transaction.
	tx.store.mu.Lock()
	delete(tx.store.keys, tx.key)
	tx.store.mu.Unlock()

	tx.res.mu.Unlock()
	return nil
}

func (s *memPublishStore) issueCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.issues)
}

func (s *memPublishStore) taskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *memPublishStore) reservationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// --- In-memory delivery queue ---

type queueEntry struct {
	task        domain.DeliveryTask
	nextAttempt time.Time
	claimed     bool
}

type memQueue struct {
	mu      sync.Mutex
	entries []*queueEntry
	clock   clockwork.Clock
}

func newMemQueue(clock clockwork.Clock, tasks ...domain.DeliveryTask) *memQueue {
	q := &memQueue{clock: clock}
	for _, t := range tasks {
		q.entries = append(q.entries, &queueEntry{task: t, nextAttempt: clock.Now()})
	}
	return q
}

func (q *memQueue) ClaimOne(_ context.Context) (domain.TaskClaim, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	for _, e := range q.entries {
		if e.claimed || e.nextAttempt.After(now) {
			continue
		}
		e.claimed = true
		return &memClaim{queue: q, entry: e}, nil
	}
	return nil, domain.ErrQueueEmpty
}

func (q *memQueue) remove(entry *queueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e == entry {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

func (q *memQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *memQueue) entryFor(email string) *queueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.task.SubscriberEmail == email {
			return e
		}
	}
	return nil
}

type memClaim struct {
	queue    *memQueue
	entry    *queueEntry
	resolved bool
}

func (c *memClaim) Task() domain.DeliveryTask { return c.entry.task }

func (c *memClaim) Succeed(context.Context) error {
	if c.resolved {
		return nil
	}
	c.resolved = true
	c.queue.remove(c.entry)
	return nil
}

func (c *memClaim) Requeue(_ context.Context, nextAttempt time.Time) error {
	if c.resolved {
		return nil
	}
	c.resolved = true
	c.queue.mu.Lock()
	c.entry.task.RetryCount++
	c.entry.nextAttempt = nextAttempt
	c.entry.claimed = false
	c.queue.mu.Unlock()
	return nil
}

func (c *memClaim) Drop(context.Context) error {
	if c.resolved {
		return nil
	}
	c.resolved = true
	c.queue.remove(c.entry)
	return nil
}

func (c *memClaim) Release(context.Context) error {
	if c.resolved {
		return nil
	}
	c.resolved = true
	c.queue.mu.Lock()
	c.entry.claimed = false
	c.queue.mu.Unlock()
	return nil
}

// --- Fake email sender ---

type fakeSender struct {
	mu     sync.Mutex
	sendFn func(ctx context.Context, msg domain.EmailMessage) error
	sent   []domain.EmailMessage
	calls  int
}

func (s *fakeSender) Send(ctx context.Context, msg domain.EmailMessage) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.sendFn != nil {
		if err := s.sendFn(ctx, msg); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()
	return nil
}

func (s *fakeSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *fakeSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// --- Fake subscriber store ---

type fakeSubscriberStore struct {
	insertFn  func(ctx context.Context, email string) (uuid.UUID, error)
	confirmFn func(ctx context.Context, token uuid.UUID) error
	inserted  []string
}

func (s *fakeSubscriberStore) Insert(ctx context.Context, email string) (uuid.UUID, error) {
	if s.insertFn != nil {
		token, err := s.insertFn(ctx, email)
		if err != nil {
			return uuid.Nil, err
		}
		s.inserted = append(s.inserted, email)
		return token, nil
	}
	s.inserted = append(s.inserted, email)
	return uuid.New(), nil
}

func (s *fakeSubscriberStore) ConfirmByToken(ctx context.Context, token uuid.UUID) error {
	if s.confirmFn != nil {
		return s.confirmFn(ctx, token)
	}
	return nil
}
