// Package offline queues mutations made while the client cannot reach the
// server and replays them when connectivity returns.
package offline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/taskhub/internal/platform/logging"
	"github.com/louisbranch/taskhub/internal/services/notifications/client/localstore"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Action is one request to replay later.
type Action struct {
	URL       string
	Method    string
	Body      []byte
	Timestamp time.Time
}

// PendingStore is the durable backing for a queue.
type PendingStore interface {
	AppendPending(ctx context.Context, collection localstore.Collection, action localstore.PendingAction) (int64, error)
	ListPending(ctx context.Context, collection localstore.Collection) ([]localstore.PendingAction, error)
	DeletePending(ctx context.Context, collection localstore.Collection, actionID int64) error
}

// Doer issues HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RequestDecorator adjusts a replayed request before it is sent, for example
// to attach current credentials.
type RequestDecorator func(req *http.Request)

// Result summarizes one replay pass.
type Result struct {
	Replayed  int
	Remaining int
}

// Queue replays one pending collection.
type Queue struct {
	store      PendingStore
	collection localstore.Collection
	doer       Doer
	decorate   RequestDecorator
	log        logrus.FieldLogger
	clock      func() time.Time

	// replaying serializes passes so a second connectivity event does not
	// resend the same actions while the first pass is in flight.
	replaying sync.Mutex
}

// Option configures a Queue.
type Option func(*Queue)

// WithRequestDecorator installs decorate on every replayed request.
func WithRequestDecorator(decorate RequestDecorator) Option {
	return func(q *Queue) { q.decorate = decorate }
}

// WithLogger sets the queue logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(q *Queue) {
		if log != nil {
			q.log = log
		}
	}
}

// New builds a queue over collection.
func New(store PendingStore, collection localstore.Collection, doer Doer, opts ...Option) *Queue {
	if doer == nil {
		doer = http.DefaultClient
	}
	q := &Queue{
		store:      store,
		collection: collection,
		doer:       doer,
		log:        logging.Discard(),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue stores action durably.
func (q *Queue) Enqueue(ctx context.Context, action Action) error {
	if strings.TrimSpace(action.URL) == "" {
		return fmt.Errorf("action url is required")
	}
	if strings.TrimSpace(action.Method) == "" {
		return fmt.Errorf("action method is required")
	}
	if action.Timestamp.IsZero() {
		action.Timestamp = q.clock()
	}
	_, err := q.store.AppendPending(ctx, q.collection, localstore.PendingAction{
		URL:       action.URL,
		Method:    action.Method,
		Body:      action.Body,
		Timestamp: action.Timestamp,
	})
	return err
}

// Pending returns the queued actions oldest first.
func (q *Queue) Pending(ctx context.Context) ([]Action, error) {
	pending, err := q.store.ListPending(ctx, q.collection)
	if err != nil {
		return nil, err
	}
	actions := make([]Action, 0, len(pending))
	for _, p := range pending {
		actions = append(actions, Action{URL: p.URL, Method: p.Method, Body: p.Body, Timestamp: p.Timestamp})
	}
	return actions, nil
}

// ReplayAll issues every queued action concurrently and removes each one
// only after a 2xx response. Failed actions stay queued for the next pass.
func (q *Queue) ReplayAll(ctx context.Context) (Result, error) {
	q.replaying.Lock()
	defer q.replaying.Unlock()

	pending, err := q.store.ListPending(ctx, q.collection)
	if err != nil {
		return Result{}, fmt.Errorf("list pending actions: %w", err)
	}
	if len(pending) == 0 {
		return Result{}, nil
	}

	var (
		mu       sync.Mutex
		replayed int
		failures []error
	)
	group, groupCtx := errgroup.WithContext(ctx)
	for _, action := range pending {
		group.Go(func() error {
			err := q.replayOne(groupCtx, action)
			if err == nil {
				err = q.store.DeletePending(ctx, q.collection, action.ID)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				q.log.WithError(err).WithFields(logrus.Fields{
					"method": action.Method,
					"url":    action.URL,
				}).Info("offline action still pending")
				failures = append(failures, err)
				return nil
			}
			replayed++
			return nil
		})
	}
	_ = group.Wait()

	return Result{Replayed: replayed, Remaining: len(pending) - replayed}, errors.Join(failures...)
}

func (q *Queue) replayOne(ctx context.Context, action localstore.PendingAction) error {
	var body io.Reader
	if len(action.Body) > 0 {
		body = bytes.NewReader(action.Body)
	}
	req, err := http.NewRequestWithContext(ctx, action.Method, action.URL, body)
	if err != nil {
		return fmt.Errorf("build replay request: %w", err)
	}
	if len(action.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.decorate != nil {
		q.decorate(req)
	}
	resp, err := q.doer.Do(req)
	if err != nil {
		return fmt.Errorf("replay %s %s: %w", action.Method, action.URL, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("replay %s %s: status %d", action.Method, action.URL, resp.StatusCode)
	}
	return nil
}
