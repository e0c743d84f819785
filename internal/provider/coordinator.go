// Package provider implements a local randomness coordinator.
//
// Architecture: Request-Callback Pattern
//  1. The raffle engine calls RequestRandomWords and receives a request
//     identifier synchronously
//  2. The fulfiller worker picks the request up, waits out the simulated
//     confirmation delay and derives the random words
//  3. The consumer's Fulfill callback is invoked with the identifier and
//     the words; failed deliveries are retried with backoff
package provider

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/raffle_layer/internal/raffle"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

// RequestStatus is the lifecycle state of a randomness request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusFulfilled RequestStatus = "fulfilled"
	StatusFailed    RequestStatus = "failed"
)

// ErrUnknownRequest is returned when a request identifier is not
// recognized by the coordinator.
var ErrUnknownRequest = errors.New("unknown request")

// Request tracks one randomness request from issuance to delivery.
type Request struct {
	RequestID   string                   `json:"request_id"`
	Config      raffle.RandomnessRequest `json:"config"`
	Status      RequestStatus            `json:"status"`
	Attempts    int                      `json:"attempts"`
	Error       string                   `json:"error,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
	FulfilledAt time.Time                `json:"fulfilled_at,omitempty"`
}

// Options configures a coordinator.
type Options struct {
	// Delay approximates the confirmation wait before fulfillment.
	Delay time.Duration
	// MaxAttempts bounds delivery retries when the consumer rejects the
	// callback (e.g. payout failure on the raffle side).
	MaxAttempts int
	// Backoff is the wait between delivery attempts.
	Backoff time.Duration
}

type pendingRequest struct {
	req      *Request
	consumer raffle.RandomnessConsumer
	words    []*big.Int
}

// Coordinator issues request identifiers and delivers random words to
// consumers asynchronously. One coordinator can serve several raffle
// instances; the request identifier is the sole correlation token.
type Coordinator struct {
	mu       sync.RWMutex
	log      *logger.Logger
	opts     Options
	requests map[string]*pendingRequest
	pending  chan *pendingRequest
}

// NewCoordinator creates a coordinator. Run must be started for
// fulfillments to be delivered.
func NewCoordinator(log *logger.Logger, opts Options) *Coordinator {
	if log == nil {
		log = logger.NewDefault("coordinator")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 2 * time.Second
	}
	return &Coordinator{
		log:      log,
		opts:     opts,
		requests: make(map[string]*pendingRequest),
		pending:  make(chan *pendingRequest, 100),
	}
}

// RequestRandomWords registers a randomness request and returns its
// identifier. The words are derived immediately from fresh entropy and
// held until delivery, so a retried delivery carries the same words.
func (c *Coordinator) RequestRandomWords(ctx context.Context, consumer raffle.RandomnessConsumer, req raffle.RandomnessRequest) (string, error) {
	if consumer == nil {
		return "", fmt.Errorf("consumer is required")
	}
	if req.NumWords == 0 {
		return "", fmt.Errorf("num words must be positive")
	}

	words, err := deriveWords(int(req.NumWords))
	if err != nil {
		return "", fmt.Errorf("derive random words: %w", err)
	}

	p := &pendingRequest{
		req: &Request{
			RequestID: uuid.NewString(),
			Config:    req,
			Status:    StatusPending,
			CreatedAt: time.Now().UTC(),
		},
		consumer: consumer,
		words:    words,
	}

	c.mu.Lock()
	c.requests[p.req.RequestID] = p
	c.mu.Unlock()

	select {
	case c.pending <- p:
	default:
		c.mu.Lock()
		delete(c.requests, p.req.RequestID)
		c.mu.Unlock()
		return "", fmt.Errorf("request queue full")
	}

	c.log.WithField("request_id", p.req.RequestID).
		WithField("num_words", req.NumWords).
		Info("randomness requested")

	return p.req.RequestID, nil
}

// Run processes pending requests until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-c.pending:
			c.fulfill(ctx, p)
		}
	}
}

// GetRequest returns the tracked state of a request.
func (c *Coordinator) GetRequest(requestID string) (Request, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.requests[requestID]
	if !ok {
		return Request{}, fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	return *p.req, nil
}

// fulfill waits out the confirmation delay and delivers the words,
// retrying rejected deliveries with backoff.
func (c *Coordinator) fulfill(ctx context.Context, p *pendingRequest) {
	if c.opts.Delay > 0 {
		if !sleepCtx(ctx, c.opts.Delay) {
			return
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		c.mu.Lock()
		p.req.Attempts = attempt
		c.mu.Unlock()

		err := p.consumer.Fulfill(ctx, p.req.RequestID, p.words)
		if err == nil {
			c.mu.Lock()
			p.req.Status = StatusFulfilled
			p.req.Error = ""
			p.req.FulfilledAt = time.Now().UTC()
			c.mu.Unlock()

			c.log.WithField("request_id", p.req.RequestID).
				WithField("attempts", attempt).
				Info("request fulfilled")
			return
		}

		lastErr = err
		c.log.WithError(err).
			WithField("request_id", p.req.RequestID).
			WithField("attempt", attempt).
			Warn("fulfillment delivery rejected")

		if attempt < c.opts.MaxAttempts {
			if !sleepCtx(ctx, c.opts.Backoff) {
				return
			}
		}
	}

	c.mu.Lock()
	p.req.Status = StatusFailed
	p.req.Error = lastErr.Error()
	c.mu.Unlock()

	c.log.WithField("request_id", p.req.RequestID).
		WithField("attempts", c.opts.MaxAttempts).
		Error("request delivery failed")
}

// deriveWords produces numWords random words from fresh entropy.
// Word i is SHA-256(seed || i) interpreted as a big integer.
func deriveWords(numWords int) ([]*big.Int, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}

	words := make([]*big.Int, numWords)
	for i := 0; i < numWords; i++ {
		input := make([]byte, 0, len(seed)+1)
		input = append(input, seed...)
		input = append(input, byte(i))
		hash := sha256.Sum256(input)
		words[i] = new(big.Int).SetBytes(hash[:])
	}
	return words, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
