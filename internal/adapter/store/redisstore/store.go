// Package redisstore implements the state-store port on Redis.
//
// It is the only package that touches the underlying store. All multi-key
// mutations run as Lua scripts so per-job operations are serialised and
// concurrent claimants never double-assign a job.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-job-broker/internal/domain"
)

// Store implements domain.Store on a Redis client.
type Store struct {
	rdb       redis.Cmdable
	prefix    string
	scanDepth int
	now       func() time.Time

	submit      *redis.Script
	claim       *redis.Script
	progress    *redis.Script
	complete    *redis.Script
	fail        *redis.Script
	release     *redis.Script
	terminal    *redis.Script
	requeue     *redis.Script
	finalizeExt *redis.Script
	svcJobID    *redis.Script
	createWf    *redis.Script
	archiveWkr  *redis.Script
}

// Option customises a Store.
type Option func(*Store)

// WithScanDepth bounds the claim scan. Values below 1 are ignored.
func WithScanDepth(depth int) Option {
	return func(s *Store) {
		if depth >= 1 {
			s.scanDepth = depth
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Store with the given key prefix.
func New(rdb redis.Cmdable, prefix string, opts ...Option) *Store {
	s := &Store{
		rdb:       rdb,
		prefix:    prefix,
		scanDepth: 256,
		now:       time.Now,

		submit:      redis.NewScript(submitScript),
		claim:       redis.NewScript(claimScript),
		progress:    redis.NewScript(progressScript),
		complete:    redis.NewScript(completeScript),
		fail:        redis.NewScript(failScript),
		release:     redis.NewScript(releaseScript),
		terminal:    redis.NewScript(terminalScript),
		requeue:     redis.NewScript(requeueScript),
		finalizeExt: redis.NewScript(finalizeExternalScript),
		svcJobID:    redis.NewScript(serviceJobIDScript),
		createWf:    redis.NewScript(createWorkflowScript),
		archiveWkr:  redis.NewScript(archiveWorkerScript),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) nowMillis() int64 { return s.now().UnixMilli() }

// withRetry runs fn, retrying once on a transient store error as required
// by the concurrency model: at most one retry, then surface ErrTransient.
func (s *Store) withRetry(ctx context.Context, op string, fn func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(50*time.Millisecond), 1), ctx)
	err := backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if isTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
	if err != nil && isTransient(err) {
		return fmt.Errorf("%w: op=%s: %v", domain.ErrTransient, op, err)
	}
	return err
}

// isTransient classifies connection blips and deadline hits as retryable.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, redis.ErrClosed)
}
