// Package console is the operation-dispatch and session-state layer of
// firepwn. A Console owns one backend session, validates free-form requests
// for the store, auth, functions and blob storage subsystems, runs the
// resulting backend calls in the background and reports every outcome into
// an oplog.Log.
//
// Entry points validate synchronously and return a non-nil error only when
// the request was rejected before reaching the backend. Accepted requests
// settle later; Wait blocks until all of them have.
package console

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/firepwn/firepwn/internal/ratelimit"
	"github.com/firepwn/firepwn/internal/tracing"
	"github.com/firepwn/firepwn/pkg/backend"
	"github.com/firepwn/firepwn/pkg/config"
	"github.com/firepwn/firepwn/pkg/observability"
	"github.com/firepwn/firepwn/pkg/oplog"
)

// Subsystem names used for throttling, metrics and spans.
const (
	SubsystemInit      = "init"
	SubsystemAuth      = "auth"
	SubsystemStore     = "store"
	SubsystemFunctions = "functions"
	SubsystemStorage   = "storage"
)

type options struct {
	maxInFlight       int64
	requestsPerSecond float64
	burst             int
	functionsRegion   string
}

// Option configures a Console.
type Option func(*options)

// WithMaxInFlight caps the number of backend calls running at once.
// n <= 0 means unlimited.
func WithMaxInFlight(n int) Option {
	return func(o *options) {
		o.maxInFlight = int64(n)
	}
}

// WithRateLimit throttles backend calls to rps per second with the given
// burst. rps <= 0 disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *options) {
		o.requestsPerSecond = rps
		o.burst = burst
	}
}

// WithFunctionsRegion selects the region functions are invoked in.
func WithFunctionsRegion(region string) Option {
	return func(o *options) {
		o.functionsRegion = region
	}
}

// OptionsFromConfig maps the console section of a config file to options.
func OptionsFromConfig(cfg config.ConsoleConfig) []Option {
	return []Option{
		WithMaxInFlight(cfg.MaxInFlight),
		WithRateLimit(cfg.RequestsPerSecond, cfg.Burst),
		WithFunctionsRegion(cfg.FunctionsRegion),
	}
}

// Session is the single backend session. It is written once by Initialize;
// only principal changes afterwards.
type Session struct {
	initialized bool
	descriptor  config.Descriptor

	app       backend.App
	store     backend.Store
	auth      backend.Auth
	functions backend.Functions
	storage   backend.Storage

	principal *backend.Principal
}

// Console dispatches operations against one backend session.
type Console struct {
	provider backend.Provider
	log      *oplog.Log
	opts     options

	sem     *semaphore.Weighted
	limiter *ratelimit.Limiter
	wg      sync.WaitGroup

	initMu sync.Mutex
	mu     sync.RWMutex
	sess   Session

	unsubscribeAuth func()
	unsubscribeLog  func()

	// authMu guards challenge and widget. flowMu serializes challenge
	// verification flows and may be held across backend calls.
	authMu    sync.Mutex
	flowMu    sync.Mutex
	challenge *mfaChallenge
	widget    backend.ChallengeWidget
	signingIn atomic.Int32
}

// New creates a Console. provider may be nil, in which case Initialize
// reports that no backend is available.
func New(provider backend.Provider, oplogger *oplog.Log, opts ...Option) *Console {
	if oplogger == nil {
		oplogger = oplog.New()
	}

	o := options{functionsRegion: "us-central1"}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Console{
		provider: provider,
		log:      oplogger,
		opts:     o,
		limiter:  ratelimit.New(o.requestsPerSecond, o.burst),
	}
	if o.maxInFlight > 0 {
		c.sem = semaphore.NewWeighted(o.maxInFlight)
	}
	c.unsubscribeLog = oplogger.Subscribe(func(e oplog.Entry) {
		observability.RecordLogEntry(string(e.Class))
	})
	return c
}

// Log returns the operation log.
func (c *Console) Log() *oplog.Log {
	return c.log
}

// Wait blocks until every accepted operation has settled.
func (c *Console) Wait() {
	c.wg.Wait()
}

// Close waits for in-flight operations, detaches the auth observer and
// closes the backend session.
func (c *Console) Close() error {
	c.Wait()

	c.mu.Lock()
	unsubscribe := c.unsubscribeAuth
	c.unsubscribeAuth = nil
	app := c.sess.app
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if c.unsubscribeLog != nil {
		c.unsubscribeLog()
	}

	c.authMu.Lock()
	c.destroyWidget()
	c.authMu.Unlock()

	if app != nil {
		return app.Close()
	}
	return nil
}

// session returns a copy of the session.
func (c *Console) session() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess
}

// reject logs msg as an error entry and returns err. It is used for every
// failure detected before a backend call.
func (c *Console) reject(subsystem, action, msg string, err error) error {
	c.log.Error(msg)
	observability.RecordRejected(subsystem, action)
	return err
}

// invalid rejects the request with a *ValidationError.
func (c *Console) invalid(subsystem, action, msg string) error {
	return c.reject(subsystem, action, msg, &ValidationError{Message: msg})
}

// dispatch runs fn in the background. fn logs its own settlement; its error
// only feeds metrics and tracing. Caller cancellation does not reach fn.
func (c *Console) dispatch(ctx context.Context, subsystem, action string, fn func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		if c.sem != nil {
			if err := c.sem.Acquire(ctx, 1); err != nil {
				c.log.Error("Error: " + err.Error())
				observability.RecordRejected(subsystem, action)
				return
			}
			defer c.sem.Release(1)
		}
		if err := c.limiter.Wait(ctx, subsystem); err != nil {
			c.log.Error("Error: " + err.Error())
			observability.RecordRejected(subsystem, action)
			return
		}

		ctx, span := tracing.StartSpan(ctx, subsystem+"."+action, map[string]any{
			"subsystem": subsystem,
			"action":    action,
		})
		defer span.End()

		observability.OperationStarted()
		defer observability.OperationSettled()

		start := time.Now()
		err := fn(ctx)

		outcome := observability.OutcomeSuccess
		if err != nil {
			outcome = observability.OutcomeError
			span.SetError(err)
		}
		observability.RecordOperation(subsystem, action, outcome, time.Since(start))
	}()
}
