// Package memory implements an in-process backend for tests and offline
// rehearsal. It mimics the observable behaviour of the Firebase services the
// console drives: document queries, password and federated sign-in with SMS
// second factors, callable functions, and path-addressed blob storage.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/firepwn/firepwn/pkg/backend"
)

// Backend is the shared state behind every App opened from it.
// Backend is safe for concurrent use.
type Backend struct {
	mu sync.Mutex

	docs       map[string]map[string]map[string]any
	unindexed  map[string]bool
	nextAutoID int

	users       map[string]*user
	idpTokens   map[string]string
	current     *backend.Principal
	observers   map[int]func(backend.AuthEvent)
	nextObs     int
	pending     map[string]string // mfa session -> email
	nextSession int
	verifs      map[string]*verification
	nextVerif   int
	smsCode     string
	sent        []SentCode
	widgets     []*Widget

	functions     map[string]Func
	httpFunctions map[string]HTTPFunc

	objects       map[string]*object
	progressChunk int64

	calls    map[string]int
	failNext map[string]error
	openErr  error
}

// SentCode records one dispatched one-time code.
type SentCode struct {
	PhoneNumber    string
	Code           string
	VerificationID string
}

type user struct {
	uid      string
	email    string
	password string
	factors  []backend.MFAHint
}

type verification struct {
	session string
	code    string
	expired bool
}

// New creates an empty backend.
func New() *Backend {
	return &Backend{
		docs:          make(map[string]map[string]map[string]any),
		unindexed:     make(map[string]bool),
		users:         make(map[string]*user),
		idpTokens:     make(map[string]string),
		observers:     make(map[int]func(backend.AuthEvent)),
		pending:       make(map[string]string),
		verifs:        make(map[string]*verification),
		smsCode:       "123456",
		functions:     make(map[string]Func),
		httpFunctions: make(map[string]HTTPFunc),
		objects:       make(map[string]*object),
		progressChunk: 64 * 1024,
		calls:         make(map[string]int),
		failNext:      make(map[string]error),
	}
}

// Open implements backend.Provider.
func (b *Backend) Open(ctx context.Context, opts backend.Options) (backend.App, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["Open"]++

	if b.openErr != nil {
		return nil, b.openErr
	}
	if opts.ProjectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}
	return &app{b: b, opts: opts}, nil
}

// FailOpen makes every subsequent Open fail with err.
func (b *Backend) FailOpen(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openErr = err
}

// FailNext makes the next call of the named operation (for example
// "Store.Query" or "Auth.SendPhoneChallenge") fail with err.
func (b *Backend) FailNext(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext[op] = err
}

// Calls returns how many times the named operation was invoked.
func (b *Backend) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// TotalCalls returns the number of backend operations invoked, Open excluded.
func (b *Backend) TotalCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for op, c := range b.calls {
		if op != "Open" {
			n += c
		}
	}
	return n
}

// Ops returns the names of invoked operations, sorted.
func (b *Backend) Ops() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	ops := make([]string, 0, len(b.calls))
	for op := range b.calls {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// enter records a call and returns an injected failure, if any.
// b.mu must be held.
func (b *Backend) enter(op string) error {
	b.calls[op]++
	if err, ok := b.failNext[op]; ok {
		delete(b.failNext, op)
		return err
	}
	return nil
}

type app struct {
	b    *Backend
	opts backend.Options
}

func (a *app) Store() backend.Store         { return &store{b: a.b} }
func (a *app) Auth() backend.Auth           { return &auth{b: a.b} }
func (a *app) Functions() backend.Functions { return &functions{b: a.b, opts: a.opts} }

func (a *app) Storage() (backend.Storage, error) {
	if a.opts.StorageBucket == "" {
		return nil, backend.ErrNoBucket
	}
	return &storage{b: a.b, bucket: a.opts.StorageBucket}, nil
}

func (a *app) Close() error { return nil }
