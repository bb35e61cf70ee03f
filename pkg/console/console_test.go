package console

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firepwn/firepwn/pkg/backend"
	"github.com/firepwn/firepwn/pkg/backend/memory"
	"github.com/firepwn/firepwn/pkg/config"
	"github.com/firepwn/firepwn/pkg/oplog"
)

func testDescriptor(bucket string) config.Descriptor {
	return config.Descriptor{
		APIKey:        "AIzaSyA-test-key-0123456789",
		AuthDomain:    "demo.firebaseapp.com",
		DatabaseURL:   "https://demo.firebaseio.com",
		ProjectID:     "demo",
		StorageBucket: bucket,
	}
}

// newTestConsole returns an initialized console over a fresh memory backend
// with an empty log.
func newTestConsole(t *testing.T, bucket string, opts ...Option) (*Console, *memory.Backend) {
	t.Helper()

	mem := memory.New()
	c := New(mem, oplog.New(), opts...)
	require.NoError(t, c.Initialize(context.Background(), testDescriptor(bucket)))
	c.Log().Clear()
	t.Cleanup(func() { _ = c.Close() })
	return c, mem
}

func bodies(l *oplog.Log) []string {
	entries := l.Entries()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Body
	}
	return out
}

func lastEntry(t *testing.T, l *oplog.Log) oplog.Entry {
	t.Helper()
	e, ok := l.Last()
	require.True(t, ok, "log is empty")
	return e
}

func countClass(l *oplog.Log, class oplog.Class) int {
	n := 0
	for _, e := range l.Entries() {
		if e.Class == class {
			n++
		}
	}
	return n
}

func TestInitialize_WithoutBucket(t *testing.T) {
	mem := memory.New()
	c := New(mem, nil)

	require.NoError(t, c.Initialize(context.Background(), testDescriptor("   ")))

	state := c.State()
	assert.True(t, state.Initialized)
	assert.False(t, state.HasStorage)
	assert.Equal(t, StateAnonymous, state.Auth)

	entries := c.Log().Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, oplog.ClassInfo, entries[0].Class)
	assert.Equal(t, "Storage service not initialized (no storageBucket provided)", entries[0].Body)
	assert.Equal(t, oplog.ClassSuccess, entries[1].Class)
	assert.Equal(t, "Firebase initialized", entries[1].Body)
	assert.Zero(t, countClass(c.Log(), oplog.ClassError))
}

func TestInitialize_WithBucket(t *testing.T) {
	mem := memory.New()
	c := New(mem, nil)

	require.NoError(t, c.Initialize(context.Background(), testDescriptor("  demo.appspot.com ")))

	state := c.State()
	assert.True(t, state.HasStorage)
	assert.Equal(t, "demo.appspot.com", state.Descriptor.StorageBucket)

	var named []string
	for _, e := range c.Log().Entries() {
		if e.Class == oplog.ClassSuccess && strings.Contains(e.Body, "demo.appspot.com") {
			named = append(named, e.Body)
		}
	}
	assert.Equal(t, []string{"Storage service initialized with bucket: demo.appspot.com"}, named)
}

func TestInitialize_Rejections(t *testing.T) {
	t.Run("no provider", func(t *testing.T) {
		c := New(nil, nil)
		err := c.Initialize(context.Background(), testDescriptor(""))
		assert.ErrorIs(t, err, ErrNoProvider)
		assert.False(t, c.State().Initialized)
		assert.Equal(t, oplog.ClassError, lastEntry(t, c.Log()).Class)
	})

	t.Run("missing fields", func(t *testing.T) {
		c := New(memory.New(), nil)
		d := testDescriptor("")
		d.APIKey = ""
		d.ProjectID = " "

		err := c.Initialize(context.Background(), d)

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.ErrorIs(t, err, config.ErrMissingAPIKey)
		assert.ErrorIs(t, err, config.ErrMissingProjectID)
		assert.Contains(t, lastEntry(t, c.Log()).Body, "apiKey is required")
		assert.False(t, c.State().Initialized)
	})

	t.Run("open failure", func(t *testing.T) {
		mem := memory.New()
		mem.FailOpen(errors.New("dial failed"))
		c := New(mem, nil)

		err := c.Initialize(context.Background(), testDescriptor(""))
		assert.Error(t, err)
		assert.Equal(t, "Error: dial failed", lastEntry(t, c.Log()).Body)
		assert.False(t, c.State().Initialized)
	})

	t.Run("second initialize", func(t *testing.T) {
		c, mem := newTestConsole(t, "")
		err := c.Initialize(context.Background(), testDescriptor("other.appspot.com"))
		assert.ErrorIs(t, err, ErrAlreadyInitialized)
		assert.False(t, c.State().HasStorage)
		assert.Equal(t, 1, mem.Calls("Open"))
	})
}

func TestState_RedactsAPIKey(t *testing.T) {
	c, _ := newTestConsole(t, "")
	key := c.State().Descriptor.APIKey
	assert.NotEqual(t, testDescriptor("").APIKey, key)
	assert.True(t, strings.HasPrefix(key, "AIza"))
	assert.Contains(t, key, "*")
}

func TestOperations_BeforeInitialize(t *testing.T) {
	mem := memory.New()
	c := New(mem, nil)
	ctx := context.Background()

	assert.ErrorIs(t, c.SignIn(ctx, "a@b.c", "secret"), ErrNotInitialized)
	assert.ErrorIs(t, c.Store(ctx, StoreRequest{Collection: "c", Action: StoreGet}), ErrNotInitialized)
	assert.ErrorIs(t, c.Invoke(ctx, "ping()"), ErrNotInitialized)
	assert.ErrorIs(t, c.InvokeHTTP(ctx, HTTPCallRequest{Name: "ping"}), ErrNotInitialized)
	assert.ErrorIs(t, c.Blob(ctx, BlobRequest{Action: BlobList}), ErrNotInitialized)
	assert.ErrorIs(t, c.VerifyChallenge(ctx, "123456"), ErrNotInitialized)

	assert.Equal(t, 6, countClass(c.Log(), oplog.ClassError))
	assert.Zero(t, mem.TotalCalls())
}

func TestLog_ClearEmptiesEntries(t *testing.T) {
	c, _ := newTestConsole(t, "")
	for i := 0; i < 5; i++ {
		c.CancelChallenge()
	}
	require.Equal(t, 5, c.Log().Len())

	c.Log().Clear()
	assert.Empty(t, c.Log().Entries())
}

func TestDispatch_MaxInFlight(t *testing.T) {
	c, mem := newTestConsole(t, "", WithMaxInFlight(1), WithRateLimit(1000, 100))

	var mu sync.Mutex
	running, peak := 0, 0
	mem.RegisterFunction("slow", func(ctx context.Context, data any) (any, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()

		mu.Lock()
		running--
		mu.Unlock()
		return data, nil
	})

	for i := 0; i < 20; i++ {
		require.NoError(t, c.Invoke(context.Background(), "slow(1)"))
	}
	c.Wait()

	assert.Equal(t, 1, peak)
	assert.Equal(t, 20, countClass(c.Log(), oplog.ClassSuccess))
	assert.Equal(t, 20, mem.Calls("Functions.Call"))
}

func TestDispatch_DetachedFromCancellation(t *testing.T) {
	c, mem := newTestConsole(t, "")
	mem.PutDocument("users", "u1", map[string]any{"name": "ada"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, c.Store(ctx, StoreRequest{Collection: "users", Action: StoreGet, DocumentID: "u1"}))
	c.Wait()

	e := lastEntry(t, c.Log())
	assert.Equal(t, oplog.ClassSuccess, e.Class)
	assert.Contains(t, e.Body, `"name": "ada"`)
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.ConsoleConfig{
		MaxInFlight:       4,
		RequestsPerSecond: 10,
		Burst:             2,
		FunctionsRegion:   "europe-west1",
	})

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	assert.Equal(t, int64(4), o.maxInFlight)
	assert.Equal(t, 10.0, o.requestsPerSecond)
	assert.Equal(t, 2, o.burst)
	assert.Equal(t, "europe-west1", o.functionsRegion)
}

func TestSignInMessage(t *testing.T) {
	tests := []struct {
		method backend.SignInMethod
		email  string
		want   string
	}{
		{backend.MethodPassword, "a@b.c", "Logged in (a@b.c)"},
		{backend.MethodPassword, "", "Logged in (unknown)"},
		{backend.MethodSignUp, "a@b.c", "Logged in (a@b.c)"},
		{backend.MethodFederated, "a@b.c", "Logged in via federated sign-in"},
		{backend.MethodMultiFactor, "a@b.c", "Logged in with second factor (a@b.c)"},
	}
	for _, tt := range tests {
		t.Run(string(tt.method)+"/"+tt.email, func(t *testing.T) {
			assert.Equal(t, tt.want, signInMessage(tt.method, backend.Principal{Email: tt.email, UID: "u"}))
		})
	}
}
