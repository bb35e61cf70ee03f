package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/firepwn/firepwn/pkg/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

func newTestSession(t *testing.T, handler http.Handler) *session {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &Config{
		HTTPClient:         srv.Client(),
		IdentityToolkitURL: srv.URL,
		SecureTokenURL:     srv.URL,
		StorageURL:         srv.URL,
		FunctionsURL:       srv.URL,
		ChallengeTokens: func(context.Context, string) (string, error) {
			return "captcha-ok", nil
		},
	}
	return &session{cfg: cfg, apiKey: "key", observers: make(map[int]func(backend.AuthEvent))}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestAuth_SignInWithPassword(t *testing.T) {
	s := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts:signInWithPassword", r.URL.Path)
		assert.Equal(t, "key", r.URL.Query().Get("key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "secret" {
			writeJSON(w, 400, map[string]any{"error": map[string]any{"code": 400, "message": "INVALID_PASSWORD"}})
			return
		}
		writeJSON(w, 200, map[string]any{
			"idToken": "id-1", "refreshToken": "r-1", "expiresIn": "3600",
			"localId": "uid-1", "email": "a@x.io",
		})
	}))
	a := &auth{s: s}

	var events []backend.AuthEvent
	a.OnAuthStateChanged(func(ev backend.AuthEvent) { events = append(events, ev) })

	_, err := a.SignInWithPassword(context.Background(), "a@x.io", "nope")
	require.Error(t, err)
	assert.Equal(t, backend.CodeWrongPassword, backend.CodeOf(err))
	assert.Equal(t, "Firebase: Error (auth/wrong-password).", err.Error())

	res, err := a.SignInWithPassword(context.Background(), "a@x.io", "secret")
	require.NoError(t, err)
	assert.Equal(t, backend.Principal{Email: "a@x.io", UID: "uid-1"}, res.Principal)

	tok, err := s.idToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "id-1", tok)

	require.NoError(t, a.SignOut(context.Background()))
	require.Len(t, events, 3)
	assert.Nil(t, events[0].Principal)
	assert.Equal(t, "a@x.io", events[1].Principal.Email)
	assert.Nil(t, events[2].Principal)
}

func TestAuth_MultiFactorFlow(t *testing.T) {
	s := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		switch r.URL.Path {
		case "/v1/accounts:signInWithPassword":
			writeJSON(w, 200, map[string]any{
				"mfaPendingCredential": "pending-1",
				"mfaInfo": []any{map[string]any{
					"mfaEnrollmentId": "enr-1",
					"displayName":     "work",
					"phoneInfo":       "+1555***01",
					"enrolledAt":      "2024-01-01T00:00:00Z",
				}},
			})
		case "/v2/accounts/mfaSignIn:start":
			assert.Equal(t, "pending-1", body["mfaPendingCredential"])
			assert.Equal(t, "enr-1", body["mfaEnrollmentId"])
			assert.Equal(t, map[string]any{"recaptchaToken": "captcha-ok"}, body["phoneSignInInfo"])
			writeJSON(w, 200, map[string]any{"phoneResponseInfo": map[string]any{"sessionInfo": "vid-1"}})
		case "/v2/accounts/mfaSignIn:finalize":
			info := body["phoneVerificationInfo"].(map[string]any)
			if info["code"] != "123456" {
				writeJSON(w, 400, map[string]any{"error": map[string]any{"message": "INVALID_CODE"}})
				return
			}
			writeJSON(w, 200, map[string]any{"idToken": "id-2", "refreshToken": "r-2", "expiresIn": "3600"})
		case "/v1/accounts:lookup":
			writeJSON(w, 200, map[string]any{"users": []any{map[string]any{"localId": "uid-2", "email": "m@x.io"}}})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	a := &auth{s: s}
	ctx := context.Background()

	_, err := a.SignInWithPassword(ctx, "m@x.io", "pw")
	var mfa *backend.MFARequiredError
	require.ErrorAs(t, err, &mfa)
	require.Len(t, mfa.Resolver.Hints, 1)
	hint := mfa.Resolver.Hints[0]
	assert.Equal(t, backend.FactorPhone, hint.FactorID)
	assert.Equal(t, "+1555***01", hint.PhoneNumber)
	assert.Equal(t, 2024, hint.EnrolledAt.Year())

	w, err := a.NewChallengeWidget("mfa-recaptcha")
	require.NoError(t, err)
	vid, err := a.SendPhoneChallenge(ctx, mfa.Resolver, hint, w)
	require.NoError(t, err)
	assert.Equal(t, "vid-1", vid)

	_, err = a.ResolveSignIn(ctx, mfa.Resolver, vid, "000000")
	assert.Equal(t, backend.CodeInvalidCode, backend.CodeOf(err))

	res, err := a.ResolveSignIn(ctx, mfa.Resolver, vid, "123456")
	require.NoError(t, err)
	assert.Equal(t, backend.MethodMultiFactor, res.Method)
	assert.Equal(t, "m@x.io", res.Principal.Email)
	assert.Equal(t, "uid-2", res.Principal.UID)

	w.Clear()
	_, err = a.SendPhoneChallenge(ctx, mfa.Resolver, hint, w)
	assert.Error(t, err)
}

func TestIdentityError(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"INVALID_CODE", backend.CodeInvalidCode},
		{"SESSION_EXPIRED", backend.CodeCodeExpired},
		{"EMAIL_EXISTS", backend.CodeEmailExists},
		{"TOO_MANY_ATTEMPTS_TRY_LATER : Try again later.", "auth/too-many-requests"},
		{"SOMETHING_NEW", "auth/something-new"},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			body, _ := json.Marshal(map[string]any{"error": map[string]any{"message": tt.message}})
			err := identityError(400, body)
			assert.Equal(t, tt.want, backend.CodeOf(err))
		})
	}
}

func TestSession_RefreshesExpiredToken(t *testing.T) {
	s := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "r-old", r.PostForm.Get("refresh_token"))
		writeJSON(w, 200, map[string]any{"id_token": "id-new", "refresh_token": "r-new", "expires_in": "3600"})
	}))
	s.token = &oauth2.Token{AccessToken: "id-old", RefreshToken: "r-old", Expiry: time.Now().Add(-time.Hour)}

	tok, err := s.idToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "id-new", tok)
	assert.Equal(t, "r-new", s.token.RefreshToken)
}

func TestFunctions_Call(t *testing.T) {
	s := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/demo/us-central1/echo":
			assert.Equal(t, "Bearer id-1", r.Header.Get("Authorization"))
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			writeJSON(w, 200, map[string]any{"result": body["data"]})
		case "/demo/us-central1/denied":
			writeJSON(w, 403, map[string]any{"error": map[string]any{"status": "PERMISSION_DENIED", "message": "nope"}})
		default:
			http.NotFound(w, r)
		}
	}))
	s.token = &oauth2.Token{AccessToken: "id-1", Expiry: time.Now().Add(time.Hour)}
	f := &functions{s: s, projectID: "demo", region: "us-central1"}

	res, err := f.Call(context.Background(), "echo", map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": json.Number("1")}, res)

	_, err = f.Call(context.Background(), "denied", nil)
	assert.Equal(t, backend.CodePermissionDenied, backend.CodeOf(err))
	assert.EqualError(t, err, "nope")

	_, err = f.Call(context.Background(), "missing", nil)
	assert.Equal(t, backend.CodeNotFound, backend.CodeOf(err))
	assert.EqualError(t, err, "not-found")
}

func TestFunctions_URL(t *testing.T) {
	s := &session{cfg: &Config{}}
	f := &functions{s: s, projectID: "demo", region: "europe-west1"}
	assert.Equal(t, "https://europe-west1-demo.cloudfunctions.net/hello", f.URL("hello"))
}

func TestFunctions_HTTP(t *testing.T) {
	s := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(r.Method + " " + r.URL.RawQuery + " " + string(body)))
	}))
	f := &functions{s: s, projectID: "demo", region: "us-central1"}

	resp, err := f.HTTP(context.Background(), "get", "hello", map[string][]string{"a": {"1"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "GET a=1 ", string(resp.Body))

	resp, err = f.HTTP(context.Background(), "POST", "hello", nil, []byte(`{"x":1}`))
	require.NoError(t, err)
	assert.Equal(t, `POST  {"x":1}`, string(resp.Body))
}

func TestStorage(t *testing.T) {
	var uploaded bytes.Buffer
	s := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Firebase id-1", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v0/b/bkt/o":
			assert.Equal(t, "docs/", r.URL.Query().Get("prefix"))
			assert.Equal(t, "/", r.URL.Query().Get("delimiter"))
			if r.URL.Query().Get("pageToken") == "" {
				writeJSON(w, 200, map[string]any{
					"prefixes":      []string{"docs/sub/"},
					"items":         []any{map[string]any{"name": "docs/a.txt", "bucket": "bkt"}},
					"nextPageToken": "p2",
				})
				return
			}
			writeJSON(w, 200, map[string]any{"items": []any{map[string]any{"name": "docs/b.txt", "bucket": "bkt"}}})
		case r.Method == http.MethodPost && r.URL.Path == "/v0/b/bkt/o":
			assert.Equal(t, "up/f.bin", r.URL.Query().Get("name"))
			_, _ = io.Copy(&uploaded, r.Body)
			writeJSON(w, 200, map[string]any{
				"name": "up/f.bin", "bucket": "bkt", "size": "5", "contentType": "application/octet-stream",
				"timeCreated": "2024-05-01T10:00:00.000Z", "downloadTokens": "tok-1,tok-2",
			})
		case r.Method == http.MethodGet && r.URL.EscapedPath() == "/v0/b/bkt/o/up%2Ff.bin":
			writeJSON(w, 200, map[string]any{"name": "up/f.bin", "bucket": "bkt", "size": "5", "downloadTokens": "tok-1"})
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	s.token = &oauth2.Token{AccessToken: "id-1", Expiry: time.Now().Add(time.Hour)}
	st := &storage{s: s, bucket: "bkt"}
	ctx := context.Background()

	list, err := st.List(ctx, "/docs/")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/a.txt", "docs/b.txt"}, list.Items)
	assert.Equal(t, []string{"docs/sub"}, list.Prefixes)

	var (
		mu   sync.Mutex
		last [2]int64
	)
	meta, err := st.Upload(ctx, "up/f.bin", strings.NewReader("hello"), 5, "",
		func(done, total int64) {
			mu.Lock()
			defer mu.Unlock()
			last = [2]int64{done, total}
		})
	require.NoError(t, err)
	assert.Equal(t, "hello", uploaded.String())
	mu.Lock()
	assert.Equal(t, [2]int64{5, 5}, last)
	mu.Unlock()
	assert.Equal(t, int64(5), meta.Size)
	assert.Equal(t, "f.bin", meta.Name)

	link, err := st.DownloadURL(ctx, "up/f.bin")
	require.NoError(t, err)
	assert.Equal(t, st.objectURL("up/f.bin")+"?alt=media&token=tok-1", link)

	err = st.Delete(ctx, "up/f.bin")
	assert.ErrorIs(t, err, backend.ErrNotFound)

	_, err = st.Metadata(ctx, "secret.txt")
	assert.Equal(t, backend.CodeUnauthorized, backend.CodeOf(err))
}

func TestNormalizeValue(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	got := normalizeMap(map[string]any{
		"t":    ts,
		"b":    []byte("hi"),
		"list": []any{ts},
		"n":    int64(1),
	})
	assert.Equal(t, map[string]any{
		"t":    "2024-01-02T03:04:05Z",
		"b":    "aGk=",
		"list": []any{"2024-01-02T03:04:05Z"},
		"n":    int64(1),
	}, got)
}

func TestProvider_Open(t *testing.T) {
	var refreshed atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/idt/v1/accounts:signInWithPassword":
			assert.Equal(t, "key", r.URL.Query().Get("key"))
			// expires inside the refresh window, so the next call refreshes
			writeJSON(w, 200, map[string]any{
				"idToken": "id-1", "refreshToken": "r-1", "expiresIn": "5",
				"localId": "uid-1", "email": "a@x.io",
			})
		case r.URL.Path == "/sts/v1/token":
			refreshed.Store(true)
			writeJSON(w, 200, map[string]any{"id_token": "id-2", "refresh_token": "r-2", "expires_in": "3600"})
		case r.URL.Path == "/fn/demo/us-central1/echo":
			assert.Equal(t, "Bearer id-2", r.Header.Get("Authorization"))
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			writeJSON(w, 200, map[string]any{"result": body["data"]})
		case r.URL.EscapedPath() == "/gcs/v0/b/bkt/o/a.txt":
			assert.Equal(t, "Firebase id-2", r.Header.Get("Authorization"))
			writeJSON(w, 200, map[string]any{"name": "a.txt", "bucket": "bkt", "size": "3"})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	t.Cleanup(srv.Close)

	p := NewProvider(
		WithHTTPClient(srv.Client()),
		WithIdentityToolkitURL(srv.URL+"/idt/"),
		WithSecureTokenURL(srv.URL+"/sts"),
		WithStorageURL(srv.URL+"/gcs"),
		WithFunctionsURL(srv.URL+"/fn/"),
		WithFirestoreOptions(option.WithUserAgent("firepwn-test")),
	)
	ctx := context.Background()

	app, err := p.Open(ctx, backend.Options{APIKey: "key", ProjectID: "demo", StorageBucket: " gs://bkt "})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	res, err := app.Auth().SignInWithPassword(ctx, "a@x.io", "secret")
	require.NoError(t, err)
	assert.Equal(t, "uid-1", res.Principal.UID)

	out, err := app.Functions().Call(ctx, "echo", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
	assert.True(t, refreshed.Load())

	st, err := app.Storage()
	require.NoError(t, err)
	meta, err := st.Metadata(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(3), meta.Size)
}

func TestProvider_OpenRejects(t *testing.T) {
	p := NewProvider()
	ctx := context.Background()

	_, err := p.Open(ctx, backend.Options{APIKey: "key"})
	assert.EqualError(t, err, "project ID is required")

	_, err = p.Open(ctx, backend.Options{ProjectID: "demo"})
	assert.EqualError(t, err, "API key is required")

	app, err := p.Open(ctx, backend.Options{APIKey: "key", ProjectID: "demo", StorageBucket: "gs://"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	_, err = app.Storage()
	assert.ErrorIs(t, err, backend.ErrNoBucket)
}

func TestProvider_Emulator(t *testing.T) {
	p := NewProvider(WithEmulator("127.0.0.1"))
	assert.Equal(t, "http://127.0.0.1:9099/identitytoolkit.googleapis.com", p.cfg.IdentityToolkitURL)
	assert.Equal(t, "http://127.0.0.1:5001", p.cfg.FunctionsURL)
	assert.Equal(t, "127.0.0.1:8080", p.cfg.FirestoreEmulatorHost)

	tok, err := p.cfg.ChallengeTokens(context.Background(), "anchor")
	require.NoError(t, err)
	assert.Equal(t, "emulator", tok)

	app, err := p.Open(context.Background(), backend.Options{APIKey: "key", ProjectID: "demo-emu"})
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:5001/demo-emu/us-central1/hello", app.Functions().URL("hello"))
	require.NoError(t, app.Close())
}
