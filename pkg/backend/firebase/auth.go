package firebase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/firepwn/firepwn/pkg/backend"
	"golang.org/x/oauth2"
)

// tokenResponse is the token part shared by the Identity Toolkit sign-in
// responses.
type tokenResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
	Email        string `json:"email"`

	MFAPendingCredential string    `json:"mfaPendingCredential"`
	MFAInfo              []mfaInfo `json:"mfaInfo"`
}

type mfaInfo struct {
	MFAEnrollmentID string `json:"mfaEnrollmentId"`
	DisplayName     string `json:"displayName"`
	PhoneInfo       string `json:"phoneInfo"`
	EnrolledAt      string `json:"enrolledAt"`
}

func (r *tokenResponse) oauthToken() *oauth2.Token {
	return newToken(r.IDToken, r.RefreshToken, r.ExpiresIn)
}

func newToken(idToken, refreshToken, expiresIn string) *oauth2.Token {
	tok := &oauth2.Token{AccessToken: idToken, TokenType: "Bearer", RefreshToken: refreshToken}
	if secs, err := strconv.Atoi(expiresIn); err == nil && secs > 0 {
		tok.Expiry = time.Now().Add(time.Duration(secs) * time.Second)
	}
	return tok
}

// refresh exchanges a refresh token for a new ID token.
func (s *session) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/v1/token?key=%s", s.cfg.SecureTokenURL, s.apiKey), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp struct {
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    string `json:"expires_in"`
	}
	if err := do(s.cfg.HTTPClient, req, &resp, identityError); err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	return newToken(resp.IDToken, resp.RefreshToken, resp.ExpiresIn), nil
}

// auth implements backend.Auth over the Identity Toolkit REST API.
type auth struct {
	s *session
}

func (a *auth) SignInWithPassword(ctx context.Context, email, password string) (*backend.SignInResult, error) {
	var resp tokenResponse
	err := postJSON(ctx, a.s.cfg.HTTPClient, a.s.identityURL("v1", ":signInWithPassword"), nil,
		map[string]any{"email": email, "password": password, "returnSecureToken": true}, &resp, identityError)
	if err != nil {
		return nil, err
	}
	if resp.Email == "" {
		resp.Email = email
	}
	return a.complete(&resp, backend.MethodPassword)
}

func (a *auth) SignUp(ctx context.Context, email, password string) (*backend.SignInResult, error) {
	var resp tokenResponse
	err := postJSON(ctx, a.s.cfg.HTTPClient, a.s.identityURL("v1", ":signUp"), nil,
		map[string]any{"email": email, "password": password, "returnSecureToken": true}, &resp, identityError)
	if err != nil {
		return nil, err
	}
	if resp.Email == "" {
		resp.Email = email
	}
	return a.complete(&resp, backend.MethodSignUp)
}

func (a *auth) SignInWithIDPToken(ctx context.Context, idToken string) (*backend.SignInResult, error) {
	postBody := url.Values{"id_token": {idToken}, "providerId": {"google.com"}}
	var resp tokenResponse
	err := postJSON(ctx, a.s.cfg.HTTPClient, a.s.identityURL("v1", ":signInWithIdp"), nil,
		map[string]any{
			"postBody":            postBody.Encode(),
			"requestUri":          "http://localhost",
			"returnSecureToken":   true,
			"returnIdpCredential": true,
		}, &resp, identityError)
	if err != nil {
		return nil, err
	}
	return a.complete(&resp, backend.MethodFederated)
}

// complete finishes a first-factor sign-in, either by storing the session or
// by reporting the second-factor requirement.
func (a *auth) complete(resp *tokenResponse, method backend.SignInMethod) (*backend.SignInResult, error) {
	if resp.MFAPendingCredential != "" {
		resolver := &backend.MFAResolver{Session: resp.MFAPendingCredential, Email: resp.Email}
		for _, info := range resp.MFAInfo {
			hint := backend.MFAHint{
				UID:         info.MFAEnrollmentID,
				DisplayName: info.DisplayName,
				PhoneNumber: info.PhoneInfo,
			}
			if info.PhoneInfo != "" {
				hint.FactorID = backend.FactorPhone
			} else {
				hint.FactorID = "totp"
			}
			if t, err := time.Parse(time.RFC3339Nano, info.EnrolledAt); err == nil {
				hint.EnrolledAt = t
			}
			resolver.Hints = append(resolver.Hints, hint)
		}
		return nil, &backend.MFARequiredError{Resolver: resolver}
	}

	p := backend.Principal{Email: resp.Email, UID: resp.LocalID}
	fns := a.s.signedIn(resp.oauthToken(), &p)
	notify(fns, backend.AuthEvent{Principal: &p, Method: method})
	return &backend.SignInResult{Principal: p, Method: method}, nil
}

func (a *auth) SignOut(ctx context.Context) error {
	fns := a.s.signedIn(nil, nil)
	notify(fns, backend.AuthEvent{})
	return nil
}

func (a *auth) OnAuthStateChanged(fn func(backend.AuthEvent)) func() {
	a.s.mu.Lock()
	a.s.nextObs++
	id := a.s.nextObs
	a.s.observers[id] = fn

	var ev backend.AuthEvent
	if a.s.principal != nil {
		p := *a.s.principal
		ev = backend.AuthEvent{Principal: &p, Method: backend.MethodPassword}
	}
	a.s.mu.Unlock()

	fn(ev)

	return func() {
		a.s.mu.Lock()
		defer a.s.mu.Unlock()
		delete(a.s.observers, id)
	}
}

func notify(fns []func(backend.AuthEvent), ev backend.AuthEvent) {
	for _, fn := range fns {
		fn(ev)
	}
}

// errNoChallengeSource is returned by widgets when no token source is set.
var errNoChallengeSource = errors.New("no challenge token source configured")

// widget obtains challenge tokens from the configured source.
type widget struct {
	anchor string
	source ChallengeTokenSource

	mu      sync.Mutex
	cleared bool
}

func (w *widget) AnchorID() string { return w.anchor }

func (w *widget) Token(ctx context.Context) (string, error) {
	w.mu.Lock()
	cleared := w.cleared
	w.mu.Unlock()

	if cleared {
		return "", errors.New("challenge widget has been cleared")
	}
	if w.source == nil {
		return "", errNoChallengeSource
	}
	return w.source(ctx, w.anchor)
}

func (w *widget) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cleared = true
}

func (a *auth) NewChallengeWidget(anchorID string) (backend.ChallengeWidget, error) {
	return &widget{anchor: anchorID, source: a.s.cfg.ChallengeTokens}, nil
}

func (a *auth) SendPhoneChallenge(ctx context.Context, resolver *backend.MFAResolver, hint backend.MFAHint, w backend.ChallengeWidget) (string, error) {
	if resolver == nil || resolver.Session == "" {
		return "", backend.NewError(backend.CodeMissingMFASession, "Firebase: Error (%s).", backend.CodeMissingMFASession)
	}
	if w == nil {
		return "", backend.NewError(backend.CodeInvalidArgument, "Firebase: Error (auth/argument-error).")
	}
	token, err := w.Token(ctx)
	if err != nil {
		return "", &backend.Error{Code: "auth/captcha-check-failed", Message: err.Error(), Err: err}
	}

	var resp struct {
		PhoneResponseInfo struct {
			SessionInfo string `json:"sessionInfo"`
		} `json:"phoneResponseInfo"`
	}
	err = postJSON(ctx, a.s.cfg.HTTPClient, a.s.identityURL("v2", "/mfaSignIn:start"), nil,
		map[string]any{
			"mfaPendingCredential": resolver.Session,
			"mfaEnrollmentId":      hint.UID,
			"phoneSignInInfo":      map[string]any{"recaptchaToken": token},
		}, &resp, identityError)
	if err != nil {
		return "", err
	}
	return resp.PhoneResponseInfo.SessionInfo, nil
}

func (a *auth) ResolveSignIn(ctx context.Context, resolver *backend.MFAResolver, verificationID, code string) (*backend.SignInResult, error) {
	if resolver == nil || resolver.Session == "" {
		return nil, backend.NewError(backend.CodeMissingMFASession, "Firebase: Error (%s).", backend.CodeMissingMFASession)
	}

	var resp tokenResponse
	err := postJSON(ctx, a.s.cfg.HTTPClient, a.s.identityURL("v2", "/mfaSignIn:finalize"), nil,
		map[string]any{
			"mfaPendingCredential": resolver.Session,
			"phoneVerificationInfo": map[string]any{
				"sessionInfo": verificationID,
				"code":        code,
			},
		}, &resp, identityError)
	if err != nil {
		return nil, err
	}

	if c := claims(resp.IDToken); c != nil {
		if resp.LocalID == "" {
			resp.LocalID, _ = c["user_id"].(string)
		}
		if resp.Email == "" {
			resp.Email, _ = c["email"].(string)
		}
	}
	if resp.LocalID == "" {
		if err := a.lookup(ctx, &resp); err != nil {
			return nil, err
		}
	}
	if resp.Email == "" {
		resp.Email = resolver.Email
	}
	return a.complete(&resp, backend.MethodMultiFactor)
}

// lookup fills the account fields of resp from its ID token.
func (a *auth) lookup(ctx context.Context, resp *tokenResponse) error {
	var out struct {
		Users []struct {
			LocalID string `json:"localId"`
			Email   string `json:"email"`
		} `json:"users"`
	}
	err := postJSON(ctx, a.s.cfg.HTTPClient, a.s.identityURL("v1", ":lookup"), nil,
		map[string]any{"idToken": resp.IDToken}, &out, identityError)
	if err != nil {
		return err
	}
	if len(out.Users) > 0 {
		resp.LocalID = out.Users[0].LocalID
		resp.Email = out.Users[0].Email
	}
	return nil
}

// claims decodes the payload of an unverified JWT. It is used only to
// display who a token belongs to.
func claims(idToken string) map[string]any {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return nil
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil
	}
	return out
}
