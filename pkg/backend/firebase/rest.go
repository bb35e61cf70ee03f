package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/firepwn/firepwn/pkg/backend"
)

// maxErrorBody caps how much of a failed response is read.
const maxErrorBody = 64 * 1024

// apiError is the error envelope shared by the Google REST APIs.
type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// postJSON sends in as a JSON body and decodes a 2xx response into out.
// Failures are passed to decodeErr with the status and the raw body.
func postJSON(ctx context.Context, client *http.Client, url string, header http.Header, in, out any,
	decodeErr func(status int, body []byte) error) error {
	reqBody, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	return do(client, req, out, decodeErr)
}

// do executes req and decodes a 2xx JSON response into out, if out is set.
func do(client *http.Client, req *http.Request, out any, decodeErr func(status int, body []byte) error) error {
	resp, err := client.Do(req)
	if err != nil {
		return &backend.Error{Code: backend.CodeUnavailable, Message: err.Error(), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return decodeErr(resp.StatusCode, body)
	}

	if out == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// identityError maps an Identity Toolkit failure such as
// {"error":{"message":"INVALID_PASSWORD"}} to a normalized auth error.
func identityError(status int, body []byte) error {
	var env apiError
	_ = json.Unmarshal(body, &env)

	reason := env.Error.Message
	if i := strings.Index(reason, " : "); i >= 0 {
		reason = reason[:i]
	}

	code, ok := identityCodes[reason]
	if !ok {
		switch {
		case reason != "":
			code = "auth/" + strings.ReplaceAll(strings.ToLower(reason), "_", "-")
		case status == http.StatusTooManyRequests:
			code = "auth/too-many-requests"
		default:
			code = "auth/internal-error"
		}
	}
	return backend.NewError(code, "Firebase: Error (%s).", code)
}

var identityCodes = map[string]string{
	"EMAIL_EXISTS":                   backend.CodeEmailExists,
	"EMAIL_NOT_FOUND":                backend.CodeUserNotFound,
	"INVALID_PASSWORD":               backend.CodeWrongPassword,
	"INVALID_LOGIN_CREDENTIALS":      backend.CodeInvalidCredential,
	"INVALID_IDP_RESPONSE":           backend.CodeInvalidCredential,
	"INVALID_CODE":                   backend.CodeInvalidCode,
	"SESSION_EXPIRED":                backend.CodeCodeExpired,
	"INVALID_MFA_PENDING_CREDENTIAL": backend.CodeInvalidMFASession,
	"MISSING_MFA_PENDING_CREDENTIAL": backend.CodeMissingMFASession,
	"INVALID_SESSION_INFO":           backend.CodeInvalidVerification,
	"MISSING_SESSION_INFO":           backend.CodeInvalidVerification,
	"USER_DISABLED":                  "auth/user-disabled",
	"OPERATION_NOT_ALLOWED":          "auth/operation-not-allowed",
	"TOO_MANY_ATTEMPTS_TRY_LATER":    "auth/too-many-requests",
	"API_KEY_INVALID":                "auth/invalid-api-key",
	"CAPTCHA_CHECK_FAILED":           "auth/captcha-check-failed",
	"WEAK_PASSWORD":                  "auth/weak-password",
	"INVALID_EMAIL":                  "auth/invalid-email",
	"MISSING_PASSWORD":               "auth/missing-password",
	"CREDENTIAL_TOO_OLD_LOGIN_AGAIN": "auth/requires-recent-login",
	"TOKEN_EXPIRED":                  "auth/user-token-expired",
	"INVALID_REFRESH_TOKEN":          "auth/invalid-user-token",
	"USER_NOT_FOUND":                 backend.CodeUserNotFound,
	"MISSING_OR_INVALID_NONCE":       "auth/missing-or-invalid-nonce",
	"SECOND_FACTOR_LIMIT_EXCEEDED":   "auth/maximum-second-factor-count-exceeded",
	"UNSUPPORTED_FIRST_FACTOR":       "auth/unsupported-first-factor",
	"UNVERIFIED_EMAIL":               "auth/unverified-email",
	"PASSWORD_LOGIN_DISABLED":        "auth/operation-not-allowed",
	"INVALID_RECAPTCHA_TOKEN":        "auth/invalid-recaptcha-token",
	"MISSING_RECAPTCHA_TOKEN":        "auth/missing-recaptcha-token",
	"RECAPTCHA_NOT_ENABLED":          "auth/recaptcha-not-enabled",
	"INVALID_PHONE_NUMBER":           "auth/invalid-phone-number",
	"QUOTA_EXCEEDED":                 "auth/quota-exceeded",
	"INVALID_TENANT_ID":              "auth/invalid-tenant-id",
	"MISSING_CLIENT_IDENTIFIER":      "auth/missing-client-identifier",
	"INVALID_APP_CREDENTIAL":         "auth/invalid-app-credential",
}

// functionsError maps a callable failure to a lower-case dashed code, as the
// client SDKs do: {"error":{"status":"NOT_FOUND"}} becomes "not-found".
func functionsError(status int, body []byte) error {
	var env apiError
	_ = json.Unmarshal(body, &env)

	code := strings.ReplaceAll(strings.ToLower(env.Error.Status), "_", "-")
	if code == "" {
		code = codeForHTTPStatus(status)
	}

	msg := env.Error.Message
	if msg == "" {
		msg = code
	}
	return backend.NewError(code, "%s", msg)
}

// storageError maps a Storage REST failure to a storage/ code.
func storageError(status int, body []byte) error {
	var env apiError
	_ = json.Unmarshal(body, &env)

	switch status {
	case http.StatusNotFound:
		return backend.NewError(backend.CodeObjectNotFound,
			"Firebase Storage: Object does not exist. (%s)", backend.CodeObjectNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return backend.NewError(backend.CodeUnauthorized,
			"Firebase Storage: User does not have permission to access this object. (%s)", backend.CodeUnauthorized)
	}

	msg := env.Error.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	return backend.NewError("storage/unknown", "Firebase Storage: %s (storage/unknown)", msg)
}

func codeForHTTPStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return backend.CodeInvalidArgument
	case http.StatusUnauthorized:
		return backend.CodeUnauthenticated
	case http.StatusForbidden:
		return backend.CodePermissionDenied
	case http.StatusNotFound:
		return backend.CodeNotFound
	case http.StatusConflict:
		return "aborted"
	case http.StatusTooManyRequests:
		return "resource-exhausted"
	case 499:
		return "cancelled"
	case http.StatusInternalServerError:
		return backend.CodeInternal
	case http.StatusNotImplemented:
		return "unimplemented"
	case http.StatusServiceUnavailable:
		return backend.CodeUnavailable
	case http.StatusGatewayTimeout:
		return "deadline-exceeded"
	}
	return backend.CodeUnknown
}
