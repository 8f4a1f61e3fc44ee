package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/fpt/chatdesk/pkg/message"
)

// PreviewLimit bounds raw provider text quoted back to the user
const PreviewLimit = 240

// ErrorKind classifies a failed exchange
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAuth
	KindRateLimited
	KindBadRequest
	KindServer
	KindNetwork
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "AuthError"
	case KindRateLimited:
		return "RateLimited"
	case KindBadRequest:
		return "BadRequest"
	case KindServer:
		return "ServerError"
	case KindNetwork:
		return "NetworkError"
	default:
		return "UnknownError"
	}
}

// ProviderError is the only error an adapter's ParseResponse returns
type ProviderError struct {
	Kind     ErrorKind
	Provider ProviderID
	Status   int
	// Message is the provider's own explanation, when one could be extracted
	Message string
	// Preview is the truncated raw body
	Preview string
	Err     error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Provider, e.Kind)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	switch {
	case e.Message != "":
		b.WriteString(": " + e.Message)
	case e.Err != nil:
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is matches another *ProviderError by kind, so errors.Is(err, ErrRateLimited) works.
func (e *ProviderError) Is(target error) bool {
	t, ok := target.(*ProviderError)
	return ok && t.Provider == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrAuth        = &ProviderError{Kind: KindAuth}
	ErrRateLimited = &ProviderError{Kind: KindRateLimited}
	ErrBadRequest  = &ProviderError{Kind: KindBadRequest}
	ErrServer      = &ProviderError{Kind: KindServer}
	ErrNetwork     = &ProviderError{Kind: KindNetwork}
	ErrUnknown     = &ProviderError{Kind: KindUnknown}
)

// Explain renders a user-facing description with a suggested next action.
func (e *ProviderError) Explain() string {
	detail := e.Message
	if detail == "" {
		detail = e.Preview
	}
	detail = message.Truncate(detail, PreviewLimit)

	switch e.Kind {
	case KindAuth:
		return fmt.Sprintf("Authentication with %s failed (HTTP %d). Check that your API key is correct and has access to this model.", e.Provider, e.Status)
	case KindRateLimited:
		return fmt.Sprintf("%s is rate limiting requests. Wait a moment, then send your message again.", e.Provider)
	case KindBadRequest:
		if detail == "" {
			detail = "no details given"
		}
		return fmt.Sprintf("%s rejected the request (HTTP %d): %s. Check the model name and generation settings.", e.Provider, e.Status, detail)
	case KindServer:
		return fmt.Sprintf("%s had a server error (HTTP %d). Try again shortly.", e.Provider, e.Status)
	case KindNetwork:
		cause := "no response"
		if e.Err != nil {
			cause = message.Truncate(e.Err.Error(), PreviewLimit)
		}
		return fmt.Sprintf("Could not reach %s: %s. Check your network connection and base URL.", e.Provider, cause)
	default:
		if detail == "" && e.Err != nil {
			detail = message.Truncate(e.Err.Error(), PreviewLimit)
		}
		if e.Status != 0 {
			return fmt.Sprintf("Unexpected response from %s (HTTP %d): %s", e.Provider, e.Status, detail)
		}
		return fmt.Sprintf("Unexpected response from %s: %s", e.Provider, detail)
	}
}

// KindForStatus maps an HTTP status to an error kind. 2xx maps to KindUnknown
// and is only an error when the caller has another reason to fail.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 400 || status == 404 || status == 422:
		return KindBadRequest
	case status == 429:
		return KindRateLimited
	case status >= 500 && status <= 599:
		return KindServer
	default:
		return KindUnknown
	}
}

// Classify returns nil for a successful exchange, otherwise a *ProviderError.
func Classify(p ProviderID, raw *RawResponse) *ProviderError {
	if raw == nil {
		return &ProviderError{Kind: KindUnknown, Provider: p, Message: "no response"}
	}
	if raw.StatusCode >= 200 && raw.StatusCode < 300 && raw.Err == nil {
		return nil
	}
	if raw.StatusCode == 0 && raw.Err == nil {
		// No HTTP exchange was observed but the SDK reported success.
		return nil
	}
	if raw.StatusCode == 0 || (raw.StatusCode < 300 && IsNetworkError(raw.Err)) {
		return &ProviderError{Kind: KindNetwork, Provider: p, Status: raw.StatusCode, Err: raw.Err}
	}
	return &ProviderError{
		Kind:     KindForStatus(raw.StatusCode),
		Provider: p,
		Status:   raw.StatusCode,
		Message:  providerMessage(raw.Body),
		Preview:  message.Truncate(raw.Body, PreviewLimit),
		Err:      raw.Err,
	}
}

// IsNetworkError reports whether err looks like a connect failure, timeout or cancellation.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// providerMessage digs the human-readable message out of common error bodies:
// {"error":{"message":...}}, {"error":"..."} and {"message":...}.
func providerMessage(body string) string {
	body = strings.TrimSpace(body)
	if body == "" || body[0] != '{' {
		return ""
	}
	var env struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return ""
	}
	if len(env.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(env.Error, &nested) == nil && nested.Message != "" {
			return message.Truncate(nested.Message, PreviewLimit)
		}
		var flat string
		if json.Unmarshal(env.Error, &flat) == nil && flat != "" {
			return message.Truncate(flat, PreviewLimit)
		}
	}
	return message.Truncate(env.Message, PreviewLimit)
}
