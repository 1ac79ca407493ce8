package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"syscall"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/sparkgen/internal/models"
)

// Operation selects what the remote service is asked to do.
type Operation string

const (
	OpGenerate        Operation = "generate"
	OpRecommendations Operation = "recommendations"
	OpCategories      Operation = "categories"
)

// Payload is the request handed to a Sender.
type Payload struct {
	Operation Operation
	Request   models.GenerationRequest
	Category  models.Category
	Latitude  float64
	Longitude float64
}

type ResponseMessage struct {
	Content string        `json:"content"`
	Impact  models.Impact `json:"impact"`
}

// Response carries generated messages for OpGenerate and free-form items for
// the lookup operations.
type Response struct {
	Messages []ResponseMessage `json:"messages,omitempty"`
	Items    []models.Value    `json:"items,omitempty"`
}

// Sender is the remote generation service. Each call is a single attempt.
type Sender interface {
	Send(ctx context.Context, p *Payload) (*Response, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, p *Payload) (*Response, error)

func (f SenderFunc) Send(ctx context.Context, p *Payload) (*Response, error) {
	return f(ctx, p)
}

type Kind int

const (
	KindUnknown Kind = iota
	KindConnectivity
	KindTimeout
	KindServer
	KindRateLimited
	KindUnauthorized
	KindDecoding
)

func (k Kind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindTimeout:
		return "timeout"
	case KindServer:
		return "server_error"
	case KindRateLimited:
		return "rate_limited"
	case KindUnauthorized:
		return "unauthorized"
	case KindDecoding:
		return "decoding_error"
	}
	return "unknown"
}

// Retryable reports whether another attempt can fix this kind of failure.
func (k Kind) Retryable() bool {
	switch k {
	case KindConnectivity, KindTimeout, KindServer, KindRateLimited:
		return true
	}
	return false
}

// Connectivity reports whether the failure says something about the network
// itself rather than the service.
func (k Kind) Connectivity() bool {
	return k == KindConnectivity || k == KindTimeout
}

// Error is a classified remote failure.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s (status %d): %s", e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("remote %s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// KindOf returns the classified kind of err.
func KindOf(err error) Kind {
	return Classify(err).Kind
}

// Classify maps any error from a Sender onto the remote error taxonomy.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Kind: kindForStatus(apiErr.HTTPStatusCode), StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{Kind: kindForStatus(reqErr.HTTPStatusCode), StatusCode: reqErr.HTTPStatusCode, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	var urlErr *url.Error
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) || errors.As(err, &urlErr) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return &Error{Kind: KindConnectivity, Err: err}
	}
	return &Error{Kind: KindUnknown, Err: err}
}

func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindUnauthorized
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return KindTimeout
	case code >= 500:
		return KindServer
	}
	return KindUnknown
}
