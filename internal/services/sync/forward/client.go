// Package forward posts synced actions to the downstream petition service
// and completes its verification step.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/louisbranch/actionsync/internal/services/sync/domain"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// TokenPlaceholder marks where the verification token goes in VerifyURL.
const TokenPlaceholder = "{token}"

// ErrNoVerificationToken reports a forward response without a token.
var ErrNoVerificationToken = errors.New("forward response has no verification token")

// Config configures the forwarder.
type Config struct {
	ForwardURL string
	// VerifyURL contains TokenPlaceholder.
	VerifyURL string
	// Token is sent as a bearer token when set.
	Token     string
	Timeout   time.Duration
	Transport http.RoundTripper
}

// Client is the downstream HTTP collaborator.
type Client struct {
	forwardURL string
	verifyURL  string
	token      string
	timeout    time.Duration
	http       *http.Client
}

// New builds a client.
func New(cfg Config) (*Client, error) {
	forwardURL := strings.TrimSpace(cfg.ForwardURL)
	if _, err := url.ParseRequestURI(forwardURL); err != nil {
		return nil, fmt.Errorf("forward url: %w", err)
	}
	verifyURL := strings.TrimSpace(cfg.VerifyURL)
	if !strings.Contains(verifyURL, TokenPlaceholder) {
		return nil, fmt.Errorf("verify url must contain %s", TokenPlaceholder)
	}
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &Client{
		forwardURL: forwardURL,
		verifyURL:  verifyURL,
		token:      cfg.Token,
		timeout:    cfg.Timeout,
		http:       &http.Client{Transport: otelhttp.NewTransport(base)},
	}, nil
}

// Response is the downstream answer to a forwarded action.
type Response struct {
	PetitionSignature struct {
		VerificationToken string `json:"verification_token"`
	} `json:"petition_signature"`
}

// VerificationToken returns the token, if any.
func (r Response) VerificationToken() string {
	return strings.TrimSpace(r.PetitionSignature.VerificationToken)
}

// Forward posts the formatted action.
func (c *Client) Forward(ctx context.Context, payload ActionPayload) (Response, error) {
	var resp Response
	if err := c.post(ctx, c.forwardURL, payload, &resp); err != nil {
		return Response{}, fmt.Errorf("forward action: %w", err)
	}
	return resp, nil
}

// Verify posts the consent metadata for token.
func (c *Client) Verify(ctx context.Context, token string, consent ConsentPayload) error {
	target := strings.ReplaceAll(c.verifyURL, TokenPlaceholder, url.PathEscape(token))
	if err := c.post(ctx, target, consent, nil); err != nil {
		return fmt.Errorf("verify action: %w", err)
	}
	return nil
}

// Delivery is the record of one forwarded and verified action.
type Delivery struct {
	VerificationToken string
}

// Deliver forwards the action and verifies it. A response without a
// verification token is a logic error for every action type.
func (c *Client) Deliver(ctx context.Context, action *domain.ActionMessage, pii domain.DecryptedContact) (Delivery, error) {
	payload := FormatAction(action, pii)
	resp, err := c.Forward(ctx, payload)
	if err != nil {
		return Delivery{}, err
	}
	token := resp.VerificationToken()
	if token == "" {
		return Delivery{}, domain.Logic(fmt.Errorf("action %d: %w", action.ActionID, ErrNoVerificationToken))
	}
	if err := c.Verify(ctx, token, ConsentFor(action, payload)); err != nil {
		return Delivery{}, err
	}
	return Delivery{VerificationToken: token}, nil
}

func (c *Client) post(ctx context.Context, target string, payload, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Logic(fmt.Errorf("encode payload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return domain.Logic(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Transient(err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Transient(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return domain.Transient(fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		return domain.Validation(fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	case resp.StatusCode >= 300:
		return domain.Logic(fmt.Errorf("status %d", resp.StatusCode))
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.Transient(fmt.Errorf("decode response: %w", err))
	}
	return nil
}
