// Package salesforce implements the CRM client over the Salesforce REST API.
package salesforce

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
	"sync"
	"time"

	"github.com/louisbranch/actionsync/internal/services/sync/crm"
	"github.com/louisbranch/actionsync/internal/services/sync/domain"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// DefaultAPIVersion is the REST API version used when none is configured.
const DefaultAPIVersion = "59.0"

// Config configures the REST client.
type Config struct {
	LoginURL      string
	ClientID      string
	ClientSecret  string
	Username      string
	Password      string
	SecurityToken string
	APIVersion    string
	// RateLimit caps requests per second; 0 disables limiting.
	RateLimit float64
	Burst     int
	// RequestTimeout bounds one REST call, LoginTimeout one login.
	RequestTimeout time.Duration
	LoginTimeout   time.Duration
	// Transport is the base round tripper. Tests inject httptest transports.
	Transport http.RoundTripper
}

// Client talks to one Salesforce org. It logs in lazily and again after the
// session expires.
type Client struct {
	oauth      *oauth2.Config
	username   string
	password   string
	apiVersion string
	timeout    time.Duration
	loginWait  time.Duration
	http       *http.Client
	limiter    *rate.Limiter

	mu       sync.Mutex
	token    *oauth2.Token
	instance string
}

// New builds a client. It does not log in.
func New(cfg Config) (*Client, error) {
	loginURL := strings.TrimRight(strings.TrimSpace(cfg.LoginURL), "/")
	if loginURL == "" {
		return nil, errors.New("salesforce login url is required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("salesforce username and password are required")
	}
	version := strings.TrimPrefix(strings.TrimSpace(cfg.APIVersion), "v")
	if version == "" {
		version = DefaultAPIVersion
	}
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  loginURL + "/services/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		username:   cfg.Username,
		password:   cfg.Password + cfg.SecurityToken,
		apiVersion: version,
		timeout:    cfg.RequestTimeout,
		loginWait:  cfg.LoginTimeout,
		http:       &http.Client{Transport: otelhttp.NewTransport(base)},
		limiter:    limiter,
	}, nil
}

// Login opens a session unless one is already open.
func (c *Client) Login(ctx context.Context) error {
	_, _, err := c.session(ctx)
	return err
}

func (c *Client) session(ctx context.Context) (*oauth2.Token, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != nil && c.token.Valid() && c.instance != "" {
		return c.token, c.instance, nil
	}

	if c.loginWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.loginWait)
		defer cancel()
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	token, err := c.oauth.PasswordCredentialsToken(ctx, c.username, c.password)
	if err != nil {
		// Redelivery keeps messages around until credentials work again.
		return nil, "", domain.Transient(fmt.Errorf("salesforce login: %w", err))
	}
	instance, _ := token.Extra("instance_url").(string)
	if instance == "" {
		return nil, "", domain.Transient(errors.New("salesforce login: token has no instance_url"))
	}
	c.token = token
	c.instance = strings.TrimRight(instance, "/")
	return c.token, c.instance, nil
}

func (c *Client) invalidate(token *oauth2.Token) {
	c.mu.Lock()
	if c.token == token {
		c.token = nil
		c.instance = ""
	}
	c.mu.Unlock()
}

type response struct {
	status int
	body   []byte
}

// do sends one REST call. Transport failures, throttling, 5xx and expired
// sessions come back as transient errors; other statuses are returned for
// the caller to interpret.
func (c *Client) do(ctx context.Context, method, path string, payload any) (response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return response{}, domain.Transient(fmt.Errorf("salesforce rate limit: %w", err))
	}
	token, instance, err := c.session(ctx)
	if err != nil {
		return response{}, err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return response{}, domain.Logic(fmt.Errorf("encode %s %s: %w", method, path, err))
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, instance+path, body)
	if err != nil {
		return response{}, domain.Logic(fmt.Errorf("build %s %s: %w", method, path, err))
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return response{}, domain.Transient(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, domain.Transient(fmt.Errorf("read %s %s: %w", method, path, err))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.invalidate(token)
		return response{}, domain.Transient(fmt.Errorf("%s %s: session expired", method, path))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return response{}, domain.Transient(fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, summarize(data)))
	}
	return response{status: resp.StatusCode, body: data}, nil
}

func (c *Client) dataPath(format string, args ...any) string {
	return "/services/data/v" + c.apiVersion + fmt.Sprintf(format, args...)
}

// Find runs a SOQL equality query.
func (c *Client) Find(ctx context.Context, object string, where []crm.Match, fields []string) ([]crm.Record, error) {
	query, err := BuildQuery(object, where, fields)
	if err != nil {
		return nil, domain.Logic(err)
	}
	resp, err := c.do(ctx, http.MethodGet, c.dataPath("/query?q=%s", url.QueryEscape(query)), nil)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, statusError("query "+object, resp)
	}
	var result struct {
		Records []crm.Record `json:"records"`
	}
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return nil, domain.Transient(fmt.Errorf("decode %s query: %w", object, err))
	}
	for _, record := range result.Records {
		delete(record, "attributes")
	}
	return result.Records, nil
}

// Create inserts a record.
func (c *Client) Create(ctx context.Context, object string, fields crm.Record) (crm.SaveResult, error) {
	if err := checkName(object); err != nil {
		return crm.SaveResult{}, domain.Logic(err)
	}
	resp, err := c.do(ctx, http.MethodPost, c.dataPath("/sobjects/%s/", object), fields)
	if err != nil {
		return crm.SaveResult{}, err
	}
	return saveResult("create "+object, resp, "")
}

// Retrieve reads a record by id.
func (c *Client) Retrieve(ctx context.Context, object, id string) (crm.Record, error) {
	if err := checkName(object); err != nil {
		return nil, domain.Logic(err)
	}
	resp, err := c.do(ctx, http.MethodGet, c.dataPath("/sobjects/%s/%s", object, url.PathEscape(id)), nil)
	if err != nil {
		return nil, err
	}
	switch resp.status {
	case http.StatusOK:
	case http.StatusNotFound:
		// Freshly created rows can lag behind on read replicas.
		return nil, domain.Transient(fmt.Errorf("retrieve %s %s: %w", object, id, crm.ErrNotFound))
	default:
		return nil, statusError("retrieve "+object, resp)
	}
	var record crm.Record
	if err := json.Unmarshal(resp.body, &record); err != nil {
		return nil, domain.Transient(fmt.Errorf("decode %s %s: %w", object, id, err))
	}
	delete(record, "attributes")
	return record, nil
}

// Update patches a record by id.
func (c *Client) Update(ctx context.Context, object, id string, fields crm.Record) (crm.SaveResult, error) {
	if err := checkName(object); err != nil {
		return crm.SaveResult{}, domain.Logic(err)
	}
	resp, err := c.do(ctx, http.MethodPatch, c.dataPath("/sobjects/%s/%s", object, url.PathEscape(id)), fields)
	if err != nil {
		return crm.SaveResult{}, err
	}
	return saveResult("update "+object, resp, id)
}

// Upsert patches the record whose keyField equals keyValue, creating it when
// absent. The update path answers 204 without an id.
func (c *Client) Upsert(ctx context.Context, object, keyField, keyValue string, fields crm.Record) (crm.SaveResult, error) {
	if err := checkName(object); err != nil {
		return crm.SaveResult{}, domain.Logic(err)
	}
	if err := checkName(keyField); err != nil {
		return crm.SaveResult{}, domain.Logic(err)
	}
	path := c.dataPath("/sobjects/%s/%s/%s", object, keyField, url.PathEscape(keyValue))
	resp, err := c.do(ctx, http.MethodPatch, path, fields)
	if err != nil {
		return crm.SaveResult{}, err
	}
	if resp.status == http.StatusMultipleChoices {
		return crm.SaveResult{}, domain.Logic(fmt.Errorf("upsert %s: several records have %s %s", object, keyField, keyValue))
	}
	return saveResult("upsert "+object, resp, "")
}

// retryableCodes are org-side conditions that clear on their own.
var retryableCodes = []string{"REQUEST_LIMIT_EXCEEDED", "UNABLE_TO_LOCK_ROW", "SERVER_UNAVAILABLE"}

type apiError struct {
	ErrorCode  string   `json:"errorCode"`
	StatusCode string   `json:"statusCode"`
	Message    string   `json:"message"`
	Fields     []string `json:"fields"`
}

func (e apiError) remote() crm.RemoteError {
	code := e.ErrorCode
	if code == "" {
		code = e.StatusCode
	}
	return crm.RemoteError{Code: code, Message: e.Message, Fields: e.Fields}
}

func remoteErrors(items []apiError) crm.RemoteErrors {
	out := make(crm.RemoteErrors, 0, len(items))
	for _, item := range items {
		out = append(out, item.remote())
	}
	return out
}

// saveResult interprets a write response. A 400 carries the rejection as
// an error list, which becomes an unsuccessful save.
func saveResult(op string, resp response, id string) (crm.SaveResult, error) {
	switch {
	case resp.status == http.StatusNoContent:
		return crm.SaveResult{ID: id, Success: true}, nil
	case resp.status == http.StatusOK || resp.status == http.StatusCreated:
		var body struct {
			ID      string     `json:"id"`
			Success bool       `json:"success"`
			Created bool       `json:"created"`
			Errors  []apiError `json:"errors"`
		}
		if err := json.Unmarshal(resp.body, &body); err != nil {
			return crm.SaveResult{}, domain.Transient(fmt.Errorf("decode %s result: %w", op, err))
		}
		if body.ID == "" {
			body.ID = id
		}
		return crm.SaveResult{
			ID:      body.ID,
			Success: body.Success,
			Created: body.Created || resp.status == http.StatusCreated,
			Errors:  remoteErrors(body.Errors),
		}, nil
	case resp.status == http.StatusBadRequest:
		var items []apiError
		if err := json.Unmarshal(resp.body, &items); err != nil || len(items) == 0 {
			return crm.SaveResult{}, domain.Validation(fmt.Errorf("%s: status 400: %s", op, summarize(resp.body)))
		}
		return crm.SaveResult{Errors: remoteErrors(items)}, nil
	default:
		return crm.SaveResult{}, statusError(op, resp)
	}
}

// statusError classifies a non-success status outside the transient range.
func statusError(op string, resp response) error {
	var items []apiError
	if err := json.Unmarshal(resp.body, &items); err == nil && len(items) > 0 {
		errs := remoteErrors(items)
		if errs.Has(retryableCodes...) {
			return domain.Transient(fmt.Errorf("%s: status %d: %w", op, resp.status, errs))
		}
		if resp.status == http.StatusBadRequest || errs.Validation() {
			return domain.Validation(fmt.Errorf("%s: %w", op, errs))
		}
		return domain.Logic(fmt.Errorf("%s: status %d: %w", op, resp.status, errs))
	}
	if resp.status == http.StatusBadRequest {
		return domain.Validation(fmt.Errorf("%s: status 400: %s", op, summarize(resp.body)))
	}
	return domain.Logic(fmt.Errorf("%s: status %d: %s", op, resp.status, summarize(resp.body)))
}

func summarize(body []byte) string {
	const limit = 256
	text := strings.TrimSpace(string(body))
	if len(text) > limit {
		return text[:limit] + "..."
	}
	return text
}
