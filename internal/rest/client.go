// Package rest issues the non-realtime chat actions: history fetch,
// conversation listing, pin/archive, report, leave, delete.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/carelink/chat-client/internal/apperr"
	"github.com/carelink/chat-client/internal/domain"
)

type Config struct {
	BaseURL            string
	AccessToken        string
	Timeout            time.Duration
	RetryMaxElapsed    time.Duration
	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration
}

type Client struct {
	base  string
	token string
	http  *http.Client
	cb    *gobreaker.CircuitBreaker
	retry time.Duration
	log   *zap.SugaredLogger
}

func New(cfg Config, log *zap.SugaredLogger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerMaxFailures == 0 {
		cfg.BreakerMaxFailures = 5
	}
	st := gobreaker.Settings{
		Name:        "chat-api",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Infow("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
		},
	}
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}
	return &Client{
		base:  cfg.BaseURL,
		token: cfg.AccessToken,
		http:  &http.Client{Transport: tr, Timeout: cfg.Timeout},
		cb:    gobreaker.NewCircuitBreaker(st),
		retry: cfg.RetryMaxElapsed,
		log:   log,
	}
}

// do runs one JSON request through the breaker with retry on transient
// failures. 4xx responses are permanent; 5xx and network errors retry until
// the backoff budget is spent.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = b
	}

	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	operation := func() error {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, rd)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		res, err := c.cb.Execute(func() (any, error) {
			resp, err := c.http.Do(req)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode >= 500 {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				return nil, fmt.Errorf("%s %s: %w", method, path, apperr.ErrUnavailable)
			}
			return resp, nil
		})
		if err != nil {
			if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
				return backoff.Permanent(fmt.Errorf("%s %s: %w", method, path, apperr.ErrUnavailable))
			}
			return err
		}
		resp := res.(*http.Response)
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			io.Copy(io.Discard, resp.Body)
			return backoff.Permanent(statusError(method, path, resp.StatusCode))
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("decode response: %w", err))
			}
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.retry
	// The default first interval can exceed a small budget, which stops the
	// retry loop before a single retry happens. Keep a few attempts inside
	// whatever budget was configured.
	if c.retry > 0 && b.InitialInterval > c.retry/4 {
		b.InitialInterval = c.retry / 4
	}
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

func statusError(method, path string, code int) error {
	var base error
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		base = apperr.ErrUnauthorized
	case http.StatusNotFound:
		base = apperr.ErrNotFound
	case http.StatusTooManyRequests:
		base = apperr.ErrRateLimited
	default:
		base = apperr.ErrBadRequest
	}
	return fmt.Errorf("%s %s: status %d: %w", method, path, code, base)
}

type conversationsResponse struct {
	Rooms   []domain.Conversation `json:"rooms"`
	Directs []domain.Conversation `json:"direct_chats"`
}

// Conversations fetches the raw room and direct chat lists. The variant tag
// is stamped here, at ingestion, and never re-inferred.
func (c *Client) Conversations(ctx context.Context) (rooms, directs []domain.Conversation, err error) {
	var resp conversationsResponse
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, nil, &resp); err != nil {
		return nil, nil, err
	}
	for i := range resp.Rooms {
		resp.Rooms[i].Kind = domain.KindRoom
	}
	for i := range resp.Directs {
		resp.Directs[i].Kind = domain.KindDirect
	}
	return resp.Rooms, resp.Directs, nil
}

type historyResponse struct {
	Messages []domain.Message `json:"messages"`
}

// History fetches a page of messages for a conversation, newest page first;
// before bounds the page for older scroll-back.
func (c *Client) History(ctx context.Context, conversationID string, before time.Time, limit int) ([]domain.Message, error) {
	q := url.Values{}
	if !before.IsZero() {
		q.Set("before", before.UTC().Format(time.RFC3339Nano))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp historyResponse
	if err := c.do(ctx, http.MethodGet, "/conversations/"+conversationID+"/messages", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) PinMessage(ctx context.Context, conversationID, messageID string, pinned bool) error {
	return c.do(ctx, http.MethodPut, "/conversations/"+conversationID+"/messages/"+messageID+"/pin",
		nil, map[string]bool{"pinned": pinned}, nil)
}

func (c *Client) ArchiveMessage(ctx context.Context, conversationID, messageID string, archived bool) error {
	return c.do(ctx, http.MethodPut, "/conversations/"+conversationID+"/messages/"+messageID+"/archive",
		nil, map[string]bool{"archived": archived}, nil)
}

func (c *Client) PinConversation(ctx context.Context, conversationID string, pinned bool) error {
	return c.do(ctx, http.MethodPut, "/conversations/"+conversationID+"/pin",
		nil, map[string]bool{"pinned": pinned}, nil)
}

func (c *Client) ArchiveConversation(ctx context.Context, conversationID string, archived bool) error {
	return c.do(ctx, http.MethodPut, "/conversations/"+conversationID+"/archive",
		nil, map[string]bool{"archived": archived}, nil)
}

func (c *Client) ReportGroup(ctx context.Context, conversationID, reason string) error {
	return c.do(ctx, http.MethodPost, "/rooms/"+conversationID+"/report",
		nil, map[string]string{"reason": reason}, nil)
}

func (c *Client) LeaveGroup(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, "/rooms/"+conversationID+"/leave", nil, nil, nil)
}

func (c *Client) DeleteGroup(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodDelete, "/rooms/"+conversationID, nil, nil, nil)
}

func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodDelete, "/conversations/"+conversationID, nil, nil, nil)
}
