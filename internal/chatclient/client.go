// Package chatclient talks to a chatrelay server over HTTP and decodes its
// event streams into frames.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wuwenbin0122/chatrelay/internal/relay"
	"github.com/wuwenbin0122/chatrelay/internal/sse"
)

// ErrStreamTruncated is returned when a stream ends without a done frame.
var ErrStreamTruncated = errors.New("stream ended without done frame")

// StatusError carries a non-2xx response from the server.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chatrelay: unexpected status %d", e.Status)
	}
	return fmt.Sprintf("chatrelay: %d %s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Request struct {
	Message        string        `json:"message"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Options        relay.Options `json:"options"`
}

// Summary is what a finished stream amounted to.
type Summary struct {
	Text   string
	Policy string
	Errors []string
	Done   bool
	Frames int
}

// Stream posts req and hands every decoded frame to fn. A non-nil error from
// fn stops reading and is returned as is.
func (c *Client) Stream(ctx context.Context, req Request, fn func(sse.Event) error) (Summary, error) {
	var summary Summary

	body, err := json.Marshal(req)
	if err != nil {
		return summary, err
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/chat/stream", bytes.NewReader(body))
	if err != nil {
		return summary, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return summary, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return summary, readStatusError(resp)
	}

	var text strings.Builder
	err = sse.Decode(resp.Body, func(ev sse.Event) error {
		summary.Frames++
		switch ev.Type {
		case sse.EventMessage:
			text.WriteString(ev.Data)
		case sse.EventPolicy:
			summary.Policy = ev.Data
		case sse.EventError:
			summary.Errors = append(summary.Errors, ev.Data)
		case sse.EventDone:
			summary.Done = true
		}
		if fn != nil {
			return fn(ev)
		}
		return nil
	})
	summary.Text = text.String()
	if err != nil {
		return summary, err
	}
	if !summary.Done {
		return summary, ErrStreamTruncated
	}
	return summary, nil
}

type Thread struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"ts"`
}

func (c *Client) Threads(ctx context.Context, limit int) ([]Thread, error) {
	path := "/api/threads"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var out struct {
		Threads []Thread `json:"threads"`
	}
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Threads, nil
}

func (c *Client) Messages(ctx context.Context, threadID string) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
	}
	if err := c.getJSON(ctx, "/api/threads/"+url.PathEscape(threadID)+"/messages", &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

type ProfileSettings struct {
	WebSearchDefault bool   `json:"web_search_default"`
	Locale           string `json:"locale"`
	TZ               string `json:"tz"`
}

type Profile struct {
	UserID      string          `json:"user_id"`
	DisplayName string          `json:"display_name"`
	AvatarURL   string          `json:"avatar_url"`
	Settings    ProfileSettings `json:"settings"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ProfileUpdate mirrors the server's partial update; nil fields are omitted.
type ProfileUpdate struct {
	DisplayName *string                `json:"display_name,omitempty"`
	AvatarURL   *string                `json:"avatar_url,omitempty"`
	Settings    *ProfileSettingsUpdate `json:"settings,omitempty"`
}

type ProfileSettingsUpdate struct {
	WebSearchDefault *bool   `json:"web_search_default,omitempty"`
	Locale           *string `json:"locale,omitempty"`
	TZ               *string `json:"tz,omitempty"`
}

func (c *Client) Profile(ctx context.Context) (Profile, error) {
	var out Profile
	err := c.getJSON(ctx, "/api/profile", &out)
	return out, err
}

func (c *Client) UpdateProfile(ctx context.Context, patch ProfileUpdate) (Profile, error) {
	body, err := json.Marshal(patch)
	if err != nil {
		return Profile{}, err
	}

	var out Profile
	err = c.doJSON(ctx, http.MethodPut, "/api/profile", bytes.NewReader(body), &out)
	return out, err
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readStatusError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func readStatusError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &payload); err != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(data))
	}
	return &StatusError{Status: resp.StatusCode, Message: payload.Error}
}
