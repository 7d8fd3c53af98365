package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/harunnryd/wikichat/internal/chatview"
	chatErrors "github.com/harunnryd/wikichat/internal/errors"
	"github.com/harunnryd/wikichat/internal/model/contract"
)

const chatPath = "/api/chat"

// Client talks to a wikichat server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for baseURL. The default HTTP client has no timeout since responses
// stream for as long as the model keeps talking.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), http: httpClient}
}

type chatRequest struct {
	Messages []contract.Message `json:"messages"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Stream posts the transcript and returns the event-stream body. The caller closes it.
func (c *Client) Stream(ctx context.Context, messages []contract.Message) (io.ReadCloser, error) {
	body, err := json.Marshal(chatRequest{Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, chatErrors.Wrap(err, "post chat request")
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var payload errorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err := json.Unmarshal(raw, &payload); err != nil || payload.Error == "" {
			payload.Error = strings.TrimSpace(string(raw))
		}
		return nil, fmt.Errorf("chat request failed with status %d: %s", resp.StatusCode, payload.Error)
	}
	return resp.Body, nil
}

// Send runs one user turn: it appends the question, streams the answer into the state and
// returns the finished state. A failed request is recorded in the state as well as returned.
func (c *Client) Send(ctx context.Context, s chatview.State, text string, onUpdate func(chatview.State)) (chatview.State, error) {
	s = chatview.Begin(s, text)
	if onUpdate != nil {
		onUpdate(s)
	}

	body, err := c.Stream(ctx, chatview.Transcript(s))
	if err != nil {
		slog.Debug("Chat request failed", "error", err)
		return chatview.Fail(s), err
	}
	defer body.Close()

	s, err = chatview.Consume(ctx, body, s, onUpdate)
	if err != nil {
		return chatview.Fail(s), err
	}
	return s, nil
}
