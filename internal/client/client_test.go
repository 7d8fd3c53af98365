package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/harunnryd/wikichat/internal/chatview"
	"github.com/harunnryd/wikichat/internal/model/contract"
	"github.com/harunnryd/wikichat/internal/sse"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SendStreamsIntoState(t *testing.T) {
	var posted chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&posted))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"type\":\"text\",\"content\":\"Hello \"}\n\n")
		w.(http.Flusher).Flush()
		_, _ = io.WriteString(w, "data: {\"type\":\"text\",\"content\":\"there.\"}\n\ndata: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL+"/", nil)
	prior := chatview.Finish(chatview.Reduce(chatview.Begin(chatview.State{}, "hi"), sse.Text("hey")))

	var seen []chatview.State
	s, err := c.Send(context.Background(), prior, "how are you?", func(st chatview.State) {
		seen = append(seen, st)
	})
	require.NoError(t, err)

	assert.Equal(t, []contract.Message{
		{Role: contract.RoleUser, Content: "hi"},
		{Role: contract.RoleAssistant, Content: "hey"},
		{Role: contract.RoleUser, Content: "how are you?"},
	}, posted.Messages)

	require.Len(t, s.Messages, 4)
	assert.Equal(t, "Hello there.", s.Messages[3].Content)
	assert.True(t, s.Finished)
	require.NotEmpty(t, seen)
	assert.True(t, seen[0].Streaming)
}

func TestClient_ServerErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"messages must not be empty"}`)
	}))
	t.Cleanup(srv.Close)

	s, err := New(srv.URL, nil).Send(context.Background(), chatview.State{}, "hi", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.Contains(t, err.Error(), "messages must not be empty")

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, chatview.TransportErrorMessage, last.Content)
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, nil).Stream(context.Background(), nil)
	assert.Error(t, err)
}
