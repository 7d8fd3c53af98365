package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/wikichat/internal/config"
	chatErrors "github.com/harunnryd/wikichat/internal/errors"
	"github.com/harunnryd/wikichat/internal/model/contract"
	"github.com/harunnryd/wikichat/internal/sse"
	"github.com/harunnryd/wikichat/internal/tool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// scriptedProvider replays one event list per model call.
type scriptedProvider struct {
	mu       sync.Mutex
	rounds   [][]contract.StreamEvent
	repeat   []contract.StreamEvent
	failAt   int
	failErr  error
	openErr  error
	requests []contract.StreamRequest
	streams  []*contract.SliceStream
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Stream(ctx context.Context, req contract.StreamRequest) (contract.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req.Messages = append([]contract.Message(nil), req.Messages...)
	p.requests = append(p.requests, req)
	if p.openErr != nil {
		return nil, p.openErr
	}

	call := len(p.requests)
	var events []contract.StreamEvent
	switch {
	case call <= len(p.rounds):
		events = p.rounds[call-1]
	case p.repeat != nil:
		events = p.repeat
	default:
		events = endTurn("")
	}

	s := &contract.SliceStream{Events: events}
	if p.failAt == call {
		s.Fail = p.failErr
	}
	p.streams = append(p.streams, s)
	return s, nil
}

// MockSession is a mock of tool.Session
type MockSession struct {
	mock.Mock
}

func (m *MockSession) ListTools(ctx context.Context) ([]contract.ToolDef, error) {
	args := m.Called(ctx)
	defs, _ := args.Get(0).([]contract.ToolDef)
	return defs, args.Error(1)
}

func (m *MockSession) CallTool(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error) {
	args := m.Called(ctx, name, input)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

func (m *MockSession) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockConnector is a mock of tool.Connector
type MockConnector struct {
	mock.Mock
}

func (m *MockConnector) Connect(ctx context.Context) (tool.Session, error) {
	args := m.Called(ctx)
	session, _ := args.Get(0).(tool.Session)
	return session, args.Error(1)
}

type recorder struct {
	events []sse.Event
	done   int
}

func (r *recorder) Send(evt sse.Event) error {
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) Done() error {
	r.done++
	return nil
}

func (r *recorder) ofType(t sse.EventType) []sse.Event {
	var out []sse.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func text(s string) contract.StreamEvent {
	return contract.StreamEvent{Type: contract.EventTextDelta, Text: s}
}

func toolStart(index int, id, name string) contract.StreamEvent {
	return contract.StreamEvent{Type: contract.EventBlockStart, Index: index, BlockType: contract.BlockToolUse, ID: id, Name: name}
}

func inputDelta(index int, fragment string) contract.StreamEvent {
	return contract.StreamEvent{Type: contract.EventInputDelta, Index: index, PartialJSON: fragment}
}

func stop(reason string) contract.StreamEvent {
	return contract.StreamEvent{Type: contract.EventMessageDelta, StopReason: reason}
}

func endTurn(answer string) []contract.StreamEvent {
	events := []contract.StreamEvent{{Type: contract.EventBlockStart, BlockType: contract.BlockText}}
	if answer != "" {
		events = append(events, text(answer))
	}
	return append(events, stop(contract.StopEndTurn))
}

var searchTool = []contract.ToolDef{{
	Name:        "search",
	Description: "Search Wikipedia",
	InputSchema: map[string]interface{}{"type": "object"},
}}

func newSession(tools []contract.ToolDef) *MockSession {
	session := new(MockSession)
	session.On("ListTools", mock.Anything).Return(tools, nil).Once()
	session.On("Close").Return(nil).Once()
	return session
}

func newConnector(session tool.Session) *MockConnector {
	connector := new(MockConnector)
	connector.On("Connect", mock.Anything).Return(session, nil).Once()
	return connector
}

func userAsks(q string) []contract.Message {
	return []contract.Message{contract.TextMessage(contract.RoleUser, q)}
}

func TestLoop_AnswerWithoutTools(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]contract.StreamEvent{endTurn("Quantum computing is...")}}
	session := newSession(searchTool)
	out := &recorder{}

	loop := NewLoop(provider, newConnector(session), Options{Model: "claude-sonnet-4-5", MaxTokens: 4096})
	res := loop.Run(context.Background(), userAsks("What is quantum computing?"), out)

	require.NoError(t, res.Err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 0, res.Rounds)

	require.Len(t, out.events, 1)
	assert.Equal(t, sse.TypeText, out.events[0].Type)
	assert.Equal(t, "Quantum computing is...", out.events[0].ContentText())
	assert.Equal(t, 1, out.done)

	require.Len(t, res.Transcript, 2)
	assert.Equal(t, contract.TextMessage(contract.RoleAssistant, "Quantum computing is..."), res.Transcript[1])

	require.Len(t, provider.requests, 1)
	assert.Equal(t, "claude-sonnet-4-5", provider.requests[0].Model)
	assert.Equal(t, 4096, provider.requests[0].MaxTokens)
	assert.Equal(t, searchTool, provider.requests[0].Tools)
	assert.True(t, provider.streams[0].Closed())
	session.AssertExpectations(t)
}

func TestLoop_ToolRoundWithFragmentedInput(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]contract.StreamEvent{
		{
			toolStart(0, "toolu_1", "search"),
			inputDelta(0, `{"query":"Ada `),
			inputDelta(0, `Lovelace"}`),
			stop(contract.StopToolUse),
		},
		endTurn("Ada Lovelace was a mathematician."),
	}}
	session := newSession(searchTool)
	result := json.RawMessage(`[{"type":"text","text":"Augusta Ada King..."}]`)
	session.On("CallTool", mock.Anything, "search", json.RawMessage(`{"query":"Ada Lovelace"}`)).Return(result, nil).Once()
	out := &recorder{}

	res := NewLoop(provider, newConnector(session), Options{}).Run(context.Background(), userAsks("Who was Ada Lovelace?"), out)

	require.NoError(t, res.Err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 1, res.Rounds)

	require.Len(t, out.events, 3)
	assert.Equal(t, sse.TypeToolUse, out.events[0].Type)
	assert.Equal(t, "search", out.events[0].Name)
	assert.JSONEq(t, `{"query":"Ada Lovelace"}`, string(out.events[0].Input))
	assert.Equal(t, sse.TypeToolResult, out.events[1].Type)
	assert.JSONEq(t, string(result), string(out.events[1].Content))
	assert.Equal(t, sse.TypeText, out.events[2].Type)
	assert.Equal(t, 1, out.done)

	// A second model call sees the tool round appended to the transcript.
	require.Len(t, provider.requests, 2)
	second := provider.requests[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, contract.RoleAssistant, second[1].Role)
	require.Len(t, second[1].Blocks, 1)
	assert.Equal(t, contract.BlockToolUse, second[1].Blocks[0].Type)
	assert.Equal(t, "toolu_1", second[1].Blocks[0].ID)
	assert.Equal(t, contract.RoleUser, second[2].Role)
	require.Len(t, second[2].Blocks, 1)
	assert.Equal(t, "toolu_1", second[2].Blocks[0].ToolUseID)
	assert.Equal(t, string(result), second[2].Blocks[0].Result)
	assert.False(t, second[2].Blocks[0].IsError)

	require.Len(t, res.Transcript, 4)
	session.AssertExpectations(t)
}

func TestLoop_FailedToolCallIsFedBackToModel(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]contract.StreamEvent{
		{
			text("Let me "),
			text("check."),
			toolStart(1, "toolu_a", "search"),
			inputDelta(1, `{"query":"Turing"}`),
			toolStart(2, "toolu_b", "summary"),
			inputDelta(2, `{"title":"Alan Turing"}`),
			stop(contract.StopToolUse),
		},
		endTurn("Turing was a pioneer."),
	}}
	session := newSession(searchTool)
	session.On("CallTool", mock.Anything, "search", mock.Anything).Return(json.RawMessage(`[{"type":"text","text":"hit"}]`), nil).Once()
	session.On("CallTool", mock.Anything, "summary", mock.Anything).
		Return(nil, chatErrors.ToolInvocation(errors.New("page not found"), "call summary")).Once()
	out := &recorder{}

	res := NewLoop(provider, newConnector(session), Options{}).Run(context.Background(), userAsks("Who was Alan Turing?"), out)

	require.NoError(t, res.Err)
	assert.Equal(t, StateDone, res.State)

	var types []sse.EventType
	for _, e := range out.events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []sse.EventType{
		sse.TypeText, sse.TypeText,
		sse.TypeToolUse, sse.TypeToolResult,
		sse.TypeToolUse,
		sse.TypeText,
	}, types)
	assert.Empty(t, out.ofType(sse.TypeError))

	require.Len(t, res.Transcript, 4)
	assistant := res.Transcript[1]
	require.Len(t, assistant.Blocks, 3)
	assert.Equal(t, contract.ContentBlock{Type: contract.BlockText, Text: "Let me check."}, assistant.Blocks[0])
	assert.Equal(t, "toolu_a", assistant.Blocks[1].ID)
	assert.Equal(t, "toolu_b", assistant.Blocks[2].ID)

	results := res.Transcript[2]
	require.Len(t, results.Blocks, 2)
	assert.Equal(t, "toolu_a", results.Blocks[0].ToolUseID)
	assert.False(t, results.Blocks[0].IsError)
	assert.Equal(t, "toolu_b", results.Blocks[1].ToolUseID)
	assert.True(t, results.Blocks[1].IsError)
	assert.Equal(t, "Error: call summary: tool invocation failed: page not found", results.Blocks[1].Result)

	assert.Equal(t, contract.TextMessage(contract.RoleAssistant, "Turing was a pioneer."), res.Transcript[3])
	session.AssertExpectations(t)
}

func TestLoop_CommitsLongestParseablePrefix(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]contract.StreamEvent{
		{
			toolStart(0, "toolu_1", "search"),
			inputDelta(0, `{"query"`),
			inputDelta(0, `:"Ada"}`),
			inputDelta(0, ` trailing`),
			stop(contract.StopToolUse),
		},
	}}
	session := newSession(searchTool)
	session.On("CallTool", mock.Anything, "search", json.RawMessage(`{"query":"Ada"}`)).Return(json.RawMessage(`[]`), nil).Once()
	out := &recorder{}

	res := NewLoop(provider, newConnector(session), Options{}).Run(context.Background(), userAsks("Ada?"), out)

	require.NoError(t, res.Err)
	uses := out.ofType(sse.TypeToolUse)
	require.Len(t, uses, 1)
	assert.JSONEq(t, `{"query":"Ada"}`, string(uses[0].Input))
	session.AssertExpectations(t)
}

func TestLoop_ToolUseWithoutInputFallsBackToEmptyObject(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]contract.StreamEvent{
		{toolStart(0, "toolu_1", "random"), stop(contract.StopToolUse)},
	}}
	session := newSession(searchTool)
	session.On("CallTool", mock.Anything, "random", json.RawMessage(`{}`)).Return(json.RawMessage(`[]`), nil).Once()
	out := &recorder{}

	res := NewLoop(provider, newConnector(session), Options{}).Run(context.Background(), userAsks("Surprise me"), out)

	require.NoError(t, res.Err)
	uses := out.ofType(sse.TypeToolUse)
	require.Len(t, uses, 1)
	assert.Equal(t, `{}`, string(uses[0].Input))
	session.AssertExpectations(t)
}

func TestLoop_ToolUseStopWithoutBlocksIsDone(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]contract.StreamEvent{
		{text("Nothing to look up."), stop(contract.StopToolUse)},
	}}
	session := newSession(searchTool)
	out := &recorder{}

	res := NewLoop(provider, newConnector(session), Options{}).Run(context.Background(), userAsks("hi"), out)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 1, out.done)
	assert.Len(t, provider.requests, 1)
	session.AssertExpectations(t)
}

func TestLoop_ToolConnectionFailure(t *testing.T) {
	provider := &scriptedProvider{}
	connector := new(MockConnector)
	connector.On("Connect", mock.Anything).
		Return(nil, chatErrors.ToolConnection(errors.New("exec: \"npx\": executable file not found"), "mcp handshake")).Once()
	out := &recorder{}

	res := NewLoop(provider, connector, Options{}).Run(context.Background(), userAsks("hi"), out)

	assert.Equal(t, StateFailed, res.State)
	assert.True(t, errors.Is(res.Err, chatErrors.ErrToolConnection))
	require.Len(t, out.events, 1)
	assert.Equal(t, sse.TypeError, out.events[0].Type)
	assert.Contains(t, out.events[0].ContentText(), "executable file not found")
	assert.Zero(t, out.done)
	assert.Empty(t, provider.requests)
	connector.AssertExpectations(t)
}

func TestLoop_ToolDiscoveryFailureClosesSession(t *testing.T) {
	session := new(MockSession)
	session.On("ListTools", mock.Anything).Return(nil, chatErrors.ToolConnection(errors.New("EOF"), "list tools")).Once()
	session.On("Close").Return(nil).Once()
	out := &recorder{}

	res := NewLoop(&scriptedProvider{}, newConnector(session), Options{}).Run(context.Background(), userAsks("hi"), out)

	assert.Equal(t, StateFailed, res.State)
	require.Len(t, out.events, 1)
	assert.Equal(t, sse.TypeError, out.events[0].Type)
	session.AssertExpectations(t)
}

func TestLoop_ModelStreamFailure(t *testing.T) {
	provider := &scriptedProvider{
		rounds:  [][]contract.StreamEvent{{text("Partial ")}},
		failAt:  1,
		failErr: errors.New("overloaded_error"),
	}
	session := newSession(searchTool)
	out := &recorder{}

	res := NewLoop(provider, newConnector(session), Options{}).Run(context.Background(), userAsks("hi"), out)

	assert.Equal(t, StateFailed, res.State)
	assert.True(t, errors.Is(res.Err, chatErrors.ErrModelProvider))
	require.Len(t, out.events, 2)
	assert.Equal(t, sse.TypeText, out.events[0].Type)
	assert.Equal(t, sse.TypeError, out.events[1].Type)
	assert.Contains(t, out.events[1].ContentText(), "overloaded_error")
	assert.Zero(t, out.done)
	assert.Len(t, res.Transcript, 1)
	session.AssertExpectations(t)
}

func TestLoop_ModelOpenFailure(t *testing.T) {
	provider := &scriptedProvider{openErr: errors.New("401 unauthorized")}
	session := newSession(searchTool)
	out := &recorder{}

	res := NewLoop(provider, newConnector(session), Options{}).Run(context.Background(), userAsks("hi"), out)

	assert.Equal(t, StateFailed, res.State)
	assert.True(t, errors.Is(res.Err, chatErrors.ErrModelProvider))
	require.Len(t, out.ofType(sse.TypeError), 1)
	session.AssertExpectations(t)
}

func TestLoop_MaxRoundsExceeded(t *testing.T) {
	provider := &scriptedProvider{repeat: []contract.StreamEvent{
		toolStart(0, "toolu_x", "search"),
		inputDelta(0, `{"query":"again"}`),
		stop(contract.StopToolUse),
	}}
	session := newSession(searchTool)
	session.On("CallTool", mock.Anything, "search", mock.Anything).Return(json.RawMessage(`[]`), nil).Times(2)
	out := &recorder{}

	res := NewLoop(provider, newConnector(session), Options{MaxRounds: 2}).Run(context.Background(), userAsks("loop"), out)

	assert.Equal(t, StateFailed, res.State)
	assert.True(t, errors.Is(res.Err, chatErrors.ErrMaxRoundsExceeded))
	assert.Equal(t, 2, res.Rounds)
	assert.Len(t, provider.requests, 3)
	assert.Len(t, out.ofType(sse.TypeError), 1)
	assert.Len(t, out.ofType(sse.TypeToolUse), 2)
	assert.Equal(t, sse.TypeError, out.events[len(out.events)-1].Type)
	assert.Len(t, res.Transcript, 5)
	session.AssertExpectations(t)
}

func TestLoop_NRoundsAppendNPairs(t *testing.T) {
	round := []contract.StreamEvent{
		toolStart(0, "toolu_r", "search"),
		inputDelta(0, `{"query":"q"}`),
		stop(contract.StopToolUse),
	}
	provider := &scriptedProvider{rounds: [][]contract.StreamEvent{round, round, round, endTurn("done")}}
	session := newSession(searchTool)
	session.On("CallTool", mock.Anything, "search", mock.Anything).Return(json.RawMessage(`[]`), nil).Times(3)
	out := &recorder{}

	res := NewLoop(provider, newConnector(session), Options{}).Run(context.Background(), userAsks("q"), out)

	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Rounds)
	require.Len(t, res.Transcript, 1+2*3+1)
	for i := 0; i < 3; i++ {
		assert.Equal(t, contract.RoleAssistant, res.Transcript[1+2*i].Role)
		assert.Equal(t, contract.RoleUser, res.Transcript[2+2*i].Role)
	}
	session.AssertExpectations(t)
}

// blockingProvider returns streams that never produce an event before the context ends.
type blockingProvider struct{}

func (blockingProvider) Name() string { return "blocking" }

func (blockingProvider) Stream(ctx context.Context, req contract.StreamRequest) (contract.Stream, error) {
	return &blockingStream{ctx: ctx}, nil
}

type blockingStream struct {
	ctx context.Context
}

func (s *blockingStream) Next() bool {
	<-s.ctx.Done()
	return false
}

func (s *blockingStream) Event() contract.StreamEvent { return contract.StreamEvent{} }
func (s *blockingStream) Err() error                  { return s.ctx.Err() }
func (s *blockingStream) Close() error                { return nil }

func TestLoop_ModelTimeoutIsFatal(t *testing.T) {
	session := newSession(searchTool)
	out := &recorder{}

	res := NewLoop(blockingProvider{}, newConnector(session), Options{ModelTimeout: 20 * time.Millisecond}).
		Run(context.Background(), userAsks("hi"), out)

	assert.Equal(t, StateFailed, res.State)
	assert.True(t, errors.Is(res.Err, chatErrors.ErrModelProvider))
	require.Len(t, out.events, 1)
	assert.Contains(t, out.events[0].ContentText(), "no model response within 20ms")
	session.AssertExpectations(t)
}

func TestLoop_CancelledRequestDuringToolCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	provider := &scriptedProvider{rounds: [][]contract.StreamEvent{
		{toolStart(0, "toolu_1", "search"), inputDelta(0, `{}`), stop(contract.StopToolUse)},
	}}
	session := newSession(searchTool)
	session.On("CallTool", mock.Anything, "search", mock.Anything).
		Run(func(args mock.Arguments) { cancel() }).
		Return(nil, chatErrors.ToolInvocation(context.Canceled, "call search")).Once()
	out := &recorder{}

	res := NewLoop(provider, newConnector(session), Options{}).Run(ctx, userAsks("hi"), out)

	assert.Equal(t, StateFailed, res.State)
	assert.True(t, errors.Is(res.Err, context.Canceled))
	assert.Len(t, provider.requests, 1)
	session.AssertExpectations(t)
}

func TestNewLoopFromConfig(t *testing.T) {
	cfg := &config.Config{
		Model:        config.ModelConfig{Name: "claude-sonnet-4-5", MaxTokens: 1024, SystemPrompt: "Be brief."},
		Orchestrator: config.OrchestratorConfig{MaxRounds: 3, ModelTimeout: "30s"},
	}
	loop, err := NewLoopFromConfig(cfg, &scriptedProvider{}, new(MockConnector))
	require.NoError(t, err)
	assert.Equal(t, Options{Model: "claude-sonnet-4-5", System: "Be brief.", MaxTokens: 1024, MaxRounds: 3, ModelTimeout: 30 * time.Second}, loop.opts)

	cfg.Orchestrator.ModelTimeout = "-1s"
	_, err = NewLoopFromConfig(cfg, &scriptedProvider{}, new(MockConnector))
	assert.True(t, errors.Is(err, chatErrors.ErrInvalidInput))
}
