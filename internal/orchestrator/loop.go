package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harunnryd/wikichat/internal/config"
	chatErrors "github.com/harunnryd/wikichat/internal/errors"
	"github.com/harunnryd/wikichat/internal/logger"
	"github.com/harunnryd/wikichat/internal/model"
	"github.com/harunnryd/wikichat/internal/model/contract"
	"github.com/harunnryd/wikichat/internal/sse"
	"github.com/harunnryd/wikichat/internal/tool"
)

type State string

const (
	StateGenerating State = "GENERATING"
	StateToolRound  State = "TOOL_ROUND"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)

// Emitter receives the frames of one response stream. *sse.Writer satisfies it.
type Emitter interface {
	Send(evt sse.Event) error
	Done() error
}

type Options struct {
	Model        string
	System       string
	MaxTokens    int
	MaxRounds    int
	ModelTimeout time.Duration
}

// Result describes how a request ended. Transcript includes every message appended during the
// request, and the final answer when the loop reached DONE.
type Result struct {
	Transcript []contract.Message
	Rounds     int
	State      State
	Err        error
}

// Loop drives one chat request: model rounds interleaved with tool rounds until the model stops
// asking for tools.
type Loop struct {
	provider  model.Provider
	connector tool.Connector
	opts      Options
}

func NewLoop(provider model.Provider, connector tool.Connector, opts Options) *Loop {
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = config.DefaultOrchestratorMaxRounds
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = config.DefaultModelMaxTokens
	}
	return &Loop{provider: provider, connector: connector, opts: opts}
}

// NewLoopFromConfig builds a loop from the model and orchestrator sections of cfg.
func NewLoopFromConfig(cfg *config.Config, provider model.Provider, connector tool.Connector) (*Loop, error) {
	modelTimeout, err := config.OptionalDuration(cfg.Orchestrator.ModelTimeout)
	if err != nil {
		return nil, chatErrors.InvalidInput(fmt.Sprintf("orchestrator.model_timeout: %v", err))
	}
	return NewLoop(provider, connector, Options{
		Model:        cfg.Model.Name,
		System:       cfg.Model.SystemPrompt,
		MaxTokens:    cfg.Model.MaxTokens,
		MaxRounds:    cfg.Orchestrator.MaxRounds,
		ModelTimeout: modelTimeout,
	}), nil
}

type turn struct {
	text       string
	uses       []contract.ToolUseBlock
	stopReason string
}

// Run executes the request against a fresh tool session. It always ends with either the [DONE]
// frame or exactly one error event, and the tool session is closed on every path.
func (l *Loop) Run(ctx context.Context, transcript []contract.Message, out Emitter) Result {
	ctx = logger.WithNewTraceID(ctx)
	log := logger.FromContext(ctx)

	res := Result{
		Transcript: append([]contract.Message(nil), transcript...),
		State:      StateGenerating,
	}

	session, err := l.connector.Connect(ctx)
	if err != nil {
		return l.fail(ctx, out, res, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("Failed to close tool session", "error", err)
		}
	}()

	tools, err := session.ListTools(ctx)
	if err != nil {
		return l.fail(ctx, out, res, err)
	}
	log.Info("Tool session ready", "tools", toolNames(tools), "messages", len(transcript))

	for {
		t, err := l.generate(ctx, res.Transcript, tools, out)
		if err != nil {
			return l.fail(ctx, out, res, err)
		}

		if t.stopReason != contract.StopToolUse || len(t.uses) == 0 {
			if t.text != "" {
				res.Transcript = append(res.Transcript, contract.TextMessage(contract.RoleAssistant, t.text))
			}
			res.State = StateDone
			if err := out.Done(); err != nil {
				log.Debug("Failed to write completion marker", "error", err)
			}
			log.Info("Chat request done", "rounds", res.Rounds, "stop_reason", t.stopReason)
			return res
		}

		if res.Rounds >= l.opts.MaxRounds {
			err := fmt.Errorf("model still requesting tools after %d rounds: %w", res.Rounds, chatErrors.ErrMaxRoundsExceeded)
			return l.fail(ctx, out, res, err)
		}

		res.State = StateToolRound
		results, err := l.runTools(ctx, session, t.uses, out)
		if err != nil {
			return l.fail(ctx, out, res, err)
		}

		res.Transcript = append(res.Transcript,
			contract.AssistantToolMessage(t.text, t.uses),
			contract.ToolResultMessage(results),
		)
		res.Rounds++
		res.State = StateGenerating
	}
}

// generate runs one model call, forwarding text as it arrives and collecting tool requests.
func (l *Loop) generate(ctx context.Context, transcript []contract.Message, tools []contract.ToolDef, out Emitter) (turn, error) {
	if l.opts.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.ModelTimeout)
		defer cancel()
	}

	stream, err := l.provider.Stream(ctx, contract.StreamRequest{
		Model:     l.opts.Model,
		System:    l.opts.System,
		MaxTokens: l.opts.MaxTokens,
		Messages:  transcript,
		Tools:     tools,
	})
	if err != nil {
		return turn{}, chatErrors.ModelProvider(l.timeoutCause(ctx, err), "open model stream")
	}
	defer stream.Close()

	acc := newToolUseAccumulator()
	var text strings.Builder
	var stopReason string

	for stream.Next() {
		ev := stream.Event()
		switch ev.Type {
		case contract.EventBlockStart:
			if ev.BlockType == contract.BlockToolUse {
				acc.start(ev.Index, ev.ID, ev.Name)
			}
		case contract.EventTextDelta:
			if ev.Text == "" {
				continue
			}
			text.WriteString(ev.Text)
			if err := out.Send(sse.Text(ev.Text)); err != nil {
				return turn{}, chatErrors.Wrap(err, "emit text")
			}
		case contract.EventInputDelta:
			acc.appendInput(ev.Index, ev.PartialJSON)
		case contract.EventMessageDelta:
			if ev.StopReason != "" {
				stopReason = ev.StopReason
			}
		}
	}
	if err := stream.Err(); err != nil {
		return turn{}, chatErrors.ModelProvider(l.timeoutCause(ctx, err), "read model stream")
	}
	if err := ctx.Err(); err != nil {
		return turn{}, chatErrors.ModelProvider(l.timeoutCause(ctx, err), "read model stream")
	}

	logger.FromContext(ctx).Debug("Model round finished", "stop_reason", stopReason, "tool_uses", acc.count(), "text_len", text.Len())
	return turn{text: text.String(), uses: acc.blocks(), stopReason: stopReason}, nil
}

// runTools calls each requested tool in order. A failed call becomes an error result for the
// model; only cancellation of the request or a broken stream aborts the round.
func (l *Loop) runTools(ctx context.Context, session tool.Session, uses []contract.ToolUseBlock, out Emitter) ([]contract.ToolResult, error) {
	log := logger.FromContext(ctx)
	results := make([]contract.ToolResult, 0, len(uses))

	for _, use := range uses {
		if err := out.Send(sse.ToolUse(use.Name, use.Input)); err != nil {
			return nil, chatErrors.Wrap(err, "emit tool_use")
		}

		start := time.Now()
		log.Info("Calling tool", "tool", use.Name, "tool_use_id", use.ID, "input", string(use.Input))
		raw, err := session.CallTool(ctx, use.Name, use.Input)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, chatErrors.Wrap(ctxErr, "tool round interrupted")
			}
			if chatErrors.IsFatal(err) {
				return nil, err
			}
			log.Warn("Tool call failed", "tool", use.Name, "error", err, "category", chatErrors.Category(err), "duration", time.Since(start))
			results = append(results, contract.ToolResult{
				ToolUseID: use.ID,
				Content:   errorContent(err),
				IsError:   true,
			})
			continue
		}

		log.Info("Tool call succeeded", "tool", use.Name, "duration", time.Since(start))
		if err := out.Send(sse.ToolResult(raw)); err != nil {
			return nil, chatErrors.Wrap(err, "emit tool_result")
		}
		results = append(results, contract.ToolResult{ToolUseID: use.ID, Content: raw})
	}
	return results, nil
}

func (l *Loop) fail(ctx context.Context, out Emitter, res Result, err error) Result {
	res.State = StateFailed
	res.Err = err
	log := logger.FromContext(ctx)
	log.Error("Chat request failed", "error", err, "category", chatErrors.Category(err), "rounds", res.Rounds)

	if sendErr := out.Send(sse.Error(err.Error())); sendErr != nil {
		log.Debug("Failed to write error event", "error", sendErr)
	}
	return res
}

func (l *Loop) timeoutCause(ctx context.Context, err error) error {
	if l.opts.ModelTimeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("no model response within %s: %w", l.opts.ModelTimeout, err)
	}
	return err
}

func errorContent(err error) json.RawMessage {
	raw, _ := json.Marshal("Error: " + err.Error())
	return raw
}

func toolNames(tools []contract.ToolDef) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return names
}
