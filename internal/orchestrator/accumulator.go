package orchestrator

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/harunnryd/wikichat/internal/model/contract"
)

var emptyInput = json.RawMessage(`{}`)

type pendingToolUse struct {
	id        string
	name      string
	buf       strings.Builder
	committed json.RawMessage
}

// toolUseAccumulator collects the tool requests of one model round. Blocks are keyed by id and
// kept in first-observed order; input fragments are routed by stream index.
type toolUseAccumulator struct {
	order   []*pendingToolUse
	byID    map[string]*pendingToolUse
	byIndex map[int]*pendingToolUse
}

func newToolUseAccumulator() *toolUseAccumulator {
	return &toolUseAccumulator{
		byID:    make(map[string]*pendingToolUse),
		byIndex: make(map[int]*pendingToolUse),
	}
}

func (a *toolUseAccumulator) start(index int, id, name string) {
	if block, ok := a.byID[id]; ok {
		a.byIndex[index] = block
		return
	}
	block := &pendingToolUse{id: id, name: name, committed: emptyInput}
	a.order = append(a.order, block)
	a.byID[id] = block
	a.byIndex[index] = block
}

// appendInput adds a fragment and commits the buffer if it now parses. An unparseable buffer
// leaves the previous commit in place.
func (a *toolUseAccumulator) appendInput(index int, fragment string) {
	block, ok := a.byIndex[index]
	if !ok {
		if len(a.order) == 0 {
			return
		}
		block = a.order[len(a.order)-1]
	}

	block.buf.WriteString(fragment)
	candidate := bytes.TrimSpace([]byte(block.buf.String()))
	if len(candidate) > 0 && json.Valid(candidate) {
		block.committed = json.RawMessage(candidate)
	}
}

func (a *toolUseAccumulator) count() int {
	return len(a.order)
}

func (a *toolUseAccumulator) blocks() []contract.ToolUseBlock {
	out := make([]contract.ToolUseBlock, 0, len(a.order))
	for _, b := range a.order {
		out = append(out, contract.ToolUseBlock{ID: b.id, Name: b.name, Input: b.committed})
	}
	return out
}
