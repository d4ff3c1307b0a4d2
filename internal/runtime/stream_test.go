package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	var s streamState

	events := s.parseLine([]byte(`{"type":"system","subtype":"init","session_id":"rt-1","model":"sonnet"}`))
	require.Len(t, events, 1)
	assert.Equal(t, EventInit, events[0].Kind)
	assert.Equal(t, "rt-1", events[0].RuntimeSessionID)

	events = s.parseLine([]byte(`{"type":"assistant","message":{"content":[
		{"type":"text","text":"Planning the work."},
		{"type":"tool_use","name":"Task","input":{}},
		{"type":"text","text":"Spawning teammates."}
	],"usage":{"input_tokens":100,"output_tokens":20}}}`))
	require.Len(t, events, 2)
	assert.Equal(t, EventText, events[0].Kind)
	assert.Equal(t, "Planning the work.\nSpawning teammates.", events[0].Text)
	assert.Equal(t, EventUsage, events[1].Kind)
	assert.Equal(t, int64(100), events[1].InputTokens)

	events = s.parseLine([]byte(`{"type":"assistant","message":{"content":[],"usage":{"input_tokens":50,"output_tokens":10}}}`))
	require.Len(t, events, 1)
	assert.Equal(t, int64(150), events[0].InputTokens, "usage accumulates across messages")
	assert.Equal(t, int64(30), events[0].OutputTokens)

	events = s.parseLine([]byte(`{"type":"result","subtype":"success","is_error":false,"result":"All done","total_cost_usd":0.31,"usage":{"input_tokens":150,"output_tokens":30}}`))
	require.Len(t, events, 2)
	assert.Equal(t, EventUsage, events[0].Kind)
	assert.InDelta(t, 0.31, events[0].CostUSD, 1e-9)
	assert.Equal(t, EventResult, events[1].Kind)
	assert.Equal(t, "All done", events[1].Text)
	assert.False(t, events[1].IsError)
	assert.True(t, s.sawResult)
}

func TestParseLine_SubagentTrafficIsHidden(t *testing.T) {
	var s streamState
	events := s.parseLine([]byte(`{"type":"assistant","parent_tool_use_id":"toolu_1","message":{"content":[{"type":"text","text":"teammate chatter"}]}}`))
	assert.Empty(t, events)
}

func TestParseLine_ErrorResult(t *testing.T) {
	var s streamState
	events := s.parseLine([]byte(`{"type":"result","subtype":"error_max_turns","is_error":false}`))
	require.Len(t, events, 2)
	assert.True(t, events[1].IsError)

	events = s.parseLine([]byte(`{"type":"error","error":{"message":"overloaded"}}`))
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Kind)
	assert.EqualError(t, events[0].Err, "overloaded")
}

func TestParseLine_IgnoresNoise(t *testing.T) {
	var s streamState
	for _, line := range []string{
		"not json",
		`[1,2,3]`,
		`{"type":"system","subtype":"compact_boundary"}`,
		`{"type":"user","message":{"content":"tool result"}}`,
	} {
		assert.Empty(t, s.parseLine([]byte(line)), line)
	}
}

func TestParseLine_UsageCountedOncePerMessage(t *testing.T) {
	var s streamState
	s.parseLine([]byte(`{"type":"system","subtype":"init","session_id":"rt-1","model":"claude-sonnet-4-5"}`))

	line := `{"type":"assistant","message":{"id":"msg_1","content":[{"type":"text","text":"block"}],"usage":{"input_tokens":90000,"output_tokens":10}}}`
	events := s.parseLine([]byte(line))
	require.Len(t, events, 2)
	first := events[1]
	assert.Equal(t, int64(90000), first.InputTokens)
	assert.InDelta(t, 0.27015, first.CostUSD, 1e-9, "running cost is estimated before the result")

	events = s.parseLine([]byte(line))
	require.Len(t, events, 2)
	assert.Equal(t, int64(90000), events[1].InputTokens, "a repeated message id is not counted twice")
	assert.InDelta(t, first.CostUSD, events[1].CostUSD, 1e-9)

	events = s.parseLine([]byte(`{"type":"assistant","message":{"id":"msg_2","content":[],"usage":{"input_tokens":1000,"output_tokens":500}}}`))
	require.Len(t, events, 1)
	assert.Equal(t, int64(91000), events[0].InputTokens)
	assert.Equal(t, int64(510), events[0].OutputTokens)
	assert.InDelta(t, 0.28065, events[0].CostUSD, 1e-9)
}

func TestParseLine_SubagentUsageCountsTowardCost(t *testing.T) {
	s := streamState{model: "sonnet"}
	events := s.parseLine([]byte(`{"type":"assistant","parent_tool_use_id":"toolu_1","message":{"id":"msg_9","content":[{"type":"text","text":"chatter"}],"usage":{"input_tokens":1000000,"output_tokens":0}}}`))
	require.Len(t, events, 1)
	assert.Equal(t, EventUsage, events[0].Kind)
	assert.Zero(t, events[0].InputTokens)
	assert.InDelta(t, 3.0, events[0].CostUSD, 1e-9)
}

func TestParseLine_ResultCostIsAuthoritative(t *testing.T) {
	s := streamState{model: "opus"}
	s.parseLine([]byte(`{"type":"assistant","message":{"id":"msg_1","content":[],"usage":{"input_tokens":100000,"output_tokens":0}}}`))
	events := s.parseLine([]byte(`{"type":"result","subtype":"success","total_cost_usd":1.2}`))
	assert.InDelta(t, 1.2, events[0].CostUSD, 1e-9)

	events = s.parseLine([]byte(`{"type":"assistant","message":{"id":"msg_2","content":[],"usage":{"input_tokens":100000,"output_tokens":0}}}`))
	require.Len(t, events, 1)
	assert.InDelta(t, 1.2, events[0].CostUSD, 1e-9)
}

func TestEstimateCost(t *testing.T) {
	tests := []struct {
		model string
		usage tokenUsage
		want  float64
	}{
		{"claude-opus-4-5-20251101", tokenUsage{input: 1e6}, 5},
		{"claude-opus-4-1", tokenUsage{output: 1e6}, 75},
		{"claude-haiku-4-5", tokenUsage{input: 1e6, output: 1e6}, 6},
		{"sonnet", tokenUsage{cacheWrite: 1e6, cacheRead: 1e6}, 3*1.25 + 3*0.1},
		{"", tokenUsage{input: 1e6}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.InDelta(t, tt.want, estimateCost(tt.model, tt.usage), 1e-9)
		})
	}
}
