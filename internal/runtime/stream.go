package runtime

import (
	"errors"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// streamState accumulates usage across the lines of one invocation.
type streamState struct {
	model        string
	inputTokens  int64
	outputTokens int64
	costUSD      float64
	sawResult    bool
	// messages holds the last usage seen per message id. The runtime repeats
	// a message's usage on every content block line.
	messages map[string]tokenUsage
	anon     int
}

// parseLine converts one stream-json line into zero or more events.
// Lines that are not JSON objects are ignored.
func (s *streamState) parseLine(line []byte) []Event {
	if !gjson.ValidBytes(line) {
		return nil
	}
	doc := gjson.ParseBytes(line)
	if !doc.IsObject() {
		return nil
	}

	switch doc.Get("type").String() {
	case "system":
		if doc.Get("subtype").String() != "init" {
			return nil
		}
		if m := doc.Get("model").String(); m != "" {
			s.model = m
		}
		return []Event{{Kind: EventInit, RuntimeSessionID: doc.Get("session_id").String()}}

	case "assistant":
		// Sub-agent traffic carries a parent tool use id; only lead output is
		// visible, but its spend counts.
		if doc.Get("parent_tool_use_id").String() != "" {
			if usage := doc.Get("message.usage"); usage.Exists() {
				s.addUsage(doc.Get("message"), false)
				return []Event{s.usage()}
			}
			return nil
		}
		var events []Event
		var texts []string
		doc.Get("message.content").ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "text" {
				if t := block.Get("text").String(); t != "" {
					texts = append(texts, t)
				}
			}
			return true
		})
		if len(texts) > 0 {
			events = append(events, Event{Kind: EventText, Text: strings.Join(texts, "\n")})
		}
		if usage := doc.Get("message.usage"); usage.Exists() {
			s.addUsage(doc.Get("message"), true)
			events = append(events, s.usage())
		}
		return events

	case "result":
		s.sawResult = true
		if usage := doc.Get("usage"); usage.Exists() {
			s.inputTokens = max(s.inputTokens, usage.Get("input_tokens").Int())
			s.outputTokens = max(s.outputTokens, usage.Get("output_tokens").Int())
		}
		if cost := doc.Get("total_cost_usd"); cost.Exists() {
			s.costUSD = cost.Float()
		} else if cost := doc.Get("cost_usd"); cost.Exists() {
			s.costUSD = cost.Float()
		}
		return []Event{
			s.usage(),
			{
				Kind:    EventResult,
				Text:    doc.Get("result").String(),
				IsError: doc.Get("is_error").Bool() || strings.HasPrefix(doc.Get("subtype").String(), "error"),
			},
		}

	case "error":
		msg := doc.Get("error.message").String()
		if msg == "" {
			msg = doc.Get("error").String()
		}
		if msg == "" {
			msg = doc.Get("message").String()
		}
		return []Event{{Kind: EventError, Err: errors.New(msg)}}
	}
	return nil
}

// addUsage folds one message's usage into the totals, replacing what an
// earlier line of the same message contributed. Only lead messages count
// toward the token totals; every message counts toward the cost estimate.
func (s *streamState) addUsage(msg gjson.Result, lead bool) {
	u := msg.Get("usage")
	cur := tokenUsage{
		input:      u.Get("input_tokens").Int(),
		output:     u.Get("output_tokens").Int(),
		cacheWrite: u.Get("cache_creation_input_tokens").Int(),
		cacheRead:  u.Get("cache_read_input_tokens").Int(),
	}
	if s.messages == nil {
		s.messages = make(map[string]tokenUsage)
	}
	id := msg.Get("id").String()
	if id == "" {
		s.anon++
		id = "#" + strconv.Itoa(s.anon)
	}
	prev := s.messages[id]
	s.messages[id] = cur

	if lead {
		s.inputTokens += cur.input - prev.input
		s.outputTokens += cur.output - prev.output
	}
	if !s.sawResult {
		model := s.model
		if m := msg.Get("model").String(); m != "" {
			model = m
		}
		s.costUSD += estimateCost(model, cur) - estimateCost(model, prev)
	}
}

func (s *streamState) usage() Event {
	return Event{
		Kind:         EventUsage,
		CostUSD:      s.costUSD,
		InputTokens:  s.inputTokens,
		OutputTokens: s.outputTokens,
	}
}
