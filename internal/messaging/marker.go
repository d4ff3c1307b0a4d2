// Package messaging extracts teammate-to-teammate messages from agent output
// and relays them to their recipients.
package messaging

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ShayCichocki/teamlead/pkg/models"
)

// ErrMalformedMarker is wrapped by every marker parse error.
var ErrMalformedMarker = errors.New("malformed message marker")

// markerPattern matches <!-- send-message {json} -->, tag case-insensitive,
// colon optional.
var markerPattern = regexp.MustCompile(`(?is)<!--\s*send-message\s*:?\s*(.*?)\s*-->`)

// Parse extracts every message marker from text. Each marker is parsed on
// its own; a bad marker yields an error entry and scanning continues.
func Parse(text, sender string, now time.Time) ([]models.TeammateMessage, []error) {
	var (
		msgs []models.TeammateMessage
		errs []error
	)
	for i, m := range markerPattern.FindAllStringSubmatch(text, -1) {
		msg, err := parsePayload(m[1])
		if err != nil {
			errs = append(errs, fmt.Errorf("marker %d: %w", i, err))
			continue
		}
		msg.Sender = sender
		msg.Timestamp = now
		msgs = append(msgs, msg)
	}
	return msgs, errs
}

func parsePayload(payload string) (models.TeammateMessage, error) {
	payload = strings.TrimSpace(payload)
	if !gjson.Valid(payload) || !gjson.Parse(payload).IsObject() {
		return models.TeammateMessage{}, fmt.Errorf("%w: payload is not a JSON object", ErrMalformedMarker)
	}
	p := gjson.Parse(payload)

	msg := models.TeammateMessage{
		Type:      models.MessageType(strings.ToLower(p.Get("type").String())),
		Recipient: strings.TrimSpace(p.Get("recipient").String()),
		Content:   p.Get("content").String(),
		Summary:   p.Get("summary").String(),
		RequestID: first(p, "requestId", "request_id").String(),
	}
	if approve := p.Get("approve"); approve.Exists() {
		v := approve.Bool()
		msg.Approve = &v
	}

	if !msg.Type.Valid() {
		return models.TeammateMessage{}, fmt.Errorf("%w: unknown type %q", ErrMalformedMarker, msg.Type)
	}
	if msg.Type != models.MessageBroadcast && msg.Recipient == "" {
		return models.TeammateMessage{}, fmt.Errorf("%w: %s needs a recipient", ErrMalformedMarker, msg.Type)
	}
	return msg, nil
}

func first(p gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := p.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

// Format renders a message as the context injected into the recipient.
func Format(msg models.TeammateMessage) string {
	var b strings.Builder
	switch msg.Type {
	case models.MessageShutdownRequest:
		fmt.Fprintf(&b, "Shutdown request from %s", msg.Sender)
	case models.MessageShutdownResponse:
		fmt.Fprintf(&b, "Shutdown response from %s", msg.Sender)
		if msg.Approve != nil {
			if *msg.Approve {
				b.WriteString(" (approved)")
			} else {
				b.WriteString(" (rejected)")
			}
		}
	case models.MessageBroadcast:
		fmt.Fprintf(&b, "Broadcast from %s", msg.Sender)
	default:
		fmt.Fprintf(&b, "Message from %s", msg.Sender)
	}
	if msg.RequestID != "" {
		fmt.Fprintf(&b, " [request %s]", msg.RequestID)
	}
	if msg.Summary != "" {
		fmt.Fprintf(&b, ": %s", msg.Summary)
	}
	if msg.Content != "" {
		b.WriteString("\n\n")
		b.WriteString(msg.Content)
	}
	return b.String()
}
