package runtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/ShayCichocki/teamlead/internal/logging"
)

const (
	// EnvSessionID carries the supervisor session id to hook commands.
	EnvSessionID = "TEAMLEAD_SESSION_ID"
	// EnvServerURL carries the hook bridge URL to hook commands.
	EnvServerURL = "TEAMLEAD_URL"

	stderrTail = 4096
)

// permissionHookTimeout keeps the runtime waiting on the operator; requests
// have no timeout of their own.
const permissionHookTimeout = 7 * 24 * 60 * 60

// ClaudeOptions configures the claude CLI binding.
type ClaudeOptions struct {
	// Command is the CLI executable with any fixed arguments.
	Command string
	// HookCommand is the command the runtime runs for every hook; the hook
	// name is appended.
	HookCommand string
	// ServerURL is exported to hook commands.
	ServerURL string
	Logger    *slog.Logger
}

// Claude runs lead invocations through the claude CLI in stream-json mode.
type Claude struct {
	argv     []string
	settings string
	url      string
	logger   *slog.Logger
}

// NewClaude validates the options and renders the hook settings once.
func NewClaude(opts ClaudeOptions) (*Claude, error) {
	argv, err := shellquote.Split(opts.Command)
	if err != nil {
		return nil, fmt.Errorf("parse runtime command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("runtime command is empty")
	}
	settings, err := HookSettings(opts.HookCommand)
	if err != nil {
		return nil, err
	}
	return &Claude{
		argv:     argv,
		settings: settings,
		url:      opts.ServerURL,
		logger:   logging.OrDiscard(opts.Logger).With("component", "runtime"),
	}, nil
}

// Start implements Runtime.
func (c *Claude) Start(ctx context.Context, req StartRequest) (Invocation, error) {
	return c.launch(ctx, req, "")
}

// Resume implements Runtime.
func (c *Claude) Resume(ctx context.Context, req ResumeRequest) (Invocation, error) {
	if req.RuntimeSessionID == "" {
		return nil, fmt.Errorf("resume: missing runtime session id")
	}
	return c.launch(ctx, req.StartRequest, req.RuntimeSessionID)
}

// ResumeAgent implements Runtime. It runs a one-shot resumed conversation
// for the teammate and waits for it to finish.
func (c *Claude) ResumeAgent(ctx context.Context, msg AgentMessage) error {
	args := append(c.baseArgs(), "--resume", msg.AgentID, "-p", msg.Content)
	cmd := exec.CommandContext(ctx, c.argv[0], append(c.argv[1:], args...)...)
	cmd.Dir = msg.WorkDir
	cmd.Env = c.env(msg.SessionID)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = io.Discard
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("resume agent %s: %w: %s", msg.AgentID, err, tail(stderr.String()))
	}
	return nil
}

func (c *Claude) baseArgs() []string {
	return []string{
		"--output-format", "stream-json",
		"--print",
		"--verbose",
		"--settings", c.settings,
	}
}

func (c *Claude) env(sessionID string) []string {
	return append(os.Environ(), EnvSessionID+"="+sessionID, EnvServerURL+"="+c.url)
}

func (c *Claude) launch(parent context.Context, req StartRequest, resumeID string) (*claudeInvocation, error) {
	args := c.baseArgs()
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.PermissionMode != "" {
		args = append(args, "--permission-mode", string(req.PermissionMode))
	}
	if req.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.SystemPrompt)
	}
	if resumeID != "" {
		args = append(args, "--resume", resumeID)
	}
	args = append(args, "-p", req.Prompt)

	ctx, cancel := context.WithCancel(parent)
	cmd := exec.CommandContext(ctx, c.argv[0], append(c.argv[1:], args...)...)
	cmd.Dir = req.WorkDir
	cmd.Env = c.env(req.SessionID)
	cmd.WaitDelay = 2 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", c.argv[0], err)
	}

	inv := &claudeInvocation{
		cmd:    cmd,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event, 100),
		done:   make(chan struct{}),
		model:  req.Model,
		logger: c.logger.With("session", req.SessionID, "pid", cmd.Process.Pid),
	}
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		inv.readStderr(stderr)
	}()
	go inv.readOutput(stdout, stderrDone)

	inv.logger.Debug("invocation started", "resume", resumeID != "")
	return inv, nil
}

type claudeInvocation struct {
	cmd    *exec.Cmd
	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	done   chan struct{}
	model  string
	logger *slog.Logger

	mu     sync.Mutex
	stderr []byte
}

func (p *claudeInvocation) Events() <-chan Event  { return p.events }
func (p *claudeInvocation) Done() <-chan struct{} { return p.done }

// Interrupt sends SIGINT and waits for the process to exit.
func (p *claudeInvocation) Interrupt(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signal invocation: %w", err)
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ErrInterruptTimeout
	}
}

// Abort kills the process.
func (p *claudeInvocation) Abort() {
	p.cancel()
}

func (p *claudeInvocation) readOutput(stdout io.Reader, stderrDone <-chan struct{}) {
	defer close(p.done)
	defer close(p.events)
	defer p.cancel()

	state := streamState{model: p.model}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		for _, ev := range state.parseLine(line) {
			if !p.send(ev) {
				p.drain(scanner)
				p.wait(stderrDone)
				return
			}
		}
	}
	if err := scanner.Err(); err != nil && p.ctx.Err() == nil {
		p.send(Event{Kind: EventError, Err: fmt.Errorf("read stream: %w", err)})
	}

	err := p.wait(stderrDone)
	if err != nil && !state.sawResult && p.ctx.Err() == nil {
		p.send(Event{Kind: EventError, Err: fmt.Errorf("runtime exited: %w: %s", err, tail(p.stderrText()))})
	}
	p.logger.Debug("invocation exited", "error", err)
}

func (p *claudeInvocation) send(ev Event) bool {
	select {
	case p.events <- ev:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// drain consumes the rest of stdout so the process is not blocked on a
// full pipe while it shuts down.
func (p *claudeInvocation) drain(scanner *bufio.Scanner) {
	p.logger.Debug("invocation aborted, draining output")
	for scanner.Scan() {
	}
}

func (p *claudeInvocation) wait(stderrDone <-chan struct{}) error {
	<-stderrDone
	return p.cmd.Wait()
}

func (p *claudeInvocation) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 16*1024), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		p.logger.Debug("runtime stderr", "line", line)
		p.mu.Lock()
		p.stderr = append(p.stderr, line...)
		p.stderr = append(p.stderr, '\n')
		if len(p.stderr) > 2*stderrTail {
			p.stderr = append([]byte(nil), p.stderr[len(p.stderr)-stderrTail:]...)
		}
		p.mu.Unlock()
	}
}

func (p *claudeInvocation) stderrText() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.stderr)
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		return "..." + s[len(s)-stderrTail:]
	}
	return s
}

type hookCommand struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
}

type hookMatcher struct {
	Matcher string        `json:"matcher,omitempty"`
	Hooks   []hookCommand `json:"hooks"`
}

// HookSettings renders the --settings document that points every hook in
// HookKinds at command.
func HookSettings(command string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", fmt.Errorf("hook command is empty")
	}
	hooks := make(map[string][]hookMatcher, len(HookKinds))
	for _, kind := range HookKinds {
		cmd := hookCommandFor(command, kind)
		m := hookMatcher{Hooks: []hookCommand{cmd}}
		if kind == HookPermissionRequest {
			m.Matcher = "*"
		}
		hooks[string(kind)] = []hookMatcher{m}
	}
	data, err := json.Marshal(map[string]any{"hooks": hooks})
	if err != nil {
		return "", fmt.Errorf("render hook settings: %w", err)
	}
	return string(data), nil
}

func hookCommandFor(base string, kind HookKind) hookCommand {
	cmd := hookCommand{Type: "command", Command: base + " " + shellquote.Join(string(kind))}
	if kind == HookPermissionRequest {
		cmd.Timeout = permissionHookTimeout
	}
	return cmd
}
