// Package naming derives short display names for sessions from their task.
package naming

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/ShayCichocki/teamlead/internal/logging"
)

// MaxLength bounds a display name in runes.
const MaxLength = 60

const titlePrompt = `Write a title of at most six words for the following task.
Reply with the title only, no quotes or punctuation at the end.

Task:
%s`

// Titler produces a title for a task description.
type Titler interface {
	Title(ctx context.Context, task string) (string, error)
}

// Options configures the title generator.
type Options struct {
	Enabled    bool
	Model      string
	APIKey     string
	Bedrock    bool
	AWSRegion  string
	AWSProfile string
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Generator names sessions. Without a titler it only truncates.
type Generator struct {
	titler  Titler
	timeout time.Duration
	logger  *slog.Logger
}

// New builds a generator. A disabled or unconfigured generator falls back to
// truncating the task text.
func New(opts Options) (*Generator, error) {
	g := &Generator{
		timeout: opts.Timeout,
		logger:  logging.OrDiscard(opts.Logger).With("component", "naming"),
	}
	if g.timeout <= 0 {
		g.timeout = 20 * time.Second
	}
	if !opts.Enabled {
		return g, nil
	}
	titler, err := newAnthropicTitler(opts)
	if err != nil {
		return nil, err
	}
	g.titler = titler
	return g, nil
}

// NewWithTitler builds a generator around an existing titler.
func NewWithTitler(titler Titler, logger *slog.Logger) *Generator {
	return &Generator{
		titler:  titler,
		timeout: 20 * time.Second,
		logger:  logging.OrDiscard(logger).With("component", "naming"),
	}
}

// Initial returns the name a session gets at creation.
func (g *Generator) Initial(task string) string {
	return Fallback(task)
}

// Generate asks the titler for a better name. It reports false when no
// titler is configured or the titler failed.
func (g *Generator) Generate(ctx context.Context, task string) (string, bool) {
	if g == nil || g.titler == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	title, err := g.titler.Title(ctx, task)
	if err != nil {
		g.logger.Warn("title generation failed", "error", err)
		return "", false
	}
	title = clean(title)
	if title == "" {
		return "", false
	}
	return title, true
}

// Fallback derives a name from the first line of the task.
func Fallback(task string) string {
	line := strings.TrimSpace(task)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.Join(strings.Fields(line), " ")
	if line == "" {
		return "Untitled session"
	}
	return truncate(line, MaxLength)
}

func clean(title string) string {
	title = strings.TrimSpace(title)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	title = strings.Trim(title, "\"'`*# ")
	title = strings.TrimRight(title, ".")
	return truncate(strings.Join(strings.Fields(title), " "), MaxLength)
}

// truncate cuts s to at most n runes, preferring a word boundary.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:n-3])
	if i := strings.LastIndexByte(cut, ' '); i > len(cut)/2 {
		cut = cut[:i]
	}
	return cut + "..."
}

type anthropicTitler struct {
	client anthropic.Client
	model  anthropic.Model
}

func newAnthropicTitler(opts Options) (*anthropicTitler, error) {
	var reqOpts []option.RequestOption
	model := anthropic.Model(opts.Model)
	if model == "" {
		model = anthropic.ModelClaudeHaiku4_5_20251001
	}

	if opts.Bedrock {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if opts.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(opts.AWSRegion))
		}
		if opts.AWSProfile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.AWSProfile))
		}
		reqOpts = append(reqOpts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
		model = bedrockModel(model)
	} else {
		if opts.APIKey == "" {
			return nil, fmt.Errorf("naming: no Anthropic API key configured")
		}
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}

	return &anthropicTitler{client: anthropic.NewClient(reqOpts...), model: model}, nil
}

func (t *anthropicTitler) Title(ctx context.Context, task string) (string, error) {
	resp, err := t.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     t.model,
		MaxTokens: 64,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(fmt.Sprintf(titlePrompt, task))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			return text.Text, nil
		}
	}
	return "", fmt.Errorf("generate title: empty response")
}

// bedrockModel maps Anthropic model names to Bedrock inference profiles.
func bedrockModel(model anthropic.Model) anthropic.Model {
	profiles := map[anthropic.Model]string{
		"claude-haiku-4-5":                      "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
	}
	if p, ok := profiles[model]; ok {
		return anthropic.Model(p)
	}
	return model
}
