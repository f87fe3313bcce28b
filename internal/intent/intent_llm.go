package intent

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"rebanada-bot-backend/internal/catalog"
	"rebanada-bot-backend/internal/metrics"
)

//go:embed grounded_prompt.yaml
var defaultPrompt []byte

const DidNotUnderstandReply = "Disculpa, no entendí. ¿Quieres ver el *menú* o nuestras *promos*?"

// Where a Result came from.
const (
	SourceRules    = "rules"
	SourceGrounded = "grounded"
	SourceFallback = "fallback"
)

var ErrNoChoices = errors.New("no choices")

type PromptSpec struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
	Style  struct {
		Temperature float32 `yaml:"temperature"`
		MaxTokens   int     `yaml:"max_tokens"`
		Language    string  `yaml:"language"`
	} `yaml:"style"`
}

// ChatCompleter is the slice of the OpenAI client the responder needs.
// *openai.Client satisfies it.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Result is a responder answer. Order is passed through exactly as the
// service produced it and is nil when absent.
type Result struct {
	Reply  string
	Done   bool
	Order  json.RawMessage
	Source string
}

type GroundedOptions struct {
	Model       string
	Temperature float32
	Timeout     time.Duration
}

type GroundedResponder struct {
	spec   PromptSpec
	client ChatCompleter
	opts   GroundedOptions
	log    *zap.Logger
}

// LoadGroundedResponder reads the prompt spec from path, or uses the built-in
// prompt when path is empty.
func LoadGroundedResponder(path string, client ChatCompleter, opts GroundedOptions, log *zap.Logger) (*GroundedResponder, error) {
	b := defaultPrompt
	if path != "" {
		var err error
		if b, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read prompt: %w", err)
		}
	}
	var spec PromptSpec
	if err := yaml.Unmarshal(b, &spec); err != nil {
		return nil, fmt.Errorf("parse prompt: %w", err)
	}
	if strings.TrimSpace(spec.System) == "" {
		return nil, fmt.Errorf("prompt %q has no system instruction", path)
	}
	if spec.User == "" {
		spec.User = `Cliente ({sender}) dice: "{text}"`
	}
	if opts.Temperature <= 0 {
		opts.Temperature = spec.Style.Temperature
	}
	if opts.Temperature <= 0 {
		opts.Temperature = 0.3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GroundedResponder{spec: spec, client: client, opts: opts, log: log.Named("grounded")}, nil
}

// Respond asks the text generation service for a reply grounded on c. It
// never returns an error: any failure of the call degrades to the rule
// matcher's reply with Done=false.
func (g *GroundedResponder) Respond(ctx context.Context, text, senderID string, c *catalog.Catalog) Result {
	if c == nil {
		c = catalog.Empty()
	}
	raw, err := g.complete(ctx, text, senderID, c)
	if err != nil {
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		metrics.GroundedFallbacks.WithLabelValues(reason).Inc()
		g.log.Error("llm call failed, using rules", zap.String("sender", senderID), zap.String("reason", reason), zap.Error(err))
		return Result{Reply: Match(text, c), Source: SourceFallback}
	}
	res, ok := ParseReply(raw)
	if !ok {
		metrics.GroundedFallbacks.WithLabelValues("malformed").Inc()
		g.log.Warn("llm reply is not a JSON object, wrapping as text", zap.String("sender", senderID))
	}
	return res
}

// BuildMessages renders the system and user turns for one request.
func (g *GroundedResponder) BuildMessages(text, senderID string, c *catalog.Catalog) ([]openai.ChatCompletionMessage, error) {
	menu, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode menu: %w", err)
	}
	var sys strings.Builder
	sys.WriteString(strings.TrimRight(g.spec.System, "\n"))
	sys.WriteString("\nMENU: ")
	sys.Write(menu)

	user := strings.NewReplacer("{sender}", senderID, "{text}", text).Replace(g.spec.User)
	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: sys.String()},
		{Role: openai.ChatMessageRoleUser, Content: user},
	}, nil
}

func (g *GroundedResponder) complete(ctx context.Context, text, senderID string, c *catalog.Catalog) (string, error) {
	messages, err := g.BuildMessages(text, senderID, c)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()
	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.opts.Model,
		Temperature: g.opts.Temperature,
		MaxTokens:   g.spec.Style.MaxTokens,
		Messages:    messages,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	metrics.GroundedDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

// ParseReply turns the service output into a Result. ok is false when the
// output was not a JSON object and had to be wrapped as plain text.
func ParseReply(raw string) (Result, bool) {
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	fields, ok := decodeObject(raw)
	if !ok {
		return Result{Reply: raw, Source: SourceGrounded}, false
	}

	res := Result{Source: SourceGrounded}
	if v, has := fields["reply"]; has {
		_ = json.Unmarshal(v, &res.Reply)
	}
	if res.Reply == "" {
		res.Reply = DidNotUnderstandReply
	}
	if v, has := fields["done"]; has {
		if err := json.Unmarshal(v, &res.Done); err != nil {
			res.Done = false
		}
	}
	if v, has := fields["order"]; has && IsObject(v) {
		res.Order = v
	}
	return res, true
}

// IsObject reports whether raw holds a JSON object. Any other value, null
// included, does not count as an order.
func IsObject(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "{") {
		return false
	}
	var m map[string]json.RawMessage
	return json.Unmarshal([]byte(trimmed), &m) == nil
}

// decodeObject parses raw as a JSON object, retrying on the outermost {...}
// span when the model wrapped the object in prose.
func decodeObject(raw string) (map[string]json.RawMessage, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err == nil && fields != nil {
		return fields, true
	}
	first := strings.IndexByte(raw, '{')
	last := strings.LastIndexByte(raw, '}')
	if first < 0 || last <= first {
		return nil, false
	}
	fields = nil
	if err := json.Unmarshal([]byte(raw[first:last+1]), &fields); err != nil || fields == nil {
		return nil, false
	}
	return fields, true
}
