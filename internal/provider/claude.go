package provider

import (
	"context"
	"errors"
	"net/http"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/sells-group/terms-cli/internal/resilience"
)

// ClaudeClient calls the Anthropic Messages API via the official SDK.
type ClaudeClient struct {
	client sdk.Client
}

// NewClaude creates a Claude provider backed by anthropic-sdk-go.
func NewClaude(apiKey string, opts ...option.RequestOption) *ClaudeClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &ClaudeClient{client: sdk.NewClient(opts...)}
}

func (c *ClaudeClient) Name() string { return "claude" }

func (c *ClaudeClient) Infer(ctx context.Context, req InferRequest) (*InferResponse, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, c.classify(err)
	}

	var text string
	for _, b := range msg.Content {
		if b.Type == "text" {
			text += b.Text
		}
	}
	if text == "" {
		return nil, &resilience.SchemaViolationError{Provider: c.Name(), Detail: "empty message content"}
	}

	return &InferResponse{
		Text:         text,
		Model:        string(msg.Model),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

// classify maps SDK errors onto the adapter's error taxonomy.
func (c *ClaudeClient) classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return &resilience.AuthError{Provider: c.Name(), Status: apiErr.StatusCode}
		case resilience.IsTransientHTTPStatus(apiErr.StatusCode):
			return resilience.NewTransientError(err, apiErr.StatusCode)
		}
	}
	return eris.Wrap(err, "claude: create message")
}
