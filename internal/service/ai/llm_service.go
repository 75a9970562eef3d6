package ai

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// ChatModelGenerator feeds the assembled prompt to an eino chat model as a
// single user message.
type ChatModelGenerator struct {
	chatModel model.ChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewChatModelGenerator compiles the template → model chain once.
func NewChatModelGenerator(ctx context.Context, chatModel model.ChatModel) (*ChatModelGenerator, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.UserMessage("{prompt}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ChatModelGenerator{
		chatModel: chatModel,
		chain:     runnable,
	}, nil
}

// Generate runs the chain and returns the trimmed reply content.
func (g *ChatModelGenerator) Generate(ctx context.Context, promptText string) (string, error) {
	response, err := g.chain.Invoke(ctx, map[string]any{"prompt": promptText})
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	if response == nil {
		return "", fmt.Errorf("%w: chain returned no message", ErrMalformedResponse)
	}

	content := strings.TrimSpace(response.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}

	log.Printf("[ai] chat model prompt_len=%d reply_len=%d", len(promptText), len(content))
	return content, nil
}

// ChatModel returns the underlying chat model.
func (g *ChatModelGenerator) ChatModel() model.ChatModel {
	return g.chatModel
}
