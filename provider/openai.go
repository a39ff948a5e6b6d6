package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// ChatClient is a thin wrapper over an OpenAI-compatible chat completion
// endpoint that returns JSON documents.
type ChatClient struct {
	client openai.Client
	model  string
}

func NewChatClient(apiKey, baseURL, model string) *ChatClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// the pipeline owns retries
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &ChatClient{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func systemMessage(content string) openai.ChatCompletionMessageParamUnion {
	return openai.ChatCompletionMessageParamUnion{
		OfSystem: &openai.ChatCompletionSystemMessageParam{
			Content: openai.ChatCompletionSystemMessageParamContentUnion{
				OfString: openai.Opt(content),
			},
		},
	}
}

func userMessage(content string, images ...string) openai.ChatCompletionMessageParamUnion {
	if len(images) == 0 {
		return openai.ChatCompletionMessageParamUnion{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfString: openai.String(content),
				},
			},
		}
	}

	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(images)+1)
	parts = append(parts, openai.ChatCompletionContentPartUnionParam{
		OfText: &openai.ChatCompletionContentPartTextParam{Text: content},
	})
	for _, url := range images {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: url,
		}))
	}
	return openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfArrayOfContentParts: parts,
			},
		},
	}
}

// CompleteJSON sends the messages and decodes the first JSON object found in
// the reply into out.
func (c *ChatClient) CompleteJSON(ctx context.Context, out any, messages ...openai.ChatCompletionMessageParamUnion) error {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Opt(0.4),
	})
	if err != nil {
		return classifyAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return Temporary(errors.New("empty completion"))
	}

	text := resp.Choices[0].Message.Content
	body, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("decode model reply: %w", err)
	}
	return nil
}

// ExtractJSON returns the text between the first "{" and the last "}".
func ExtractJSON(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end < start {
		return "", errors.New("model reply contains no JSON object")
	}
	return text[start : end+1], nil
}

func classifyAPIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 500 || apiErr.StatusCode == 429 {
			return Temporary(err)
		}
		return err
	}
	if IsTemporary(err) {
		return Temporary(err)
	}
	return err
}

// imageDataURL inlines a local jpeg as a data URL.
func imageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	mime := "image/jpeg"
	if strings.EqualFold(filepath.Ext(path), ".png") {
		mime = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data)), nil
}
