package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"
)

const transcribePrompt = "You are an OCR engine for photographed book pages. " +
	"Transcribe every piece of readable text in the image exactly as printed, in Korean or English. " +
	"Keep the original line breaks. Do not translate, summarize, describe the image or add commentary. " +
	"If the image contains no readable text, answer with an empty message."

// OpenAI extracts text with a vision-capable chat model.
type OpenAI struct {
	client *openai.Client
	model  string
}

func NewOpenAI(apiKey, model string) *OpenAI {
	return NewOpenAIWithConfig(openai.DefaultConfig(apiKey), model)
}

func NewOpenAIWithConfig(cfg openai.ClientConfig, model string) *OpenAI {
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (p *OpenAI) Name() string { return "openai" }

func (p *OpenAI) Extract(ctx context.Context, img Image) (string, error) {
	if len(img.Data) == 0 {
		return "", wrap(p.Name(), "encode", errors.New("empty image"))
	}

	imageURL := fmt.Sprintf("data:%s;base64,%s", img.MIMEType, base64.StdEncoding.EncodeToString(img.Data))

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: transcribePrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    imageURL,
							Detail: openai.ImageURLDetailHigh,
						},
					},
					{
						Type: openai.ChatMessagePartTypeText,
						Text: "Transcribe the text in this image.",
					},
				},
			},
		},
		MaxTokens:   2000,
		Temperature: 0,
	})
	if err != nil {
		return "", wrap(p.Name(), "chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", wrap(p.Name(), "extract", ErrEmptyResult)
	}

	slog.Debug("openai extraction finished",
		"model", resp.Model,
		"tokens_used", resp.Usage.TotalTokens,
		"finish_reason", resp.Choices[0].FinishReason)

	return nonEmpty(p.Name(), resp.Choices[0].Message.Content)
}
