// Package vision asks a multimodal model to grade lid photos.
package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"lid-inspector/internal/domain"
	"lid-inspector/internal/imageproc"
)

// Classifier grades a single prepared frame.
type Classifier interface {
	Classify(ctx context.Context, img image.Image, settings domain.Settings) (Result, error)
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIClassifier sends frames to an OpenAI compatible chat completions endpoint.
type OpenAIClassifier struct {
	client *openai.Client
	model  string
}

func NewOpenAIClassifier(cfg Config) (*OpenAIClassifier, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAIClassifier{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

func (c *OpenAIClassifier) Classify(ctx context.Context, img image.Image, settings domain.Settings) (Result, error) {
	data, err := imageproc.EncodeJPEG(img)
	if err != nil {
		return Result{}, err
	}
	dataURI := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: BuildMessages(settings, dataURI),
	})
	if err != nil {
		return Result{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, errors.New("chat completion returned no choices")
	}

	res := ParseResponse(resp.Choices[0].Message.Content)
	res.Model = c.model
	return res, nil
}

var _ Classifier = (*OpenAIClassifier)(nil)
