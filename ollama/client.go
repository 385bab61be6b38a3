// Package ollama adapts the Ollama model server API client to the climbwall tools.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

const DefaultBaseURL = "http://localhost:11434"

type (
	Message          = api.Message
	ChatResponse     = api.ChatResponse
	GenerateResponse = api.GenerateResponse
	ModelInfo        = api.ListModelResponse
	// StatusError A non 2xx answer of the server, carries the server message in ErrorMessage
	StatusError = api.StatusError
)

// Options Model parameters, a nil field keeps the model default
type Options struct {
	NumPredict  *int
	Temperature *float64
	TopP        *float64
	Stop        []string
}

func (o *Options) toMap() map[string]any {
	if o == nil {
		return nil
	}
	m := map[string]any{}
	if o.NumPredict != nil {
		m["num_predict"] = *o.NumPredict
	}
	if o.Temperature != nil {
		m["temperature"] = *o.Temperature
	}
	if o.TopP != nil {
		m["top_p"] = *o.TopP
	}
	if len(o.Stop) > 0 {
		m["stop"] = o.Stop
	}
	return m
}

type ChatRequest struct {
	Model    string
	Messages []Message
	Options  *Options
}

func (r ChatRequest) toAPI(stream bool) *api.ChatRequest {
	return &api.ChatRequest{
		Model:    r.Model,
		Messages: r.Messages,
		Stream:   &stream,
		Options:  r.Options.toMap(),
	}
}

type GenerateRequest struct {
	Model  string
	Prompt string
	// Suffix makes the model fill the code between Prompt and Suffix
	Suffix  string
	Options *Options
}

// Client Ollama client. Timeout bounds non streaming calls, streams are bounded by their context only.
type Client struct {
	api     *api.Client
	Timeout time.Duration
}

func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base url %q: %w", baseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid ollama base url %q", baseURL)
	}
	return &Client{api: api.NewClient(base, &http.Client{}), Timeout: timeout}, nil
}

func (c *Client) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout > 0 {
		return context.WithTimeout(ctx, c.Timeout)
	}
	return context.WithCancel(ctx)
}

// Chat Complete a conversation in one response
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var response ChatResponse
	err := c.api.Chat(ctx, req.toAPI(false), func(r api.ChatResponse) error {
		response = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &response, nil
}

// ChatStream Complete a conversation, fn is called with every chunk in the order they arrive
// up to and including the done chunk
func (c *Client) ChatStream(ctx context.Context, req ChatRequest, fn func(ChatResponse) error) error {
	done := false
	return c.api.Chat(ctx, req.toAPI(true), func(chunk api.ChatResponse) error {
		if done {
			return nil
		}
		done = chunk.Done
		return fn(chunk)
	})
}

func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	stream := false
	var response GenerateResponse
	err := c.api.Generate(ctx, &api.GenerateRequest{
		Model:   req.Model,
		Prompt:  req.Prompt,
		Suffix:  req.Suffix,
		Stream:  &stream,
		Options: req.Options.toMap(),
	}, func(r api.GenerateResponse) error {
		response = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &response, nil
}

// ListModels Models available locally
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	response, err := c.api.List(ctx)
	if err != nil {
		return nil, err
	}
	return response.Models, nil
}

func Int(v int) *int { return &v }

func Float(v float64) *float64 { return &v }
