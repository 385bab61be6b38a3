package browseragent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrLLM = errors.New("language model request failed")

// ChatMessage One message of an OpenAI style conversation
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLM A chat completion model
type LLM interface {
	Chat(ctx context.Context, messages []ChatMessage) (string, error)
}

// OpenAIClient Chat completions against any OpenAI compatible endpoint
type OpenAIClient struct {
	BaseURL string
	APIKey  string
	Model   string
	client  *http.Client
}

// NewOpenAIClient Create a client, baseURL is the API root (for instance https://api.openai.com/v1)
func NewOpenAIClient(baseURL string, apiKey string, model string, timeout time.Duration) *OpenAIClient {
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &OpenAIClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Chat Send the conversation and return the content of the first choice
func (o *OpenAIClient) Chat(ctx context.Context, messages []ChatMessage) (string, error) {
	payload, err := json.Marshal(chatCompletionRequest{Model: o.Model, Messages: messages})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrLLM, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrLLM, err.Error())
	}
	var response chatCompletionResponse
	decodeErr := json.Unmarshal(body, &response)
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if decodeErr == nil && response.Error != nil {
			msg = response.Error.Message
		}
		return "", fmt.Errorf("%w: status %d: %s", ErrLLM, resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("%w: %s", ErrLLM, decodeErr.Error())
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrLLM)
	}
	return response.Choices[0].Message.Content, nil
}
