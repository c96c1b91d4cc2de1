package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const modelsAPIURL = "https://models.github.ai/inference/chat/completions"

// ModelsClient talks to an OpenAI-compatible chat completions endpoint
// (GitHub Models by default).
type ModelsClient struct {
	url        string
	token      string
	model      string
	httpClient *http.Client
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewModelsClient creates a client. An empty url selects GitHub Models.
func NewModelsClient(url, token, model string) *ModelsClient {
	if url == "" {
		url = modelsAPIURL
	}
	return &ModelsClient{
		url:        url,
		token:      token,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (m *ModelsClient) Chat(ctx context.Context, systemPrompt string, history []Message) (string, error) {
	reqBody := chatRequest{
		Model:    m.model,
		Messages: []chatMessage{{Role: "system", Content: systemPrompt}},
	}
	for _, msg := range history {
		reqBody.Messages = append(reqBody.Messages, chatMessage{Role: msg.Role, Content: msg.Content})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.token)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request to models API failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("models API returned %d: %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if chatResp.Error != nil {
		return "", fmt.Errorf("models API error: %s", chatResp.Error.Message)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("models API returned no choices")
	}

	return chatResp.Choices[0].Message.Content, nil
}
