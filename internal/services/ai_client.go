package services

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

	"github.com/engineo-ai/engineo-backend/internal/logger"
	"github.com/engineo-ai/engineo-backend/internal/playbook"
	"github.com/engineo-ai/engineo-backend/internal/utils"
)

// AssetContext is what the suggestion provider gets to see about one asset.
type AssetContext struct {
	AssetID     string
	AssetType   playbook.AssetType
	Title       string
	Description string
	ShopDomain  string
}

// AIClient is the suggestion provider. Only the preview generator may hold a
// reference to it; the estimate calculator and the apply executor must not.
type AIClient interface {
	GenerateSuggestion(ctx context.Context, asset AssetContext, field playbook.Field, hint string) (string, error)
}

type aiClient struct {
	httpClient  *http.Client
	log         *logger.Logger
	apiKey      string
	baseURL     string
	models      []string
	callTimeout time.Duration
}

func NewAIClient(log *logger.Logger) (AIClient, error) {
	serviceLog := log.With("service", "AIClient")
	apiKey := utils.GetEnv("OPENAI_API_KEY", "", log)
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	baseURL := utils.GetEnv("OPENAI_BASE_URL", "https://api.openai.com/v1", log)
	modelChain := utils.GetEnv("OPENAI_MODEL_CHAIN", "gpt-4o-mini,gpt-4o", log)
	timeoutSeconds := utils.GetEnvAsInt("AI_CALL_TIMEOUT_SECONDS", 30, log)
	models := []string{}
	for _, m := range strings.Split(modelChain, ",") {
		m = strings.TrimSpace(m)
		if m != "" {
			models = append(models, m)
		}
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("OPENAI_MODEL_CHAIN resolved to no models")
	}
	return &aiClient{
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSeconds+5) * time.Second,
		},
		log:         serviceLog,
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		models:      models,
		callTimeout: time.Duration(timeoutSeconds) * time.Second,
	}, nil
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
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// GenerateSuggestion walks the model fallback chain with a bounded timeout per
// call. A 429 from every model surfaces as AI_QUOTA_EXHAUSTED; any other
// failure on every model surfaces as AI_ALL_MODELS_EXHAUSTED.
func (c *aiClient) GenerateSuggestion(ctx context.Context, asset AssetContext, field playbook.Field, hint string) (string, error) {
	system := "You are an e-commerce SEO assistant. Respond with the requested text only, no quotes, no markdown."
	user := fmt.Sprintf("%s\n\nAsset type: %s\nTitle: %s\nDescription: %s", hint, asset.AssetType, asset.Title, asset.Description)

	sawQuota := false
	var lastErr error
	for _, model := range c.models {
		text, err := c.chatOnce(ctx, model, system, user)
		if err == nil {
			return strings.TrimSpace(text), nil
		}
		lastErr = err
		switch playbook.CodeOf(err) {
		case playbook.CodeAIQuotaExhausted:
			sawQuota = true
		case playbook.CodeAITimeout:
			// Caller's deadline is gone; trying more models won't help.
			if ctx.Err() != nil {
				return "", err
			}
		}
		c.log.Warn("AI model call failed, trying next model", "model", model, "error", err)
	}
	if sawQuota {
		return "", playbook.WrapError(playbook.CodeAIQuotaExhausted, lastErr)
	}
	return "", playbook.WrapError(playbook.CodeAIAllModelsExhausted, lastErr)
}

func (c *aiClient) chatOnce(ctx context.Context, model, system, user string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	payload, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return "", playbook.WrapError(playbook.CodeAITimeout, err)
		}
		return "", playbook.WrapError(playbook.CodeAITransient, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", playbook.WrapError(playbook.CodeAITransient, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", playbook.NewError(playbook.CodeAIQuotaExhausted, "provider rate limit")
	}
	if resp.StatusCode >= 500 {
		return "", playbook.NewError(playbook.CodeAITransient, fmt.Sprintf("provider %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return "", playbook.NewError(playbook.CodeAITransient, fmt.Sprintf("provider %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", playbook.WrapError(playbook.CodeAITransient, err)
	}
	if parsed.Error != nil {
		return "", playbook.NewError(playbook.CodeAITransient, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", playbook.NewError(playbook.CodeAITransient, "empty completion")
	}
	return parsed.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
