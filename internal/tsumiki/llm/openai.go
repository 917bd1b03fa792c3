package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultOpenAIBase = "https://api.openai.com/v1"

// defaultSystemPrompt keeps the robot in character: a cheerful little desktop
// assistant that answers briefly in Japanese and defers hardware actions to
// explicit commands.
const defaultSystemPrompt = `あなたはスタックチャン。すーぱーかわいいアシスタントロボットとして、日本語で短く元気に返事します。
ルール:
- いつも明るくポジティブに。かわいく語尾を柔らかくする。
- ハードウェア操作はユーザーがコマンドでお願いしたときだけ。そうでなければ提案や案内にとどめる。
- 安全第一。危険そうな操作は確認を促す。
- 長文は避け、必要なら箇条書きで簡潔に。`

// OpenAIConfig configures the OpenAI-compatible adapter.
type OpenAIConfig struct {
	// APIKey is the bearer token for the API.
	APIKey string
	// BaseURL overrides the API endpoint (useful for local models like
	// Ollama). Defaults to https://api.openai.com/v1.
	BaseURL string
	// Model is the chat model. Defaults to gpt-4o-mini.
	Model string
	// SystemPrompt overrides the built-in persona prompt.
	SystemPrompt string
	// Timeout for each HTTP request. Defaults to 60s.
	Timeout time.Duration
}

type openAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI returns a Provider backed by the OpenAI (or compatible) API.
func NewOpenAI(cfg OpenAIConfig) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBase
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &openAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- wire types (subset of the OpenAI API) ---

type oaiRequest struct {
	Model    string       `json:"model"`
	Messages []oaiMessage `json:"messages"`
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiResponse struct {
	Choices []struct {
		Message oaiMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Chat sends a single-turn completion with the persona system prompt.
func (p *openAIProvider) Chat(ctx context.Context, requesterID, text string) (string, error) {
	body := oaiRequest{
		Model: p.cfg.Model,
		Messages: []oaiMessage{
			{Role: string(RoleSystem), Content: p.cfg.SystemPrompt},
			{Role: string(RoleUser), Content: text},
		},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var oaiResp oaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if oaiResp.Error != nil {
		return "", fmt.Errorf("openai error %s: %s", oaiResp.Error.Type, oaiResp.Error.Message)
	}
	if len(oaiResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response (status %d)", resp.StatusCode)
	}

	reply := strings.TrimSpace(oaiResp.Choices[0].Message.Content)
	if reply == "" {
		reply = "うーん、もう一回教えてほしいかも…！"
	}
	slog.Debug("LLM reply", "model", p.cfg.Model, "requester", requesterID, "length", len(reply))
	return reply, nil
}

// DueSummary asks the model to turn a list of due-soon card names into one
// short spoken sentence for the robot.
func DueSummary(ctx context.Context, p Provider, cardNames []string) (string, error) {
	prompt := "次のタスクがもうすぐ締め切りです。スタックチャンとして、かわいく短い一言でまとめて読み上げてください:\n- " +
		strings.Join(cardNames, "\n- ")
	return p.Chat(ctx, "trello", prompt)
}
