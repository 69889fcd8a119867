// Package narrative rewrites a forecast's canned commentary as short prose
// using an OpenAI chat model.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/lox/tenki/internal/forecast"
	"github.com/lox/tenki/internal/logging"
	"github.com/lox/tenki/internal/models"
)

const (
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 20 * time.Second
)

const systemPrompt = `You write two-sentence daily weather notes for Tokyo residents.
Use only the numbers you are given, rounded to whole degrees Celsius.
Keep the meaning of the supplied commentary. No headings, no emoji.`

type Config struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Narrator implements forecast.Narrator.
type Narrator struct {
	client  openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

func New(cfg Config) (*Narrator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("narrative: API key not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Narrator{
		client:  openai.NewClient(opts...),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}, nil
}

func (n *Narrator) Narrate(ctx context.Context, p *forecast.Prediction, recent []models.Snapshot) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	started := time.Now()
	resp, err := n.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(n.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(Prompt(p, recent)),
		},
		MaxCompletionTokens: openai.Int(160),
		Temperature:         openai.Float(0.4),
	})
	if err != nil {
		return "", fmt.Errorf("narrative: completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("narrative: no choices returned")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	n.logger.Debug("narrative: generated", "model", n.model, "chars", len(text), "took", time.Since(started))
	return text, nil
}

// Prompt lays out the observed week and the prediction for the model.
func Prompt(p *forecast.Prediction, recent []models.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Station: %s\n", p.Station)
	b.WriteString("Observed (date, max, min):\n")
	for _, snap := range recent {
		obs, ok := snap.Stations[p.Station]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %s, %.1f, %.1f\n", snap.Date.Format(models.DateLayout), obs.TempMax, obs.TempMin)
	}
	fmt.Fprintf(&b, "Forecast %s: max %.1f, min %.1f\n", p.Today.Format(models.DateLayout), p.TodayMax, p.TodayMin)
	fmt.Fprintf(&b, "Forecast %s: max %.1f, min %.1f\n", p.Tomorrow.Format(models.DateLayout), p.TomorrowMax, p.TomorrowMin)
	fmt.Fprintf(&b, "Commentary: %s\n", p.Commentary)
	return b.String()
}
