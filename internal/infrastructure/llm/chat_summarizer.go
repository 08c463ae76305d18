package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ResearchDigest/internal/config"
	"ResearchDigest/internal/domain"
	"ResearchDigest/internal/ports"
)

const (
	defaultBatchSize = 30
	maxInputRunes    = 600
	defaultPrompt    = "You are a research analyst. For each item write 2-3 sentences: " +
		"first what the paper or project does, then why it matters. Be specific. " +
		"Return only a JSON array of objects with \"id\" and \"summary\" fields, no markdown."
)

// ChatSummarizer implements ports.Summarizer backed by OpenAI-compatible
// chat completion APIs. Items are sent in batches, one request per batch.
type ChatSummarizer struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	batchSize    int
	httpClient   *http.Client
	logger       *slog.Logger
}

var _ ports.Summarizer = (*ChatSummarizer)(nil)

// NewChatSummarizer builds a summarizer from configuration.
func NewChatSummarizer(cfg config.SummarizerConfig, logger *slog.Logger) *ChatSummarizer {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &ChatSummarizer{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: cfg.SystemPrompt,
		batchSize:    batch,
		httpClient: &http.Client{
			Timeout: timeoutOrDefault(cfg.Timeout()),
		},
		logger: logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type summaryEntry struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
}

// Summarize returns summaries keyed by item unique id. Items without text
// are skipped. A failed batch does not discard the others: the summaries
// gathered so far come back with the joined batch errors.
func (c *ChatSummarizer) Summarize(ctx context.Context, items []domain.Item) (map[string]string, error) {
	if c == nil {
		return nil, fmt.Errorf("summarizer is nil")
	}
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return nil, fmt.Errorf("summarizer misconfigured")
	}

	var pending []domain.Item
	for _, item := range items {
		if inputText(item) != "" {
			pending = append(pending, item)
		}
	}

	out := make(map[string]string, len(pending))
	var failures []error
	for start := 0; start < len(pending); start += c.batchSize {
		end := min(start+c.batchSize, len(pending))
		batch := pending[start:end]

		got, err := c.summarizeBatch(ctx, batch)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out, ctxErr
			}
			failures = append(failures, fmt.Errorf("batch %d-%d: %w", start, end, err))
			continue
		}
		for id, text := range got {
			out[id] = text
		}
	}

	if c.logger != nil {
		c.logger.Info("summaries generated", "items", len(pending), "summarized", len(out))
	}
	return out, errors.Join(failures...)
}

func (c *ChatSummarizer) summarizeBatch(ctx context.Context, batch []domain.Item) (map[string]string, error) {
	body, err := json.Marshal(map[string]any{
		"model": c.model,
		"messages": []chatMessage{
			{Role: "system", Content: safePrompt(c.systemPrompt)},
			{Role: "user", Content: userPrompt(batch)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("chat error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("chat response has no choices")
	}

	entries, err := parseSummaries(decoded.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(batch))
	for _, item := range batch {
		wanted[item.UniqueID()] = true
	}
	out := map[string]string{}
	for _, entry := range entries {
		text := strings.TrimSpace(entry.Summary)
		if wanted[entry.ID] && text != "" {
			out[entry.ID] = text
		}
	}
	if missing := len(batch) - len(out); missing > 0 && c.logger != nil {
		c.logger.Warn("summaries missing from response", "missing", missing)
	}
	return out, nil
}

// parseSummaries accepts a bare JSON array, one wrapped in a code fence, or
// one surrounded by prose.
func parseSummaries(raw string) ([]summaryEntry, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			text = text[nl+1:]
		}
		text = strings.TrimSpace(strings.TrimSuffix(text, "```"))
	}

	var entries []summaryEntry
	if err := json.Unmarshal([]byte(text), &entries); err == nil {
		return entries, nil
	}

	start, end := strings.IndexByte(text, '['), strings.LastIndexByte(text, ']')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in chat response")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &entries); err != nil {
		return nil, fmt.Errorf("parse chat response: %w", err)
	}
	return entries, nil
}

func userPrompt(batch []domain.Item) string {
	var b strings.Builder
	b.WriteString("Summarize each item below. Return a JSON array like ")
	b.WriteString(`[{"id": "arxiv:2401.00001", "summary": "This paper ..."}]` + "\n\n")
	for _, item := range batch {
		fmt.Fprintf(&b, "--- Item id: %s ---\nTitle: %s\nText: %s\n\n", item.UniqueID(), item.Title, inputText(item))
	}
	return b.String()
}

// inputText prefers the longer of the abstract and the raw text, capped.
func inputText(item domain.Item) string {
	text := strings.TrimSpace(item.Summary)
	if raw := strings.TrimSpace(item.RawText); len(raw) > len(text) {
		text = raw
	}
	runes := []rune(text)
	if len(runes) > maxInputRunes {
		text = string(runes[:maxInputRunes])
	}
	return text
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return defaultPrompt
	}
	return prompt
}

// timeoutOrDefault keeps a zero timeout from disabling the client deadline.
func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 20 * time.Second
	}
	return d
}
