package openai

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/order-extractor/internal/common"
	"github.com/joseph-ayodele/order-extractor/internal/llm"
)

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// CompleteText implements llm.Provider with a text-only chat completion.
func (c *Client) CompleteText(ctx context.Context, p llm.Prompt) (llm.Completion, error) {
	return c.complete(ctx, c.cfg.Model, llm.ModeText, p)
}

// CompleteVision implements llm.Provider, attaching the page images as data URLs.
func (c *Client) CompleteVision(ctx context.Context, p llm.Prompt) (llm.Completion, error) {
	return c.complete(ctx, c.cfg.VisionModel, llm.ModeVision, p)
}

func (c *Client) complete(ctx context.Context, model string, mode llm.Mode, p llm.Prompt) (llm.Completion, error) {
	rid := uuid.New().String()
	start := time.Now()

	if c.cfg.APIKey == "" {
		return llm.Completion{}, common.NewAppError(common.CodeAuthInvalid, "no OpenAI API key configured", nil)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return llm.Completion{}, llm.ClassifyTransport(err)
	}

	c.logger.Info("llm.openai.start",
		"req_id", rid,
		"run_id", common.RunIDFromContext(ctx),
		"model", model,
		"mode", mode,
		"examples", len(p.Examples),
		"images", len(p.Images),
		"user_len", len(p.User),
	)

	body := map[string]any{
		"model":           model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages":        buildMessages(p),
	}
	if p.MaxTokens > 0 {
		body["max_tokens"] = p.MaxTokens
	}
	// The tenant is the end user for provider-side abuse monitoring.
	if tenant := common.TenantIDFromContext(ctx); tenant != "" {
		body["user"] = tenant
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	resp, err := llm.SendJSON(ctx, c.http, endpoint, body, map[string]string{
		"Authorization": "Bearer " + c.cfg.APIKey,
	}, c.logger)
	if err != nil {
		appErr := llm.ClassifyTransport(err)
		c.logger.Error("llm.openai.http_error",
			"req_id", rid, "code", appErr.Code, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.Completion{}, appErr
	}
	if resp.Status/100 != 2 {
		appErr := llm.ClassifyStatus(resp.Status, resp.Header, resp.Body)
		c.logger.Error("llm.openai.status_error",
			"req_id", rid, "status", resp.Status, "code", appErr.Code,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.Completion{}, appErr
	}

	var cc chatResponse
	if err := json.Unmarshal(resp.Body, &cc); err != nil {
		c.logger.Error("llm.openai.decode_error", "req_id", rid, "error", err, "raw_bytes", len(resp.Body))
		return llm.Completion{}, common.NewAppError(common.CodeProviderUnavailable, "undecodable provider response", err)
	}
	if len(cc.Choices) == 0 {
		c.logger.Error("llm.openai.no_choices", "req_id", rid)
		return llm.Completion{}, common.NewAppError(common.CodeProviderUnavailable, "provider returned no choices", nil)
	}

	out := llm.Completion{
		Text:         strings.TrimSpace(cc.Choices[0].Message.Content),
		Model:        firstNonEmpty(cc.Model, model),
		InputTokens:  cc.Usage.PromptTokens,
		OutputTokens: cc.Usage.CompletionTokens,
		Latency:      time.Since(start),
	}
	out.CostUSD = c.cost(out.InputTokens, out.OutputTokens)

	c.logger.Info("llm.openai.ok",
		"req_id", rid,
		"model", out.Model,
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
		"cost_usd", out.CostUSD,
		"elapsed_ms", out.Latency.Milliseconds(),
	)
	return out, nil
}

func (c *Client) cost(in, out int) float64 {
	return float64(in)/1000*c.cfg.InputPricePer1KUSD + float64(out)/1000*c.cfg.OutputPricePer1KUSD
}

// buildMessages lays out system, few-shot pairs, then the user turn.
func buildMessages(p llm.Prompt) []map[string]any {
	msgs := []map[string]any{{"role": "system", "content": p.System}}
	for _, ex := range p.Examples {
		msgs = append(msgs,
			map[string]any{"role": "user", "content": "Example document:\n" + ex.Input},
			map[string]any{"role": "assistant", "content": ex.Output},
		)
	}
	if len(p.Images) == 0 {
		return append(msgs, map[string]any{"role": "user", "content": p.User})
	}
	parts := []map[string]any{{"type": "text", "text": p.User}}
	for _, img := range p.Images {
		parts = append(parts, map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": llm.DataURL(img), "detail": "high"},
		})
	}
	return append(msgs, map[string]any{"role": "user", "content": parts})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ llm.Provider = (*Client)(nil)
