package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	appconfig "arbflow/config"
	ratemetrics "arbflow/internal/metrics/rate"
	"arbflow/logger"
)

const defaultTelegramURL = "https://api.telegram.org"

// TelegramSender posts messages through the Telegram Bot API.
type TelegramSender struct {
	client        *http.Client
	baseURL       string
	token         string
	chatID        string
	maxAttempts   int
	throttleDelay time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
	log           *logger.Entry
}

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
	Parameters  struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

func NewTelegramSender(cfg appconfig.TelegramConfig, timeout time.Duration) *TelegramSender {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return &TelegramSender{
		client:        &http.Client{Timeout: timeout},
		baseURL:       defaultTelegramURL,
		token:         cfg.BotToken,
		chatID:        cfg.ChatID,
		maxAttempts:   attempts,
		throttleDelay: cfg.ThrottleDelay,
		sleep:         sleepContext,
		log:           logger.GetLogger().WithComponent("telegram"),
	}
}

func (t *TelegramSender) Name() string { return "telegram" }

// Deliver sends one message. HTTP 429 is retried after the throttle delay,
// or the server's retry_after when it is longer, up to the attempt limit.
func (t *TelegramSender) Deliver(ctx context.Context, title, body string) error {
	payload, err := json.Marshal(telegramMessage{
		ChatID:                t.chatID,
		Text:                  title + "\n\n" + body,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("marshal telegram message: %w", err)
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.baseURL, "/"), t.token)

	for attempt := 1; ; attempt++ {
		status, resp, err := t.post(ctx, url, payload)
		if err != nil {
			return err
		}
		switch {
		case status == http.StatusOK && resp.OK:
			return nil
		case status == http.StatusTooManyRequests:
			if attempt >= t.maxAttempts {
				return fmt.Errorf("telegram throttled after %d attempts", attempt)
			}
			delay := t.throttleDelay
			if ra := ratemetrics.RetryAfter(fmt.Sprint(resp.Parameters.RetryAfter)); ra > delay {
				delay = ra
			}
			t.log.WithFields(logger.Fields{"attempt": attempt, "delay": delay.String()}).Warn("telegram throttled")
			if err := t.sleep(ctx, delay); err != nil {
				return err
			}
		default:
			return fmt.Errorf("telegram status %d: %s", status, resp.Description)
		}
	}
}

func (t *TelegramSender) post(ctx context.Context, url string, payload []byte) (int, telegramResponse, error) {
	var out telegramResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, out, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, out, fmt.Errorf("telegram request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, out, fmt.Errorf("read telegram response: %w", err)
	}
	if len(data) > 0 {
		// Error bodies are best effort; the status code decides.
		_ = json.Unmarshal(data, &out)
	}
	return resp.StatusCode, out, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
