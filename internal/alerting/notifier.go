package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Kind distinguishes the events worth paging for.
type Kind string

const (
	KindCriticalInvariant Kind = "critical_invariant"
	KindAcquisitionFailed Kind = "acquisition_failed"
)

// Notification carries the context of one alert.
type Notification struct {
	Kind      Kind
	Date      time.Time
	State     string
	Invariant decimal.Decimal
	Deviation decimal.Decimal
	Winner    string
	Source    string
	Failures  []string
	TraceID   string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier posts messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs the Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with the rendered text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram responded with status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().
		Str("date", note.Date.Format(time.DateOnly)).
		Str("kind", string(note.Kind)).
		Msg("alert sent (telegram)")
	return nil
}

// LogNotifier writes notifications to the log instead of an external channel.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Warn().
		Str("date", note.Date.Format(time.DateOnly)).
		Str("kind", string(note.Kind)).
		Str("state", note.State).
		Strs("failures", note.Failures).
		Msg(strings.ReplaceAll(strings.TrimSpace(RenderMessage(note)), "\n", "; "))
	return nil
}

// RenderMessage formats a notification as plain text.
func RenderMessage(note Notification) string {
	builder := strings.Builder{}
	switch note.Kind {
	case KindAcquisitionFailed:
		builder.WriteString("[FX Triangle] acquisition failed\n")
		builder.WriteString(fmt.Sprintf("Date: %s\n", note.Date.Format(time.DateOnly)))
		for _, f := range note.Failures {
			builder.WriteString(fmt.Sprintf("- %s\n", f))
		}
	default:
		builder.WriteString(fmt.Sprintf("[FX Triangle] invariant %s\n", note.State))
		builder.WriteString(fmt.Sprintf("Date: %s\n", note.Date.Format(time.DateOnly)))
		builder.WriteString(fmt.Sprintf("Invariant: %s\n", note.Invariant.StringFixed(18)))
		builder.WriteString(fmt.Sprintf("Deviation: %s\n", note.Deviation.StringFixed(6)))
		if note.Winner != "" {
			builder.WriteString(fmt.Sprintf("Winner: %s\n", note.Winner))
		}
		if note.Source != "" {
			builder.WriteString(fmt.Sprintf("Source: %s\n", note.Source))
		}
	}
	if note.TraceID != "" {
		builder.WriteString(fmt.Sprintf("Trace: %s\n", note.TraceID))
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
