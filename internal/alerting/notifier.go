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

// Kind 区分通知类型。
type Kind string

const (
	KindSpecialCard Kind = "special_card"
	KindPurchase    Kind = "purchase"
	KindGap         Kind = "reconciliation_gap"
	KindEmergency   Kind = "emergency"
)

// Notification 封装通知上下文。
type Notification struct {
	Kind      Kind
	Title     string
	CardID    string
	Player    string
	Rarity    string
	Serial    string
	Price     decimal.Decimal
	Reference decimal.Decimal
	Message   string
	At        time.Time
}

// Notifier 定义通知输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// Nop 丢弃所有通知，告警关闭时使用。
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Notification) error { return nil }

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 通知器。
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

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
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
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("kind", string(note.Kind)).
		Str("card_id", note.CardID).
		Msg("通知已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	title := note.Title
	if title == "" {
		title = string(note.Kind)
	}
	builder.WriteString(fmt.Sprintf("[Sorare Bot] %s\n", title))
	if !note.At.IsZero() {
		builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	}
	if note.Player != "" {
		builder.WriteString(fmt.Sprintf("Player: %s (%s)\n", note.Player, note.Rarity))
	}
	if note.CardID != "" {
		builder.WriteString(fmt.Sprintf("Card: %s\n", note.CardID))
	}
	if note.Serial != "" {
		builder.WriteString(fmt.Sprintf("Serial: %s\n", note.Serial))
	}
	if !note.Price.IsZero() {
		builder.WriteString(fmt.Sprintf("Price: %s ETH\n", note.Price.String()))
	}
	if !note.Reference.IsZero() {
		builder.WriteString(fmt.Sprintf("Reference: %s ETH\n", note.Reference.String()))
	}
	if note.Message != "" {
		builder.WriteString(note.Message)
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = Nop{}
)
