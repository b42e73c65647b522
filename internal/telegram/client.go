// Package telegram sends run summaries via the Telegram Bot API.
//
// Messages use MarkdownV2, so every piece of dynamic text goes through
// escapeMarkdownV2 before it is embedded. Delivery is retried with a
// linear backoff.
package telegram

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/luftonline/internal/models"
)

// sender is the part of the bot API the client uses
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, chatID, maxRetries, retryDelayBase)
}

func newClient(bot sender, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// Send delivers the summary of one run
func (c *Client) Send(summary *models.RunSummary) error {
	msg := tgbotapi.NewMessage(c.chatID, formatMessage(summary))
	msg.ParseMode = "MarkdownV2"
	msg.DisableWebPagePreview = true

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatMessage renders a run summary
func formatMessage(s *models.RunSummary) string {
	var b strings.Builder

	if s.Failed() {
		b.WriteString("⚠️ *Luft\\-Online run finished with errors*\n\n")
	} else {
		b.WriteString("✅ *Luft\\-Online run finished*\n\n")
	}

	b.WriteString(fmt.Sprintf("🆔 Run: `%s`\n", escapeMarkdownV2(s.RunID)))
	b.WriteString(fmt.Sprintf("📅 Started: %s\n", escapeMarkdownV2(s.StartedAt.Format("2006-01-02 15:04:05"))))
	if !s.FinishedAt.IsZero() {
		b.WriteString(fmt.Sprintf("⏱ Duration: %s\n", escapeMarkdownV2(formatDuration(s.FinishedAt.Sub(s.StartedAt)))))
	}

	if len(s.Periods) > 0 {
		periods := make([]string, len(s.Periods))
		for i, p := range s.Periods {
			periods[i] = p.String()
		}
		b.WriteString(fmt.Sprintf("🗓 Periods: %s\n", escapeMarkdownV2(strings.Join(periods, ", "))))
	}

	b.WriteString(fmt.Sprintf("\n📥 *Exports: %d*\n", s.TotalExports()))
	statuses := make([]string, 0, len(s.Exports))
	for status := range s.Exports {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		n := s.Exports[models.ExportStatus(status)]
		if n == 0 {
			continue
		}
		b.WriteString(fmt.Sprintf("   • %s: %d\n", escapeMarkdownV2(status), n))
	}

	if len(s.Conversions) > 0 {
		stations, written, skipped := 0, 0, 0
		for _, conv := range s.Conversions {
			stations += conv.Stations
			written += conv.FilesWritten
			skipped += conv.FilesSkipped
		}
		b.WriteString(fmt.Sprintf("\n📊 *Converted: %d station files*\n", written))
		b.WriteString(fmt.Sprintf("   • stations: %d\n", stations))
		if skipped > 0 {
			b.WriteString(fmt.Sprintf("   • unsafe paths skipped: %d\n", skipped))
		}
	}

	if s.Err != "" {
		b.WriteString(fmt.Sprintf("\n❌ Error: %s\n", escapeMarkdownV2(s.Err)))
	}

	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// _ * [ ] ( ) ~ ` > # + - = | { } . ! and the escape character itself
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '\\', '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d >= time.Hour {
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
	if d >= time.Minute {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}
