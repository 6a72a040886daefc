// Package notify sends a Telegram summary of runs that had failing pairs.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tele "gopkg.in/telebot.v3"

	"github.com/02loveslollipop/urban-heat-differential/internal/pipeline"
)

// sender is the part of *tele.Bot used here.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Telegram struct {
	bot     sender
	chatIDs []int64
	logger  *slog.Logger
}

var _ pipeline.Sink = (*Telegram)(nil)

// NewTelegram builds an outbound-only bot; no updates are polled.
func NewTelegram(token string, chatIDs []int64, logger *slog.Logger) (*Telegram, error) {
	if token == "" {
		return nil, errors.New("telegram token is required")
	}
	bot, err := tele.NewBot(tele.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return newTelegram(bot, chatIDs, logger), nil
}

func newTelegram(bot sender, chatIDs []int64, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{bot: bot, chatIDs: chatIDs, logger: logger}
}

// Publish messages every chat when the run had failures; clean runs stay quiet.
func (t *Telegram) Publish(ctx context.Context, report pipeline.Report) error {
	failed := report.Failed()
	if len(failed) == 0 {
		return nil
	}
	msg := formatFailures(report, failed)

	var errs []error
	for _, id := range t.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := t.bot.Send(&tele.Chat{ID: id}, msg, &tele.SendOptions{
			ParseMode:             tele.ModeMarkdownV2,
			DisableWebPagePreview: true,
		})
		if err != nil {
			t.logger.Warn("telegram send failed", "chat_id", id, "err", err)
			errs = append(errs, fmt.Errorf("chat %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func formatFailures(report pipeline.Report, failed []pipeline.PairReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Urban heat pipeline: %d of %d pairs need attention*\n",
		len(failed), len(report.Pairs))
	fmt.Fprintf(&b, "Window: `%s`\nRun: `%s`\n\n", escapeV2(report.Window.String()), escapeV2(report.RunID))
	for _, p := range failed {
		if p.State == pipeline.StageFailed {
			fmt.Fprintf(&b, "• *%s* failed at %s: %s\n", escapeV2(p.Pair), p.FailedStage, escapeV2(p.Error))
			continue
		}
		fmt.Fprintf(&b, "• *%s* refresh failed: %s\n", escapeV2(p.Pair), escapeV2(p.RefreshError))
	}
	return b.String()
}

// escapeV2 escapes special characters for Telegram MarkdownV2.
func escapeV2(s string) string {
	special := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	for _, ch := range special {
		s = strings.ReplaceAll(s, ch, "\\"+ch)
	}
	return s
}
