package telegram

import (
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"prompt-morph/internal/morph"
)

// editInterval keeps status edits under Telegram's per-chat rate limit
const editInterval = 3 * time.Second

// progressReporter edits the status message as a morph advances
type progressReporter struct {
	bot       Sender
	chatID    int64
	messageID int
	interval  time.Duration
	lastEdit  time.Time
	logger    *slog.Logger
}

func newProgressReporter(bot Sender, chatID int64, messageID int, logger *slog.Logger) *progressReporter {
	return &progressReporter{
		bot:       bot,
		chatID:    chatID,
		messageID: messageID,
		interval:  editInterval,
		logger:    logger,
	}
}

func (p *progressReporter) OnStep(ev morph.StepEvent) {
	p.edit(ev, "")
}

// OnProgress adds the backend's sampler position to the status message
func (p *progressReporter) OnProgress(ev morph.StepEvent, current, total int) {
	p.edit(ev, fmt.Sprintf("\nSampler step %d of %d", current, total))
}

func (p *progressReporter) OnImage(int, morph.Frame) {}

func (p *progressReporter) edit(ev morph.StepEvent, sampler string) {
	if p.messageID == 0 || time.Since(p.lastEdit) < p.interval {
		return
	}
	p.lastEdit = time.Now()

	text := fmt.Sprintf("Rendering image %d of %d\nSegment %d of %d, t=%.2f, %s pass%s\nSend /stop to interrupt.",
		ev.Job, ev.Jobs, ev.Segment, ev.Segments, ev.Params.T, ev.Params.Pass, sampler)
	if _, err := p.bot.Request(tgbotapi.NewEditMessageText(p.chatID, p.messageID, text)); err != nil {
		p.logger.Debug("failed to edit status message", "error", err)
	}
}
