package telegram

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	apperrors "prompt-morph/internal/errors"
	procimage "prompt-morph/internal/image"
	"prompt-morph/internal/keyframe"
	"prompt-morph/internal/limiter"
	"prompt-morph/internal/morph"
	"prompt-morph/internal/output"
	"prompt-morph/internal/reduce"
	"prompt-morph/internal/runs"
	"prompt-morph/internal/settings"
)

// NegativeSeparator is the line that separates keyframes from negative prompts
const NegativeSeparator = "--"

// albumLimit is the most photos one Telegram media group can carry
const albumLimit = 10

// Sender is the part of the bot API the handler uses
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Backend is the image service behind the runner
type Backend interface {
	CheckHealth(ctx context.Context) error
	Interrupt(ctx context.Context) error
}

// Deps are the collaborators of a Handler
type Deps struct {
	Runner         *morph.Runner
	Backend        Backend
	Layout         *output.Layout
	Settings       settings.Store
	Runs           runs.Store
	Processor      *procimage.Processor
	Limiter        *limiter.UserLimiter
	Whitelist      *Whitelist
	Defaults       morph.Options
	NegativePrompt string
}

// Handler processes Telegram updates
type Handler struct {
	bot  Sender
	deps Deps

	logger *slog.Logger
}

// NewHandler creates a new update handler
func NewHandler(bot Sender, deps Deps, logger *slog.Logger) *Handler {
	return &Handler{
		bot:    bot,
		deps:   deps,
		logger: logger,
	}
}

// HandleUpdate processes a single update
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	userID, allowed := h.deps.Whitelist.CheckAccess(update)
	if !allowed {
		if update.Message != nil {
			h.sendText(update.Message.Chat.ID, apperrors.ErrUnauthorized.UserMsg)
		}
		return
	}

	msg := update.Message
	if !msg.IsCommand() {
		h.sendText(msg.Chat.ID, "Send /morph followed by one keyframe per line. /help shows the details.")
		return
	}
	h.handleCommand(ctx, msg, userID)
}

func (h *Handler) handleCommand(ctx context.Context, msg *tgbotapi.Message, userID int64) {
	switch msg.Command() {
	case "start", "help":
		h.sendText(msg.Chat.ID,
			"Prompt morph bot\n\n"+
				"/morph - render a morph. Put one keyframe per line after the command, "+
				"optionally as seed | prompt. A line with -- starts the negative prompts, one per keyframe.\n"+
				"/stop - interrupt your running morph\n"+
				"/mode direct|derived - interpolation mode\n"+
				"/steps N - images per keyframe pair (2-256)\n"+
				"/video on|off - also render a video\n"+
				"/status - backend status, your settings and recent runs")

	case "morph":
		h.handleMorph(ctx, msg, userID)

	case "stop":
		h.handleStop(ctx, msg, userID)

	case "mode", "steps", "video":
		h.handleSetting(msg, userID)

	case "status":
		h.handleStatus(ctx, msg, userID)

	default:
		h.sendText(msg.Chat.ID, "Unknown command. Use /help for available commands.")
	}
}

// splitMorphText separates keyframe lines from negative prompt lines
func splitMorphText(text string) (prompts, negatives string) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == NegativeSeparator {
			return strings.Join(lines[:i], "\n"), strings.Join(lines[i+1:], "\n")
		}
	}
	return text, ""
}

func (h *Handler) options(us *settings.UserSettings) morph.Options {
	opts := h.deps.Defaults
	opts.Mode = us.Mode
	opts.Steps = us.Steps
	opts.Video = us.Video
	return opts
}

func (h *Handler) handleMorph(ctx context.Context, msg *tgbotapi.Message, userID int64) {
	chatID := msg.Chat.ID

	prompts, negatives := splitMorphText(msg.CommandArguments())
	seq, err := keyframe.Parse(prompts, negatives, h.deps.NegativePrompt)
	if err != nil {
		h.sendText(chatID, apperrors.GetUserMessage(err))
		return
	}

	us, err := h.deps.Settings.Get(userID)
	if err != nil {
		h.logger.Error("failed to load settings", "error", err, "user_id", userID)
		h.sendText(chatID, apperrors.GetUserMessage(err))
		return
	}
	opts := h.options(us)
	if err := opts.Validate(); err != nil {
		h.sendText(chatID, apperrors.GetUserMessage(err))
		return
	}

	interrupt, ok := h.deps.Limiter.TryAcquire(userID)
	if !ok {
		h.sendText(chatID, apperrors.ErrMorphInProgress.UserMsg)
		return
	}
	defer h.deps.Limiter.Release(userID)

	run, err := h.deps.Layout.Begin(runs.Run{
		Owner:     userID,
		Mode:      opts.Mode,
		Keyframes: seq.Len(),
		Summary:   seq.Summary(),
	})
	if err != nil {
		h.logger.Error("failed to allocate run", "error", err, "user_id", userID)
		h.sendText(chatID, apperrors.GetUserMessage(err))
		return
	}

	jobs := morph.JobCount(seq.Len(), opts.Steps)
	statusMsg, err := h.bot.Send(tgbotapi.NewMessage(chatID, fmt.Sprintf(
		"Morphing %d keyframes into %d images (%s mode). Send /stop to interrupt.",
		seq.Len(), jobs, opts.Mode)))
	if err != nil {
		h.logger.Error("failed to send status message", "error", err)
	}

	h.logger.Info("starting morph", "user_id", userID, "run", run.Number, "keyframes", seq.Len(), "jobs", jobs)

	reporter := newProgressReporter(h.bot, chatID, statusMsg.MessageID, h.logger)
	result, runErr := h.deps.Runner.Run(ctx, morph.Request{
		Sequence:  seq,
		Options:   opts,
		Interrupt: interrupt,
		Observer:  reporter,
		Sink:      run,
	})

	if err := h.deps.Layout.End(run, result, runErr); err != nil {
		h.logger.Error("failed to record run", "error", err, "run", run.Number)
	}

	if statusMsg.MessageID != 0 {
		h.bot.Request(tgbotapi.NewDeleteMessage(chatID, statusMsg.MessageID))
	}

	h.deliver(chatID, run.Number, result)
	if runErr != nil {
		h.logger.Error("morph failed", "error", runErr, "user_id", userID, "run", run.Number)
		text := apperrors.GetUserMessage(runErr)
		if apperrors.IsRetryable(runErr) {
			text += " Send the same /morph again to retry."
		}
		h.sendText(chatID, text)
	}
}

// deliver sends whatever a run produced, including partial output
func (h *Handler) deliver(chatID, number int64, result *morph.Result) {
	if result == nil {
		return
	}
	if len(result.Frames) == 0 {
		if result.Interrupted {
			h.sendText(chatID, "Morph stopped before the first image was rendered.")
		}
		return
	}

	caption := fmt.Sprintf("Run %05d: %d images", number, len(result.Frames))
	if result.Interrupted {
		caption += " (interrupted)"
	}
	caption += "\n" + result.Summary
	caption = truncate(caption, 1024)

	if result.Grid != nil {
		h.sendPhoto(chatID, result.Grid, fmt.Sprintf("grid-%05d.jpg", number), caption)
	} else {
		h.sendAlbum(chatID, reduce.Downsample(result.Display, albumLimit), caption)
	}

	if result.VideoPath != "" {
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(result.VideoPath))
		doc.Caption = fmt.Sprintf("Run %05d video", number)
		if _, err := h.bot.Send(doc); err != nil {
			h.logger.Error("failed to send video", "error", err)
		}
	}
}

func (h *Handler) sendPhoto(chatID int64, img image.Image, name, caption string) {
	data, err := h.deps.Processor.Preview(img)
	if err != nil {
		h.logger.Error("preview failed", "error", err)
		return
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	photo.Caption = caption
	if _, err := h.bot.Send(photo); err != nil {
		h.logger.Error("failed to send photo", "error", err)
	}
}

func (h *Handler) sendAlbum(chatID int64, images []image.Image, caption string) {
	if len(images) == 1 {
		h.sendPhoto(chatID, images[0], "image.jpg", caption)
		return
	}

	media := make([]any, 0, len(images))
	for i, img := range images {
		data, err := h.deps.Processor.Preview(img)
		if err != nil {
			h.logger.Error("preview failed", "error", err)
			return
		}
		photo := tgbotapi.NewInputMediaPhoto(tgbotapi.FileBytes{Name: fmt.Sprintf("image-%02d.jpg", i), Bytes: data})
		if i == 0 {
			photo.Caption = caption
		}
		media = append(media, photo)
	}
	if _, err := h.bot.Request(tgbotapi.NewMediaGroup(chatID, media)); err != nil {
		h.logger.Error("failed to send album", "error", err)
	}
}

func (h *Handler) handleStop(ctx context.Context, msg *tgbotapi.Message, userID int64) {
	if !h.deps.Limiter.Stop(userID) {
		h.sendText(msg.Chat.ID, "No morph is running.")
		return
	}
	h.sendText(msg.Chat.ID, "Stopping. The image being rendered will be discarded.")

	// the backend interrupt is global, so only use it when nobody else is rendering
	if h.deps.Limiter.ActiveCount() == 1 {
		if err := h.deps.Backend.Interrupt(ctx); err != nil {
			h.logger.Warn("backend interrupt failed", "error", err)
		}
	}
}

func (h *Handler) handleSetting(msg *tgbotapi.Message, userID int64) {
	us, err := h.deps.Settings.Get(userID)
	if err != nil {
		h.logger.Error("failed to load settings", "error", err, "user_id", userID)
		h.sendText(msg.Chat.ID, apperrors.GetUserMessage(err))
		return
	}

	arg := strings.ToLower(strings.TrimSpace(msg.CommandArguments()))
	switch msg.Command() {
	case "mode":
		us.Mode = arg
	case "steps":
		steps, err := strconv.Atoi(arg)
		if err != nil {
			h.sendText(msg.Chat.ID, "Usage: /steps N")
			return
		}
		us.Steps = steps
	case "video":
		switch arg {
		case "on":
			us.Video = true
		case "off":
			us.Video = false
		default:
			h.sendText(msg.Chat.ID, "Usage: /video on|off")
			return
		}
	}

	if err := h.deps.Settings.Save(us); err != nil {
		h.sendText(msg.Chat.ID, err.Error())
		return
	}
	h.sendText(msg.Chat.ID, describeSettings(us))
}

func describeSettings(us *settings.UserSettings) string {
	video := "off"
	if us.Video {
		video = "on"
	}
	return fmt.Sprintf("Mode: %s\nSteps: %d\nVideo: %s", us.Mode, us.Steps, video)
}

func (h *Handler) handleStatus(ctx context.Context, msg *tgbotapi.Message, userID int64) {
	var b strings.Builder

	if err := h.deps.Backend.CheckHealth(ctx); err != nil {
		fmt.Fprintf(&b, "Backend: offline (%v)\n", err)
	} else {
		b.WriteString("Backend: online\n")
	}
	fmt.Fprintf(&b, "Active morphs: %d\n\n", h.deps.Limiter.ActiveCount())

	if us, err := h.deps.Settings.Get(userID); err == nil {
		b.WriteString(describeSettings(us))
		b.WriteString("\n")
	}

	recent, err := h.deps.Runs.Recent(userID, 5)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err, "user_id", userID)
	}
	if len(recent) > 0 {
		b.WriteString("\nRecent runs:\n")
		for _, r := range recent {
			fmt.Fprintf(&b, "%05d %s, %d images, %d keyframes\n", r.Number, r.Status, r.Images, r.Keyframes)
		}
	}

	h.sendText(msg.Chat.ID, strings.TrimSpace(b.String()))
}

func (h *Handler) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := h.bot.Send(msg); err != nil {
		h.logger.Error("failed to send message", "error", err, "chat_id", chatID)
	}
}

// truncate limits s to maxLen bytes without splitting a UTF-8 sequence
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
