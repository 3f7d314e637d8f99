package telegram

import (
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Whitelist manages allowed user IDs
type Whitelist struct {
	allowed map[int64]struct{}
	logger  *slog.Logger
}

// NewWhitelist creates a new whitelist from a slice of user IDs
func NewWhitelist(userIDs []int64, logger *slog.Logger) *Whitelist {
	allowed := make(map[int64]struct{}, len(userIDs))
	for _, id := range userIDs {
		allowed[id] = struct{}{}
	}
	return &Whitelist{
		allowed: allowed,
		logger:  logger,
	}
}

// IsAllowed checks if a user is whitelisted
func (w *Whitelist) IsAllowed(userID int64) bool {
	_, ok := w.allowed[userID]
	return ok
}

// CheckAccess validates access of the update's sender. In groups the sender
// must be whitelisted as well.
func (w *Whitelist) CheckAccess(update tgbotapi.Update) (userID int64, allowed bool) {
	if update.Message == nil || update.Message.From == nil {
		return 0, false
	}
	userID = update.Message.From.ID

	if !w.IsAllowed(userID) {
		w.logger.Warn("unauthorized access attempt",
			"user_id", userID,
			"username", update.Message.From.UserName,
			"chat_id", update.Message.Chat.ID,
		)
		return userID, false
	}

	return userID, true
}
