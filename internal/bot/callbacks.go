package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"kino_bot/internal/session"
)

func (b *Bot) onButtonPress(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	ack := tgbotapi.NewCallback(cb.ID, "")
	if cb.Data == cbNoUsername {
		ack = tgbotapi.NewCallbackWithAlert(cb.ID, "This channel has no public link. Ask the admin for an invite.")
	}
	if _, err := b.api.Request(ack); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	if cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	chatID, messageID, userID := cb.Message.Chat.ID, cb.Message.MessageID, cb.From.ID

	b.log.Info("callback",
		"data", cb.Data,
		"chat_id", chatID,
		"user_id", userID,
		"username", cb.From.UserName,
	)

	switch cb.Data {
	case cbCheckSubscription:
		b.onCheckSubscription(ctx, chatID, messageID, userID)
		return
	case cbNoUsername:
		return
	}

	isAdmin := b.isAdmin(ctx, userID)
	state := b.state(ctx, userID, isAdmin)
	if !state.IsAdmin() {
		b.reply(chatID, "You don't have permission to do this.")
		return
	}

	switch cb.Data {
	case cbAddAdmin:
		b.startAction(ctx, chatID, messageID, userID, state, session.ActionAddAdmin,
			"Send the user ID of the new admin.", cbManageAdmins)
	case cbDeleteAdmin:
		b.startAction(ctx, chatID, messageID, userID, state, session.ActionDeleteAdmin,
			"Send the user ID of the admin to remove.", cbManageAdmins)
	case cbAddChannel:
		b.startAction(ctx, chatID, messageID, userID, state, session.ActionAddChannel,
			promptChannelID, cbManageChannels)
	case cbDeleteChannel:
		b.startAction(ctx, chatID, messageID, userID, state, session.ActionDeleteChannel,
			"Send the ID of the channel to remove.", cbManageChannels)
	case cbManageAdmins:
		b.setState(ctx, userID, state.ClearAction())
		b.showAdminPanel(ctx, chatID, messageID)
	case cbManageChannels:
		b.setState(ctx, userID, state.ClearAction())
		b.showChannelPanel(ctx, chatID, messageID)
	case cbMainMenu:
		b.setState(ctx, userID, state.ClearAction())
		b.edit(chatID, messageID, "Main menu.", nil)
		b.replyMarkup(chatID, "Choose an action.", adminMenu())
	default:
		b.log.Debug("unknown callback", "data", cb.Data)
	}
}

// startAction waits for the next text message of the admin as input to
// action and turns the panel message into a prompt.
func (b *Bot) startAction(ctx context.Context, chatID int64, messageID int, userID int64,
	state session.State, action session.Action, prompt, back string) {
	next, err := state.WithAction(action)
	if err != nil {
		b.log.Error("start admin action", "user_id", userID, "action", action, "error", err)
		return
	}
	b.setState(ctx, userID, next)
	kb := cancelKeyboard(back)
	b.edit(chatID, messageID, prompt, &kb)
}
