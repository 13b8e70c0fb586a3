package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"kino_bot/internal/model"
	"kino_bot/internal/session"
	"kino_bot/internal/storage"
)

const (
	usageAddCode    = "Usage: /addcode <code> <post_id> [post_id...]\nExample: /addcode premium 10 20 30"
	usageEditCode   = "Usage: /editcode <code> <post_id> [post_id...]"
	usageDelCode    = "Usage: /delcode <code>"
	promptChannelID = "Send the channel as <channel_id>|<name>, for example:\n-1001234567890|Movies\n\nThe bot must be an admin of the channel."
)

func (b *Bot) handleAdminText(ctx context.Context, msg *tgbotapi.Message, state session.State) {
	chatID, userID := msg.Chat.ID, msg.From.ID
	text := strings.TrimSpace(msg.Text)

	if state.Action() != session.ActionNone {
		b.consumeAction(ctx, chatID, userID, state, text)
		return
	}

	switch text {
	case btnAddCode:
		b.reply(chatID, usageAddCode)
	case btnEditCode:
		b.reply(chatID, usageEditCode)
	case btnDeleteCode:
		b.reply(chatID, usageDelCode)
	case btnCodes:
		b.handleListCodes(ctx, chatID)
	case btnChannels:
		b.showChannelPanel(ctx, chatID, 0)
	case btnAdmins:
		b.showAdminPanel(ctx, chatID, 0)
	case btnUsers:
		b.handleExportUsers(ctx, chatID)
	case btnStats:
		b.handleStats(ctx, chatID)
	case btnCommands:
		b.reply(chatID, textAdminHelp)
	case btnUserMode:
		b.enterUserMode(ctx, chatID, userID)
	default:
		b.replyMarkup(chatID, "Use the menu below or /help.", adminMenu())
	}
}

// consumeAction applies the pending admin action to text. Invalid input
// keeps the action so the admin can try again.
func (b *Bot) consumeAction(ctx context.Context, chatID, userID int64, state session.State, text string) {
	switch action := state.Action(); action {
	case session.ActionAddAdmin, session.ActionDeleteAdmin:
		id, err := ParseChatID(text)
		if err != nil {
			b.replyMarkup(chatID, fmt.Sprintf("Invalid input: %v. Send a numeric user ID.", err), cancelKeyboard(cbManageAdmins))
			return
		}
		b.setState(ctx, userID, state.ClearAction())
		if action == session.ActionAddAdmin {
			b.addAdmin(ctx, chatID, id)
		} else {
			b.deleteAdmin(ctx, chatID, id)
		}
		b.showAdminPanel(ctx, chatID, 0)

	case session.ActionAddChannel:
		id, name, err := ParseChannelInput(text)
		if err != nil {
			b.replyMarkup(chatID, fmt.Sprintf("Invalid input: %v.\n\n%s", err, promptChannelID), cancelKeyboard(cbManageChannels))
			return
		}
		b.setState(ctx, userID, state.ClearAction())
		b.addChannel(ctx, chatID, id, name)
		b.showChannelPanel(ctx, chatID, 0)

	case session.ActionDeleteChannel:
		id, err := ParseChatID(text)
		if err != nil {
			b.replyMarkup(chatID, fmt.Sprintf("Invalid input: %v. Send a numeric channel ID.", err), cancelKeyboard(cbManageChannels))
			return
		}
		b.setState(ctx, userID, state.ClearAction())
		b.deleteChannel(ctx, chatID, id)
		b.showChannelPanel(ctx, chatID, 0)
	}
}

// --- codes ---

func (b *Bot) handleAddCode(ctx context.Context, chatID int64, args string) {
	code, postIDs, err := ParseCodeArgs(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Invalid arguments: %v\n\n%s", err, usageAddCode))
		return
	}

	c := &model.Code{Code: code, PostIDs: postIDs}
	if err := b.store.CreateCode(ctx, c); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			b.reply(chatID, fmt.Sprintf("Code %q already exists. Use /editcode to change its posts.", code))
			return
		}
		b.fail(chatID, "create code", err)
		return
	}

	b.log.Info("code added", "code", code, "posts", len(postIDs))
	b.reply(chatID, fmt.Sprintf("Code %q added.\n\n%s", code, formatPostLinks(b.cfg.SourceChannelID, postIDs)))
}

func (b *Bot) handleEditCode(ctx context.Context, chatID int64, args string) {
	code, postIDs, err := ParseCodeArgs(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Invalid arguments: %v\n\n%s", err, usageEditCode))
		return
	}

	if err := b.store.UpdateCodePosts(ctx, code, postIDs); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.reply(chatID, fmt.Sprintf("Code %q not found.", code))
			return
		}
		b.fail(chatID, "update code", err)
		return
	}

	b.log.Info("code updated", "code", code, "posts", len(postIDs))
	b.reply(chatID, fmt.Sprintf("Code %q updated.\n\n%s", code, formatPostLinks(b.cfg.SourceChannelID, postIDs)))
}

func (b *Bot) handleDeleteCode(ctx context.Context, chatID int64, args string) {
	code, err := ParseCodeName(args)
	if err != nil {
		b.reply(chatID, usageDelCode)
		return
	}

	if err := b.store.DeleteCode(ctx, code); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.reply(chatID, fmt.Sprintf("Code %q not found.", code))
			return
		}
		b.fail(chatID, "delete code", err)
		return
	}

	b.log.Info("code deleted", "code", code)
	b.reply(chatID, fmt.Sprintf("Code %q deleted.", code))
}

func (b *Bot) handleListCodes(ctx context.Context, chatID int64) {
	codes, err := b.store.ListCodes(ctx)
	if err != nil {
		b.fail(chatID, "list codes", err)
		return
	}
	b.reply(chatID, FormatCodeList(codes, b.cfg.SourceChannelID))
}

func formatPostLinks(sourceChannelID int64, postIDs []int) string {
	links := make([]string, len(postIDs))
	for i, id := range postIDs {
		links[i] = model.PostLink(sourceChannelID, id)
	}
	return strings.Join(links, "\n")
}

// --- channels ---

func (b *Bot) handleAddChannelCommand(ctx context.Context, chatID int64, args string) {
	id, name, err := ParseChannelInput(args)
	if err != nil {
		b.reply(chatID, "Usage: /addchannel <channel_id> <name>")
		return
	}
	b.addChannel(ctx, chatID, id, name)
}

func (b *Bot) handleDeleteChannelCommand(ctx context.Context, chatID int64, args string) {
	id, err := ParseChatID(args)
	if err != nil {
		b.reply(chatID, "Usage: /delchannel <channel_id>")
		return
	}
	b.deleteChannel(ctx, chatID, id)
}

func (b *Bot) addChannel(ctx context.Context, chatID, channelID int64, name string) {
	username, err := b.platform.ChatUsername(ctx, channelID)
	if err != nil {
		b.log.Warn("resolve channel username", "channel_id", channelID, "error", err)
	}

	ch := &model.Channel{ID: channelID, Name: name, Username: username}
	if err := b.store.CreateChannel(ctx, ch); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			b.reply(chatID, fmt.Sprintf("Channel %d is already in the list.", channelID))
			return
		}
		b.fail(chatID, "create channel", err)
		return
	}

	b.log.Info("channel added", "channel_id", channelID, "username", username)
	text := fmt.Sprintf("Channel %q added.", name)
	if username == "" {
		text += "\nIts username could not be resolved, so users get no join link. Check that the bot is an admin of the channel."
	}
	b.reply(chatID, text)
}

func (b *Bot) deleteChannel(ctx context.Context, chatID, channelID int64) {
	if err := b.store.DeleteChannel(ctx, channelID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.reply(chatID, fmt.Sprintf("Channel %d is not in the list.", channelID))
			return
		}
		b.fail(chatID, "delete channel", err)
		return
	}
	b.log.Info("channel deleted", "channel_id", channelID)
	b.reply(chatID, fmt.Sprintf("Channel %d removed.", channelID))
}

// showChannelPanel sends the channel panel, or edits messageID into it when
// it is non-zero.
func (b *Bot) showChannelPanel(ctx context.Context, chatID int64, messageID int) {
	channels, err := b.store.ListChannels(ctx)
	if err != nil {
		b.fail(chatID, "list channels", err)
		return
	}
	kb := channelPanelKeyboard()
	text := FormatChannelList(channels)
	if messageID != 0 {
		b.edit(chatID, messageID, text, &kb)
		return
	}
	b.replyMarkup(chatID, text, kb)
}

// --- admins ---

func (b *Bot) handleAddAdminCommand(ctx context.Context, chatID int64, args string) {
	id, err := ParseChatID(args)
	if err != nil {
		b.reply(chatID, "Usage: /addadmin <user_id>")
		return
	}
	b.addAdmin(ctx, chatID, id)
}

func (b *Bot) handleDeleteAdminCommand(ctx context.Context, chatID int64, args string) {
	id, err := ParseChatID(args)
	if err != nil {
		b.reply(chatID, "Usage: /deladmin <user_id>")
		return
	}
	b.deleteAdmin(ctx, chatID, id)
}

func (b *Bot) addAdmin(ctx context.Context, chatID, adminID int64) {
	username, err := b.platform.ChatUsername(ctx, adminID)
	if err != nil {
		b.log.Warn("resolve admin username", "admin_id", adminID, "error", err)
	}

	if err := b.store.CreateAdmin(ctx, &model.Admin{ID: adminID, Username: username}); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			b.reply(chatID, fmt.Sprintf("User %d is already an admin.", adminID))
			return
		}
		b.fail(chatID, "create admin", err)
		return
	}
	b.log.Info("admin added", "admin_id", adminID, "username", username)
	b.reply(chatID, fmt.Sprintf("Admin %d added.", adminID))
}

func (b *Bot) deleteAdmin(ctx context.Context, chatID, adminID int64) {
	if adminID == b.cfg.AdminID {
		b.reply(chatID, "The primary admin cannot be removed.")
		return
	}
	if err := b.store.DeleteAdmin(ctx, adminID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.reply(chatID, fmt.Sprintf("User %d is not an admin.", adminID))
			return
		}
		b.fail(chatID, "delete admin", err)
		return
	}
	b.log.Info("admin deleted", "admin_id", adminID)
	b.reply(chatID, fmt.Sprintf("Admin %d removed.", adminID))
}

func (b *Bot) showAdminPanel(ctx context.Context, chatID int64, messageID int) {
	admins, err := b.store.ListAdmins(ctx)
	if err != nil {
		b.fail(chatID, "list admins", err)
		return
	}
	kb := adminPanelKeyboard()
	text := FormatAdminList(admins, b.cfg.AdminID)
	if messageID != 0 {
		b.edit(chatID, messageID, text, &kb)
		return
	}
	b.replyMarkup(chatID, text, kb)
}

// --- reports ---

func (b *Bot) handleExportUsers(ctx context.Context, chatID int64) {
	users, err := b.store.ListUsers(ctx)
	if err != nil {
		b.fail(chatID, "list users", err)
		return
	}
	data, err := UsersCSV(users)
	if err != nil {
		b.fail(chatID, "export users", err)
		return
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  fmt.Sprintf("users_%s.csv", b.now().UTC().Format("20060102")),
		Bytes: data,
	})
	doc.Caption = fmt.Sprintf("Users: %d", len(users))
	if _, err := b.api.Send(doc); err != nil {
		b.fail(chatID, "send users export", err)
	}
}

func (b *Bot) handleStats(ctx context.Context, chatID int64) {
	stats, err := b.store.Stats(ctx, b.now().Add(-24*time.Hour))
	if err != nil {
		b.fail(chatID, "load stats", err)
		return
	}
	b.reply(chatID, FormatStats(stats))
}
