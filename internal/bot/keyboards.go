package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"kino_bot/internal/model"
)

const (
	cmdAddCode    = "addcode"
	cmdEditCode   = "editcode"
	cmdDelCode    = "delcode"
	cmdCodes      = "codes"
	cmdAddChannel = "addchannel"
	cmdDelChannel = "delchannel"
	cmdChannels   = "channels"
	cmdAddAdmin   = "addadmin"
	cmdDelAdmin   = "deladmin"
	cmdAdmins     = "admins"
	cmdUsers      = "users"
	cmdStats      = "stats"
	cmdUserMode   = "usermode"
	cmdAdminMode  = "adminmode"
)

func isAdminCommand(cmd string) bool {
	switch cmd {
	case cmdAddCode, cmdEditCode, cmdDelCode, cmdCodes,
		cmdAddChannel, cmdDelChannel, cmdChannels,
		cmdAddAdmin, cmdDelAdmin, cmdAdmins,
		cmdUsers, cmdStats, cmdUserMode, cmdAdminMode:
		return true
	}
	return false
}

// User menu labels.
const (
	btnContactAdmin = "📞 Contact admin"
	btnOurChannel   = "📢 Our channel"
	btnHelp         = "ℹ️ Help"
	btnSharePhone   = "📱 Share phone"
	btnAdminMode    = "🔐 Admin mode"
)

// Admin menu labels.
const (
	btnAddCode    = "🎬 Add code"
	btnEditCode   = "✏️ Edit code"
	btnDeleteCode = "🗑 Delete code"
	btnCodes      = "📋 Codes"
	btnChannels   = "📡 Channels"
	btnAdmins     = "👥 Admins"
	btnUsers      = "👤 Users"
	btnStats      = "📊 Statistics"
	btnCommands   = "🤖 Commands"
	btnUserMode   = "🔄 User mode"
)

// Callback data.
const (
	cbCheckSubscription = "check_subscription"
	cbNoUsername        = "no_username"
	cbAddAdmin          = "add_admin"
	cbDeleteAdmin       = "delete_admin"
	cbAddChannel        = "add_channel"
	cbDeleteChannel     = "delete_channel"
	cbManageAdmins      = "manage_admins"
	cbManageChannels    = "manage_channels"
	cbMainMenu          = "main_menu"
)

// isUserMenuLabel reports whether text is a user menu button rather than a
// code. Menu presses are never buffered as pending codes.
func isUserMenuLabel(text string) bool {
	switch text {
	case btnContactAdmin, btnOurChannel, btnHelp, btnSharePhone, btnAdminMode:
		return true
	}
	return false
}

func userMenu(isAdmin bool) tgbotapi.ReplyKeyboardMarkup {
	rows := [][]tgbotapi.KeyboardButton{
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnContactAdmin),
			tgbotapi.NewKeyboardButton(btnOurChannel),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnHelp),
			tgbotapi.NewKeyboardButtonContact(btnSharePhone),
		),
	}
	if isAdmin {
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnAdminMode)))
	}
	return tgbotapi.NewReplyKeyboard(rows...)
}

func adminMenu() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnAddCode),
			tgbotapi.NewKeyboardButton(btnCodes),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnEditCode),
			tgbotapi.NewKeyboardButton(btnDeleteCode),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnChannels),
			tgbotapi.NewKeyboardButton(btnAdmins),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnUsers),
			tgbotapi.NewKeyboardButton(btnStats),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCommands),
			tgbotapi.NewKeyboardButton(btnUserMode),
		),
	)
}

// subscribeKeyboard lists the channels still to join, followed by the
// re-check button. Channels without a public username cannot be linked.
func subscribeKeyboard(missing []model.Channel) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(missing)+1)
	for _, ch := range missing {
		var btn tgbotapi.InlineKeyboardButton
		if url := ch.JoinURL(); url != "" {
			btn = tgbotapi.NewInlineKeyboardButtonURL("➕ "+ch.Name, url)
		} else {
			btn = tgbotapi.NewInlineKeyboardButtonData("➕ "+ch.Name, cbNoUsername)
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(btn))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ I've subscribed", cbCheckSubscription),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func channelPanelKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("➕ Add channel", cbAddChannel),
			tgbotapi.NewInlineKeyboardButtonData("➖ Delete channel", cbDeleteChannel),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Main menu", cbMainMenu),
		),
	)
}

func adminPanelKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("➕ Add admin", cbAddAdmin),
			tgbotapi.NewInlineKeyboardButtonData("➖ Delete admin", cbDeleteAdmin),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Main menu", cbMainMenu),
		),
	)
}

// cancelKeyboard returns to the panel identified by back, clearing the
// pending admin action.
func cancelKeyboard(back string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✖️ Cancel", back),
		),
	)
}
