package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"kino_bot/internal/session"
)

const textWelcome = `Welcome to Kino Bot!

Send a movie code and get the movie right here.`

const textUserHelp = `How it works:
1. Find a movie code in our channel
2. Send the code to this bot
3. Get the movie

If the bot asks you to subscribe, join the listed channels and press "I've subscribed". The code you sent is delivered automatically.`

const textAdminHelp = `Codes:
/addcode <code> <post_id> [post_id...] — add a code
/editcode <code> <post_id> [post_id...] — replace the posts of a code
/delcode <code> — delete a code
/codes — list codes

Channels:
/addchannel <channel_id> <name> — add a mandatory channel
/delchannel <channel_id> — remove a mandatory channel
/channels — channel panel

Admins:
/addadmin <user_id> — add an admin
/deladmin <user_id> — remove an admin
/admins — admin panel

Other:
/users — export users as CSV
/stats — usage statistics
/usermode — use the bot as a regular user
/adminmode — back to the admin menu

Post IDs refer to messages of the source channel. Separate them with spaces or commas.`

func (b *Bot) handleStart(ctx context.Context, chatID, userID int64) {
	if b.isAdmin(ctx, userID) {
		b.enterAdminMode(ctx, chatID, userID)
		return
	}

	b.setState(ctx, userID, session.UserMode())
	res, ok := b.verify(ctx, chatID, userID)
	if !ok {
		return
	}
	if !res.Satisfied() {
		b.replyMarkup(chatID, textWelcome, userMenu(false))
		b.promptSubscribe(chatID, res.Missing)
		return
	}
	menu := userMenu(false)
	b.replyMarkup(chatID, textWelcome, menu)
	if !b.drainPending(ctx, chatID, userID, menu) {
		b.replyMarkup(chatID, textSendCode, menu)
	}
}

func (b *Bot) handleHelp(ctx context.Context, chatID, userID int64) {
	isAdmin := b.isAdmin(ctx, userID)
	if b.state(ctx, userID, isAdmin).IsAdmin() {
		b.reply(chatID, textAdminHelp)
		return
	}
	b.replyMarkup(chatID, textUserHelp, userMenu(isAdmin))
}

// enterAdminMode switches an admin to the admin menu. A code the admin left
// pending while in user mode is discarded, not delivered.
func (b *Bot) enterAdminMode(ctx context.Context, chatID, userID int64) {
	b.setState(ctx, userID, session.AdminMode())
	b.discardPending(ctx, userID)
	b.replyMarkup(chatID, "Admin mode. Use the menu below or /help.", adminMenu())
}

func (b *Bot) enterUserMode(ctx context.Context, chatID, userID int64) {
	b.setState(ctx, userID, session.UserMode())
	b.replyMarkup(chatID, "User mode. The bot now behaves as it does for regular users.\nPress \""+btnAdminMode+"\" to return.", userMenu(true))
}

func (b *Bot) onContactShared(ctx context.Context, msg *tgbotapi.Message) {
	chatID, userID := msg.Chat.ID, msg.From.ID
	c := msg.Contact

	if c.UserID != 0 && c.UserID != userID {
		b.reply(chatID, "Please share your own contact using the button.")
		return
	}
	phone := strings.TrimSpace(c.PhoneNumber)
	if phone == "" {
		b.reply(chatID, "The contact has no phone number.")
		return
	}

	if err := b.store.SetUserPhone(ctx, userID, phone); err != nil {
		b.fail(chatID, "save phone", err)
		return
	}
	b.log.Info("phone saved", "user_id", userID)
	b.reply(chatID, "Thanks, your phone number is saved.")
}

func (b *Bot) handleContactAdmin(chatID int64) {
	text := "Write your question here and an admin will see it."
	if u := strings.TrimPrefix(b.cfg.AdminUsername, "@"); u != "" {
		text = fmt.Sprintf("Admin: @%s\n\n%s", u, text)
	}
	b.reply(chatID, text)
}

func (b *Bot) handleOurChannel(chatID int64) {
	ch := strings.TrimPrefix(b.cfg.MainChannel, "@")
	if ch == "" {
		b.reply(chatID, "There is no main channel yet.")
		return
	}
	b.reply(chatID, "Our channel: https://t.me/"+ch)
}
