package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"kino_bot/internal/delivery"
	"kino_bot/internal/model"
	"kino_bot/internal/subscription"
)

const (
	textRetryLater = "Something went wrong. Please try again later."
	textSendCode   = "Send a code to get the content."
)

func (b *Bot) onTextMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID, userID := msg.Chat.ID, msg.From.ID
	text := strings.TrimSpace(msg.Text)

	isAdmin := b.isAdmin(ctx, userID)
	state := b.state(ctx, userID, isAdmin)
	if state.IsAdmin() {
		b.handleAdminText(ctx, msg, state)
		return
	}
	if isAdmin && text == btnAdminMode {
		b.enterAdminMode(ctx, chatID, userID)
		return
	}
	b.handleUserText(ctx, msg, isAdmin)
}

// handleUserText runs the access gate for one user-mode message. Every
// message is verified live. While channels are missing, any text that is
// not a menu button replaces the pending code of the user.
func (b *Bot) handleUserText(ctx context.Context, msg *tgbotapi.Message, isAdmin bool) {
	chatID, userID := msg.Chat.ID, msg.From.ID
	text := strings.TrimSpace(msg.Text)

	res, ok := b.verify(ctx, chatID, userID)
	if !ok {
		return
	}
	if !res.Satisfied() {
		if !isUserMenuLabel(text) {
			if err := b.sessions.SetPending(ctx, userID, text); err != nil {
				b.log.Error("set pending code", "user_id", userID, "error", err)
			}
		}
		b.promptSubscribe(chatID, res.Missing)
		return
	}

	if !isUserMenuLabel(text) {
		b.discardPending(ctx, userID)
		b.deliverCode(ctx, chatID, userID, text, msg)
		return
	}

	switch text {
	case btnContactAdmin:
		b.handleContactAdmin(chatID)
	case btnOurChannel:
		b.handleOurChannel(chatID)
	case btnHelp:
		b.replyMarkup(chatID, textUserHelp, userMenu(isAdmin))
	case btnAdminMode:
		b.replyMarkup(chatID, "You don't have permission to do this.", userMenu(false))
	}
	b.drainPending(ctx, chatID, userID, userMenu(isAdmin))
}

// onCheckSubscription re-verifies after the user pressed "I've subscribed".
// On success the pending code, if any, is taken and resolved.
func (b *Bot) onCheckSubscription(ctx context.Context, chatID int64, messageID int, userID int64) {
	res, ok := b.verify(ctx, chatID, userID)
	if !ok {
		return
	}
	if !res.Satisfied() {
		kb := subscribeKeyboard(res.Missing)
		b.edit(chatID, messageID, "You haven't joined every channel yet.\n\n"+FormatMissingChannels(res.Missing), &kb)
		return
	}

	b.edit(chatID, messageID, "✅ Subscription confirmed.", nil)
	menu := userMenu(b.isAdmin(ctx, userID))
	if !b.drainPending(ctx, chatID, userID, menu) {
		b.replyMarkup(chatID, textSendCode, menu)
	}
}

// drainPending resolves the code a user sent before passing the gate. It
// runs on every satisfied check and reports whether a code was pending.
func (b *Bot) drainPending(ctx context.Context, chatID, userID int64, menu any) bool {
	code, found, err := b.sessions.TakePending(ctx, userID)
	if err != nil {
		b.log.Error("take pending code", "user_id", userID, "error", err)
		return false
	}
	if !found {
		return false
	}

	b.replyMarkup(chatID, fmt.Sprintf("Looking up code %q...", code), menu)
	b.deliverCode(ctx, chatID, userID, code, nil)
	return true
}

// verify runs a subscription check and reports failed membership queries to
// the operator. It returns false when the user has already been answered.
func (b *Bot) verify(ctx context.Context, chatID, userID int64) (subscription.Result, bool) {
	res, err := b.verifier.Verify(ctx, userID)
	if err != nil {
		b.fail(chatID, "verify subscription", err)
		return res, false
	}
	for _, c := range res.Failures() {
		b.report(fmt.Sprintf("Membership check failed for channel %q (%d): %v", c.Channel.Name, c.Channel.ID, c.Err))
	}
	return res, true
}

func (b *Bot) promptSubscribe(chatID int64, missing []model.Channel) {
	b.replyMarkup(chatID, FormatMissingChannels(missing), subscribeKeyboard(missing))
}

// discardPending drops a code buffered before the user was verified. A code
// sent after verification supersedes it.
func (b *Bot) discardPending(ctx context.Context, userID int64) {
	code, found, err := b.sessions.TakePending(ctx, userID)
	if err != nil {
		b.log.Error("take pending code", "user_id", userID, "error", err)
		return
	}
	if found {
		b.log.Info("discarded pending code", "user_id", userID, "code", code)
	}
}

// deliverCode resolves text and answers the user. Unknown codes are passed
// to the operator; src is forwarded when the code came from a live message.
func (b *Bot) deliverCode(ctx context.Context, chatID, userID int64, text string, src *tgbotapi.Message) {
	out, err := b.resolver.Resolve(ctx, userID, text)
	if err != nil {
		b.fail(chatID, "resolve code", err)
		return
	}

	switch out.Status {
	case delivery.Delivered:
		if len(out.FailedPosts) > 0 {
			b.report(fmt.Sprintf("Code %q for user %d: posts %v could not be copied", out.Code, userID, out.FailedPosts))
		}
	case delivery.Failed:
		b.report(fmt.Sprintf("Code %q for user %d: no post could be copied %v", out.Code, userID, out.FailedPosts))
		b.reply(chatID, textRetryLater)
	case delivery.InFlight:
		b.reply(chatID, "This code is still being delivered, please wait.")
	case delivery.NotFound:
		b.reply(chatID, "Nothing found for this code. Your message was passed to an admin.")
		b.forwardUnknown(userID, text, src)
	}
}

func (b *Bot) forwardUnknown(userID int64, text string, src *tgbotapi.Message) {
	if b.cfg.OperatorChatID == 0 {
		return
	}
	if src == nil {
		b.SendMessage(b.cfg.OperatorChatID, fmt.Sprintf("Unknown code from user %d: %s", userID, text))
		return
	}
	fwd := tgbotapi.NewForward(b.cfg.OperatorChatID, src.Chat.ID, src.MessageID)
	if _, err := b.api.Send(fwd); err != nil {
		b.log.Error("forward unknown code", "user_id", userID, "error", err)
		b.report(fmt.Sprintf("Could not forward message from user %d (%v): %s", userID, err, text))
	}
}
