package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"kino_bot/internal/config"
	"kino_bot/internal/delivery"
	"kino_bot/internal/model"
	"kino_bot/internal/session"
	"kino_bot/internal/storage"
	"kino_bot/internal/subscription"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// maxMessageLen keeps replies under the Telegram limit of 4096 characters.
const maxMessageLen = 4000

// Bot is the Telegram bot that gates code delivery behind mandatory channel
// subscriptions and serves the admin panel.
type Bot struct {
	api      telegramAPI
	platform *platform
	store    storage.Storage
	sessions session.Store
	verifier *subscription.Verifier
	resolver *delivery.Resolver
	cfg      *config.Config
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Bot with the given Telegram token, storage, session store and config.
func New(token string, store storage.Storage, sessions session.Store, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	log.Info("authorized", "username", api.Self.UserName)
	return newBot(api, store, sessions, cfg, log), nil
}

func newBot(api telegramAPI, store storage.Storage, sessions session.Store, cfg *config.Config, log *slog.Logger) *Bot {
	p := &platform{api: api}
	return &Bot{
		api:      api,
		platform: p,
		store:    store,
		sessions: sessions,
		verifier: subscription.NewVerifier(store, p, log),
		resolver: delivery.NewResolver(store, p, cfg.SourceChannelID, cfg.DeliveryPace, log),
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
// Updates are handled concurrently by at most cfg.Workers goroutines.
// Handlers already running when ctx is cancelled are allowed to finish.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	hctx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(b.cfg.Workers)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			_ = g.Wait()
			return
		case update, ok := <-updates:
			if !ok {
				_ = g.Wait()
				return
			}
			g.Go(func() error {
				b.handleUpdate(hctx, update)
				return nil
			})
		}
	}
}

// handleUpdate routes one update. A panic is contained to the update that
// caused it.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("handler panic", "update_id", update.UpdateID, "panic", r)
			b.report(fmt.Sprintf("Handler panic on update %d: %v", update.UpdateID, r))
		}
	}()

	if cb := update.CallbackQuery; cb != nil {
		if cb.From != nil {
			b.trackUser(ctx, cb.From)
		}
		b.onButtonPress(ctx, cb)
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || !msg.Chat.IsPrivate() {
		return
	}
	b.trackUser(ctx, msg.From)

	switch {
	case msg.Contact != nil:
		b.onContactShared(ctx, msg)
	case msg.IsCommand():
		b.handleCommand(ctx, msg)
	case strings.TrimSpace(msg.Text) != "":
		b.onTextMessage(ctx, msg)
	}
}

func (b *Bot) trackUser(ctx context.Context, from *tgbotapi.User) {
	u := &model.User{
		ID:           from.ID,
		FullName:     strings.TrimSpace(from.FirstName + " " + from.LastName),
		Username:     from.UserName,
		LastActivity: b.now(),
	}
	if err := b.store.TouchUser(ctx, u); err != nil {
		b.log.Error("touch user", "user_id", from.ID, "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID
	userID := msg.From.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "user_id", userID)

	switch cmd {
	case "start":
		b.handleStart(ctx, chatID, userID)
		return
	case "help":
		b.handleHelp(ctx, chatID, userID)
		return
	}

	if !isAdminCommand(cmd) {
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
		return
	}
	if !b.isAdmin(ctx, userID) {
		b.reply(chatID, "You don't have permission to use this command.")
		return
	}

	switch cmd {
	case cmdAddCode:
		b.handleAddCode(ctx, chatID, args)
	case cmdEditCode:
		b.handleEditCode(ctx, chatID, args)
	case cmdDelCode:
		b.handleDeleteCode(ctx, chatID, args)
	case cmdCodes:
		b.handleListCodes(ctx, chatID)
	case cmdAddChannel:
		b.handleAddChannelCommand(ctx, chatID, args)
	case cmdDelChannel:
		b.handleDeleteChannelCommand(ctx, chatID, args)
	case cmdChannels:
		b.showChannelPanel(ctx, chatID, 0)
	case cmdAddAdmin:
		b.handleAddAdminCommand(ctx, chatID, args)
	case cmdDelAdmin:
		b.handleDeleteAdminCommand(ctx, chatID, args)
	case cmdAdmins:
		b.showAdminPanel(ctx, chatID, 0)
	case cmdUsers:
		b.handleExportUsers(ctx, chatID)
	case cmdStats:
		b.handleStats(ctx, chatID)
	case cmdUserMode:
		b.enterUserMode(ctx, chatID, userID)
	case cmdAdminMode:
		b.enterAdminMode(ctx, chatID, userID)
	}
}

func (b *Bot) isAdmin(ctx context.Context, userID int64) bool {
	if userID == b.cfg.AdminID {
		return true
	}
	ok, err := b.store.IsAdmin(ctx, userID)
	if err != nil {
		b.log.Error("check admin", "user_id", userID, "error", err)
		return false
	}
	return ok
}

// state returns the session state of a user. Admins without a stored state
// start in admin mode. A stored admin-mode state of a user who is no longer
// an admin is ignored.
func (b *Bot) state(ctx context.Context, userID int64, isAdmin bool) session.State {
	s, ok, err := b.sessions.State(ctx, userID)
	if err != nil {
		b.log.Error("load session", "user_id", userID, "error", err)
		ok = false
	}
	if !ok {
		if isAdmin {
			return session.AdminMode()
		}
		return session.UserMode()
	}
	if s.IsAdmin() && !isAdmin {
		return session.UserMode()
	}
	return s
}

func (b *Bot) setState(ctx context.Context, userID int64, s session.State) {
	if err := b.sessions.SetState(ctx, userID, s); err != nil {
		b.log.Error("save session", "user_id", userID, "state", s.String(), "error", err)
	}
}

// SendMessage sends a text message to the given chat, splitting it when it
// exceeds the platform limit.
func (b *Bot) SendMessage(chatID int64, text string) {
	for _, chunk := range SplitMessage(text, maxMessageLen) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.DisableWebPagePreview = true
		if _, err := b.api.Send(msg); err != nil {
			b.log.Error("send message", "chat_id", chatID, "error", err)
		}
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

// replyMarkup sends a message with a reply or inline keyboard attached.
func (b *Bot) replyMarkup(chatID int64, text string, markup any) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = markup
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

// edit replaces the text and inline keyboard of a message sent by the bot.
// A nil markup removes the keyboard.
func (b *Bot) edit(chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	var cfg tgbotapi.EditMessageTextConfig
	if markup != nil {
		cfg = tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, *markup)
	} else {
		cfg = tgbotapi.NewEditMessageText(chatID, messageID, text)
	}
	cfg.DisableWebPagePreview = true
	if _, err := b.api.Send(cfg); err != nil {
		b.log.Error("edit message", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}

// report sends an operational notice to the operator chat.
func (b *Bot) report(text string) {
	if b.cfg.OperatorChatID == 0 {
		return
	}
	b.SendMessage(b.cfg.OperatorChatID, "⚠️ "+text)
}

// fail logs err, reports it to the operator and tells the user to retry.
func (b *Bot) fail(chatID int64, op string, err error) {
	b.log.Error(op, "chat_id", chatID, "error", err)
	b.report(fmt.Sprintf("%s for chat %d: %v", op, chatID, err))
	b.reply(chatID, textRetryLater)
}
