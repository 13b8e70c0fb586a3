package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"kino_bot/internal/config"
	"kino_bot/internal/model"
	"kino_bot/internal/session"
	"kino_bot/internal/storage"
)

const (
	testAdminID    int64 = 1
	testUserID     int64 = 100
	testSourceID   int64 = -1001234567890
	testOperatorID int64 = -100999
	chanMovies     int64 = -1001
	chanSeries     int64 = -1002
)

// --- mocks ---

type sentMsg struct {
	ChatID int64
	Text   string
	Markup any
}

type copyCall struct {
	ChatID     int64
	FromChatID int64
	MessageID  int
	Protected  bool
	Silent     bool
}

type mockAPI struct {
	mu        sync.Mutex
	sent      []sentMsg
	edits     []sentMsg
	forwards  []tgbotapi.ForwardConfig
	documents []tgbotapi.DocumentConfig
	callbacks []tgbotapi.CallbackConfig
	copies    []copyCall

	status     map[[2]int64]string
	memberErr  map[int64]error
	usernames  map[int64]string
	copyErr    map[int]error
	forwardErr error
	updates    chan tgbotapi.Update
}

func newMockAPI() *mockAPI {
	return &mockAPI{
		status:    make(map[[2]int64]string),
		memberErr: make(map[int64]error),
		usernames: make(map[int64]string),
		copyErr:   make(map[int]error),
		updates:   make(chan tgbotapi.Update, 10),
	}
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := c.(type) {
	case tgbotapi.MessageConfig:
		m.sent = append(m.sent, sentMsg{ChatID: v.ChatID, Text: v.Text, Markup: v.ReplyMarkup})
	case tgbotapi.EditMessageTextConfig:
		var markup any
		if v.ReplyMarkup != nil {
			markup = *v.ReplyMarkup
		}
		m.edits = append(m.edits, sentMsg{ChatID: v.ChatID, Text: v.Text, Markup: markup})
	case tgbotapi.ForwardConfig:
		if m.forwardErr != nil {
			return tgbotapi.Message{}, m.forwardErr
		}
		m.forwards = append(m.forwards, v)
	case tgbotapi.DocumentConfig:
		m.documents = append(m.documents, v)
	}
	return tgbotapi.Message{MessageID: len(m.sent)}, nil
}

func (m *mockAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := c.(tgbotapi.CallbackConfig); ok {
		m.callbacks = append(m.callbacks, cb)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *mockAPI) MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	if endpoint != "copyMessage" {
		return nil, fmt.Errorf("unexpected endpoint %q", endpoint)
	}
	chatID, _ := strconv.ParseInt(params["chat_id"], 10, 64)
	fromChatID, _ := strconv.ParseInt(params["from_chat_id"], 10, 64)
	messageID, _ := strconv.Atoi(params["message_id"])

	m.mu.Lock()
	defer m.mu.Unlock()
	m.copies = append(m.copies, copyCall{
		ChatID:     chatID,
		FromChatID: fromChatID,
		MessageID:  messageID,
		Protected:  params["protect_content"] == "true",
		Silent:     params["disable_notification"] == "true",
	})
	if err := m.copyErr[messageID]; err != nil {
		return nil, err
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *mockAPI) GetChat(c tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	username, ok := m.usernames[c.ChatID]
	if !ok {
		return tgbotapi.Chat{}, errors.New("Bad Request: chat not found")
	}
	return tgbotapi.Chat{ID: c.ChatID, UserName: username}, nil
}

func (m *mockAPI) GetChatMember(c tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.memberErr[c.ChatID]; err != nil {
		return tgbotapi.ChatMember{}, err
	}
	status, ok := m.status[[2]int64{c.ChatID, c.UserID}]
	if !ok {
		status = "left"
	}
	return tgbotapi.ChatMember{Status: status}, nil
}

func (m *mockAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return m.updates
}

func (m *mockAPI) StopReceivingUpdates() {}

func (m *mockAPI) join(channelID, userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[[2]int64{channelID, userID}] = "member"
}

func (m *mockAPI) leave(channelID, userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.status, [2]int64{channelID, userID})
}

func (m *mockAPI) lastMessage() sentMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMsg{}
	}
	return m.sent[len(m.sent)-1]
}

func (m *mockAPI) lastText() string {
	return m.lastMessage().Text
}

func (m *mockAPI) lastEdit() sentMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.edits) == 0 {
		return sentMsg{}
	}
	return m.edits[len(m.edits)-1]
}

func (m *mockAPI) textsTo(chatID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sent {
		if s.ChatID == chatID {
			out = append(out, s.Text)
		}
	}
	return out
}

func (m *mockAPI) copiedPosts() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int
	for _, c := range m.copies {
		out = append(out, c.MessageID)
	}
	return out
}

func (m *mockAPI) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent, m.edits, m.forwards, m.documents, m.callbacks, m.copies = nil, nil, nil, nil, nil, nil
}

type panicSessions struct {
	session.Store
}

func (panicSessions) State(context.Context, int64) (session.State, bool, error) {
	panic("boom")
}

// --- helpers ---

func newTestBot(t *testing.T) (*Bot, *mockAPI, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	api := newMockAPI()
	cfg := &config.Config{
		AdminID:         testAdminID,
		AdminUsername:   "boss",
		SourceChannelID: testSourceID,
		MainChannel:     "kino_main",
		OperatorChatID:  testOperatorID,
		Workers:         2,
		StateTTL:        time.Hour,
	}
	b := newBot(api, store, session.NewMemory(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return b, api, store
}

func seedChannel(t *testing.T, store *storage.SQLite, id int64, name, username string) {
	t.Helper()
	if err := store.CreateChannel(context.Background(), &model.Channel{ID: id, Name: name, Username: username}); err != nil {
		t.Fatalf("seed channel: %v", err)
	}
}

func seedCode(t *testing.T, store *storage.SQLite, code string, postIDs ...int) {
	t.Helper()
	if err := store.CreateCode(context.Background(), &model.Code{Code: code, PostIDs: postIDs}); err != nil {
		t.Fatalf("seed code: %v", err)
	}
}

func textUpdate(userID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 42,
		From:      &tgbotapi.User{ID: userID, FirstName: "Test", UserName: "tester"},
		Chat:      &tgbotapi.Chat{ID: userID, Type: "private"},
		Text:      text,
	}}
}

func commandUpdate(userID int64, cmd, args string) tgbotapi.Update {
	text := "/" + cmd
	if args != "" {
		text += " " + args
	}
	u := textUpdate(userID, text)
	u.Message.Entities = []tgbotapi.MessageEntity{
		{Type: "bot_command", Offset: 0, Length: len("/" + cmd)},
	}
	return u
}

func callbackUpdate(userID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb",
		From: &tgbotapi.User{ID: userID, FirstName: "Test"},
		Data: data,
		Message: &tgbotapi.Message{
			MessageID: 7,
			Chat:      &tgbotapi.Chat{ID: userID, Type: "private"},
		},
	}}
}

func contactUpdate(userID, contactUserID int64, phone string) tgbotapi.Update {
	u := textUpdate(userID, "")
	u.Message.Contact = &tgbotapi.Contact{PhoneNumber: phone, FirstName: "Test", UserID: contactUserID}
	return u
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("reply missing %q, got:\n%s", want, got)
	}
}

func requireAnyContains(t *testing.T, texts []string, want string) {
	t.Helper()
	for _, s := range texts {
		if strings.Contains(s, want) {
			return
		}
	}
	t.Errorf("no message contains %q, got:\n%s", want, strings.Join(texts, "\n---\n"))
}

func requireState(t *testing.T, b *Bot, userID int64, want session.State) {
	t.Helper()
	got, ok, err := b.sessions.State(context.Background(), userID)
	if err != nil || !ok {
		t.Fatalf("state of %d = %v, %v", userID, ok, err)
	}
	if got != want {
		t.Errorf("state of %d = %v, want %v", userID, got, want)
	}
}

func requireNoPending(t *testing.T, b *Bot, userID int64) {
	t.Helper()
	code, ok, err := b.sessions.TakePending(context.Background(), userID)
	if err != nil {
		t.Fatalf("take pending: %v", err)
	}
	if ok {
		t.Errorf("pending code %q left for user %d", code, userID)
	}
}

// --- gate ---

func TestGateDeliversWithoutChannels(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)
	seedCode(t, store, "Premium", 10, 20)

	b.handleUpdate(ctx, textUpdate(testUserID, "PREMIUM"))

	want := []copyCall{
		{ChatID: testUserID, FromChatID: testSourceID, MessageID: 10, Protected: true, Silent: true},
		{ChatID: testUserID, FromChatID: testSourceID, MessageID: 20, Protected: true, Silent: true},
	}
	if diff := cmp.Diff(want, api.copies); diff != "" {
		t.Errorf("copies (-want +got):\n%s", diff)
	}
}

func TestGatePromptsForMissingChannels(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)
	seedChannel(t, store, chanMovies, "Movies", "kino_movies")
	seedChannel(t, store, chanSeries, "Series", "")
	seedCode(t, store, "premium", 10)

	b.handleUpdate(ctx, textUpdate(testUserID, "premium"))

	if len(api.copies) != 0 {
		t.Fatalf("delivered before subscription: %v", api.copiedPosts())
	}
	msg := api.lastMessage()
	requireContains(t, msg.Text, "1. Movies\n2. Series")

	kb, ok := msg.Markup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("markup = %T, want inline keyboard", msg.Markup)
	}
	if diff := cmp.Diff(3, len(kb.InlineKeyboard)); diff != "" {
		t.Fatalf("rows (-want +got):\n%s", diff)
	}
	if url := kb.InlineKeyboard[0][0].URL; url == nil || *url != "https://t.me/kino_movies" {
		t.Errorf("first button url = %v", url)
	}
	if data := kb.InlineKeyboard[1][0].CallbackData; data == nil || *data != cbNoUsername {
		t.Errorf("second button data = %v, want %s", data, cbNoUsername)
	}
	if data := kb.InlineKeyboard[2][0].CallbackData; data == nil || *data != cbCheckSubscription {
		t.Errorf("last button data = %v, want %s", data, cbCheckSubscription)
	}
}

func TestPendingCodeRoundTrip(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)
	seedChannel(t, store, chanMovies, "Movies", "kino_movies")
	seedCode(t, store, "premium", 10, 20)

	b.handleUpdate(ctx, textUpdate(testUserID, "premium"))
	api.join(chanMovies, testUserID)
	b.handleUpdate(ctx, callbackUpdate(testUserID, cbCheckSubscription))

	if diff := cmp.Diff([]int{10, 20}, api.copiedPosts()); diff != "" {
		t.Errorf("copied posts (-want +got):\n%s", diff)
	}
	requireContains(t, api.lastEdit().Text, "confirmed")
	requireNoPending(t, b, testUserID)

	sub, err := store.GetSubscription(ctx, testUserID)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if !sub.Subscribed {
		t.Error("subscription record not written")
	}
}

func TestPendingCodeDrainedOnAnySatisfiedCheck(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		update tgbotapi.Update
	}{
		{name: "start", update: commandUpdate(testUserID, "start", "")},
		{name: "help button", update: textUpdate(testUserID, btnHelp)},
		{name: "our channel button", update: textUpdate(testUserID, btnOurChannel)},
		{name: "contact admin button", update: textUpdate(testUserID, btnContactAdmin)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, api, store := newTestBot(t)
			seedChannel(t, store, chanMovies, "Movies", "kino_movies")
			seedCode(t, store, "premium", 10)

			b.handleUpdate(ctx, textUpdate(testUserID, "premium"))
			api.join(chanMovies, testUserID)
			b.handleUpdate(ctx, tt.update)

			if diff := cmp.Diff([]int{10}, api.copiedPosts()); diff != "" {
				t.Errorf("copied posts (-want +got):\n%s", diff)
			}
			requireAnyContains(t, api.textsTo(testUserID), `Looking up code "premium"`)
			requireNoPending(t, b, testUserID)
		})
	}
}

func TestPendingCodeNotRedeliveredLater(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)
	seedChannel(t, store, chanMovies, "Movies", "kino_movies")
	seedCode(t, store, "premium", 10)

	b.handleUpdate(ctx, textUpdate(testUserID, "premium"))
	api.join(chanMovies, testUserID)
	b.handleUpdate(ctx, commandUpdate(testUserID, "start", ""))
	api.reset()

	api.leave(chanMovies, testUserID)
	b.handleUpdate(ctx, textUpdate(testUserID, btnOurChannel))
	api.join(chanMovies, testUserID)
	b.handleUpdate(ctx, callbackUpdate(testUserID, cbCheckSubscription))

	if len(api.copies) != 0 {
		t.Errorf("stale code delivered again: %v", api.copiedPosts())
	}
	requireContains(t, api.lastText(), textSendCode)
}

func TestPendingCodeLatestWins(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)
	seedChannel(t, store, chanMovies, "Movies", "kino_movies")
	seedCode(t, store, "first", 1)
	seedCode(t, store, "premium", 10)

	b.handleUpdate(ctx, textUpdate(testUserID, "first"))
	b.handleUpdate(ctx, textUpdate(testUserID, "premium"))
	api.join(chanMovies, testUserID)
	b.handleUpdate(ctx, callbackUpdate(testUserID, cbCheckSubscription))

	if diff := cmp.Diff([]int{10}, api.copiedPosts()); diff != "" {
		t.Errorf("copied posts (-want +got):\n%s", diff)
	}
}

func TestPendingCodeClearedWhenUnknown(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)
	seedChannel(t, store, chanMovies, "Movies", "kino_movies")

	b.handleUpdate(ctx, textUpdate(testUserID, "nope"))
	api.join(chanMovies, testUserID)
	b.handleUpdate(ctx, callbackUpdate(testUserID, cbCheckSubscription))

	requireAnyContains(t, api.textsTo(testUserID), "Nothing found")
	requireAnyContains(t, api.textsTo(testOperatorID), "Unknown code from user 100: nope")
	requireNoPending(t, b, testUserID)
}

func TestPendingCodeMenuButtonNotBuffered(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)
	seedChannel(t, store, chanMovies, "Movies", "kino_movies")

	b.handleUpdate(ctx, textUpdate(testUserID, btnHelp))
	requireContains(t, api.lastText(), "Movies")
	requireNoPending(t, b, testUserID)
}

func TestRecheckStillMissing(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)
	seedChannel(t, store, chanMovies, "Movies", "kino_movies")
	seedChannel(t, store, chanSeries, "Series", "kino_series")
	seedCode(t, store, "premium", 10)

	b.handleUpdate(ctx, textUpdate(testUserID, "premium"))
	api.join(chanMovies, testUserID)
	b.handleUpdate(ctx, callbackUpdate(testUserID, cbCheckSubscription))

	edit := api.lastEdit()
	requireContains(t, edit.Text, "haven't joined")
	requireContains(t, edit.Text, "1. Series")
	if strings.Contains(edit.Text, "Movies") {
		t.Errorf("joined channel still listed:\n%s", edit.Text)
	}
	if len(api.copies) != 0 {
		t.Fatalf("delivered while unsubscribed: %v", api.copiedPosts())
	}

	api.join(chanSeries, testUserID)
	b.handleUpdate(ctx, callbackUpdate(testUserID, cbCheckSubscription))
	if diff := cmp.Diff([]int{10}, api.copiedPosts()); diff != "" {
		t.Errorf("pending code not retained (-want +got):\n%s", diff)
	}
}

func TestMembershipFailureIsFailClosed(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)
	seedChannel(t, store, chanMovies, "Movies", "kino_movies")
	seedCode(t, store, "premium", 10)
	api.join(chanMovies, testUserID)
	api.memberErr[chanMovies] = errors.New("Bad Request: member list is inaccessible")

	b.handleUpdate(ctx, textUpdate(testUserID, "premium"))

	if len(api.copies) != 0 {
		t.Errorf("delivered despite failed check: %v", api.copiedPosts())
	}
	requireContains(t, api.lastText(), "1. Movies")
	requireAnyContains(t, api.textsTo(testOperatorID), "Membership check failed")
}

func TestStoreFailureDeniesAccess(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)
	seedCode(t, store, "premium", 10)
	_ = store.Close()

	b.handleUpdate(ctx, textUpdate(testUserID, "premium"))

	if len(api.copies) != 0 {
		t.Errorf("delivered without a channel list: %v", api.copiedPosts())
	}
	requireAnyContains(t, api.textsTo(testUserID), textRetryLater)
	requireAnyContains(t, api.textsTo(testOperatorID), "verify subscription")
}

func TestSubscribedCodeDiscardsStalePending(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)
	seedChannel(t, store, chanMovies, "Movies", "kino_movies")
	seedCode(t, store, "old", 1)
	seedCode(t, store, "new", 2)

	b.handleUpdate(ctx, textUpdate(testUserID, "old"))
	api.join(chanMovies, testUserID)
	b.handleUpdate(ctx, textUpdate(testUserID, "new"))

	if diff := cmp.Diff([]int{2}, api.copiedPosts()); diff != "" {
		t.Errorf("copied posts (-want +got):\n%s", diff)
	}
	requireNoPending(t, b, testUserID)
}

// --- delivery ---

func TestDeliveryOutcomes(t *testing.T) {
	ctx := context.Background()

	t.Run("partial failure", func(t *testing.T) {
		b, api, store := newTestBot(t)
		seedCode(t, store, "trio", 10, 20, 30)
		api.copyErr[20] = errors.New("Bad Request: message to copy not found")

		b.handleUpdate(ctx, textUpdate(testUserID, "trio"))

		if diff := cmp.Diff([]int{10, 20, 30}, api.copiedPosts()); diff != "" {
			t.Errorf("attempted posts (-want +got):\n%s", diff)
		}
		requireAnyContains(t, api.textsTo(testOperatorID), "posts [20] could not be copied")
		if got := api.textsTo(testUserID); len(got) != 0 {
			t.Errorf("unexpected user messages: %v", got)
		}
	})

	t.Run("all failed", func(t *testing.T) {
		b, api, store := newTestBot(t)
		seedCode(t, store, "one", 10)
		api.copyErr[10] = errors.New("Forbidden: bot was blocked by the user")

		b.handleUpdate(ctx, textUpdate(testUserID, "one"))

		requireAnyContains(t, api.textsTo(testOperatorID), "no post could be copied")
		requireAnyContains(t, api.textsTo(testUserID), textRetryLater)
	})

	t.Run("repeat re-delivers", func(t *testing.T) {
		b, api, store := newTestBot(t)
		seedCode(t, store, "premium", 10)

		b.handleUpdate(ctx, textUpdate(testUserID, "premium"))
		b.handleUpdate(ctx, textUpdate(testUserID, "Premium"))

		if diff := cmp.Diff([]int{10, 10}, api.copiedPosts()); diff != "" {
			t.Errorf("copied posts (-want +got):\n%s", diff)
		}
	})

	t.Run("unknown code forwarded", func(t *testing.T) {
		b, api, _ := newTestBot(t)

		b.handleUpdate(ctx, textUpdate(testUserID, "where is my movie"))

		requireContains(t, api.lastText(), "Nothing found")
		if diff := cmp.Diff(1, len(api.forwards)); diff != "" {
			t.Fatalf("forwards (-want +got):\n%s", diff)
		}
		fwd := api.forwards[0]
		if fwd.ChatID != testOperatorID || fwd.FromChatID != testUserID || fwd.MessageID != 42 {
			t.Errorf("forward = %+v", fwd)
		}
	})

	t.Run("forward failure reported", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		api.forwardErr = errors.New("Bad Request: chat not found")

		b.handleUpdate(ctx, textUpdate(testUserID, "hello"))

		requireAnyContains(t, api.textsTo(testOperatorID), "Could not forward message from user 100")
	})
}

// --- modes ---

func TestAdminInUserMode(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)
	seedChannel(t, store, chanMovies, "Movies", "kino_movies")
	seedCode(t, store, "premium", 10)

	b.handleUpdate(ctx, commandUpdate(testAdminID, cmdUserMode, ""))
	requireState(t, b, testAdminID, session.UserMode())
	menu, ok := api.lastMessage().Markup.(tgbotapi.ReplyKeyboardMarkup)
	if !ok {
		t.Fatalf("markup = %T, want reply keyboard", api.lastMessage().Markup)
	}
	last := menu.Keyboard[len(menu.Keyboard)-1]
	if diff := cmp.Diff(btnAdminMode, last[0].Text); diff != "" {
		t.Errorf("admin mode button (-want +got):\n%s", diff)
	}

	b.handleUpdate(ctx, textUpdate(testUserID, "premium"))
	userPrompt := api.lastMessage()
	b.handleUpdate(ctx, textUpdate(testAdminID, "premium"))
	adminPrompt := api.lastMessage()

	adminPrompt.ChatID = userPrompt.ChatID
	if diff := cmp.Diff(userPrompt, adminPrompt); diff != "" {
		t.Errorf("admin in user mode sees a different gate (-user +admin):\n%s", diff)
	}
	if len(api.copies) != 0 {
		t.Errorf("delivered while unsubscribed: %v", api.copiedPosts())
	}

	b.handleUpdate(ctx, textUpdate(testAdminID, btnAdminMode))
	requireState(t, b, testAdminID, session.AdminMode())
	requireContains(t, api.lastText(), "Admin mode")
	requireNoPending(t, b, testAdminID)
}

func TestAdminModeTextIsNotACode(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)
	seedCode(t, store, "premium", 10)

	b.handleUpdate(ctx, textUpdate(testAdminID, "premium"))

	if len(api.copies) != 0 {
		t.Errorf("admin text resolved as code: %v", api.copiedPosts())
	}
	requireContains(t, api.lastText(), "Use the menu")
}

func TestHandleStart(t *testing.T) {
	ctx := context.Background()

	t.Run("user without channels", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleUpdate(ctx, commandUpdate(testUserID, "start", ""))
		requireAnyContains(t, api.textsTo(testUserID), "Welcome")
		requireContains(t, api.lastText(), textSendCode)
		requireState(t, b, testUserID, session.UserMode())
	})

	t.Run("user with missing channel", func(t *testing.T) {
		b, api, store := newTestBot(t)
		seedChannel(t, store, chanMovies, "Movies", "kino_movies")
		b.handleUpdate(ctx, commandUpdate(testUserID, "start", ""))
		texts := api.textsTo(testUserID)
		requireAnyContains(t, texts, "Welcome")
		requireContains(t, api.lastText(), "1. Movies")
	})

	t.Run("admin discards stale pending", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		if err := b.sessions.SetPending(ctx, testAdminID, "old"); err != nil {
			t.Fatalf("set pending: %v", err)
		}
		b.handleUpdate(ctx, commandUpdate(testAdminID, "start", ""))
		requireContains(t, api.lastText(), "Admin mode")
		requireState(t, b, testAdminID, session.AdminMode())
		requireNoPending(t, b, testAdminID)
		if _, ok := api.lastMessage().Markup.(tgbotapi.ReplyKeyboardMarkup); !ok {
			t.Errorf("markup = %T, want admin menu", api.lastMessage().Markup)
		}
	})
}

func TestHandleHelp(t *testing.T) {
	ctx := context.Background()
	b, api, _ := newTestBot(t)

	b.handleUpdate(ctx, commandUpdate(testUserID, "help", ""))
	requireContains(t, api.lastText(), "I've subscribed")

	b.handleUpdate(ctx, commandUpdate(testAdminID, "help", ""))
	requireContains(t, api.lastText(), "/addcode")
}

func TestUserMenu(t *testing.T) {
	ctx := context.Background()
	b, api, _ := newTestBot(t)

	b.handleUpdate(ctx, textUpdate(testUserID, btnContactAdmin))
	requireContains(t, api.lastText(), "@boss")

	b.handleUpdate(ctx, textUpdate(testUserID, btnOurChannel))
	requireContains(t, api.lastText(), "https://t.me/kino_main")

	b.handleUpdate(ctx, textUpdate(testUserID, btnAdminMode))
	requireContains(t, api.lastText(), "permission")
	if _, ok, _ := b.sessions.State(ctx, testUserID); ok {
		t.Error("non-admin got a session state")
	}
}

func TestContactShared(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)

	b.handleUpdate(ctx, contactUpdate(testUserID, 200, "+15550000"))
	requireContains(t, api.lastText(), "your own contact")

	b.handleUpdate(ctx, contactUpdate(testUserID, testUserID, "+998901234567"))
	requireContains(t, api.lastText(), "saved")

	u, err := store.GetUser(ctx, testUserID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if diff := cmp.Diff("+998901234567", u.Phone); diff != "" {
		t.Errorf("phone (-want +got):\n%s", diff)
	}
}

// --- admin surface ---

func TestCodeCommands(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)

	steps := []struct {
		cmd  string
		args string
		want string
	}{
		{cmdAddCode, "premium", "Invalid arguments"},
		{cmdAddCode, "premium 10 20", "https://t.me/c/1234567890/20"},
		{cmdAddCode, "PREMIUM 5", "already exists"},
		{cmdEditCode, "Premium 30,40", "updated"},
		{cmdEditCode, "missing 1", "not found"},
		{cmdCodes, "", "premium  (2 posts)"},
		{cmdDelCode, "", "Usage: /delcode"},
		{cmdDelCode, "premium", "deleted"},
		{cmdDelCode, "premium", "not found"},
	}
	for _, s := range steps {
		api.reset()
		b.handleUpdate(ctx, commandUpdate(testAdminID, s.cmd, s.args))
		requireContains(t, api.lastText(), s.want)
	}

	if _, err := store.GetCode(ctx, "premium"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetCode after delete: err = %v, want ErrNotFound", err)
	}
}

func TestEditCodeReplacesPosts(t *testing.T) {
	ctx := context.Background()
	b, _, store := newTestBot(t)
	seedCode(t, store, "premium", 10, 20)

	b.handleUpdate(ctx, commandUpdate(testAdminID, cmdEditCode, "premium 30 40"))

	c, err := store.GetCode(ctx, "PREMIUM")
	if err != nil {
		t.Fatalf("get code: %v", err)
	}
	if diff := cmp.Diff([]int{30, 40}, c.PostIDs); diff != "" {
		t.Errorf("posts (-want +got):\n%s", diff)
	}
}

func TestAdminCommandsRequirePermission(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)

	b.handleUpdate(ctx, commandUpdate(testUserID, cmdAddCode, "x 1"))
	requireContains(t, api.lastText(), "permission")
	if _, err := store.GetCode(ctx, "x"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("code created by non-admin: err = %v", err)
	}

	b.handleUpdate(ctx, commandUpdate(testUserID, "nosuch", ""))
	requireContains(t, api.lastText(), "Unknown command")
}

func TestAdminCommands(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)
	api.usernames[555] = "helper"

	b.handleUpdate(ctx, commandUpdate(testAdminID, cmdAddAdmin, "555"))
	requireContains(t, api.lastText(), "Admin 555 added")
	b.handleUpdate(ctx, commandUpdate(testAdminID, cmdAddAdmin, "555"))
	requireContains(t, api.lastText(), "already an admin")

	admins, err := store.ListAdmins(ctx)
	if err != nil {
		t.Fatalf("list admins: %v", err)
	}
	if diff := cmp.Diff("helper", admins[0].Username); diff != "" {
		t.Errorf("username (-want +got):\n%s", diff)
	}

	// Username lookup failure is not an error.
	b.handleUpdate(ctx, commandUpdate(testAdminID, cmdAddAdmin, "777"))
	requireContains(t, api.lastText(), "Admin 777 added")

	b.handleUpdate(ctx, commandUpdate(555, cmdAdmins, ""))
	requireContains(t, api.lastText(), "@helper")

	b.handleUpdate(ctx, commandUpdate(testAdminID, cmdDelAdmin, "1"))
	requireContains(t, api.lastText(), "primary admin cannot be removed")
	b.handleUpdate(ctx, commandUpdate(testAdminID, cmdDelAdmin, "555"))
	requireContains(t, api.lastText(), "Admin 555 removed")
	b.handleUpdate(ctx, commandUpdate(testAdminID, cmdDelAdmin, "555"))
	requireContains(t, api.lastText(), "not an admin")
	b.handleUpdate(ctx, commandUpdate(testAdminID, cmdDelAdmin, "abc"))
	requireContains(t, api.lastText(), "Usage: /deladmin")

	if ok, _ := store.IsAdmin(ctx, 555); ok {
		t.Error("removed admin still stored")
	}
}

func TestRemovedAdminLosesAdminMode(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)
	seedCode(t, store, "premium", 10)

	b.handleUpdate(ctx, commandUpdate(testAdminID, cmdAddAdmin, "555"))
	b.handleUpdate(ctx, commandUpdate(555, "start", ""))
	requireState(t, b, 555, session.AdminMode())

	b.handleUpdate(ctx, commandUpdate(testAdminID, cmdDelAdmin, "555"))
	b.handleUpdate(ctx, textUpdate(555, "premium"))

	if diff := cmp.Diff([]int{10}, api.copiedPosts()); diff != "" {
		t.Errorf("former admin not served as user (-want +got):\n%s", diff)
	}
}

func TestChannelCommands(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)
	api.usernames[chanMovies] = "kino_movies"

	b.handleUpdate(ctx, commandUpdate(testAdminID, cmdAddChannel, "-1001 Movies HD"))
	requireContains(t, api.lastText(), `Channel "Movies HD" added.`)
	b.handleUpdate(ctx, commandUpdate(testAdminID, cmdAddChannel, "-1001|Again"))
	requireContains(t, api.lastText(), "already in the list")
	b.handleUpdate(ctx, commandUpdate(testAdminID, cmdAddChannel, "-1002 Private"))
	requireContains(t, api.lastText(), "could not be resolved")
	b.handleUpdate(ctx, commandUpdate(testAdminID, cmdAddChannel, "-1003"))
	requireContains(t, api.lastText(), "Usage: /addchannel")

	ch, err := store.GetChannel(ctx, chanMovies)
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	if diff := cmp.Diff("kino_movies", ch.Username); diff != "" {
		t.Errorf("username (-want +got):\n%s", diff)
	}

	b.handleUpdate(ctx, commandUpdate(testAdminID, cmdChannels, ""))
	requireContains(t, api.lastText(), "1. Movies HD")
	requireContains(t, api.lastText(), "2. Private")

	b.handleUpdate(ctx, commandUpdate(testAdminID, cmdDelChannel, "-1002"))
	requireContains(t, api.lastText(), "removed")
	b.handleUpdate(ctx, commandUpdate(testAdminID, cmdDelChannel, "-1002"))
	requireContains(t, api.lastText(), "not in the list")
}

func TestChannelActionFlow(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)
	api.usernames[-1005] = "kino_series"

	b.handleUpdate(ctx, callbackUpdate(testAdminID, cbAddChannel))
	want, _ := session.AdminMode().WithAction(session.ActionAddChannel)
	requireState(t, b, testAdminID, want)
	requireContains(t, api.lastEdit().Text, "<channel_id>|<name>")

	b.handleUpdate(ctx, textUpdate(testAdminID, "bad"))
	requireContains(t, api.lastText(), "Invalid input")
	requireState(t, b, testAdminID, want)

	b.handleUpdate(ctx, textUpdate(testAdminID, "-1005|Series"))
	requireState(t, b, testAdminID, session.AdminMode())
	requireContains(t, api.lastText(), "1. Series")

	ch, err := store.GetChannel(ctx, -1005)
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	if diff := cmp.Diff(&model.Channel{ID: -1005, Name: "Series", Username: "kino_series"}, ch,
		cmpopts.IgnoreFields(model.Channel{}, "CreatedAt")); diff != "" {
		t.Errorf("channel (-want +got):\n%s", diff)
	}

	b.handleUpdate(ctx, callbackUpdate(testAdminID, cbDeleteChannel))
	b.handleUpdate(ctx, textUpdate(testAdminID, "-1005"))
	requireContains(t, api.lastText(), "No mandatory channels")
}

func TestAdminActionCancel(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)

	b.handleUpdate(ctx, callbackUpdate(testAdminID, cbAddAdmin))
	b.handleUpdate(ctx, callbackUpdate(testAdminID, cbManageAdmins))
	requireState(t, b, testAdminID, session.AdminMode())
	if _, ok := api.lastEdit().Markup.(tgbotapi.InlineKeyboardMarkup); !ok {
		t.Errorf("panel not restored, markup = %T", api.lastEdit().Markup)
	}

	b.handleUpdate(ctx, textUpdate(testAdminID, "555"))
	if ok, _ := store.IsAdmin(ctx, 555); ok {
		t.Error("cancelled action still consumed input")
	}
	requireContains(t, api.lastText(), "Use the menu")
}

func TestAdminActionAddAdmin(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)

	b.handleUpdate(ctx, callbackUpdate(testAdminID, cbAddAdmin))
	b.handleUpdate(ctx, textUpdate(testAdminID, "not-a-number"))
	requireContains(t, api.lastText(), "numeric user ID")

	b.handleUpdate(ctx, textUpdate(testAdminID, "555"))
	if ok, _ := store.IsAdmin(ctx, 555); !ok {
		t.Error("admin not added")
	}
	requireState(t, b, testAdminID, session.AdminMode())
	requireContains(t, api.lastText(), "1. 555")
}

func TestCallbacksRequireAdminMode(t *testing.T) {
	ctx := context.Background()
	b, api, _ := newTestBot(t)

	b.handleUpdate(ctx, callbackUpdate(testUserID, cbAddChannel))
	requireContains(t, api.lastText(), "permission")
	if _, ok, _ := b.sessions.State(ctx, testUserID); ok {
		t.Error("non-admin got a session state")
	}

	b.handleUpdate(ctx, commandUpdate(testAdminID, cmdUserMode, ""))
	b.handleUpdate(ctx, callbackUpdate(testAdminID, cbAddChannel))
	requireContains(t, api.lastText(), "permission")
	requireState(t, b, testAdminID, session.UserMode())
}

func TestNoUsernameCallback(t *testing.T) {
	ctx := context.Background()
	b, api, _ := newTestBot(t)

	b.handleUpdate(ctx, callbackUpdate(testUserID, cbNoUsername))

	if diff := cmp.Diff(1, len(api.callbacks)); diff != "" {
		t.Fatalf("callbacks (-want +got):\n%s", diff)
	}
	if !api.callbacks[0].ShowAlert {
		t.Error("expected an alert")
	}
	if got := api.textsTo(testUserID); len(got) != 0 {
		t.Errorf("unexpected messages: %v", got)
	}
}

func TestMainMenuCallback(t *testing.T) {
	ctx := context.Background()
	b, api, _ := newTestBot(t)

	b.handleUpdate(ctx, callbackUpdate(testAdminID, cbAddChannel))
	b.handleUpdate(ctx, callbackUpdate(testAdminID, cbMainMenu))

	requireState(t, b, testAdminID, session.AdminMode())
	if _, ok := api.lastMessage().Markup.(tgbotapi.ReplyKeyboardMarkup); !ok {
		t.Errorf("markup = %T, want admin menu", api.lastMessage().Markup)
	}
}

func TestExportUsers(t *testing.T) {
	ctx := context.Background()
	b, api, _ := newTestBot(t)

	b.handleUpdate(ctx, textUpdate(testUserID, btnHelp))
	b.handleUpdate(ctx, commandUpdate(testAdminID, cmdUsers, ""))

	if diff := cmp.Diff(1, len(api.documents)); diff != "" {
		t.Fatalf("documents (-want +got):\n%s", diff)
	}
	doc := api.documents[0]
	if diff := cmp.Diff(testAdminID, doc.ChatID); diff != "" {
		t.Errorf("chat (-want +got):\n%s", diff)
	}
	requireContains(t, doc.Caption, "Users: 2")
	file, ok := doc.File.(tgbotapi.FileBytes)
	if !ok {
		t.Fatalf("file = %T, want FileBytes", doc.File)
	}
	requireContains(t, string(file.Bytes), "id,full_name,username,phone,first_seen,last_activity")
	requireContains(t, string(file.Bytes), "100,Test,tester,")
}

func TestStatsCommand(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)
	seedChannel(t, store, chanMovies, "Movies", "kino_movies")
	seedCode(t, store, "premium", 10)
	api.join(chanMovies, testUserID)

	b.handleUpdate(ctx, textUpdate(testUserID, "premium"))
	b.handleUpdate(ctx, textUpdate(testAdminID, btnStats))

	reply := api.lastText()
	requireContains(t, reply, "Users: 2")
	requireContains(t, reply, "Active in last 24h: 2")
	requireContains(t, reply, "Subscribed: 1")
	requireContains(t, reply, "Codes: 1")
	requireContains(t, reply, "Channels: 1")
}

// --- dispatch ---

func TestHandleUpdateRecoversPanic(t *testing.T) {
	ctx := context.Background()
	b, api, _ := newTestBot(t)
	b.sessions = panicSessions{}

	b.handleUpdate(ctx, textUpdate(testUserID, "premium"))

	requireAnyContains(t, api.textsTo(testOperatorID), "panic")
}

func TestHandleUpdateIgnoresGroups(t *testing.T) {
	ctx := context.Background()
	b, api, _ := newTestBot(t)

	u := textUpdate(testUserID, "premium")
	u.Message.Chat = &tgbotapi.Chat{ID: -500, Type: "supergroup"}
	b.handleUpdate(ctx, u)

	if diff := cmp.Diff(sentMsg{}, api.lastMessage()); diff != "" {
		t.Errorf("group message answered (-want +got):\n%s", diff)
	}
}

func TestRun(t *testing.T) {
	b, api, _ := newTestBot(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	api.updates <- commandUpdate(testUserID, "start", "")

	deadline := time.Now().Add(2 * time.Second)
	for len(api.textsTo(testUserID)) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	requireContains(t, api.lastText(), "Welcome")
}
