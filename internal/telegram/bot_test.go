package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"

	"github.com/tgrelay/tgrelay/internal/core"
	"github.com/tgrelay/tgrelay/internal/core/adapter"
	"github.com/tgrelay/tgrelay/internal/core/admin"
	"github.com/tgrelay/tgrelay/internal/core/quota"
	"github.com/tgrelay/tgrelay/internal/core/store"
)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	requests int
	updates  chan tgbotapi.Update
	stopped  bool
	sendErr  error
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeAPI) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]tgbotapi.MessageConfig, len(f.sent))
	copy(out, f.sent)
	return out
}

type recordingDispatcher struct {
	mu       sync.Mutex
	requests []core.CommandRequest
	outcome  func(core.CommandRequest) core.Outcome
}

func (d *recordingDispatcher) Dispatch(_ context.Context, req core.CommandRequest) core.Outcome {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	fn := d.outcome
	d.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return core.Served(req.Command, "ok:"+req.Argument)
}

func (d *recordingDispatcher) seen() []core.CommandRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]core.CommandRequest, len(d.requests))
	copy(out, d.requests)
	return out
}

type memoryUsers struct {
	mu    sync.Mutex
	users map[core.UserID]store.User
}

func (m *memoryUsers) TouchUser(_ context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.users == nil {
		m.users = make(map[core.UserID]store.User)
	}
	m.users[user.ID] = user
	return nil
}

func testSpecs(t *testing.T) []adapter.Spec {
	t.Helper()
	specs, err := adapter.Catalog()
	require.NoError(t, err)
	return specs
}

func newTestBot(t *testing.T) (*Bot, *fakeAPI, *recordingDispatcher, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeAPI{updates: make(chan tgbotapi.Update, 4)}
	dispatcher := &recordingDispatcher{}
	bot := &Bot{
		API:        api,
		Dispatcher: dispatcher,
		Users:      &memoryUsers{},
		Renderer:   &Renderer{Specs: testSpecs(t), Location: time.UTC},
		Clock:      func() time.Time { return now },
	}
	return bot, api, dispatcher, &now
}

func commandUpdate(userID int64, text string) tgbotapi.Update {
	length := len(text)
	if i := strings.IndexByte(text, ' '); i >= 0 {
		length = i
	}
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: userID, FirstName: "Ada", UserName: "ada"},
		Chat:     &tgbotapi.Chat{ID: userID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}},
	}}
}

func textUpdate(userID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID, FirstName: "Ada"},
		Chat: &tgbotapi.Chat{ID: userID},
		Text: text,
	}}
}

func callbackUpdate(userID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: userID},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: userID}},
		Data:    data,
	}}
}

func TestStartSendsWelcomeWithMenu(t *testing.T) {
	bot, api, dispatcher, _ := newTestBot(t)

	bot.HandleUpdate(context.Background(), commandUpdate(7, "/start"))

	sent := api.messages()
	require.Len(t, sent, 1)
	require.Contains(t, sent[0].Text, "Hello Ada!")
	require.Equal(t, tgbotapi.ModeHTML, sent[0].ParseMode)
	keyboard, ok := sent[0].ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.NotEmpty(t, keyboard.InlineKeyboard)

	require.Len(t, dispatcher.seen(), 1)
	require.Equal(t, core.CommandStart, dispatcher.seen()[0].Command)
}

func TestCommandArgumentsAreDispatched(t *testing.T) {
	bot, api, dispatcher, _ := newTestBot(t)

	bot.HandleUpdate(context.Background(), commandUpdate(7, "/terabox https://terabox.com/s/abc"))

	reqs := dispatcher.seen()
	require.Len(t, reqs, 1)
	require.Equal(t, core.CommandTerabox, reqs[0].Command)
	require.Equal(t, "https://terabox.com/s/abc", reqs[0].Argument)
	require.Equal(t, core.UserID(7), reqs[0].UserID)
	require.Equal(t, "ok:https://terabox.com/s/abc", api.messages()[0].Text)
}

func TestMenuSelectionRoutesNextMessage(t *testing.T) {
	bot, api, dispatcher, _ := newTestBot(t)
	ctx := context.Background()

	bot.HandleUpdate(ctx, callbackUpdate(7, "menu:gpt"))
	require.Equal(t, "Send me input for <b>GPT-3.5 Chat</b>", api.messages()[0].Text)

	bot.HandleUpdate(ctx, textUpdate(7, "what is go?"))
	reqs := dispatcher.seen()
	require.Len(t, reqs, 1)
	require.Equal(t, core.CommandGptChat, reqs[0].Command)
	require.Equal(t, "what is go?", reqs[0].Argument)

	// The selection is consumed by the first message.
	bot.HandleUpdate(ctx, textUpdate(7, "again"))
	require.Len(t, dispatcher.seen(), 1)
	require.Contains(t, api.messages()[2].Text, "Please use commands:")
}

func TestMenuSelectionExpires(t *testing.T) {
	bot, api, dispatcher, now := newTestBot(t)
	ctx := context.Background()

	bot.HandleUpdate(ctx, callbackUpdate(7, "menu:llama"))
	*now = now.Add(DefaultMenuTTL + time.Second)
	bot.HandleUpdate(ctx, textUpdate(7, "hello"))

	require.Empty(t, dispatcher.seen())
	require.Contains(t, api.messages()[1].Text, "Please use commands:")
}

func TestUnknownMenuOption(t *testing.T) {
	bot, api, _, _ := newTestBot(t)

	bot.HandleUpdate(context.Background(), callbackUpdate(7, "menu:tiktok"))

	require.Equal(t, MsgUnknownOption, api.messages()[0].Text)
	require.Equal(t, 1, api.requests)
}

func TestFreeTextWithoutSelectionGetsHint(t *testing.T) {
	bot, api, dispatcher, _ := newTestBot(t)

	bot.HandleUpdate(context.Background(), textUpdate(7, "hi"))

	require.Empty(t, dispatcher.seen())
	require.Equal(t, "Please use commands: /terabox, /download, /llama, /gpt", api.messages()[0].Text)
}

func TestDispatcherPanicIsContained(t *testing.T) {
	bot, api, dispatcher, _ := newTestBot(t)
	dispatcher.outcome = func(core.CommandRequest) core.Outcome { panic("boom") }

	require.NotPanics(t, func() {
		bot.HandleUpdate(context.Background(), commandUpdate(7, "/gpt hi"))
	})
	require.Empty(t, api.messages())
}

func TestUsersAreRecorded(t *testing.T) {
	bot, _, _, _ := newTestBot(t)
	users := bot.Users.(*memoryUsers)

	bot.HandleUpdate(context.Background(), commandUpdate(7, "/help"))

	require.Equal(t, "ada", users.users[7].Username)
	require.Equal(t, "Ada", users.users[7].FirstName)
}

func TestRunStopsOnCancel(t *testing.T) {
	bot, api, dispatcher, _ := newTestBot(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx) }()

	api.updates <- commandUpdate(7, "/llama hi")
	require.Eventually(t, func() bool { return len(dispatcher.seen()) == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, bot.Running())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	require.False(t, bot.Running())
	api.mu.Lock()
	defer api.mu.Unlock()
	require.True(t, api.stopped)
}

func TestRunRequiresDependencies(t *testing.T) {
	require.Error(t, (&Bot{}).Run(context.Background()))
}

func TestSenderMarksBlockedUsersUnreachable(t *testing.T) {
	api := &fakeAPI{sendErr: &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}}
	sender := NewSender(api, 0, 0)

	err := sender.Send(context.Background(), 7, "hello")
	require.ErrorIs(t, err, admin.ErrUnreachable)

	api.sendErr = &tgbotapi.Error{Code: 429, Message: "Too Many Requests"}
	err = sender.Send(context.Background(), 7, "hello")
	require.Error(t, err)
	require.False(t, errors.Is(err, admin.ErrUnreachable))
}

func TestSenderPacesDeliveries(t *testing.T) {
	api := &fakeAPI{}
	sender := NewSender(api, 1000, 1)

	for i := 0; i < 3; i++ {
		require.NoError(t, sender.Send(context.Background(), core.UserID(i+1), "hi"))
	}
	require.Len(t, api.messages(), 3)

	sender = NewSender(api, 0.001, 1)
	require.NoError(t, sender.Send(context.Background(), 1, "first"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, sender.Send(ctx, 1, "second"))
}

func TestBroadcastTextIsEscaped(t *testing.T) {
	api := &fakeAPI{}
	controller := &admin.Controller{
		Tracker: quota.NewTracker(core.NewQuotaPolicy(2, []core.UserID{1}), time.UTC),
		Sender:  NewSender(api, 0, 0),
	}

	report, err := controller.Broadcast(context.Background(), 1, "sale ends in <3 days & more", []core.UserID{7})
	require.NoError(t, err)
	require.Len(t, report.Succeeded, 1)

	sent := api.messages()
	require.Len(t, sent, 1)
	require.Equal(t, tgbotapi.ModeHTML, sent[0].ParseMode)
	require.Equal(t, "📢 sale ends in &lt;3 days &amp; more", sent[0].Text)
}

func TestLongReplyIsSplit(t *testing.T) {
	bot, api, dispatcher, _ := newTestBot(t)
	payload := strings.Repeat("x", 5000)
	dispatcher.outcome = func(req core.CommandRequest) core.Outcome {
		return core.Served(req.Command, payload)
	}

	bot.HandleUpdate(context.Background(), commandUpdate(7, "/gpt hi"))

	sent := api.messages()
	require.Len(t, sent, 2)
	require.Len(t, sent[0].Text, MaxMessageLength)
	require.Equal(t, payload, sent[0].Text+sent[1].Text)
}

func TestLongEscapedReplyKeepsEntitiesWhole(t *testing.T) {
	bot, api, dispatcher, _ := newTestBot(t)
	dispatcher.outcome = func(req core.CommandRequest) core.Outcome {
		return core.Served(req.Command, strings.Repeat("a<", 3000))
	}

	bot.HandleUpdate(context.Background(), commandUpdate(7, "/gpt hi"))

	sent := api.messages()
	require.Len(t, sent, 4)
	var joined strings.Builder
	for _, msg := range sent {
		require.LessOrEqual(t, len(msg.Text), MaxMessageLength)
		require.Equal(t, strings.Count(msg.Text, "&"), strings.Count(msg.Text, "&lt;"))
		require.Equal(t, tgbotapi.ModeHTML, msg.ParseMode)
		joined.WriteString(msg.Text)
	}
	require.Equal(t, strings.Repeat("a&lt;", 3000), joined.String())
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{name: "fits", text: "hello", limit: 10, want: []string{"hello"}},
		{name: "prefers line breaks", text: "alpha beta\ngamma", limit: 12, want: []string{"alpha beta\n", "gamma"}},
		{name: "falls back to spaces", text: "alpha beta gamma", limit: 12, want: []string{"alpha beta ", "gamma"}},
		{name: "hard cut", text: "abcdefgh", limit: 3, want: []string{"abc", "def", "gh"}},
		{name: "entity stays whole", text: "ab&amp;cd", limit: 6, want: []string{"ab", "&amp;c", "d"}},
		{name: "preformatted is rewrapped", text: "<pre>abcdef</pre>", limit: 14, want: []string{"<pre>abc</pre>", "<pre>def</pre>"}},
		{name: "emoji counts double", text: "😀😀😀", limit: 4, want: []string{"😀😀", "😀"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, splitMessage(tt.text, tt.limit))
		})
	}
}
