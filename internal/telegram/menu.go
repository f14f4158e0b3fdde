package telegram

import (
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tgrelay/tgrelay/internal/core/adapter"
)

// DefaultMenuTTL is how long a menu pick waits for the user's input.
const DefaultMenuTTL = 10 * time.Minute

const menuPrefix = "menu:"

// MenuKeyboard lists one button per backend, two per row.
func MenuKeyboard(specs []adapter.Spec) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, spec := range specs {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(spec.Title, menuPrefix+spec.Key))
		if len(row) == 2 {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(row...))
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(row...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// parseMenuData extracts the backend key from callback data.
func parseMenuData(data string) (string, bool) {
	if !strings.HasPrefix(data, menuPrefix) {
		return "", false
	}
	key := strings.TrimSpace(strings.TrimPrefix(data, menuPrefix))
	return key, key != ""
}

type selection struct {
	key     string
	expires time.Time
}

// selections remembers the backend a chat picked from the menu so the next
// plain message is sent to it.
type selections struct {
	mu    sync.Mutex
	ttl   time.Duration
	clock func() time.Time
	items map[int64]selection
}

func newSelections(ttl time.Duration, clock func() time.Time) *selections {
	if ttl <= 0 {
		ttl = DefaultMenuTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &selections{ttl: ttl, clock: clock, items: make(map[int64]selection)}
}

func (s *selections) set(chatID int64, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	s.items[chatID] = selection{key: key, expires: now.Add(s.ttl)}
	// Opportunistic sweep keeps abandoned picks from piling up.
	for id, item := range s.items {
		if now.After(item.expires) {
			delete(s.items, id)
		}
	}
}

// take returns and clears the chat's pending pick.
func (s *selections) take(chatID int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[chatID]
	if !ok {
		return "", false
	}
	delete(s.items, chatID)
	if s.clock().After(item.expires) {
		return "", false
	}
	return item.key, true
}

func (s *selections) clear(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, chatID)
}
