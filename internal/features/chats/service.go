// Package chats — service.go: открытие чатов по объявлениям и пересылка сообщений.
package chats

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/escrow-bot/internal/common"
	"serotonyl.ru/escrow-bot/internal/features/trustfilter"
	"serotonyl.ru/escrow-bot/internal/notify"
)

// Коды кнопок.
const (
	ActionAccept = "chat_accept"
	ActionClose  = "chat_close"
	ActionSelect = "chat_select"
)

// Store — хранилище чатов (реализуется Repository).
type Store interface {
	GetListing(ctx context.Context, listingID int64) (*Listing, error)
	FindOpen(ctx context.Context, listingID, peerID int64) (*Chat, error)
	Create(ctx context.Context, listingID, authorID, peerID int64) (int64, error)
	Get(ctx context.Context, chatID int64) (*Chat, error)
	SetStatus(ctx context.Context, chatID int64, from, to Status) (bool, error)
	ListForUser(ctx context.Context, userID int64, limit int) ([]*Chat, error)
	Selected(ctx context.Context, userID int64) (int64, error)
	Select(ctx context.Context, userID, chatID int64) error
	AddMessage(ctx context.Context, m *Message) error
}

// Inspector — проверка сообщения антиспамом (реализуется trustfilter.Service).
type Inspector interface {
	Inspect(ctx context.Context, msg trustfilter.Message) (trustfilter.Result, error)
}

// TransactionChecker сообщает, есть ли по чату незавершённая сделка.
type TransactionChecker interface {
	HasOpenTransaction(ctx context.Context, chatID int64) (bool, error)
}

// RelayResult — итог пересылки.
type RelayResult struct {
	Forwarded   bool
	RecipientID int64
	Message     *Message
}

// Service управляет чатами.
type Service struct {
	store     Store
	inspector Inspector
	deals     TransactionChecker
	notifier  notify.Notifier
}

// NewService создаёт сервис чатов.
func NewService(store Store, inspector Inspector, notifier notify.Notifier) *Service {
	return &Service{store: store, inspector: inspector, notifier: notifier}
}

// SetTransactionChecker подключает проверку открытых сделок.
// Сервис сделок сам зависит от чатов, поэтому связываем после создания.
func (s *Service) SetTransactionChecker(deals TransactionChecker) {
	s.deals = deals
}

// Get возвращает чат.
func (s *Service) Get(ctx context.Context, chatID int64) (*Chat, error) {
	return s.store.Get(ctx, chatID)
}

// OpenForListing создаёт чат по объявлению (или возвращает уже открытый)
// и просит автора принять отклик.
func (s *Service) OpenForListing(ctx context.Context, listingID, peerID int64) (*Chat, error) {
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.AuthorID == peerID {
		return nil, common.Invalid("listing", "нельзя откликнуться на своё объявление")
	}

	if existing, err := s.store.FindOpen(ctx, listingID, peerID); err == nil {
		return existing, s.store.Select(ctx, peerID, existing.ID)
	}

	chatID, err := s.store.Create(ctx, listingID, listing.AuthorID, peerID)
	if err != nil {
		return nil, err
	}
	chat, err := s.store.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if err := s.store.Select(ctx, peerID, chatID); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"chat_id":    chatID,
		"listing_id": listingID,
		"peer_id":    peerID,
	}).Info("Открыт чат по объявлению")

	notify.Best(ctx, s.notifier, listing.AuthorID,
		fmt.Sprintf("💬 Новый отклик на объявление «%s» (чат #%d).\nПринять и начать переписку?", listing.Title, chatID),
		notify.Action{Label: "✅ Принять", Data: common.CallbackData(ActionAccept, chatID)},
	)
	return chat, nil
}

// Accept — автор объявления принимает отклик.
func (s *Service) Accept(ctx context.Context, chatID, authorID int64) (*Chat, error) {
	chat, err := s.store.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.AuthorID != authorID {
		return nil, common.ErrNotParty
	}
	ok, err := s.store.SetStatus(ctx, chatID, StatusWaiting, StatusActive)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("чат #%d уже %s: %w", chatID, chat.Status, common.ErrInvalidStateTransition)
	}
	if err := s.store.Select(ctx, authorID, chatID); err != nil {
		return nil, err
	}
	chat.Status = StatusActive

	notify.Best(ctx, s.notifier, chat.PeerID,
		fmt.Sprintf("✅ Автор принял отклик на «%s». Пишите сообщения — бот перешлёт их.\nДля начала сделки: /deal", chat.ListingTitle))
	return chat, nil
}

// Close закрывает чат. Пока по чату идёт сделка, закрыть нельзя.
func (s *Service) Close(ctx context.Context, chatID, userID int64) error {
	chat, err := s.store.Get(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.IsParticipant(userID) {
		return common.ErrNotParty
	}
	if chat.Status == StatusCompleted {
		return nil
	}
	if s.deals != nil {
		open, err := s.deals.HasOpenTransaction(ctx, chatID)
		if err != nil {
			return err
		}
		if open {
			return common.ErrChatHasOpenTransaction
		}
	}

	ok, err := s.store.SetStatus(ctx, chatID, chat.Status, StatusCompleted)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("чат #%d: %w", chatID, common.ErrConcurrencyConflict)
	}

	notify.Best(ctx, s.notifier, chat.Counterpart(userID), fmt.Sprintf("🔒 Собеседник закрыл чат #%d.", chatID))
	return nil
}

// MarkTransaction переводит чат в статус «сделка».
func (s *Service) MarkTransaction(ctx context.Context, chatID int64) error {
	ok, err := s.store.SetStatus(ctx, chatID, StatusActive, StatusTransaction)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("чат #%d не активен: %w", chatID, common.ErrInvalidStateTransition)
	}
	return nil
}

// CurrentChatFor возвращает чат, в который уходят сообщения пользователя:
// выбранный командой /chat, иначе самый свежий открытый.
func (s *Service) CurrentChatFor(ctx context.Context, userID int64) (*Chat, error) {
	if id, err := s.store.Selected(ctx, userID); err == nil && id != 0 {
		if chat, err := s.store.Get(ctx, id); err == nil && chat.IsParticipant(userID) && chat.Status != StatusCompleted {
			return chat, nil
		}
	}

	list, err := s.store.ListForUser(ctx, userID, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("у пользователя %d нет открытых чатов: %w", userID, common.ErrNotFound)
	}
	return list[0], nil
}

// Select делает чат текущим для пользователя.
func (s *Service) Select(ctx context.Context, userID, chatID int64) (*Chat, error) {
	chat, err := s.store.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsParticipant(userID) {
		return nil, common.ErrNotParty
	}
	if chat.Status == StatusCompleted {
		return nil, fmt.Errorf("чат #%d закрыт: %w", chatID, common.ErrInvalidStateTransition)
	}
	return chat, s.store.Select(ctx, userID, chatID)
}

// ListForUser возвращает открытые чаты пользователя.
func (s *Service) ListForUser(ctx context.Context, userID int64) ([]*Chat, error) {
	return s.store.ListForUser(ctx, userID, 20)
}

// Relay проверяет сообщение антиспамом, сохраняет его и пересылает собеседнику.
// Сработавший антиспам — Forwarded=false, сообщение сохраняется с пометкой flagged.
func (s *Service) Relay(ctx context.Context, chatID, senderID int64, text string) (RelayResult, error) {
	return s.relay(ctx, chatID, senderID, &Message{Text: text})
}

// RelayPhoto пересылает фото. Антиспам проверяет подпись.
func (s *Service) RelayPhoto(ctx context.Context, chatID, senderID int64, fileID, caption string) (RelayResult, error) {
	if fileID == "" {
		return RelayResult{}, common.Invalid("photo", "пустое вложение")
	}
	return s.relay(ctx, chatID, senderID, &Message{Text: caption, MediaType: MediaPhoto, FileID: fileID})
}

func (s *Service) relay(ctx context.Context, chatID, senderID int64, msg *Message) (RelayResult, error) {
	chat, err := s.store.Get(ctx, chatID)
	if err != nil {
		return RelayResult{}, err
	}
	if !chat.IsParticipant(senderID) {
		return RelayResult{}, common.ErrNotParty
	}
	if !chat.Open() {
		return RelayResult{}, fmt.Errorf("чат #%d: статус %s: %w", chatID, chat.Status, common.ErrInvalidStateTransition)
	}

	verdict, err := s.inspector.Inspect(ctx, trustfilter.Message{ChatID: chatID, SenderID: senderID, Text: msg.Text})
	if err != nil {
		// Без проверки сообщение не пересылаем.
		log.WithError(err).WithField("chat_id", chatID).Error("Антиспам недоступен")
		verdict.Verdict = trustfilter.Suppress
	}

	msg.ChatID, msg.SenderID = chatID, senderID
	msg.Flagged = verdict.Verdict != trustfilter.Allow
	if err := s.store.AddMessage(ctx, msg); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Warn("Сообщение не сохранено")
	}

	res := RelayResult{RecipientID: chat.Counterpart(senderID), Message: msg}
	if msg.Flagged {
		return res, nil
	}

	body := fmt.Sprintf("💬 Чат #%d «%s»:\n%s", chatID, chat.ListingTitle, msg.Text)
	if msg.MediaType == MediaPhoto {
		notify.BestPhoto(ctx, s.notifier, res.RecipientID, msg.FileID, strings.TrimSpace(body))
	} else {
		notify.Best(ctx, s.notifier, res.RecipientID, body)
	}
	res.Forwarded = true
	return res, nil
}
