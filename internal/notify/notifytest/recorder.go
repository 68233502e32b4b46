// Package notifytest содержит Notifier, который запоминает отправленные уведомления.
package notifytest

import (
	"context"
	"strings"
	"sync"

	"serotonyl.ru/escrow-bot/internal/notify"
)

// Sent — одно отправленное уведомление.
type Sent struct {
	RecipientID int64
	Text        string
	Actions     []notify.Action
	FileID      string // фото, если отправлено через NotifyPhoto
}

// Recorder запоминает уведомления. Fail заставляет Notify возвращать ошибку.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
	Fail error
}

func (r *Recorder) Notify(_ context.Context, recipientID int64, text string, actions ...notify.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	r.sent = append(r.sent, Sent{RecipientID: recipientID, Text: text, Actions: actions})
	return nil
}

func (r *Recorder) NotifyPhoto(_ context.Context, recipientID int64, fileID, caption string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	r.sent = append(r.sent, Sent{RecipientID: recipientID, Text: caption, FileID: fileID})
	return nil
}

// All возвращает копию всех уведомлений.
func (r *Recorder) All() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}

// To возвращает уведомления конкретному получателю.
func (r *Recorder) To(recipientID int64) []Sent {
	var out []Sent
	for _, s := range r.All() {
		if s.RecipientID == recipientID {
			out = append(out, s)
		}
	}
	return out
}

// Contains сообщает, получал ли recipientID сообщение с подстрокой substr.
func (r *Recorder) Contains(recipientID int64, substr string) bool {
	for _, s := range r.To(recipientID) {
		if strings.Contains(s.Text, substr) {
			return true
		}
	}
	return false
}

// Reset очищает историю.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}
