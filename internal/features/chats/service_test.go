package chats

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/escrow-bot/internal/common"
	"serotonyl.ru/escrow-bot/internal/features/trustfilter"
	"serotonyl.ru/escrow-bot/internal/notify/notifytest"
)

const (
	author = 100
	peer   = 200
)

type memStore struct {
	mu        sync.Mutex
	listings  map[int64]*Listing
	chats     map[int64]*Chat
	selected  map[int64]int64
	messages  []Message
	nextID    int64
	clockTick time.Time
}

func newMemStore() *memStore {
	return &memStore{
		listings: map[int64]*Listing{
			1: {ID: 1, AuthorID: author, Title: "Аккаунт 80 lvl", Price: decimal.NewFromInt(1000), FixedPrice: true, Kind: ListingSell},
		},
		chats:     map[int64]*Chat{},
		selected:  map[int64]int64{},
		clockTick: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) GetListing(_ context.Context, id int64) (*Listing, error) {
	l, ok := m.listings[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return l, nil
}

func (m *memStore) FindOpen(_ context.Context, listingID, peerID int64) (*Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chats {
		if c.ListingID == listingID && c.PeerID == peerID && c.Status != StatusCompleted {
			cp := *c
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (m *memStore) Create(_ context.Context, listingID, authorID, peerID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	l := m.listings[listingID]
	m.clockTick = m.clockTick.Add(time.Minute)
	m.chats[m.nextID] = &Chat{
		ID: m.nextID, ListingID: listingID, ListingTitle: l.Title, ListingPrice: l.Price,
		FixedPrice: l.FixedPrice, ListingKind: l.Kind, AuthorID: authorID, PeerID: peerID,
		Status: StatusWaiting, UpdatedAt: m.clockTick,
	}
	return m.nextID, nil
}

func (m *memStore) Get(_ context.Context, id int64) (*Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) SetStatus(_ context.Context, id int64, from, to Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	return true, nil
}

func (m *memStore) ListForUser(_ context.Context, userID int64, limit int) ([]*Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Chat
	for _, c := range m.chats {
		if c.IsParticipant(userID) && c.Status != StatusCompleted {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) Selected(_ context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected[userID], nil
}

func (m *memStore) Select(_ context.Context, userID, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected[userID] = chatID
	return nil
}

func (m *memStore) AddMessage(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = int64(len(m.messages) + 1)
	m.messages = append(m.messages, *msg)
	return nil
}

type stubInspector struct{ verdict trustfilter.Verdict }

func (s stubInspector) Inspect(context.Context, trustfilter.Message) (trustfilter.Result, error) {
	return trustfilter.Result{Verdict: s.verdict}, nil
}

// detectorInspector прогоняет текст через настоящий детектор и запоминает, что проверял.
type detectorInspector struct {
	detector *trustfilter.Detector
	seen     []string
}

func (d *detectorInspector) Inspect(_ context.Context, m trustfilter.Message) (trustfilter.Result, error) {
	d.seen = append(d.seen, m.Text)
	if len(d.detector.Detect(m.Text)) > 0 {
		return trustfilter.Result{Verdict: trustfilter.Suppress}, nil
	}
	return trustfilter.Result{Verdict: trustfilter.Allow}, nil
}

type stubDeals bool

func (s stubDeals) HasOpenTransaction(context.Context, int64) (bool, error) { return bool(s), nil }

func openActiveChat(t *testing.T, svc *Service) *Chat {
	t.Helper()
	ctx := context.Background()
	chat, err := svc.OpenForListing(ctx, 1, peer)
	require.NoError(t, err)
	chat, err = svc.Accept(ctx, chat.ID, author)
	require.NoError(t, err)
	return chat
}

func TestOpenAndAccept(t *testing.T) {
	store := newMemStore()
	rec := &notifytest.Recorder{}
	svc := NewService(store, stubInspector{trustfilter.Allow}, rec)

	chat := openActiveChat(t, svc)
	assert.Equal(t, StatusActive, chat.Status)
	assert.True(t, rec.Contains(author, "Новый отклик"))
	assert.True(t, rec.Contains(peer, "принял отклик"))

	seller, buyer := chat.SellerAndBuyer()
	assert.Equal(t, int64(author), seller)
	assert.Equal(t, int64(peer), buyer)

	_, err := svc.Accept(context.Background(), chat.ID, author)
	assert.True(t, errors.Is(err, common.ErrInvalidStateTransition))
}

func TestOpenOwnListingIsInvalid(t *testing.T) {
	svc := NewService(newMemStore(), stubInspector{trustfilter.Allow}, &notifytest.Recorder{})
	_, err := svc.OpenForListing(context.Background(), 1, author)
	assert.True(t, errors.Is(err, common.ErrValidation))
}

func TestAcceptOnlyByAuthor(t *testing.T) {
	svc := NewService(newMemStore(), stubInspector{trustfilter.Allow}, &notifytest.Recorder{})
	chat, err := svc.OpenForListing(context.Background(), 1, peer)
	require.NoError(t, err)

	_, err = svc.Accept(context.Background(), chat.ID, peer)
	assert.True(t, errors.Is(err, common.ErrNotParty))
}

func TestRelayForwardsCleanMessage(t *testing.T) {
	store := newMemStore()
	rec := &notifytest.Recorder{}
	svc := NewService(store, stubInspector{trustfilter.Allow}, rec)
	chat := openActiveChat(t, svc)

	res, err := svc.Relay(context.Background(), chat.ID, peer, "Какой уровень?")
	require.NoError(t, err)
	assert.True(t, res.Forwarded)
	assert.Equal(t, int64(author), res.RecipientID)
	assert.True(t, rec.Contains(author, "Какой уровень?"))
	require.Len(t, store.messages, 1)
	assert.False(t, store.messages[0].Flagged)
}

func TestRelaySuppressedMessageIsStoredFlagged(t *testing.T) {
	store := newMemStore()
	rec := &notifytest.Recorder{}
	svc := NewService(store, stubInspector{trustfilter.Suppress}, rec)
	chat := openActiveChat(t, svc)
	rec.Reset()

	res, err := svc.Relay(context.Background(), chat.ID, peer, "пиши в viber")
	require.NoError(t, err)
	assert.False(t, res.Forwarded)
	assert.Empty(t, rec.To(author))
	require.Len(t, store.messages, 1)
	assert.True(t, store.messages[0].Flagged)
}

func TestRelayPhotoForwardsWithCaption(t *testing.T) {
	store := newMemStore()
	rec := &notifytest.Recorder{}
	svc := NewService(store, &detectorInspector{detector: trustfilter.NewDetector([]string{"viber"})}, rec)
	chat := openActiveChat(t, svc)
	rec.Reset()

	res, err := svc.RelayPhoto(context.Background(), chat.ID, author, "AgACphoto", "инвентарь")
	require.NoError(t, err)
	assert.True(t, res.Forwarded)

	sent := rec.To(peer)
	require.Len(t, sent, 1)
	assert.Equal(t, "AgACphoto", sent[0].FileID)
	assert.Contains(t, sent[0].Text, "инвентарь")

	require.Len(t, store.messages, 1)
	assert.Equal(t, MediaPhoto, store.messages[0].MediaType)
	assert.Equal(t, "AgACphoto", store.messages[0].FileID)
}

func TestRelayPhotoCaptionIsInspected(t *testing.T) {
	store := newMemStore()
	rec := &notifytest.Recorder{}
	inspector := &detectorInspector{detector: trustfilter.NewDetector([]string{"viber"})}
	svc := NewService(store, inspector, rec)
	chat := openActiveChat(t, svc)
	rec.Reset()

	res, err := svc.RelayPhoto(context.Background(), chat.ID, peer, "AgACphoto", "пиши в Viber, там дешевле")
	require.NoError(t, err)
	assert.False(t, res.Forwarded)
	assert.Equal(t, []string{"пиши в Viber, там дешевле"}, inspector.seen)
	assert.Empty(t, rec.To(author))

	require.Len(t, store.messages, 1)
	assert.True(t, store.messages[0].Flagged)
	assert.Equal(t, "AgACphoto", store.messages[0].FileID)

	_, err = svc.RelayPhoto(context.Background(), chat.ID, peer, "", "")
	assert.True(t, errors.Is(err, common.ErrValidation))
}

func TestRelayRequiresParticipantAndOpenChat(t *testing.T) {
	svc := NewService(newMemStore(), stubInspector{trustfilter.Allow}, &notifytest.Recorder{})
	ctx := context.Background()
	chat, err := svc.OpenForListing(ctx, 1, peer)
	require.NoError(t, err)

	_, err = svc.Relay(ctx, chat.ID, peer, "привет")
	assert.True(t, errors.Is(err, common.ErrInvalidStateTransition), "чат ещё не принят")

	_, err = svc.Relay(ctx, chat.ID, 999, "привет")
	assert.True(t, errors.Is(err, common.ErrNotParty))
}

func TestCloseRefusedWhileTransactionOpen(t *testing.T) {
	svc := NewService(newMemStore(), stubInspector{trustfilter.Allow}, &notifytest.Recorder{})
	chat := openActiveChat(t, svc)
	ctx := context.Background()

	svc.SetTransactionChecker(stubDeals(true))
	assert.True(t, errors.Is(svc.Close(ctx, chat.ID, peer), common.ErrChatHasOpenTransaction))

	svc.SetTransactionChecker(stubDeals(false))
	require.NoError(t, svc.Close(ctx, chat.ID, peer))
	closed, _ := svc.Get(ctx, chat.ID)
	assert.Equal(t, StatusCompleted, closed.Status)
}

func TestCurrentChatFor(t *testing.T) {
	store := newMemStore()
	store.listings[2] = &Listing{ID: 2, AuthorID: 300, Title: "Скин", Price: decimal.NewFromInt(70), Kind: ListingSell}
	svc := NewService(store, stubInspector{trustfilter.Allow}, &notifytest.Recorder{})
	ctx := context.Background()

	first := openActiveChat(t, svc)
	second, err := svc.OpenForListing(ctx, 2, peer)
	require.NoError(t, err)

	cur, err := svc.CurrentChatFor(ctx, peer)
	require.NoError(t, err)
	assert.Equal(t, second.ID, cur.ID, "последний открытый выбран автоматически")

	_, err = svc.Select(ctx, peer, first.ID)
	require.NoError(t, err)
	cur, err = svc.CurrentChatFor(ctx, peer)
	require.NoError(t, err)
	assert.Equal(t, first.ID, cur.ID)

	_, err = svc.CurrentChatFor(ctx, 12345)
	assert.True(t, errors.Is(err, common.ErrNotFound))
}
