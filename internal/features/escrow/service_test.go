package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/escrow-bot/internal/common"
	"serotonyl.ru/escrow-bot/internal/features/chats"
	"serotonyl.ru/escrow-bot/internal/features/commission"
	"serotonyl.ru/escrow-bot/internal/features/confirmation"
	"serotonyl.ru/escrow-bot/internal/features/moderation"
	"serotonyl.ru/escrow-bot/internal/features/moderation/moderationtest"
	"serotonyl.ru/escrow-bot/internal/notify/notifytest"
)

const (
	seller    = 10
	buyer     = 20
	moderator = 99
	outsider  = 77
	groupID   = -1001
)

var phrases = []string{"Гарант защищает сделку", "Проверка продавца пройдена"}

// memStore — Store в памяти с той же семантикой CAS, что и Repository.
type memStore struct {
	mu     sync.Mutex
	txs    map[int64]*Transaction
	nextID int64
}

func newMemStore() *memStore {
	return &memStore{txs: map[int64]*Transaction{}}
}

func (m *memStore) Create(_ context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.txs {
		if cur.ChatID == t.ChatID {
			return fmt.Errorf("chat %d: %w", t.ChatID, common.ErrInvalidStateTransition)
		}
	}
	m.nextID++
	t.ID = m.nextID
	t.CreatedAt = time.Now()
	cp := *t
	m.txs[t.ID] = &cp
	return nil
}

func (m *memStore) Get(_ context.Context, id int64) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[id]
	if !ok {
		return nil, fmt.Errorf("tx %d: %w", id, common.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) GetByChat(_ context.Context, chatID int64) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.txs {
		if t.ChatID == chatID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (m *memStore) ListForUser(_ context.Context, userID int64, limit int) ([]*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Transaction
	for id := m.nextID; id > 0 && len(out) < limit; id-- {
		if t, ok := m.txs[id]; ok && t.IsParty(userID) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) Transition(_ context.Context, id int64, from, to Status, ch Change) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[id]
	if !ok || t.Status != from {
		return nil, nil
	}
	t.Status = to
	if ch.VerificationPhrase != "" {
		t.VerificationPhrase = ch.VerificationPhrase
	}
	t.IsVerified = t.IsVerified || ch.MarkVerified
	if ch.CancelReason != "" {
		t.CancelReason = ch.CancelReason
	}
	if ch.CompletedAt != nil {
		t.CompletedAt = ch.CompletedAt
	}
	t.CancelRequestedBy = 0
	cp := *t
	return &cp, nil
}

func (m *memStore) PayOut(_ context.Context, id int64) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[id]
	if !ok || t.Status != StatusCompleted {
		return nil, nil
	}
	now := time.Now()
	t.Status = StatusPaidOut
	t.PaidOutAt = &now
	cp := *t
	return &cp, nil
}

func (m *memStore) SetCancelRequest(_ context.Context, id int64, status Status, requestedBy int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[id]
	if !ok || t.Status != status {
		return false, nil
	}
	t.CancelRequestedBy = requestedBy
	return true, nil
}

func (m *memStore) Extend(_ context.Context, id int64, by time.Duration) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[id]
	if !ok || t.Status != StatusInProgress {
		return nil, nil
	}
	t.CompletionDeadline = t.CompletionDeadline.Add(by)
	t.OverdueNotifiedAt = nil
	cp := *t
	return &cp, nil
}

func (m *memStore) ListOverdue(_ context.Context, now time.Time, limit int) ([]*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Transaction
	for id := int64(1); id <= m.nextID && len(out) < limit; id++ {
		t, ok := m.txs[id]
		if !ok || t.OverdueNotifiedAt != nil {
			continue
		}
		switch {
		case t.Status == StatusPaymentPending && t.PaymentDeadline.Before(now),
			(t.Status == StatusVerificationPending || t.Status == StatusInProgress) && t.CompletionDeadline.Before(now):
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) MarkOverdueNotified(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[id]
	if !ok || t.OverdueNotifiedAt != nil {
		return false, nil
	}
	now := time.Now()
	t.OverdueNotifiedAt = &now
	return true, nil
}

// seed кладёт сделку в нужном статусе, минуя согласование.
func (m *memStore) seed(status Status) *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	now := time.Now()
	t := &Transaction{
		ID:                 m.nextID,
		ChatID:             1000 + m.nextID,
		Title:              "Аккаунт 80 lvl",
		SellerID:           seller,
		BuyerID:            buyer,
		Amount:             decimal.NewFromInt(1000),
		Commission:         decimal.NewFromInt(50),
		CommissionPayer:    commission.PayerSplit,
		PaymentMethod:      MethodUACard,
		PaymentDetails:     "4444555566667777",
		Status:             status,
		PaymentDeadline:    now.Add(24 * time.Hour),
		CompletionDeadline: now.Add(27 * time.Hour),
		CreatedAt:          now,
	}
	m.txs[t.ID] = t
	cp := *t
	return &cp
}

type chatSource map[int64]*chats.Chat

func (c chatSource) Get(_ context.Context, id int64) (*chats.Chat, error) {
	chat, ok := c[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *chat
	return &cp, nil
}

// flakyStore роняет первые failures вызовов Transition, как при обрыве соединения с БД.
type flakyStore struct {
	*memStore
	failures int
}

func (f *flakyStore) Transition(ctx context.Context, id int64, from, to Status, ch Change) (*Transaction, error) {
	f.mu.Lock()
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset by peer")
	}
	return f.memStore.Transition(ctx, id, from, to, ch)
}

type fixture struct {
	svc       *Service
	store     *memStore
	tickets   *moderationtest.Store
	rec       *notifytest.Recorder
	consensus *confirmation.MemoryStore
	chats     chatSource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     newMemStore(),
		tickets:   &moderationtest.Store{},
		rec:       &notifytest.Recorder{},
		consensus: confirmation.NewMemoryStore(time.Hour),
		chats: chatSource{
			1: {ID: 1, ListingID: 5, ListingTitle: "Аккаунт 80 lvl", ListingPrice: decimal.NewFromInt(700),
				ListingKind: chats.ListingSell, AuthorID: seller, PeerID: buyer, Status: chats.StatusActive},
			2: {ID: 2, ListingID: 6, ListingTitle: "Скин AK", ListingPrice: decimal.NewFromInt(1000), FixedPrice: true,
				ListingKind: chats.ListingSell, AuthorID: seller, PeerID: buyer, Status: chats.StatusActive},
			3: {ID: 3, ListingID: 7, ListingTitle: "Куплю голду", ListingPrice: decimal.NewFromInt(300),
				ListingKind: chats.ListingBuy, AuthorID: buyer, PeerID: seller, Status: chats.StatusActive},
			4: {ID: 4, ListingID: 8, ListingTitle: "Ждёт ответа", ListingPrice: decimal.NewFromInt(300),
				ListingKind: chats.ListingSell, AuthorID: seller, PeerID: buyer, Status: chats.StatusWaiting},
		},
	}
	f.svc = f.serviceOver(f.store)
	return f
}

// serviceOver собирает сервис фикстуры поверх другого Store.
func (f *fixture) serviceOver(store Store) *Service {
	gw := moderation.NewGateway(f.tickets, moderationtest.Moderators{moderator: true}, f.rec, groupID)
	return NewService(store, f.chats, gw, f.consensus, f.rec, Settings{
		CommissionRate:     decimal.RequireFromString("0.05"),
		MinAmount:          decimal.NewFromInt(50),
		PaymentWindow:      24 * time.Hour,
		TransactionTimeout: 3 * time.Hour,
		NegotiationTTL:     30 * time.Minute,
		Phrases:            phrases,
	})
}

// negotiate проводит согласование в чате 1 до создания сделки.
func (f *fixture) negotiate(t *testing.T, amount string, payer commission.Payer) *Transaction {
	t.Helper()
	ctx := context.Background()

	_, err := f.svc.StartNegotiation(ctx, 1, buyer)
	require.NoError(t, err)
	_, err = f.svc.ProposePrice(ctx, 1, buyer, amount)
	require.NoError(t, err)
	_, err = f.svc.RespondToPrice(ctx, 1, seller, true)
	require.NoError(t, err)
	_, err = f.svc.ChooseCommissionPayer(ctx, 1, buyer, string(payer))
	require.NoError(t, err)
	_, err = f.svc.ChoosePaymentMethod(ctx, 1, seller, string(MethodUACard))
	require.NoError(t, err)
	_, err = f.svc.SubmitPaymentDetails(ctx, 1, seller, "4444 5555 6666 7777")
	require.NoError(t, err)
	tx, err := f.svc.ConfirmDraft(ctx, 1, seller)
	require.NoError(t, err)
	return tx
}

func (f *fixture) decide(t *testing.T, id int64, d moderation.Decision) (*Transaction, error) {
	t.Helper()
	return f.svc.ApplyModeratorDecision(context.Background(), id, d, moderator)
}

func TestNegotiationCreatesPaymentPendingTransaction(t *testing.T) {
	f := newFixture(t)

	tx := f.negotiate(t, "500", commission.PayerSeller)

	assert.Equal(t, StatusPaymentPending, tx.Status)
	assert.True(t, tx.Amount.Equal(decimal.NewFromInt(500)))
	assert.True(t, tx.Commission.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, "4444555566667777", tx.PaymentDetails)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), tx.PaymentDeadline, time.Minute)
	assert.WithinDuration(t, time.Now().Add(27*time.Hour), tx.CompletionDeadline, time.Minute)

	require.Len(t, f.tickets.Tickets(moderation.KindPayment), 1)
	assert.True(t, f.rec.Contains(buyer, "К оплате: 500"))

	_, err := f.svc.Drafts().Get(1)
	assert.ErrorIs(t, err, common.ErrNoDraft)

	open, err := f.svc.HasOpenTransaction(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, open)
}

func TestSplitCommissionBuyerOwes(t *testing.T) {
	f := newFixture(t)
	tx := f.negotiate(t, "1000", commission.PayerSplit)

	br, err := tx.Breakdown()
	require.NoError(t, err)
	assert.Equal(t, "1025.00", br.BuyerOwes.StringFixed(2))
	assert.Equal(t, "975.00", br.SellerReceives.StringFixed(2))
}

func TestOneTransactionPerChat(t *testing.T) {
	f := newFixture(t)
	f.negotiate(t, "500", commission.PayerBuyer)

	_, err := f.svc.StartNegotiation(context.Background(), 1, buyer)
	assert.ErrorIs(t, err, common.ErrInvalidStateTransition)
}

func TestStartNegotiationRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.StartNegotiation(ctx, 1, outsider)
	assert.ErrorIs(t, err, common.ErrNotParty)

	_, err = f.svc.StartNegotiation(ctx, 4, buyer)
	assert.ErrorIs(t, err, common.ErrInvalidStateTransition)

	_, err = f.svc.StartNegotiation(ctx, 404, buyer)
	assert.ErrorIs(t, err, common.ErrNotFound)

	d, err := f.svc.StartNegotiation(ctx, 2, buyer)
	require.NoError(t, err)
	assert.Equal(t, StagePayer, d.Stage, "фиксированная цена принимается сразу")
	assert.True(t, d.Amount.Equal(decimal.NewFromInt(1000)))

	d, err = f.svc.StartNegotiation(ctx, 3, buyer)
	require.NoError(t, err)
	assert.Equal(t, int64(seller), d.SellerID, "в объявлении «куплю» продавец — откликнувшийся")
	assert.Equal(t, int64(buyer), d.BuyerID)

	_, err = f.svc.StartNegotiation(ctx, 3, seller)
	assert.ErrorIs(t, err, common.ErrInvalidStateTransition, "согласование уже идёт")
}

func TestPriceValidationKeepsStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.StartNegotiation(ctx, 1, buyer)
	require.NoError(t, err)

	_, err = f.svc.ProposePrice(ctx, 1, buyer, "10")
	require.ErrorIs(t, err, common.ErrValidation)
	assert.Contains(t, common.UserMessage(err), "минимальная сумма сделки: 50")

	_, err = f.svc.ProposePrice(ctx, 1, buyer, "сто")
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = f.svc.ProposePrice(ctx, 1, seller, "500")
	assert.ErrorIs(t, err, common.ErrInvalidStateTransition, "цену сейчас вводит покупатель")

	d, err := f.svc.Drafts().Get(1)
	require.NoError(t, err)
	assert.Equal(t, StagePrice, d.Stage)
	assert.True(t, d.Amount.IsZero())
}

func TestRejectedPriceLetsRejecterCounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.StartNegotiation(ctx, 1, buyer)
	require.NoError(t, err)
	_, err = f.svc.ProposePrice(ctx, 1, buyer, "400")
	require.NoError(t, err)

	_, err = f.svc.RespondToPrice(ctx, 1, buyer, true)
	assert.ErrorIs(t, err, common.ErrInvalidStateTransition, "нельзя принять своё предложение")

	d, err := f.svc.RespondToPrice(ctx, 1, seller, false)
	require.NoError(t, err)
	assert.Equal(t, StagePrice, d.Stage)
	assert.Equal(t, int64(seller), d.AwaitingFrom)

	handled, err := f.svc.HandleDraftInput(ctx, seller, "600 грн")
	require.True(t, handled)
	require.NoError(t, err)

	d, err = f.svc.RespondToPrice(ctx, 1, buyer, true)
	require.NoError(t, err)
	assert.Equal(t, StagePayer, d.Stage)
	assert.True(t, d.Amount.Equal(decimal.NewFromInt(600)))
}

func TestPaymentDetailsValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.StartNegotiation(ctx, 2, seller)
	require.NoError(t, err)
	_, err = f.svc.ChooseCommissionPayer(ctx, 2, seller, "buyer")
	require.NoError(t, err)

	_, err = f.svc.ChoosePaymentMethod(ctx, 2, buyer, string(MethodUACard))
	assert.ErrorIs(t, err, common.ErrValidation, "способ выбирает только продавец")

	_, err = f.svc.ChoosePaymentMethod(ctx, 2, seller, string(MethodUACard))
	require.NoError(t, err)
	_, err = f.svc.SubmitPaymentDetails(ctx, 2, seller, "4444 5555 6666")
	assert.ErrorIs(t, err, common.ErrValidation)

	d, err := f.svc.Drafts().Get(2)
	require.NoError(t, err)
	assert.Equal(t, StageDetails, d.Stage)

	_, err = f.svc.ChoosePaymentMethod(ctx, 2, seller, string(MethodCryptoUSDT))
	require.NoError(t, err)
	_, err = f.svc.SubmitPaymentDetails(ctx, 2, seller, "TXshort")
	assert.ErrorIs(t, err, common.ErrValidation)

	d, err = f.svc.SubmitPaymentDetails(ctx, 2, seller, "TQn9Y2khEsLJW1ChVWFMSMeRDow5KcbLSE")
	require.NoError(t, err)
	assert.Equal(t, StageConfirm, d.Stage)

	_, err = f.svc.ConfirmDraft(ctx, 2, buyer)
	assert.ErrorIs(t, err, common.ErrValidation, "создаёт сделку продавец")
	_, err = f.svc.Drafts().Get(2)
	assert.NoError(t, err, "черновик остаётся после отказа")
}

func TestCancelNegotiation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.StartNegotiation(ctx, 1, buyer)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.CancelNegotiation(ctx, 1, outsider), common.ErrNotParty)
	require.NoError(t, f.svc.CancelNegotiation(ctx, 1, buyer))
	assert.True(t, f.rec.Contains(seller, "отменил оформление"))

	_, err = f.svc.Drafts().Get(1)
	assert.ErrorIs(t, err, common.ErrNoDraft)
}

func TestPaymentApprovalAssignsPhrase(t *testing.T) {
	f := newFixture(t)
	tx := f.negotiate(t, "500", commission.PayerSeller)

	next, err := f.decide(t, tx.ID, moderation.Decision{Kind: moderation.DecisionPayment, Approve: true})
	require.NoError(t, err)

	assert.Equal(t, StatusVerificationPending, next.Status)
	assert.Contains(t, phrases, next.VerificationPhrase)
	assert.True(t, f.rec.Contains(seller, next.VerificationPhrase))

	for _, tk := range f.tickets.Tickets(moderation.KindPayment) {
		assert.Equal(t, moderation.TicketResolved, tk.Status)
	}
	actions := f.tickets.Actions()
	require.Len(t, actions, 1)
	assert.Equal(t, moderation.OutcomeApplied, actions[0].Outcome)
	assert.Equal(t, "payment_approve", actions[0].Action)
}

func TestVerificationRejectCancels(t *testing.T) {
	f := newFixture(t)
	tx := f.store.seed(StatusVerificationPending)

	next, err := f.decide(t, tx.ID, moderation.Decision{Kind: moderation.DecisionVerification})
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, next.Status)
	assert.Equal(t, ReasonVerificationFailed, next.CancelReason)
	assert.True(t, f.rec.Contains(seller, "Проверка продавца не пройдена"))
	assert.True(t, f.rec.Contains(buyer, "Проверка продавца не пройдена"))
	assert.True(t, f.rec.Contains(buyer, "возвращены"))
}

func TestVerificationApproveStartsTransfer(t *testing.T) {
	f := newFixture(t)
	tx := f.store.seed(StatusVerificationPending)

	next, err := f.decide(t, tx.ID, moderation.Decision{Kind: moderation.DecisionVerification, Approve: true})
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, next.Status)
	assert.True(t, next.IsVerified)

	sent := f.rec.To(buyer)
	require.NotEmpty(t, sent)
	assert.Len(t, sent[len(sent)-1].Actions, 3)
}

func TestPaymentPendingRejectsOtherOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.store.seed(StatusPaymentPending)

	decisions := []moderation.Decision{
		{Kind: moderation.DecisionVerification, Approve: true},
		{Kind: moderation.DecisionVerification},
		{Kind: moderation.DecisionPayout, Approve: true},
		{Kind: moderation.DecisionExtend, Extend: time.Hour},
	}
	for _, d := range decisions {
		_, err := f.decide(t, tx.ID, d)
		assert.ErrorIs(t, err, common.ErrInvalidStateTransition, "%+v", d)
	}

	_, err := f.svc.ConfirmCompletion(ctx, tx.ID, buyer)
	assert.ErrorIs(t, err, common.ErrInvalidStateTransition)
	_, err = f.svc.RequestHelp(ctx, tx.ID, buyer)
	assert.ErrorIs(t, err, common.ErrInvalidStateTransition)

	cur, err := f.svc.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaymentPending, cur.Status)

	for _, a := range f.tickets.Actions() {
		assert.Equal(t, moderation.OutcomeInvalidState, a.Outcome)
	}
}

func TestRepeatedDecisionIsInvalidState(t *testing.T) {
	f := newFixture(t)
	tx := f.store.seed(StatusPaymentPending)
	approve := moderation.Decision{Kind: moderation.DecisionPayment, Approve: true}

	_, err := f.decide(t, tx.ID, approve)
	require.NoError(t, err)
	_, err = f.decide(t, tx.ID, approve)
	assert.ErrorIs(t, err, common.ErrInvalidStateTransition)

	actions := f.tickets.Actions()
	require.Len(t, actions, 2)
	assert.Equal(t, moderation.OutcomeApplied, actions[0].Outcome)
	assert.Equal(t, moderation.OutcomeInvalidState, actions[1].Outcome)
}

func TestDecisionAppliedWhenJournalDown(t *testing.T) {
	f := newFixture(t)
	tx := f.store.seed(StatusPaymentPending)
	f.tickets.RecordFailures = -1

	next, err := f.decide(t, tx.ID, moderation.Decision{Kind: moderation.DecisionPayment, Approve: true})
	require.NoError(t, err)
	assert.Equal(t, StatusVerificationPending, next.Status)
	assert.True(t, f.rec.Contains(groupID, "Журнал недоступен"))
}

func TestDecisionRequiresModerator(t *testing.T) {
	f := newFixture(t)
	tx := f.store.seed(StatusPaymentPending)

	_, err := f.svc.ApplyModeratorDecision(context.Background(), tx.ID,
		moderation.Decision{Kind: moderation.DecisionPayment, Approve: true}, outsider)
	assert.ErrorIs(t, err, common.ErrForbidden)

	cur, _ := f.svc.Get(context.Background(), tx.ID)
	assert.Equal(t, StatusPaymentPending, cur.Status)

	actions := f.tickets.Actions()
	require.Len(t, actions, 1)
	assert.Equal(t, moderation.OutcomeForbidden, actions[0].Outcome)
	assert.Equal(t, int64(outsider), actions[0].AdminID)
}

func TestDecisionOnMissingTransaction(t *testing.T) {
	f := newFixture(t)
	_, err := f.decide(t, 12345, moderation.Decision{Kind: moderation.DecisionCancel})
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.Equal(t, moderation.OutcomeNotFound, f.tickets.Actions()[0].Outcome)
}

func TestConfirmCompletionQuorumFiresOnce(t *testing.T) {
	f := newFixture(t)
	tx := f.store.seed(StatusInProgress)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		party := int64(seller)
		if i%2 == 1 {
			party = buyer
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.ConfirmCompletion(context.Background(), tx.ID, party); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		// опоздавшие видят завершённую сделку или переход, который ещё идёт
		assert.True(t, errors.Is(err, common.ErrInvalidStateTransition) || errors.Is(err, common.ErrConcurrencyConflict), err)
	}

	cur, err := f.svc.Get(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, cur.Status)
	assert.NotNil(t, cur.CompletedAt)
	assert.Len(t, f.tickets.Tickets(moderation.KindPayout), 1)
}

func TestSingleConfirmationWaitsForCounterpart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.store.seed(StatusInProgress)

	_, err := f.svc.ConfirmCompletion(ctx, tx.ID, outsider)
	assert.ErrorIs(t, err, common.ErrNotParty)

	cur, err := f.svc.ConfirmCompletion(ctx, tx.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, cur.Status)
	assert.True(t, f.rec.Contains(seller, "Покупатель подтвердил"))

	cur, err = f.svc.ConfirmCompletion(ctx, tx.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, cur.Status, "повтор той же стороны не считается")

	cur, err = f.svc.ConfirmCompletion(ctx, tx.ID, seller)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, cur.Status)
}

func TestFailedCompletionKeepsConfirmations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.store.seed(StatusInProgress)
	svc := f.serviceOver(&flakyStore{memStore: f.store, failures: 1})

	_, err := svc.ConfirmCompletion(ctx, tx.ID, buyer)
	require.NoError(t, err)
	_, err = svc.ConfirmCompletion(ctx, tx.ID, seller)
	require.Error(t, err)

	cur, err := svc.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, cur.Status)
	assert.Empty(t, f.tickets.Tickets(moderation.KindPayout))

	// повтор любой стороны доводит сделку до конца без нового подтверждения второй
	cur, err = svc.ConfirmCompletion(ctx, tx.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, cur.Status)
	assert.Len(t, f.tickets.Tickets(moderation.KindPayout), 1)
}

func TestConfirmationAfterForeignQuorumIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.store.seed(StatusInProgress)

	// кворум забран, но сделка ещё не переведена
	_, err := f.consensus.Confirm(ctx, tx.ID, buyer, 2)
	require.NoError(t, err)
	res, err := f.consensus.Confirm(ctx, tx.ID, seller, 2)
	require.NoError(t, err)
	require.True(t, res.QuorumReached)

	_, err = f.svc.ConfirmCompletion(ctx, tx.ID, buyer)
	assert.ErrorIs(t, err, common.ErrConcurrencyConflict)
}

func TestPayoutApprovalFinishesDeal(t *testing.T) {
	f := newFixture(t)
	tx := f.store.seed(StatusCompleted)

	_, err := f.decide(t, tx.ID, moderation.Decision{Kind: moderation.DecisionPayout})
	assert.ErrorIs(t, err, common.ErrValidation)

	next, err := f.decide(t, tx.ID, moderation.Decision{Kind: moderation.DecisionPayout, Approve: true})
	require.NoError(t, err)
	assert.Equal(t, StatusPaidOut, next.Status)
	assert.True(t, f.rec.Contains(seller, "975 ₴"))

	sent := f.rec.To(buyer)
	require.NotEmpty(t, sent)
	assert.Len(t, sent[len(sent)-1].Actions, 5, "кнопки оценки")

	open, err := f.svc.HasOpenTransaction(context.Background(), tx.ChatID)
	require.NoError(t, err)
	assert.False(t, open)
}

func TestMutualCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.store.seed(StatusInProgress)

	_, err := f.svc.ConfirmCancel(ctx, tx.ID, seller)
	assert.ErrorIs(t, err, common.ErrInvalidStateTransition, "нет запроса")

	cur, err := f.svc.RequestCancel(ctx, tx.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, int64(buyer), cur.CancelRequestedBy)
	assert.Equal(t, StatusInProgress, cur.Status)

	_, err = f.svc.ConfirmCancel(ctx, tx.ID, buyer)
	assert.ErrorIs(t, err, common.ErrInvalidStateTransition, "свой запрос подтвердить нельзя")

	cur, err = f.svc.ConfirmCancel(ctx, tx.ID, seller)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cur.Status)
	assert.Equal(t, ReasonMutualAgreement, cur.CancelReason)
	assert.True(t, f.rec.Contains(buyer, "Отменена по согласию сторон"))
}

func TestCrossedCancelRequestsCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.store.seed(StatusPaymentPending)

	_, err := f.svc.RequestCancel(ctx, tx.ID, seller)
	require.NoError(t, err)
	cur, err := f.svc.RequestCancel(ctx, tx.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cur.Status)
}

func TestDeclineCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.store.seed(StatusVerificationPending)

	_, err := f.svc.RequestCancel(ctx, tx.ID, seller)
	require.NoError(t, err)
	cur, err := f.svc.DeclineCancel(ctx, tx.ID, buyer)
	require.NoError(t, err)
	assert.Zero(t, cur.CancelRequestedBy)
	assert.Equal(t, StatusVerificationPending, cur.Status)
	assert.True(t, f.rec.Contains(seller, "отказалась"))
}

func TestCancelNotAllowedAfterCompletion(t *testing.T) {
	f := newFixture(t)
	tx := f.store.seed(StatusCompleted)

	_, err := f.svc.RequestCancel(context.Background(), tx.ID, buyer)
	assert.ErrorIs(t, err, common.ErrInvalidStateTransition)
	_, err = f.decide(t, tx.ID, moderation.Decision{Kind: moderation.DecisionCancel})
	assert.ErrorIs(t, err, common.ErrInvalidStateTransition)
}

func TestRequestHelpOpensDispute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.store.seed(StatusInProgress)
	_, err := f.consensus.Confirm(ctx, tx.ID, buyer, 2)
	require.NoError(t, err)

	cur, err := f.svc.RequestHelp(ctx, tx.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, StatusDisputed, cur.Status)
	assert.Len(t, f.tickets.Tickets(moderation.KindDispute), 1)

	_, err = f.svc.ConfirmCompletion(ctx, tx.ID, seller)
	assert.ErrorIs(t, err, common.ErrInvalidStateTransition)

	posted := f.rec.To(groupID)
	require.NotEmpty(t, posted)
	last := posted[len(posted)-1]
	require.Len(t, last.Actions, 1)
	assert.Equal(t, common.CallbackData(ActionModCancel, tx.ID), last.Actions[0].Data)
}

func TestDisputeIsClosedByModeratorOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.store.seed(StatusDisputed)

	_, err := f.svc.RequestCancel(ctx, tx.ID, buyer)
	assert.ErrorIs(t, err, common.ErrInvalidStateTransition, "стороны спор не отменяют")
	_, err = f.decide(t, tx.ID, moderation.Decision{Kind: moderation.DecisionExtend, Extend: time.Hour})
	assert.ErrorIs(t, err, common.ErrInvalidStateTransition)

	_, err = f.svc.RequestHelp(ctx, tx.ID, buyer)
	require.Error(t, err)
	require.Len(t, f.tickets.Tickets(moderation.KindDispute), 0)

	next, err := f.decide(t, tx.ID, moderation.Decision{Kind: moderation.DecisionCancel, Reason: "спор решён в пользу покупателя"})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, next.Status)
	assert.False(t, next.Status.IsOpen())
	assert.True(t, f.rec.Contains(buyer, "спор решён в пользу покупателя"))
}

func TestModeratorCancelAndExtend(t *testing.T) {
	f := newFixture(t)
	ip := f.store.seed(StatusInProgress)

	_, err := f.decide(t, ip.ID, moderation.Decision{Kind: moderation.DecisionExtend})
	assert.ErrorIs(t, err, common.ErrValidation)

	next, err := f.decide(t, ip.ID, moderation.Decision{Kind: moderation.DecisionExtend, Extend: 24 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, ip.CompletionDeadline.Add(24*time.Hour), next.CompletionDeadline)

	next, err = f.decide(t, ip.ID, moderation.Decision{Kind: moderation.DecisionCancel})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, next.Status)
	assert.Equal(t, ReasonCancelledByModerator, next.CancelReason)
}

func TestVerificationEvidence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.store.seed(StatusVerificationPending)

	_, err := f.svc.SubmitVerificationEvidence(ctx, tx.ID, buyer, "file-1")
	assert.ErrorIs(t, err, common.ErrNotParty)

	ticket, err := f.svc.SubmitVerificationEvidence(ctx, tx.ID, seller, "file-1")
	require.NoError(t, err)
	assert.Equal(t, moderation.KindVerification, ticket.Kind)
	assert.Equal(t, "file-1", ticket.Evidence["video_note"])

	ip := f.store.seed(StatusInProgress)
	_, err = f.svc.SubmitVerificationEvidence(ctx, ip.ID, seller, "file-2")
	assert.ErrorIs(t, err, common.ErrInvalidStateTransition)
}

func TestSweepOverdueFilesTicketOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	late := f.store.seed(StatusPaymentPending)
	f.store.seed(StatusInProgress)

	f.svc.now = func() time.Time { return late.PaymentDeadline.Add(time.Minute) }

	n, err := f.svc.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.svc.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	tickets := f.tickets.Tickets(moderation.KindOverdue)
	require.Len(t, tickets, 1)
	assert.Equal(t, late.ID, tickets[0].TransactionID)

	cur, _ := f.svc.Get(ctx, late.ID)
	assert.Equal(t, StatusPaymentPending, cur.Status, "просрочка не меняет статус")
}

func TestStaleTransitionReportsCurrentState(t *testing.T) {
	f := newFixture(t)
	tx := f.store.seed(StatusVerificationPending)
	stale := *tx

	_, err := f.decide(t, tx.ID, moderation.Decision{Kind: moderation.DecisionCancel})
	require.NoError(t, err)

	_, err = f.svc.transition(context.Background(), &stale, StatusInProgress, Change{}, moderator)
	assert.True(t, errors.Is(err, common.ErrInvalidStateTransition))
}
