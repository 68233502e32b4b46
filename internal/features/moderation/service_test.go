package moderation_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/escrow-bot/internal/common"
	"serotonyl.ru/escrow-bot/internal/features/moderation"
	"serotonyl.ru/escrow-bot/internal/features/moderation/moderationtest"
	"serotonyl.ru/escrow-bot/internal/notify"
	"serotonyl.ru/escrow-bot/internal/notify/notifytest"
)

const groupID = -100500

func newGateway() (*moderation.Gateway, *moderationtest.Store, *notifytest.Recorder) {
	store := &moderationtest.Store{}
	rec := &notifytest.Recorder{}
	gw := moderation.NewGateway(store, moderationtest.Moderators{1: true}, rec, groupID)
	return gw, store, rec
}

func TestSubmitForReviewPersistsAndPostsToGroup(t *testing.T) {
	gw, store, rec := newGateway()

	ticket, err := gw.SubmitForReview(context.Background(), moderation.KindPayment,
		moderation.Subject{TransactionID: 12, UserID: 5, Text: "Покупатель сообщил об оплате"},
		map[string]string{"amount": "1025"},
		notify.Action{Label: "✅", Data: common.CallbackData("mod_pay", 12)},
	)
	require.NoError(t, err)
	assert.Equal(t, moderation.TicketOpen, ticket.Status)

	require.Len(t, store.Tickets(moderation.KindPayment), 1)
	sent := rec.To(groupID)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "сделка #12")
	assert.Contains(t, sent[0].Text, "amount: 1025")
	assert.Len(t, sent[0].Actions, 1)
}

func TestSubmitSurvivesNotifyFailure(t *testing.T) {
	gw, store, rec := newGateway()
	rec.Fail = errors.New("telegram down")

	_, err := gw.SubmitForReview(context.Background(), moderation.KindDispute,
		moderation.Subject{TransactionID: 3}, nil)
	require.NoError(t, err)
	assert.Len(t, store.Tickets(moderation.KindDispute), 1)
}

func TestAuthorize(t *testing.T) {
	gw, _, _ := newGateway()
	ctx := context.Background()

	assert.NoError(t, gw.Authorize(ctx, 1))
	assert.True(t, errors.Is(gw.Authorize(ctx, 2), common.ErrForbidden))
}

func TestResolveTickets(t *testing.T) {
	gw, store, _ := newGateway()
	ctx := context.Background()

	_, err := gw.SubmitForReview(ctx, moderation.KindPayout, moderation.Subject{TransactionID: 9}, nil)
	require.NoError(t, err)
	gw.ResolveTickets(ctx, 9, moderation.KindPayout, 1)

	open, err := gw.ListOpen(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.Equal(t, int64(1), store.Tickets(moderation.KindPayout)[0].ResolvedBy)
}

func TestRecordRetriesJournal(t *testing.T) {
	gw, store, rec := newGateway()
	store.RecordFailures = 2

	err := gw.Record(context.Background(), moderation.AdminAction{AdminID: 1, Action: "payment_approve", TransactionID: 4})
	require.NoError(t, err)
	require.Len(t, store.Actions(), 1)
	assert.Equal(t, "payment_approve", store.Actions()[0].Action)
	assert.Empty(t, rec.To(groupID))
}

func TestRecordFallsBackToModeratorGroup(t *testing.T) {
	gw, store, rec := newGateway()
	store.RecordFailures = -1

	err := gw.Record(context.Background(), moderation.AdminAction{
		AdminID: 1, Action: "ban", TargetUserID: 55, Outcome: moderation.OutcomeApplied,
	})
	assert.True(t, errors.Is(err, common.ErrAuditWrite))
	assert.Empty(t, store.Actions())
	assert.True(t, rec.Contains(groupID, "Журнал недоступен"))
	assert.True(t, rec.Contains(groupID, "пользователь 55"))
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, moderation.OutcomeApplied, moderation.OutcomeOf(nil))
	assert.Equal(t, moderation.OutcomeInvalidState,
		moderation.OutcomeOf(fmt.Errorf("x: %w", common.ErrInvalidStateTransition)))
	assert.Equal(t, moderation.OutcomeConflict, moderation.OutcomeOf(common.ErrConcurrencyConflict))
	assert.Equal(t, moderation.OutcomeFailed, moderation.OutcomeOf(errors.New("boom")))
}
