package admin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/escrow-bot/internal/common"
)

type memStore struct {
	mu       sync.Mutex
	sessions map[int64]*AdminSession
	failed   map[int64]int
}

func newMemStore() *memStore {
	return &memStore{sessions: map[int64]*AdminSession{}, failed: map[int64]int{}}
}

func (m *memStore) CreateSession(_ context.Context, s *AdminSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.IsActive = true
	m.sessions[s.UserID] = s
	return nil
}

func (m *memStore) GetActiveSession(_ context.Context, userID int64) (*AdminSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok || !s.IsActive || time.Now().After(s.ExpiresAt) {
		return nil, common.ErrNotFound
	}
	return s, nil
}

func (m *memStore) CloseSessions(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[userID]; ok {
		s.IsActive = false
	}
	return nil
}

func (m *memStore) TouchSession(context.Context, int64) error { return nil }

func (m *memStore) LogAttempt(_ context.Context, userID int64, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !success {
		m.failed[userID]++
	}
	return nil
}

func (m *memStore) CountFailedAttempts(_ context.Context, userID int64, _ time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failed[userID], nil
}

func newService(t *testing.T) *Service {
	t.Helper()
	hash := HashPassword("s3cret", []byte("0123456789abcdef"))
	return NewService(newMemStore(), []int64{1}, hash)
}

func TestLoginCreatesModeratorSession(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	assert.False(t, svc.IsModerator(ctx, 1), "без входа нет прав")
	require.NoError(t, svc.VerifyPassword(ctx, 1, "s3cret"))
	assert.True(t, svc.IsModerator(ctx, 1))

	require.NoError(t, svc.Logout(ctx, 1))
	assert.False(t, svc.IsModerator(ctx, 1))
}

func TestLoginRejectsNonAdmin(t *testing.T) {
	svc := newService(t)
	err := svc.VerifyPassword(context.Background(), 2, "s3cret")
	assert.True(t, errors.Is(err, common.ErrNotAdmin))
	assert.False(t, svc.IsModerator(context.Background(), 2))
}

func TestBruteForceLimit(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	for i := 0; i < 3; i++ {
		assert.True(t, errors.Is(svc.VerifyPassword(ctx, 1, "wrong"), common.ErrWrongPassword))
	}
	err := svc.VerifyPassword(ctx, 1, "s3cret")
	assert.True(t, errors.Is(err, common.ErrTooManyAttempts))
	assert.False(t, svc.IsModerator(ctx, 1))
}

func TestVerifyArgon2idRejectsMalformedHash(t *testing.T) {
	assert.False(t, verifyArgon2id("x", "not-a-hash"))
	assert.False(t, verifyArgon2id("x", "$argon2id$v=19$m=bad$salt$hash"))
}

func TestNewPasswordHash(t *testing.T) {
	_, err := NewPasswordHash("short")
	assert.True(t, errors.Is(err, common.ErrValidation))

	first, err := NewPasswordHash("длинный пароль")
	require.NoError(t, err)
	second, err := NewPasswordHash("длинный пароль")
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "соль каждый раз новая")
	assert.True(t, verifyArgon2id("длинный пароль", first))
	assert.False(t, verifyArgon2id("другой пароль", first))
}

func TestDialogStateExpires(t *testing.T) {
	svc := newService(t)
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	svc.SetState(1, StateAwaitingReason, Pending{Action: "mod_ver_no", ID: 7})
	st := svc.GetState(1)
	require.NotNil(t, st)
	assert.Equal(t, Pending{Action: "mod_ver_no", ID: 7}, st.Pending)

	now = now.Add(6 * time.Minute)
	assert.Nil(t, svc.GetState(1))
	assert.Equal(t, 1, svc.PurgeStates())
}
