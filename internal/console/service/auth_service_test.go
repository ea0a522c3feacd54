package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/eventedge/hypepipe/internal/domain"
	"github.com/eventedge/hypepipe/internal/infra/auth"
)

var consoleSecret = []byte("console-test-secret")

type fakeUsers struct {
	user *domain.User
	err  error
}

func (f *fakeUsers) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.user != nil && f.user.Username == username {
		return f.user, nil
	}
	return nil, nil
}

func testUser(t *testing.T, password string) *domain.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &domain.User{
		ID:           "u-1",
		Username:     "operator",
		PasswordHash: string(hash),
		Tier:         "readonly",
		Scopes:       []string{"read:macro.regime"},
	}
}

func TestGenerateToken_OK(t *testing.T) {
	s := NewAuthService(&fakeUsers{user: testUser(t, "hunter2")}, consoleSecret, time.Hour)

	resp, err := s.GenerateToken(context.Background(), "operator", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.InDelta(t, 3600, resp.ExpiresIn, 5)

	// Токен должен проходить тем же верификатором, что стоит на шлюзе
	claims, err := auth.NewVerifier(consoleSecret).Verify(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.AgentID)
	assert.Equal(t, []string{"read:macro.regime"}, claims.Scopes)
	assert.Equal(t, "readonly", claims.Tier)
	assert.Equal(t, "hypepipe-console", claims.Issuer)
}

func TestGenerateToken_WrongPassword(t *testing.T) {
	s := NewAuthService(&fakeUsers{user: testUser(t, "hunter2")}, consoleSecret, time.Hour)

	_, err := s.GenerateToken(context.Background(), "operator", "letmein")
	assert.EqualError(t, err, "invalid credentials")
}

func TestGenerateToken_UnknownUser(t *testing.T) {
	s := NewAuthService(&fakeUsers{}, consoleSecret, time.Hour)

	_, err := s.GenerateToken(context.Background(), "ghost", "hunter2")
	assert.EqualError(t, err, "invalid credentials")
}

func TestGenerateToken_RepoFailureMasked(t *testing.T) {
	s := NewAuthService(&fakeUsers{err: errors.New("pg down")}, consoleSecret, time.Hour)

	// Сбой базы не должен раскрывать детали наружу
	_, err := s.GenerateToken(context.Background(), "operator", "hunter2")
	assert.EqualError(t, err, "invalid credentials")
}
