package callerauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify_RoundTrips(t *testing.T) {
	tm := NewTokenManager([]byte("test-secret"))

	token, err := tm.Issue("user-1", []string{"gmail"}, time.Hour)
	require.NoError(t, err)

	claims, err := tm.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.CallerID)
	require.True(t, claims.Allows("gmail"))
	require.False(t, claims.Allows("obsidian"))
}

func TestAllows_EmptyScopeAllowsEverything(t *testing.T) {
	claims := &CallerClaims{CallerID: "user-1"}
	require.True(t, claims.Allows("anything"))
}

func TestVerify_RejectsExpiredToken(t *testing.T) {
	tm := NewTokenManager([]byte("test-secret"))

	token, err := tm.Issue("user-1", nil, -time.Minute)
	require.NoError(t, err)

	_, err = tm.Verify(token)
	require.Error(t, err)
}

func TestVerify_RejectsTokenFromDifferentKey(t *testing.T) {
	tm1 := NewTokenManager([]byte("key-one"))
	tm2 := NewTokenManager([]byte("key-two"))

	token, err := tm1.Issue("user-1", nil, time.Hour)
	require.NoError(t, err)

	_, err = tm2.Verify(token)
	require.Error(t, err)
}

func TestContextFactory_NilWithoutToken(t *testing.T) {
	tm := NewTokenManager([]byte("test-secret"))
	factory := ContextFactory(tm)

	require.Nil(t, factory(context.Background()))
}

func TestContextFactory_ReturnsClaimsForValidToken(t *testing.T) {
	tm := NewTokenManager([]byte("test-secret"))
	factory := ContextFactory(tm)

	token, err := tm.Issue("user-1", nil, time.Hour)
	require.NoError(t, err)

	ctx := WithBearerToken(context.Background(), token)
	toolCtx := factory(ctx)
	require.NotNil(t, toolCtx)

	claims, ok := toolCtx.(*CallerClaims)
	require.True(t, ok)
	require.Equal(t, "user-1", claims.CallerID)
}
