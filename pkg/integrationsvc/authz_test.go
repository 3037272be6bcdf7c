package integrationsvc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reins-ai/agentd/pkg/authz"
	"github.com/reins-ai/agentd/pkg/integration"
)

func newAuthzTestService(t *testing.T, executeRules map[string]string, callerID string, scopes []string) *Service {
	t.Helper()
	engine, err := authz.NewEngine()
	require.NoError(t, err)

	plugin := &mockPlugin{}
	svc := New(Options{
		Integrations: []BundledIntegration{{
			Manifest: integration.Manifest{
				ID:         "mock",
				Operations: []integration.Operation{{Name: "search"}, {Name: "read"}},
			},
			Plugin: plugin,
		}},
		Authz:        engine,
		ExecuteRules: executeRules,
		CallerInfo: func(ctx context.Context) (string, []string) {
			return callerID, scopes
		},
	})
	require.NoError(t, svc.Start(context.Background()))
	return svc
}

func TestExecuteOperation_DeniedByAuthzRule(t *testing.T) {
	svc := newAuthzTestService(t, map[string]string{
		"mock.search": `"admin" in scopes`,
	}, "user-1", []string{"user"})
	ctx := context.Background()

	require.NoError(t, svc.EnableIntegration(ctx, "mock"))
	_, err := svc.ExecuteOperation(ctx, "mock", "search", map[string]any{})
	require.Error(t, err)
}

func TestExecuteOperation_AllowedByAuthzRule(t *testing.T) {
	svc := newAuthzTestService(t, map[string]string{
		"mock.search": `"admin" in scopes`,
	}, "user-1", []string{"admin"})
	ctx := context.Background()

	require.NoError(t, svc.EnableIntegration(ctx, "mock"))
	_, err := svc.ExecuteOperation(ctx, "mock", "search", map[string]any{})
	require.NoError(t, err)
}

func TestExecuteOperation_NoRuleConfiguredAllowsByDefault(t *testing.T) {
	svc := newAuthzTestService(t, nil, "user-1", nil)
	ctx := context.Background()

	require.NoError(t, svc.EnableIntegration(ctx, "mock"))
	_, err := svc.ExecuteOperation(ctx, "mock", "read", map[string]any{})
	require.NoError(t, err)
}
