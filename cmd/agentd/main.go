// Command agentd runs the per-user local agent daemon: the integration
// runtime described by the Integration Service facade, wired to an
// encrypted credential store and the Daemon Runtime's managed-service
// lifecycle.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/reins-ai/agentd/pkg/agentderr"
	"github.com/reins-ai/agentd/pkg/authz"
	"github.com/reins-ai/agentd/pkg/callerauth"
	"github.com/reins-ai/agentd/pkg/config"
	"github.com/reins-ai/agentd/pkg/credstore"
	"github.com/reins-ai/agentd/pkg/cryptobox"
	"github.com/reins-ai/agentd/pkg/daemon"
	"github.com/reins-ai/agentd/pkg/integration"
	"github.com/reins-ai/agentd/pkg/integrationsvc"
	"github.com/reins-ai/agentd/pkg/kms"
	"github.com/reins-ai/agentd/pkg/refresh"
	"github.com/reins-ai/agentd/pkg/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()
	logger := slog.Default()
	ctx := context.Background()

	fmt.Fprintln(os.Stdout, "agentd starting...")

	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		log.Printf("failed to create data directory %s: %v", cfg.DataDir, err)
		return 1
	}

	var (
		db        *sql.DB
		credStore *credstore.SQLStore
		err       error
	)
	if cfg.DatabaseURL == "" {
		logger.Info("AGENTD_DATABASE_URL not set, falling back to local sqlite store")
		db, err = sql.Open("sqlite", cfg.DataDir+"/agentd.db")
		if err != nil {
			log.Printf("failed to open credential store database: %v", err)
			return 1
		}
	} else {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Printf("failed to open postgres credential store database: %v", err)
			return 1
		}
		if err := db.PingContext(ctx); err != nil {
			log.Printf("postgres ping failed: %v", err)
			return 1
		}
		logger.Info("subsystem ready", "subsystem", "credential-store", "driver", "postgres")
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, credstore.Schema); err != nil {
		log.Printf("failed to init credential store schema: %v", err)
		return 1
	}
	logger.Info("subsystem ready", "subsystem", "credential-store")

	masterSecret := []byte(cfg.CredentialsKey)
	if cfg.CredentialsKey == "" {
		localKMS, err := kms.NewLocalKMS(filepath.Join(cfg.DataDir, "keys", "credentials.key"))
		if err != nil {
			log.Printf("failed to bootstrap local key store: %v", err)
			return 1
		}
		masterSecret = localKMS.ActiveSecret()
		logger.Info("AGENTD_CREDENTIALS_KEY not set; using generated key persisted under AGENTD_DATA_DIR", "subsystem", "kms", "version", localKMS.ActiveVersion())
	}
	box := cryptobox.New(masterSecret)
	if cfg.DatabaseURL == "" {
		credStore = credstore.NewSQLStore(db, box)
	} else {
		credStore = credstore.NewPostgresStore(db, box)
	}
	logger.Info("subsystem ready", "subsystem", "key-encryption")

	manifests, err := config.LoadIntegrationManifests(cfg.IntegrationsFile)
	if err != nil {
		log.Printf("failed to load bundled integrations manifest: %v", err)
		return 1
	}
	logger.Info("subsystem ready", "subsystem", "integrations-manifest", "count", len(manifests))

	bundled := make([]integrationsvc.BundledIntegration, 0, len(manifests))
	for _, manifest := range manifests {
		bundled = append(bundled, integrationsvc.BundledIntegration{
			Manifest: manifest,
			Plugin:   &unimplementedPlugin{id: manifest.ID},
		})
	}

	if cfg.CallerTokenKey == "" {
		log.Println("AGENTD_CALLER_TOKEN_KEY not set; caller bearer tokens cannot be verified and toolContextFactory will see every call as anonymous")
	}
	tokenManager := callerauth.NewTokenManager([]byte(cfg.CallerTokenKey))
	logger.Info("subsystem ready", "subsystem", "caller-auth")

	telemetryProvider := telemetry.New("agentd")
	defer telemetryProvider.Shutdown(ctx)
	logger.Info("subsystem ready", "subsystem", "telemetry")

	authzEngine, err := authz.NewEngine()
	if err != nil {
		log.Printf("failed to build authz engine: %v", err)
		return 1
	}

	var refreshOpts refresh.Options
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		refreshOpts.DistributedLocker = refresh.NewRedisLocker(redisClient)
		logger.Info("subsystem ready", "subsystem", "refresh-distributed-lock", "addr", cfg.RedisAddr)
	}

	svc := integrationsvc.New(integrationsvc.Options{
		CredentialStore:    credStore,
		Integrations:       bundled,
		ToolContextFactory: callerauth.ContextFactory(tokenManager),
		Telemetry:          telemetryProvider,
		Authz:              authzEngine,
		CallerInfo:         callerInfoFromBearerToken(tokenManager),
		RefreshOptions:     refreshOpts,
		Logger:             logger,
	})

	runtime := daemon.NewRuntime(logger, cfg.ShutdownTimeout)
	runtime.RegisterService(svc)

	return runtime.Run(ctx)
}

// callerInfoFromBearerToken adapts the caller-auth bearer token on ctx into
// the (callerID, scopes) pair integrationsvc's authz gating evaluates
// rules against.
func callerInfoFromBearerToken(tm *callerauth.TokenManager) func(ctx context.Context) (string, []string) {
	factory := callerauth.ContextFactory(tm)
	return func(ctx context.Context) (string, []string) {
		claims, ok := factory(ctx).(*callerauth.CallerClaims)
		if !ok {
			return "", nil
		}
		return claims.CallerID, claims.Integrations
	}
}

// unimplementedPlugin backs any manifest loaded from integrations.yaml
// that has no compiled-in Go implementation. Integration-specific wire
// protocols are an external collaborator per §1; this satisfies the
// Plugin contract so the integration is visible and enable-able, and
// fails clearly rather than silently no-opping when actually invoked.
type unimplementedPlugin struct {
	id string
}

func (p *unimplementedPlugin) Connect(ctx context.Context) error    { return nil }
func (p *unimplementedPlugin) Disconnect(ctx context.Context) error { return nil }

func (p *unimplementedPlugin) GetStatus(ctx context.Context) (integration.Status, error) {
	return integration.Status{Indicator: integration.StatusUnknown}, nil
}

func (p *unimplementedPlugin) GetOperations() []integration.Operation { return nil }

func (p *unimplementedPlugin) Execute(ctx context.Context, operationName string, args map[string]any) (integration.DualChannel, error) {
	return integration.DualChannel{}, agentderr.New(agentderr.CodeOperation,
		"agentd: integration \""+p.id+"\" has no compiled-in implementation")
}
