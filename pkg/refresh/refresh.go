// Package refresh implements the OAuth Refresh Manager (§4.4): proactive
// scheduled refresh plus on-demand refresh with bounded exponential backoff,
// single-flight deduplication per integration id, and terminal-failure
// escalation through a StatusUpdater.
package refresh

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/reins-ai/agentd/pkg/agentderr"
	"github.com/reins-ai/agentd/pkg/vault"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
	ttlFraction           = 0.8
	maxDelayMs            = int64(1<<31 - 1)
)

// StatusUpdater is notified when a refresh permanently fails (§6: status
// indicators). Implementations typically forward into the Lifecycle Manager
// / State Machine.
type StatusUpdater interface {
	SetAuthExpired(ctx context.Context, integrationID string, message string) error
}

// Result is what a RefreshFunc returns on success. An empty RefreshToken,
// Scopes or TokenType means "not returned by the provider" and is preserved
// from the prior credential on merge, per §4.4; AccessToken and ExpiresAt
// are always taken from the Result as returned.
type Result struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
	TokenType    string
}

// CallbackContext is passed to every RefreshFunc invocation.
type CallbackContext struct {
	IntegrationID string
	Credential    vault.Credential
	RefreshToken  string
	Attempt       int
	MaxAttempts   int
}

// Func performs the actual network call to exchange a refresh token for a
// new access token. Implementations return a non-transient error (per the
// Classifier) to short-circuit retry.
type Func func(ctx context.Context, cc CallbackContext) (Result, error)

// timer abstracts time.Timer so tests can fire refreshes deterministically.
type timer interface {
	Stop() bool
}

type realTimer struct{ t *time.Timer }

func (r realTimer) Stop() bool { return r.t.Stop() }

// Options configures a Manager. Zero-value Options yields the spec defaults.
type Options struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Classifier     agentderr.Classifier
	Now            func() time.Time
	Sleep          func(time.Duration)
	AfterFunc      func(d time.Duration, f func()) timer
	// DistributedLocker, when set, adds a cross-process lease on top of the
	// in-process inflight map, for deployments running more than one
	// agentd process against the same credential store. Nil (the default)
	// means single-process dedup only.
	DistributedLocker  DistributedLocker
	DistributedLockTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = defaultInitialBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = defaultMaxBackoff
	}
	if o.Classifier == nil {
		o.Classifier = agentderr.DefaultClassifier
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = time.Sleep
	}
	if o.AfterFunc == nil {
		o.AfterFunc = func(d time.Duration, f func()) timer {
			return realTimer{t: time.AfterFunc(d, f)}
		}
	}
	if o.DistributedLockTTL <= 0 {
		o.DistributedLockTTL = 30 * time.Second
	}
	return o
}

type inflight struct {
	done   chan struct{}
	result Result
	err    error
}

// Manager is the OAuth Refresh Manager. One Manager serves every integration
// in a process; per-id state (timer, in-flight slot) is independent.
type Manager struct {
	opts   Options
	vault  vault.Vault
	status StatusUpdater

	mu       sync.Mutex
	timers   map[string]timer
	inflight map[string]*inflight
}

func NewManager(v vault.Vault, status StatusUpdater, opts Options) *Manager {
	return &Manager{
		opts:     opts.withDefaults(),
		vault:    v,
		status:   status,
		timers:   make(map[string]timer),
		inflight: make(map[string]*inflight),
	}
}

// clampDelayMs implements the `[0, 2^31-1]` clamp from §4.4.
func clampDelayMs(ms int64) int64 {
	if ms < 0 {
		return 0
	}
	if ms > maxDelayMs {
		return maxDelayMs
	}
	return ms
}

// ScheduleRefresh loads the current OAuth credential for id, computes
// floor(TTL*0.8) ms (clamped), and arms a single timer that invokes fn via
// RefreshNow when it fires. Re-scheduling (including the auto-reschedule
// after a successful refresh) clears any prior timer for id first.
func (m *Manager) ScheduleRefresh(ctx context.Context, id string, fn Func) (time.Duration, error) {
	cred, err := m.vault.Retrieve(ctx, id)
	if err != nil {
		return 0, err
	}
	if cred == nil || cred.Type != vault.TypeOAuth || cred.OAuth == nil {
		return 0, agentderr.New(agentderr.CodeValidation, "refresh: no oauth credential for "+id)
	}

	now := m.opts.Now()
	ttlMs := cred.OAuth.ExpiresAt.Sub(now).Milliseconds()
	delayMs := clampDelayMs(int64(math.Floor(float64(ttlMs) * ttlFraction)))
	delay := time.Duration(delayMs) * time.Millisecond

	m.mu.Lock()
	if t, ok := m.timers[id]; ok {
		t.Stop()
	}
	m.timers[id] = m.opts.AfterFunc(delay, func() {
		_, _ = m.RefreshNow(ctx, id, fn)
	})
	m.mu.Unlock()

	return delay, nil
}

// RefreshNow performs (or joins) a refresh for id. Concurrent callers for
// the same id observe the same outcome (§8 property 10).
func (m *Manager) RefreshNow(ctx context.Context, id string, fn Func) (Result, error) {
	m.mu.Lock()
	if existing, ok := m.inflight[id]; ok {
		m.mu.Unlock()
		<-existing.done
		return existing.result, existing.err
	}
	slot := &inflight{done: make(chan struct{})}
	m.inflight[id] = slot
	m.mu.Unlock()

	result, err := m.attemptRefreshLocked(ctx, id, fn)

	m.mu.Lock()
	slot.result, slot.err = result, err
	delete(m.inflight, id)
	m.mu.Unlock()
	close(slot.done)

	return result, err
}

// attemptRefreshLocked wraps attemptRefresh with the optional distributed
// lease. When another process already holds the lease, this process
// doesn't retry the exchange itself; it reports the refresh as skipped
// (not an error) and leaves it to the lease holder.
func (m *Manager) attemptRefreshLocked(ctx context.Context, id string, fn Func) (Result, error) {
	if m.opts.DistributedLocker == nil {
		return m.attemptRefresh(ctx, id, fn)
	}

	release, ok, err := m.opts.DistributedLocker.TryLock(ctx, id, m.opts.DistributedLockTTL)
	if err != nil {
		return Result{}, agentderr.Wrap(agentderr.CodeOperation, "refresh: acquire distributed lock", err)
	}
	if !ok {
		return Result{}, nil
	}
	defer release(ctx)

	return m.attemptRefresh(ctx, id, fn)
}

func (m *Manager) attemptRefresh(ctx context.Context, id string, fn Func) (Result, error) {
	cred, err := m.vault.Retrieve(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if cred == nil || cred.Type != vault.TypeOAuth || cred.OAuth == nil {
		return Result{}, agentderr.New(agentderr.CodeValidation, "refresh: no oauth credential for "+id)
	}
	current := *cred

	var lastErr error
	backoff := m.opts.InitialBackoff

	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		// Reload between attempts so a concurrent writer's update (e.g. a
		// refresh that landed from another process) isn't clobbered; if the
		// reload itself fails, fall back to the last known-good value rather
		// than aborting the retry.
		if attempt > 1 {
			if reloaded, rerr := m.vault.Retrieve(ctx, id); rerr == nil && reloaded != nil && reloaded.Type == vault.TypeOAuth && reloaded.OAuth != nil {
				current = *reloaded
			}
		}

		cc := CallbackContext{
			IntegrationID: id,
			Credential:    current,
			RefreshToken:  current.OAuth.RefreshToken,
			Attempt:       attempt,
			MaxAttempts:   m.opts.MaxAttempts,
		}

		res, err := fn(ctx, cc)
		if err == nil {
			merged := mergeResult(current.OAuth, res)
			newCred := vault.Credential{Type: vault.TypeOAuth, OAuth: &merged}
			if err := m.vault.Store(ctx, id, newCred); err != nil {
				return Result{}, agentderr.Wrap(agentderr.CodeOperation, "refresh: persist refreshed credential", err)
			}
			if _, err := m.ScheduleRefresh(ctx, id, fn); err != nil {
				return Result{}, err
			}
			return res, nil
		}

		lastErr = err
		transient := m.opts.Classifier(err)
		if !transient || attempt == m.opts.MaxAttempts {
			break
		}
		m.opts.Sleep(backoff)
		backoff *= 2
		if backoff > m.opts.MaxBackoff {
			backoff = m.opts.MaxBackoff
		}
	}

	m.mu.Lock()
	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
	}
	m.mu.Unlock()

	if m.status != nil {
		if serr := m.status.SetAuthExpired(ctx, id, lastErr.Error()); serr != nil {
			return Result{}, agentderr.Wrap(agentderr.CodeOperation, "refresh: status update after terminal failure", serr)
		}
	}

	return Result{}, agentderr.Wrap(agentderr.CodeAuth, "refresh: refresh failed for "+id, lastErr)
}

// mergeResult preserves refresh_token/scopes/token_type from the prior
// credential when the provider's response leaves them empty.
func mergeResult(prior *vault.OAuthCredential, res Result) vault.OAuthCredential {
	out := vault.OAuthCredential{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresAt:    res.ExpiresAt,
		Scopes:       res.Scopes,
		TokenType:    res.TokenType,
	}
	if out.RefreshToken == "" {
		out.RefreshToken = prior.RefreshToken
	}
	if len(out.Scopes) == 0 {
		out.Scopes = append([]string(nil), prior.Scopes...)
	}
	if out.TokenType == "" {
		out.TokenType = prior.TokenType
	}
	return out
}

// Cancel clears any scheduled timer for id. It does not touch an in-flight
// refresh and does not interrupt a call already in progress.
func (m *Manager) Cancel(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
	}
}

// CancelAll clears every scheduled timer.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}
