// ABOUTME: Per-user session actors keyed by normalized login, one writer at a time
// ABOUTME: Loads, initializes and persists Preferences around each tool invocation

package actor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/bookshelf-gateway/internal/auth"
	"github.com/2389/bookshelf-gateway/internal/bookshelf"
	"github.com/2389/bookshelf-gateway/internal/metrics"
	"github.com/2389/bookshelf-gateway/internal/store"
	"github.com/2389/bookshelf-gateway/internal/tools"
)

// ErrNoIdentity indicates an invocation without an authenticated identity.
var ErrNoIdentity = errors.New("no identity")

// errEvicted is returned by an actor that was dropped from the namespace
// while a caller was waiting for it.
var errEvicted = errors.New("actor evicted")

// Config holds the dependencies of a Namespace.
type Config struct {
	Store      store.Store
	Dispatcher *tools.Dispatcher
	// IdleTimeout evicts actors unused for this long. Zero keeps them forever.
	IdleTimeout time.Duration
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Namespace maps normalized logins to actors. Actors for different keys run
// concurrently; calls to one actor are serialized.
type Namespace struct {
	actors map[string]*Actor
	mu     sync.Mutex

	store       store.Store
	dispatcher  *tools.Dispatcher
	idleTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// Actor is the single writer for one user's preferences.
type Actor struct {
	key string
	ns  *Namespace

	mu          sync.Mutex
	initialized bool
	evicted     bool
	lastUsed    time.Time
}

// NewNamespace creates a namespace and, when IdleTimeout is set, starts the
// eviction loop. Call Close to stop it.
func NewNamespace(cfg Config) *Namespace {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ns := &Namespace{
		actors:      make(map[string]*Actor),
		store:       cfg.Store,
		dispatcher:  cfg.Dispatcher,
		idleTimeout: cfg.IdleTimeout,
		metrics:     cfg.Metrics,
		logger:      logger.With("component", "actors"),
		now:         time.Now,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	if ns.idleTimeout > 0 {
		go ns.evictLoop()
	} else {
		close(ns.doneCh)
	}
	return ns
}

// Get returns the actor for login, creating it on first use. Logins that
// normalize to the same key share one actor.
func (ns *Namespace) Get(login string) *Actor {
	key := auth.NormalizeLogin(login)

	ns.mu.Lock()
	defer ns.mu.Unlock()

	if a, ok := ns.actors[key]; ok {
		return a
	}
	a := &Actor{key: key, ns: ns, lastUsed: ns.now()}
	ns.actors[key] = a
	ns.metrics.SetActiveActors(len(ns.actors))
	ns.logger.Debug("actor created", "actor", key, "resident", len(ns.actors))
	return a
}

// Len returns the number of resident actors.
func (ns *Namespace) Len() int {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return len(ns.actors)
}

// Invoke runs one tool on the caller's actor. A nil id falls back to the
// identity attached to ctx.
func (ns *Namespace) Invoke(ctx context.Context, id *auth.Identity, tool string, args json.RawMessage) (*tools.Result, error) {
	if id == nil {
		id = auth.FromContext(ctx)
	}
	if id == nil || auth.NormalizeLogin(id.Login) == "" {
		return nil, ErrNoIdentity
	}
	if !ns.dispatcher.Has(tool) {
		return nil, fmt.Errorf("%w: %s", tools.ErrToolNotFound, tool)
	}

	for {
		a := ns.Get(id.Login)
		res, err := a.invoke(ctx, id, tool, args)
		if errors.Is(err, errEvicted) {
			continue
		}
		return res, err
	}
}

// Snapshot returns the persisted preferences for login, or store.ErrNotFound.
func (ns *Namespace) Snapshot(ctx context.Context, login string) (*bookshelf.Preferences, error) {
	raw, err := ns.store.GetActorState(ctx, auth.NormalizeLogin(login))
	if err != nil {
		return nil, err
	}
	return decodePrefs(raw)
}

// Key returns the normalized login the actor is bound to.
func (a *Actor) Key() string {
	return a.key
}

func (a *Actor) invoke(ctx context.Context, id *auth.Identity, tool string, args json.RawMessage) (*tools.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.evicted {
		return nil, errEvicted
	}
	ns := a.ns
	a.lastUsed = ns.now()

	if !a.initialized {
		if err := a.activate(ctx, id); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	res, err := a.run(ctx, tool, args)

	outcome := store.OutcomeOK
	var vErr *tools.ValidationError
	switch {
	case errors.As(err, &vErr):
		outcome = store.OutcomeInvalid
	case err != nil:
		outcome = store.OutcomeError
		ns.logger.Error("tool invocation failed", "actor", a.key, "tool", tool, "error", err)
	}

	ns.metrics.ObserveTool(tool, outcome, time.Since(start))
	if tool == tools.ToolGetRecommendations && res != nil {
		if data, ok := res.Data.(tools.RecommendationData); ok && data.Degraded {
			ns.metrics.ObserveRecommendation("degraded")
		} else {
			ns.metrics.ObserveRecommendation("ok")
		}
	}

	if recErr := ns.store.RecordInvocation(ctx, &store.Invocation{
		ActorKey:  a.key,
		Tool:      tool,
		Outcome:   outcome,
		CreatedAt: ns.now().UTC(),
	}); recErr != nil {
		ns.logger.Warn("failed to record invocation", "actor", a.key, "tool", tool, "error", recErr)
	}

	if err != nil {
		return nil, err
	}
	return res, nil
}

// run loads the actor's state, dispatches the tool outside any store
// transaction and saves the result with one write. Callers hold a.mu, which
// makes the actor the only writer for its key.
func (a *Actor) run(ctx context.Context, tool string, args json.RawMessage) (*tools.Result, error) {
	ns := a.ns
	current, err := ns.store.GetActorState(ctx, a.key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	prefs, err := decodePrefs(current)
	if err != nil {
		return nil, err
	}

	res, err := ns.dispatcher.Dispatch(ctx, tool, &tools.Call{Prefs: prefs, Now: ns.now()}, args)
	if err != nil {
		return nil, err
	}

	next, err := json.Marshal(prefs)
	if err != nil {
		return nil, fmt.Errorf("encoding preferences: %w", err)
	}
	if err := ns.store.SaveActorState(ctx, a.key, next); err != nil {
		return nil, err
	}
	return res, nil
}

// activate loads persisted state and fills absent fields from the identity.
// It runs once per activation, before the first tool.
func (a *Actor) activate(ctx context.Context, id *auth.Identity) error {
	ns := a.ns
	err := ns.store.UpdateActorState(ctx, a.key, func(current []byte) ([]byte, error) {
		prefs, err := decodePrefs(current)
		if err != nil {
			return nil, err
		}
		prefs.Init(id.DisplayName, a.key, ns.now())
		return json.Marshal(prefs)
	})
	if err != nil {
		return fmt.Errorf("activating actor %s: %w", a.key, err)
	}
	a.initialized = true
	ns.logger.Info("actor activated", "actor", a.key)
	return nil
}

func decodePrefs(raw []byte) (*bookshelf.Preferences, error) {
	prefs := &bookshelf.Preferences{}
	if len(raw) == 0 {
		return prefs, nil
	}
	if err := json.Unmarshal(raw, prefs); err != nil {
		return nil, fmt.Errorf("decoding preferences: %w", err)
	}
	return prefs, nil
}

func (ns *Namespace) evictLoop() {
	defer close(ns.doneCh)

	interval := max(ns.idleTimeout/2, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ns.stopCh:
			return
		case <-ticker.C:
			ns.evictIdle()
		}
	}
}

// evictIdle drops actors that are unused for at least idleTimeout. Busy
// actors are skipped.
func (ns *Namespace) evictIdle() int {
	now := ns.now()

	ns.mu.Lock()
	defer ns.mu.Unlock()

	evicted := 0
	for key, a := range ns.actors {
		if !a.mu.TryLock() {
			continue
		}
		if now.Sub(a.lastUsed) >= ns.idleTimeout {
			a.evicted = true
			delete(ns.actors, key)
			evicted++
		}
		a.mu.Unlock()
	}
	if evicted > 0 {
		ns.metrics.SetActiveActors(len(ns.actors))
		ns.logger.Debug("evicted idle actors", "count", evicted, "resident", len(ns.actors))
	}
	return evicted
}

// Close stops the eviction loop. Persisted state is unaffected.
func (ns *Namespace) Close() {
	ns.closeOnce.Do(func() {
		close(ns.stopCh)
	})
	<-ns.doneCh
}
