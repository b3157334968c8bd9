package recovery

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swatchlab/swatchsync/internal/metrics"
)

// Action is what the manager tells the caller to do with a failure.
type Action int

const (
	ActionRetryImmediately Action = iota
	ActionRetryWithDelay
	ActionRetryWithBackoff
	ActionRecreateResource
	ActionSkip
	ActionRestoreSafeState
	ActionTerminate
)

func (a Action) String() string {
	switch a {
	case ActionRetryImmediately:
		return "retry_immediately"
	case ActionRetryWithDelay:
		return "retry_with_delay"
	case ActionRetryWithBackoff:
		return "retry_with_backoff"
	case ActionRecreateResource:
		return "recreate_resource"
	case ActionSkip:
		return "skip"
	case ActionRestoreSafeState:
		return "restore_safe_state"
	case ActionTerminate:
		return "terminate"
	}
	return "unknown"
}

// Rule describes how one failure kind is handled: the action while
// retry budget remains, and the action once it runs out.
type Rule struct {
	Action     Action
	MaxRetries int
	Delay      time.Duration
	Exhausted  Action
}

// Policy maps failure kinds to rules.
type Policy map[Kind]Rule

// DefaultPolicy builds the standard rule table. Network failures wait
// twice the base delay; crashes recreate the resource and allow one
// more attempt; parse and not-found failures skip without retrying;
// permission, config, and parameter failures terminate the run.
// "Skip" at exhaustion means the current unit of work is abandoned and
// marked failed; it never aborts sibling work.
func DefaultPolicy(baseDelay time.Duration) Policy {
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return Policy{
		KindNetwork:         {Action: ActionRetryWithDelay, MaxRetries: 3, Delay: 2 * baseDelay, Exhausted: ActionSkip},
		KindTimeout:         {Action: ActionRetryWithDelay, MaxRetries: 3, Delay: baseDelay, Exhausted: ActionSkip},
		KindBrowserCrash:    {Action: ActionRecreateResource, MaxRetries: 1, Delay: 0, Exhausted: ActionSkip},
		KindPageCrash:       {Action: ActionRecreateResource, MaxRetries: 1, Delay: 0, Exhausted: ActionSkip},
		KindElementNotFound: {Action: ActionRetryWithDelay, MaxRetries: 2, Delay: baseDelay, Exhausted: ActionSkip},
		KindDataParse:       {Action: ActionSkip, Exhausted: ActionSkip},
		KindDataValidation:  {Action: ActionSkip, Exhausted: ActionSkip},
		KindFileNotFound:    {Action: ActionSkip, Exhausted: ActionSkip},
		KindFilePermission:  {Action: ActionTerminate, Exhausted: ActionTerminate},
		KindConfig:          {Action: ActionTerminate, Exhausted: ActionTerminate},
		KindParameter:       {Action: ActionTerminate, Exhausted: ActionTerminate},
		KindUnknown:         {Action: ActionRetryWithDelay, MaxRetries: 1, Delay: baseDelay, Exhausted: ActionSkip},
	}
}

// DefaultAction is the first-attempt action for kind under the default
// rule table.
func DefaultAction(kind Kind) Action {
	rule, ok := defaultActions[kind]
	if !ok {
		return ActionRetryWithDelay
	}
	return rule
}

var defaultActions = func() map[Kind]Action {
	out := make(map[Kind]Action)
	for kind, rule := range DefaultPolicy(time.Second) {
		out[kind] = rule.Action
	}
	return out
}()

// Decision is the manager's verdict for one observed failure.
type Decision struct {
	Err     *ClassifiedError
	Action  Action
	Delay   time.Duration
	Attempt int
}

// Manager applies a Policy to observed failures. It is stateless
// across failures except for a bounded per-key retry counter, keyed by
// unit of work and failure kind.
type Manager struct {
	policy Policy
	logger *zap.Logger

	mu       sync.Mutex
	attempts map[string]int
}

// Counter entries are dropped wholesale past this point. Losing
// history only makes retries more generous, which is acceptable.
const maxTrackedKeys = 4096

// NewManager creates a Manager around policy.
func NewManager(policy Policy, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		policy:   policy,
		logger:   logger,
		attempts: make(map[string]int),
	}
}

// Decide classifies err, counts the attempt against key, and returns
// the action to take. While the kind's retry budget remains the rule's
// primary action applies; afterwards the exhausted action does.
func (m *Manager) Decide(key string, err error) Decision {
	ce := Classify(err)
	rule, ok := m.policy[ce.Kind]
	if !ok {
		rule = m.policy[KindUnknown]
	}

	m.mu.Lock()
	if len(m.attempts) >= maxTrackedKeys {
		m.attempts = make(map[string]int)
	}
	counterKey := key + "|" + string(ce.Kind)
	m.attempts[counterKey]++
	attempt := m.attempts[counterKey]
	m.mu.Unlock()

	decision := Decision{Err: ce, Attempt: attempt}
	retryable := rule.Action == ActionRetryImmediately ||
		rule.Action == ActionRetryWithDelay ||
		rule.Action == ActionRetryWithBackoff ||
		rule.Action == ActionRecreateResource
	if retryable && attempt <= rule.MaxRetries {
		decision.Action = rule.Action
		decision.Delay = rule.Delay
		metrics.ObserveRetry(string(ce.Kind))
	} else {
		decision.Action = rule.Exhausted
	}

	m.logger.Warn("failure classified",
		zap.String("key", key),
		zap.String("kind", string(ce.Kind)),
		zap.Int("attempt", attempt),
		zap.Stringer("action", decision.Action),
		zap.Error(ce))
	return decision
}

// Reset clears the retry counters for key, typically after a success.
func (m *Manager) Reset(key string) {
	prefix := key + "|"
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.attempts {
		if strings.HasPrefix(k, prefix) {
			delete(m.attempts, k)
		}
	}
}

// Pause waits for delay or until ctx is done, whichever comes first.
func (m *Manager) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Fallback returns the next action when executing prev itself failed:
// skip the current unit first, then restore the last safe state, then
// terminate. Terminate is absorbing.
func Fallback(prev Action) Action {
	switch prev {
	case ActionSkip:
		return ActionRestoreSafeState
	case ActionRestoreSafeState, ActionTerminate:
		return ActionTerminate
	}
	return ActionSkip
}
