package safety

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// DefaultTokenTTL is how long a confirmation token stays valid.
const DefaultTokenTTL = 5 * time.Minute

type pendingConfirmation struct {
	tool        string
	resource    string
	description string
	createdAt   time.Time
}

// ConfirmationTracker manages single-use, time-limited confirmation tokens
// for commands that cut power or switch the power source.
type ConfirmationTracker struct {
	destructive map[string]struct{}
	ttl         time.Duration
	now         func() time.Time

	mu     sync.Mutex
	tokens map[string]*pendingConfirmation
}

// NewConfirmationTracker returns a ConfirmationTracker requiring confirmation
// for the tools in destructiveTools. A nil or empty slice means no tool
// requires confirmation.
func NewConfirmationTracker(destructiveTools []string) *ConfirmationTracker {
	ct := &ConfirmationTracker{
		destructive: make(map[string]struct{}, len(destructiveTools)),
		ttl:         DefaultTokenTTL,
		now:         time.Now,
		tokens:      make(map[string]*pendingConfirmation),
	}
	for _, tool := range destructiveTools {
		ct.destructive[tool] = struct{}{}
	}
	return ct
}

// NeedsConfirmation reports whether tool is in the destructive set.
func (ct *ConfirmationTracker) NeedsConfirmation(tool string) bool {
	_, ok := ct.destructive[tool]
	return ok
}

// sweepExpired drops expired tokens. The caller must hold ct.mu.
func (ct *ConfirmationTracker) sweepExpired() {
	now := ct.now()
	for token, pending := range ct.tokens {
		if now.Sub(pending.createdAt) > ct.ttl {
			delete(ct.tokens, token)
		}
	}
}

// RequestConfirmation issues a token for running tool against resource.
func (ct *ConfirmationTracker) RequestConfirmation(tool, resource, description string) string {
	token := generateToken()

	ct.mu.Lock()
	ct.sweepExpired()
	ct.tokens[token] = &pendingConfirmation{
		tool:        tool,
		resource:    resource,
		description: description,
		createdAt:   ct.now(),
	}
	ct.mu.Unlock()

	return token
}

// Confirm consumes token and reports whether it was issued for tool and has
// not expired. A token is consumed even when it does not match, so a token
// can never be replayed against another tool.
func (ct *ConfirmationTracker) Confirm(tool, token string) bool {
	if token == "" {
		return false
	}

	ct.mu.Lock()
	defer ct.mu.Unlock()

	pending, ok := ct.tokens[token]
	if !ok {
		return false
	}
	delete(ct.tokens, token)

	if ct.now().Sub(pending.createdAt) > ct.ttl {
		return false
	}
	return pending.tool == tool
}

// Pending returns the number of outstanding tokens.
func (ct *ConfirmationTracker) Pending() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.sweepExpired()
	return len(ct.tokens)
}

func generateToken() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand does not fail on supported platforms.
		return hex.EncodeToString([]byte(time.Now().String()))
	}
	return hex.EncodeToString(b[:])
}
