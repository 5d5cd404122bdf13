// Package auth implements permission levels, per-user rate limiting and
// temporary sudo escalation for message senders.
package auth

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PermissionLevel orders sender privileges. Higher levels include lower ones.
type PermissionLevel int

const (
	LevelPublic   PermissionLevel = 0
	LevelTrusted  PermissionLevel = 1
	LevelOperator PermissionLevel = 2
	LevelAdmin    PermissionLevel = 3
)

// String returns the level name used in logs and command replies.
func (l PermissionLevel) String() string {
	switch l {
	case LevelPublic:
		return "PUBLIC"
	case LevelTrusted:
		return "TRUSTED"
	case LevelOperator:
		return "OPERATOR"
	case LevelAdmin:
		return "ADMIN"
	default:
		return fmt.Sprintf("PermissionLevel(%d)", int(l))
	}
}

// ParseLevel maps a level name to its value. Unknown names return
// LevelPublic and false.
func ParseLevel(s string) (PermissionLevel, bool) {
	switch s {
	case "PUBLIC", "public":
		return LevelPublic, true
	case "TRUSTED", "trusted":
		return LevelTrusted, true
	case "OPERATOR", "operator":
		return LevelOperator, true
	case "ADMIN", "admin":
		return LevelAdmin, true
	}
	return LevelPublic, false
}

// Config holds the sender lists and limits. List entries are either
// "platform:user_id" or a bare user id that matches on any platform.
type Config struct {
	AdminUsers         []string
	OperatorUsers      []string
	TrustedUsers       []string
	RateLimitPerMinute int
	SudoTimeout        time.Duration
	DefaultLevel       PermissionLevel
}

type userKey struct {
	platform string
	userID   string
}

type sudoGrant struct {
	level  PermissionLevel
	expiry time.Time
}

// SudoRequest is a pending escalation awaiting admin approval.
type SudoRequest struct {
	ID             string
	Platform       string
	UserID         string
	RequestedLevel PermissionLevel
	Action         string
	CreatedAt      time.Time
}

// Manager resolves permission levels, enforces per-user rate limits and
// tracks sudo escalations. Safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	users    map[userKey]PermissionLevel // exact platform:user entries
	anyUsers map[string]PermissionLevel  // bare ids, any platform

	limiters map[userKey]*rate.Limiter

	grants      map[userKey]sudoGrant
	pending     map[string]SudoRequest
	sudoCounter int

	now func() time.Time
}

// NewManager builds a manager from the configured sender lists.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		cfg:      cfg,
		limiters: make(map[userKey]*rate.Limiter),
		grants:   make(map[userKey]sudoGrant),
		pending:  make(map[string]SudoRequest),
		now:      time.Now,
	}
	m.users, m.anyUsers = buildUserMaps(cfg)
	return m
}

func buildUserMaps(cfg Config) (map[userKey]PermissionLevel, map[string]PermissionLevel) {
	users := make(map[userKey]PermissionLevel)
	anyUsers := make(map[string]PermissionLevel)
	store := func(entries []string, level PermissionLevel) {
		for _, e := range entries {
			if platform, id, ok := splitEntry(e); ok {
				users[userKey{platform, id}] = level
			} else {
				anyUsers[e] = level
			}
		}
	}
	// Admin last so it wins on duplicate entries.
	store(cfg.TrustedUsers, LevelTrusted)
	store(cfg.OperatorUsers, LevelOperator)
	store(cfg.AdminUsers, LevelAdmin)
	return users, anyUsers
}

func splitEntry(e string) (platform, id string, ok bool) {
	for i := 0; i < len(e); i++ {
		if e[i] == ':' {
			return e[:i], e[i+1:], true
		}
	}
	return "", "", false
}

// Reload swaps the sender lists and limits at runtime. Active sudo
// grants and rate limiter state survive; new limiters pick up the new rpm.
func (m *Manager) Reload(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	m.users, m.anyUsers = buildUserMaps(cfg)
	m.limiters = make(map[userKey]*rate.Limiter)
	slog.Info("auth lists reloaded",
		"admins", len(cfg.AdminUsers), "operators", len(cfg.OperatorUsers), "trusted", len(cfg.TrustedUsers))
}

// Level returns the sender's effective permission level, honoring any
// unexpired sudo grant. Expired grants are dropped on access.
func (m *Manager) Level(platform, userID string) PermissionLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levelLocked(platform, userID)
}

func (m *Manager) levelLocked(platform, userID string) PermissionLevel {
	key := userKey{platform, userID}
	if g, ok := m.grants[key]; ok {
		if m.now().Before(g.expiry) {
			return g.level
		}
		delete(m.grants, key)
		slog.Info("sudo grant expired", "platform", platform, "user", userID)
	}
	if level, ok := m.users[key]; ok {
		return level
	}
	if level, ok := m.anyUsers[userID]; ok {
		return level
	}
	return m.cfg.DefaultLevel
}

// Check reports whether the sender meets the required level.
func (m *Manager) Check(platform, userID string, required PermissionLevel) bool {
	return m.Level(platform, userID) >= required
}

// Allow consumes one rate-limit token for the sender. A denied call does
// not consume.
func (m *Manager) Allow(platform, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := userKey{platform, userID}
	lim, ok := m.limiters[key]
	if !ok {
		rpm := m.cfg.RateLimitPerMinute
		if rpm <= 0 {
			return true
		}
		lim = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
		m.limiters[key] = lim
	}
	if !lim.AllowN(m.now(), 1) {
		slog.Warn("rate limit exceeded", "platform", platform, "user", userID)
		return false
	}
	return true
}

// RequestSudo records a pending escalation and returns its request id
// for an admin to approve or deny.
func (m *Manager) RequestSudo(platform, userID, action string, requested PermissionLevel) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sudoCounter++
	id := fmt.Sprintf("sudo-%d", m.sudoCounter)
	m.pending[id] = SudoRequest{
		ID:             id,
		Platform:       platform,
		UserID:         userID,
		RequestedLevel: requested,
		Action:         action,
		CreatedAt:      m.now(),
	}
	slog.Info("sudo requested",
		"request_id", id, "platform", platform, "user", userID,
		"level", requested.String(), "action", action)
	return id
}

// ApproveSudo grants a pending request. The approver must be admin; the
// grant expires after the configured sudo timeout.
func (m *Manager) ApproveSudo(requestID, adminPlatform, adminID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.levelLocked(adminPlatform, adminID) < LevelAdmin {
		slog.Warn("sudo approval denied", "approver", adminID, "reason", "not admin")
		return false
	}
	req, ok := m.pending[requestID]
	if !ok {
		return false
	}
	delete(m.pending, requestID)
	m.grants[userKey{req.Platform, req.UserID}] = sudoGrant{
		level:  req.RequestedLevel,
		expiry: m.now().Add(m.cfg.SudoTimeout),
	}
	slog.Info("sudo approved",
		"request_id", requestID, "platform", req.Platform, "user", req.UserID,
		"level", req.RequestedLevel.String(), "expires_in", m.cfg.SudoTimeout)
	return true
}

// DenySudo removes a pending request without granting it.
func (m *Manager) DenySudo(requestID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[requestID]; !ok {
		return false
	}
	delete(m.pending, requestID)
	slog.Info("sudo denied", "request_id", requestID)
	return true
}

// PendingSudo lists pending requests in creation order.
func (m *Manager) PendingSudo() []SudoRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SudoRequest, 0, len(m.pending))
	for _, req := range m.pending {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// RevokeSudo cancels an active grant. Returns false when none exists.
func (m *Manager) RevokeSudo(platform, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userKey{platform, userID}
	if _, ok := m.grants[key]; !ok {
		return false
	}
	delete(m.grants, key)
	slog.Info("sudo revoked", "platform", platform, "user", userID)
	return true
}
