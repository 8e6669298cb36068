package core

import (
	"context"
	"strings"
	"sync/atomic"

	"heraldbot/internal/storage"
	"heraldbot/internal/transport"
	"heraldbot/pkg/logx"
)

// Gate decides whether a user may run a command. The configured owner
// passes every check; everyone else is resolved against their live chat
// role so promotions and demotions apply immediately.
type Gate struct {
	owner atomic.Int64
	store *storage.Store
	roles transport.RoleResolver // nil when the gateway cannot resolve roles
	log   logx.Logger
}

func NewGate(owner int64, store *storage.Store, roles transport.RoleResolver, log logx.Logger) *Gate {
	g := &Gate{store: store, roles: roles, log: log}
	g.owner.Store(owner)
	return g
}

// SetOwner swaps the owner id on config reload.
func (g *Gate) SetOwner(id int64) { g.owner.Store(id) }

// Allow reports whether the user meets the access level in the chat.
func (g *Gate) Allow(ctx context.Context, level Access, chatID, userID int64) bool {
	if level == AccessEveryone {
		return true
	}
	if owner := g.owner.Load(); owner != 0 && owner == userID {
		return true
	}
	switch level {
	case AccessOperator:
		return g.rank(ctx, chatID, userID) >= rankAdministrator
	case AccessMembers:
		required := roleRank(g.store.Settings().AccessRole)
		if required == 0 {
			return true
		}
		rank := g.rank(ctx, chatID, userID)
		// Chat admins pass regardless of the configured threshold.
		return rank >= required || rank >= rankAdministrator
	}
	return false
}

// Allowed is the member-level check the selection flow re-runs before it
// mutates the reminder queue.
func (g *Gate) Allowed(ctx context.Context, chatID, userID int64) bool {
	return g.Allow(ctx, AccessMembers, chatID, userID)
}

func (g *Gate) rank(ctx context.Context, chatID, userID int64) int {
	if g.roles == nil {
		return 0
	}
	role, err := g.roles.MemberRole(ctx, chatID, userID)
	if err != nil {
		g.log.Warn("member role lookup failed",
			logx.I64("chat_id", chatID), logx.I64("user_id", userID), logx.Err(err))
		return 0
	}
	return roleRank(role)
}

const (
	rankRestricted    = 1
	rankMember        = 2
	rankAdministrator = 3
	rankCreator       = 4
)

// roleRank orders chat roles; unknown and absent roles rank zero.
func roleRank(role string) int {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "creator":
		return rankCreator
	case "administrator":
		return rankAdministrator
	case "member":
		return rankMember
	case "restricted":
		return rankRestricted
	default:
		return 0
	}
}

// KnownRole reports whether s names a role usable with "config access".
func KnownRole(s string) bool { return roleRank(s) > 0 }
