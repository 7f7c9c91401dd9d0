package discord

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// AdminChecker gates the privileged slash commands. A user qualifies by
// holding any of the configured admin roles, or by carrying the guild
// Administrator permission regardless of roles.
type AdminChecker struct {
	roleIDs []string
}

// NewAdminChecker creates an AdminChecker for the given role IDs. Empty
// entries are dropped; with no roles configured every user qualifies
// (development only).
func NewAdminChecker(roleIDs ...string) *AdminChecker {
	kept := make([]string, 0, len(roleIDs))
	for _, id := range roleIDs {
		if id != "" {
			kept = append(kept, id)
		}
	}
	return &AdminChecker{roleIDs: kept}
}

// IsAdmin reports whether the interaction author may run admin commands.
// Interactions without a Member (DM channel interactions) are never admin.
func (a *AdminChecker) IsAdmin(i *discordgo.InteractionCreate) bool {
	if len(a.roleIDs) == 0 {
		return true
	}
	if i.Member == nil {
		return false
	}
	if i.Member.Permissions&discordgo.PermissionAdministrator != 0 {
		return true
	}
	for _, id := range a.roleIDs {
		if slices.Contains(i.Member.Roles, id) {
			return true
		}
	}
	return false
}
