package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func memberInteraction(perms int64, roles ...string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Member: &discordgo.Member{
				User:        &discordgo.User{ID: "u1"},
				Roles:       roles,
				Permissions: perms,
			},
		},
	}
}

func TestAdminChecker(t *testing.T) {
	t.Run("no configured roles admits everyone", func(t *testing.T) {
		a := NewAdminChecker()
		if !a.IsAdmin(memberInteraction(0)) {
			t.Error("open checker rejected a member")
		}
	})

	t.Run("empty role ids are ignored", func(t *testing.T) {
		a := NewAdminChecker("", "")
		if !a.IsAdmin(memberInteraction(0)) {
			t.Error("empty role config must behave like no config")
		}
	})

	t.Run("any configured role qualifies", func(t *testing.T) {
		a := NewAdminChecker("mods", "ops")
		if !a.IsAdmin(memberInteraction(0, "ops")) {
			t.Error("member with second admin role rejected")
		}
		if a.IsAdmin(memberInteraction(0, "regulars")) {
			t.Error("member without admin role accepted")
		}
	})

	t.Run("administrator permission bypasses roles", func(t *testing.T) {
		a := NewAdminChecker("mods")
		if !a.IsAdmin(memberInteraction(discordgo.PermissionAdministrator)) {
			t.Error("guild administrator rejected")
		}
	})

	t.Run("dm interactions are never admin", func(t *testing.T) {
		a := NewAdminChecker("mods")
		i := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}}
		if a.IsAdmin(i) {
			t.Error("memberless interaction accepted")
		}
	})
}
