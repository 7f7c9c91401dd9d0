package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/whisperengine-ai/whisperengine/internal/trust"
)

// statusColor is the embed sidebar color for the status embed.
const statusColor = 0x2ECC71

// maxTimeoutMinutes caps /timeout so a typo cannot silence a user for weeks.
const maxTimeoutMinutes = 7 * 24 * 60

// AdminTrust is the relationship surface the admin commands need.
type AdminTrust interface {
	Clear(ctx context.Context, userID string) error
	SetModerationTimeout(ctx context.Context, userID string, until time.Time) error
}

var _ AdminTrust = (*trust.Manager)(nil)

// HealthChecker reports per-dependency health for the status embed.
type HealthChecker interface {
	Check(ctx context.Context) map[string]error
}

// AdminCommands implements the operator slash commands: /status,
// /memory clear, and /timeout.
type AdminCommands struct {
	admin  *AdminChecker
	rel    AdminTrust
	stats  *ResponseStats
	health HealthChecker
	log    *slog.Logger
	now    func() time.Time
}

// AdminConfig holds dependencies for creating AdminCommands. Health is
// optional.
type AdminConfig struct {
	Admin  *AdminChecker
	Trust  AdminTrust
	Stats  *ResponseStats
	Health HealthChecker
	Logger *slog.Logger
}

// NewAdminCommands creates AdminCommands and registers its handlers with
// router.
func NewAdminCommands(cfg AdminConfig, router *CommandRouter) *AdminCommands {
	ac := &AdminCommands{
		admin:  cfg.Admin,
		rel:    cfg.Trust,
		stats:  cfg.Stats,
		health: cfg.Health,
		log:    cfg.Logger,
		now:    time.Now,
	}
	if ac.log == nil {
		ac.log = slog.Default()
	}
	ac.Register(router)
	return ac
}

// Register registers the admin command definitions and handlers.
func (ac *AdminCommands) Register(router *CommandRouter) {
	router.RegisterCommand("status", &discordgo.ApplicationCommand{
		Name:        "status",
		Description: "Show response pipeline statistics and dependency health",
	}, ac.handleStatus)

	router.RegisterCommand("memory/clear", &discordgo.ApplicationCommand{
		Name:        "memory",
		Description: "Memory administration",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "clear",
				Description: "Erase the relationship state for a user",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        "user",
						Description: "User whose relationship to erase",
						Required:    true,
					},
				},
			},
		},
	}, ac.handleMemoryClear)

	router.RegisterCommand("timeout", &discordgo.ApplicationCommand{
		Name:        "timeout",
		Description: "Put a user in moderation timeout",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        "user",
				Description: "User to time out",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "minutes",
				Description: "Timeout duration in minutes",
				Required:    true,
			},
		},
	}, ac.handleTimeout)
}

// handleStatus handles /status.
func (ac *AdminCommands) handleStatus(s InteractionResponder, i *discordgo.InteractionCreate) {
	if !ac.admin.IsAdmin(i) {
		RespondEphemeral(s, i, "You need the admin role to view status.")
		return
	}

	snap := ac.stats.Snapshot()
	embed := &discordgo.MessageEmbed{
		Title: "Pipeline Status",
		Color: statusColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Responses", Value: fmt.Sprintf("%d", snap.Responses), Inline: true},
			{Name: "Errors", Value: fmt.Sprintf("%d", snap.Errors), Inline: true},
			{Name: "Assembly", Value: formatPercentiles(snap.Assembly), Inline: false},
			{Name: "Generation", Value: formatPercentiles(snap.Generation), Inline: false},
			{Name: "End-to-end", Value: formatPercentiles(snap.Total), Inline: false},
		},
	}

	if ac.health != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Dependencies",
			Value: formatHealth(ac.health.Check(ctx)),
		})
	}

	RespondEmbed(s, i, embed)
}

// handleMemoryClear handles /memory clear.
func (ac *AdminCommands) handleMemoryClear(s InteractionResponder, i *discordgo.InteractionCreate) {
	if !ac.admin.IsAdmin(i) {
		RespondEphemeral(s, i, "You need the admin role to clear memory.")
		return
	}

	userID := subOptionUserID(i, "clear", "user")
	if userID == "" {
		RespondEphemeral(s, i, "No user given.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ac.rel.Clear(ctx, userID); err != nil {
		ac.log.Warn("relationship clear failed", "user_id", userID, "error", err)
		RespondError(s, i, err)
		return
	}
	RespondEphemeral(s, i, fmt.Sprintf("Relationship state for <@%s> erased.", userID))
}

// handleTimeout handles /timeout.
func (ac *AdminCommands) handleTimeout(s InteractionResponder, i *discordgo.InteractionCreate) {
	if !ac.admin.IsAdmin(i) {
		RespondEphemeral(s, i, "You need the admin role to time users out.")
		return
	}

	var (
		userID  string
		minutes int64
	)
	for _, opt := range i.ApplicationCommandData().Options {
		switch opt.Name {
		case "user":
			userID = opt.UserValue(nil).ID
		case "minutes":
			minutes = opt.IntValue()
		}
	}
	if userID == "" || minutes <= 0 {
		RespondEphemeral(s, i, "A user and a positive number of minutes are required.")
		return
	}
	if minutes > maxTimeoutMinutes {
		minutes = maxTimeoutMinutes
	}

	until := ac.now().Add(time.Duration(minutes) * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ac.rel.SetModerationTimeout(ctx, userID, until); err != nil {
		ac.log.Warn("moderation timeout failed", "user_id", userID, "error", err)
		RespondError(s, i, err)
		return
	}
	RespondEphemeral(s, i, fmt.Sprintf("<@%s> is timed out until %s.", userID, until.UTC().Format(time.RFC3339)))
}

// subOptionUserID extracts a user option from a subcommand interaction.
func subOptionUserID(i *discordgo.InteractionCreate, sub, name string) string {
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name != sub {
			continue
		}
		for _, inner := range opt.Options {
			if inner.Name == name {
				return inner.UserValue(nil).ID
			}
		}
	}
	return ""
}

func formatPercentiles(p LatencyPercentiles) string {
	return fmt.Sprintf("p50 %s / p95 %s", p.P50.Truncate(time.Millisecond), p.P95.Truncate(time.Millisecond))
}

func formatHealth(checks map[string]error) string {
	if len(checks) == 0 {
		return "no checks configured"
	}
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for idx, name := range names {
		if idx > 0 {
			b.WriteByte('\n')
		}
		if err := checks[name]; err != nil {
			fmt.Fprintf(&b, "❌ %s: %v", name, err)
		} else {
			b.WriteString("✅ " + name)
		}
	}
	return b.String()
}
