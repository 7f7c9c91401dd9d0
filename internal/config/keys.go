package config

// Broker key layout. Every cross-process surface the bot shares through the
// broker is built here so key shapes live in one place. The prefix is
// Broker.KeyPrefix and may be empty.

// QueueKey returns the job list for a named queue. Queue keys are global
// (shared by all bots) and deliberately unprefixed: workers from any process
// may drain them.
func QueueKey(queue string) string { return "arq:" + queue }

// PendingActionsKey returns the list of JSON action commands awaiting the
// bot's action poller.
func PendingActionsKey(prefix, bot string) string {
	return prefix + "pending_actions:" + bot
}

// BroadcastQueueKey returns the list of JSON broadcast payloads addressed to
// the bot.
func BroadcastQueueKey(prefix, bot string) string {
	return prefix + "broadcast:queue:" + bot
}

// TriggerDebounceKey returns the 60s-TTL debounce key for immediate
// daily-life triggers.
func TriggerDebounceKey(prefix, bot string) string {
	return prefix + "bot:" + bot + ":trigger_debounce"
}

// LastAutonomousActionKey returns the timestamp key backing the bot's 60s
// self-cooldown between autonomous actions.
func LastAutonomousActionKey(prefix, bot string) string {
	return prefix + "bot:" + bot + ":last_autonomous_action"
}

// ReactionDailyKey returns the per-day reaction counter. date is formatted
// YYYY-MM-DD.
func ReactionDailyKey(prefix, bot, date string) string {
	return prefix + "reaction:" + bot + ":daily:" + date
}

// ReactionChannelKey returns the per-channel per-hour reaction counter.
func ReactionChannelKey(prefix, bot, channelID, hour string) string {
	return prefix + "reaction:" + bot + ":channel:" + channelID + ":" + hour
}

// ReactionUserKey returns the per-user reaction cooldown key.
func ReactionUserKey(prefix, bot, userID string) string {
	return prefix + "reaction:" + bot + ":user:" + userID
}

// QuotaKey returns the per-user per-day generation counter for an artifact
// kind ("image" or "audio"). date is formatted YYYY-MM-DD.
func QuotaKey(prefix, kind, userID, date string) string {
	return prefix + "quota:" + kind + ":" + userID + ":" + date
}

// PendingImagesKey returns the per-user artifact metadata list (5-min TTL).
func PendingImagesKey(prefix, userID string) string {
	return prefix + "pending_images:" + userID
}
