// Package config provides the testcord configuration keys along with
// base defaults for the simulated server state
package config

import (
	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"time"
)

const (
	// DebugKey is the key for the debug mode of the runner
	DebugKey = "debug"

	// BotNameKey is the key for the username of the simulated bot user
	BotNameKey = "botName"

	// GuildNameKey is the key for the name of the guild seeded on startup
	GuildNameKey = "guildName"

	// TextChannelsKey is the key for the list of text channel names seeded in the default guild
	TextChannelsKey = "textChannels"

	// MemberCountKey is the key for the number of regular (non-bot) members seeded in the default guild
	MemberCountKey = "memberCount"

	// MessageCacheSizeKey is the key for the maximum number of messages kept for by-id lookups
	MessageCacheSizeKey = "messageCacheSize"

	// ProcessingTimeoutKey is the key for how long the runner waits for the bot under test
	// to finish handling an injected event
	ProcessingTimeoutKey = "processingTimeout"

	// TranscriptPathKey is the key for the storage path of the transcript recorder, when one is used
	TranscriptPathKey = "transcriptPath"

	// RateLimitPerSecondKey is the key for the simulated REST rate limit (requests per second).
	// A value of 0 disables rate limit simulation
	RateLimitPerSecondKey = "rateLimitPerSecond"

	// RateLimitBurstKey is the key for the burst size of the simulated REST rate limit
	RateLimitBurstKey = "rateLimitBurst"
)

const (
	defaultBotName          = "TestBot"
	defaultGuildName        = "Test Guild"
	defaultMemberCount      = 2
	defaultMessageCacheSize = 5000
	defaultTimeout          = 5 * time.Second
)

// NewViperWithDefaults creates a new viper instance with all defaults set. This is what
// a testcord runner expects to be handed and callers only need to override what their
// tests care about
func NewViperWithDefaults() (v *viper.Viper) {
	v = viper.New()
	v.SetDefault(DebugKey, false)
	v.SetDefault(BotNameKey, defaultBotName)
	v.SetDefault(GuildNameKey, defaultGuildName)
	v.SetDefault(TextChannelsKey, []string{"general"})
	v.SetDefault(MemberCountKey, defaultMemberCount)
	v.SetDefault(MessageCacheSizeKey, defaultMessageCacheSize)
	v.SetDefault(ProcessingTimeoutKey, defaultTimeout)
	v.SetDefault(RateLimitPerSecondKey, 0)
	v.SetDefault(RateLimitBurstKey, 1)

	return v
}

// GetTextChannels returns the names of the text channels to seed the default guild with
func GetTextChannels(v *viper.Viper) (names []string) {
	names = cast.ToStringSlice(v.Get(TextChannelsKey))
	if len(names) == 0 {
		names = []string{"general"}
	}

	return names
}

// GetProcessingTimeout returns the configured processing timeout, falling back to the
// default when the configured value can't be interpreted as a duration
func GetProcessingTimeout(v *viper.Viper) (timeout time.Duration) {
	timeout = v.GetDuration(ProcessingTimeoutKey)
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return timeout
}
