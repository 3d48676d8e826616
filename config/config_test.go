package config_test

import (
	"github.com/alexandre-normand/testcord/config"
	"github.com/stretchr/testify/assert"
	"testing"
	"time"
)

func TestNewViperWithDefaults(t *testing.T) {
	v := config.NewViperWithDefaults()

	assert.Equal(t, false, v.GetBool(config.DebugKey))
	assert.Equal(t, "TestBot", v.GetString(config.BotNameKey))
	assert.Equal(t, "Test Guild", v.GetString(config.GuildNameKey))
	assert.Equal(t, 2, v.GetInt(config.MemberCountKey))
	assert.Equal(t, 5000, v.GetInt(config.MessageCacheSizeKey))
	assert.Equal(t, 0, v.GetInt(config.RateLimitPerSecondKey))
}

func TestGetTextChannelsDefault(t *testing.T) {
	v := config.NewViperWithDefaults()

	assert.Equal(t, []string{"general"}, config.GetTextChannels(v))
}

func TestGetTextChannelsOverride(t *testing.T) {
	v := config.NewViperWithDefaults()
	v.Set(config.TextChannelsKey, []string{"general", "random"})

	assert.Equal(t, []string{"general", "random"}, config.GetTextChannels(v))
}

func TestGetTextChannelsEmptyFallsBackToGeneral(t *testing.T) {
	v := config.NewViperWithDefaults()
	v.Set(config.TextChannelsKey, []string{})

	assert.Equal(t, []string{"general"}, config.GetTextChannels(v))
}

func TestGetProcessingTimeout(t *testing.T) {
	v := config.NewViperWithDefaults()

	assert.Equal(t, 5*time.Second, config.GetProcessingTimeout(v))

	v.Set(config.ProcessingTimeoutKey, "250ms")
	assert.Equal(t, 250*time.Millisecond, config.GetProcessingTimeout(v))

	v.Set(config.ProcessingTimeoutKey, "not a duration")
	assert.Equal(t, 5*time.Second, config.GetProcessingTimeout(v))
}
