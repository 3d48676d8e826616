// This file holds the fluent verification API used by tests to assert on what the bot
// under test did: messages it sent, captured in order in the sent queue, and the
// presence it last set. Verifiers consume from the queue unless peeking, so chained
// verifications walk through the bot's responses one by one
package testcord

import (
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

// Verification is the entry point of the fluent verification API
type Verification struct {
	r *Runner
}

// Verify starts a verification chain
func (r *Runner) Verify() (v *Verification) {
	return &Verification{r: r}
}

// Message starts a verification against the oldest unconsumed message the bot sent.
// The message is consumed by the verification unless Peek is called first
func (v *Verification) Message() (mv *MessageVerifier) {
	return &MessageVerifier{r: v.r}
}

// Activity starts a verification against the bot's current presence
func (v *Verification) Activity() (av *ActivityVerifier) {
	return &ActivityVerifier{r: v.r}
}

// MessageVerifier verifies a message the bot under test sent
type MessageVerifier struct {
	r       *Runner
	peeking bool
}

// Peek makes the verification leave the message in the queue instead of consuming it,
// so several assertions can target the same message
func (mv *MessageVerifier) Peek() (peeked *MessageVerifier) {
	mv.peeking = true
	return mv
}

func (mv *MessageVerifier) next(t *testing.T) (msg *discordgo.Message, ok bool) {
	if mv.peeking {
		msg, ok = mv.r.queue.peek()
	} else {
		msg, ok = mv.r.queue.pop()
	}

	if !ok {
		assert.Fail(t, "the bot didn't send any message")
	}

	return msg, ok
}

// Content verifies that the next sent message's content is exactly the expected string
func (mv *MessageVerifier) Content(t *testing.T, expected string) (valid bool) {
	msg, ok := mv.next(t)
	if !ok {
		return false
	}

	return assert.Equal(t, expected, msg.Content)
}

// Contains verifies that the next sent message's content contains the expected
// substring
func (mv *MessageVerifier) Contains(t *testing.T, expected string) (valid bool) {
	msg, ok := mv.next(t)
	if !ok {
		return false
	}

	return assert.Contains(t, msg.Content, expected)
}

// InChannel verifies that the next sent message went to the named channel or, for
// direct messages, that it went to a DM channel when name is empty
func (mv *MessageVerifier) InChannel(t *testing.T, name string) (valid bool) {
	msg, ok := mv.next(t)
	if !ok {
		return false
	}

	channel, err := mv.r.backend.Channel(msg.ChannelID)
	if !assert.NoError(t, err) {
		return false
	}

	if name == "" {
		return assert.Equal(t, discordgo.ChannelTypeDM, channel.Type, "expected a direct message but the message went to [%s]", channel.Name)
	}

	return assert.Equal(t, name, channel.Name)
}

// Embed verifies that the next sent message carries an embed matching the set fields
// of expected: only non-empty fields of the expectation are compared
func (mv *MessageVerifier) Embed(t *testing.T, expected *discordgo.MessageEmbed) (valid bool) {
	msg, ok := mv.next(t)
	if !ok {
		return false
	}

	if !assert.NotEmpty(t, msg.Embeds, "the sent message has no embed") {
		return false
	}

	embed := msg.Embeds[0]
	valid = true
	if expected.Title != "" {
		valid = assert.Equal(t, expected.Title, embed.Title) && valid
	}
	if expected.Description != "" {
		valid = assert.Equal(t, expected.Description, embed.Description) && valid
	}
	if expected.URL != "" {
		valid = assert.Equal(t, expected.URL, embed.URL) && valid
	}
	if expected.Color != 0 {
		valid = assert.Equal(t, expected.Color, embed.Color) && valid
	}
	if len(expected.Fields) > 0 {
		valid = assert.Equal(t, expected.Fields, embed.Fields) && valid
	}

	return valid
}

// Attachment verifies that the next sent message carries an attachment with the given
// filename
func (mv *MessageVerifier) Attachment(t *testing.T, filename string) (valid bool) {
	msg, ok := mv.next(t)
	if !ok {
		return false
	}

	for _, a := range msg.Attachments {
		if a.Filename == filename {
			return true
		}
	}

	return assert.Fail(t, "no attachment named ["+filename+"] on the sent message")
}

// Nothing verifies that the bot didn't send anything, in other words that the sent
// queue is empty
func (mv *MessageVerifier) Nothing(t *testing.T) (valid bool) {
	if size := mv.r.queue.size(); size > 0 {
		contents := make([]string, 0, size)
		for _, m := range mv.r.queue.snapshot() {
			contents = append(contents, m.Content)
		}

		return assert.Fail(t, "expected no sent message but found "+strings.Join(contents, ", "))
	}

	return true
}

// ActivityVerifier verifies the presence the bot under test last set
type ActivityVerifier struct {
	r *Runner
}

// presence waits for any in-flight presence update to land before reading it
func (av *ActivityVerifier) presence(t *testing.T) (presence *discordgo.UpdateStatusData, ok bool) {
	if err := av.r.gateway.Flush(av.r.timeout); !assert.NoError(t, err) {
		return nil, false
	}

	return av.r.gateway.Presence(), true
}

// Matches verifies that the bot's current presence includes an activity whose set
// fields match expected. A nil expectation verifies the bot has no activity
func (av *ActivityVerifier) Matches(t *testing.T, expected *discordgo.Activity) (valid bool) {
	presence, ok := av.presence(t)
	if !ok {
		return false
	}

	if expected == nil {
		if presence == nil || len(presence.Activities) == 0 {
			return true
		}

		return assert.Fail(t, "expected no activity but the bot has one: "+presence.Activities[0].Name)
	}

	if presence == nil || len(presence.Activities) == 0 {
		return assert.Fail(t, "the bot never set an activity")
	}

	for _, activity := range presence.Activities {
		if activityMatches(expected, activity) {
			return true
		}
	}

	return assert.Fail(t, "no activity matching ["+expected.Name+"] in the bot's presence")
}

// Status verifies the bot's current status (online, idle, dnd...)
func (av *ActivityVerifier) Status(t *testing.T, expected discordgo.Status) (valid bool) {
	presence, ok := av.presence(t)
	if !ok {
		return false
	}

	if presence == nil {
		return assert.Fail(t, "the bot never set a presence")
	}

	return assert.Equal(t, string(expected), presence.Status)
}

func activityMatches(expected *discordgo.Activity, actual *discordgo.Activity) (matches bool) {
	if expected.Name != actual.Name {
		return false
	}
	if expected.Type != actual.Type {
		return false
	}
	if expected.URL != "" && expected.URL != actual.URL {
		return false
	}
	if expected.State != "" && expected.State != actual.State {
		return false
	}

	return true
}
