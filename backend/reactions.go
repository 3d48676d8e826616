package backend

import (
	"strings"

	"github.com/bwmarrin/discordgo"
)

// parseEmoji turns the API form of an emoji ("name" for unicode emojis or "name:id"
// for custom ones) into an emoji value
func parseEmoji(emoji string) (parsed *discordgo.Emoji) {
	if name, id, ok := strings.Cut(emoji, ":"); ok {
		return &discordgo.Emoji{ID: id, Name: name}
	}

	return &discordgo.Emoji{Name: emoji}
}

// AddReaction adds a user's reaction to a message, triggering a reaction add on the
// connected client
func (b *Backend) AddReaction(channelID string, messageID string, userID string, emoji string) (err error) {
	parsed := parseEmoji(emoji)

	b.mu.Lock()
	message, err := b.messageLocked(channelID, messageID)
	if err != nil {
		b.mu.Unlock()
		return err
	}

	var react *discordgo.MessageReactions
	for _, r := range message.Reactions {
		if r.Emoji != nil && r.Emoji.ID == parsed.ID && r.Emoji.Name == parsed.Name {
			react = r
			break
		}
	}
	if react == nil {
		react = &discordgo.MessageReactions{Emoji: parsed}
		message.Reactions = append(message.Reactions, react)
	}

	react.Count++
	if userID == b.botUser.ID {
		react.Me = true
	}
	guildID := message.GuildID
	b.mu.Unlock()

	b.dispatcher.Dispatch(EventMessageReactionAdd, &discordgo.MessageReaction{
		UserID:    userID,
		MessageID: messageID,
		ChannelID: channelID,
		GuildID:   guildID,
		Emoji:     *parsed,
	})

	return nil
}

// RemoveReaction removes a user's reaction from a message, triggering a reaction
// remove on the connected client
func (b *Backend) RemoveReaction(channelID string, messageID string, userID string, emoji string) (err error) {
	parsed := parseEmoji(emoji)

	b.mu.Lock()
	message, err := b.messageLocked(channelID, messageID)
	if err != nil {
		b.mu.Unlock()
		return err
	}

	for i, r := range message.Reactions {
		if r.Emoji != nil && r.Emoji.ID == parsed.ID && r.Emoji.Name == parsed.Name {
			r.Count--
			if userID == b.botUser.ID {
				r.Me = false
			}
			if r.Count <= 0 {
				message.Reactions = append(message.Reactions[:i], message.Reactions[i+1:]...)
			}
			break
		}
	}
	guildID := message.GuildID
	b.mu.Unlock()

	b.dispatcher.Dispatch(EventMessageReactionRemove, &discordgo.MessageReaction{
		UserID:    userID,
		MessageID: messageID,
		ChannelID: channelID,
		GuildID:   guildID,
		Emoji:     *parsed,
	})

	return nil
}

// ClearReactions removes all reactions from a message, triggering a reaction
// remove all on the connected client
func (b *Backend) ClearReactions(channelID string, messageID string) (err error) {
	b.mu.Lock()
	message, err := b.messageLocked(channelID, messageID)
	if err != nil {
		b.mu.Unlock()
		return err
	}

	message.Reactions = []*discordgo.MessageReactions{}
	guildID := message.GuildID
	b.mu.Unlock()

	b.dispatcher.Dispatch(EventMessageReactionRemoveAll, map[string]interface{}{
		"channel_id": channelID,
		"message_id": messageID,
		"guild_id":   guildID,
	})

	return nil
}
