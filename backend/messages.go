package backend

import (
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
)

// MessageParams holds the optional attributes of a message created with MakeMessage
type MessageParams struct {
	TTS         bool
	Embeds      []*discordgo.MessageEmbed
	Attachments []*discordgo.MessageAttachment
}

// MakeMessage adds a message authored by the given user to a channel, resolving
// mentions in the content and triggering a message create on the connected client.
// The sequence number of the dispatched event is returned so callers can wait for
// the client to finish processing it
func (b *Backend) MakeMessage(content string, author *discordgo.User, channelID string, params *MessageParams) (message *discordgo.Message, seq int64, err error) {
	if params == nil {
		params = &MessageParams{}
	}

	b.mu.Lock()
	channel, err := b.channelLocked(channelID)
	if err != nil {
		b.mu.Unlock()
		return nil, 0, err
	}

	var guild *discordgo.Guild
	if channel.GuildID != "" {
		guild, _ = b.guildLocked(channel.GuildID)
	}

	embeds := params.Embeds
	if embeds == nil {
		embeds = []*discordgo.MessageEmbed{}
	}
	attachments := params.Attachments
	if attachments == nil {
		attachments = []*discordgo.MessageAttachment{}
	}

	message = &discordgo.Message{
		ID:              b.ids.Next(),
		ChannelID:       channel.ID,
		GuildID:         channel.GuildID,
		Content:         content,
		Timestamp:       time.Now().UTC(),
		Author:          author,
		TTS:             params.TTS,
		Embeds:          embeds,
		Attachments:     attachments,
		Mentions:        findUserMentions(content, guild),
		MentionRoles:    findRoleMentions(content, guild),
		MentionChannels: findChannelMentions(content, guild),
		Reactions:       []*discordgo.MessageReactions{},
		Type:            discordgo.MessageTypeDefault,
	}

	if guild != nil {
		if member, merr := b.memberLocked(guild.ID, author.ID); merr == nil {
			message.Member = member
		}
	}

	channel.LastMessageID = message.ID
	b.messages[channel.ID] = append(b.messages[channel.ID], message)
	b.msgByID.Add(message.ID, message)
	b.mu.Unlock()

	seq = b.dispatcher.Dispatch(EventMessageCreate, message)

	return message, seq, nil
}

// Message returns a message of a channel by id
func (b *Backend) Message(channelID string, messageID string) (message *discordgo.Message, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.messageLocked(channelID, messageID)
}

func (b *Backend) messageLocked(channelID string, messageID string) (message *discordgo.Message, err error) {
	if cached, ok := b.msgByID.Get(messageID); ok {
		message = cached.(*discordgo.Message)
		if message.ChannelID == channelID {
			return message, nil
		}
	}

	for _, m := range b.messages[channelID] {
		if m.ID == messageID {
			return m, nil
		}
	}

	return nil, errors.Wrapf(ErrNotFound, "message [%s] in channel [%s]", messageID, channelID)
}

// Messages returns up to limit messages of a channel around the given reference points,
// following the semantics of the channel messages endpoint: before and after are
// exclusive bounds, around centers the window on the given message, and the result is
// ordered newest first as the real endpoint returns it
func (b *Backend) Messages(channelID string, limit int, beforeID string, afterID string, aroundID string) (messages []*discordgo.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	history := b.messages[channelID]
	if limit <= 0 {
		limit = 50
	}

	indexOf := func(id string) int {
		for i, m := range history {
			if m.ID == id {
				return i
			}
		}
		return -1
	}

	start, end := 0, len(history)
	switch {
	case afterID != "":
		if i := indexOf(afterID); i >= 0 {
			start = i + 1
		}
		if start+limit < end {
			end = start + limit
		}
	case aroundID != "":
		if i := indexOf(aroundID); i >= 0 {
			start = i - limit/2
			end = i + limit/2
		}
	default:
		if beforeID != "" {
			if i := indexOf(beforeID); i >= 0 {
				end = i
			}
		}
		start = end - limit
	}

	if start < 0 {
		start = 0
	}
	if end > len(history) {
		end = len(history)
	}
	if start >= end {
		return []*discordgo.Message{}
	}

	messages = make([]*discordgo.Message, 0, end-start)
	for i := end - 1; i >= start; i-- {
		messages = append(messages, history[i])
	}

	return messages
}

// EditMessage updates the content and/or embeds of a message, triggering a message
// update on the connected client
func (b *Backend) EditMessage(channelID string, messageID string, content *string, embeds []*discordgo.MessageEmbed) (message *discordgo.Message, err error) {
	b.mu.Lock()
	message, err = b.messageLocked(channelID, messageID)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}

	if content != nil {
		message.Content = *content
	}
	if embeds != nil {
		message.Embeds = embeds
	}
	edited := time.Now().UTC()
	message.EditedTimestamp = &edited
	b.mu.Unlock()

	b.dispatcher.Dispatch(EventMessageUpdate, message)

	return message, nil
}

// DeleteMessage removes a message from a channel, triggering a message delete on the
// connected client
func (b *Backend) DeleteMessage(channelID string, messageID string) (err error) {
	b.mu.Lock()
	message, err := b.messageLocked(channelID, messageID)
	if err != nil {
		b.mu.Unlock()
		return err
	}

	history := b.messages[channelID]
	for i, m := range history {
		if m.ID == messageID {
			b.messages[channelID] = append(history[:i], history[i+1:]...)
			break
		}
	}
	b.msgByID.Remove(messageID)
	b.mu.Unlock()

	b.dispatcher.Dispatch(EventMessageDelete, map[string]interface{}{
		"id":         message.ID,
		"channel_id": message.ChannelID,
		"guild_id":   message.GuildID,
	})

	return nil
}

// PinMessage marks a message as pinned, triggering a channel pins update
func (b *Backend) PinMessage(channelID string, messageID string) (err error) {
	return b.setPinned(channelID, messageID, true)
}

// UnpinMessage removes the pinned mark of a message, triggering a channel pins update
func (b *Backend) UnpinMessage(channelID string, messageID string) (err error) {
	return b.setPinned(channelID, messageID, false)
}

func (b *Backend) setPinned(channelID string, messageID string, pinned bool) (err error) {
	b.mu.Lock()
	message, err := b.messageLocked(channelID, messageID)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	message.Pinned = pinned
	b.mu.Unlock()

	data := map[string]interface{}{"channel_id": channelID}
	if pinned {
		data["last_pin_timestamp"] = time.Now().UTC().Format(time.RFC3339)
	}
	b.dispatcher.Dispatch(EventChannelPinsUpdate, data)

	return nil
}

// PinnedMessages returns the pinned messages of a channel
func (b *Backend) PinnedMessages(channelID string) (messages []*discordgo.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	messages = []*discordgo.Message{}
	for _, m := range b.messages[channelID] {
		if m.Pinned {
			messages = append(messages, m)
		}
	}

	return messages
}
