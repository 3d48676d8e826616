package testcord

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/alexandre-normand/testcord/backend"
	"github.com/alexandre-normand/testcord/transcript"
	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
)

// messageParams holds the resolved attributes of an injected message
type messageParams struct {
	channelName string
	authorName  string
	author      *discordgo.User
	dm          bool
	tts         bool
	embeds      []*discordgo.MessageEmbed
	files       []injectedFile
}

type injectedFile struct {
	filename string
	data     []byte
}

// MessageOption defines an option for an injected message
type MessageOption func(p *messageParams)

// InChannel makes the message arrive in the named text channel instead of the first
// configured one
func InChannel(name string) MessageOption {
	return func(p *messageParams) {
		p.channelName = name
	}
}

// FromMember makes the message authored by the named seeded member instead of member-0
func FromMember(username string) MessageOption {
	return func(p *messageParams) {
		p.authorName = username
	}
}

// FromUser makes the message authored by the given user, which doesn't have to be a
// guild member
func FromUser(user *discordgo.User) MessageOption {
	return func(p *messageParams) {
		p.author = user
	}
}

// AsDirectMessage makes the message arrive in a direct message channel between the
// author and the bot rather than in a guild channel
func AsDirectMessage() MessageOption {
	return func(p *messageParams) {
		p.dm = true
	}
}

// WithTTS marks the message as text-to-speech
func WithTTS() MessageOption {
	return func(p *messageParams) {
		p.tts = true
	}
}

// WithEmbed attaches an embed to the message
func WithEmbed(embed *discordgo.MessageEmbed) MessageOption {
	return func(p *messageParams) {
		p.embeds = append(p.embeds, embed)
	}
}

// WithAttachment attaches a file to the message. The content becomes retrievable at
// the attachment's URL
func WithAttachment(filename string, data []byte) MessageOption {
	return func(p *messageParams) {
		p.files = append(p.files, injectedFile{filename: filename, data: data})
	}
}

// SendMessage injects a message as if a human member had typed it and blocks until the
// bot under test has finished processing it. By the time it returns, anything the
// bot sent in response has been captured in the sent queue
func (r *Runner) SendMessage(content string, options ...MessageOption) (msg *discordgo.Message, err error) {
	p := &messageParams{channelName: firstChannelName(r), authorName: "member-0"}
	for _, option := range options {
		option(p)
	}

	author := p.author
	if author == nil {
		member, merr := r.Member(p.authorName)
		if merr != nil {
			return nil, merr
		}
		author = member.User
	}

	var channelID string
	if p.dm {
		channelID = r.backend.MakeDMChannel(author).ID
	} else {
		channel, cerr := r.Channel(p.channelName)
		if cerr != nil {
			return nil, cerr
		}
		channelID = channel.ID
	}

	var attachments []*discordgo.MessageAttachment
	for _, f := range p.files {
		attachments = append(attachments, r.backend.MakeAttachment(f.filename, f.data))
	}

	r.record(transcript.Entry{
		Seq:       atomic.AddInt64(&r.transcriptSeq, 1),
		Direction: transcript.DirectionReceived,
		ChannelID: channelID,
		AuthorID:  author.ID,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})

	msg, seq, err := r.backend.MakeMessage(content, author, channelID, &backend.MessageParams{
		TTS:         p.tts,
		Embeds:      p.embeds,
		Attachments: attachments,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to inject message")
	}

	ctx := context.Background()
	r.ins.coreMetrics.msgsInjected.Add(ctx, 1)

	d := measure(func() {
		err = r.waitFor(seq)
	})
	r.ins.coreMetrics.processingTimeMillis.Record(ctx, d.Milliseconds())

	return msg, err
}

// EditMessage changes the content of a previously injected message and blocks until
// the bot has processed the resulting message update
func (r *Runner) EditMessage(msg *discordgo.Message, content string) (edited *discordgo.Message, err error) {
	edited, err = r.backend.EditMessage(msg.ChannelID, msg.ID, &content, nil)
	if err != nil {
		return nil, err
	}

	return edited, r.sync()
}

// DeleteMessage removes a previously injected message and blocks until the bot has
// processed the resulting message delete
func (r *Runner) DeleteMessage(msg *discordgo.Message) (err error) {
	if err = r.backend.DeleteMessage(msg.ChannelID, msg.ID); err != nil {
		return err
	}

	return r.sync()
}

// AddReaction adds a member's reaction to a message and blocks until the bot has
// processed the resulting reaction add
func (r *Runner) AddReaction(msg *discordgo.Message, username string, emoji string) (err error) {
	member, err := r.Member(username)
	if err != nil {
		return err
	}

	if err = r.backend.AddReaction(msg.ChannelID, msg.ID, member.User.ID, emoji); err != nil {
		return err
	}

	return r.sync()
}

// RemoveReaction removes a member's reaction from a message and blocks until the bot
// has processed the resulting reaction remove
func (r *Runner) RemoveReaction(msg *discordgo.Message, username string, emoji string) (err error) {
	member, err := r.Member(username)
	if err != nil {
		return err
	}

	if err = r.backend.RemoveReaction(msg.ChannelID, msg.ID, member.User.ID, emoji); err != nil {
		return err
	}

	return r.sync()
}

// SetPermissionOverride applies a permission overwrite on the named channel, which is
// how tests take permissions away from the bot to exercise its handling of forbidden
// API calls
func (r *Runner) SetPermissionOverride(channelName string, override *discordgo.PermissionOverwrite) (err error) {
	channel, err := r.Channel(channelName)
	if err != nil {
		return err
	}

	if err = r.backend.SetChannelOverride(channel.ID, override); err != nil {
		return err
	}

	return r.sync()
}

// RevokeBotPermissions denies the given permissions to the bot on the named channel
func (r *Runner) RevokeBotPermissions(channelName string, denied int64) (err error) {
	return r.SetPermissionOverride(channelName, &discordgo.PermissionOverwrite{
		ID:   r.backend.BotUser().ID,
		Type: discordgo.PermissionOverwriteTypeMember,
		Deny: denied,
	})
}

func firstChannelName(r *Runner) (name string) {
	for _, c := range r.guild.Channels {
		if c.Type == discordgo.ChannelTypeGuildText {
			return c.Name
		}
	}

	return ""
}
