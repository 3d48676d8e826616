// Package backend holds the simulated server-side state used during testing. All state
// mutations go through methods that update the fake server data and then deliver the
// matching gateway event to the bot under test. This setup matches discord's actual
// setup, where an HTTP call triggers a change on the server, which is then sent back
// to the bot as an event which is parsed and dispatched
package backend

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// Gateway event types delivered by backend mutations
const (
	EventGuildCreate              = "GUILD_CREATE"
	EventGuildUpdate              = "GUILD_UPDATE"
	EventGuildRoleCreate          = "GUILD_ROLE_CREATE"
	EventGuildRoleUpdate          = "GUILD_ROLE_UPDATE"
	EventGuildRoleDelete          = "GUILD_ROLE_DELETE"
	EventGuildMemberAdd           = "GUILD_MEMBER_ADD"
	EventGuildMemberUpdate        = "GUILD_MEMBER_UPDATE"
	EventGuildMemberRemove        = "GUILD_MEMBER_REMOVE"
	EventGuildBanAdd              = "GUILD_BAN_ADD"
	EventChannelCreate            = "CHANNEL_CREATE"
	EventChannelUpdate            = "CHANNEL_UPDATE"
	EventChannelDelete            = "CHANNEL_DELETE"
	EventChannelPinsUpdate        = "CHANNEL_PINS_UPDATE"
	EventMessageCreate            = "MESSAGE_CREATE"
	EventMessageUpdate            = "MESSAGE_UPDATE"
	EventMessageDelete            = "MESSAGE_DELETE"
	EventMessageReactionAdd       = "MESSAGE_REACTION_ADD"
	EventMessageReactionRemove    = "MESSAGE_REACTION_REMOVE"
	EventMessageReactionRemoveAll = "MESSAGE_REACTION_REMOVE_ALL"
	EventTypingStart              = "TYPING_START"
)

// defaultRolePermissions is the permission value discord gives the @everyone role
// of a newly created guild
const defaultRolePermissions int64 = 104324161

// ErrNotFound is returned when an entity isn't part of the backend state
var ErrNotFound = errors.New("entity not found in testcord backend")

type attachmentBlob struct {
	filename string
	data     []byte
}

// Backend is the simulated discord server. It owns every entity the bot under test can
// observe and delivers state changes as gateway events via its Dispatcher
type Backend struct {
	mu         sync.RWMutex
	dispatcher Dispatcher
	ids        snowflakes

	botUser     *discordgo.User
	users       map[string]*discordgo.User
	guilds      []*discordgo.Guild
	channels    map[string]*discordgo.Channel
	messages    map[string][]*discordgo.Message
	msgByID     *lru.ARCCache
	attachments map[string]attachmentBlob
	cdnBase     string
}

// New creates a backend with a bot user of the given name. The cacheSize bounds the
// number of messages retrievable by id
func New(botName string, cacheSize int, dispatcher Dispatcher) (b *Backend, err error) {
	msgByID, err := lru.NewARC(cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create message cache")
	}

	b = &Backend{
		dispatcher:  dispatcher,
		users:       make(map[string]*discordgo.User),
		channels:    make(map[string]*discordgo.Channel),
		messages:    make(map[string][]*discordgo.Message),
		msgByID:     msgByID,
		attachments: make(map[string]attachmentBlob),
	}

	b.botUser = b.MakeUser(botName, "0000")
	b.botUser.Bot = true

	return b, nil
}

// SetCDNBase sets the base URL under which attachment content is served
func (b *Backend) SetCDNBase(baseURL string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cdnBase = strings.TrimSuffix(baseURL, "/")
}

// BotUser returns the user the bot under test is connected as
func (b *Backend) BotUser() *discordgo.User {
	return b.botUser
}

// MakeUser adds a new user to the backend
func (b *Backend) MakeUser(username string, discriminator string) (user *discordgo.User) {
	user = &discordgo.User{
		ID:            b.ids.Next(),
		Username:      username,
		Discriminator: discriminator,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.users[user.ID] = user

	return user
}

// User returns the user with the given id
func (b *Backend) User(userID string) (user *discordgo.User, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	user, ok := b.users[userID]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "user [%s]", userID)
	}

	return user, nil
}

// MakeGuild adds a new guild to the backend, triggering a guild create on the
// connected client. The guild starts out with only its @everyone role; channels and
// members are added with MakeTextChannel and MakeMember
func (b *Backend) MakeGuild(name string) (guild *discordgo.Guild) {
	id := b.ids.Next()

	everyone := &discordgo.Role{
		ID:          id,
		Name:        "@everyone",
		Permissions: defaultRolePermissions,
		Position:    0,
	}

	guild = &discordgo.Guild{
		ID:       id,
		Name:     name,
		Roles:    []*discordgo.Role{everyone},
		Channels: []*discordgo.Channel{},
		Members:  []*discordgo.Member{},
	}

	b.mu.Lock()
	b.guilds = append(b.guilds, guild)
	b.mu.Unlock()

	b.dispatcher.Dispatch(EventGuildCreate, guild)

	return guild
}

// Guild returns the guild with the given id
func (b *Backend) Guild(guildID string) (guild *discordgo.Guild, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.guildLocked(guildID)
}

func (b *Backend) guildLocked(guildID string) (guild *discordgo.Guild, err error) {
	for _, g := range b.guilds {
		if g.ID == guildID {
			return g, nil
		}
	}

	return nil, errors.Wrapf(ErrNotFound, "guild [%s]", guildID)
}

// Guilds returns all guilds known to the backend
func (b *Backend) Guilds() (guilds []*discordgo.Guild) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return append([]*discordgo.Guild{}, b.guilds...)
}

// MakeTextChannel adds a new text channel to a guild, triggering a channel create
// on the connected client
func (b *Backend) MakeTextChannel(guild *discordgo.Guild, name string) (channel *discordgo.Channel) {
	return b.makeGuildChannel(guild, name, discordgo.ChannelTypeGuildText, "")
}

// MakeCategoryChannel adds a new category channel to a guild
func (b *Backend) MakeCategoryChannel(guild *discordgo.Guild, name string) (channel *discordgo.Channel) {
	return b.makeGuildChannel(guild, name, discordgo.ChannelTypeGuildCategory, "")
}

// MakeGuildChannel adds a channel of the given type to a guild, optionally parented
// to a category channel
func (b *Backend) MakeGuildChannel(guild *discordgo.Guild, name string, channelType discordgo.ChannelType, parentID string) (channel *discordgo.Channel) {
	return b.makeGuildChannel(guild, name, channelType, parentID)
}

func (b *Backend) makeGuildChannel(guild *discordgo.Guild, name string, channelType discordgo.ChannelType, parentID string) (channel *discordgo.Channel) {
	b.mu.Lock()

	channel = &discordgo.Channel{
		ID:                   b.ids.Next(),
		GuildID:              guild.ID,
		Name:                 name,
		Type:                 channelType,
		Position:             len(guild.Channels) + 1,
		ParentID:             parentID,
		PermissionOverwrites: []*discordgo.PermissionOverwrite{},
	}

	guild.Channels = append(guild.Channels, channel)
	b.channels[channel.ID] = channel
	b.mu.Unlock()

	b.dispatcher.Dispatch(EventChannelCreate, channel)

	return channel
}

// MakeDMChannel creates a direct message channel with the given user
func (b *Backend) MakeDMChannel(user *discordgo.User) (channel *discordgo.Channel) {
	b.mu.Lock()

	for _, c := range b.channels {
		if c.Type == discordgo.ChannelTypeDM && len(c.Recipients) == 1 && c.Recipients[0].ID == user.ID {
			b.mu.Unlock()
			return c
		}
	}

	channel = &discordgo.Channel{
		ID:         b.ids.Next(),
		Type:       discordgo.ChannelTypeDM,
		Recipients: []*discordgo.User{user},
	}
	b.channels[channel.ID] = channel
	b.mu.Unlock()

	b.dispatcher.Dispatch(EventChannelCreate, channel)

	return channel
}

// Channel returns the channel with the given id
func (b *Backend) Channel(channelID string) (channel *discordgo.Channel, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.channelLocked(channelID)
}

func (b *Backend) channelLocked(channelID string) (channel *discordgo.Channel, err error) {
	channel, ok := b.channels[channelID]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "channel [%s]", channelID)
	}

	return channel, nil
}

// DeleteChannel removes a channel, triggering a channel delete on the connected client.
// Deleting a category channel also deletes the channels parented to it
func (b *Backend) DeleteChannel(channelID string) (channel *discordgo.Channel, err error) {
	b.mu.Lock()
	channel, err = b.channelLocked(channelID)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}

	deleted := []*discordgo.Channel{channel}
	if channel.Type == discordgo.ChannelTypeGuildCategory {
		for _, c := range b.channels {
			if c.ParentID == channel.ID {
				deleted = append(deleted, c)
			}
		}
	}

	for _, c := range deleted {
		delete(b.channels, c.ID)
		delete(b.messages, c.ID)

		if g, gerr := b.guildLocked(c.GuildID); gerr == nil {
			for i, gc := range g.Channels {
				if gc.ID == c.ID {
					g.Channels = append(g.Channels[:i], g.Channels[i+1:]...)
					break
				}
			}
		}
	}
	b.mu.Unlock()

	for _, c := range deleted {
		b.dispatcher.Dispatch(EventChannelDelete, c)
	}

	return channel, nil
}

// SetChannelOverride adds or replaces a permission overwrite on a channel, triggering
// a channel update on the connected client
func (b *Backend) SetChannelOverride(channelID string, override *discordgo.PermissionOverwrite) (err error) {
	b.mu.Lock()
	channel, err := b.channelLocked(channelID)
	if err != nil {
		b.mu.Unlock()
		return err
	}

	replaced := false
	for i, o := range channel.PermissionOverwrites {
		if o.ID == override.ID {
			channel.PermissionOverwrites[i] = override
			replaced = true
			break
		}
	}
	if !replaced {
		channel.PermissionOverwrites = append(channel.PermissionOverwrites, override)
	}
	b.mu.Unlock()

	b.dispatcher.Dispatch(EventChannelUpdate, channel)

	return nil
}

// RemoveChannelOverride removes the permission overwrite of a target on a channel
func (b *Backend) RemoveChannelOverride(channelID string, targetID string) (err error) {
	b.mu.Lock()
	channel, err := b.channelLocked(channelID)
	if err != nil {
		b.mu.Unlock()
		return err
	}

	for i, o := range channel.PermissionOverwrites {
		if o.ID == targetID {
			channel.PermissionOverwrites = append(channel.PermissionOverwrites[:i], channel.PermissionOverwrites[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	b.dispatcher.Dispatch(EventChannelUpdate, channel)

	return nil
}

// MakeRole adds a new role to a guild, triggering a role create on the connected client
func (b *Backend) MakeRole(guild *discordgo.Guild, name string, permissions int64, color int, hoist bool, mentionable bool) (role *discordgo.Role) {
	role = &discordgo.Role{
		ID:          b.ids.Next(),
		Name:        name,
		Permissions: permissions,
		Color:       color,
		Hoist:       hoist,
		Mentionable: mentionable,
		Position:    1,
	}

	b.mu.Lock()
	guild.Roles = append(guild.Roles, role)
	b.mu.Unlock()

	b.dispatcher.Dispatch(EventGuildRoleCreate, &discordgo.GuildRole{GuildID: guild.ID, Role: role})

	return role
}

// Role returns a role of a guild
func (b *Backend) Role(guildID string, roleID string) (role *discordgo.Role, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	guild, err := b.guildLocked(guildID)
	if err != nil {
		return nil, err
	}

	for _, r := range guild.Roles {
		if r.ID == roleID {
			return r, nil
		}
	}

	return nil, errors.Wrapf(ErrNotFound, "role [%s]", roleID)
}

// UpdateRole applies non-nil fields of params to a role, triggering a role update
// on the connected client
func (b *Backend) UpdateRole(guildID string, roleID string, params *discordgo.RoleParams) (role *discordgo.Role, err error) {
	role, err = b.Role(guildID, roleID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if params.Name != "" {
		role.Name = params.Name
	}
	if params.Color != nil {
		role.Color = *params.Color
	}
	if params.Permissions != nil {
		role.Permissions = *params.Permissions
	}
	if params.Hoist != nil {
		role.Hoist = *params.Hoist
	}
	if params.Mentionable != nil {
		role.Mentionable = *params.Mentionable
	}
	b.mu.Unlock()

	b.dispatcher.Dispatch(EventGuildRoleUpdate, &discordgo.GuildRole{GuildID: guildID, Role: role})

	return role, nil
}

// DeleteRole removes a role from a guild and from every member holding it
func (b *Backend) DeleteRole(guildID string, roleID string) (err error) {
	b.mu.Lock()
	guild, err := b.guildLocked(guildID)
	if err != nil {
		b.mu.Unlock()
		return err
	}

	for i, r := range guild.Roles {
		if r.ID == roleID {
			guild.Roles = append(guild.Roles[:i], guild.Roles[i+1:]...)
			break
		}
	}

	for _, m := range guild.Members {
		for i, r := range m.Roles {
			if r == roleID {
				m.Roles = append(m.Roles[:i], m.Roles[i+1:]...)
				break
			}
		}
	}
	b.mu.Unlock()

	b.dispatcher.Dispatch(EventGuildRoleDelete, &discordgo.GuildRoleDelete{RoleID: roleID, GuildID: guildID})

	return nil
}

// MoveRole updates the position of a role within its guild
func (b *Backend) MoveRole(guildID string, roleID string, position int) (err error) {
	role, err := b.Role(guildID, roleID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	role.Position = position
	b.mu.Unlock()

	b.dispatcher.Dispatch(EventGuildRoleUpdate, &discordgo.GuildRole{GuildID: guildID, Role: role})

	return nil
}

// MakeMember adds a user to a guild, triggering a member add on the connected client
func (b *Backend) MakeMember(user *discordgo.User, guild *discordgo.Guild, nick string, roleIDs []string) (member *discordgo.Member) {
	if roleIDs == nil {
		roleIDs = []string{}
	}

	member = &discordgo.Member{
		GuildID:  guild.ID,
		User:     user,
		Nick:     nick,
		Roles:    roleIDs,
		JoinedAt: time.Now().UTC(),
	}

	b.mu.Lock()
	guild.Members = append(guild.Members, member)
	guild.MemberCount = len(guild.Members)
	b.mu.Unlock()

	b.dispatcher.Dispatch(EventGuildMemberAdd, member)

	return member
}

// Member returns the member of a guild with the given user id
func (b *Backend) Member(guildID string, userID string) (member *discordgo.Member, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.memberLocked(guildID, userID)
}

func (b *Backend) memberLocked(guildID string, userID string) (member *discordgo.Member, err error) {
	guild, err := b.guildLocked(guildID)
	if err != nil {
		return nil, err
	}

	for _, m := range guild.Members {
		if m.User != nil && m.User.ID == userID {
			return m, nil
		}
	}

	return nil, errors.Wrapf(ErrNotFound, "member [%s] of guild [%s]", userID, guildID)
}

// UpdateMember applies a nickname and/or role list change to a member, triggering a
// member update on the connected client. Nil fields are left untouched
func (b *Backend) UpdateMember(guildID string, userID string, nick *string, roleIDs *[]string) (member *discordgo.Member, err error) {
	b.mu.Lock()
	member, err = b.memberLocked(guildID, userID)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}

	if nick != nil {
		member.Nick = *nick
	}
	if roleIDs != nil {
		member.Roles = *roleIDs
	}
	b.mu.Unlock()

	b.dispatcher.Dispatch(EventGuildMemberUpdate, member)

	return member, nil
}

// AddMemberRole adds a role to a member, triggering a member update
func (b *Backend) AddMemberRole(guildID string, userID string, roleID string) (err error) {
	member, err := b.Member(guildID, userID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	hasRole := false
	for _, r := range member.Roles {
		if r == roleID {
			hasRole = true
			break
		}
	}
	if !hasRole {
		member.Roles = append(member.Roles, roleID)
	}
	b.mu.Unlock()

	b.dispatcher.Dispatch(EventGuildMemberUpdate, member)

	return nil
}

// RemoveMemberRole removes a role from a member, triggering a member update
func (b *Backend) RemoveMemberRole(guildID string, userID string, roleID string) (err error) {
	member, err := b.Member(guildID, userID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	for i, r := range member.Roles {
		if r == roleID {
			member.Roles = append(member.Roles[:i], member.Roles[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	b.dispatcher.Dispatch(EventGuildMemberUpdate, member)

	return nil
}

// RemoveMember removes a member from a guild (a kick from the bot's point of view),
// triggering a member remove on the connected client
func (b *Backend) RemoveMember(guildID string, userID string) (err error) {
	member, err := b.removeMemberState(guildID, userID)
	if err != nil {
		return err
	}

	b.dispatcher.Dispatch(EventGuildMemberRemove, map[string]interface{}{"guild_id": guildID, "user": member.User})

	return nil
}

// BanMember removes a member from a guild with a ban event preceding the member remove
func (b *Backend) BanMember(guildID string, userID string) (err error) {
	member, err := b.removeMemberState(guildID, userID)
	if err != nil {
		return err
	}

	b.dispatcher.Dispatch(EventGuildBanAdd, map[string]interface{}{"guild_id": guildID, "user": member.User})
	b.dispatcher.Dispatch(EventGuildMemberRemove, map[string]interface{}{"guild_id": guildID, "user": member.User})

	return nil
}

func (b *Backend) removeMemberState(guildID string, userID string) (member *discordgo.Member, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	guild, err := b.guildLocked(guildID)
	if err != nil {
		return nil, err
	}

	for i, m := range guild.Members {
		if m.User != nil && m.User.ID == userID {
			guild.Members = append(guild.Members[:i], guild.Members[i+1:]...)
			guild.MemberCount = len(guild.Members)
			return m, nil
		}
	}

	return nil, errors.Wrapf(ErrNotFound, "member [%s] of guild [%s]", userID, guildID)
}

// Typing triggers a typing start event for the given user on a channel
func (b *Backend) Typing(channelID string, userID string) {
	b.dispatcher.Dispatch(EventTypingStart, map[string]interface{}{
		"channel_id": channelID,
		"user_id":    userID,
		"timestamp":  time.Now().Unix(),
	})
}

// MakeAttachment registers attachment content with the backend and returns the
// attachment served from the fake CDN
func (b *Backend) MakeAttachment(filename string, data []byte) (attachment *discordgo.MessageAttachment) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.ids.Next()
	b.attachments[id] = attachmentBlob{filename: filename, data: data}

	url := fmt.Sprintf("%s/attachments/%s/%s", b.cdnBase, id, filename)
	return &discordgo.MessageAttachment{
		ID:       id,
		Filename: filename,
		Size:     len(data),
		URL:      url,
		ProxyURL: url,
	}
}

// Attachment returns the stored content of an attachment
func (b *Backend) Attachment(attachmentID string) (filename string, data []byte, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	blob, ok := b.attachments[attachmentID]
	if !ok {
		return "", nil, errors.Wrapf(ErrNotFound, "attachment [%s]", attachmentID)
	}

	return blob.filename, blob.data, nil
}
