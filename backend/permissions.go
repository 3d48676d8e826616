package backend

import (
	"github.com/bwmarrin/discordgo"
)

// dmPermissions is what a user can do in a direct message channel
const dmPermissions = discordgo.PermissionViewChannel |
	discordgo.PermissionSendMessages |
	discordgo.PermissionEmbedLinks |
	discordgo.PermissionAttachFiles |
	discordgo.PermissionReadMessageHistory |
	discordgo.PermissionAddReactions

// PermissionsFor computes the effective permissions of a user on a channel the way
// discord does server-side: guild owner and administrators get everything, otherwise
// the union of role permissions is narrowed by the channel's @everyone, role and
// member overwrites in that order
func (b *Backend) PermissionsFor(channelID string, userID string) (permissions int64, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	channel, err := b.channelLocked(channelID)
	if err != nil {
		return 0, err
	}

	if channel.GuildID == "" {
		return dmPermissions, nil
	}

	guild, err := b.guildLocked(channel.GuildID)
	if err != nil {
		return 0, err
	}

	if guild.OwnerID == userID {
		return discordgo.PermissionAll, nil
	}

	member, err := b.memberLocked(guild.ID, userID)
	if err != nil {
		return 0, err
	}

	roles := make(map[string]*discordgo.Role, len(guild.Roles))
	for _, r := range guild.Roles {
		roles[r.ID] = r
	}

	// Base permissions: @everyone (role id == guild id) plus the member's roles
	var base int64
	if everyone, ok := roles[guild.ID]; ok {
		base = everyone.Permissions
	}
	for _, roleID := range member.Roles {
		if r, ok := roles[roleID]; ok {
			base |= r.Permissions
		}
	}

	if base&discordgo.PermissionAdministrator != 0 {
		return discordgo.PermissionAll, nil
	}

	overwrites := make(map[string]*discordgo.PermissionOverwrite, len(channel.PermissionOverwrites))
	for _, o := range channel.PermissionOverwrites {
		overwrites[o.ID] = o
	}

	if o, ok := overwrites[guild.ID]; ok {
		base &^= o.Deny
		base |= o.Allow
	}

	var roleAllow, roleDeny int64
	for _, roleID := range member.Roles {
		if o, ok := overwrites[roleID]; ok {
			roleAllow |= o.Allow
			roleDeny |= o.Deny
		}
	}
	base &^= roleDeny
	base |= roleAllow

	if o, ok := overwrites[userID]; ok {
		base &^= o.Deny
		base |= o.Allow
	}

	return base, nil
}

// Can reports whether the user holds all of the wanted permissions on the channel,
// counting administrator as allowing everything
func (b *Backend) Can(channelID string, userID string, wanted int64) (allowed bool) {
	permissions, err := b.PermissionsFor(channelID, userID)
	if err != nil {
		return false
	}

	if permissions&discordgo.PermissionAdministrator != 0 {
		return true
	}

	return permissions&wanted == wanted
}
