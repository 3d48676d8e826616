package backend

import (
	"regexp"

	"github.com/bwmarrin/discordgo"
)

var (
	memberMention  = regexp.MustCompile(`<@!?([0-9]{17,21})>`)
	roleMention    = regexp.MustCompile(`<@&([0-9]{17,21})>`)
	channelMention = regexp.MustCompile(`<#([0-9]{17,21})>`)
)

// findUserMentions resolves the users mentioned in content against the guild's members
func findUserMentions(content string, guild *discordgo.Guild) (mentions []*discordgo.User) {
	mentions = []*discordgo.User{}
	if guild == nil {
		return mentions
	}

	for _, match := range memberMention.FindAllStringSubmatch(content, -1) {
		for _, m := range guild.Members {
			if m.User != nil && m.User.ID == match[1] {
				mentions = append(mentions, m.User)
				break
			}
		}
	}

	return mentions
}

// findRoleMentions returns the ids of the guild roles mentioned in content
func findRoleMentions(content string, guild *discordgo.Guild) (roleIDs []string) {
	roleIDs = []string{}
	if guild == nil {
		return roleIDs
	}

	for _, match := range roleMention.FindAllStringSubmatch(content, -1) {
		for _, r := range guild.Roles {
			if r.ID == match[1] {
				roleIDs = append(roleIDs, r.ID)
				break
			}
		}
	}

	return roleIDs
}

// findChannelMentions resolves the channels mentioned in content against the guild
func findChannelMentions(content string, guild *discordgo.Guild) (channels []*discordgo.Channel) {
	channels = []*discordgo.Channel{}
	if guild == nil {
		return channels
	}

	for _, match := range channelMention.FindAllStringSubmatch(content, -1) {
		for _, c := range guild.Channels {
			if c.ID == match[1] {
				channels = append(channels, c)
				break
			}
		}
	}

	return channels
}
