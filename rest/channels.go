package rest

import (
	"net/http"

	"github.com/bwmarrin/discordgo"
)

func (t *Transport) handleGetChannel(params []string, r *http.Request) (status int, body interface{}, err error) {
	channel, cerr := t.backend.Channel(params[0])
	if cerr != nil {
		return notFound(codeUnknownChannel, "Unknown Channel")
	}

	return http.StatusOK, channel, nil
}

func (t *Transport) handleDeleteChannel(params []string, r *http.Request) (status int, body interface{}, err error) {
	channel, derr := t.backend.DeleteChannel(params[0])
	if derr != nil {
		return notFound(codeUnknownChannel, "Unknown Channel")
	}

	return http.StatusOK, channel, nil
}

type createDMBody struct {
	RecipientID string `json:"recipient_id"`
}

func (t *Transport) handleCreateDM(params []string, r *http.Request) (status int, body interface{}, err error) {
	var create createDMBody
	if err = decode(r, &create); err != nil {
		return 0, nil, err
	}

	recipient, uerr := t.backend.User(create.RecipientID)
	if uerr != nil {
		return notFound(codeUnknownUser, "Unknown User")
	}

	return http.StatusOK, t.backend.MakeDMChannel(recipient), nil
}

type createChannelBody struct {
	Name     string                `json:"name"`
	Type     discordgo.ChannelType `json:"type"`
	ParentID string                `json:"parent_id"`
}

func (t *Transport) handleCreateGuildChannel(params []string, r *http.Request) (status int, body interface{}, err error) {
	var create createChannelBody
	if err = decode(r, &create); err != nil {
		return 0, nil, err
	}

	guild, gerr := t.backend.Guild(params[0])
	if gerr != nil {
		return notFound(codeUnknownGuild, "Unknown Guild")
	}

	channelType := create.Type
	if channelType == 0 {
		channelType = discordgo.ChannelTypeGuildText
	}

	return http.StatusOK, t.backend.MakeGuildChannel(guild, create.Name, channelType, create.ParentID), nil
}

func (t *Transport) handleSetPermissions(params []string, r *http.Request) (status int, body interface{}, err error) {
	var override discordgo.PermissionOverwrite
	if err = decode(r, &override); err != nil {
		return 0, nil, err
	}

	channel, cerr := t.backend.Channel(params[0])
	if cerr != nil {
		return notFound(codeUnknownChannel, "Unknown Channel")
	}

	if channel.GuildID != "" && !t.backend.Can(channel.ID, t.backend.BotUser().ID, discordgo.PermissionManageRoles) {
		return missingPermissions()
	}

	override.ID = params[1]
	if serr := t.backend.SetChannelOverride(channel.ID, &override); serr != nil {
		return notFound(codeUnknownChannel, "Unknown Channel")
	}

	return noContent()
}

func (t *Transport) handleDeletePermissions(params []string, r *http.Request) (status int, body interface{}, err error) {
	channel, cerr := t.backend.Channel(params[0])
	if cerr != nil {
		return notFound(codeUnknownChannel, "Unknown Channel")
	}

	if channel.GuildID != "" && !t.backend.Can(channel.ID, t.backend.BotUser().ID, discordgo.PermissionManageRoles) {
		return missingPermissions()
	}

	if rerr := t.backend.RemoveChannelOverride(channel.ID, params[1]); rerr != nil {
		return notFound(codeUnknownChannel, "Unknown Channel")
	}

	return noContent()
}
