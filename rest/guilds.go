package rest

import (
	"net/http"

	"github.com/bwmarrin/discordgo"
)

func (t *Transport) handleGetGuild(params []string, r *http.Request) (status int, body interface{}, err error) {
	guild, gerr := t.backend.Guild(params[0])
	if gerr != nil {
		return notFound(codeUnknownGuild, "Unknown Guild")
	}

	return http.StatusOK, guild, nil
}

func (t *Transport) handleUserGuilds(params []string, r *http.Request) (status int, body interface{}, err error) {
	bot := t.backend.BotUser()

	userGuilds := make([]*discordgo.UserGuild, 0)
	for _, guild := range t.backend.Guilds() {
		if _, merr := t.backend.Member(guild.ID, bot.ID); merr != nil {
			continue
		}

		userGuilds = append(userGuilds, &discordgo.UserGuild{
			ID:    guild.ID,
			Name:  guild.Name,
			Icon:  guild.Icon,
			Owner: guild.OwnerID == bot.ID,
		})
	}

	return http.StatusOK, userGuilds, nil
}

func (t *Transport) handleGetUser(params []string, r *http.Request) (status int, body interface{}, err error) {
	user, uerr := t.backend.User(t.resolveUserID(params[0]))
	if uerr != nil {
		return notFound(codeUnknownUser, "Unknown User")
	}

	return http.StatusOK, user, nil
}

func (t *Transport) handleApplication(params []string, r *http.Request) (status int, body interface{}, err error) {
	bot := t.backend.BotUser()

	return http.StatusOK, &discordgo.Application{
		ID:          bot.ID,
		Name:        bot.Username,
		Description: "application under test",
		Owner:       bot,
	}, nil
}

func (t *Transport) handleGetMember(params []string, r *http.Request) (status int, body interface{}, err error) {
	member, merr := t.backend.Member(params[0], t.resolveUserID(params[1]))
	if merr != nil {
		return notFound(codeUnknownMember, "Unknown Member")
	}

	return http.StatusOK, member, nil
}

type memberEditBody struct {
	Nick  *string   `json:"nick"`
	Roles *[]string `json:"roles"`
}

func (t *Transport) handleEditMember(params []string, r *http.Request) (status int, body interface{}, err error) {
	var edit memberEditBody
	if err = decode(r, &edit); err != nil {
		return 0, nil, err
	}

	member, merr := t.backend.UpdateMember(params[0], t.resolveUserID(params[1]), edit.Nick, edit.Roles)
	if merr != nil {
		return notFound(codeUnknownMember, "Unknown Member")
	}

	return http.StatusOK, member, nil
}

type nickBody struct {
	Nick string `json:"nick"`
}

func (t *Transport) handleEditOwnNick(params []string, r *http.Request) (status int, body interface{}, err error) {
	var edit nickBody
	if err = decode(r, &edit); err != nil {
		return 0, nil, err
	}

	member, merr := t.backend.UpdateMember(params[0], t.backend.BotUser().ID, &edit.Nick, nil)
	if merr != nil {
		return notFound(codeUnknownMember, "Unknown Member")
	}

	return http.StatusOK, member, nil
}

func (t *Transport) handleKickMember(params []string, r *http.Request) (status int, body interface{}, err error) {
	if kerr := t.backend.RemoveMember(params[0], params[1]); kerr != nil {
		return notFound(codeUnknownMember, "Unknown Member")
	}

	return noContent()
}

func (t *Transport) handleBanMember(params []string, r *http.Request) (status int, body interface{}, err error) {
	if berr := t.backend.BanMember(params[0], params[1]); berr != nil {
		return notFound(codeUnknownMember, "Unknown Member")
	}

	return noContent()
}

func (t *Transport) handleAddMemberRole(params []string, r *http.Request) (status int, body interface{}, err error) {
	if aerr := t.backend.AddMemberRole(params[0], t.resolveUserID(params[1]), params[2]); aerr != nil {
		return notFound(codeUnknownMember, "Unknown Member")
	}

	return noContent()
}

func (t *Transport) handleRemoveMemberRole(params []string, r *http.Request) (status int, body interface{}, err error) {
	if rerr := t.backend.RemoveMemberRole(params[0], t.resolveUserID(params[1]), params[2]); rerr != nil {
		return notFound(codeUnknownMember, "Unknown Member")
	}

	return noContent()
}

func (t *Transport) handleCreateRole(params []string, r *http.Request) (status int, body interface{}, err error) {
	var create discordgo.RoleParams
	if err = decode(r, &create); err != nil {
		return 0, nil, err
	}

	guild, gerr := t.backend.Guild(params[0])
	if gerr != nil {
		return notFound(codeUnknownGuild, "Unknown Guild")
	}

	name := create.Name
	if name == "" {
		name = "new role"
	}

	var permissions int64
	if create.Permissions != nil {
		permissions = *create.Permissions
	}

	var color int
	if create.Color != nil {
		color = *create.Color
	}

	role := t.backend.MakeRole(guild, name, permissions, color, create.Hoist != nil && *create.Hoist, create.Mentionable != nil && *create.Mentionable)

	return http.StatusOK, role, nil
}

func (t *Transport) handleEditRole(params []string, r *http.Request) (status int, body interface{}, err error) {
	var edit discordgo.RoleParams
	if err = decode(r, &edit); err != nil {
		return 0, nil, err
	}

	role, uerr := t.backend.UpdateRole(params[0], params[1], &edit)
	if uerr != nil {
		return notFound(codeUnknownRole, "Unknown Role")
	}

	return http.StatusOK, role, nil
}

func (t *Transport) handleDeleteRole(params []string, r *http.Request) (status int, body interface{}, err error) {
	if derr := t.backend.DeleteRole(params[0], params[1]); derr != nil {
		return notFound(codeUnknownRole, "Unknown Role")
	}

	return noContent()
}

type rolePosition struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

func (t *Transport) handleMoveRoles(params []string, r *http.Request) (status int, body interface{}, err error) {
	var positions []rolePosition
	if err = decode(r, &positions); err != nil {
		return 0, nil, err
	}

	for _, position := range positions {
		if merr := t.backend.MoveRole(params[0], position.ID, position.Position); merr != nil {
			return notFound(codeUnknownRole, "Unknown Role")
		}
	}

	guild, gerr := t.backend.Guild(params[0])
	if gerr != nil {
		return notFound(codeUnknownGuild, "Unknown Guild")
	}

	return http.StatusOK, guild.Roles, nil
}
