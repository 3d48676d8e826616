package rest

import (
	"net/http"
	"testing"

	"github.com/alexandre-normand/testcord/backend"
	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	events []string
	seq    int64
}

func (d *recordingDispatcher) Dispatch(eventType string, data interface{}) (seq int64) {
	d.events = append(d.events, eventType)
	d.seq++
	return d.seq
}

type queueObserver struct {
	sent []*discordgo.Message
}

func (o *queueObserver) MessageSent(msg *discordgo.Message) {
	o.sent = append(o.sent, msg)
}

// fixture wires a backend with one guild and one channel to a discordgo session whose
// http client goes through the fake transport, so every request below exercises the
// exact paths and bodies discordgo produces
type fixture struct {
	backend  *backend.Backend
	session  *discordgo.Session
	observer *queueObserver
	guild    *discordgo.Guild
	channel  *discordgo.Channel
	member   *discordgo.User
}

func newFixture(t *testing.T, opts ...Option) (f *fixture) {
	f = &fixture{observer: &queueObserver{}}

	b, err := backend.New("TestBot", 128, &recordingDispatcher{})
	require.NoError(t, err)
	f.backend = b

	f.guild = b.MakeGuild("Test Guild")
	f.channel = b.MakeTextChannel(f.guild, "general")
	b.MakeMember(b.BotUser(), f.guild, "", nil)

	f.member = b.MakeUser("alice", "0001")
	b.MakeMember(f.member, f.guild, "", nil)

	opts = append([]Option{WithObserver(f.observer)}, opts...)
	transport := New(b, "ws://gateway.invalid", opts...)

	session, err := discordgo.New("Bot testcord")
	require.NoError(t, err)
	session.Client = &http.Client{Transport: transport}
	f.session = session

	return f
}

func TestGatewayEndpointReturnsFakeURL(t *testing.T) {
	f := newFixture(t)

	url, err := f.session.Gateway()
	require.NoError(t, err)
	// discordgo normalizes the gateway URL with a trailing slash
	assert.Equal(t, "ws://gateway.invalid/", url)
}

func TestSendMessageCreatesAndObserves(t *testing.T) {
	f := newFixture(t)

	msg, err := f.session.ChannelMessageSend(f.channel.ID, "hello there")
	require.NoError(t, err)

	assert.Equal(t, "hello there", msg.Content)
	assert.Equal(t, f.backend.BotUser().ID, msg.Author.ID)
	assert.Equal(t, f.channel.ID, msg.ChannelID)

	require.Len(t, f.observer.sent, 1)
	assert.Equal(t, msg.ID, f.observer.sent[0].ID)
}

func TestSendMessageWithoutPermissionIsForbidden(t *testing.T) {
	f := newFixture(t)

	deny := &discordgo.PermissionOverwrite{
		ID:   f.guild.ID,
		Type: discordgo.PermissionOverwriteTypeRole,
		Deny: discordgo.PermissionSendMessages,
	}
	require.NoError(t, f.backend.SetChannelOverride(f.channel.ID, deny))

	_, err := f.session.ChannelMessageSend(f.channel.ID, "should fail")
	require.Error(t, err)

	var restErr *discordgo.RESTError
	require.True(t, errors.As(err, &restErr))
	assert.Equal(t, http.StatusForbidden, restErr.Response.StatusCode)
	assert.Empty(t, f.observer.sent)
}

func TestEditAndDeleteMessage(t *testing.T) {
	f := newFixture(t)

	msg, err := f.session.ChannelMessageSend(f.channel.ID, "first draft")
	require.NoError(t, err)

	edited, err := f.session.ChannelMessageEdit(f.channel.ID, msg.ID, "final version")
	require.NoError(t, err)
	assert.Equal(t, "final version", edited.Content)
	assert.NotNil(t, edited.EditedTimestamp)

	require.NoError(t, f.session.ChannelMessageDelete(f.channel.ID, msg.ID))

	_, err = f.session.ChannelMessage(f.channel.ID, msg.ID)
	require.Error(t, err)
}

func TestMessageHistoryWindows(t *testing.T) {
	f := newFixture(t)

	var ids []string
	for _, content := range []string{"one", "two", "three"} {
		msg, _, err := f.backend.MakeMessage(content, f.member, f.channel.ID, &backend.MessageParams{})
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	history, err := f.session.ChannelMessages(f.channel.ID, 10, "", "", "")
	require.NoError(t, err)
	require.Len(t, history, 3)
	// history comes back newest first
	assert.Equal(t, "three", history[0].Content)

	before, err := f.session.ChannelMessages(f.channel.ID, 10, ids[2], "", "")
	require.NoError(t, err)
	require.Len(t, before, 2)
	assert.Equal(t, "two", before[0].Content)

	after, err := f.session.ChannelMessages(f.channel.ID, 10, "", ids[0], "")
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, "three", after[0].Content)
}

func TestReactionsRoundTrip(t *testing.T) {
	f := newFixture(t)

	msg, _, err := f.backend.MakeMessage("react to me", f.member, f.channel.ID, &backend.MessageParams{})
	require.NoError(t, err)

	require.NoError(t, f.session.MessageReactionAdd(f.channel.ID, msg.ID, "👍"))

	stored, err := f.backend.Message(f.channel.ID, msg.ID)
	require.NoError(t, err)
	require.Len(t, stored.Reactions, 1)
	assert.Equal(t, "👍", stored.Reactions[0].Emoji.Name)
	assert.True(t, stored.Reactions[0].Me)

	require.NoError(t, f.session.MessageReactionRemove(f.channel.ID, msg.ID, "👍", "@me"))

	stored, err = f.backend.Message(f.channel.ID, msg.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Reactions)
}

func TestPinsRoundTrip(t *testing.T) {
	f := newFixture(t)

	msg, _, err := f.backend.MakeMessage("pin me", f.member, f.channel.ID, &backend.MessageParams{})
	require.NoError(t, err)

	require.NoError(t, f.session.ChannelMessagePin(f.channel.ID, msg.ID))

	pinned, err := f.session.ChannelMessagesPinned(f.channel.ID)
	require.NoError(t, err)
	require.Len(t, pinned, 1)
	assert.Equal(t, msg.ID, pinned[0].ID)

	require.NoError(t, f.session.ChannelMessageUnpin(f.channel.ID, msg.ID))

	pinned, err = f.session.ChannelMessagesPinned(f.channel.ID)
	require.NoError(t, err)
	assert.Empty(t, pinned)
}

func TestCreateDMChannel(t *testing.T) {
	f := newFixture(t)

	dm, err := f.session.UserChannelCreate(f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, discordgo.ChannelTypeDM, dm.Type)

	// creating it again reuses the same channel
	again, err := f.session.UserChannelCreate(f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, dm.ID, again.ID)
}

func TestPermissionOverrideRequiresManageRoles(t *testing.T) {
	f := newFixture(t)

	deny := &discordgo.PermissionOverwrite{
		ID:   f.guild.ID,
		Type: discordgo.PermissionOverwriteTypeRole,
		Deny: discordgo.PermissionManageRoles,
	}
	require.NoError(t, f.backend.SetChannelOverride(f.channel.ID, deny))

	err := f.session.ChannelPermissionSet(f.channel.ID, f.member.ID, discordgo.PermissionOverwriteTypeMember, discordgo.PermissionSendMessages, 0)
	require.Error(t, err)

	var restErr *discordgo.RESTError
	require.True(t, errors.As(err, &restErr))
	assert.Equal(t, http.StatusForbidden, restErr.Response.StatusCode)
}

func TestRoleLifecycle(t *testing.T) {
	f := newFixture(t)

	name := "moderators"
	color := 0xFF0000
	hoist := true
	role, err := f.session.GuildRoleCreate(f.guild.ID, &discordgo.RoleParams{Name: name, Color: &color, Hoist: &hoist})
	require.NoError(t, err)
	assert.Equal(t, "moderators", role.Name)
	assert.Equal(t, 0xFF0000, role.Color)

	renamed := "mods"
	role, err = f.session.GuildRoleEdit(f.guild.ID, role.ID, &discordgo.RoleParams{Name: renamed})
	require.NoError(t, err)
	assert.Equal(t, "mods", role.Name)

	require.NoError(t, f.session.GuildMemberRoleAdd(f.guild.ID, f.member.ID, role.ID))

	member, err := f.session.GuildMember(f.guild.ID, f.member.ID)
	require.NoError(t, err)
	assert.Contains(t, member.Roles, role.ID)

	require.NoError(t, f.session.GuildMemberRoleRemove(f.guild.ID, f.member.ID, role.ID))
	require.NoError(t, f.session.GuildRoleDelete(f.guild.ID, role.ID))
}

func TestMemberEditAndKick(t *testing.T) {
	f := newFixture(t)

	_, err := f.session.GuildMemberEdit(f.guild.ID, f.member.ID, &discordgo.GuildMemberParams{Nick: "trouble"})
	require.NoError(t, err)

	member, err := f.backend.Member(f.guild.ID, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, "trouble", member.Nick)

	require.NoError(t, f.session.GuildMemberDelete(f.guild.ID, f.member.ID))

	_, err = f.backend.Member(f.guild.ID, f.member.ID)
	require.Error(t, err)
}

func TestApplicationInfo(t *testing.T) {
	f := newFixture(t)

	app, err := f.session.Application("@me")
	require.NoError(t, err)

	assert.Equal(t, f.backend.BotUser().ID, app.ID)
	assert.Equal(t, f.backend.BotUser().Username, app.Name)
	require.NotNil(t, app.Owner)
	assert.Equal(t, f.backend.BotUser().ID, app.Owner.ID)
}

func TestUnknownEndpointIsATransportError(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodGet, "https://discord.com/api/v9/voice/regions", nil)
	require.NoError(t, err)

	_, err = f.session.Client.Do(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrOperationNotSupported.Error())
}

func TestRateLimitAnswers429(t *testing.T) {
	f := newFixture(t, WithRateLimit(1000, 1))

	_, err := f.session.ChannelMessageSend(f.channel.ID, "first")
	require.NoError(t, err)

	// discordgo retries after the advertised retry_after, so the second send still
	// succeeds, just after hitting the limiter once
	_, err = f.session.ChannelMessageSend(f.channel.ID, "second")
	require.NoError(t, err)
	assert.Len(t, f.observer.sent, 2)
}
