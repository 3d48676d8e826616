package backend

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	eventType string
	data      interface{}
}

type recordingDispatcher struct {
	events []recordedEvent
	seq    int64
}

func (d *recordingDispatcher) Dispatch(eventType string, data interface{}) (seq int64) {
	d.events = append(d.events, recordedEvent{eventType: eventType, data: data})
	d.seq++
	return d.seq
}

func (d *recordingDispatcher) eventTypes() (types []string) {
	for _, e := range d.events {
		types = append(types, e.eventType)
	}
	return types
}

func newBackend(t *testing.T) (b *Backend, dispatcher *recordingDispatcher) {
	dispatcher = &recordingDispatcher{}

	b, err := New("TestBot", 128, dispatcher)
	require.NoError(t, err)

	return b, dispatcher
}

func TestNewCreatesBotUser(t *testing.T) {
	b, _ := newBackend(t)

	bot := b.BotUser()
	require.NotNil(t, bot)
	assert.Equal(t, "TestBot", bot.Username)
	assert.True(t, bot.Bot)

	fetched, err := b.User(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, bot, fetched)
}

func TestMakeGuildStartsWithEveryoneRole(t *testing.T) {
	b, dispatcher := newBackend(t)

	guild := b.MakeGuild("Test Guild")

	require.Len(t, guild.Roles, 1)
	assert.Equal(t, "@everyone", guild.Roles[0].Name)
	// the @everyone role shares the guild's id
	assert.Equal(t, guild.ID, guild.Roles[0].ID)
	assert.Equal(t, []string{EventGuildCreate}, dispatcher.eventTypes())
}

func TestMakeTextChannelJoinsGuild(t *testing.T) {
	b, dispatcher := newBackend(t)
	guild := b.MakeGuild("Test Guild")

	channel := b.MakeTextChannel(guild, "general")

	assert.Equal(t, discordgo.ChannelTypeGuildText, channel.Type)
	assert.Equal(t, guild.ID, channel.GuildID)
	assert.Contains(t, guild.Channels, channel)
	assert.Equal(t, []string{EventGuildCreate, EventChannelCreate}, dispatcher.eventTypes())

	fetched, err := b.Channel(channel.ID)
	require.NoError(t, err)
	assert.Equal(t, channel, fetched)
}

func TestMakeDMChannelReusesExistingChannel(t *testing.T) {
	b, _ := newBackend(t)
	user := b.MakeUser("alice", "0001")

	dm := b.MakeDMChannel(user)
	again := b.MakeDMChannel(user)

	assert.Equal(t, discordgo.ChannelTypeDM, dm.Type)
	assert.Equal(t, dm.ID, again.ID)
}

func TestDeleteChannelRemovesCategoryChildren(t *testing.T) {
	b, dispatcher := newBackend(t)
	guild := b.MakeGuild("Test Guild")

	category := b.MakeCategoryChannel(guild, "text channels")
	child := b.MakeGuildChannel(guild, "general", discordgo.ChannelTypeGuildText, category.ID)
	unrelated := b.MakeTextChannel(guild, "random")

	_, err := b.DeleteChannel(category.ID)
	require.NoError(t, err)

	_, err = b.Channel(child.ID)
	assert.Error(t, err)

	_, err = b.Channel(unrelated.ID)
	assert.NoError(t, err)

	assert.Contains(t, dispatcher.eventTypes(), EventChannelDelete)
}

func TestMemberLifecycle(t *testing.T) {
	b, dispatcher := newBackend(t)
	guild := b.MakeGuild("Test Guild")
	user := b.MakeUser("alice", "0001")

	member := b.MakeMember(user, guild, "ally", nil)
	assert.Equal(t, "ally", member.Nick)
	assert.Contains(t, dispatcher.eventTypes(), EventGuildMemberAdd)

	nick := "alice-prime"
	updated, err := b.UpdateMember(guild.ID, user.ID, &nick, nil)
	require.NoError(t, err)
	assert.Equal(t, "alice-prime", updated.Nick)
	assert.Contains(t, dispatcher.eventTypes(), EventGuildMemberUpdate)

	require.NoError(t, b.RemoveMember(guild.ID, user.ID))
	assert.Contains(t, dispatcher.eventTypes(), EventGuildMemberRemove)

	_, err = b.Member(guild.ID, user.ID)
	assert.Error(t, err)
}

func TestBanMemberDispatchesBanThenRemove(t *testing.T) {
	b, dispatcher := newBackend(t)
	guild := b.MakeGuild("Test Guild")
	user := b.MakeUser("alice", "0001")
	b.MakeMember(user, guild, "", nil)

	require.NoError(t, b.BanMember(guild.ID, user.ID))

	types := dispatcher.eventTypes()
	assert.Contains(t, types, EventGuildBanAdd)
	assert.Contains(t, types, EventGuildMemberRemove)

	_, err := b.Member(guild.ID, user.ID)
	assert.Error(t, err)
}

func TestRoleLifecycle(t *testing.T) {
	b, dispatcher := newBackend(t)
	guild := b.MakeGuild("Test Guild")
	user := b.MakeUser("alice", "0001")
	b.MakeMember(user, guild, "", nil)

	role := b.MakeRole(guild, "moderators", discordgo.PermissionManageMessages, 0xFF0000, true, false)
	assert.Contains(t, dispatcher.eventTypes(), EventGuildRoleCreate)

	require.NoError(t, b.AddMemberRole(guild.ID, user.ID, role.ID))
	member, err := b.Member(guild.ID, user.ID)
	require.NoError(t, err)
	assert.Contains(t, member.Roles, role.ID)

	renamed := "mods"
	updated, err := b.UpdateRole(guild.ID, role.ID, &discordgo.RoleParams{Name: renamed})
	require.NoError(t, err)
	assert.Equal(t, "mods", updated.Name)

	require.NoError(t, b.DeleteRole(guild.ID, role.ID))

	// deleting a role strips it from members holding it
	member, err = b.Member(guild.ID, user.ID)
	require.NoError(t, err)
	assert.NotContains(t, member.Roles, role.ID)
}

func TestAttachmentURLUsesCDNBase(t *testing.T) {
	b, _ := newBackend(t)
	b.SetCDNBase("http://127.0.0.1:9999/")

	attachment := b.MakeAttachment("report.txt", []byte("contents"))

	assert.Equal(t, "report.txt", attachment.Filename)
	assert.Equal(t, len("contents"), attachment.Size)
	assert.Equal(t, "http://127.0.0.1:9999/attachments/"+attachment.ID+"/report.txt", attachment.URL)

	filename, data, err := b.Attachment(attachment.ID)
	require.NoError(t, err)
	assert.Equal(t, "report.txt", filename)
	assert.Equal(t, []byte("contents"), data)
}

func TestTypingDispatchesTypingStart(t *testing.T) {
	b, dispatcher := newBackend(t)
	guild := b.MakeGuild("Test Guild")
	channel := b.MakeTextChannel(guild, "general")

	b.Typing(channel.ID, b.BotUser().ID)

	assert.Contains(t, dispatcher.eventTypes(), EventTypingStart)
}
