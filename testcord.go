package testcord

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alexandre-normand/testcord/backend"
	"github.com/alexandre-normand/testcord/config"
	"github.com/alexandre-normand/testcord/gateway"
	"github.com/alexandre-normand/testcord/rest"
	"github.com/alexandre-normand/testcord/transcript"
	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/metric"
)

// Runner drives a real discordgo session against a simulated discord. The session's
// REST calls are answered by a fake API and its gateway connection terminates on an
// in-process fake gateway, so the bot under test runs unmodified: its handlers fire
// through discordgo's own event dispatching and its API calls mutate the simulated
// server state
type Runner struct {
	name    string
	v       *viper.Viper
	log     SLogger
	timeout time.Duration

	backend   *backend.Backend
	gateway   *gateway.Server
	transport *rest.Transport
	session   *discordgo.Session

	queue    *sentQueue
	waiter   *eventWaiter
	recorder transcript.Recorder
	ins      *instrumenter

	guild         *discordgo.Guild
	owner         *discordgo.User
	transcriptSeq int64

	rateLimitPerSec float64
	rateLimitBurst  int

	started bool
}

// Option defines an option for a Runner
type Option func(r *Runner)

// OptionLog sets a logger for the runner
func OptionLog(logger *log.Logger) Option {
	return func(r *Runner) {
		r.log = NewSLogger(logger, r.v.GetBool(config.DebugKey))
	}
}

// OptionTestLog routes runner debug logging to the test's log output so it shows up
// with the test's own failures
func OptionTestLog(t *testing.T) Option {
	return func(r *Runner) {
		r.log = NewSLogger(log.New(testLogWriter{t}, "", log.LstdFlags), true)
	}
}

type testLogWriter struct {
	t *testing.T
}

func (w testLogWriter) Write(p []byte) (n int, err error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

// OptionRateLimit enables rate limit simulation on the fake API, overriding the
// configured values. Calls beyond the allowed rate receive well formed 429 responses
func OptionRateLimit(eventsPerSec float64, burst int) Option {
	return func(r *Runner) {
		r.rateLimitPerSec = eventsPerSec
		r.rateLimitBurst = burst
	}
}

// OptionSession has the runner drive the given session instead of creating its own,
// so a bot's already built session can be pointed at the simulated server. The
// session's HTTP client and gateway settings are replaced
func OptionSession(session *discordgo.Session) Option {
	return func(r *Runner) {
		r.session = session
	}
}

// OptionTranscript sets the recorder keeping the transcript of the conversation. By
// default, the transcript is kept in memory only, or persisted to leveldb when a
// transcript path is configured
func OptionTranscript(recorder transcript.Recorder) Option {
	return func(r *Runner) {
		r.recorder = recorder
	}
}

// OptionMeter sets the meter used to record core metrics. Without it, metrics go to
// a no-op meter
func OptionMeter(meter metric.Meter) Option {
	return func(r *Runner) {
		r.ins = newInstrumenter(r.name, meter)
	}
}

// New creates a new runner with the given name (used as the bot's username) and viper
// configuration. The simulated guild, channels and members are seeded from the
// configuration and exist before Start opens the session
func New(name string, v *viper.Viper, options ...Option) (r *Runner, err error) {
	if v == nil {
		v = config.NewViperWithDefaults()
	}
	if name == "" {
		name = v.GetString(config.BotNameKey)
	}

	r = &Runner{
		name:    name,
		v:       v,
		log:     NewSLogger(log.New(os.Stdout, "", log.LstdFlags), v.GetBool(config.DebugKey)),
		timeout: config.GetProcessingTimeout(v),
		queue:   newSentQueue(),
		waiter:  newEventWaiter(),
	}

	for _, option := range options {
		option(r)
	}

	r.gateway = gateway.New(r.makeReady, attachmentSource{r}, gatewayLogger{r})

	r.backend, err = backend.New(name, v.GetInt(config.MessageCacheSizeKey), r.gateway)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create simulated server state")
	}
	r.backend.SetCDNBase(r.gateway.CDNBase())

	r.seed()

	restOptions := []rest.Option{rest.WithObserver(r), rest.WithLogger(gatewayLogger{r})}
	perSecond, burst := r.rateLimitPerSec, r.rateLimitBurst
	if perSecond == 0 {
		perSecond, burst = v.GetFloat64(config.RateLimitPerSecondKey), v.GetInt(config.RateLimitBurstKey)
	}
	if perSecond > 0 {
		restOptions = append(restOptions, rest.WithRateLimit(perSecond, burst))
	}
	r.transport = rest.New(r.backend, r.gateway.URL(), restOptions...)

	if r.session == nil {
		r.session, err = discordgo.New("Bot testcord")
		if err != nil {
			return nil, errors.Wrap(err, "failed to create session")
		}
	}
	r.session.Client = &http.Client{Transport: r.transport}
	r.session.ShouldReconnectOnError = false
	// synchronous dispatching is what makes waiting for a sequence number equivalent
	// to waiting for the bot's handlers to have run
	r.session.SyncEvents = true

	if r.recorder == nil {
		r.recorder, err = newDefaultRecorder(name, v)
		if err != nil {
			return nil, err
		}
	}
	if r.ins == nil {
		r.ins = newInstrumenter(name, metric.Meter{})
	}

	return r, nil
}

// newDefaultRecorder keeps the transcript in memory, writing through to leveldb when
// a transcript path is configured
func newDefaultRecorder(name string, v *viper.Viper) (recorder transcript.Recorder, err error) {
	var persistent transcript.Recorder
	if path := v.GetString(config.TranscriptPathKey); path != "" {
		persistent, err = transcript.NewLevelDB(name, path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open transcript storage")
		}
	}

	return transcript.NewInMemory(persistent)
}

// seed creates the simulated guild along with its configured channels and members.
// The guild owner is a dedicated member so that the bot itself never gets the owner's
// implicit permissions
func (r *Runner) seed() {
	r.guild = r.backend.MakeGuild(r.v.GetString(config.GuildNameKey))

	r.owner = r.backend.MakeUser("owner", "0001")
	r.guild.OwnerID = r.owner.ID
	r.backend.MakeMember(r.owner, r.guild, "", nil)

	r.backend.MakeMember(r.backend.BotUser(), r.guild, "", nil)

	for _, name := range config.GetTextChannels(r.v) {
		r.backend.MakeTextChannel(r.guild, name)
	}

	for i := 0; i < r.v.GetInt(config.MemberCountKey); i++ {
		user := r.backend.MakeUser(fmt.Sprintf("member-%d", i), fmt.Sprintf("%04d", i+2))
		r.backend.MakeMember(user, r.guild, "", nil)
	}
}

// makeReady renders the READY payload sent to the session when it identifies
func (r *Runner) makeReady(sessionID string) (ready *discordgo.Ready) {
	return &discordgo.Ready{
		Version:         9,
		SessionID:       sessionID,
		User:            r.backend.BotUser(),
		Guilds:          r.backend.Guilds(),
		PrivateChannels: []*discordgo.Channel{},
	}
}

// Start opens the session and blocks until the seeded state has been delivered to it.
// Handlers should be registered on Session before calling Start so they see the
// initial events
func (r *Runner) Start() (err error) {
	if r.started {
		return errors.New("runner already started")
	}

	r.session.AddHandler(func(s *discordgo.Session, e *discordgo.Event) {
		r.waiter.observe(e.Sequence)
	})

	if err = r.session.Open(); err != nil {
		return errors.Wrap(err, "failed to open session against the fake gateway")
	}
	r.started = true

	// the seeded events were buffered before the connection existed, so sync once to
	// know they've all been processed
	if err = r.sync(); err != nil {
		return err
	}

	r.log.Debugf("%s started against guild [%s]", r.name, r.guild.ID)

	return nil
}

// Close shuts everything down: the session, the fake gateway and the transcript
func (r *Runner) Close() (err error) {
	if r.session != nil && r.started {
		if cerr := r.session.Close(); cerr != nil {
			err = cerr
		}
		r.started = false
	}

	if r.gateway != nil {
		if cerr := r.gateway.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}

	if r.recorder != nil {
		if cerr := r.recorder.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}

	return err
}

// Session returns the session connected to the simulated discord. Register the bot
// under test's handlers on it
func (r *Runner) Session() (session *discordgo.Session) {
	return r.session
}

// Guild returns the seeded guild
func (r *Runner) Guild() (guild *discordgo.Guild) {
	return r.guild
}

// BotUser returns the user the bot under test is connected as
func (r *Runner) BotUser() (user *discordgo.User) {
	return r.backend.BotUser()
}

// Backend returns the simulated server state for direct seeding beyond what the
// configuration covers
func (r *Runner) Backend() (b *backend.Backend) {
	return r.backend
}

// Channel returns a seeded text channel by name
func (r *Runner) Channel(name string) (channel *discordgo.Channel, err error) {
	for _, c := range r.guild.Channels {
		if c.Name == name {
			return c, nil
		}
	}

	return nil, errors.Errorf("no channel named [%s] in the simulated guild", name)
}

// Member returns a seeded member by username
func (r *Runner) Member(username string) (member *discordgo.Member, err error) {
	for _, m := range r.guild.Members {
		if m.User != nil && m.User.Username == username {
			return m, nil
		}
	}

	return nil, errors.Errorf("no member named [%s] in the simulated guild", username)
}

// SentQueue returns a snapshot of the bot's sent messages that haven't been consumed
// by verifications yet
func (r *Runner) SentQueue() (msgs []*discordgo.Message) {
	return r.queue.snapshot()
}

// EmptyQueue drops all captured sent messages. Typically called between tests sharing
// a runner so that leftover messages don't bleed into the next verification
func (r *Runner) EmptyQueue() {
	r.queue.drain()
}

// Transcript returns the recorded conversation so far
func (r *Runner) Transcript() (entries []transcript.Entry, err error) {
	return r.recorder.Entries()
}

// MessageSent captures a message the bot under test sent through the REST API
func (r *Runner) MessageSent(msg *discordgo.Message) {
	r.queue.push(msg)
	r.ins.coreMetrics.msgsCaptured.Add(context.Background(), 1)

	r.record(transcript.Entry{
		Seq:       atomic.AddInt64(&r.transcriptSeq, 1),
		Direction: transcript.DirectionSent,
		ChannelID: msg.ChannelID,
		AuthorID:  authorID(msg),
		Content:   msg.Content,
		Timestamp: time.Now().UTC(),
	})
}

func (r *Runner) record(entry transcript.Entry) {
	if err := r.recorder.Record(entry); err != nil {
		r.log.Printf("failed to record transcript entry: %v", err)
	}
}

func authorID(msg *discordgo.Message) (id string) {
	if msg.Author == nil {
		return ""
	}

	return msg.Author.ID
}

// sync dispatches a marker event and waits for the session to have processed it,
// which implies everything dispatched before it has been processed too
func (r *Runner) sync() (err error) {
	channelID := ""
	if len(r.guild.Channels) > 0 {
		channelID = r.guild.Channels[0].ID
	}

	seq := r.gateway.Dispatch(backend.EventTypingStart, &discordgo.TypingStart{
		UserID:    r.owner.ID,
		ChannelID: channelID,
		GuildID:   r.guild.ID,
		Timestamp: int(time.Now().Unix()),
	})

	return r.waitFor(seq)
}

func (r *Runner) waitFor(seq int64) (err error) {
	if werr := r.waiter.waitFor(seq, r.timeout); werr != nil {
		return errors.Wrapf(werr, "bot didn't finish processing event [%d] within [%s]", seq, r.timeout)
	}

	return nil
}

// attachmentSource adapts the runner's backend to the gateway's attachment lookup,
// breaking the construction cycle between the two
type attachmentSource struct {
	r *Runner
}

func (a attachmentSource) Attachment(attachmentID string) (filename string, data []byte, err error) {
	return a.r.backend.Attachment(attachmentID)
}

// gatewayLogger adapts the runner's logger for the gateway and rest packages
type gatewayLogger struct {
	r *Runner
}

func (g gatewayLogger) Debugf(format string, v ...interface{}) {
	g.r.log.Debugf(format, v...)
}
