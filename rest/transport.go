// Package rest fakes the discord REST API behind an http.RoundTripper. Swapped into a
// discordgo session's http client, it turns API calls made by the bot under test into
// state changes on the backend, which in turn dispatches the resulting gateway events.
// Error responses carry the same status codes and json bodies as the real API so that
// discordgo surfaces them as *discordgo.RESTError values
package rest

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"regexp"

	"github.com/alexandre-normand/testcord/backend"
	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// JSON error codes returned by the discord API
const (
	codeUnknownGuild       = 10004
	codeUnknownChannel     = 10003
	codeUnknownMember      = 10007
	codeUnknownMessage     = 10008
	codeUnknownRole        = 10011
	codeUnknownUser        = 10013
	codeMissingPermissions = 50013
)

// ErrOperationNotSupported is returned as a transport error when a request targets an
// endpoint the fake doesn't implement. It surfaces as a url.Error from the caller's
// http client rather than a fake 404, making unimplemented endpoints easy to tell
// apart from legitimate not-found responses
var ErrOperationNotSupported = errors.New("operation not supported by the fake discord API")

// apiVersionPrefix matches the /api/vN prefix discordgo puts on every endpoint
var apiVersionPrefix = regexp.MustCompile(`^/api/v\d+`)

// Logger is the minimal logging interface the transport needs
type Logger interface {
	Debugf(format string, v ...interface{})
}

// Observer gets notified of messages created through the REST API, which are exactly
// the messages sent by the bot under test
type Observer interface {
	MessageSent(msg *discordgo.Message)
}

type route struct {
	method string
	re     *regexp.Regexp
	handle func(params []string, r *http.Request) (status int, body interface{}, err error)
}

// Transport is the fake REST API. It implements http.RoundTripper
type Transport struct {
	backend    *backend.Backend
	gatewayURL string
	observer   Observer
	limiter    *rate.Limiter
	log        Logger
	routes     []route
}

// Option is a function that applies an option to a Transport
type Option func(t *Transport)

// WithObserver sets the observer notified of bot-sent messages
func WithObserver(observer Observer) Option {
	return func(t *Transport) {
		t.observer = observer
	}
}

// WithRateLimit makes the transport answer 429 to requests exceeding the given rate,
// mimicking the API's rate limiting so that retry handling can be exercised
func WithRateLimit(perSecond float64, burst int) Option {
	return func(t *Transport) {
		t.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the transport's debug logger
func WithLogger(log Logger) Option {
	return func(t *Transport) {
		t.log = log
	}
}

type nopLogger struct{}

func (l nopLogger) Debugf(format string, v ...interface{}) {
}

// New creates a Transport backed by the given backend. gatewayURL is what the gateway
// discovery endpoints return, pointing the client at the fake gateway
func New(b *backend.Backend, gatewayURL string, opts ...Option) (t *Transport) {
	t = &Transport{
		backend:    b,
		gatewayURL: gatewayURL,
		log:        nopLogger{},
	}

	for _, opt := range opts {
		opt(t)
	}

	t.routes = t.buildRoutes()

	return t
}

// RoundTrip routes the request to the matching endpoint handler and renders its result
// as an http response
func (t *Transport) RoundTrip(r *http.Request) (resp *http.Response, err error) {
	path := apiVersionPrefix.ReplaceAllString(r.URL.Path, "")

	if t.limiter != nil && !t.limiter.Allow() {
		t.log.Debugf("rest: rate limiting [%s %s]", r.Method, path)
		return t.respond(r, http.StatusTooManyRequests, rateLimitBody{Message: "You are being rate limited.", RetryAfter: 0.05, Global: false})
	}

	for _, rt := range t.routes {
		if rt.method != r.Method {
			continue
		}

		params := rt.re.FindStringSubmatch(path)
		if params == nil {
			continue
		}

		status, body, err := rt.handle(params[1:], r)
		if err != nil {
			return nil, err
		}

		t.log.Debugf("rest: [%s %s] -> %d", r.Method, path, status)
		return t.respond(r, status, body)
	}

	return nil, errors.Wrapf(ErrOperationNotSupported, "[%s %s]", r.Method, path)
}

func (t *Transport) respond(r *http.Request, status int, body interface{}) (resp *http.Response, err error) {
	var raw []byte
	if body != nil {
		raw, err = json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode fake API response")
		}
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")

	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     header,
		Body:       ioutil.NopCloser(bytes.NewReader(raw)),
		Request:    r,
	}, nil
}

type rateLimitBody struct {
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
	Global     bool    `json:"global"`
}

type errorBody struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func apiError(status int, code int, message string) (s int, body interface{}, err error) {
	return status, errorBody{Message: message, Code: code}, nil
}

func notFound(code int, message string) (s int, body interface{}, err error) {
	return apiError(http.StatusNotFound, code, message)
}

func missingPermissions() (s int, body interface{}, err error) {
	return apiError(http.StatusForbidden, codeMissingPermissions, "Missing Permissions")
}

func noContent() (s int, body interface{}, err error) {
	return http.StatusNoContent, nil, nil
}

// decode parses the request's json body into v
func decode(r *http.Request, v interface{}) (err error) {
	defer r.Body.Close()

	return errors.Wrap(json.NewDecoder(r.Body).Decode(v), "failed to decode request body")
}

// buildRoutes assembles the endpoint table. Routes are matched in order so more
// specific paths come before their prefixes
func (t *Transport) buildRoutes() (routes []route) {
	id := `(\d+|@me)`
	emoji := `([^/]+)`

	return []route{
		{http.MethodGet, re(`/gateway/bot$`), t.handleGateway},
		{http.MethodGet, re(`/gateway$`), t.handleGateway},

		{http.MethodPut, re(`/channels/` + id + `/messages/` + id + `/reactions/` + emoji + `/@me$`), t.handleAddReaction},
		{http.MethodDelete, re(`/channels/` + id + `/messages/` + id + `/reactions/` + emoji + `/` + id + `$`), t.handleRemoveReaction},
		{http.MethodDelete, re(`/channels/` + id + `/messages/` + id + `/reactions$`), t.handleClearReactions},

		{http.MethodPost, re(`/channels/` + id + `/messages$`), t.handleSendMessage},
		{http.MethodGet, re(`/channels/` + id + `/messages/` + id + `$`), t.handleGetMessage},
		{http.MethodPatch, re(`/channels/` + id + `/messages/` + id + `$`), t.handleEditMessage},
		{http.MethodDelete, re(`/channels/` + id + `/messages/` + id + `$`), t.handleDeleteMessage},
		{http.MethodGet, re(`/channels/` + id + `/messages$`), t.handleMessageHistory},

		{http.MethodPut, re(`/channels/` + id + `/pins/` + id + `$`), t.handlePinMessage},
		{http.MethodDelete, re(`/channels/` + id + `/pins/` + id + `$`), t.handleUnpinMessage},
		{http.MethodGet, re(`/channels/` + id + `/pins$`), t.handlePinnedMessages},

		{http.MethodPost, re(`/channels/` + id + `/typing$`), t.handleTyping},

		{http.MethodPut, re(`/channels/` + id + `/permissions/` + id + `$`), t.handleSetPermissions},
		{http.MethodDelete, re(`/channels/` + id + `/permissions/` + id + `$`), t.handleDeletePermissions},

		{http.MethodGet, re(`/channels/` + id + `$`), t.handleGetChannel},
		{http.MethodDelete, re(`/channels/` + id + `$`), t.handleDeleteChannel},

		{http.MethodPost, re(`/users/@me/channels$`), t.handleCreateDM},
		{http.MethodGet, re(`/users/@me/guilds$`), t.handleUserGuilds},
		{http.MethodGet, re(`/users/` + id + `$`), t.handleGetUser},

		{http.MethodGet, re(`/oauth2/applications/@me$`), t.handleApplication},

		{http.MethodPost, re(`/guilds/` + id + `/channels$`), t.handleCreateGuildChannel},

		{http.MethodPut, re(`/guilds/` + id + `/members/` + id + `/roles/` + id + `$`), t.handleAddMemberRole},
		{http.MethodDelete, re(`/guilds/` + id + `/members/` + id + `/roles/` + id + `$`), t.handleRemoveMemberRole},
		{http.MethodPatch, re(`/guilds/` + id + `/members/@me/nick$`), t.handleEditOwnNick},
		{http.MethodGet, re(`/guilds/` + id + `/members/` + id + `$`), t.handleGetMember},
		{http.MethodPatch, re(`/guilds/` + id + `/members/` + id + `$`), t.handleEditMember},
		{http.MethodDelete, re(`/guilds/` + id + `/members/` + id + `$`), t.handleKickMember},
		{http.MethodPut, re(`/guilds/` + id + `/bans/` + id + `$`), t.handleBanMember},

		{http.MethodPost, re(`/guilds/` + id + `/roles$`), t.handleCreateRole},
		{http.MethodPatch, re(`/guilds/` + id + `/roles/` + id + `$`), t.handleEditRole},
		{http.MethodDelete, re(`/guilds/` + id + `/roles/` + id + `$`), t.handleDeleteRole},
		{http.MethodPatch, re(`/guilds/` + id + `/roles$`), t.handleMoveRoles},

		{http.MethodGet, re(`/guilds/` + id + `$`), t.handleGetGuild},
	}
}

func re(pattern string) (compiled *regexp.Regexp) {
	return regexp.MustCompile("^" + pattern)
}

func (t *Transport) handleGateway(params []string, r *http.Request) (status int, body interface{}, err error) {
	return http.StatusOK, map[string]interface{}{"url": t.gatewayURL, "shards": 1}, nil
}

// resolveUserID maps the @me placeholder to the bot's own user ID
func (t *Transport) resolveUserID(id string) (userID string) {
	if id == "@me" {
		return t.backend.BotUser().ID
	}

	return id
}
