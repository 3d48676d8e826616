package rest

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alexandre-normand/testcord/backend"
	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
)

// messageSendBody covers the fields discordgo sends when creating a message. The
// singular embed field is kept for clients predating the embeds array
type messageSendBody struct {
	Content string                    `json:"content"`
	TTS     bool                      `json:"tts"`
	Embed   *discordgo.MessageEmbed   `json:"embed"`
	Embeds  []*discordgo.MessageEmbed `json:"embeds"`
}

type messageEditBody struct {
	Content *string                   `json:"content"`
	Embed   *discordgo.MessageEmbed   `json:"embed"`
	Embeds  []*discordgo.MessageEmbed `json:"embeds"`
}

func (t *Transport) handleSendMessage(params []string, r *http.Request) (status int, body interface{}, err error) {
	channelID := params[0]

	channel, cerr := t.backend.Channel(channelID)
	if cerr != nil {
		return notFound(codeUnknownChannel, "Unknown Channel")
	}

	bot := t.backend.BotUser()
	if channel.GuildID != "" && !t.backend.Can(channelID, bot.ID, discordgo.PermissionViewChannel|discordgo.PermissionSendMessages) {
		return missingPermissions()
	}

	send, attachments, perr := t.parseMessageSend(r)
	if perr != nil {
		return 0, nil, perr
	}

	embeds := send.Embeds
	if send.Embed != nil {
		embeds = append(embeds, send.Embed)
	}

	msg, _, merr := t.backend.MakeMessage(send.Content, bot, channelID, &backend.MessageParams{
		TTS:         send.TTS,
		Embeds:      embeds,
		Attachments: attachments,
	})
	if merr != nil {
		return 0, nil, errors.Wrap(merr, "failed to create message")
	}

	if t.observer != nil {
		t.observer.MessageSent(msg)
	}

	return http.StatusOK, msg, nil
}

// parseMessageSend handles both the plain json form and the multipart form discordgo
// uses for file uploads, where the json payload rides in a payload_json field next to
// the file parts
func (t *Transport) parseMessageSend(r *http.Request) (send messageSendBody, attachments []*discordgo.MessageAttachment, err error) {
	contentType := r.Header.Get("Content-Type")

	if !strings.HasPrefix(contentType, "multipart/") {
		err = decode(r, &send)
		return send, nil, err
	}

	if err = r.ParseMultipartForm(32 << 20); err != nil {
		return send, nil, errors.Wrap(err, "failed to parse multipart message")
	}

	if payload := r.FormValue("payload_json"); payload != "" {
		if err = json.Unmarshal([]byte(payload), &send); err != nil {
			return send, nil, errors.Wrap(err, "failed to decode payload_json")
		}
	} else {
		send.Content = r.FormValue("content")
	}

	for _, headers := range r.MultipartForm.File {
		for _, header := range headers {
			file, oerr := header.Open()
			if oerr != nil {
				return send, nil, errors.Wrapf(oerr, "failed to open uploaded file [%s]", header.Filename)
			}

			data, rerr := ioutil.ReadAll(file)
			file.Close()
			if rerr != nil {
				return send, nil, errors.Wrapf(rerr, "failed to read uploaded file [%s]", header.Filename)
			}

			attachments = append(attachments, t.backend.MakeAttachment(header.Filename, data))
		}
	}

	return send, attachments, nil
}

func (t *Transport) handleGetMessage(params []string, r *http.Request) (status int, body interface{}, err error) {
	msg, merr := t.backend.Message(params[0], params[1])
	if merr != nil {
		return notFound(codeUnknownMessage, "Unknown Message")
	}

	return http.StatusOK, msg, nil
}

func (t *Transport) handleEditMessage(params []string, r *http.Request) (status int, body interface{}, err error) {
	var edit messageEditBody
	if err = decode(r, &edit); err != nil {
		return 0, nil, err
	}

	embeds := edit.Embeds
	if edit.Embed != nil {
		embeds = append(embeds, edit.Embed)
	}

	msg, merr := t.backend.EditMessage(params[0], params[1], edit.Content, embeds)
	if merr != nil {
		return notFound(codeUnknownMessage, "Unknown Message")
	}

	return http.StatusOK, msg, nil
}

func (t *Transport) handleDeleteMessage(params []string, r *http.Request) (status int, body interface{}, err error) {
	if derr := t.backend.DeleteMessage(params[0], params[1]); derr != nil {
		return notFound(codeUnknownMessage, "Unknown Message")
	}

	return noContent()
}

func (t *Transport) handleMessageHistory(params []string, r *http.Request) (status int, body interface{}, err error) {
	query := r.URL.Query()

	limit := 50
	if rawLimit := query.Get("limit"); rawLimit != "" {
		parsed, perr := strconv.Atoi(rawLimit)
		if perr != nil {
			return apiError(http.StatusBadRequest, 0, "Invalid Form Body")
		}
		limit = parsed
	}

	if _, cerr := t.backend.Channel(params[0]); cerr != nil {
		return notFound(codeUnknownChannel, "Unknown Channel")
	}

	messages := t.backend.Messages(params[0], limit, query.Get("before"), query.Get("after"), query.Get("around"))

	return http.StatusOK, messages, nil
}

func (t *Transport) handlePinMessage(params []string, r *http.Request) (status int, body interface{}, err error) {
	if perr := t.backend.PinMessage(params[0], params[1]); perr != nil {
		return notFound(codeUnknownMessage, "Unknown Message")
	}

	return noContent()
}

func (t *Transport) handleUnpinMessage(params []string, r *http.Request) (status int, body interface{}, err error) {
	if perr := t.backend.UnpinMessage(params[0], params[1]); perr != nil {
		return notFound(codeUnknownMessage, "Unknown Message")
	}

	return noContent()
}

func (t *Transport) handlePinnedMessages(params []string, r *http.Request) (status int, body interface{}, err error) {
	if _, cerr := t.backend.Channel(params[0]); cerr != nil {
		return notFound(codeUnknownChannel, "Unknown Channel")
	}

	return http.StatusOK, t.backend.PinnedMessages(params[0]), nil
}

func (t *Transport) handleTyping(params []string, r *http.Request) (status int, body interface{}, err error) {
	if _, cerr := t.backend.Channel(params[0]); cerr != nil {
		return notFound(codeUnknownChannel, "Unknown Channel")
	}

	t.backend.Typing(params[0], t.backend.BotUser().ID)

	return noContent()
}

func (t *Transport) handleAddReaction(params []string, r *http.Request) (status int, body interface{}, err error) {
	emoji, perr := url.PathUnescape(params[2])
	if perr != nil {
		return apiError(http.StatusBadRequest, 0, "Invalid Form Body")
	}

	if rerr := t.backend.AddReaction(params[0], params[1], t.backend.BotUser().ID, emoji); rerr != nil {
		return notFound(codeUnknownMessage, "Unknown Message")
	}

	return noContent()
}

func (t *Transport) handleRemoveReaction(params []string, r *http.Request) (status int, body interface{}, err error) {
	emoji, perr := url.PathUnescape(params[2])
	if perr != nil {
		return apiError(http.StatusBadRequest, 0, "Invalid Form Body")
	}

	if rerr := t.backend.RemoveReaction(params[0], params[1], t.resolveUserID(params[3]), emoji); rerr != nil {
		return notFound(codeUnknownMessage, "Unknown Message")
	}

	return noContent()
}

func (t *Transport) handleClearReactions(params []string, r *http.Request) (status int, body interface{}, err error) {
	if rerr := t.backend.ClearReactions(params[0], params[1]); rerr != nil {
		return notFound(codeUnknownMessage, "Unknown Message")
	}

	return noContent()
}
