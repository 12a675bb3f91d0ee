// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package dispatch

import (
	"strconv"

	"context"

	"github.com/speakeasy-voice/speakeasy/internal/broadcast"
	"github.com/speakeasy-voice/speakeasy/internal/connection"
	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/speakeasy-voice/speakeasy/internal/model"
	"github.com/speakeasy-voice/speakeasy/internal/wire"
)

const maxChatBodyLen = 4096

// handleChatSend implements Send (§4.3, SPEC_FULL.md's chat attachment
// module addition): a direct message (ToUserID set) or a channel message
// (ChannelID set), gated on b_chat_send.
func (d *Dispatcher) handleChatSend(ctx context.Context, conn *connection.Conn, id ids.RequestID, msg wire.ChatSend) (*wire.Envelope, error) {
	user := conn.User()
	if msg.Text == "" || len(msg.Text) > maxChatBodyLen {
		return errorResponse(id, wire.ErrorInvalidRequest, "message text must be 1-4096 bytes"), nil
	}

	target := msg.ChannelID
	if msg.ToUserID != ids.NilUser {
		target = d.currentChannel(user.ID)
	}
	allowed, err := d.allowed(ctx, user.ID, target, PermChatSend)
	if err != nil {
		return errorResponse(id, wire.ErrorInternal, "resolving permission"), nil
	}
	if !allowed {
		return errorResponse(id, wire.ErrorPermissionDenied, "chat send denied"), nil
	}

	m := &model.ChatMessage{
		ChannelID:     msg.ChannelID,
		SenderID:      user.ID,
		Body:          msg.Text,
		AttachmentRef: msg.AttachmentRef,
		SentAt:        d.now(),
	}
	if err := d.Chat.Send(ctx, m); err != nil {
		return errorResponse(id, wire.ErrorInternal, "recording chat message"), nil
	}

	received := wire.ChatReceived{
		MessageID:     strconv.FormatUint(m.ID, 10),
		ChannelID:     msg.ChannelID,
		FromUserID:    user.ID,
		Text:          msg.Text,
		AttachmentRef: msg.AttachmentRef,
		SentAtUnix:    m.SentAt.Unix(),
	}
	if msg.ToUserID != ids.NilUser {
		d.Broadcaster.Broadcast(broadcast.ToUser(msg.ToUserID), event(received))
	} else {
		d.Broadcaster.Broadcast(broadcast.ToChannelExcept(msg.ChannelID, user.ID), event(received))
	}

	return respond(id, wire.ChatSendResponse{MessageID: received.MessageID}), nil
}

// handleChatEdit implements Edit (§4.3): replaces the body of the message
// with the given id. The caller is not checked against the message's
// sender, and the edit is broadcast to every other connected client, not
// only to the members of the message's channel.
func (d *Dispatcher) handleChatEdit(ctx context.Context, conn *connection.Conn, id ids.RequestID, msg wire.ChatEdit) (*wire.Envelope, error) {
	user := conn.User()
	msgID, err := strconv.ParseUint(msg.MessageID, 10, 64)
	if err != nil {
		return errorResponse(id, wire.ErrorInvalidRequest, "invalid message id"), nil
	}
	if msg.Text == "" || len(msg.Text) > maxChatBodyLen {
		return errorResponse(id, wire.ErrorInvalidRequest, "message text must be 1-4096 bytes"), nil
	}

	now := d.now()
	if err := d.Chat.Edit(ctx, msgID, msg.Text, now); err != nil {
		return errorResponse(id, wire.ErrorInternal, "editing chat message"), nil
	}

	d.Broadcaster.Broadcast(broadcast.ToAllExcept(user.ID), event(wire.ChatReceived{
		MessageID:  msg.MessageID,
		FromUserID: user.ID,
		Text:       msg.Text,
		SentAtUnix: now.Unix(),
	}))
	return respond(id, wire.ChatEditResponse{}), nil
}

// handleChatDelete implements Delete (§4.3): marks a message deleted and
// notifies recipients with a tombstone event.
func (d *Dispatcher) handleChatDelete(ctx context.Context, conn *connection.Conn, id ids.RequestID, msg wire.ChatDelete) (*wire.Envelope, error) {
	user := conn.User()
	msgID, err := strconv.ParseUint(msg.MessageID, 10, 64)
	if err != nil {
		return errorResponse(id, wire.ErrorInvalidRequest, "invalid message id"), nil
	}

	now := d.now()
	if err := d.Chat.Delete(ctx, msgID, now); err != nil {
		return errorResponse(id, wire.ErrorInternal, "deleting chat message"), nil
	}

	d.Broadcaster.Broadcast(broadcast.ToAllExcept(user.ID), event(wire.ChatReceived{
		MessageID:  msg.MessageID,
		FromUserID: user.ID,
		Deleted:    true,
		SentAtUnix: now.Unix(),
	}))
	return respond(id, wire.ChatDeleteResponse{}), nil
}

// handleChatHistory implements History (§4.3): the most recent limit
// messages in a channel, oldest first.
func (d *Dispatcher) handleChatHistory(ctx context.Context, _ *connection.Conn, id ids.RequestID, msg wire.ChatHistory) (*wire.Envelope, error) {
	limit := msg.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	history, err := d.Chat.History(ctx, msg.ChannelID, limit, nil)
	if err != nil {
		return errorResponse(id, wire.ErrorInternal, "reading chat history"), nil
	}

	entries := make([]wire.ChatEntry, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.DeletedAt != nil {
			continue
		}
		entries = append(entries, wire.ChatEntry{
			MessageID:     strconv.FormatUint(m.ID, 10),
			FromUserID:    m.SenderID,
			Text:          m.Body,
			AttachmentRef: m.AttachmentRef,
			SentAtUnix:    m.SentAt.Unix(),
		})
	}
	return respond(id, wire.ChatHistoryResponse{Entries: entries}), nil
}
