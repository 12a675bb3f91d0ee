// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package dispatch

import (
	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/speakeasy-voice/speakeasy/internal/wire"
)

// respond builds the response envelope for a request, carrying its
// correlation id forward.
func respond(id ids.RequestID, msg wire.Message) *wire.Envelope {
	return &wire.Envelope{RequestID: id, Message: msg}
}

// errorResponse builds an Error response carrying the request's
// correlation id.
func errorResponse(id ids.RequestID, code wire.ErrorCode, message string) *wire.Envelope {
	return respond(id, wire.Error{Code: code, Message: message})
}

// event builds a server-initiated, uncorrelated envelope (request id 0)
// for broadcaster delivery.
func event(msg wire.Message) wire.Envelope {
	return wire.Envelope{RequestID: 0, Message: msg}
}
