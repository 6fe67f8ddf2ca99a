package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"runtime/debug"

	"github.com/louisbranch/bingohall/internal/platform/broker"
	apperrors "github.com/louisbranch/bingohall/internal/platform/errors"
)

// Client identifies the connection a request arrived on.
type Client struct {
	GameTypeID string
	PlayerID   string
	ConnID     string
}

// Request message types accepted from clients.
const (
	MsgSelectCards  = "selectCards"
	MsgDeselectCard = "deselectCard"
	MsgLeave        = "leave"
	MsgRequestStart = "requestStart"
	MsgBingo        = "bingo"
)

// Reply message types sent back on the requesting connection.
const (
	MsgAck    = "ack"
	MsgReject = "reject"
)

type selectCardsMsg struct {
	Cards []string `json:"cards"`
	Token string   `json:"token,omitempty"`
}

type deselectCardMsg struct {
	Card string `json:"card"`
}

type bingoMsg struct {
	RoundID  string `json:"round_id"`
	Card     string `json:"card"`
	Selected []int  `json:"selected"`
	Token    string `json:"token,omitempty"`
}

type ackPayload struct {
	For  string `json:"for"`
	Data any    `json:"data,omitempty"`
}

type rejectPayload struct {
	For      string            `json:"for"`
	Code     string            `json:"code"`
	Kind     string            `json:"kind"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Dispatch routes one client message to its operation and returns the reply
// envelope for the requesting connection. Room-wide effects are broadcast
// separately. A panic in a handler becomes an internal rejection instead of
// taking the connection down.
func (a *App) Dispatch(ctx context.Context, client Client, raw []byte) (reply broker.Envelope) {
	var envelope broker.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return rejectEnvelope("", apperrors.New(apperrors.CodeUnknown, "malformed message"))
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("panic handling message type=%s player=%s: %v\n%s",
				envelope.T, client.PlayerID, r, debug.Stack())
			reply = rejectEnvelope(envelope.T,
				apperrors.New(apperrors.CodeInternal, "internal error"))
		}
	}()

	switch envelope.T {
	case MsgSelectCards:
		var msg selectCardsMsg
		if err := json.Unmarshal(envelope.M, &msg); err != nil {
			return rejectEnvelope(envelope.T, apperrors.New(apperrors.CodeUnknown, "malformed payload"))
		}
		result, err := a.SelectCards(ctx, SelectCardsInput{
			GameTypeID: client.GameTypeID,
			PlayerID:   client.PlayerID,
			CardIDs:    msg.Cards,
			Token:      msg.Token,
		})
		if err != nil {
			return rejectEnvelope(envelope.T, err)
		}
		return ackEnvelope(envelope.T, map[string]any{
			"held":     result.Held,
			"added":    result.Added,
			"released": result.Released,
		})

	case MsgDeselectCard:
		var msg deselectCardMsg
		if err := json.Unmarshal(envelope.M, &msg); err != nil {
			return rejectEnvelope(envelope.T, apperrors.New(apperrors.CodeUnknown, "malformed payload"))
		}
		if err := a.DeselectCard(ctx, client.GameTypeID, client.PlayerID, msg.Card); err != nil {
			return rejectEnvelope(envelope.T, err)
		}
		return ackEnvelope(envelope.T, nil)

	case MsgLeave:
		released, err := a.Leave(ctx, client.GameTypeID, client.PlayerID)
		if err != nil {
			return rejectEnvelope(envelope.T, err)
		}
		return ackEnvelope(envelope.T, map[string]any{"released": released})

	case MsgRequestStart:
		if err := a.RequestStart(ctx, client.GameTypeID, client.PlayerID); err != nil {
			return rejectEnvelope(envelope.T, err)
		}
		return ackEnvelope(envelope.T, nil)

	case MsgBingo:
		var msg bingoMsg
		if err := json.Unmarshal(envelope.M, &msg); err != nil {
			return rejectEnvelope(envelope.T, apperrors.New(apperrors.CodeUnknown, "malformed payload"))
		}
		result, err := a.ClaimBingo(ctx, ClaimInput{
			RoundID:  msg.RoundID,
			PlayerID: client.PlayerID,
			CardID:   msg.Card,
			Selected: msg.Selected,
			Token:    msg.Token,
		})
		if err != nil {
			return rejectEnvelope(envelope.T, err)
		}
		if !result.Settled {
			return ackEnvelope(envelope.T, nil)
		}
		return ackEnvelope(envelope.T, map[string]any{
			"prize_cents": result.PrizeCents,
			"pattern":     result.Pattern,
		})

	default:
		return rejectEnvelope(envelope.T, apperrors.WithMetadata(apperrors.CodeUnknown,
			"unknown message type", map[string]string{"type": envelope.T}))
	}
}

func ackEnvelope(messageType string, data any) broker.Envelope {
	payload, err := json.Marshal(ackPayload{For: messageType, Data: data})
	if err != nil {
		payload = []byte(fmt.Sprintf(`{"for":%q}`, messageType))
	}
	return broker.Envelope{T: MsgAck, M: payload}
}

func rejectEnvelope(messageType string, err error) broker.Envelope {
	code := apperrors.CodeOf(err)
	message := "internal error"
	if code.KindOf() != apperrors.KindInternal {
		message = err.Error()
	}
	payload, marshalErr := json.Marshal(rejectPayload{
		For:      messageType,
		Code:     string(code),
		Kind:     kindLabel(code.KindOf()),
		Message:  message,
		Metadata: apperrors.MetadataOf(err),
	})
	if marshalErr != nil {
		payload = []byte(`{"code":"INTERNAL"}`)
	}
	return broker.Envelope{T: MsgReject, M: payload}
}

func kindLabel(kind apperrors.Kind) string {
	switch kind {
	case apperrors.KindValidation:
		return "validation"
	case apperrors.KindContention:
		return "contention"
	case apperrors.KindConsistency:
		return "consistency"
	default:
		return "internal"
	}
}
