package app

import (
	"context"
	"encoding/json"
	"testing"

	apperrors "github.com/louisbranch/bingohall/internal/platform/errors"
)

func TestDispatchSelectCardsAck(t *testing.T) {
	engine, store, _, _ := newTestApp(t)
	ctx := context.Background()

	join(t, engine, store, "alice", 2000)
	client := Client{GameTypeID: testGameType, PlayerID: "alice", ConnID: "conn-alice"}

	reply := engine.Dispatch(ctx, client, []byte(`{"t":"selectCards","m":{"cards":["11"]}}`))
	if reply.T != MsgAck {
		t.Fatalf("reply type = %s, want %s (payload %s)", reply.T, MsgAck, reply.M)
	}

	var payload ackPayload
	if err := json.Unmarshal(reply.M, &payload); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if payload.For != MsgSelectCards {
		t.Fatalf("ack for = %s, want %s", payload.For, MsgSelectCards)
	}
}

func TestDispatchRejectCarriesCodeAndMetadata(t *testing.T) {
	engine, store, _, _ := newTestApp(t)
	ctx := context.Background()

	join(t, engine, store, "alice", 2000, "11")
	join(t, engine, store, "bob", 2000)
	client := Client{GameTypeID: testGameType, PlayerID: "bob", ConnID: "conn-bob"}

	reply := engine.Dispatch(ctx, client, []byte(`{"t":"selectCards","m":{"cards":["11"]}}`))
	if reply.T != MsgReject {
		t.Fatalf("reply type = %s, want %s", reply.T, MsgReject)
	}

	var payload rejectPayload
	if err := json.Unmarshal(reply.M, &payload); err != nil {
		t.Fatalf("unmarshal reject: %v", err)
	}
	if payload.For != MsgSelectCards {
		t.Fatalf("reject for = %s, want %s", payload.For, MsgSelectCards)
	}
	if payload.Code != string(apperrors.CodeCardTaken) {
		t.Fatalf("code = %s, want %s", payload.Code, apperrors.CodeCardTaken)
	}
	if payload.Kind != "contention" {
		t.Fatalf("kind = %s, want contention", payload.Kind)
	}
	if payload.Metadata["card_id"] != "11" {
		t.Fatalf("metadata = %v, want card_id 11", payload.Metadata)
	}
}

func TestDispatchUnknownMessageType(t *testing.T) {
	engine, _, _, _ := newTestApp(t)

	client := Client{GameTypeID: testGameType, PlayerID: "alice"}
	reply := engine.Dispatch(context.Background(), client, []byte(`{"t":"teleport","m":{}}`))
	if reply.T != MsgReject {
		t.Fatalf("reply type = %s, want %s", reply.T, MsgReject)
	}

	var payload rejectPayload
	if err := json.Unmarshal(reply.M, &payload); err != nil {
		t.Fatalf("unmarshal reject: %v", err)
	}
	if payload.For != "teleport" || payload.Code != string(apperrors.CodeUnknown) {
		t.Fatalf("payload = %+v, want unknown type rejection", payload)
	}
}

func TestDispatchMalformedMessage(t *testing.T) {
	engine, _, _, _ := newTestApp(t)

	client := Client{GameTypeID: testGameType, PlayerID: "alice"}
	reply := engine.Dispatch(context.Background(), client, []byte(`{not json`))
	if reply.T != MsgReject {
		t.Fatalf("reply type = %s, want %s", reply.T, MsgReject)
	}
}

func TestDispatchRequestStartFlow(t *testing.T) {
	engine, store, _, _ := newTestApp(t)
	ctx := context.Background()

	join(t, engine, store, "alice", 2000, "11")
	join(t, engine, store, "bob", 2000, "22")
	client := Client{GameTypeID: testGameType, PlayerID: "alice", ConnID: "conn-alice"}

	reply := engine.Dispatch(ctx, client, []byte(`{"t":"requestStart","m":{}}`))
	if reply.T != MsgAck {
		t.Fatalf("reply type = %s, want %s (payload %s)", reply.T, MsgAck, reply.M)
	}

	reply = engine.Dispatch(ctx, client, []byte(`{"t":"requestStart","m":{}}`))
	if reply.T != MsgReject {
		t.Fatalf("second start reply = %s, want %s", reply.T, MsgReject)
	}
}

func TestDispatchLeaveReleasesSeat(t *testing.T) {
	engine, store, fast, _ := newTestApp(t)
	ctx := context.Background()

	roundID := join(t, engine, store, "alice", 2000, "11")
	client := Client{GameTypeID: testGameType, PlayerID: "alice", ConnID: "conn-alice"}

	reply := engine.Dispatch(ctx, client, []byte(`{"t":"leave","m":{}}`))
	if reply.T != MsgAck {
		t.Fatalf("reply type = %s, want %s (payload %s)", reply.T, MsgAck, reply.M)
	}

	member, err := fast.SIsMember(ctx, keyLivePlayers(roundID), "alice")
	if err != nil || member {
		t.Fatalf("live membership = %t err=%v, want gone", member, err)
	}
	held, err := fast.SMembers(ctx, keyPlayerCards(testGameType, "alice"))
	if err != nil {
		t.Fatalf("smembers: %v", err)
	}
	if len(held) != 0 {
		t.Fatalf("alice still holds %v after leave", held)
	}
}
