package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecode_Variants(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Signal
	}{
		{
			name: "join",
			in:   `{"type":"Join","room":"r1","user":"alice"}`,
			want: Join{Room: "r1", User: "alice"},
		},
		{
			name: "join with session",
			in:   `{"type":"Join","room":"r1","user":"alice","session_id":"s-9"}`,
			want: Join{Room: "r1", User: "alice", SessionID: "s-9"},
		},
		{
			name: "leave",
			in:   `{"type":"Leave","room":"r1","user":"alice"}`,
			want: Leave{Room: "r1", User: "alice"},
		},
		{
			name: "offer",
			in:   `{"type":"Offer","to":"bob","from":"alice","sdp":"v=0"}`,
			want: Offer{To: "bob", From: "alice", SDP: "v=0"},
		},
		{
			name: "answer",
			in:   `{"type":"Answer","to":"alice","from":"bob","sdp":"v=0"}`,
			want: Answer{To: "alice", From: "bob", SDP: "v=0"},
		},
		{
			name: "ice",
			in:   `{"type":"Ice","to":"bob","from":"alice","candidate":"candidate:1"}`,
			want: ICECandidate{To: "bob", From: "alice", Candidate: "candidate:1"},
		},
		{
			name: "trigger offer from client decodes so the caller can reject it",
			in:   `{"type":"TriggerOffer","target_user":"bob","room":"r1"}`,
			want: TriggerOffer{TargetUser: "bob", Room: "r1"},
		},
		{
			name: "ping",
			in:   `{"type":"Ping"}`,
			want: Ping{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.in))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Decode=%#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecode_Failures(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not json", `{{{`},
		{"missing type", `{"room":"r1","user":"alice"}`},
		{"unknown type", `{"type":"Subscribe"}`},
		{"wrong field type", `{"type":"Join","room":42,"user":"alice"}`},
		{"join without user", `{"type":"Join","room":"r1"}`},
		{"offer without target", `{"type":"Offer","from":"alice","sdp":"v=0"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.in)); err == nil {
				t.Fatalf("Decode(%q) succeeded, want error", tt.in)
			}
		})
	}
}

func TestDecode_SentinelErrors(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"Nope"}`)); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("err=%v, want ErrUnknownType", err)
	}
	if _, err := Decode([]byte(`{}`)); !errors.Is(err, ErrMissingType) {
		t.Fatalf("err=%v, want ErrMissingType", err)
	}
}

func TestNotices_WireShape(t *testing.T) {
	tests := []struct {
		name string
		got  []byte
		want map[string]any
	}{
		{
			name: "join notice",
			got:  JoinNotice("alice", "r1"),
			want: map[string]any{"type": "join", "user": "alice", "room": "r1"},
		},
		{
			name: "trigger offer",
			got:  TriggerOfferNotice("bob", "r1"),
			want: map[string]any{"type": "trigger_offer", "new_user": "bob", "room": "r1", "action": "send_offer"},
		},
		{
			name: "leave notice",
			got:  LeaveNotice("alice", "r1"),
			want: map[string]any{"type": "leave", "user": "alice", "room": "r1"},
		},
		{
			name: "relayed offer keeps exact-case tag",
			got:  RelayedOffer("alice", "v=0"),
			want: map[string]any{"type": "Offer", "from": "alice", "sdp": "v=0"},
		},
		{
			name: "relayed answer",
			got:  RelayedAnswer("bob", "v=0"),
			want: map[string]any{"type": "Answer", "from": "bob", "sdp": "v=0"},
		},
		{
			name: "relayed ice is lowercase",
			got:  RelayedICECandidate("alice", "candidate:1"),
			want: map[string]any{"type": "ice", "from": "alice", "candidate": "candidate:1"},
		},
		{
			name: "pong",
			got:  Pong(),
			want: map[string]any{"type": "pong"},
		},
		{
			name: "session conflict",
			got:  SessionConflictNotice("alice", "r1", "superseded"),
			want: map[string]any{"type": "session_conflict", "user": "alice", "room": "r1", "reason": "superseded"},
		},
		{
			name: "user disconnected",
			got:  UserDisconnectedNotice("bob", "r1", "probe failed"),
			want: map[string]any{"type": "user_disconnected", "user": "bob", "room": "r1", "reason": "probe failed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var decoded map[string]any
			if err := json.Unmarshal(tt.got, &decoded); err != nil {
				t.Fatalf("unmarshal %s: %v", tt.got, err)
			}
			if len(decoded) != len(tt.want) {
				t.Fatalf("fields=%v, want %v", decoded, tt.want)
			}
			for k, v := range tt.want {
				if decoded[k] != v {
					t.Fatalf("field %q=%v, want %v", k, decoded[k], v)
				}
			}
		})
	}
}
