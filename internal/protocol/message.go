// Package protocol defines the signaling wire vocabulary: the closed set of
// inbound client messages and the ad-hoc JSON notices the server emits.
//
// Inbound messages are a tagged union on the "type" field with exact-case
// tags ("Join", "Offer", ...). Outbound notices use lowercase tags and are
// constructed from validated in-memory data, so encoding never fails.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrMissingType = errors.New("missing message type")
)

// Signal is an inbound signaling message decoded from a text frame.
type Signal interface {
	signal()
}

// Join binds the sending connection to a user identity and adds it to a room.
// SessionID is an optional client-chosen token echoed back on Leave for
// mismatch diagnostics.
type Join struct {
	Room      string
	User      string
	SessionID string
}

// Leave removes the user from the room.
type Leave struct {
	Room      string
	User      string
	SessionID string
}

// Offer is an SDP offer relayed verbatim to To.
type Offer struct {
	To   string
	From string
	SDP  string
}

// Answer is an SDP answer relayed verbatim to To.
type Answer struct {
	To   string
	From string
	SDP  string
}

// ICECandidate is a network candidate relayed verbatim to To.
type ICECandidate struct {
	To        string
	From      string
	Candidate string
}

// TriggerOffer is server-emitted only. Decoding one means a client sent it,
// which is a protocol violation the caller logs and drops.
type TriggerOffer struct {
	TargetUser string
	Room       string
}

// Ping is answered with a pong on the same connection.
type Ping struct{}

func (Join) signal()         {}
func (Leave) signal()        {}
func (Offer) signal()        {}
func (Answer) signal()       {}
func (ICECandidate) signal() {}
func (TriggerOffer) signal() {}
func (Ping) signal()         {}

// envelope mirrors every field any variant can carry. Per-variant required
// fields are checked after the tag is known.
type envelope struct {
	Type       string `json:"type"`
	Room       string `json:"room"`
	User       string `json:"user"`
	SessionID  string `json:"session_id"`
	To         string `json:"to"`
	From       string `json:"from"`
	SDP        string `json:"sdp"`
	Candidate  string `json:"candidate"`
	TargetUser string `json:"target_user"`
}

// Decode parses one inbound text frame.
//
// A decode failure is non-fatal to the connection: the caller logs the frame
// and keeps reading.
func Decode(data []byte) (Signal, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch env.Type {
	case "Join":
		if env.Room == "" || env.User == "" {
			return nil, errors.New("Join requires room and user")
		}
		return Join{Room: env.Room, User: env.User, SessionID: env.SessionID}, nil
	case "Leave":
		if env.Room == "" || env.User == "" {
			return nil, errors.New("Leave requires room and user")
		}
		return Leave{Room: env.Room, User: env.User, SessionID: env.SessionID}, nil
	case "Offer":
		if env.To == "" || env.From == "" {
			return nil, errors.New("Offer requires to and from")
		}
		return Offer{To: env.To, From: env.From, SDP: env.SDP}, nil
	case "Answer":
		if env.To == "" || env.From == "" {
			return nil, errors.New("Answer requires to and from")
		}
		return Answer{To: env.To, From: env.From, SDP: env.SDP}, nil
	case "Ice":
		if env.To == "" || env.From == "" {
			return nil, errors.New("Ice requires to and from")
		}
		return ICECandidate{To: env.To, From: env.From, Candidate: env.Candidate}, nil
	case "TriggerOffer":
		return TriggerOffer{TargetUser: env.TargetUser, Room: env.Room}, nil
	case "Ping":
		return Ping{}, nil
	case "":
		return nil, ErrMissingType
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// All notice types are flat string structs; Marshal cannot fail.
		panic(err)
	}
	return data
}

// JoinNotice is sent to the joiner as confirmation and to existing members as
// the new-member announcement. Both carry the same shape.
func JoinNotice(user, room string) []byte {
	return mustMarshal(struct {
		Type string `json:"type"`
		User string `json:"user"`
		Room string `json:"room"`
	}{"join", user, room})
}

// TriggerOfferNotice instructs an existing member to initiate the handshake
// toward the newcomer. Only existing members send offers, never the reverse,
// so a pair never produces duplicate offers.
func TriggerOfferNotice(newUser, room string) []byte {
	return mustMarshal(struct {
		Type    string `json:"type"`
		NewUser string `json:"new_user"`
		Room    string `json:"room"`
		Action  string `json:"action"`
	}{"trigger_offer", newUser, room, "send_offer"})
}

// LeaveNotice announces a departed member to the rest of the room.
func LeaveNotice(user, room string) []byte {
	return mustMarshal(struct {
		Type string `json:"type"`
		User string `json:"user"`
		Room string `json:"room"`
	}{"leave", user, room})
}

// RelayedOffer wraps a forwarded SDP offer. The tag keeps the inbound
// exact-case spelling so receiving clients reuse one parser.
func RelayedOffer(from, sdp string) []byte {
	return mustMarshal(struct {
		Type string `json:"type"`
		From string `json:"from"`
		SDP  string `json:"sdp"`
	}{"Offer", from, sdp})
}

// RelayedAnswer wraps a forwarded SDP answer.
func RelayedAnswer(from, sdp string) []byte {
	return mustMarshal(struct {
		Type string `json:"type"`
		From string `json:"from"`
		SDP  string `json:"sdp"`
	}{"Answer", from, sdp})
}

// RelayedICECandidate wraps a forwarded network candidate.
func RelayedICECandidate(from, candidate string) []byte {
	return mustMarshal(struct {
		Type      string `json:"type"`
		From      string `json:"from"`
		Candidate string `json:"candidate"`
	}{"ice", from, candidate})
}

// Pong answers an application-level Ping.
func Pong() []byte {
	return mustMarshal(struct {
		Type string `json:"type"`
	}{"pong"})
}

// SessionConflictNotice tells a superseded connection that a newer session
// claimed its identity. Delivery is best-effort; the old connection is often
// already gone.
func SessionConflictNotice(user, room, reason string) []byte {
	return mustMarshal(struct {
		Type   string `json:"type"`
		User   string `json:"user"`
		Room   string `json:"room"`
		Reason string `json:"reason"`
	}{"session_conflict", user, room, reason})
}

// UserDisconnectedNotice announces a forced eviction to the remaining members.
func UserDisconnectedNotice(user, room, reason string) []byte {
	return mustMarshal(struct {
		Type   string `json:"type"`
		User   string `json:"user"`
		Room   string `json:"room"`
		Reason string `json:"reason"`
	}{"user_disconnected", user, room, reason})
}
