// Package protocol implements the webcast push-protocol wire format: a
// protobuf PushFrame envelope whose payload is a (usually gzip-compressed)
// Response carrying a batch of platform messages. Only the fields this
// service consumes are decoded; unknown fields are skipped.
package protocol

import (
	"errors"
	"fmt"
)

// Payload type tags carried in the PushFrame envelope.
const (
	PayloadTypeMsg       = "msg"
	PayloadTypeAck       = "ack"
	PayloadTypeHeartbeat = "hb"
)

// MethodChat identifies chat messages inside a Response batch. All other
// message methods (gifts, likes, room stats, ...) are ignored.
const MethodChat = "WebcastChatMessage"

// Frame is the decoded push envelope. It is transient: it exists only while
// one inbound websocket message is being handled.
type Frame struct {
	SeqID           uint64
	LogID           uint64
	Service         uint64
	Method          uint64
	PayloadEncoding string
	PayloadType     string
	Payload         []byte
}

// Response is the decompressed payload of a "msg" frame.
type Response struct {
	Messages    []Message
	Cursor      string
	FetchMs     uint64
	Now         uint64
	InternalExt string
	NeedAck     bool
}

// Message is one entry of a Response batch. Payload stays opaque until the
// method is known to be one we decode.
type Message struct {
	Method  string
	Payload []byte
	MsgID   uint64
	MsgType uint64
}

// ChatMessage carries the chat fields this service persists.
type ChatMessage struct {
	User      ChatUser
	Content   string
	EventTime uint64
}

// ChatUser identifies the sender of a chat message.
type ChatUser struct {
	ID       uint64
	ShortID  uint64
	NickName string
}

// ErrMalformedFrame reports an envelope that cannot be parsed. The frame is
// dropped; the connection stays up.
var ErrMalformedFrame = errors.New("protocol: malformed push frame")

// DecompressionError reports a payload whose declared compression cannot be
// reversed. The frame is dropped; the connection stays up.
type DecompressionError struct {
	Encoding string
	Err      error
}

func (e *DecompressionError) Error() string {
	return fmt.Sprintf("protocol: decompress %q payload: %v", e.Encoding, e.Err)
}

func (e *DecompressionError) Unwrap() error { return e.Err }

// MessageDecodeError reports a single undecodable message inside a batch.
// Only that message is dropped; the rest of the batch continues.
type MessageDecodeError struct {
	Method string
	Err    error
}

func (e *MessageDecodeError) Error() string {
	return fmt.Sprintf("protocol: decode %s message: %v", e.Method, e.Err)
}

func (e *MessageDecodeError) Unwrap() error { return e.Err }
