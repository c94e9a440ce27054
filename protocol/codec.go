package protocol

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"google.golang.org/protobuf/encoding/protowire"
)

// PushFrame field numbers.
const (
	frameFieldSeqID           = 1
	frameFieldLogID           = 2
	frameFieldService         = 3
	frameFieldMethod          = 4
	frameFieldPayloadEncoding = 6
	frameFieldPayloadType     = 7
	frameFieldPayload         = 8
)

// Response field numbers.
const (
	respFieldMessages    = 1
	respFieldCursor      = 2
	respFieldFetchMs     = 3
	respFieldNow         = 4
	respFieldInternalExt = 5
	respFieldNeedAck     = 9
)

// Message field numbers.
const (
	msgFieldMethod  = 1
	msgFieldPayload = 2
	msgFieldMsgID   = 3
	msgFieldMsgType = 4
)

// ChatMessage / User field numbers.
const (
	chatFieldUser      = 2
	chatFieldContent   = 3
	chatFieldEventTime = 15

	userFieldID       = 1
	userFieldShortID  = 2
	userFieldNickName = 3
)

// DecodeFrame parses the outer PushFrame envelope. Payload bytes are copied
// so the frame stays valid after the read buffer is reused.
func DecodeFrame(b []byte) (*Frame, error) {
	f := &Frame{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, ErrMalformedFrame
		}
		b = b[n:]
		switch {
		case typ == protowire.VarintType &&
			(num == frameFieldSeqID || num == frameFieldLogID || num == frameFieldService || num == frameFieldMethod):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, ErrMalformedFrame
			}
			switch num {
			case frameFieldSeqID:
				f.SeqID = v
			case frameFieldLogID:
				f.LogID = v
			case frameFieldService:
				f.Service = v
			case frameFieldMethod:
				f.Method = v
			}
			b = b[n:]
		case typ == protowire.BytesType &&
			(num == frameFieldPayloadEncoding || num == frameFieldPayloadType || num == frameFieldPayload):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, ErrMalformedFrame
			}
			switch num {
			case frameFieldPayloadEncoding:
				f.PayloadEncoding = string(v)
			case frameFieldPayloadType:
				f.PayloadType = string(v)
			case frameFieldPayload:
				f.Payload = bytes.Clone(v)
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, ErrMalformedFrame
			}
			b = b[n:]
		}
	}
	return f, nil
}

// DecodePayload decompresses the frame payload according to its declared
// encoding and parses the Response batch.
func DecodePayload(f *Frame) (*Response, error) {
	raw := f.Payload
	switch f.PayloadEncoding {
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, &DecompressionError{Encoding: f.PayloadEncoding, Err: err}
		}
		raw, err = io.ReadAll(zr)
		if cerr := zr.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, &DecompressionError{Encoding: f.PayloadEncoding, Err: err}
		}
	case "", "pb", "none":
		// already plain protobuf
	default:
		return nil, &DecompressionError{Encoding: f.PayloadEncoding, Err: fmt.Errorf("unsupported encoding")}
	}
	return decodeResponse(raw)
}

func decodeResponse(b []byte) (*Response, error) {
	r := &Response{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, ErrMalformedFrame
		}
		b = b[n:]
		switch {
		case num == respFieldMessages && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, ErrMalformedFrame
			}
			m, err := decodeMessage(v)
			if err != nil {
				return nil, err
			}
			r.Messages = append(r.Messages, m)
			b = b[n:]
		case num == respFieldCursor && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, ErrMalformedFrame
			}
			r.Cursor = string(v)
			b = b[n:]
		case num == respFieldInternalExt && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, ErrMalformedFrame
			}
			r.InternalExt = string(v)
			b = b[n:]
		case typ == protowire.VarintType && (num == respFieldFetchMs || num == respFieldNow || num == respFieldNeedAck):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, ErrMalformedFrame
			}
			switch num {
			case respFieldFetchMs:
				r.FetchMs = v
			case respFieldNow:
				r.Now = v
			case respFieldNeedAck:
				r.NeedAck = v != 0
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, ErrMalformedFrame
			}
			b = b[n:]
		}
	}
	return r, nil
}

func decodeMessage(b []byte) (Message, error) {
	var m Message
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, ErrMalformedFrame
		}
		b = b[n:]
		switch {
		case num == msgFieldMethod && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, ErrMalformedFrame
			}
			m.Method = string(v)
			b = b[n:]
		case num == msgFieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, ErrMalformedFrame
			}
			m.Payload = bytes.Clone(v)
			b = b[n:]
		case typ == protowire.VarintType && (num == msgFieldMsgID || num == msgFieldMsgType):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, ErrMalformedFrame
			}
			if num == msgFieldMsgID {
				m.MsgID = v
			} else {
				m.MsgType = v
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return m, ErrMalformedFrame
			}
			b = b[n:]
		}
	}
	return m, nil
}

// DecodeChat parses the payload of a WebcastChatMessage. A failure here is
// scoped to this one message.
func DecodeChat(b []byte) (*ChatMessage, error) {
	c := &ChatMessage{}
	orig := b
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, &MessageDecodeError{Method: MethodChat, Err: truncatedAt(orig, b)}
		}
		b = b[n:]
		switch {
		case num == chatFieldUser && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, &MessageDecodeError{Method: MethodChat, Err: truncatedAt(orig, b)}
			}
			u, err := decodeUser(v)
			if err != nil {
				return nil, &MessageDecodeError{Method: MethodChat, Err: err}
			}
			c.User = u
			b = b[n:]
		case num == chatFieldContent && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, &MessageDecodeError{Method: MethodChat, Err: truncatedAt(orig, b)}
			}
			c.Content = string(v)
			b = b[n:]
		case num == chatFieldEventTime && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, &MessageDecodeError{Method: MethodChat, Err: truncatedAt(orig, b)}
			}
			c.EventTime = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, &MessageDecodeError{Method: MethodChat, Err: truncatedAt(orig, b)}
			}
			b = b[n:]
		}
	}
	return c, nil
}

func decodeUser(b []byte) (ChatUser, error) {
	var u ChatUser
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return u, fmt.Errorf("truncated user field")
		}
		b = b[n:]
		switch {
		case typ == protowire.VarintType && (num == userFieldID || num == userFieldShortID):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return u, fmt.Errorf("truncated user field")
			}
			if num == userFieldID {
				u.ID = v
			} else {
				u.ShortID = v
			}
			b = b[n:]
		case num == userFieldNickName && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return u, fmt.Errorf("truncated user field")
			}
			u.NickName = string(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return u, fmt.Errorf("truncated user field")
			}
			b = b[n:]
		}
	}
	return u, nil
}

func truncatedAt(orig, rest []byte) error {
	return fmt.Errorf("truncated at byte %d of %d", len(orig)-len(rest), len(orig))
}

// EncodeAck builds the ack frame for a batch that requested acknowledgement.
// It echoes the log id of the frame being acknowledged and carries the
// server-supplied extension bytes back unchanged.
func EncodeAck(logID uint64, ext []byte) []byte {
	b := protowire.AppendTag(nil, frameFieldLogID, protowire.VarintType)
	b = protowire.AppendVarint(b, logID)
	b = protowire.AppendTag(b, frameFieldPayloadType, protowire.BytesType)
	b = protowire.AppendString(b, PayloadTypeAck)
	b = protowire.AppendTag(b, frameFieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, ext)
	return b
}

// EncodeHeartbeat builds the periodic keepalive frame.
func EncodeHeartbeat() []byte {
	b := protowire.AppendTag(nil, frameFieldPayloadType, protowire.BytesType)
	b = protowire.AppendString(b, PayloadTypeHeartbeat)
	return b
}
