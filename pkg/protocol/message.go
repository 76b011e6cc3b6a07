package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Message kinds
const (
	KindHello Kind = 0
	KindBye   Kind = 1
	KindPost  Kind = 2
	KindError Kind = 3
	KindList  Kind = 4 // request (client → server) and reply (server → client)
)

// Field capacities. Each slot carries one extra byte for the NUL terminator.
const (
	NameSlotSize = 21
	TextSlotSize = 141

	MaxNameLength = NameSlotSize - 1 // 20
	MaxTextLength = TextSlotSize - 1 // 140

	headerSize = 4 * 4

	// MessageSize is the encoded size of every message on the wire
	MessageSize = headerSize + NameSlotSize + TextSlotSize // 178
)

// ServerID is the origin id of messages produced by the server itself.
// As a destination it means "broadcast".
const ServerID uint32 = 0

var (
	ErrMalformedMessage = errors.New("malformed message")
)

// Kind identifies the message type
type Kind uint32

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "HELLO"
	case KindBye:
		return "BYE"
	case KindPost:
		return "POST"
	case KindError:
		return "ERROR"
	case KindList:
		return "LIST"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether k is a kind this protocol knows about
func (k Kind) Valid() bool {
	return k <= KindList
}

// Message is the only unit exchanged on the wire.
// Layout: [Kind (4)][OriginID (4)][DestinationID (4)][TextLength (4)][SenderName (21)][Text (141)]
// All integers are big-endian.
type Message struct {
	Kind          Kind
	OriginID      uint32
	DestinationID uint32
	TextLength    uint32
	SenderName    string
	Text          string
}

// NewMessage builds a message with name and text already truncated to their
// slot capacity and TextLength computed from the truncated text.
func NewMessage(kind Kind, origin, destination uint32, name, text string) *Message {
	name = truncate(name, MaxNameLength)
	text = truncate(text, MaxTextLength)
	return &Message{
		Kind:          kind,
		OriginID:      origin,
		DestinationID: destination,
		TextLength:    uint32(len(text)),
		SenderName:    name,
		Text:          text,
	}
}

// TruncateName cuts a display name to what fits in the name slot
func TruncateName(name string) string {
	return truncate(name, MaxNameLength)
}

// TruncateText cuts text to what fits in the text slot
func TruncateText(text string) string {
	return truncate(text, MaxTextLength)
}

// SanitizeName drops control characters and invalid UTF-8 from a display
// name, trims surrounding space and fits it to the name slot. Directory and
// journal lines are newline-delimited, so a name never carries a line break.
func SanitizeName(name string) string {
	if i := strings.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.ToValidUTF8(name, ""))
	return strings.TrimSpace(truncate(strings.TrimSpace(name), MaxNameLength))
}

// NewHello creates a connect request (client) or id assignment (server)
func NewHello(origin, destination uint32, name string) *Message {
	return NewMessage(KindHello, origin, destination, name, "")
}

// NewBye creates a disconnect notice
func NewBye(origin uint32, name string) *Message {
	return NewMessage(KindBye, origin, ServerID, name, "")
}

// NewPost creates a text post. destination 0 broadcasts.
func NewPost(origin, destination uint32, name, text string) *Message {
	return NewMessage(KindPost, origin, destination, name, text)
}

// NewError creates a server error report addressed to destination
func NewError(destination uint32, serverName, text string) *Message {
	return NewMessage(KindError, ServerID, destination, serverName, text)
}

// NewListRequest creates a directory query
func NewListRequest(origin uint32, name string) *Message {
	return NewMessage(KindList, origin, ServerID, name, "")
}

// NewListReply creates a directory reply carrying directory lines
func NewListReply(destination uint32, serverName, directory string) *Message {
	return NewMessage(KindList, ServerID, destination, serverName, directory)
}

// IsStatus reports whether m is a server status heartbeat
func (m *Message) IsStatus() bool {
	return m.Kind == KindPost && m.OriginID == ServerID
}

// IsBroadcast reports whether m is addressed to every session
func (m *Message) IsBroadcast() bool {
	return m.DestinationID == ServerID
}

func (m *Message) String() string {
	return fmt.Sprintf("%s %d→%d name=%q len=%d", m.Kind, m.OriginID, m.DestinationID, m.SenderName, m.TextLength)
}

// EncodeTo writes the fixed-size encoding of m to w
func (m *Message) EncodeTo(w io.Writer) error {
	_, err := w.Write(Encode(m))
	return err
}

// Encode serializes m field by field into exactly MessageSize bytes.
// Name and text are truncated to capacity; TextLength always reflects the
// text as written, whatever the caller put in m.TextLength.
func Encode(m *Message) []byte {
	buf := make([]byte, MessageSize)
	text := truncate(m.Text, MaxTextLength)

	putUint32(buf[0:], uint32(m.Kind))
	putUint32(buf[4:], m.OriginID)
	putUint32(buf[8:], m.DestinationID)
	putUint32(buf[12:], uint32(len(text)))
	putFixedString(buf[headerSize:headerSize+NameSlotSize], m.SenderName)
	putFixedString(buf[headerSize+NameSlotSize:], text)

	return buf
}

// Decode parses one message from a datagram. Bytes past MessageSize are ignored.
func Decode(data []byte) (*Message, error) {
	if len(data) < MessageSize {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", ErrMalformedMessage, len(data), MessageSize)
	}

	m := &Message{
		Kind:          Kind(readUint32(data[0:])),
		OriginID:      readUint32(data[4:]),
		DestinationID: readUint32(data[8:]),
		TextLength:    readUint32(data[12:]),
		SenderName:    readFixedString(data[headerSize : headerSize+NameSlotSize]),
		Text:          readFixedString(data[headerSize+NameSlotSize : MessageSize]),
	}

	if m.TextLength > MaxTextLength {
		return nil, fmt.Errorf("%w: text length %d exceeds %d", ErrMalformedMessage, m.TextLength, MaxTextLength)
	}
	if int(m.TextLength) != len(m.Text) {
		return nil, fmt.Errorf("%w: text length %d does not match text (%d bytes)", ErrMalformedMessage, m.TextLength, len(m.Text))
	}

	return m, nil
}

// DecodeFrom reads exactly MessageSize bytes from r and decodes them
func DecodeFrom(r io.Reader) (*Message, error) {
	buf := make([]byte, MessageSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return nil, err
	}
	return Decode(buf)
}

// truncate cuts s at the first NUL and then to at most max bytes, backing off
// so a multi-byte UTF-8 sequence is never split.
func truncate(s string, max int) string {
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for back := 0; back < utf8.UTFMax-1 && cut > 0 && !utf8.RuneStart(s[cut]); back++ {
		cut--
	}
	if !utf8.RuneStart(s[cut]) {
		cut = max
	}
	return s[:cut]
}

// Equal compares every wire-visible field
func (m *Message) Equal(other *Message) bool {
	if m == nil || other == nil {
		return m == other
	}
	return bytes.Equal(Encode(m), Encode(other))
}
