package node

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// NoSender marks a message decoded from the minimal wire variant.
const NoSender = -1

// Message is one decoded wire message.
type Message struct {
	From  int   // sender id, or NoSender
	Clock int64 // sender's post-increment logical clock
}

// EncodeMessage renders a message as a newline-terminated token.
//
//	minimal:  "42\n"
//	enriched: "3:42\n"
func EncodeMessage(m Message) []byte {
	var b []byte
	if m.From != NoSender {
		b = strconv.AppendInt(b, int64(m.From), 10)
		b = append(b, ':')
	}
	b = strconv.AppendInt(b, m.Clock, 10)
	return append(b, '\n')
}

var (
	errNegative = errors.New("negative value")
	errOverflow = errors.New("value leaves no room for a receive increment")
)

// DecodeMessage parses one token (without its newline). Both the minimal
// and the enriched variant are accepted. Errors are *Error with ErrCodeMalformed.
func DecodeMessage(token string) (Message, error) {
	token = strings.TrimSpace(token)

	m := Message{From: NoSender}
	clockPart := token
	if sender, rest, ok := strings.Cut(token, ":"); ok {
		id, err := strconv.Atoi(sender)
		if err != nil {
			return Message{}, newMalformedError(token, err)
		}
		if id < 0 {
			return Message{}, newMalformedError(token, errNegative)
		}
		m.From = id
		clockPart = rest
	}

	v, err := strconv.ParseInt(clockPart, 10, 64)
	if err != nil {
		return Message{}, newMalformedError(token, err)
	}
	if v < 0 {
		return Message{}, newMalformedError(token, errNegative)
	}
	// Witness adds one to the received value.
	if v == math.MaxInt64 {
		return Message{}, newMalformedError(token, errOverflow)
	}
	m.Clock = v
	return m, nil
}
