package generative

import "github.com/randalmurphal/generative/pkg/generative/message"

// Output is the result of an Action: a complete message, a stream of
// deltas, or nothing. The zero Output produces no message, which lets an
// action act as a delay or a side effect that still holds its turn.
type Output struct {
	msg    *message.Message
	stream message.Stream
}

// Complete returns an Output holding msg. An empty role defaults to assistant.
func Complete(msg message.Message) Output {
	msg = msg.Clone()
	return Output{msg: &msg}
}

// Text returns an Output holding an assistant message with content.
func Text(content string) Output {
	return Complete(message.Assistant(content))
}

// Streamed returns an Output whose message is assembled from s.
func Streamed(s message.Stream) Output {
	return Output{stream: s}
}

// IsZero reports whether the Output carries no message.
func (o Output) IsZero() bool {
	return o.msg == nil && o.stream == nil
}

func (o Output) mode() string {
	switch {
	case o.stream != nil:
		return "stream"
	case o.msg != nil:
		return "message"
	default:
		return "none"
	}
}
