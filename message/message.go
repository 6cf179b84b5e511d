// Package message defines the envelope that carries one decoded inbound
// message through the server's middleware chain.
//
// The payload is already decoded by the method's request codec; handlers
// and middleware only see typed values, never frames.
package message

import "fmt"

// Inbound is one request message received on a stream.
//
//   - Method:   full method name, e.g. "/AdditionService/AdditionMethod".
//   - StreamID: transport stream the message arrived on.
//   - Seq:      1-based position of the message within its stream.
//   - Payload:  the decoded request, a *Req of the method's request type.
type Inbound struct {
	Method   string
	StreamID uint32
	Seq      uint64
	Payload  any
}

func (m *Inbound) String() string {
	return fmt.Sprintf("%s stream=%d seq=%d", m.Method, m.StreamID, m.Seq)
}
