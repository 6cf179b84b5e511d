// Package method binds request and response codecs to a named remote method.
//
// A Descriptor is created once at process start and handed explicitly to both
// the calling side (client.Call) and the serving side (server.Handle). Both
// peers must build their descriptors from the same service name, method name
// and schemas; the full name is the only thing sent on the wire.
package method

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"duplex-rpc/codec"
)

// Mode is the call shape of a method.
type Mode byte

const (
	Unary           Mode = 1 // One request, one response
	ClientStreaming Mode = 2 // Many requests, one response
	ServerStreaming Mode = 3 // One request, many responses
	DuplexStreaming Mode = 4 // Both directions independent sequences
)

func (m Mode) String() string {
	switch m {
	case Unary:
		return "unary"
	case ClientStreaming:
		return "client-streaming"
	case ServerStreaming:
		return "server-streaming"
	case DuplexStreaming:
		return "duplex-streaming"
	}
	return fmt.Sprintf("mode(%d)", byte(m))
}

func (m Mode) valid() bool {
	return m >= Unary && m <= DuplexStreaming
}

// SingleRequest reports whether the caller sends exactly one message.
func (m Mode) SingleRequest() bool {
	return m == Unary || m == ServerStreaming
}

// SingleResponse reports whether the server answers with exactly one message.
func (m Mode) SingleResponse() bool {
	return m == Unary || m == ClientStreaming
}

// Info is the type-erased view of a Descriptor.
type Info interface {
	Service() string
	Name() string
	FullName() string
	Mode() Mode
}

// Descriptor is the immutable binding of a method name, its call shape and
// both message codecs. It is safe to share across concurrent calls.
type Descriptor[Req, Resp any] struct {
	service string
	name    string
	mode    Mode
	req     codec.Marshaller[Req]
	resp    codec.Marshaller[Resp]
}

// Register creates the descriptor for service/name.
func Register[Req, Resp any](service, name string, mode Mode, req codec.Marshaller[Req], resp codec.Marshaller[Resp]) (*Descriptor[Req, Resp], error) {
	if service == "" || name == "" {
		return nil, errors.New("method: service and method name are required")
	}
	if strings.Contains(service, "/") || strings.Contains(name, "/") {
		return nil, fmt.Errorf("method: %q/%q: names must not contain '/'", service, name)
	}
	if !mode.valid() {
		return nil, fmt.Errorf("method: %s/%s: invalid mode %s", service, name, mode)
	}
	if isNil(req) || isNil(resp) {
		return nil, fmt.Errorf("method: %s/%s: request and response marshallers are required", service, name)
	}
	return &Descriptor[Req, Resp]{
		service: service,
		name:    name,
		mode:    mode,
		req:     req,
		resp:    resp,
	}, nil
}

// isNil also catches a nil pointer stored in the interface, such as an
// unset *codec.Schema[T].
func isNil(m any) bool {
	if m == nil {
		return true
	}
	switch v := reflect.ValueOf(m); v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// MustRegister is like Register but panics on error.
func MustRegister[Req, Resp any](service, name string, mode Mode, req codec.Marshaller[Req], resp codec.Marshaller[Resp]) *Descriptor[Req, Resp] {
	d, err := Register(service, name, mode, req, resp)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Descriptor[Req, Resp]) Service() string { return d.service }
func (d *Descriptor[Req, Resp]) Name() string    { return d.name }
func (d *Descriptor[Req, Resp]) Mode() Mode      { return d.mode }

// FullName is the wire address of the method: "/Service/Method".
func (d *Descriptor[Req, Resp]) FullName() string {
	return "/" + d.service + "/" + d.name
}

// Request returns the request codec.
func (d *Descriptor[Req, Resp]) Request() codec.Marshaller[Req] { return d.req }

// Response returns the response codec.
func (d *Descriptor[Req, Resp]) Response() codec.Marshaller[Resp] { return d.resp }

func (d *Descriptor[Req, Resp]) String() string {
	return d.FullName() + " (" + d.mode.String() + ")"
}
