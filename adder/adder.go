// Package adder defines the addition services: the duplex streaming
// AdditionService/AdditionMethod and the unary ComputingService/AddFloat.
package adder

import (
	"context"

	"duplex-rpc/codec"
	"duplex-rpc/method"
	"duplex-rpc/server"
)

const (
	AdditionService  = "AdditionService"
	AdditionMethod   = "AdditionMethod"
	ComputingService = "ComputingService"
	AddFloatMethod   = "AddFloat"
)

type AdditionRequest struct {
	X int32
	Y int32
}

type AdditionResponse struct {
	Output int32
}

var (
	AdditionRequestSchema = codec.MustSchema("AdditionRequest",
		codec.Int32(0, "x", func(r *AdditionRequest) int32 { return r.X }, func(r *AdditionRequest, v int32) { r.X = v }),
		codec.Int32(1, "y", func(r *AdditionRequest) int32 { return r.Y }, func(r *AdditionRequest, v int32) { r.Y = v }),
	)
	AdditionResponseSchema = codec.MustSchema("AdditionResponse",
		codec.Int32(0, "output", func(r *AdditionResponse) int32 { return r.Output }, func(r *AdditionResponse, v int32) { r.Output = v }),
	)
)

// NewAdditionMethod describes the duplex addition method. Every request
// produces exactly one response.
func NewAdditionMethod() *method.Descriptor[AdditionRequest, AdditionResponse] {
	return method.MustRegister(AdditionService, AdditionMethod, method.DuplexStreaming,
		AdditionRequestSchema, AdditionResponseSchema)
}

// Add sums the two operands. Overflow wraps around like int32 arithmetic.
func Add(_ context.Context, req *AdditionRequest) ([]*AdditionResponse, error) {
	return []*AdditionResponse{{Output: req.X + req.Y}}, nil
}

type AddFloatRequest struct {
	X float32
	Y float32
}

type AddFloatResponse struct {
	Result float32
}

var (
	AddFloatRequestSchema = codec.MustSchema("AddFloatRequest",
		codec.Float32(0, "x", func(r *AddFloatRequest) float32 { return r.X }, func(r *AddFloatRequest, v float32) { r.X = v }),
		codec.Float32(1, "y", func(r *AddFloatRequest) float32 { return r.Y }, func(r *AddFloatRequest, v float32) { r.Y = v }),
	)
	AddFloatResponseSchema = codec.MustSchema("AddFloatResponse",
		codec.Float32(0, "result", func(r *AddFloatResponse) float32 { return r.Result }, func(r *AddFloatResponse, v float32) { r.Result = v }),
	)
)

func NewAddFloatMethod() *method.Descriptor[AddFloatRequest, AddFloatResponse] {
	return method.MustRegister(ComputingService, AddFloatMethod, method.Unary,
		AddFloatRequestSchema, AddFloatResponseSchema)
}

func AddFloat(_ context.Context, req *AddFloatRequest) ([]*AddFloatResponse, error) {
	return []*AddFloatResponse{{Result: req.X + req.Y}}, nil
}

// Register installs both services on s.
func Register(s *server.Server) error {
	if err := server.Handle(s, NewAdditionMethod(), Add); err != nil {
		return err
	}
	return server.Handle(s, NewAddFloatMethod(), AddFloat)
}
