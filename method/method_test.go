package method

import (
	"sync"
	"testing"

	"duplex-rpc/codec"
)

type args struct{ A, B int32 }

type reply struct{ Sum int32 }

var (
	argsSchema = codec.MustSchema("args",
		codec.Int32(0, "a", func(a *args) int32 { return a.A }, func(a *args, v int32) { a.A = v }),
		codec.Int32(1, "b", func(a *args) int32 { return a.B }, func(a *args, v int32) { a.B = v }),
	)
	replySchema = codec.MustSchema("reply",
		codec.Int32(0, "sum", func(r *reply) int32 { return r.Sum }, func(r *reply, v int32) { r.Sum = v }),
	)
)

func TestRegister(t *testing.T) {
	d, err := Register("Arith", "Add", DuplexStreaming, argsSchema, replySchema)
	if err != nil {
		t.Fatal(err)
	}
	if d.FullName() != "/Arith/Add" {
		t.Fatalf("expect /Arith/Add, got %s", d.FullName())
	}
	if d.Mode() != DuplexStreaming || d.Service() != "Arith" || d.Name() != "Add" {
		t.Fatalf("unexpected descriptor %s", d)
	}

	var info Info = d
	if info.Mode().SingleRequest() || info.Mode().SingleResponse() {
		t.Fatal("duplex mode must not be single request or single response")
	}
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name    string
		service string
		method  string
		mode    Mode
	}{
		{"empty service", "", "Add", Unary},
		{"empty method", "Arith", "", Unary},
		{"slash in name", "Ar/ith", "Add", Unary},
		{"zero mode", "Arith", "Add", 0},
		{"unknown mode", "Arith", "Add", 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Register(tt.service, tt.method, tt.mode, argsSchema, replySchema); err == nil {
				t.Fatal("expect error")
			}
		})
	}

	if _, err := Register[args, reply]("Arith", "Add", Unary, nil, replySchema); err == nil {
		t.Fatal("expect error for nil request marshaller")
	}

	var unset *codec.Schema[reply]
	if _, err := Register[args, reply]("Arith", "Add", Unary, argsSchema, unset); err == nil {
		t.Fatal("expect error for a nil schema pointer")
	}
	var unsetReq *codec.Schema[args]
	if _, err := Register[args, reply]("Arith", "Add", Unary, unsetReq, replySchema); err == nil {
		t.Fatal("expect error for a nil request schema pointer")
	}
}

func TestModeShape(t *testing.T) {
	tests := []struct {
		mode            Mode
		oneReq, oneResp bool
		name            string
	}{
		{Unary, true, true, "unary"},
		{ClientStreaming, false, true, "client-streaming"},
		{ServerStreaming, true, false, "server-streaming"},
		{DuplexStreaming, false, false, "duplex-streaming"},
	}
	for _, tt := range tests {
		if tt.mode.SingleRequest() != tt.oneReq || tt.mode.SingleResponse() != tt.oneResp {
			t.Errorf("%s: unexpected shape", tt.mode)
		}
		if tt.mode.String() != tt.name {
			t.Errorf("expect %s, got %s", tt.name, tt.mode)
		}
	}
}

// Both sides of a call use one descriptor concurrently.
func TestDescriptorSharedAcrossGoroutines(t *testing.T) {
	d := MustRegister("Arith", "Add", DuplexStreaming, argsSchema, replySchema)

	var wg sync.WaitGroup
	for i := int32(0); i < 32; i++ {
		wg.Add(1)
		go func(n int32) {
			defer wg.Done()
			data, err := d.Request().Marshal(&args{A: n, B: n})
			if err != nil {
				t.Error(err)
				return
			}
			got, err := d.Request().Unmarshal(data)
			if err != nil {
				t.Error(err)
				return
			}
			if got.A != n || got.B != n {
				t.Errorf("expect %d/%d, got %+v", n, n, got)
			}
		}(i)
	}
	wg.Wait()
}
