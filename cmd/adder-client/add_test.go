package main

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/google/go-cmp/cmp"

	"duplex-rpc/adder"
	"duplex-rpc/client"
	"duplex-rpc/server"
)

func init() {
	color.NoColor = true
}

func dialAdder(t *testing.T) (*client.Client, context.Context) {
	t.Helper()
	svr := server.NewServer()
	if err := adder.Register(svr); err != nil {
		t.Fatal(err)
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go svr.ServeListener(listener)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	c, err := client.Dial(ctx, "tcp", listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		c.Close()
		svr.Shutdown(time.Second)
		cancel()
	})
	return c, ctx
}

func lines(b *bytes.Buffer) []string {
	return strings.Split(strings.TrimSpace(b.String()), "\n")
}

func TestAddStream(t *testing.T) {
	c, ctx := dialAdder(t)
	var out, errOut bytes.Buffer

	in := strings.NewReader("1 2\n\n-5 5\nnot a pair\n40 2\n")
	if err := addStream(ctx, c, in, newPrinter(&out, &errOut)); err != nil {
		t.Fatal(err)
	}

	want := []string{"1 + 2 = 3", "-5 + 5 = 0", "40 + 2 = 42"}
	if diff := cmp.Diff(want, lines(&out)); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
	if got := errOut.String(); !strings.Contains(got, "line 4") {
		t.Fatalf("expect line 4 reported, got %q", got)
	}
}

func TestAddFloats(t *testing.T) {
	c, ctx := dialAdder(t)
	var out, errOut bytes.Buffer

	if err := addFloats(ctx, c, strings.NewReader("1.5 2.25\n0 0\n"), newPrinter(&out, &errOut)); err != nil {
		t.Fatal(err)
	}
	want := []string{"1.5 + 2.25 = 3.75", "0 + 0 = 0"}
	if diff := cmp.Diff(want, lines(&out)); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestParsePair(t *testing.T) {
	tests := []struct {
		in      string
		x, y    float64
		wantErr bool
	}{
		{"1 2", 1, 2, false},
		{"  -7\t3 ", -7, 3, false},
		{"1", 0, 0, true},
		{"1 2 3", 0, 0, true},
		{"a 2", 0, 0, true},
		{"2147483648 0", 0, 0, true},
	}
	for _, tt := range tests {
		x, y, err := parsePair(tt.in, 32, parseInt)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parsePair(%q): unexpected error %v", tt.in, err)
		}
		if err == nil && (x != tt.x || y != tt.y) {
			t.Fatalf("parsePair(%q) = %v %v", tt.in, x, y)
		}
	}
}
