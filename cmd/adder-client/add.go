package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"duplex-rpc/adder"
	"duplex-rpc/client"
)

type printer struct {
	out, errOut io.Writer
	ok, bad     *color.Color
}

func newPrinter(out, errOut io.Writer) *printer {
	return &printer{
		out:    out,
		errOut: errOut,
		ok:     color.New(color.FgHiGreen),
		bad:    color.New(color.FgHiRed),
	}
}

func (p *printer) result(format string, args ...any) {
	fmt.Fprintln(p.out, p.ok.Sprintf(format, args...))
}

func (p *printer) skip(line int, err error) {
	fmt.Fprintln(p.errOut, p.bad.Sprintf("line %d: %v", line, err))
}

// parsePair splits "x y" and converts both operands with parse.
func parsePair(s string, bitSize int, parse func(string, int) (float64, error)) (float64, float64, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("expect two operands, got %d", len(fields))
	}
	x, err := parse(fields[0], bitSize)
	if err != nil {
		return 0, 0, err
	}
	y, err := parse(fields[1], bitSize)
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

func parseInt(s string, bitSize int) (float64, error) {
	v, err := strconv.ParseInt(s, 10, bitSize)
	return float64(v), err
}

func parseFloat(s string, bitSize int) (float64, error) {
	return strconv.ParseFloat(s, bitSize)
}

// readPairs sends every valid line of in to emit. Blank lines are ignored and
// invalid ones are reported and skipped.
func readPairs(in io.Reader, p *printer, bitSize int, parse func(string, int) (float64, error), emit func(x, y float64) error) error {
	scanner := bufio.NewScanner(in)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		x, y, err := parsePair(text, bitSize, parse)
		if err != nil {
			p.skip(line, err)
			continue
		}
		if err := emit(x, y); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// addStream writes every pair on one duplex call while a second goroutine
// prints the outputs. Outputs come back in request order, one per request.
func addStream(ctx context.Context, c *client.Client, in io.Reader, p *printer) error {
	call, err := client.Call(ctx, c, adder.NewAdditionMethod())
	if err != nil {
		return err
	}
	defer call.Shutdown()

	pending := make(chan *adder.AdditionRequest, 64)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(pending)
		err := readPairs(in, p, 32, parseInt, func(x, y float64) error {
			req := &adder.AdditionRequest{X: int32(x), Y: int32(y)}
			select {
			case pending <- req:
			case <-gctx.Done():
				return gctx.Err()
			}
			return call.Write(gctx, req)
		})
		if err != nil {
			return err
		}
		return call.CompleteOutbound()
	})
	g.Go(func() error {
		return call.ConsumeInbound(gctx, func(resp *adder.AdditionResponse) error {
			req, ok := <-pending
			if !ok {
				return fmt.Errorf("unexpected output %d", resp.Output)
			}
			p.result("%d + %d = %d", req.X, req.Y, resp.Output)
			return nil
		})
	})
	return g.Wait()
}

// addFloats makes one unary AddFloat call per pair.
func addFloats(ctx context.Context, c *client.Client, in io.Reader, p *printer) error {
	desc := adder.NewAddFloatMethod()
	return readPairs(in, p, 32, parseFloat, func(x, y float64) error {
		resp, err := client.Invoke(ctx, c, desc, &adder.AddFloatRequest{X: float32(x), Y: float32(y)})
		if err != nil {
			return err
		}
		p.result("%g + %g = %g", x, y, resp.Result)
		return nil
	})
}
