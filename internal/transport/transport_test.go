package transport

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyra/ippproxyd/internal/ippattr"
)

func TestDeliverSocketStreamsAllBytes(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	payload := bytes.Repeat([]byte("x"), 3*socketChunkSize+17)
	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		got, _ := io.ReadAll(conn)
		received <- got
	}()

	req := Request{Document: bytes.NewReader(payload)}
	result, err := Deliver(context.Background(), "socket://"+ln.Addr().String(), nil, zerolog.Nop(), req, nil)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if result.State.String() != "completed" {
		t.Errorf("State = %v, want completed", result.State)
	}

	select {
	case got := <-received:
		if !bytes.Equal(got, payload) {
			t.Errorf("received %d bytes, want %d", len(got), len(payload))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for socket payload")
	}
}

func TestDeliverRejectsUnsupportedScheme(t *testing.T) {
	_, err := Deliver(context.Background(), "file:///dev/null", nil, zerolog.Nop(), Request{Document: strings.NewReader("")}, nil)
	if err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}

func TestHasOperation(t *testing.T) {
	ops := []int32{0x0002, 0x0005, 0x0006}
	if !hasOperation(ops, 0x0005) {
		t.Error("expected Create-Job to be found")
	}
	if hasOperation(ops, 0x0008) {
		t.Error("expected Cancel-Job to be absent")
	}
}

func TestCopyAttrsOnlyCopiesAllowlisted(t *testing.T) {
	src := ippattr.Set{
		"copies":    ippattr.Integer(2),
		"unrelated": ippattr.Keyword("should-not-copy"),
	}
	dst := ippattr.Set{}
	copyAttrs(dst, src, []string{"copies"})

	if _, ok := dst["unrelated"]; ok {
		t.Error("copyAttrs copied a non-allowlisted attribute")
	}
	if dst["copies"].FirstInt() != 2 {
		t.Errorf("copies = %v, want 2", dst["copies"])
	}
}
