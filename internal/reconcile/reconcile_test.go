package reconcile

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cyra/ippproxyd/internal/ippattr"
	"github.com/cyra/ippproxyd/internal/ippclient"
	"github.com/cyra/ippproxyd/internal/ippmsg"
	"github.com/cyra/ippproxyd/internal/proxy"
)

func newSession(t *testing.T, handler http.HandlerFunc) (*ippclient.Session, func()) {
	t.Helper()
	server := httptest.NewServer(handler)
	session := ippclient.New(server.URL, "", nil, zerolog.Nop())
	return session, server.Close
}

func TestPushSendsOnlyChangedAttributes(t *testing.T) {
	var gotNames []string
	session, closeFn := newSession(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		req, err := ippmsg.Decode(bytes.NewReader(body))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		printer := req.FirstGroup(ippmsg.GroupPrinter)
		for name := range printer {
			gotNames = append(gotNames, name)
		}
		resp := &ippmsg.Message{Version: ippmsg.Version, Code: uint16(ippmsg.StatusOK), RequestID: req.RequestID}
		encoded, _ := ippmsg.Encode(resp)
		w.Header().Set("Content-Type", "application/ipp")
		_, _ = w.Write(encoded)
	})
	defer closeFn()

	pc := proxy.New("http://infra.example.com/ipp/print/dev", "socket://printer.local:9100")
	pc.SetDeviceAttrs(ippattr.Set{
		"color-supported":             ippattr.Boolean(false),
		"printer-resolution-supported": ippattr.Resolutions([]ippattr.Resolution{{X: 300, Y: 300, Units: ippattr.UnitsDotsPerInch}}),
	})

	newAttrs := ippattr.Set{
		"color-supported":             ippattr.Boolean(true), // changed
		"printer-resolution-supported": ippattr.Resolutions([]ippattr.Resolution{{X: 300, Y: 300, Units: ippattr.UnitsDotsPerInch}}), // unequal tag family always forces update
	}

	if err := Push(context.Background(), session, pc, "proxyuser", newAttrs, zerolog.Nop()); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if len(gotNames) != 2 {
		t.Fatalf("expected both attributes pushed (resolution is always-unequal), got %v", gotNames)
	}
	if pc.DeviceAttrs()["color-supported"].FirstBool() != true {
		t.Errorf("device attrs not replaced after successful push")
	}
}

func TestPushSkipsRequestWhenNothingChanged(t *testing.T) {
	called := false
	session, closeFn := newSession(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	defer closeFn()

	pc := proxy.New("http://infra.example.com/ipp/print/dev", "socket://printer.local:9100")
	attrs := ippattr.Set{"color-supported": ippattr.Boolean(true)}
	pc.SetDeviceAttrs(attrs)

	if err := Push(context.Background(), session, pc, "", attrs, zerolog.Nop()); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if called {
		t.Error("Push issued a request despite an identical attribute set")
	}
}
