package registrar

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cyra/ippproxyd/internal/ippattr"
	"github.com/cyra/ippproxyd/internal/ippmsg"
	"github.com/cyra/ippproxyd/internal/proxy"
)

func decodeBody(t *testing.T, r *http.Request) *ippmsg.Message {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("read request body: %v", err)
	}
	msg, err := ippmsg.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("decode request: %v", err)
	}
	return msg
}

func writeResponse(t *testing.T, w http.ResponseWriter, resp *ippmsg.Message) {
	t.Helper()
	encoded, err := ippmsg.Encode(resp)
	if err != nil {
		t.Fatalf("encode response: %v", err)
	}
	w.Header().Set("Content-Type", "application/ipp")
	_, _ = w.Write(encoded)
}

func TestRegisterSystemURIBootstrap(t *testing.T) {
	var printServer *httptest.Server

	// Register-Output-Device must return the concrete printer URI via
	// printer-xri-supported[0].xri-uri (spec §4.2 step 2).
	printServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeBody(t, r)
		resp := &ippmsg.Message{Version: ippmsg.Version, Code: uint16(ippmsg.StatusOK), RequestID: req.RequestID}
		if ippmsg.Operation(req.Code) == ippmsg.OpCreatePrinterSubscriptions {
			sub := resp.AddGroup(ippmsg.GroupSubscription)
			sub["notify-subscription-id"] = ippattr.Integer(99)
		}
		writeResponse(t, w, resp)
	}))
	defer printServer.Close()

	systemServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeBody(t, r)
		if ippmsg.Operation(req.Code) != ippmsg.OpRegisterOutputDevice {
			t.Fatalf("expected Register-Output-Device, got operation %#x", req.Code)
		}
		resp := &ippmsg.Message{Version: ippmsg.Version, Code: uint16(ippmsg.StatusOK), RequestID: req.RequestID}
		printer := resp.AddGroup(ippmsg.GroupPrinter)
		printer["printer-xri-supported"] = ippattr.Collection(ippattr.Set{
			"xri-uri": ippattr.URI(printServer.URL),
		})
		writeResponse(t, w, resp)
	}))
	defer systemServer.Close()

	pc := proxy.New(systemServer.URL+"/ipp/system", "socket://printer.local:9100")
	log := zerolog.Nop()

	result, err := Register(context.Background(), pc, "proxyuser", nil, log)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if result.SubscriptionID != 99 {
		t.Errorf("SubscriptionID = %d, want 99", result.SubscriptionID)
	}
	if pc.PrinterURI() != printServer.URL {
		t.Errorf("PrinterURI = %q, want %q", pc.PrinterURI(), printServer.URL)
	}
}

func TestRegisterDirectPrinterURISkipsRegistration(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeBody(t, r)
		if ippmsg.Operation(req.Code) == ippmsg.OpRegisterOutputDevice {
			t.Fatalf("Register-Output-Device should not be issued for a direct printer uri")
		}
		resp := &ippmsg.Message{Version: ippmsg.Version, Code: uint16(ippmsg.StatusOK), RequestID: req.RequestID}
		sub := resp.AddGroup(ippmsg.GroupSubscription)
		sub["notify-subscription-id"] = ippattr.Integer(7)
		writeResponse(t, w, resp)
	}))
	defer server.Close()

	pc := proxy.New(server.URL+"/ipp/print/queue1", "socket://printer.local:9100")
	result, err := Register(context.Background(), pc, "", nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if result.SubscriptionID != 7 {
		t.Errorf("SubscriptionID = %d, want 7", result.SubscriptionID)
	}
	if pc.PrinterURI() != server.URL+"/ipp/print/queue1" {
		t.Errorf("PrinterURI changed unexpectedly: %q", pc.PrinterURI())
	}
}

func TestRegisterMissingXRIIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeBody(t, r)
		resp := &ippmsg.Message{Version: ippmsg.Version, Code: uint16(ippmsg.StatusOK), RequestID: req.RequestID}
		writeResponse(t, w, resp)
	}))
	defer server.Close()

	pc := proxy.New(server.URL+"/ipp/system", "socket://printer.local:9100")
	if _, err := Register(context.Background(), pc, "", nil, zerolog.Nop()); err == nil {
		t.Fatal("expected error when printer-xri-supported is missing")
	}
}
