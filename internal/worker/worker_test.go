package worker

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyra/ippproxyd/internal/ippattr"
	"github.com/cyra/ippproxyd/internal/ippclient"
	"github.com/cyra/ippproxyd/internal/ippmsg"
	"github.com/cyra/ippproxyd/internal/jobtable"
	"github.com/cyra/ippproxyd/internal/proxy"
)

func decodeBody(t *testing.T, r *http.Request) *ippmsg.Message {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	msg, err := ippmsg.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

func writeResponse(t *testing.T, w http.ResponseWriter, resp *ippmsg.Message, trailer []byte) {
	t.Helper()
	encoded, err := ippmsg.Encode(resp)
	if err != nil {
		t.Fatalf("encode response: %v", err)
	}
	w.Header().Set("Content-Type", "application/ipp")
	_, _ = w.Write(encoded)
	if trailer != nil {
		_, _ = w.Write(trailer)
	}
}

// newFetchableJobServer runs one fetchable job (id 7, one document) through
// Fetch-Job/Acknowledge-Job/Fetch-Document/Acknowledge-Document/Update-*-
// Status, recording the final output-device-job-state it was told about.
func newFetchableJobServer(t *testing.T, docPayload []byte) (*httptest.Server, *int32) {
	t.Helper()
	var finalState int32 = -1
	var mu sync.Mutex

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeBody(t, r)
		resp := &ippmsg.Message{Version: ippmsg.Version, Code: uint16(ippmsg.StatusOK), RequestID: req.RequestID}

		switch ippmsg.Operation(req.Code) {
		case ippmsg.OpFetchJob:
			resp.Groups = append(resp.Groups, ippmsg.Group{
				Tag: ippmsg.GroupJob,
				Attrs: ippattr.Set{
					"number-of-documents": ippattr.Integer(1),
				},
			})
			writeResponse(t, w, resp, nil)
		case ippmsg.OpAcknowledgeJob, ippmsg.OpAcknowledgeDocument, ippmsg.OpUpdateDocumentStatus:
			writeResponse(t, w, resp, nil)
		case ippmsg.OpFetchDocument:
			writeResponse(t, w, resp, docPayload)
		case ippmsg.OpUpdateJobStatus:
			mu.Lock()
			finalState = req.Operation()["output-device-job-state"].FirstInt()
			mu.Unlock()
			writeResponse(t, w, resp, nil)
		default:
			t.Fatalf("unexpected operation %#x", req.Code)
		}
	}))
	return server, &finalState
}

func TestRunJobDeliversToSocketDeviceAndReportsCompleted(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	payload := []byte("%PDF-1.4 fake document body")
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

	infra, finalState := newFetchableJobServer(t, payload)
	defer infra.Close()

	pc := proxy.New(infra.URL, "socket://"+ln.Addr().String())
	rec := &jobtable.Record{RemoteJobID: 7, RemoteJobState: proxy.JobStatePending, LocalJobState: proxy.JobStatePending}
	pc.Jobs.Insert(rec)

	w := New(pc, "proxyuser", nil, zerolog.Nop())
	session := ippclient.New(infra.URL, "proxyuser", nil, zerolog.Nop())

	w.runJob(context.Background(), session, rec)

	if rec.LocalJobState != proxy.JobStateCompleted {
		t.Errorf("LocalJobState = %v, want completed", rec.LocalJobState)
	}

	select {
	case got := <-received:
		if !bytes.Equal(got, payload) {
			t.Errorf("local device received %q, want %q", got, payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for socket payload")
	}

	if *finalState != proxy.JobStateCompleted.IPP() {
		t.Errorf("reported final state %d, want %d", *finalState, proxy.JobStateCompleted.IPP())
	}
}

func TestRunJobNotFetchableCompletesSilently(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeBody(t, r)
		resp := &ippmsg.Message{Version: ippmsg.Version, Code: uint16(ippmsg.StatusClientErrorNotFetchable), RequestID: req.RequestID}
		writeResponse(t, w, resp, nil)
	}))
	defer server.Close()

	pc := proxy.New(server.URL, "socket://printer.local:9100")
	rec := &jobtable.Record{RemoteJobID: 3, RemoteJobState: proxy.JobStatePending, LocalJobState: proxy.JobStatePending}
	pc.Jobs.Insert(rec)

	w := New(pc, "proxyuser", nil, zerolog.Nop())
	session := ippclient.New(server.URL, "proxyuser", nil, zerolog.Nop())

	w.runJob(context.Background(), session, rec)

	if rec.LocalJobState != proxy.JobStateCompleted {
		t.Errorf("LocalJobState = %v, want completed (not-fetchable is silent)", rec.LocalJobState)
	}
}

func TestChooseOutputFormatFallsBackInOrder(t *testing.T) {
	pc := proxy.New("http://infra.example.com/ipp/print/dev", "socket://printer.local:9100")
	pc.SetDeviceAttrs(ippattr.Set{
		"document-format-supported": ippattr.Keywords([]string{"image/urf", "image/pwg-raster"}),
	})
	w := New(pc, "", nil, zerolog.Nop())

	if got := w.chooseOutputFormat(); got != "image/urf" {
		t.Errorf("chooseOutputFormat() = %q, want image/urf", got)
	}
}

func TestChooseOutputFormatHonorsOverride(t *testing.T) {
	pc := proxy.New("http://infra.example.com/ipp/print/dev", "socket://printer.local:9100")
	pc.PreferredOutputFormat = "application/vnd.hp-pcl"
	w := New(pc, "", nil, zerolog.Nop())

	if got := w.chooseOutputFormat(); got != "application/vnd.hp-pcl" {
		t.Errorf("chooseOutputFormat() = %q, want override honored", got)
	}
}
