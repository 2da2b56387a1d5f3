// Package transport implements the Transport Adapter (C7): streaming a
// fetched document to either a raw AppSocket TCP sink or an ipp(s)://
// local device, with the Create-Job+Send-Document split chosen
// dynamically from the device's advertised operation set.
package transport

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyra/ippproxyd/internal/ippattr"
	"github.com/cyra/ippproxyd/internal/ippclient"
	"github.com/cyra/ippproxyd/internal/ippmsg"
	"github.com/cyra/ippproxyd/internal/proxy"
)

const (
	socketDialTimeout = 30 * time.Second
	socketChunkSize   = 16 * 1024
	jobPollInterval   = 1 * time.Second
)

// Request carries everything C7 needs to deliver one document, copied
// straight off the infrastructure's job/document attributes (spec §4.7).
type Request struct {
	DocumentFormat   string
	Compression      string // non-empty only if the inbound document is compressed
	OperationAttrs   ippattr.Set
	JobTemplateAttrs ippattr.Set
	Document         io.Reader
}

// Result reports what happened to the local job, if the local device has
// any notion of one (socket devices never do).
type Result struct {
	LocalJobID int
	State      proxy.JobState
}

// operationAttrNames and jobTemplateAttrNames are the attribute names
// copied onto Create-Job/Print-Job, per spec §4.7.
var operationAttrNames = []string{"job-name", "job-password", "job-password-encryption", "job-priority"}
var jobTemplateAttrNames = []string{
	"copies", "finishings", "finishings-col", "job-account-id", "job-accounting-user-id",
	"media", "media-col", "multiple-document-handling", "orientation-requested",
	"page-ranges", "print-color-mode", "print-quality", "sides",
}

// Deliver dispatches on deviceURI's scheme. remoteCanceled is polled while
// waiting on a local ipp(s) job to reach a terminal state; when it reports
// true before the local job finishes, Deliver issues a local Cancel-Job
// and returns with State == JobStateCanceled (spec §4.7, scenario 4).
func Deliver(ctx context.Context, deviceURI string, password proxy.PasswordFunc, log zerolog.Logger, req Request, remoteCanceled func() bool) (Result, error) {
	u, err := url.Parse(deviceURI)
	if err != nil {
		return Result{}, fmt.Errorf("parse device uri: %w", err)
	}

	switch u.Scheme {
	case "socket":
		return deliverSocket(ctx, u, req)
	case "ipp", "ipps":
		return deliverIPP(ctx, deviceURI, password, log, req, remoteCanceled)
	default:
		return Result{}, fmt.Errorf("unsupported device scheme %q", u.Scheme)
	}
}

// deliverSocket streams the document in <=16KiB chunks over a raw TCP
// connection, retrying short writes in place until the stream is drained
// (spec §4.7 "socket://").
func deliverSocket(ctx context.Context, u *url.URL, req Request) (Result, error) {
	dialer := net.Dialer{Timeout: socketDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", u.Host)
	if err != nil {
		return Result{}, fmt.Errorf("dial socket device: %w", err)
	}
	defer conn.Close()

	buf := make([]byte, socketChunkSize)
	for {
		n, rerr := req.Document.Read(buf)
		if n > 0 {
			if werr := writeFull(conn, buf[:n]); werr != nil {
				return Result{}, fmt.Errorf("write to socket device: %w", werr)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return Result{}, fmt.Errorf("read document: %w", rerr)
		}
	}
	return Result{State: proxy.JobStateCompleted}, nil
}

// writeFull retries short writes in place until buf is fully drained.
func writeFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

func deliverIPP(ctx context.Context, deviceURI string, password proxy.PasswordFunc, log zerolog.Logger, req Request, remoteCanceled func() bool) (Result, error) {
	session := ippclient.New(deviceURI, "", password, log)

	caps, err := session.Do(ctx, ippmsg.NewRequest(ippmsg.OpGetPrinterAttributes, 1, deviceURI, "", ""), nil)
	if err != nil {
		return Result{}, fmt.Errorf("query local device capabilities: %w", err)
	}
	if !caps.Status().OK() {
		return Result{}, fmt.Errorf("get-printer-attributes on local device failed with status %#x", caps.Code)
	}

	printer := caps.FirstGroup(ippmsg.GroupPrinter)
	if printer == nil {
		return Result{}, fmt.Errorf("local device response missing operations-supported")
	}
	opsSupported := printer["operations-supported"].Ints
	compressionSupported := printer["compression-supported"].Strings

	createJobSupported := hasOperation(opsSupported, ippmsg.OpCreateJob) && hasOperation(opsSupported, ippmsg.OpSendDocument)

	compression := req.Compression
	if compression != "" && !containsString(compressionSupported, compression) {
		// The local device can't frame this compression: gzip and deflate
		// documents are decompressed on the way through and sent without a
		// compression attribute; the document content itself is never
		// altered (spec §1, §4.7). Other encodings are forwarded as is.
		switch compression {
		case "gzip":
			zr, err := gzip.NewReader(req.Document)
			if err != nil {
				return Result{}, fmt.Errorf("decompress gzip document: %w", err)
			}
			defer zr.Close()
			req.Document = zr
		case "deflate":
			fr := flate.NewReader(req.Document)
			defer fr.Close()
			req.Document = fr
		}
		compression = ""
	}

	var localJobID int
	if createJobSupported {
		localJobID, err = createJob(ctx, session, deviceURI, req)
		if err != nil {
			return Result{}, err
		}
		if err := sendDocument(ctx, session, deviceURI, localJobID, req, compression); err != nil {
			return Result{}, err
		}
	} else {
		localJobID, err = printJob(ctx, session, deviceURI, req, compression)
		if err != nil {
			return Result{}, err
		}
	}

	return pollToTerminal(ctx, session, deviceURI, localJobID, remoteCanceled)
}

func hasOperation(ops []int32, op ippmsg.Operation) bool {
	for _, o := range ops {
		if o == int32(op) {
			return true
		}
	}
	return false
}

func containsString(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}

func copyAttrs(dst ippattr.Set, src ippattr.Set, names []string) {
	for _, name := range names {
		if v, ok := src[name]; ok {
			dst[name] = v
		}
	}
}

func createJob(ctx context.Context, session *ippclient.Session, deviceURI string, req Request) (int, error) {
	ippReq := ippmsg.NewRequest(ippmsg.OpCreateJob, 1, deviceURI, "", "")
	copyAttrs(ippReq.Operation(), req.OperationAttrs, operationAttrNames)
	jt := ippReq.AddGroup(ippmsg.GroupJob)
	copyAttrs(jt, req.JobTemplateAttrs, jobTemplateAttrNames)

	resp, err := session.Do(ctx, ippReq, nil)
	if err != nil {
		return 0, fmt.Errorf("create-job: %w", err)
	}
	if !resp.Status().OK() {
		return 0, fmt.Errorf("create-job failed with status %#x", resp.Code)
	}
	job := resp.FirstGroup(ippmsg.GroupJob)
	return int(job["job-id"].FirstInt()), nil
}

func sendDocument(ctx context.Context, session *ippclient.Session, deviceURI string, localJobID int, req Request, compression string) error {
	ippReq := ippmsg.NewRequest(ippmsg.OpSendDocument, 1, deviceURI, "", "")
	op := ippReq.Operation()
	op["job-id"] = ippattr.Integer(int32(localJobID))
	op["last-document"] = ippattr.Boolean(true)
	if req.DocumentFormat != "" {
		op["document-format"] = ippattr.MimeMediaType(req.DocumentFormat)
	}
	if compression != "" {
		op["compression"] = ippattr.Keyword(compression)
	}

	resp, err := session.Do(ctx, ippReq, req.Document)
	if err != nil {
		return fmt.Errorf("send-document: %w", err)
	}
	if !resp.Status().OK() {
		return fmt.Errorf("send-document failed with status %#x", resp.Code)
	}
	return nil
}

func printJob(ctx context.Context, session *ippclient.Session, deviceURI string, req Request, compression string) (int, error) {
	ippReq := ippmsg.NewRequest(ippmsg.OpPrintJob, 1, deviceURI, "", "")
	op := ippReq.Operation()
	copyAttrs(op, req.OperationAttrs, operationAttrNames)
	if req.DocumentFormat != "" {
		op["document-format"] = ippattr.MimeMediaType(req.DocumentFormat)
	}
	if compression != "" {
		op["compression"] = ippattr.Keyword(compression)
	}
	jt := ippReq.AddGroup(ippmsg.GroupJob)
	copyAttrs(jt, req.JobTemplateAttrs, jobTemplateAttrNames)

	resp, err := session.Do(ctx, ippReq, req.Document)
	if err != nil {
		return 0, fmt.Errorf("print-job: %w", err)
	}
	if !resp.Status().OK() {
		return 0, fmt.Errorf("print-job failed with status %#x", resp.Code)
	}
	job := resp.FirstGroup(ippmsg.GroupJob)
	return int(job["job-id"].FirstInt()), nil
}

// pollToTerminal polls Get-Job-Attributes until the local job state
// reaches a terminal value or remoteCanceled reports true, in which case
// it issues a local Cancel-Job (spec §4.7, scenario 4).
func pollToTerminal(ctx context.Context, session *ippclient.Session, deviceURI string, localJobID int, remoteCanceled func() bool) (Result, error) {
	for {
		if remoteCanceled != nil && remoteCanceled() {
			cancelReq := ippmsg.NewRequest(ippmsg.OpCancelJob, 1, deviceURI, "", "")
			cancelReq.Operation()["job-id"] = ippattr.Integer(int32(localJobID))
			if resp, err := session.Do(ctx, cancelReq, nil); err != nil {
				return Result{}, fmt.Errorf("cancel-job: %w", err)
			} else if !resp.Status().OK() {
				return Result{}, fmt.Errorf("cancel-job failed with status %#x", resp.Code)
			}
			return Result{LocalJobID: localJobID, State: proxy.JobStateCanceled}, nil
		}

		req := ippmsg.NewRequest(ippmsg.OpGetJobAttributes, 1, deviceURI, "", "")
		op := req.Operation()
		op["job-id"] = ippattr.Integer(int32(localJobID))
		op["requested-attributes"] = ippattr.Keyword("job-state")

		resp, err := session.Do(ctx, req, nil)
		if err != nil {
			return Result{}, fmt.Errorf("get-job-attributes: %w", err)
		}
		if !resp.Status().OK() {
			return Result{}, fmt.Errorf("get-job-attributes failed with status %#x", resp.Code)
		}

		job := resp.FirstGroup(ippmsg.GroupJob)
		state := proxy.JobStateFromIPP(job["job-state"].FirstInt())
		if state.Terminal() {
			return Result{LocalJobID: localJobID, State: state}, nil
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(jobPollInterval):
		}
	}
}
