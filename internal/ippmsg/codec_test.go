package ippmsg

import (
	"bytes"
	"testing"

	"github.com/cyra/ippproxyd/internal/ippattr"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	req := NewRequest(OpGetPrinterAttributes, 7, "ipp://printer.local/ipp/print", "urn:uuid:abc", "proxy")
	req.Operation()["requested-attributes"] = ippattr.Keywords([]string{"media-supported", "copies-supported"})

	printer := req.AddGroup(GroupPrinter)
	printer["printer-state"] = ippattr.Enum(3)
	printer["color-supported"] = ippattr.Boolean(true)
	printer["printer-resolution-supported"] = ippattr.Resolutions([]ippattr.Resolution{
		{X: 300, Y: 300, Units: ippattr.UnitsDotsPerInch},
		{X: 600, Y: 600, Units: ippattr.UnitsDotsPerInch},
	})

	encoded, err := Encode(req)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.RequestID != 7 {
		t.Errorf("RequestID = %d, want 7", decoded.RequestID)
	}
	if decoded.Code != uint16(OpGetPrinterAttributes) {
		t.Errorf("Code = %#x, want %#x", decoded.Code, OpGetPrinterAttributes)
	}

	op := decoded.FirstGroup(GroupOperation)
	if op == nil {
		t.Fatal("missing operation group")
	}
	if got := op["printer-uri"].FirstString(); got != "ipp://printer.local/ipp/print" {
		t.Errorf("printer-uri = %q", got)
	}
	if kws := op["requested-attributes"].Strings; len(kws) != 2 || kws[1] != "copies-supported" {
		t.Errorf("requested-attributes = %v", kws)
	}

	pr := decoded.FirstGroup(GroupPrinter)
	if pr == nil {
		t.Fatal("missing printer group")
	}
	if pr["printer-state"].FirstInt() != 3 {
		t.Errorf("printer-state = %v", pr["printer-state"])
	}
	if !pr["color-supported"].FirstBool() {
		t.Errorf("color-supported = %v", pr["color-supported"])
	}
	if len(pr["printer-resolution-supported"].Resolutions) != 2 {
		t.Errorf("printer-resolution-supported = %v", pr["printer-resolution-supported"])
	}
}

func TestEncodeDecodeCollectionRoundTrip(t *testing.T) {
	req := NewRequest(OpRegisterOutputDevice, 3, "ipp://infra.example.com/ipp/system", "urn:uuid:abc", "proxy")

	resp := req.AddGroup(GroupPrinter)
	resp["printer-xri-supported"] = ippattr.Collection(
		ippattr.Set{
			"xri-uri":            ippattr.URI("ipp://infra.example.com/ipp/print/dev-1"),
			"xri-authentication": ippattr.Keyword("none"),
			"xri-security":       ippattr.Keyword("tls"),
		},
		ippattr.Set{
			"xri-uri": ippattr.URI("ipps://infra.example.com/ipp/print/dev-1"),
		},
	)

	encoded, err := Encode(req)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	pr := decoded.FirstGroup(GroupPrinter)
	if pr == nil {
		t.Fatal("missing printer group")
	}
	xri := pr["printer-xri-supported"]
	if len(xri.Collections) != 2 {
		t.Fatalf("printer-xri-supported collections = %d, want 2", len(xri.Collections))
	}
	if got := xri.FirstMember("xri-uri").FirstString(); got != "ipp://infra.example.com/ipp/print/dev-1" {
		t.Errorf("first member xri-uri = %q", got)
	}
	if got := xri.Collections[0]["xri-security"].FirstString(); got != "tls" {
		t.Errorf("first member xri-security = %q", got)
	}
	if got := xri.Collections[1]["xri-uri"].FirstString(); got != "ipps://infra.example.com/ipp/print/dev-1" {
		t.Errorf("second member xri-uri = %q", got)
	}
}

func TestEncodeDecodeSingleKeyword(t *testing.T) {
	req := NewRequest(OpGetJobs, 1, "", "", "")
	req.Operation()["which-jobs"] = ippattr.Keyword("fetchable")
	encoded, err := Encode(req)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	op := decoded.FirstGroup(GroupOperation)
	if op["which-jobs"].FirstString() != "fetchable" {
		t.Errorf("which-jobs = %v", op["which-jobs"])
	}
}
