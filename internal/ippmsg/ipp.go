// Package ippmsg is the proxy's IPP wire codec. It generalizes the
// hand-rolled binary encoder the teacher used for its local IPP server
// (tag-by-tag, big-endian length-prefixed attributes) into a symmetric
// encoder/decoder, and extends the operation set with the IPP-INFRA
// operations (Register-Output-Device, Get-Notifications, Fetch-Job, ...)
// that a plain core-IPP library like phin1x/go-ipp has no reason to know
// about.
package ippmsg

import "github.com/cyra/ippproxyd/internal/ippattr"

// Version is the only IPP protocol version this proxy speaks.
const Version uint16 = 0x0200 // IPP/2.0

// Operation is an IPP operation-id, core IPP plus the PWG5100.18 IPP-INFRA
// extension this proxy is built around.
type Operation uint16

const (
	OpPrintJob              Operation = 0x0002
	OpValidateJob           Operation = 0x0004
	OpCreateJob             Operation = 0x0005
	OpSendDocument          Operation = 0x0006
	OpCancelJob             Operation = 0x0008
	OpGetJobAttributes      Operation = 0x0009
	OpGetJobs               Operation = 0x000a
	OpGetPrinterAttributes  Operation = 0x000b

	// IPP-INFRA / Infrastructure Printer operations (PWG 5100.18).
	OpCreatePrinterSubscriptions   Operation = 0x0016
	OpCancelSubscription           Operation = 0x0017
	OpGetNotifications             Operation = 0x0018
	OpRegisterOutputDevice         Operation = 0x003d
	OpFetchJob                     Operation = 0x003e
	OpFetchDocument                Operation = 0x003f
	OpDeregisterOutputDevice       Operation = 0x0040
	OpAcknowledgeDocument          Operation = 0x0041
	OpAcknowledgeIdentifyPrinter   Operation = 0x0042
	OpAcknowledgeJob               Operation = 0x0043
	OpUpdateDocumentStatus         Operation = 0x0044
	OpUpdateJobStatus              Operation = 0x0045
	OpUpdateOutputDeviceAttributes Operation = 0x0046
)

// Status is an IPP status-code.
type Status uint16

const (
	StatusOK                       Status = 0x0000
	StatusOKIgnoredOrSubstituted   Status = 0x0001
	StatusClientErrorBadRequest    Status = 0x0400
	StatusClientErrorNotFound      Status = 0x0406
	StatusClientErrorNotFetchable  Status = 0x0409
	StatusClientErrorNotPossible   Status = 0x0400
	StatusServerErrorInternalError Status = 0x0500
)

// OK reports whether status indicates overall request success (the
// "successful-ok*" class, < 0x0400, per RFC 8011 §4.1.6).
func (s Status) OK() bool { return s < 0x0400 }

// NotFetchable reports the "client-error-not-fetchable" condition spec §7
// calls out as not-an-error: the job was already claimed elsewhere.
func (s Status) NotFetchable() bool { return s == StatusClientErrorNotFetchable }

// GroupTag delimits one attribute group within a message body.
type GroupTag byte

const (
	GroupOperation         GroupTag = 0x01
	GroupJob               GroupTag = 0x02
	GroupEnd               GroupTag = 0x03
	GroupPrinter           GroupTag = 0x04
	GroupUnsupported       GroupTag = 0x05
	GroupSubscription      GroupTag = 0x06
	GroupEventNotification GroupTag = 0x07
)

// Group is one tagged attribute group, in wire order.
type Group struct {
	Tag   GroupTag
	Attrs ippattr.Set
}

// Message is a full IPP request or response. Code carries the operation-id
// for a request and the status-code for a response; callers know which
// from context (Request vs. the return of Session.Do).
type Message struct {
	Version   uint16
	Code      uint16
	RequestID uint32
	Groups    []Group
}

// NewRequest builds an empty request with the proxy's boilerplate
// operation attributes every infrastructure-bound call carries (spec §6):
// attributes-charset, attributes-natural-language, printer-uri,
// output-device-uuid, requesting-user-name.
func NewRequest(op Operation, requestID uint32, printerURI, deviceUUID, user string) *Message {
	m := &Message{
		Version:   Version,
		Code:      uint16(op),
		RequestID: requestID,
	}
	attrs := ippattr.Set{
		"attributes-charset":          ippattr.Value{Tag: ippattrCharset(), Strings: []string{"utf-8"}},
		"attributes-natural-language": ippattr.Value{Tag: ippattrNaturalLang(), Strings: []string{"en-us"}},
	}
	if printerURI != "" {
		attrs["printer-uri"] = ippattr.URI(printerURI)
	}
	if deviceUUID != "" {
		attrs["output-device-uuid"] = ippattr.URI(deviceUUID)
	}
	if user != "" {
		attrs["requesting-user-name"] = ippattr.Name(user)
	}
	m.Groups = append(m.Groups, Group{Tag: GroupOperation, Attrs: attrs})
	return m
}

func ippattrCharset() ippattr.Tag     { return ippattr.TagCharset }
func ippattrNaturalLang() ippattr.Tag { return ippattr.TagNaturalLang }

// Operation returns the operation-attributes group bag, creating it if this
// message has none yet (requests built by NewRequest always have one).
func (m *Message) Operation() ippattr.Set {
	for i := range m.Groups {
		if m.Groups[i].Tag == GroupOperation {
			return m.Groups[i].Attrs
		}
	}
	g := Group{Tag: GroupOperation, Attrs: ippattr.Set{}}
	m.Groups = append([]Group{g}, m.Groups...)
	return g.Attrs
}

// AddGroup appends a new attribute group (job-template attributes for
// Create-Job/Print-Job, for example) and returns its bag for population.
func (m *Message) AddGroup(tag GroupTag) ippattr.Set {
	attrs := ippattr.Set{}
	m.Groups = append(m.Groups, Group{Tag: tag, Attrs: attrs})
	return attrs
}

// Status returns the response status-code.
func (m *Message) Status() Status { return Status(m.Code) }

// GroupsWithTag returns every group carrying tag, in wire order — used to
// walk repeated job-attributes groups (Get-Jobs) or repeated
// event-notification-attributes groups (Get-Notifications).
func (m *Message) GroupsWithTag(tag GroupTag) []ippattr.Set {
	var out []ippattr.Set
	for _, g := range m.Groups {
		if g.Tag == tag {
			out = append(out, g.Attrs)
		}
	}
	return out
}

// FirstGroup returns the first group's attribute bag for tag, or nil.
func (m *Message) FirstGroup(tag GroupTag) ippattr.Set {
	groups := m.GroupsWithTag(tag)
	if len(groups) == 0 {
		return nil
	}
	return groups[0]
}
