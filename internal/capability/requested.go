// Package capability implements the Capability Probe (C1): querying or
// synthesizing the local device's attribute set, and reconciling the two
// overlapping-but-distinct capability dialects (URF and PWG Raster) a real
// AirPrint-class device and a PWG-Raster-class device advertise.
package capability

// RequestedAttributes is the fixed requested-attributes list the probe
// sends on every Get-Printer-Attributes request to the local device (spec
// §4.1): media capabilities, document formats, color/quality/sides,
// resolution, darkness, and raster descriptors. The attribute reconciler
// (C3) tracks exactly this same list — spec §4.3 calls it "the same list
// used by C1's request".
var RequestedAttributes = []string{
	// Media capabilities.
	"media-supported",
	"media-ready",
	"media-default",
	"media-col-database",
	"media-size-supported",

	// Document formats.
	"document-format-supported",
	"document-format-default",

	// Color / quality / sides.
	"color-supported",
	"print-color-mode-supported",
	"print-quality-supported",
	"sides-supported",
	"sides-default",

	// Resolution.
	"printer-resolution-supported",
	"printer-resolution-default",
	"pwg-raster-document-resolution-supported",

	// Darkness (label/thermal printers).
	"print-darkness-supported",
	"print-darkness-default",

	// Raster descriptors.
	"pwg-raster-document-type-supported",
	"pwg-raster-document-sheet-back",
	"urf-supported",

	"printer-state",
}
