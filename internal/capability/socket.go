package capability

import "github.com/cyra/ippproxyd/internal/ippattr"

// MediaSize is one entry in the socket-device default profile's media
// catalog — a named size plus its uniform margin, in hundredths of a
// millimeter (PWG's native unit), matching the granularity
// pwg-raster-document attributes use elsewhere in this package.
type MediaSize struct {
	Name           string // PWG self-describing media name
	WidthHundredthsMM, HeightHundredthsMM int
	MarginHundredthsMM int
}

// defaultLaserMedia is the socket-device fallback media catalog (spec
// §4.1): Letter, Legal, and A4, each with a uniform 6.35mm margin.
var defaultLaserMedia = []MediaSize{
	{Name: "na_letter_8.5x11in", WidthHundredthsMM: 21590, HeightHundredthsMM: 27940, MarginHundredthsMM: 635},
	{Name: "na_legal_8.5x14in", WidthHundredthsMM: 21590, HeightHundredthsMM: 35560, MarginHundredthsMM: 635},
	{Name: "iso_a4_210x297mm", WidthHundredthsMM: 21000, HeightHundredthsMM: 29700, MarginHundredthsMM: 635},
}

// DefaultLaserProfile synthesizes the minimum capability set spec §4.1
// requires for a raw socket:// device, which cannot be queried: a
// monochrome PCL laser printer supporting Letter/Legal/A4 at 300 and 600
// dpi, one-sided or duplex, idle.
func DefaultLaserProfile() ippattr.Set {
	names := make([]string, len(defaultLaserMedia))
	for i, m := range defaultLaserMedia {
		names[i] = m.Name
	}

	return ippattr.Set{
		"document-format-supported": ippattr.MimeMediaType("application/vnd.hp-pcl"),
		"document-format-default":   ippattr.MimeMediaType("application/vnd.hp-pcl"),

		"media-supported": ippattr.Keywords(names),
		"media-default":   ippattr.Keyword(defaultLaserMedia[0].Name),

		"print-quality-supported": ippattr.Value{
			Tag:  ippattr.TagEnum,
			Ints: []int32{3, 4, 5}, // draft, normal, high (RFC 8011 §5.3)
		},

		"printer-resolution-supported": ippattr.Resolutions([]ippattr.Resolution{
			{X: 300, Y: 300, Units: ippattr.UnitsDotsPerInch},
			{X: 600, Y: 600, Units: ippattr.UnitsDotsPerInch},
		}),

		"sides-supported": ippattr.Keywords([]string{
			"one-sided", "two-sided-long-edge", "two-sided-short-edge",
		}),
		"sides-default": ippattr.Keyword("one-sided"),

		"color-supported": ippattr.Boolean(false),

		"printer-state": ippattr.Enum(3), // idle
	}
}
