package capability

import (
	"strconv"
	"strings"

	"github.com/cyra/ippproxyd/internal/ippattr"
)

// urfTokens splits a urf-supported value ("W8,SRGB24,RS300-600,DM1,CP255")
// into its comma-separated tokens. URF's token grammar (a letter prefix
// plus digits, optionally hyphen-separated) is simple enough to split
// directly rather than regex-match.
func urfTokens(urf string) []string {
	if urf == "" {
		return nil
	}
	return strings.Split(urf, ",")
}

// resolutionsFromURF derives pwg-raster-document-resolution-supported from
// the first "RS" token (spec §4.1): split the remainder on "-", each
// decimal integer R yields one resolution RxR dpi. "RS600-1200" therefore
// yields two resolutions: 600x600 and 1200x1200.
func resolutionsFromURF(tokens []string) []ippattr.Resolution {
	for _, tok := range tokens {
		if !strings.HasPrefix(tok, "RS") {
			continue
		}
		var res []ippattr.Resolution
		for _, part := range strings.Split(tok[2:], "-") {
			r, err := strconv.Atoi(part)
			if err != nil {
				continue
			}
			res = append(res, ippattr.Resolution{X: r, Y: r, Units: ippattr.UnitsDotsPerInch})
		}
		return res
	}
	return nil
}

// sheetBackFromURF derives pwg-raster-document-sheet-back from the first
// "DM" token (spec §4.1): DM1->normal, DM2->flipped, DM3->rotated, any
// other ->manual-tumble.
func sheetBackFromURF(tokens []string) string {
	for _, tok := range tokens {
		if !strings.HasPrefix(tok, "DM") {
			continue
		}
		switch tok {
		case "DM1":
			return "normal"
		case "DM2":
			return "flipped"
		case "DM3":
			return "rotated"
		default:
			return "manual-tumble"
		}
	}
	return ""
}

// urfColorToPWG maps a recognized URF color token to its PWG raster
// document-type equivalent (spec §4.1). Unrecognized tokens are ignored.
var urfColorToPWG = map[string]string{
	"ADOBERGB24": "adobe-rgb_8",
	"ADOBERGB48": "adobe-rgb_16",
	"SRGB24":     "srgb_8",
	"W8":         "sgray_8",
	"W16":        "sgray_16",
}

// documentTypesFromURF derives pwg-raster-document-type-supported by
// mapping every recognized URF color token.
func documentTypesFromURF(tokens []string) []string {
	var out []string
	for _, tok := range tokens {
		if pwg, ok := urfColorToPWG[tok]; ok {
			out = append(out, pwg)
		}
	}
	return out
}
