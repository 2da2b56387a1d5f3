package capability

import "github.com/cyra/ippproxyd/internal/ippattr"

// Reconcile performs the URF/PWG dialect reconciliation of spec §4.1: when
// a device advertises urf-supported but is missing one of the PWG-raster
// equivalents, derive that attribute from the URF token stream. Attributes
// the device already reports are never overwritten.
func Reconcile(attrs ippattr.Set) ippattr.Set {
	urfAttr, ok := attrs["urf-supported"]
	if !ok || len(urfAttr.Strings) == 0 {
		return attrs
	}
	// urf-supported is a 1setOf keyword: a queried device reports each
	// token ("W8", "RS300-600", ...) as its own value in Strings, while the
	// AirPrint TXT-record representation this was first grounded on joins
	// them into one comma-separated value. Handle both by splitting every
	// value and flattening.
	var tokens []string
	for _, v := range urfAttr.Strings {
		tokens = append(tokens, urfTokens(v)...)
	}

	if _, ok := attrs["pwg-raster-document-resolution-supported"]; !ok {
		if res := resolutionsFromURF(tokens); len(res) > 0 {
			attrs["pwg-raster-document-resolution-supported"] = ippattr.Resolutions(res)
		}
	}

	if _, ok := attrs["pwg-raster-document-sheet-back"]; !ok {
		if back := sheetBackFromURF(tokens); back != "" {
			attrs["pwg-raster-document-sheet-back"] = ippattr.Keyword(back)
		}
	}

	if _, ok := attrs["pwg-raster-document-type-supported"]; !ok {
		if types := documentTypesFromURF(tokens); len(types) > 0 {
			attrs["pwg-raster-document-type-supported"] = ippattr.Keywords(types)
		}
	}

	return attrs
}
