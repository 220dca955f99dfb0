package discovery

import (
	"regexp"
	"strings"
)

// The plenary record series is the one section whose files cannot be
// classified from the flat rule table: its navigation nests series →
// legislature → session → number, and the filename carries none of it.
// seriesTrail parses that structure positionally.

var seriesSectionPattern = regexp.MustCompile(`(?i)\b(?:plenary records|record series|di[áa]rio)\b`)

// IsRecordSeries reports whether a section label belongs to the hierarchical
// record series.
func IsRecordSeries(sectionLabel string) bool {
	return seriesSectionPattern.MatchString(sectionLabel)
}

// ExtractSeries classifies a file found under the hierarchical record
// series. It returns false when the trail does not look like that series,
// in which case the caller falls back to the flat rules.
func ExtractSeries(trail []string) (Meta, bool) {
	if len(trail) < 2 || !IsRecordSeries(trail[0]) {
		return Meta{}, false
	}

	m := Meta{Category: strings.TrimSpace(trail[0])}

	// Levels below the section follow a fixed order; each level still
	// carries its own label text, so match rather than trust position
	// blindly.
	rest := trail[1:]
	if len(rest) > 0 {
		m.SubSeries = seriesToken(rest[0])
	}
	if len(rest) > 1 {
		if roman := romanNumeral.FindString(rest[1]); roman != "" {
			m.Legislature = roman
		} else if d := digits.FindString(rest[1]); d != "" {
			m.Legislature = d
		}
	}
	if len(rest) > 2 {
		if d := digits.FindString(rest[2]); d != "" {
			m.Session = d
		}
	}
	if len(rest) > 3 {
		if d := digits.FindString(rest[3]); d != "" {
			m.Number = strings.TrimLeft(d, "0")
			if m.Number == "" {
				m.Number = "0"
			}
		}
	}

	if m.Legislature == "" && m.SubSeries == "" {
		return Meta{}, false
	}
	return m, true
}

// seriesToken picks the series designator out of a label like "Series I" or
// "1st Series Supplement".
func seriesToken(label string) string {
	if roman := romanNumeral.FindString(label); roman != "" {
		return roman
	}
	if d := digits.FindString(label); d != "" {
		return d
	}
	return strings.TrimSpace(label)
}
