// Package discovery walks the source site's navigation tree, catalogs
// terminal files, and repairs expired URLs via their source pages.
package discovery

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

// Meta is the classification extracted for one discovered file.
type Meta struct {
	Category    string
	Legislature string
	SubSeries   string
	Session     string
	Number      string
}

// Input is what the extraction rules see: the breadcrumb trail the file was
// found under, plus its URL and filename. The trail is the primary source;
// filename patterns only fill fields the trail left empty.
type Input struct {
	Trail    []string
	URL      string
	FileName string
}

// Extract derives classification metadata for a discovered file. Trail
// labels win; filename rules are tried in priority order and the first match
// fills the remaining blanks.
func Extract(in Input) Meta {
	m := fromTrail(in.Trail)
	for _, r := range fileRules {
		if r.pattern.MatchString(in.FileName) {
			r.extract(r.pattern.FindStringSubmatch(in.FileName), &m)
			break
		}
	}
	return m
}

var (
	legislatureLabel = regexp.MustCompile(`(?i)\b(?:legislature|legislatura)\b`)
	sessionLabel     = regexp.MustCompile(`(?i)\b(?:session|sess[ãa]o)\b`)
	seriesLabel      = regexp.MustCompile(`(?i)\b(?:series|s[ée]rie)\b`)
	numberLabel      = regexp.MustCompile(`(?i)\b(?:number|n[úu]mero|no\.?|n\.?º)\s*(\d+)`)
	romanNumeral     = regexp.MustCompile(`\b([IVXLC]+)\b`)
	digits           = regexp.MustCompile(`(\d+)`)
)

// fromTrail reads the breadcrumb path top-down. The first label is the
// section and becomes the category; deeper labels are scanned for
// legislature, session, series, and number markers.
func fromTrail(trail []string) Meta {
	var m Meta
	if len(trail) == 0 {
		return m
	}
	m.Category = strings.TrimSpace(trail[0])

	for _, label := range trail[1:] {
		label = strings.TrimSpace(label)
		switch {
		case m.Legislature == "" && legislatureLabel.MatchString(label):
			if roman := romanNumeral.FindString(label); roman != "" {
				m.Legislature = roman
			} else if d := digits.FindString(label); d != "" {
				m.Legislature = d
			}
		case m.Session == "" && sessionLabel.MatchString(label):
			if d := digits.FindString(label); d != "" {
				m.Session = d
			}
		case m.SubSeries == "" && seriesLabel.MatchString(label):
			if roman := romanNumeral.FindString(label); roman != "" {
				m.SubSeries = roman
			} else if d := digits.FindString(label); d != "" {
				m.SubSeries = d
			}
		case m.Number == "":
			if sub := numberLabel.FindStringSubmatch(label); sub != nil {
				m.Number = sub[1]
			}
		}
	}
	return m
}

// fileRule fills metadata from a filename pattern. Rules are ordered most
// specific first and only the first match applies.
type fileRule struct {
	name    string
	pattern *regexp.Regexp
	extract func(groups []string, m *Meta)
}

var fileRules = []fileRule{
	{
		// dar_s1_l15_sl02_n034.xml: series, legislature, session, number.
		name:    "record-series-full",
		pattern: regexp.MustCompile(`(?i)^[a-z]+_s(\d+)_l(\d+)_sl(\d+)_n(\d+)`),
		extract: func(g []string, m *Meta) {
			setIfEmpty(&m.SubSeries, g[1])
			setIfEmpty(&m.Legislature, g[2])
			setIfEmpty(&m.Session, g[3])
			setIfEmpty(&m.Number, g[4])
		},
	},
	{
		// l15-s2-n034 style tokens anywhere in the name.
		name:    "leg-session-number",
		pattern: regexp.MustCompile(`(?i)l(\d+)[-_]s(\d+)[-_]n(\d+)`),
		extract: func(g []string, m *Meta) {
			setIfEmpty(&m.Legislature, g[1])
			setIfEmpty(&m.Session, g[2])
			setIfEmpty(&m.Number, g[3])
		},
	},
	{
		// Bare trailing number: doc_034.xml or n034.xml.
		name:    "trailing-number",
		pattern: regexp.MustCompile(`(?i)[_n](\d{1,4})\.[a-z0-9]+$`),
		extract: func(g []string, m *Meta) {
			setIfEmpty(&m.Number, g[1])
		},
	},
}

func setIfEmpty(dst *string, val string) {
	if *dst == "" {
		*dst = strings.TrimLeft(val, "0")
	}
	if *dst == "" {
		// All-zero tokens normalize to "0" rather than vanishing.
		*dst = "0"
	}
}

// terminalExtensions are URL suffixes treated as catalog files rather than
// navigation pages.
var terminalExtensions = map[string]bool{
	".xml": true,
	".pdf": true,
	".doc": true,
	".docx": true,
	".txt": true,
}

// fileParam is the query parameter carrying a filename on tokenized download
// URLs (e.g. ?tok=abc&fich=X.xml).
const fileParam = "fich"

// IsTerminalFile reports whether rawURL points at a record file, either by
// path extension or by a filename-bearing query parameter.
func IsTerminalFile(rawURL string) bool {
	return FileNameFromURL(rawURL) != ""
}

// FileNameFromURL extracts the remote filename from a URL, preferring the
// download query parameter over the path.
func FileNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if name := u.Query().Get(fileParam); name != "" {
		if terminalExtensions[strings.ToLower(path.Ext(name))] {
			return name
		}
	}
	base := path.Base(u.Path)
	if terminalExtensions[strings.ToLower(path.Ext(base))] {
		return base
	}
	return ""
}

// FileTypeOf returns the lowercase extension (without dot) of a filename.
func FileTypeOf(fileName string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(fileName), "."))
	return ext
}
