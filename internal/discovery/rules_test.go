package discovery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractFromTrail(t *testing.T) {
	cases := []struct {
		name  string
		trail []string
		want  Meta
	}{
		{
			name:  "full breadcrumb",
			trail: []string{"Committee Minutes", "Legislature XV", "Session 2", "No. 34"},
			want:  Meta{Category: "Committee Minutes", Legislature: "XV", Session: "2", Number: "34"},
		},
		{
			name:  "portuguese labels",
			trail: []string{"Atas", "XIV Legislatura", "Sessão 1"},
			want:  Meta{Category: "Atas", Legislature: "XIV", Session: "1"},
		},
		{
			name:  "series label",
			trail: []string{"Publications", "Series II", "Legislature X"},
			want:  Meta{Category: "Publications", SubSeries: "II", Legislature: "X"},
		},
		{
			name:  "category only",
			trail: []string{"Reports"},
			want:  Meta{Category: "Reports"},
		},
		{
			name:  "empty trail",
			trail: nil,
			want:  Meta{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Extract(Input{Trail: tc.trail}))
		})
	}
}

func TestFileRuleRecordSeriesFull(t *testing.T) {
	cases := []struct {
		file string
		want Meta
	}{
		{"dar_s1_l15_sl02_n034.xml", Meta{SubSeries: "1", Legislature: "15", Session: "2", Number: "34"}},
		{"dsr_s2_l09_sl01_n003.xml", Meta{SubSeries: "2", Legislature: "9", Session: "1", Number: "3"}},
	}
	for _, tc := range cases {
		t.Run(tc.file, func(t *testing.T) {
			require.Equal(t, tc.want, Extract(Input{FileName: tc.file}))
		})
	}
}

func TestFileRuleLegSessionNumber(t *testing.T) {
	got := Extract(Input{FileName: "debate-l15-s2-n034.pdf"})
	require.Equal(t, Meta{Legislature: "15", Session: "2", Number: "34"}, got)
}

func TestFileRuleTrailingNumber(t *testing.T) {
	got := Extract(Input{FileName: "agenda_042.xml"})
	require.Equal(t, Meta{Number: "42"}, got)
}

func TestFileRulesOnlyFillBlanks(t *testing.T) {
	// Trail metadata wins over filename tokens.
	got := Extract(Input{
		Trail:    []string{"Debates", "Legislature XV", "Session 3"},
		FileName: "dar_s1_l12_sl01_n001.xml",
	})
	require.Equal(t, "XV", got.Legislature, "trail legislature must not be overwritten")
	require.Equal(t, "3", got.Session)
	require.Equal(t, "1", got.SubSeries, "filename fills fields the trail left empty")
	require.Equal(t, "1", got.Number)
}

func TestFileRulePriorityOrder(t *testing.T) {
	// A name matching the full record-series rule must not fall through to
	// the looser trailing-number rule.
	got := Extract(Input{FileName: "dar_s1_l15_sl02_n034.xml"})
	require.Equal(t, "15", got.Legislature)
	require.Equal(t, "34", got.Number)
}

func TestFileNameFromURL(t *testing.T) {
	cases := []struct {
		name string
		url  string
		want string
	}{
		{"tokenized download", "https://host/doc.aspx?tok=abc&fich=X.xml", "X.xml"},
		{"plain path", "https://host/files/report.pdf", "report.pdf"},
		{"nav page", "https://host/section?id=2", ""},
		{"non-terminal query file", "https://host/doc.aspx?fich=page.aspx", ""},
		{"html page", "https://host/index.html", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, FileNameFromURL(tc.url))
			require.Equal(t, tc.want != "", IsTerminalFile(tc.url))
		})
	}
}

func TestFileTypeOf(t *testing.T) {
	require.Equal(t, "xml", FileTypeOf("X.xml"))
	require.Equal(t, "pdf", FileTypeOf("report.PDF"))
	require.Equal(t, "", FileTypeOf("noext"))
}
