package normalize

import (
	"regexp"
	"strings"
)

// noiseLines match page chrome that leaks into scraped decision bodies
var noiseLines = []*regexp.Regexp{
	regexp.MustCompile(`(?i)DataTable`),
	regexp.MustCompile(`(?i)records(Total|Filtered)`),
	regexp.MustCompile(`(?i)lengthMenu`),
	regexp.MustCompile(`(?i)pixel`),
	regexp.MustCompile(`(?i)windowHeight`),
	regexp.MustCompile(`(?i)toastr|toast-top-right`),
	regexp.MustCompile(`(?i)datepicker|selectpicker`),
	regexp.MustCompile(`(?i)autoclose|liveSearch|actionsBox`),
	regexp.MustCompile(`(?i)fullScreen|apexcharts|countTo`),
	regexp.MustCompile(`^(Yardım|Kapat|İstatistik)$`),
	regexp.MustCompile(`No'ya Göre|Büyüğe Göre|Küçüğe Göre`),
}

// StripNoise drops lines matching the page chrome patterns; blank lines are kept
func StripNoise(text string) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if isNoise(strings.TrimSpace(line)) {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func isNoise(line string) bool {
	if line == "" {
		return false
	}
	for _, re := range noiseLines {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}
