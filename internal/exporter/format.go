package exporter

import (
	"strconv"
	"strings"
	"time"
)

// formatFloat renders a value with the fewest digits that round-trip
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// formatReplicates renders replicate ordinals as "1;2;3"
func formatReplicates(reps []int) string {
	parts := make([]string, len(reps))
	for i, r := range reps {
		parts[i] = strconv.Itoa(r)
	}
	return strings.Join(parts, ";")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// columnHeader is the output column title, e.g. "IL-6 (pg/mL)"
func columnHeader(analyte, unit string) string {
	return analyte + " (" + unit + ")"
}

// sheetName maps an analyte onto a legal worksheet name: at most 31
// characters and none of : \ / ? * [ ]
func sheetName(analyte string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '_'
		}
		return r
	}, strings.TrimSpace(analyte))
	if name == "" {
		name = "analyte"
	}
	if r := []rune(name); len(r) > 31 {
		name = string(r[:31])
	}
	return name
}

// sheetCandidate returns the n-th tab name to try for analyte: the plain
// sheet name first, then "name_2", "name_3", shortened to stay within 31
// characters.
func sheetCandidate(analyte string, n int) string {
	name := sheetName(analyte)
	if n <= 1 {
		return name
	}
	suffix := "_" + strconv.Itoa(n)
	if r := []rune(name); len(r)+len(suffix) > 31 {
		name = string(r[:31-len(suffix)])
	}
	return name + suffix
}
