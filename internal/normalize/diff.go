package normalize

import (
	"fmt"
	"strings"

	"github.com/rankwatch/rankwatch/internal/monitor"
)

// maxDiffLines bounds how many added/removed lines a summary spells out.
const maxDiffLines = 10

var lineOriented = map[monitor.Kind]bool{
	monitor.KindRobotsTxt: true,
	monitor.KindSitemap:   true,
}

// Summary produces a human-readable description of a change between two
// normalized snapshots: additions and removals for line-oriented kinds,
// an old/new sentence for scalar kinds. Never a raw byte diff.
func Summary(kind monitor.Kind, oldContent, newContent string) string {
	if lineOriented[kind] {
		return lineDiff(oldContent, newContent)
	}
	return scalarDiff(oldContent, newContent)
}

func scalarDiff(oldContent, newContent string) string {
	switch {
	case oldContent == "":
		return fmt.Sprintf("set to %q", newContent)
	case newContent == "":
		return fmt.Sprintf("removed (was %q)", oldContent)
	default:
		return fmt.Sprintf("changed from %q to %q", oldContent, newContent)
	}
}

func lineDiff(oldContent, newContent string) string {
	oldSet := lineSet(oldContent)
	newSet := lineSet(newContent)

	var added, removed []string
	for _, line := range splitLines(newContent) {
		if _, ok := oldSet[line]; !ok {
			added = append(added, line)
		}
	}
	for _, line := range splitLines(oldContent) {
		if _, ok := newSet[line]; !ok {
			removed = append(removed, line)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d added, %d removed", len(added), len(removed))
	writeLines(&b, "+", added)
	writeLines(&b, "-", removed)
	return b.String()
}

func writeLines(b *strings.Builder, prefix string, lines []string) {
	for i, line := range lines {
		if i == maxDiffLines {
			fmt.Fprintf(b, "\n%s ... %d more", prefix, len(lines)-maxDiffLines)
			return
		}
		fmt.Fprintf(b, "\n%s %s", prefix, line)
	}
}

func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}

func lineSet(content string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, line := range splitLines(content) {
		set[line] = struct{}{}
	}
	return set
}
