// Package parser extracts task references from free text: commit
// messages, pull request titles and descriptions. Parsing is pure —
// no I/O, deterministic for a given input.
package parser

import (
	"regexp"
	"strconv"

	"taskbridge/internal/models"
)

// Reference is one extracted task mention.
type Reference struct {
	TaskID   uint
	LinkType string
	// Text is the snippet that produced the match, kept for the
	// task link's reference_text field.
	Text string
}

// Pattern families, applied in order. Closing keywords are matched
// first so a "fixes #12" is not reported as a bare "#12" reference.
var (
	closesPattern   = regexp.MustCompile(`(?i)\bcloses?\s+#(\d+)`)
	fixesPattern    = regexp.MustCompile(`(?i)\bfix(?:es)?\s+#(\d+)`)
	resolvesPattern = regexp.MustCompile(`(?i)\bresolves?\s+#(\d+)`)
	barePattern     = regexp.MustCompile(`#(\d+)`)
	ticketPattern   = regexp.MustCompile(`(?i)\b(?:TASK|DEV|ISSUE|BUG|FEAT|FIX)[-_]?(\d+)\b`)
)

// Parse extracts all task references from text. Results are
// deduplicated by task id, keeping the strongest link type when the
// same id matches multiple patterns (closes/fixes/resolves dominate
// plain references). Order is first-occurrence order in the text, not
// sorted.
func Parse(text string) []Reference {
	if text == "" {
		return nil
	}

	type entry struct {
		ref   Reference
		first int // byte offset of first occurrence, for ordering
	}
	byTask := make(map[uint]*entry)

	record := func(matches [][]int, linkType string) {
		for _, m := range matches {
			id, err := strconv.ParseUint(text[m[2]:m[3]], 10, 32)
			if err != nil || id == 0 {
				continue
			}
			taskID := uint(id)
			snippet := text[m[0]:m[1]]

			existing, ok := byTask[taskID]
			if !ok {
				byTask[taskID] = &entry{
					ref:   Reference{TaskID: taskID, LinkType: linkType, Text: snippet},
					first: m[0],
				}
				continue
			}
			// Same task matched again: keep the strongest link type
			// and the earliest position.
			stronger := models.StrongerLink(existing.ref.LinkType, linkType)
			if stronger != existing.ref.LinkType {
				existing.ref.LinkType = stronger
				existing.ref.Text = snippet
			}
			if m[0] < existing.first {
				existing.first = m[0]
			}
		}
	}

	record(closesPattern.FindAllStringSubmatchIndex(text, -1), models.LinkCloses)
	record(fixesPattern.FindAllStringSubmatchIndex(text, -1), models.LinkFixes)
	record(resolvesPattern.FindAllStringSubmatchIndex(text, -1), models.LinkResolves)
	record(barePattern.FindAllStringSubmatchIndex(text, -1), models.LinkReference)
	record(ticketPattern.FindAllStringSubmatchIndex(text, -1), models.LinkReference)

	if len(byTask) == 0 {
		return nil
	}

	entries := make([]*entry, 0, len(byTask))
	for _, e := range byTask {
		entries = append(entries, e)
	}
	// Insertion-order semantics: sort by first occurrence in the text.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].first > entries[j].first; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}

	refs := make([]Reference, len(entries))
	for i, e := range entries {
		refs[i] = e.ref
	}
	return refs
}
