package jira

import (
	"encoding/json"
	"strings"
)

// ADF (Atlassian Document Format) is the rich-text JSON the v3 API uses for
// descriptions and comments. The bot only reads and writes plain paragraphs,
// so the node types below cover doc > paragraph > text and nothing else.

type adfDoc struct {
	Type    string     `json:"type"`
	Version int        `json:"version"`
	Content []adfBlock `json:"content"`
}

type adfBlock struct {
	Type    string      `json:"type"`
	Content []adfInline `json:"content"`
}

type adfInline struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// DescriptionToPlainText flattens an ADF description to newline-separated
// text. Bare JSON strings (older payloads) pass through unchanged; anything
// unparseable is returned as-is.
func DescriptionToPlainText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var doc adfDoc
	if err := json.Unmarshal(raw, &doc); err != nil || doc.Type != "doc" {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
		return string(raw)
	}

	lines := make([]string, 0, len(doc.Content))
	for _, block := range doc.Content {
		var b strings.Builder
		for _, inline := range block.Content {
			b.WriteString(inline.Text)
		}
		if b.Len() > 0 {
			lines = append(lines, b.String())
		}
	}
	return strings.Join(lines, "\n")
}

// PlainTextToADF wraps plain text in an ADF document, one paragraph per
// line. Empty input yields nil so callers can omit the field entirely.
func PlainTextToADF(text string) json.RawMessage {
	if text == "" {
		return nil
	}

	doc := adfDoc{Type: "doc", Version: 1}
	for _, line := range strings.Split(text, "\n") {
		block := adfBlock{Type: "paragraph", Content: []adfInline{}}
		if line != "" {
			block.Content = append(block.Content, adfInline{Type: "text", Text: line})
		}
		doc.Content = append(doc.Content, block)
	}

	data, _ := json.Marshal(doc)
	return data
}
