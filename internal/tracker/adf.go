package tracker

import (
	"encoding/json"
	"strings"
)

// adfNode is a node of an Atlassian Document Format tree.
type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text,omitempty"`
	Content []adfNode `json:"content,omitempty"`
}

// textOf flattens a field that is either a plain JSON string or an ADF
// document. Block nodes end with a newline.
func textOf(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	var b strings.Builder
	flatten(&b, doc)
	return strings.TrimSpace(b.String())
}

func flatten(b *strings.Builder, n adfNode) {
	switch n.Type {
	case "text":
		b.WriteString(n.Text)
		return
	case "hardBreak":
		b.WriteByte('\n')
		return
	}
	for _, child := range n.Content {
		flatten(b, child)
	}
	switch n.Type {
	case "paragraph", "heading", "listItem", "codeBlock", "blockquote":
		b.WriteByte('\n')
	}
}

// adfDocument wraps plain text in a minimal ADF document, one paragraph per line.
func adfDocument(text string) adfNode {
	doc := adfNode{Type: "doc"}
	for _, line := range strings.Split(text, "\n") {
		p := adfNode{Type: "paragraph"}
		if line != "" {
			p.Content = []adfNode{{Type: "text", Text: line}}
		}
		doc.Content = append(doc.Content, p)
	}
	return doc
}

// MarshalJSON adds the version attribute the comment API requires on the root.
func (n adfNode) MarshalJSON() ([]byte, error) {
	type plain adfNode
	if n.Type == "doc" {
		return json.Marshal(struct {
			Version int `json:"version"`
			plain
		}{Version: 1, plain: plain(n)})
	}
	return json.Marshal(plain(n))
}
