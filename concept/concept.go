// Package concept stores versioned collections of labeled examples with
// draft overlays and trains per-embedding classifiers on them.
package concept

import (
	"sort"
)

// DefaultDraft is the draft every example without an explicit draft belongs to.
const DefaultDraft = "main"

// Type is the kind of content a concept's examples carry.
type Type string

const (
	TypeText  Type = "text"
	TypeImage Type = "image"
)

// Origin records where an example was labeled.
type Origin struct {
	Dataset string `json:"dataset,omitempty"`
	Path    string `json:"path,omitempty"`
	RowID   string `json:"row_id,omitempty"`
}

// Example is a labeled piece of content.
type Example struct {
	ID     string  `json:"id"`
	Label  bool    `json:"label"`
	Text   *string `json:"text,omitempty"`
	Img    []byte  `json:"img,omitempty"`
	Origin *Origin `json:"origin,omitempty"`
	Draft  string  `json:"draft,omitempty"`
}

// DraftName returns the example's draft, DefaultDraft when unset.
func (e Example) DraftName() string {
	if e.Draft == "" {
		return DefaultDraft
	}
	return e.Draft
}

// content identifies an example's raw content for draft deduplication.
func (e Example) content() string {
	if e.Text != nil {
		return "t:" + *e.Text
	}
	return "i:" + string(e.Img)
}

// Concept is a named, versioned set of examples.
type Concept struct {
	Namespace   string             `json:"namespace"`
	Name        string             `json:"name"`
	Type        Type               `json:"type"`
	Description string             `json:"description,omitempty"`
	Data        map[string]Example `json:"data"`
	Version     int                `json:"version"`
}

// Drafts lists the drafts present in the concept, DefaultDraft first.
func (c *Concept) Drafts() []string {
	seen := map[string]bool{}
	var others []string
	for _, e := range c.Data {
		name := e.DraftName()
		if name == DefaultDraft || seen[name] {
			continue
		}
		seen[name] = true
		others = append(others, name)
	}
	sort.Strings(others)
	return append([]string{DefaultDraft}, others...)
}

func (c *Concept) clone() *Concept {
	out := *c
	out.Data = make(map[string]Example, len(c.Data))
	for id, e := range c.Data {
		out.Data[id] = e
	}
	return &out
}

// DraftView returns the examples visible in draft: main examples whose
// content is not shadowed by the draft, plus the draft's own examples.
func DraftView(c *Concept, draft string) map[string]Example {
	if draft == "" {
		draft = DefaultDraft
	}
	out := map[string]Example{}
	shadowed := map[string]bool{}
	if draft != DefaultDraft {
		for id, e := range c.Data {
			if e.DraftName() == draft {
				out[id] = e
				shadowed[e.content()] = true
			}
		}
	}
	for id, e := range c.Data {
		if e.DraftName() == DefaultDraft && !shadowed[e.content()] {
			out[id] = e
		}
	}
	return out
}

// sortedIDs returns the ids of examples in lexical order.
func sortedIDs(examples map[string]Example) []string {
	ids := make([]string, 0, len(examples))
	for id := range examples {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
