package crawler

import (
	"fmt"
	"strings"
)

// BuildRecord derives the output row for a leaf node. Chapter and heading are
// the first two and four characters of the code; subheading is the rest.
func BuildRecord(n Node) Record {
	parts := make([]string, 0, len(n.Path)+1)
	parts = append(parts, n.Path...)
	parts = append(parts, n.Description)
	return Record{
		HSCode:      n.Code,
		Description: joinDescription(parts),
		Section:     n.SectionLabel,
		SectionName: n.SectionName,
		Chapter:     prefix(n.Code, 2),
		Heading:     prefix(n.Code, 4),
		Subheading:  suffix(n.Code, 4),
	}
}

// joinDescription comma-joins parts after trimming, dropping blanks and any
// value already seen earlier in the sequence.
func joinDescription(parts []string) string {
	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return strings.Join(out, ", ")
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func suffix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return ""
	}
	return string(r[n:])
}

// DeriveSectionMeta picks the section key, label, and name for a catalog item.
// The key falls back through section code, section id, section description,
// item id, and finally a random token.
func DeriveSectionMeta(item RawNode, token func() string) SectionMeta {
	sec := RawSection{}
	if item.Section != nil {
		sec = *item.Section
	}
	key := firstNonEmpty(sec.Code, string(sec.ID), sec.Description, string(item.ID))
	if key == "" {
		key = token()
	}
	label := firstNonEmpty(sec.Description, sec.Name)
	if label == "" {
		label = fmt.Sprintf("Section %s", key)
	}
	name := firstNonEmpty(sec.LongDescription, item.Name, item.Description, label)
	return SectionMeta{Key: key, Label: label, Name: name}
}

// RootNode converts a catalog item into a root node of its section.
func RootNode(item RawNode, meta SectionMeta) Node {
	path := []string{}
	if meta.Name != "" {
		path = append(path, meta.Name)
	}
	return Node{
		ID:           string(item.ID),
		Code:         item.Code,
		HasChildren:  item.HasChildren,
		Description:  item.Description,
		Path:         path,
		SectionKey:   meta.Key,
		SectionLabel: meta.Label,
		SectionName:  meta.Name,
	}
}

// ChildNode derives a child from its parent; the parent's description is
// appended to the inherited path.
func ChildNode(parent Node, child RawNode) Node {
	path := make([]string, 0, len(parent.Path)+1)
	for _, p := range append(append([]string{}, parent.Path...), parent.Description) {
		if p != "" {
			path = append(path, p)
		}
	}
	return Node{
		ID:           string(child.ID),
		Code:         child.Code,
		HasChildren:  child.HasChildren,
		Description:  child.Description,
		Path:         path,
		SectionKey:   parent.SectionKey,
		SectionLabel: parent.SectionLabel,
		SectionName:  parent.SectionName,
	}
}

func (n Node) clone() Node {
	cp := n
	cp.Path = append([]string{}, n.Path...)
	return cp
}

func (n Node) snapshot() *NodeSnapshot {
	return &NodeSnapshot{ID: n.ID, Description: n.Description, Section: n.SectionLabel}
}

func cloneNodes(in []Node) []Node {
	out := make([]Node, len(in))
	for i, n := range in {
		out[i] = n.clone()
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
