package crawler

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StateSchemaVersion tags every persisted CrawlState blob. Blobs carrying any
// other version are discarded on load.
const StateSchemaVersion = 2

// DefaultCountryCode is the scope used when none has been selected.
const DefaultCountryCode = "FR"

// AllSectionsKey selects every section when passed as a start section key.
const AllSectionsKey = "__all__"

// Node is one taxonomy entry queued for traversal. Path holds the ancestor
// descriptions (exclusive of the node itself) accumulated during descent.
type Node struct {
	ID           string   `json:"id"`
	Code         string   `json:"code"`
	HasChildren  bool     `json:"hasChildren"`
	Description  string   `json:"description"`
	Path         []string `json:"path"`
	SectionKey   string   `json:"sectionKey"`
	SectionLabel string   `json:"sectionLabel"`
	SectionName  string   `json:"sectionName"`
}

// Section is a top-level taxonomy branch and its root nodes.
type Section struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Name  string `json:"name"`
	Roots []Node `json:"roots"`
}

// Record is the output row derived from a leaf node.
type Record struct {
	HSCode      string `json:"hs_code"`
	Description string `json:"description"`
	Section     string `json:"section"`
	SectionName string `json:"section_name"`
	Chapter     string `json:"chapter"`
	Heading     string `json:"heading"`
	Subheading  string `json:"subheading"`
}

// NodeSnapshot is the minimal node context kept alongside a pause.
type NodeSnapshot struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Section     string `json:"section"`
}

// LastError records the failure that caused the most recent pause.
type LastError struct {
	Message string        `json:"message"`
	Node    *NodeSnapshot `json:"node"`
}

// NodeID is a remote node identifier. The API may encode ids as JSON strings
// or numbers; both decode to the same string form.
type NodeID string

// UnmarshalJSON accepts string, number, and null encodings.
func (id *NodeID) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		*id = ""
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode node id: %w", err)
		}
		*id = NodeID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode node id: %w", err)
	}
	*id = NodeID(n.String())
	return nil
}

// RawSection is the section metadata attached to catalog items.
type RawSection struct {
	Code            string `json:"code"`
	ID              NodeID `json:"id"`
	Description     string `json:"description"`
	Name            string `json:"name"`
	LongDescription string `json:"longDescription"`
}

// RawNode is one element of the nomenclature endpoint's JSON array.
type RawNode struct {
	ID          NodeID      `json:"id"`
	Code        string      `json:"code"`
	HasChildren bool        `json:"hasChildren"`
	Description string      `json:"description"`
	Name        string      `json:"name"`
	Section     *RawSection `json:"section"`
}

// SectionMeta is the (key, label, name) triple derived for a catalog item.
type SectionMeta struct {
	Key   string
	Label string
	Name  string
}

// Country is one selectable taxonomy scope.
type Country struct {
	Value string `json:"value"`
	Label string `json:"label"`
}
