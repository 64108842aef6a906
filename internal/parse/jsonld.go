// internal/parse/jsonld.go
package parse

import (
	"encoding/json"
	"regexp"
	"strings"
)

const (
	// maxJSONLDBlocks caps how many <script> blocks are decoded per page.
	maxJSONLDBlocks = 20
	// MaxJSONLDNodes bounds the flattened node list after @graph expansion.
	MaxJSONLDNodes = 50
)

var jsonLDScriptRe = regexp.MustCompile(
	`(?is)<script[^>]*type\s*=\s*["']application/ld\+json["'][^>]*>(.*?)</script>`)

// ExtractJSONLD finds application/ld+json script blocks in raw HTML, decodes
// each one independently, expands @graph arrays, and returns the flattened
// node list. A parse failure in one block never affects the others.
func ExtractJSONLD(html string) []map[string]interface{} {
	matches := jsonLDScriptRe.FindAllStringSubmatch(html, maxJSONLDBlocks)

	var nodes []map[string]interface{}
	for _, match := range matches {
		var decoded interface{}
		if err := json.Unmarshal([]byte(strings.TrimSpace(match[1])), &decoded); err != nil {
			continue // isolated: skip the malformed block
		}
		nodes = appendJSONLDNodes(nodes, decoded)
		if len(nodes) >= MaxJSONLDNodes {
			nodes = nodes[:MaxJSONLDNodes]
			break
		}
	}
	return nodes
}

// appendJSONLDNodes flattens a decoded block into individual nodes. Top-level
// arrays and @graph arrays both expand; anything else is dropped.
func appendJSONLDNodes(nodes []map[string]interface{}, decoded interface{}) []map[string]interface{} {
	switch v := decoded.(type) {
	case []interface{}:
		for _, item := range v {
			nodes = appendJSONLDNodes(nodes, item)
		}
	case map[string]interface{}:
		if graph, ok := v["@graph"].([]interface{}); ok {
			for _, item := range graph {
				nodes = appendJSONLDNodes(nodes, item)
			}
			return nodes
		}
		nodes = append(nodes, v)
	}
	return nodes
}

// NodeType returns the @type of a JSON-LD node. Array-valued types return
// the first string element.
func NodeType(node map[string]interface{}) string {
	switch v := node["@type"].(type) {
	case string:
		return v
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				return s
			}
		}
	}
	return ""
}

// EventNodes filters the node list down to schema.org Event-typed nodes.
func EventNodes(nodes []map[string]interface{}) []map[string]interface{} {
	var events []map[string]interface{}
	for _, node := range nodes {
		if strings.Contains(NodeType(node), "Event") {
			events = append(events, node)
		}
	}
	return events
}

// NodeString returns a string-valued field from a JSON-LD node, looking
// through one level of nesting for the common name/url shapes
// (e.g. location.name, location.address.streetAddress).
func NodeString(node map[string]interface{}, keys ...string) string {
	current := interface{}(node)
	for _, key := range keys {
		m, ok := current.(map[string]interface{})
		if !ok {
			return ""
		}
		current = m[key]
	}
	if s, ok := current.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
