// Package distfile parses vendor software-update distribution documents:
// the per-product XML describing title, version, description, and package
// restart behavior, with localized text embedded in a .strings-format blob.
//
// Parsing is pure: identical input always yields identical output, so parse
// failures are never retried.
package distfile

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/jacobfgrant/anejo/errors"
)

// Dist holds the fields of interest extracted from a distribution document
type Dist struct {
	SUName      string            `json:"su_name"`
	Title       string            `json:"title"`
	Version     string            `json:"version"`
	Description string            `json:"description"`
	PkgRefs     map[string]PkgRef `json:"pkg_refs"`
}

// PkgRef describes one package reference within the selected choice
type PkgRef struct {
	Name          string `json:"name,omitempty"`
	RestartAction string `json:"RestartAction,omitempty"`
	Version       string `json:"version,omitempty"`
}

// localizedPrefix marks attribute values that are indirection keys into the
// localization strings table rather than literals.
const localizedPrefix = "SU_"

// defaultChoiceID is used when the software-update outline names no choice
const defaultChoiceID = "su"

// node is a generic XML tree element
type node struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Text    string     `xml:",chardata"`
	Nodes   []node     `xml:",any"`
}

func (n *node) attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// descendants appends every element named name in the subtree, depth-first
func (n *node) descendants(name string, out []*node) []*node {
	for i := range n.Nodes {
		child := &n.Nodes[i]
		if child.XMLName.Local == name {
			out = append(out, child)
		}
		out = child.descendants(name, out)
	}
	return out
}

// Parse extracts product metadata from a raw distribution document
func Parse(data []byte) (*Dist, error) {
	var root node
	decoder := xml.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&root); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %w", errors.ErrParsingFailed, err),
			"Distfile", "Parse", "decode document")
	}

	// The choices-outline marked for SoftwareUpdate names the choice id the
	// updater actually uses.
	choiceID := defaultChoiceID
	for _, outline := range root.descendants("choices-outline", nil) {
		if ui, ok := outline.attr("ui"); !ok || ui != "SoftwareUpdate" {
			continue
		}
		lines := outline.descendants("line", nil)
		if len(lines) > 0 {
			if ref, ok := lines[0].attr("choice"); ok {
				choiceID = ref
			}
		}
	}

	// Collect attributes and package references from every matching choice
	// (there may be more than one).
	suChoice := make(map[string]string)
	pkgs := make(map[string]PkgRef)
	for _, choice := range root.descendants("choice", nil) {
		id, ok := choice.attr("id")
		if !ok || id != choiceID {
			continue
		}
		for _, a := range choice.Attrs {
			suChoice[a.Name.Local] = a.Value
		}
		for _, ref := range choice.descendants("pkg-ref", nil) {
			pkgID, ok := ref.attr("id")
			if !ok {
				continue
			}
			pkg := pkgs[pkgID]
			if name := strings.TrimSpace(ref.Text); name != "" {
				pkg.Name = name
			}
			if onConclusion, ok := ref.attr("onConclusion"); ok {
				pkg.RestartAction = onConclusion
			}
			if version, ok := ref.attr("version"); ok {
				pkg.Version = version
			}
			pkgs[pkgID] = pkg
		}
	}

	// The first localization block's strings table resolves SU_ keys.
	// A missing block leaves the table empty and the fields literal.
	table := map[string]string{}
	if localizations := root.descendants("localization", nil); len(localizations) > 0 {
		if stringsNodes := localizations[0].descendants("strings", nil); len(stringsNodes) > 0 {
			table = ParseStrings(stringsNodes[0].Text)
		}
	}

	dist := &Dist{
		SUName:      localize(suChoice["suDisabledGroupID"], table),
		Title:       localize(suChoice["title"], table),
		Version:     localize(suChoice["versStr"], table),
		Description: localize(suChoice["description"], table),
		PkgRefs:     pkgs,
	}
	return dist, nil
}

// localize resolves a choice attribute value: values beginning with the
// reserved prefix are looked up in the strings table, falling back to the
// literal when absent.
func localize(value string, table map[string]string) string {
	if strings.HasPrefix(value, localizedPrefix) {
		if resolved, ok := table[value]; ok {
			return resolved
		}
	}
	return value
}
