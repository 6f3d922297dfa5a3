package registry

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// =============================================================================
// Tool Registry
// =============================================================================

// ToolRegistry is an in-memory tool registry document.
//
//	<toolbox>
//	  <section id="Ocr" name="Ocr Apps">
//	    <tool file="clams-app-easyocr.xml"/>
//	  </section>
//	</toolbox>
type ToolRegistry struct {
	doc  *etree.Document
	root *etree.Element
}

// Section is a read-only view of one registry section.
type Section struct {
	ID    string
	Name  string
	Tools []string
}

// ToolMerge reports what AddTool changed.
type ToolMerge struct {
	CreatedSections []string // categories that got a new section
	AddedTo         []string // sections that gained the leaf
	AlreadyPresent  []string // sections that already held the leaf
}

// NewToolRegistry wraps a loaded tool registry document.
func NewToolRegistry(doc *etree.Document) (*ToolRegistry, error) {
	root := doc.Root()
	if root == nil {
		return nil, NewShapeError("tool", "document is empty", ErrNoRoot)
	}
	if root.Tag != "toolbox" {
		return nil, NewShapeError("tool", fmt.Sprintf("root element is <%s>", root.Tag), ErrNotToolbox)
	}
	return &ToolRegistry{doc: doc, root: root}, nil
}

// SectionName is the display name given to a section created for category.
func SectionName(category string) string {
	return category + " Apps"
}

// AddTool registers a tool descriptor file under each of its categories.
//
// A category that matches an existing top-level section reuses it; any
// other category gets a new section appended to the root. A section that
// already references file is left untouched, so repeating a category, or
// re-running against an already merged registry, changes nothing.
// Sections belonging to other units are never removed or reordered.
func (r *ToolRegistry) AddTool(categories []string, file string) (ToolMerge, error) {
	var merge ToolMerge
	if strings.TrimSpace(file) == "" {
		return merge, NewShapeError("tool", "cannot register a tool without a file", ErrEmptyReference)
	}

	for _, category := range categories {
		section := r.findSection(category)
		if section == nil {
			section = r.root.CreateElement("section")
			section.CreateAttr("id", category)
			section.CreateAttr("name", SectionName(category))
			merge.CreatedSections = append(merge.CreatedSections, category)
		}

		if hasLeaf(section, "tool", file) {
			merge.AlreadyPresent = append(merge.AlreadyPresent, category)
			continue
		}
		section.AddChild(newLeaf("tool", file))
		merge.AddedTo = append(merge.AddedTo, category)
	}
	return merge, nil
}

// Sections lists the top-level sections in document order.
func (r *ToolRegistry) Sections() []Section {
	var sections []Section
	for _, el := range r.root.SelectElements("section") {
		s := Section{
			ID:   el.SelectAttrValue("id", ""),
			Name: el.SelectAttrValue("name", ""),
		}
		for _, tool := range el.SelectElements("tool") {
			s.Tools = append(s.Tools, tool.SelectAttrValue("file", ""))
		}
		sections = append(sections, s)
	}
	return sections
}

// Document returns the underlying document for serialization.
func (r *ToolRegistry) Document() *etree.Document {
	return r.doc
}

func (r *ToolRegistry) findSection(id string) *etree.Element {
	for _, el := range r.root.SelectElements("section") {
		if el.SelectAttrValue("id", "") == id {
			return el
		}
	}
	return nil
}

// =============================================================================
// Leaf helpers
// =============================================================================

// newLeaf builds a fresh <tag file="..."/> element for one insertion point.
func newLeaf(tag, file string) *etree.Element {
	leaf := etree.NewElement(tag)
	leaf.CreateAttr("file", file)
	return leaf
}

func hasLeaf(parent *etree.Element, tag, file string) bool {
	for _, el := range parent.SelectElements(tag) {
		if el.SelectAttrValue("file", "") == file {
			return true
		}
	}
	return false
}
