package registry

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// JSONExtension is the datatype every consumer display is attached to.
const JSONExtension = "json"

// =============================================================================
// Data-type Registry
// =============================================================================

// DatatypeRegistry is an in-memory data-type registry document.
//
//	<datatypes>
//	  <registration>
//	    <datatype extension="json" type="galaxy.datatypes.text:Json">
//	      <display file="clams-consumer-visualizer.xml"/>
//	    </datatype>
//	  </registration>
//	</datatypes>
//
// The datatype groups belong to the platform; this type only adds display
// leaves to them and never creates a datatype.
type DatatypeRegistry struct {
	doc          *etree.Document
	registration *etree.Element
}

// NewDatatypeRegistry wraps a loaded data-type registry document.
func NewDatatypeRegistry(doc *etree.Document) (*DatatypeRegistry, error) {
	root := doc.Root()
	if root == nil {
		return nil, NewShapeError("datatype", "document is empty", ErrNoRoot)
	}
	registration := root.SelectElement("registration")
	if registration == nil {
		return nil, NewShapeError("datatype", "no <registration> under the root", ErrNoRegistration)
	}
	return &DatatypeRegistry{doc: doc, registration: registration}, nil
}

// AddDisplay attaches a display descriptor file to the datatype with the
// given extension. It reports false when the datatype already lists file.
func (r *DatatypeRegistry) AddDisplay(extension, file string) (bool, error) {
	if strings.TrimSpace(file) == "" {
		return false, NewShapeError("datatype", "cannot register a display without a file", ErrEmptyReference)
	}

	datatype := r.findDatatype(extension)
	if datatype == nil {
		return false, NewShapeError("datatype", fmt.Sprintf("no datatype with extension %q", extension), ErrNoDatatype)
	}
	if hasLeaf(datatype, "display", file) {
		return false, nil
	}
	datatype.AddChild(newLeaf("display", file))
	return true, nil
}

// Displays lists the display files attached to a datatype.
func (r *DatatypeRegistry) Displays(extension string) []string {
	datatype := r.findDatatype(extension)
	if datatype == nil {
		return nil
	}
	var files []string
	for _, el := range datatype.SelectElements("display") {
		files = append(files, el.SelectAttrValue("file", ""))
	}
	return files
}

// Document returns the underlying document for serialization.
func (r *DatatypeRegistry) Document() *etree.Document {
	return r.doc
}

func (r *DatatypeRegistry) findDatatype(extension string) *etree.Element {
	for _, el := range r.registration.SelectElements("datatype") {
		if el.SelectAttrValue("extension", "") == extension {
			return el
		}
	}
	return nil
}
