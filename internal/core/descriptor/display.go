package descriptor

import (
	"fmt"

	"github.com/beevik/etree"
)

// DisplayVersion is the version stamped on every display descriptor.
const DisplayVersion = "1.0.0"

// DisplayParams identifies one consumer unit.
type DisplayParams struct {
	ServiceName string // e.g. "consumer-visualizer"
	Label       string // manifest description
	PublicHost  string // platform's externally reachable host
	Port        int
}

// URL is where a browser reaches the consumer's rendering endpoint.
func (p DisplayParams) URL() string {
	return fmt.Sprintf("http://%s:%d", p.PublicHost, p.Port)
}

// Display builds the descriptor that tells the platform how to present a
// consumer's output inline.
func Display(p DisplayParams) *etree.Document {
	doc := newDocument()

	display := doc.CreateElement("display")
	display.CreateAttr("id", p.ServiceName)
	display.CreateAttr("version", DisplayVersion)
	display.CreateAttr("name", p.Label)

	link := display.CreateElement("link")
	link.CreateAttr("id", "open")
	link.CreateAttr("name", "open")
	link.CreateElement("url").SetText(p.URL())

	param := link.CreateElement("param")
	param.CreateAttr("type", "data")
	param.CreateAttr("name", "txt_file")
	param.CreateAttr("url", "galaxy.txt")

	doc.Indent(indent)
	return doc
}
