package descriptor

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/clamsproject/appliance/internal/core/manifest"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// UpstreamVersion is the version given to synthesized descriptors of units
// declared without a branch.
const UpstreamVersion = "upstream"

// indent is the indentation used for every generated document.
const indent = 2

// =============================================================================
// Tool Descriptor
// =============================================================================

// ToolParams identifies one application unit.
type ToolParams struct {
	UnitName    string // manifest key, e.g. "whisper"
	ServiceName string // network identity, e.g. "app-whisper"
	Port        int
	Config      manifest.UnitConfig
}

// Command returns the invocation template the platform runs for a unit.
// The JSON input file is PUT to the unit and the response becomes the output.
//
// Example:
//
//	Command("app-whisper", 8001)
//	// curl -X PUT -H 'Content-Type: application/json' -d @$input app-whisper:8001 > $output
func Command(serviceName string, port int) string {
	return fmt.Sprintf("curl -X PUT -H 'Content-Type: application/json' -d @$input %s:%d > $output", serviceName, port)
}

// AdaptTool rewrites a descriptor shipped with a unit's source so the
// platform calls the unit over the network. The interpreter directive is
// dropped because the command no longer runs through a language runtime.
// The document is modified in place.
func AdaptTool(doc *etree.Document, p ToolParams) error {
	root := doc.Root()
	if root == nil || root.Tag != "tool" {
		return NewShapeError(p.ServiceName, "root element must be <tool>", ErrNotToolDescriptor)
	}

	command := root.SelectElement("command")
	if command == nil {
		return NewShapeError(p.ServiceName, "no <command> element to rewrite", ErrNoCommand)
	}

	command.SetText(Command(p.ServiceName, p.Port))
	command.RemoveAttr("interpreter")
	return nil
}

// SynthesizeTool builds a descriptor from manifest metadata for units that
// ship none. The unit's description is required.
func SynthesizeTool(p ToolParams) (*etree.Document, error) {
	description := strings.TrimSpace(p.Config.Description)
	if description == "" {
		return nil, manifest.NewFieldError(
			"apps."+p.UnitName+".description",
			"description is required when the unit ships no descriptor",
			manifest.ErrMissingDescription,
		)
	}

	version := p.Config.Branch
	if version == "" {
		version = UpstreamVersion
	}

	doc := newDocument()
	tool := doc.CreateElement("tool")
	tool.CreateAttr("id", p.ServiceName)
	tool.CreateAttr("name", description)
	tool.CreateAttr("version", version)

	tool.CreateElement("description").SetText(description)
	tool.CreateElement("command").SetText(Command(p.ServiceName, p.Port))

	input := tool.CreateElement("inputs").CreateElement("param")
	input.CreateAttr("name", "input")
	input.CreateAttr("type", "data")
	input.CreateAttr("format", "json")
	input.CreateAttr("label", "Input MMIF")

	output := tool.CreateElement("outputs").CreateElement("data")
	output.CreateAttr("name", "output")
	output.CreateAttr("format", "json")

	tool.CreateElement("help").SetText(CategoryText(p.Config.Type))

	doc.Indent(indent)
	return doc, nil
}

// CategoryText title-cases a unit's classification for use as help text.
//
// Example:
//
//	CategoryText("speech recognition, ocr") // "Speech Recognition, Ocr"
func CategoryText(classification string) string {
	return cases.Title(language.English).String(strings.TrimSpace(classification))
}

// Categories reads the comma-separated category list from a descriptor's
// <help> text. Entries are trimmed; empty entries are dropped.
func Categories(doc *etree.Document, serviceName string) ([]string, error) {
	root := doc.Root()
	if root == nil {
		return nil, NewShapeError(serviceName, "document has no root element", ErrNotToolDescriptor)
	}

	help := root.SelectElement("help")
	if help == nil {
		return nil, NewShapeError(serviceName, "no <help> element", ErrNoCategories)
	}

	var categories []string
	for _, c := range strings.Split(help.Text(), ",") {
		if c = strings.TrimSpace(c); c != "" {
			categories = append(categories, c)
		}
	}
	if len(categories) == 0 {
		return nil, NewShapeError(serviceName, "<help> has no category text", ErrNoCategories)
	}
	return categories, nil
}

// ParseTool reads a shipped descriptor, keeping CDATA sections intact.
func ParseTool(data []byte) (*etree.Document, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.PreserveCData = true
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, err
	}
	return doc, nil
}

func newDocument() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	return doc
}
