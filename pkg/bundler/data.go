package bundler

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"io"
	"strings"
)

func transformJSON(src []byte, relPath string) (*TransformOutput, error) {
	var value interface{}
	if err := json.Unmarshal(src, &value); err != nil {
		result := &TransformError{File: relPath, Message: err.Error()}
		if syntaxErr, ok := err.(*json.SyntaxError); ok {
			result.Line, result.Column = lineColumn(src, int(syntaxErr.Offset))
		}
		return nil, result
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, src); err != nil {
		return nil, transformErr(relPath, "%s", err)
	}

	return &TransformOutput{Code: "module.exports = " + compact.String() + ";\n"}, nil
}

// lineColumn converts a byte offset into a 1-based line and column
func lineColumn(src []byte, offset int) (int, int) {
	if offset > len(src) {
		offset = len(src)
	}

	before := src[:offset]
	line := bytes.Count(before, []byte{'\n'}) + 1
	column := offset - bytes.LastIndexByte(before, '\n')
	return line, column
}

type xmlNode struct {
	name     string
	attrs    map[string]interface{}
	text     strings.Builder
	children []*xmlNode
}

// value renders the node the way xml2js does with its default options: attributes under "$",
// text under "_", children as arrays keyed by tag name and text-only elements as plain strings.
func (n *xmlNode) value() interface{} {
	text := strings.TrimSpace(n.text.String())
	if len(n.attrs) == 0 && len(n.children) == 0 {
		return text
	}

	result := map[string]interface{}{}
	if len(n.attrs) > 0 {
		result["$"] = n.attrs
	}
	if text != "" {
		result["_"] = text
	}
	for _, child := range n.children {
		list, _ := result[child.name].([]interface{})
		result[child.name] = append(list, child.value())
	}
	return result
}

func transformXML(src []byte, relPath string) (*TransformOutput, error) {
	decoder := xml.NewDecoder(bytes.NewReader(src))
	var stack []*xmlNode
	var root *xmlNode

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			result := &TransformError{File: relPath, Message: err.Error()}
			if syntaxErr, ok := err.(*xml.SyntaxError); ok {
				result.Line = syntaxErr.Line
				result.Message = syntaxErr.Msg
			}
			return nil, result
		}

		switch tok := token.(type) {
		case xml.StartElement:
			node := &xmlNode{name: qualifiedName(tok.Name), attrs: map[string]interface{}{}}
			for _, attr := range tok.Attr {
				node.attrs[qualifiedName(attr.Name)] = attr.Value
			}

			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, node)
			} else if root != nil {
				return nil, transformErr(relPath, "multiple root elements")
			} else {
				root = node
			}
			stack = append(stack, node)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(tok)
			}
		}
	}

	if root == nil {
		return nil, transformErr(relPath, "document has no root element")
	}

	data, err := json.Marshal(map[string]interface{}{root.name: root.value()})
	if err != nil {
		return nil, transformErr(relPath, "%s", err)
	}
	return &TransformOutput{Code: "module.exports = " + string(data) + ";\n"}, nil
}

func qualifiedName(name xml.Name) string {
	if name.Space == "" {
		return name.Local
	}
	return name.Space + ":" + name.Local
}
