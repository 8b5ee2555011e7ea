// Package textscan holds the parsing contexts for a JSON-shaped textual
// encoding. A decoded tree is walked by a stack of contexts: a sequence
// context iterates array elements, a pair context alternates between the key
// (left-hand side of the ":") and the value of each object member. Keys are
// always strings, so the pair context surfaces them as string nodes.
package textscan

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Kind discriminates the node types of a decoded tree.
type Kind int

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Field is a single object member. Members keep their input order, which the
// pair context depends on.
type Field struct {
	Name  string
	Value *Node
}

// Node is one vertex of the decoded tree.
type Node struct {
	kind   Kind
	str    string
	num    json.Number
	boolV  bool
	elems  []*Node
	fields []Field
}

// StringNode wraps a bare string, used for surfacing object keys.
func StringNode(s string) *Node {
	return &Node{kind: String, str: s}
}

func (n *Node) Kind() Kind { return n.kind }

// Text returns the string payload of a string node.
func (n *Node) Text() string { return n.str }

// Number returns the numeric payload of a number node.
func (n *Node) Number() json.Number { return n.num }

// Bool returns the payload of a bool node.
func (n *Node) Bool() bool { return n.boolV }

// Elems returns the elements of an array node.
func (n *Node) Elems() []*Node { return n.elems }

// Fields returns the members of an object node in input order.
func (n *Node) Fields() []Field { return n.fields }

// Parse decodes a complete JSON document into a tree. Object member order is
// preserved. Trailing content after the document is an error.
func Parse(r io.Reader) (*Node, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	node, err := parseValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("textscan: trailing content after document")
	}
	return node, nil
}

// ParseString is Parse over an in-memory document.
func ParseString(s string) (*Node, error) {
	return Parse(strings.NewReader(s))
}

func parseValue(dec *json.Decoder) (*Node, error) {
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("textscan: unexpected end of document")
		}
		return nil, fmt.Errorf("textscan: %w", err)
	}
	return parseToken(dec, tok)
}

func parseToken(dec *json.Decoder, tok json.Token) (*Node, error) {
	switch v := tok.(type) {
	case nil:
		return &Node{kind: Null}, nil
	case bool:
		return &Node{kind: Bool, boolV: v}, nil
	case json.Number:
		return &Node{kind: Number, num: v}, nil
	case string:
		return &Node{kind: String, str: v}, nil
	case json.Delim:
		switch v {
		case '[':
			return parseArray(dec)
		case '{':
			return parseObject(dec)
		}
	}
	return nil, fmt.Errorf("textscan: unexpected token %v", tok)
}

func parseArray(dec *json.Decoder) (*Node, error) {
	node := &Node{kind: Array}
	for dec.More() {
		child, err := parseValue(dec)
		if err != nil {
			return nil, err
		}
		node.elems = append(node.elems, child)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("textscan: unterminated array: %w", err)
	}
	return node, nil
}

func parseObject(dec *json.Decoder) (*Node, error) {
	node := &Node{kind: Object}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("textscan: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("textscan: object key must be a string, got %v", tok)
		}
		child, err := parseValue(dec)
		if err != nil {
			return nil, err
		}
		node.fields = append(node.fields, Field{Name: name, Value: child})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("textscan: unterminated object: %w", err)
	}
	return node, nil
}
