package textscan

import "fmt"

// Context tracks the position of an encoder or parser inside one level of the
// tree. Write advances the bookkeeping when a child is produced, Read when a
// child is consumed.
type Context interface {
	Write()
	Read() error
	// CurrentChild returns the node the last Read positioned on.
	CurrentChild() (*Node, error)
	HasMoreChildren() bool
}

// Base is the top-level context: a bare value with no children. Write and
// Read are no-ops so scalar documents need no special casing.
type Base struct{}

func (Base) Write()      {}
func (Base) Read() error { return nil }

func (Base) CurrentChild() (*Node, error) {
	return nil, fmt.Errorf("textscan: base context has no children")
}

func (Base) HasMoreChildren() bool { return false }

// Sequence iterates the elements of an array node.
type Sequence struct {
	elems []*Node
	pos   int
	cur   *Node
}

// NewSequence creates an iterator over the node's elements. A nil node
// produces an empty sequence.
func NewSequence(node *Node) *Sequence {
	s := &Sequence{}
	if node != nil {
		s.elems = node.Elems()
	}
	return s
}

func (s *Sequence) Write() {}

func (s *Sequence) Read() error {
	if s.pos >= len(s.elems) {
		return fmt.Errorf("textscan: read past the end of the sequence")
	}
	s.cur = s.elems[s.pos]
	s.pos++
	return nil
}

func (s *Sequence) CurrentChild() (*Node, error) {
	if s.cur == nil {
		return nil, fmt.Errorf("textscan: sequence context not positioned, call Read first")
	}
	return s.cur, nil
}

func (s *Sequence) HasMoreChildren() bool {
	return s.pos < len(s.elems)
}

// Pair tracks whether the walk is on the key, the left-hand side of the ":"
// operator, or the value of an object member. Keys are required to be
// strings, so the lhs child is surfaced as a string node. A single Read
// fetches a whole member: the key and value alternate on the lhs flag rather
// than consuming two members.
type Pair struct {
	fields []Field
	pos    int
	lhs    bool
	cur    Field
}

// NewPair creates an iterator over the node's members. A nil node produces an
// empty pair context.
func NewPair(node *Node) *Pair {
	p := &Pair{}
	if node != nil {
		p.fields = node.Fields()
	}
	return p
}

func (p *Pair) Write() {
	p.lhs = !p.lhs
}

func (p *Pair) Read() error {
	p.lhs = !p.lhs
	// Every other call advances, since one member carries both the key and
	// the value.
	if p.lhs {
		if p.pos >= len(p.fields) {
			return fmt.Errorf("textscan: read past the end of the object pairs")
		}
		p.cur = p.fields[p.pos]
		p.pos++
	}
	return nil
}

func (p *Pair) CurrentChild() (*Node, error) {
	if p.cur.Value == nil {
		return nil, fmt.Errorf("textscan: pair context not positioned, call Read first")
	}
	if p.lhs {
		return StringNode(p.cur.Name), nil
	}
	return p.cur.Value, nil
}

func (p *Pair) HasMoreChildren() bool {
	return p.pos < len(p.fields)
}

// IsLhs reports whether the context sits on a key.
func (p *Pair) IsLhs() bool {
	return p.lhs
}
