package textscan

import (
	"strings"
	"testing"
)

func mustParse(t *testing.T, doc string) *Node {
	t.Helper()
	node, err := ParseString(doc)
	if err != nil {
		t.Fatalf("parse %q: %v", doc, err)
	}
	return node
}

func TestParsePreservesFieldOrder(t *testing.T) {
	t.Parallel()
	node := mustParse(t, `{"zebra":1,"alpha":2,"mike":3}`)
	if node.Kind() != Object {
		t.Fatalf("kind = %s, want object", node.Kind())
	}
	want := []string{"zebra", "alpha", "mike"}
	fields := node.Fields()
	if len(fields) != len(want) {
		t.Fatalf("field count = %d, want %d", len(fields), len(want))
	}
	for i, name := range want {
		if fields[i].Name != name {
			t.Fatalf("field %d = %q, want %q", i, fields[i].Name, name)
		}
	}
}

func TestParseScalarsAndNesting(t *testing.T) {
	t.Parallel()
	node := mustParse(t, `{"s":"x","n":42,"b":true,"z":null,"a":[1,2],"o":{"k":"v"}}`)
	fields := node.Fields()
	kinds := []Kind{String, Number, Bool, Null, Array, Object}
	for i, want := range kinds {
		if got := fields[i].Value.Kind(); got != want {
			t.Fatalf("field %q kind = %s, want %s", fields[i].Name, got, want)
		}
	}
	if got := fields[1].Value.Number().String(); got != "42" {
		t.Fatalf("number payload = %q, want 42", got)
	}
	if elems := fields[4].Value.Elems(); len(elems) != 2 {
		t.Fatalf("array length = %d, want 2", len(elems))
	}
}

func TestParseRejectsMalformedInput(t *testing.T) {
	t.Parallel()
	for _, doc := range []string{"", "{", `{"a":}`, "[1,2", `{"a":1} extra`} {
		if _, err := Parse(strings.NewReader(doc)); err == nil {
			t.Fatalf("parse %q succeeded, want error", doc)
		}
	}
}

func TestBaseContextHasNoChildren(t *testing.T) {
	t.Parallel()
	var ctx Base
	if ctx.HasMoreChildren() {
		t.Fatal("base context reports children")
	}
	if err := ctx.Read(); err != nil {
		t.Fatalf("base read: %v", err)
	}
	if _, err := ctx.CurrentChild(); err == nil {
		t.Fatal("base current child succeeded, want error")
	}
}

func TestSequenceIteratesElements(t *testing.T) {
	t.Parallel()
	seq := NewSequence(mustParse(t, `[10,20,30]`))
	var got []string
	for seq.HasMoreChildren() {
		if err := seq.Read(); err != nil {
			t.Fatalf("read: %v", err)
		}
		child, err := seq.CurrentChild()
		if err != nil {
			t.Fatalf("current child: %v", err)
		}
		got = append(got, child.Number().String())
	}
	if strings.Join(got, ",") != "10,20,30" {
		t.Fatalf("elements = %s, want 10,20,30", strings.Join(got, ","))
	}
	if err := seq.Read(); err == nil {
		t.Fatal("read past end succeeded, want error")
	}
}

func TestPairAlternatesKeyAndValue(t *testing.T) {
	t.Parallel()
	pair := NewPair(mustParse(t, `{"1":10,"2":20}`))

	expect := []struct {
		lhs  bool
		text string
	}{
		{true, "1"},
		{false, "10"},
		{true, "2"},
		{false, "20"},
	}
	for i, want := range expect {
		if err := pair.Read(); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if pair.IsLhs() != want.lhs {
			t.Fatalf("read %d lhs = %v, want %v", i, pair.IsLhs(), want.lhs)
		}
		child, err := pair.CurrentChild()
		if err != nil {
			t.Fatalf("current child %d: %v", i, err)
		}
		var got string
		switch child.Kind() {
		case String:
			got = child.Text()
		case Number:
			got = child.Number().String()
		default:
			t.Fatalf("read %d kind = %s", i, child.Kind())
		}
		if got != want.text {
			t.Fatalf("read %d child = %q, want %q", i, got, want.text)
		}
	}
	if pair.HasMoreChildren() {
		t.Fatal("pair context reports children after the last member")
	}
	// The value side of the last member has been consumed; the next lhs
	// read must fail.
	if err := pair.Read(); err == nil {
		t.Fatal("read past end succeeded, want error")
	}
}

func TestPairKeysSurfaceAsStrings(t *testing.T) {
	t.Parallel()
	pair := NewPair(mustParse(t, `{"count":7}`))
	if err := pair.Read(); err != nil {
		t.Fatalf("read: %v", err)
	}
	key, err := pair.CurrentChild()
	if err != nil {
		t.Fatalf("current child: %v", err)
	}
	if key.Kind() != String || key.Text() != "count" {
		t.Fatalf("key node = %s %q, want string \"count\"", key.Kind(), key.Text())
	}
}

func TestPairWriteTogglesSides(t *testing.T) {
	t.Parallel()
	pair := NewPair(nil)
	if pair.IsLhs() {
		t.Fatal("fresh pair context starts on the lhs")
	}
	pair.Write()
	if !pair.IsLhs() {
		t.Fatal("write did not move to the lhs")
	}
	pair.Write()
	if pair.IsLhs() {
		t.Fatal("write did not move back to the rhs")
	}
}

func TestEmptyContainers(t *testing.T) {
	t.Parallel()
	seq := NewSequence(mustParse(t, `[]`))
	if seq.HasMoreChildren() {
		t.Fatal("empty sequence reports children")
	}
	pair := NewPair(mustParse(t, `{}`))
	if pair.HasMoreChildren() {
		t.Fatal("empty pair context reports children")
	}
	if err := pair.Read(); err == nil {
		t.Fatal("read on empty object succeeded, want error")
	}
}
