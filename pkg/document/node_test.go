package document

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func newTestNode(t *testing.T, formats ...string) *Node {
	t.Helper()
	if len(formats) == 0 {
		formats = []string{FormatHTML, FormatMarkdown}
	}
	return NewNode("body", formats)
}

func mustAdd(t *testing.T, n *Node, format, data string) {
	t.Helper()
	if err := n.AddData(format, []byte(data)); err != nil {
		t.Fatalf("AddData(%s, %q): %v", format, data, err)
	}
}

func TestAddDataAppendsPerFormat(t *testing.T) {
	n := newTestNode(t)
	mustAdd(t, n, FormatHTML, "<b>hi</b>")
	mustAdd(t, n, FormatMarkdown, "**hi**")
	mustAdd(t, n, FormatHTML, "<i>there</i>")

	if got := string(n.Build(FormatHTML)); got != "<b>hi</b><i>there</i>" {
		t.Errorf("html build: %q", got)
	}
	if got := string(n.Build(FormatMarkdown)); got != "**hi**" {
		t.Errorf("md build: %q", got)
	}
}

func TestAddDataUnconfiguredFormat(t *testing.T) {
	n := NewNode("body", []string{FormatHTML})
	err := n.AddData(FormatConsole, []byte("x"))
	if err == nil {
		t.Fatal("expected error for unconfigured format")
	}
	if !strings.Contains(err.Error(), FormatConsole) {
		t.Errorf("error should name the format: %v", err)
	}
	if len(n.Build(FormatHTML)) != 0 {
		t.Error("failed write must not alter content")
	}
}

func TestBuildUnconfiguredFormatIsEmpty(t *testing.T) {
	n := NewNode("body", []string{FormatHTML})
	mustAdd(t, n, FormatHTML, "content")
	if got := n.Build(FormatText); len(got) != 0 {
		t.Errorf("expected empty build, got %q", got)
	}
}

// Verifies the interleaving scenario: writes before and after a nested
// element keep their relative position in every format, even when the child
// is rebuilt later.
func TestSubElementOrdering(t *testing.T) {
	n := newTestNode(t)
	mustAdd(t, n, FormatHTML, "A")
	mustAdd(t, n, FormatMarkdown, "a")
	child := n.AddSubElement("region")
	mustAdd(t, child, FormatHTML, "B")
	mustAdd(t, n, FormatHTML, "C")
	mustAdd(t, n, FormatMarkdown, "c")

	if got := string(n.Build(FormatHTML)); got != "ABC" {
		t.Errorf("html build: %q", got)
	}
	if got := string(n.Build(FormatMarkdown)); got != "ac" {
		t.Errorf("md build: %q", got)
	}

	// Rebuilding the child only replaces its slot.
	child.Clear()
	mustAdd(t, child, FormatHTML, "B2")
	mustAdd(t, child, FormatMarkdown, "b2")
	if got := string(n.Build(FormatHTML)); got != "AB2C" {
		t.Errorf("html build after rebuild: %q", got)
	}
	if got := string(n.Build(FormatMarkdown)); got != "ab2c" {
		t.Errorf("md build after rebuild: %q", got)
	}
}

func TestWritesAfterChildOpenNewSlot(t *testing.T) {
	n := newTestNode(t)
	mustAdd(t, n, FormatHTML, "1")
	n.AddSubElement("x")
	mustAdd(t, n, FormatHTML, "2")
	mustAdd(t, n, FormatHTML, "3")

	// "2" and "3" coalesce into one chunk slot after the child reference.
	if got := string(n.Build(FormatHTML)); got != "123" {
		t.Errorf("build: %q", got)
	}
}

func TestClearDetachesChildren(t *testing.T) {
	n := newTestNode(t)
	mustAdd(t, n, FormatHTML, "before")
	child := n.AddSubElement("region")
	mustAdd(t, child, FormatHTML, "inner")

	n.Clear()

	if got := n.Build(FormatHTML); len(got) != 0 {
		t.Errorf("expected empty build after clear, got %q", got)
	}
	if n.Contains("region") {
		t.Error("child must be discarded on clear")
	}
	if child.Parent() != nil {
		t.Error("detached child must not keep a parent link")
	}
	// The stale reference still works but no longer reaches the tree.
	mustAdd(t, child, FormatHTML, "more")
	if got := n.Build(FormatHTML); len(got) != 0 {
		t.Errorf("detached child write leaked into tree: %q", got)
	}
}

func TestClearLeavesHeldChildContent(t *testing.T) {
	n := newTestNode(t)
	child := n.AddSubElement("region")
	mustAdd(t, child, FormatHTML, "inner")

	n.Clear()

	// A held reference keeps its content; the clear only unlinks it.
	if got := string(child.Build(FormatHTML)); got != "inner" {
		t.Errorf("held child build after clear: %q", got)
	}
	if child.Parent() != nil {
		t.Error("cleared child must be detached")
	}
}

func TestClearResetsFlags(t *testing.T) {
	n := newTestNode(t)
	n.Flags["owner"] = 42
	n.Clear()
	if _, ok := n.Flags["owner"]; ok {
		t.Error("flags must be reset on clear")
	}
}

func TestTimestampPropagation(t *testing.T) {
	n := newTestNode(t)
	child := n.AddSubElement("a")
	grand := child.AddSubElement("b")

	before := n.LastChildUpdate()
	time.Sleep(2 * time.Millisecond)
	mustAdd(t, grand, FormatHTML, "x")

	if !n.LastChildUpdate().After(before) {
		t.Error("grandchild write must bump root's child update time")
	}
	if !child.LastChildUpdate().After(before) {
		t.Error("grandchild write must bump parent's child update time")
	}
	if grand.LastDirectChange().Before(n.LastChildUpdate()) {
		t.Error("direct change of the writer must not lag the propagated time")
	}
}

func TestModificationCounters(t *testing.T) {
	n := newTestNode(t)
	child := n.AddSubElement("a")
	mustAdd(t, child, FormatHTML, "x")
	mustAdd(t, child, FormatHTML, "y")

	if n.DirectModifications() != 1 {
		t.Errorf("root direct mods: %d", n.DirectModifications())
	}
	if n.TotalModifications() != 3 {
		t.Errorf("root total mods: %d", n.TotalModifications())
	}
	if child.DirectModifications() != 2 {
		t.Errorf("child direct mods: %d", child.DirectModifications())
	}
}

func TestDuplicateChildNameReplaces(t *testing.T) {
	n := newTestNode(t)
	first := n.AddSubElement("region")
	second := n.AddSubElement("region")
	if n.Child("region") != second {
		t.Error("lookup must resolve to the newest child of a name")
	}
	mustAdd(t, first, FormatHTML, "1")
	mustAdd(t, second, FormatHTML, "2")
	// Both stay in the ordered entry list.
	if got := string(n.Build(FormatHTML)); got != "12" {
		t.Errorf("build: %q", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	n := newTestNode(t)
	mustAdd(t, n, FormatHTML, "A")
	child := n.AddSubElement("region")
	mustAdd(t, child, FormatHTML, "B")
	mustAdd(t, n, FormatHTML, "C")

	cp := n.Clone(nil)
	if !bytes.Equal(cp.Build(FormatHTML), n.Build(FormatHTML)) {
		t.Fatalf("clone differs: %q vs %q", cp.Build(FormatHTML), n.Build(FormatHTML))
	}

	// Mutating the original must not affect the clone.
	mustAdd(t, child, FormatHTML, "X")
	n.Clear()
	if got := string(cp.Build(FormatHTML)); got != "ABC" {
		t.Errorf("clone changed after original mutation: %q", got)
	}
	if cp.Child("region") == child {
		t.Error("clone must not share child nodes")
	}
	if cp.Child("region").Parent() != cp {
		t.Error("clone children must link to the clone")
	}
}

func TestClonePreservesCounters(t *testing.T) {
	n := newTestNode(t)
	mustAdd(t, n, FormatHTML, "x")
	mustAdd(t, n, FormatHTML, "y")
	cp := n.Clone(nil)
	if cp.DirectModifications() != n.DirectModifications() {
		t.Errorf("direct mods: %d vs %d", cp.DirectModifications(), n.DirectModifications())
	}
	if !cp.LastDirectChange().Equal(n.LastDirectChange()) {
		t.Error("clone must preserve change timestamps")
	}
}

func TestListRecursiveOrder(t *testing.T) {
	n := newTestNode(t)
	a := n.AddSubElement("a")
	a.AddSubElement("inner")
	n.AddSubElement("b")

	refs := n.ListRecursive()
	paths := make([]string, len(refs))
	for i, r := range refs {
		paths[i] = r.Path
	}
	want := []string{"body", "body.a", "body.a.inner", "body.b"}
	if len(paths) != len(want) {
		t.Fatalf("paths: %v", paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("ref %d: %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestLastUpdatePicksLater(t *testing.T) {
	n := newTestNode(t)
	child := n.AddSubElement("a")
	time.Sleep(2 * time.Millisecond)
	mustAdd(t, child, FormatHTML, "x")
	if !n.LastUpdate().Equal(n.LastChildUpdate()) {
		t.Error("child update is newest and must win")
	}
	time.Sleep(2 * time.Millisecond)
	mustAdd(t, n, FormatHTML, "y")
	if !n.LastUpdate().Equal(n.LastDirectChange()) {
		t.Error("direct change is newest and must win")
	}
}
