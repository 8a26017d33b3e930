package testutil

import (
	"bytes"
	"strings"
	"testing"

	"github.com/livedoc-io/livedoc/pkg/document"
)

// AssertBuildEquals verifies a node renders to the expected output in one format.
func AssertBuildEquals(t *testing.T, n *document.Node, format, expected string) {
	t.Helper()
	got := string(n.Build(format))
	if got != expected {
		t.Errorf("build %s:\n  got  %q\n  want %q", format, got, expected)
	}
}

// AssertBuildContains verifies a node's rendered output contains a fragment.
func AssertBuildContains(t *testing.T, n *document.Node, format, fragment string) {
	t.Helper()
	got := string(n.Build(format))
	if !strings.Contains(got, fragment) {
		t.Errorf("build %s missing %q:\n%s", format, fragment, got)
	}
}

// AssertChildNames verifies the direct children of a node, in creation order
// as reported by ListRecursive.
func AssertChildNames(t *testing.T, n *document.Node, expected ...string) {
	t.Helper()
	var got []string
	for _, ref := range n.ListRecursive() {
		if strings.Count(ref.Path, ".") == 1 {
			got = append(got, ref.Name)
		}
	}
	if len(got) != len(expected) {
		t.Fatalf("expected children %v, got %v", expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("child %d: expected %q, got %q", i, expected[i], got[i])
		}
	}
}

// AssertTreesEqual verifies two trees render identically in every format
// and have the same recursive element listing.
func AssertTreesEqual(t *testing.T, a, b *document.Node) {
	t.Helper()
	for _, format := range a.Formats() {
		if !bytes.Equal(a.Build(format), b.Build(format)) {
			t.Errorf("trees differ in format %s:\n  a: %q\n  b: %q",
				format, a.Build(format), b.Build(format))
		}
	}
	refsA, refsB := a.ListRecursive(), b.ListRecursive()
	if len(refsA) != len(refsB) {
		t.Fatalf("element counts differ: %d vs %d", len(refsA), len(refsB))
	}
	for i := range refsA {
		if refsA[i].Path != refsB[i].Path {
			t.Errorf("element %d: path %q vs %q", i, refsA[i].Path, refsB[i].Path)
		}
	}
}

// AssertNoError fails the test immediately when err is non-nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
