package reload

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/livedoc-io/livedoc/pkg/cache"
	"github.com/livedoc-io/livedoc/pkg/document"
	"github.com/livedoc-io/livedoc/pkg/event"
	"github.com/livedoc-io/livedoc/pkg/session"
)

func writeArtifact(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
}

func newHost() *session.Session {
	return session.New(session.WithFormats(document.FormatHTML))
}

// markdownLoader re-renders the artifact file into a fresh session, the way
// the livedoc binary does.
func markdownLoader(t *testing.T, path string, version int) Loader {
	t.Helper()
	return func(prior *cache.Cache) (*session.Session, error) {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if bytes.Contains(content, []byte("BROKEN")) {
			return nil, errors.New("artifact refuses to build")
		}
		s := session.New(
			session.WithFormats(document.FormatHTML),
			session.WithCache(cache.Adopt(prior, version)),
		)
		s.WriteHTML(string(content))
		return s, nil
	}
}

func newTestSupervisor(t *testing.T, content string) (*Supervisor, *session.Session, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.md")
	writeArtifact(t, path, content)
	host := newHost()
	sup, err := New(host, path, markdownLoader(t, path, 1), WithoutWatcher())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sup, host, path
}

func TestInitialLoadPublishesContent(t *testing.T) {
	sup, host, _ := newTestSupervisor(t, "<p>v1</p>")
	page := string(host.GetPage(document.FormatHTML))
	if !bytes.Contains([]byte(page), []byte("<p>v1</p>")) {
		t.Errorf("host page missing initial content: %s", page)
	}
	if sup.Sick() {
		t.Error("fresh supervisor must be healthy")
	}
	if sup.Reloads() != 0 {
		t.Errorf("initial load must not count as reload: %d", sup.Reloads())
	}
}

func TestInitialLoadFailureIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.md")
	writeArtifact(t, path, "BROKEN")
	if _, err := New(newHost(), path, markdownLoader(t, path, 1), WithoutWatcher()); err == nil {
		t.Fatal("a broken artifact at startup must fail construction")
	}
}

func TestUnchangedArtifactSkipsReload(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, "<p>v1</p>")
	sup.Tick(time.Now())
	sup.Tick(time.Now())
	if sup.Reloads() != 0 {
		t.Errorf("unchanged artifact reloaded %d times", sup.Reloads())
	}
}

func TestChangedArtifactReloads(t *testing.T) {
	sup, host, path := newTestSupervisor(t, "<p>v1</p>")
	writeArtifact(t, path, "<p>v2</p>")
	sup.Tick(time.Now())

	if sup.Reloads() != 1 {
		t.Fatalf("reloads: %d", sup.Reloads())
	}
	page := string(host.GetPage(document.FormatHTML))
	if !bytes.Contains([]byte(page), []byte("<p>v2</p>")) {
		t.Errorf("host page not updated: %s", page)
	}
	if bytes.Contains([]byte(page), []byte("<p>v1</p>")) {
		t.Errorf("stale content still present: %s", page)
	}
}

func TestFaultyEditKeepsLastGoodContent(t *testing.T) {
	sup, host, path := newTestSupervisor(t, "<p>good</p>")
	before := append([]byte(nil), host.GetPage(document.FormatHTML)...)

	writeArtifact(t, path, "BROKEN edit")
	sup.Tick(time.Now())

	if !sup.Sick() {
		t.Error("failed reload must flag sick")
	}
	if sup.Errors() != 1 {
		t.Errorf("errors: %d", sup.Errors())
	}
	after := host.GetPage(document.FormatHTML)
	if !bytes.Equal(before, after) {
		t.Errorf("host content changed across a failed reload:\nbefore: %s\nafter: %s", before, after)
	}

	// The old embedded session keeps serving.
	if sup.Embedded() == nil {
		t.Fatal("embedded session must survive the fault")
	}
}

func TestRecoveryAfterFault(t *testing.T) {
	sup, host, path := newTestSupervisor(t, "<p>good</p>")
	writeArtifact(t, path, "BROKEN")
	sup.Tick(time.Now())
	if !sup.Sick() {
		t.Fatal("precondition: supervisor must be sick")
	}

	writeArtifact(t, path, "<p>fixed</p>")
	sup.Tick(time.Now())

	if sup.Sick() {
		t.Error("successful reload must clear the sick flag")
	}
	page := string(host.GetPage(document.FormatHTML))
	if !bytes.Contains([]byte(page), []byte("<p>fixed</p>")) {
		t.Errorf("host page not recovered: %s", page)
	}
}

func TestCacheSurvivesReload(t *testing.T) {
	sup, _, path := newTestSupervisor(t, "<p>v1</p>")
	if err := sup.Embedded().Cache().Set("expensive", 99); err != nil {
		t.Fatal(err)
	}

	writeArtifact(t, path, "<p>v2</p>")
	sup.Tick(time.Now())

	var carried int
	ok, err := sup.Embedded().Cache().Get("expensive", &carried)
	if err != nil || !ok || carried != 99 {
		t.Errorf("cache entry lost across reload: %d ok=%v err=%v", carried, ok, err)
	}
}

func TestCacheVersionBumpDropsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.md")
	writeArtifact(t, path, "<p>v1</p>")
	host := newHost()
	version := 1
	loader := func(prior *cache.Cache) (*session.Session, error) {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		s := session.New(
			session.WithFormats(document.FormatHTML),
			session.WithCache(cache.Adopt(prior, version)),
		)
		s.WriteHTML(string(content))
		return s, nil
	}
	sup, err := New(host, path, loader, WithoutWatcher())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sup.Embedded().Cache().Set("expensive", 99); err != nil {
		t.Fatal(err)
	}

	version = 2
	writeArtifact(t, path, "<p>v2</p>")
	sup.Tick(time.Now())

	if sup.Embedded().Cache().Contains("expensive") {
		t.Error("version bump must start with an empty cache")
	}
}

func TestMarkInvalidForcesReload(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, "<p>v1</p>")
	sup.Embedded().MarkInvalid()
	sup.Tick(time.Now())
	if sup.Reloads() != 1 {
		t.Errorf("invalid flag must force a reload, got %d", sup.Reloads())
	}
	if sup.Embedded().Invalid() {
		t.Error("reload must reset the invalid flag")
	}
}

func TestPendingEventsCarryOver(t *testing.T) {
	sup, host, path := newTestSupervisor(t, "<p>v1</p>")
	old := sup.Embedded()

	// Events arriving through the host land in the embedded session.
	host.PushEvent(event.Event{Type: event.TypeClick, Target: "later"})
	if old.Queue().Len() != 1 {
		t.Fatalf("embedded queue: %d", old.Queue().Len())
	}

	writeArtifact(t, path, "<p>v2</p>")
	sup.Tick(time.Now())

	// After the swap, host events must route to the new embedded session.
	host.PushEvent(event.Event{Type: event.TypeClick, Target: "later"})
	if sup.Embedded() == old {
		t.Fatal("reload must swap the embedded session")
	}
	if sup.Embedded().Queue().Len() != 1 {
		t.Errorf("host events must route to the new session, queue=%d", sup.Embedded().Queue().Len())
	}
}

func TestTerminateStopsRun(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, "<p>v1</p>")
	sup.Terminate()
	done := make(chan error, 1)
	go func() { done <- sup.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not observe Terminate")
	}
}

func TestContextCancelStopsRun(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, "<p>v1</p>")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not observe cancellation")
	}
}
