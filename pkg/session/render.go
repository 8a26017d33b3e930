package session

import (
	"strings"
	"time"

	"github.com/livedoc-io/livedoc/pkg/document"
	"github.com/livedoc-io/livedoc/pkg/metrics"
)

// Render builds the body of every requested format (all configured formats
// when none are given), wraps the HTML body into the static page template
// and stores the results for GetPage/GetBody. Rendering is idempotent and
// cheap to repeat; writers invalidate the stored pages implicitly because
// the next Render rebuilds from the tree.
func (s *Session) Render(formats ...string) {
	defer metrics.Timer(metrics.Render)()
	if len(formats) == 0 {
		formats = s.formats
	}

	s.mu.Lock()
	bodies := make(map[string][]byte, len(formats))
	for _, f := range formats {
		if !s.HasFormat(f) {
			continue
		}
		bodies[f] = s.root.Build(f)
	}
	s.mu.Unlock()

	pages := make(map[string][]byte, len(bodies))
	for f, body := range bodies {
		if f == document.FormatHTML {
			pages[f] = s.renderer.BuildPage(body)
		} else {
			pages[f] = body
		}
	}

	s.mu.Lock()
	for f, body := range bodies {
		s.bodyBackups[f] = body
	}
	for f, page := range pages {
		s.pageBackups[f] = page
	}
	s.mu.Unlock()

	if s.console != nil && !s.console.Progressive() {
		if md, ok := bodies[document.FormatMarkdown]; ok && len(md) > 0 {
			s.console.Clear()
			s.console.PrintMarkdown(string(md))
		} else if body, ok := bodies[document.FormatConsole]; ok {
			s.console.Replace(string(body))
		}
	}
}

// GetPage returns the latest rendered full page for the given format, or
// nil when the format was never rendered. For HTML this includes the
// header/footer template around the body.
func (s *Session) GetPage(format string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageBackups[format]
}

// GetBody returns the latest rendered body (without page chrome) for the
// given format.
func (s *Session) GetBody(format string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bodyBackups[format]
}

// GetElement resolves a dotted element path (starting with the root name)
// and builds just that subtree for the given format, together with its last
// update time. backup selects the committed snapshot instead of the
// working tree; passing nil auto-selects the snapshot while an update
// bracket is open, so readers never observe a half-rebuilt page.
func (s *Session) GetElement(path string, format string, backup *bool) (time.Time, []byte, bool) {
	useBackup := false
	if backup == nil {
		useBackup = s.InUpdate()
	} else {
		useBackup = *backup
	}

	// Browser DOM ids use dashes where the tree uses dots.
	parts := strings.Split(strings.ReplaceAll(path, "-", "."), ".")
	if len(parts) == 0 || parts[0] != RootName {
		return time.Time{}, nil, false
	}

	if useBackup {
		s.backupMu.Lock()
		defer s.backupMu.Unlock()
		return resolveElement(s.backup, parts[1:], format)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return resolveElement(s.root, parts[1:], format)
}

func resolveElement(root *document.Node, path []string, format string) (time.Time, []byte, bool) {
	if root == nil {
		return time.Time{}, nil, false
	}
	node := root
	for _, name := range path {
		child := node.Child(name)
		if child == nil {
			return time.Time{}, nil, false
		}
		node = child
	}
	return node.LastUpdate(), node.Build(format), true
}

// ChangedElement finds the outermost element whose direct content changed
// since the given client last pulled it, builds it for the given format and
// records the new update times for the whole covered subtree. While an
// update bracket is open the committed snapshot is scanned instead of the
// working tree, so a poll never delivers a half-built region. A client ID
// change resets the bookkeeping; a client ID that was already retired keeps
// returning nothing, signalling the page was reopened elsewhere.
func (s *Session) ChangedElement(clientID, format string) (string, []byte, bool) {
	if target := s.eventTarget.Load(); target != nil {
		return target.ChangedElement(clientID, format)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.backupMu.Lock()
	defer s.backupMu.Unlock()

	if s.lastClientID != clientID {
		if _, retired := s.oldClientIDs[clientID]; retired {
			return "", nil, false
		}
		s.elementTimes = make(map[string]time.Time)
		s.oldClientIDs[clientID] = struct{}{}
		s.lastClientID = clientID
	}

	root := s.root
	if s.updateDepth > 0 && s.backup != nil {
		root = s.backup
	}
	refs := root.ListRecursive()
	for _, ref := range refs {
		if _, known := s.elementTimes[ref.Path]; !known {
			s.elementTimes[ref.Path] = time.Time{}
		}
	}

	var changed *document.Ref
	for i := range refs {
		ref := &refs[i]
		if !s.elementTimes[ref.Path].Before(ref.Node.LastDirectChange()) {
			continue
		}
		// An element nested inside the already selected one would be
		// re-sent as part of its parent anyway.
		if changed != nil && strings.HasPrefix(ref.Path, changed.Path+".") {
			continue
		}
		changed = ref
	}
	if changed == nil {
		return "", nil, false
	}

	// Only anchored elements carry a DOM id the client can swap, so an
	// unanchored change is delivered through its nearest anchored ancestor
	// (ultimately the root, which the page template always anchors).
	node, path := changed.Node, changed.Path
	for node.Parent() != nil {
		if _, ok := node.Flags[document.AnchorFlag]; ok {
			break
		}
		node = node.Parent()
		path = path[:strings.LastIndex(path, ".")]
	}

	// The delivered build includes the current state of every nested
	// element, so each covered node counts as seen at its own change time.
	prefix := path + "."
	for i := range refs {
		ref := &refs[i]
		if ref.Path == path || strings.HasPrefix(ref.Path, prefix) {
			s.elementTimes[ref.Path] = ref.Node.LastDirectChange()
		}
	}
	return node.Name(), node.Build(format), true
}
