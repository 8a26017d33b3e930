package session

import (
	"bytes"
	"html"
)

// htmlRenderer wraps a rendered document body into the static page
// template. The template is fixed at session creation; only the body
// changes between renders, which keeps full-page rendering cheap.
type htmlRenderer struct {
	header []byte
	footer []byte
}

// The client script keeps the page live: it polls for the outermost
// changed element and swaps only that subtree, and reports widget
// interactions back to the engine.
const pageScript = `<script>
(function () {
  var clientId = Math.random().toString(36).slice(2);
  function poll() {
    fetch("live/poll?client=" + clientId)
      .then(function (r) { return r.json(); })
      .then(function (msg) {
        if (msg && msg.target) {
          var el = document.getElementById(msg.target);
          if (el) { el.innerHTML = msg.content; }
        }
        setTimeout(poll, msg && msg.refreshMs ? msg.refreshMs : 250);
      })
      .catch(function () { setTimeout(poll, 1000); });
  }
  window.livedocEvent = function (type, target, payload) {
    fetch("live/event", {
      method: "POST",
      headers: { "Content-Type": "application/json" },
      body: JSON.stringify({ type: type, target: target, payload: payload || {} })
    });
  };
  poll();
})();
</script>`

const headerTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>%TITLE%</title>
<style>
body { font-family: -apple-system, "Segoe UI", Helvetica, Arial, sans-serif;
       margin: 2rem auto; max-width: 60rem; padding: 0 1rem; }
.ld-cell { margin: 0.25rem 0; }
hr { border: 0; border-top: 1px solid #ccc; }
</style>
</head>
<body>
<div id="` + RootName + `">
`

const footerTemplate = `</div>
%SCRIPT%
</body>
</html>
`

func newHTMLRenderer(title string) *htmlRenderer {
	header := bytes.ReplaceAll(
		[]byte(headerTemplate), []byte("%TITLE%"), []byte(html.EscapeString(title)))
	footer := bytes.ReplaceAll(
		[]byte(footerTemplate), []byte("%SCRIPT%"), []byte(pageScript))
	return &htmlRenderer{header: header, footer: footer}
}

// BuildPage concatenates header, body and footer into the full deliverable
// page.
func (r *htmlRenderer) BuildPage(body []byte) []byte {
	out := make([]byte, 0, len(r.header)+len(body)+len(r.footer))
	out = append(out, r.header...)
	out = append(out, body...)
	out = append(out, r.footer...)
	return out
}
