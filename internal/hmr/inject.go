package hmr

import (
	"strconv"
	"strings"
)

// clientMarker identifies an already injected client.
const clientMarker = "data-photon-hmr"

const clientTemplate = `(function() {
  'use strict';
  var path = %PATH%;
  var delay = 1000;
  var maxDelay = 30000;
  var overlayID = 'photon-error-overlay';

  function connect() {
    var proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
    var ws = new WebSocket(proto + '//' + location.host + path, 'vite-hmr');

    ws.onopen = function() { delay = 1000; };

    ws.onmessage = function(e) {
      var msg;
      try { msg = JSON.parse(e.data); } catch (err) { return; }
      switch (msg.type) {
        case 'connected':
          clearOverlay();
          break;
        case 'full-reload':
          location.reload();
          break;
        case 'error':
          showOverlay(msg.err || {});
          break;
      }
    };

    ws.onclose = function() {
      setTimeout(function() {
        delay = Math.min(delay * 2, maxDelay);
        connect();
      }, delay);
    };

    ws.onerror = function() { ws.close(); };
  }

  function showOverlay(err) {
    clearOverlay();
    var el = document.createElement('div');
    el.id = overlayID;
    el.style.cssText = 'position:fixed;inset:0;background:rgba(0,0,0,0.9);color:#fff;font:14px monospace;padding:20px;overflow:auto;z-index:999999;';
    var title = document.createElement('h2');
    title.style.cssText = 'color:#ff5555;margin:0 0 20px;';
    title.textContent = 'Server Error';
    var pre = document.createElement('pre');
    pre.style.cssText = 'white-space:pre-wrap;background:#1a1a1a;padding:20px;border-radius:8px;border:1px solid #333;';
    pre.textContent = (err.message || '') + (err.stack ? '\n\n' + err.stack : '');
    var hint = document.createElement('p');
    hint.style.cssText = 'margin-top:20px;color:#888;';
    hint.textContent = 'Fix the error and save, or press r + Enter in the terminal.';
    el.appendChild(title);
    el.appendChild(pre);
    el.appendChild(hint);
    document.body.appendChild(el);
  }

  function clearOverlay() {
    var el = document.getElementById(overlayID);
    if (el) { el.remove(); }
  }

  if (document.readyState === 'loading') {
    document.addEventListener('DOMContentLoaded', connect);
  } else {
    connect();
  }
})();
`

// ClientScript returns the browser client connecting to hmrPath.
func ClientScript(hmrPath string) string {
	return strings.Replace(clientTemplate, "%PATH%", strconv.Quote(hmrPath), 1)
}

// ScriptTag returns ClientScript wrapped in a marked script element.
func ScriptTag(hmrPath string) string {
	return "<script " + clientMarker + ">" + ClientScript(hmrPath) + "</script>"
}

// InjectClient inserts the client script before </head>, falling back to
// </body> and then the end of the document. Injecting twice is a no-op.
func InjectClient(html, hmrPath string) string {
	if strings.Contains(html, clientMarker) {
		return html
	}
	tag := ScriptTag(hmrPath)
	lower := strings.ToLower(html)
	for _, closing := range []string{"</head>", "</body>"} {
		if i := strings.Index(lower, closing); i >= 0 {
			return html[:i] + tag + html[i:]
		}
	}
	return html + tag
}
