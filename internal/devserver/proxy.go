package devserver

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/photon-dev/photon/internal/hmr"
	"github.com/photon-dev/photon/internal/supervisor"
	"github.com/photon-dev/photon/pkg/universal"
)

// proxyRule forwards every request under prefix to target.
type proxyRule struct {
	prefix string
	proxy  *httputil.ReverseProxy
}

// proxyRules builds the dev.proxy rules, longest prefix first.
func proxyRules(rules map[string]string, logger *zap.Logger) ([]proxyRule, error) {
	out := make([]proxyRule, 0, len(rules))
	for prefix, target := range rules {
		u, err := url.Parse(target)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("devserver: invalid proxy target %q for %q", target, prefix)
		}
		p := httputil.NewSingleHostReverseProxy(u)
		p.ErrorLog = zap.NewStdLog(logger)
		out = append(out, proxyRule{prefix: prefix, proxy: p})
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].prefix) != len(out[j].prefix) {
			return len(out[i].prefix) > len(out[j].prefix)
		}
		return out[i].prefix < out[j].prefix
	})
	return out, nil
}

// matchRule returns the rule for path, or nil.
func matchRule(rules []proxyRule, path string) *proxyRule {
	for i := range rules {
		if strings.HasPrefix(path, rules[i].prefix) {
			return &rules[i]
		}
	}
	return nil
}

// newWorkerProxy forwards to the worker on port and runs HTML through the
// live-reload transform. Errors render the not-running page.
func (s *Server) newWorkerProxy(port int) *httputil.ReverseProxy {
	target := &url.URL{Scheme: "http", Host: "127.0.0.1:" + strconv.Itoa(port)}
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
			if !isUpgrade(pr.In) {
				// HTML must arrive uncompressed to be transformed.
				pr.Out.Header.Del("Accept-Encoding")
			}
		},
		ModifyResponse: s.transformResponse,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.logger.Debug("worker unreachable", zap.String("path", r.URL.Path), zap.Error(err))
			s.notRunning(w, r)
		},
		ErrorLog: zap.NewStdLog(s.logger),
	}
}

// transformResponse injects the live-reload client into HTML responses.
func (s *Server) transformResponse(resp *http.Response) error {
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return nil
	}
	if resp.Header.Get("Content-Encoding") != "" {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()

	html, err := s.api.TransformIndexHTML(resp.Request.Context(), resp.Request.URL.Path, string(body), resp.Request.URL.String())
	if err != nil {
		return err
	}

	resp.Body = io.NopCloser(strings.NewReader(html))
	resp.ContentLength = int64(len(html))
	resp.Header.Set("Content-Length", strconv.Itoa(len(html)))
	return nil
}

// serveWorker is the node-style handler in front of the worker.
func (s *Server) serveWorker(w http.ResponseWriter, r *http.Request, next universal.NextFunc) {
	if s.sup.State() != supervisor.StateRunning {
		s.notRunning(w, r)
		return
	}
	s.workerProxy.ServeHTTP(w, r)
}

// notRunning answers while the worker is down. The page reloads itself
// once the worker is back.
func (s *Server) notRunning(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<!DOCTYPE html>
<html>
<head><title>photon dev server</title></head>
<body style="font-family: system-ui; padding: 40px; background: #1a1a1a; color: #fff;">
<h1 style="color: #ff5555;">Application Not Running</h1>
<p>The server entry is not responding. This could mean:</p>
<ul>
<li>The worker is still starting up</li>
<li>The entry threw while it was imported (check your terminal)</li>
<li>The worker crashed</li>
</ul>
<p style="color: #888;">%s. The page reloads when the worker is ready.</p>
%s
</body>
</html>`, supervisor.RestartHint, hmr.ScriptTag(s.cfg.Dev.HMRPath))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusBadGateway)
	_, _ = w.Write(buf.Bytes())
}

func isUpgrade(r *http.Request) bool {
	for _, v := range r.Header.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), "upgrade") {
				return r.Header.Get("Upgrade") != ""
			}
		}
	}
	return false
}
