package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	gojson "github.com/goccy/go-json"
)

// wafRule is one signature the firewall screens for.
type wafRule struct {
	name    string
	pattern *regexp.Regexp
}

var (
	wafRules = []wafRule{
		{"sql-union", regexp.MustCompile(`(?i)(UNION|SELECT|INSERT|UPDATE|DELETE|DROP|ALTER|TRUNCATE)\s+(ALL|DISTINCT)?.*(FROM|INTO|TABLE|WHERE)`)},
		{"sql-comment", regexp.MustCompile(`--|#|/\*`)},
		{"sql-tautology", regexp.MustCompile(`(?i)\bOR\s+.+=\s*.+`)},
		{"sql-sleep", regexp.MustCompile(`(?i)SLEEP\(\d+\)`)},
		{"xss-script", regexp.MustCompile(`(?i)<script.*?>`)},
		{"xss-handler", regexp.MustCompile(`(?i)on\w+\s*=\s*["']`)},
		{"xss-scheme", regexp.MustCompile(`(?i)javascript\s*:`)},
		{"xss-iframe", regexp.MustCompile(`(?i)<iframe.*?>`)},
		{"traversal", regexp.MustCompile(`\.\.[/\\]`)},
		{"sensitive-file", regexp.MustCompile(`(?i)/etc/(passwd|shadow)`)},
	}

	scannerAgents = []string{"sqlmap", "nikto", "dirbuster", "nmap", "gobuster", "masscan"}
)

// WAF screens the user agent, the path and every query value. Request
// bodies carry workflow source, which legitimately contains comments and
// markup, and are left to the interpreter's own validation.
func WAF(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if agent := scannerAgent(r.UserAgent()); agent != "" {
				blockRequest(w, r, "scanner user agent", agent)
				return
			}
			if rule := matchRule(r.URL.Path); rule != "" {
				blockRequest(w, r, "malicious path", rule)
				return
			}
			for key, values := range r.URL.Query() {
				for _, v := range append([]string{key}, values...) {
					if rule := matchRule(v); rule != "" {
						blockRequest(w, r, "malicious query parameter", rule)
						return
					}
				}
			}
			// Query strings that fail to parse are screened raw.
			if _, err := url.ParseQuery(r.URL.RawQuery); err != nil {
				if rule := matchRule(r.URL.RawQuery); rule != "" {
					blockRequest(w, r, "malicious query string", rule)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func scannerAgent(ua string) string {
	ua = strings.ToLower(ua)
	for _, agent := range scannerAgents {
		if strings.Contains(ua, agent) {
			return agent
		}
	}
	return ""
}

// matchRule returns the name of the first rule input trips, or "".
func matchRule(input string) string {
	if input == "" {
		return ""
	}
	for _, rule := range wafRules {
		if rule.pattern.MatchString(input) {
			return rule.name
		}
	}
	return ""
}

func blockRequest(w http.ResponseWriter, r *http.Request, reason, rule string) {
	slog.Warn("🛡️ WAF BLOCKED REQUEST",
		"ip", r.RemoteAddr,
		"method", r.Method,
		"path", r.URL.Path,
		"reason", reason,
		"rule", rule,
		"ua", r.UserAgent())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = gojson.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   "blocked by firewall",
		"reason":  reason,
		"rule":    rule,
	})
}
