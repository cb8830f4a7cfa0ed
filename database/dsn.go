package database

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/koustreak/pgsafe/errs"
)

const defaultPort = "5432"

// parseDSN splits a connection string into its keyword/value pairs.
// Both the URL form (postgres://...) and the keyword/value form
// (host=... port=...) are accepted. An empty DSN yields an empty map.
func parseDSN(dsn string) (map[string]string, error) {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return parseURL(dsn)
	}
	return parseKeywordValue(dsn)
}

func parseURL(dsn string) (map[string]string, error) {
	// net/url rejects host lists such as "h1:5432,h2", so the hosts are cut
	// out before parsing and split by hand.
	rest, hostList := splitURLHosts(dsn)
	u, err := url.Parse(rest)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid connection URL", err)
	}

	params := map[string]string{}
	if u.User != nil {
		params["user"] = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			params["password"] = pw
		}
	}

	// Multi-host URLs: postgres://h1:5432,h2:5433/db. A host without a port
	// gets the default port when any other host names one.
	var hosts, ports []string
	anyPort := false
	for _, hp := range strings.Split(hostList, ",") {
		if hp == "" {
			continue
		}
		host, port := hp, ""
		if h, p, err := net.SplitHostPort(hp); err == nil {
			host, port = h, p
		} else if strings.HasPrefix(hp, "[") && strings.HasSuffix(hp, "]") {
			host = hp[1 : len(hp)-1]
		} else if strings.Contains(hp, ":") {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid connection URL", err)
		}
		if host != "" {
			h, err := url.PathUnescape(host)
			if err != nil {
				return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid connection URL", err)
			}
			host = h
		}
		if port != "" {
			if _, err := strconv.ParseUint(port, 10, 16); err != nil {
				return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid connection URL", fmt.Errorf("invalid port %q", port))
			}
			anyPort = true
		}
		hosts = append(hosts, host)
		ports = append(ports, port)
	}
	if len(hosts) > 0 {
		params["host"] = strings.Join(hosts, ",")
	}
	if anyPort {
		for i, p := range ports {
			if p == "" {
				ports[i] = defaultPort
			}
		}
		params["port"] = strings.Join(ports, ",")
	}

	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		params["dbname"] = db
	}
	for k, vs := range u.Query() {
		if len(vs) > 0 {
			params[k] = vs[len(vs)-1]
		}
	}
	return params, nil
}

// splitURLHosts removes the host list from a connection URL, returning the
// URL without it and the raw list.
func splitURLHosts(dsn string) (rest, hosts string) {
	i := strings.Index(dsn, "://")
	if i < 0 {
		return dsn, ""
	}
	start := i + 3
	end := len(dsn)
	if j := strings.IndexAny(dsn[start:], "/?#"); j >= 0 {
		end = start + j
	}
	hostStart := start
	if at := strings.LastIndex(dsn[start:end], "@"); at >= 0 {
		hostStart = start + at + 1
	}
	return dsn[:hostStart] + dsn[end:], dsn[hostStart:end]
}

// parseKeywordValue parses "key=value key2='quoted value'" strings using the
// native quoting rules: values may be single-quoted, and inside quotes a
// backslash escapes the next character.
func parseKeywordValue(s string) (map[string]string, error) {
	params := map[string]string{}
	i := 0
	for {
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		if i >= len(s) {
			return params, nil
		}

		start := i
		for i < len(s) && s[i] != '=' && !isSpace(s[i]) {
			i++
		}
		key := s[start:i]
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		if i >= len(s) || s[i] != '=' || key == "" {
			return nil, errs.Op("parseDSN", errs.ErrKindInvalidInput,
				fmt.Sprintf("missing \"=\" after %q in connection string", key))
		}
		i++
		for i < len(s) && isSpace(s[i]) {
			i++
		}

		var val strings.Builder
		if i < len(s) && s[i] == '\'' {
			i++
			closed := false
			for i < len(s) {
				c := s[i]
				if c == '\\' && i+1 < len(s) {
					val.WriteByte(s[i+1])
					i += 2
					continue
				}
				if c == '\'' {
					closed = true
					i++
					break
				}
				val.WriteByte(c)
				i++
			}
			if !closed {
				return nil, errs.Op("parseDSN", errs.ErrKindInvalidInput,
					fmt.Sprintf("unterminated quoted value for %q", key))
			}
		} else {
			for i < len(s) && !isSpace(s[i]) {
				if s[i] == '\\' && i+1 < len(s) {
					i++
				}
				val.WriteByte(s[i])
				i++
			}
		}
		params[key] = val.String()
	}
}

// buildDSN renders params as a keyword/value string with keys sorted so the
// output is stable.
func buildDSN(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+quoteValue(params[k]))
	}
	return strings.Join(parts, " ")
}

func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, " \t\n\r\f\v'\\") {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}
