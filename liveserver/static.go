package liveserver

import (
	"net/http"
	"sort"
	"strings"
)

type staticRoute struct {
	prefix string
	root   string
}

// StaticResolver returns a handler that serves filesystem content for URL
// paths under the configured prefixes and hands everything else to next.
// The longest matching prefix wins, so "/static/admin/" can shadow
// "/static/".
func StaticResolver(routes map[string]string, next http.Handler) http.Handler {
	resolved := make([]staticRoute, 0, len(routes))
	for prefix, root := range routes {
		if !strings.HasPrefix(prefix, "/") {
			prefix = "/" + prefix
		}
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		resolved = append(resolved, staticRoute{prefix: prefix, root: root})
	}
	sort.Slice(resolved, func(i, j int) bool {
		return len(resolved[i].prefix) > len(resolved[j].prefix)
	})

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		for _, route := range resolved {
			if strings.HasPrefix(req.URL.Path, route.prefix) {
				fs := http.StripPrefix(route.prefix, http.FileServer(http.Dir(route.root)))
				fs.ServeHTTP(w, req)
				return
			}
		}
		next.ServeHTTP(w, req)
	})
}
