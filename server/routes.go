package server

import (
	"sort"
	"strings"
)

// Route is a registered route, for the startup log.
type Route struct {
	Method  string
	Path    string
	Handler string
}

// Routes lists the Gin routes sorted by path, GET first.
func (s *Server) Routes() []Route {
	info := s.engine.Routes()
	sort.Slice(info, func(i, j int) bool {
		if info[i].Path != info[j].Path {
			return info[i].Path < info[j].Path
		}
		return methodOrder(info[i].Method) < methodOrder(info[j].Method)
	})
	routes := make([]Route, 0, len(info))
	for _, r := range info {
		routes = append(routes, Route{Method: r.Method, Path: r.Path, Handler: formatHandlerName(r.Handler)})
	}
	return routes
}

// formatHandlerName shortens Gin's handler names, turning
// "github.com/x/y/server/endpoint.(*Captures).Still-fm" into
// "Captures.Still" and "github.com/x/y/server/endpoint.Health.func1" into
// "endpoint.Health".
func formatHandlerName(full string) string {
	name := strings.TrimSuffix(full, "-fm")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.NewReplacer("(*", "", ")", "").Replace(name)

	parts := strings.Split(name, ".")
	for len(parts) > 1 && strings.HasPrefix(parts[len(parts)-1], "func") {
		parts = parts[:len(parts)-1]
	}
	if len(parts) > 2 {
		parts = parts[len(parts)-2:]
	}
	return strings.Join(parts, ".")
}

func methodOrder(method string) int {
	switch method {
	case "GET":
		return 0
	case "POST":
		return 1
	case "PUT":
		return 2
	case "DELETE":
		return 3
	}
	return 4
}
