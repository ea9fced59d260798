package router

import (
	"strings"

	"github.com/valyala/fasthttp"
)

// Router is a minimal fasthttp router. Paths may carry {name} parameters
// matching one segment and a trailing {name...} matching the rest of the
// path. Parameters are exposed through ctx.UserValue.
type Router struct {
	routes   map[string][]route
	notFound fasthttp.RequestHandler
}

type route struct {
	segments []segment
	handler  fasthttp.RequestHandler
}

type segment struct {
	name     string
	isParam  bool
	catchAll bool
}

func New() *Router {
	return &Router{routes: make(map[string][]route)}
}

// Handler satisfies the fasthttp.Server handler interface.
func (r *Router) Handler(ctx *fasthttp.RequestCtx) {
	method := string(ctx.Method())
	path := string(ctx.Path())
	if rt, values, ok := r.lookup(method, path); ok {
		for k, v := range values {
			ctx.SetUserValue(k, v)
		}
		rt.handler(ctx)
		return
	}
	if allowed := r.allowed(method, path); len(allowed) > 0 {
		ctx.Response.Header.Set("Allow", strings.Join(allowed, ", "))
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
		return
	}
	if r.notFound != nil {
		r.notFound(ctx)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNotFound)
}

func (r *Router) lookup(method, path string) (route, map[string]string, bool) {
	for _, rt := range r.routes[method] {
		if values, ok := match(path, rt.segments); ok {
			return rt, values, true
		}
	}
	return route{}, nil, false
}

// allowed lists the other methods that would match path.
func (r *Router) allowed(method, path string) []string {
	var out []string
	for m := range r.routes {
		if m == method {
			continue
		}
		if _, _, ok := r.lookup(m, path); ok {
			out = append(out, m)
		}
	}
	return out
}

func (r *Router) GET(path string, h fasthttp.RequestHandler)    { r.Handle("GET", path, h) }
func (r *Router) POST(path string, h fasthttp.RequestHandler)   { r.Handle("POST", path, h) }
func (r *Router) PUT(path string, h fasthttp.RequestHandler)    { r.Handle("PUT", path, h) }
func (r *Router) DELETE(path string, h fasthttp.RequestHandler) { r.Handle("DELETE", path, h) }

// NotFound registers a handler for unmatched routes.
func (r *Router) NotFound(h fasthttp.RequestHandler) {
	r.notFound = h
}

// Handle registers h for method and path. Routes are tried in
// registration order.
func (r *Router) Handle(method, path string, h fasthttp.RequestHandler) {
	r.routes[method] = append(r.routes[method], route{segments: parse(path), handler: h})
}

func parse(path string) []segment {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return []segment{{}}
	}
	parts := strings.Split(path, "/")
	segs := make([]segment, len(parts))
	for i, part := range parts {
		if len(part) > 2 && part[0] == '{' && part[len(part)-1] == '}' {
			name := part[1 : len(part)-1]
			if strings.HasSuffix(name, "...") && i == len(parts)-1 {
				segs[i] = segment{name: strings.TrimSuffix(name, "..."), isParam: true, catchAll: true}
				continue
			}
			segs[i] = segment{name: name, isParam: true}
			continue
		}
		segs[i] = segment{name: part}
	}
	return segs
}

func match(path string, segs []segment) (map[string]string, bool) {
	path = strings.TrimPrefix(path, "/")
	if len(segs) == 1 && !segs[0].isParam && segs[0].name == "" {
		if path == "" {
			return map[string]string{}, true
		}
		return nil, false
	}
	var parts []string
	if path != "" {
		parts = strings.Split(path, "/")
	}
	last := segs[len(segs)-1]
	if last.catchAll {
		if len(parts) < len(segs)-1 {
			return nil, false
		}
	} else if len(parts) != len(segs) {
		return nil, false
	}
	values := make(map[string]string)
	for i, seg := range segs {
		if seg.catchAll {
			values[seg.name] = strings.Join(parts[i:], "/")
			break
		}
		if seg.isParam {
			if parts[i] == "" {
				return nil, false
			}
			values[seg.name] = parts[i]
			continue
		}
		if seg.name != parts[i] {
			return nil, false
		}
	}
	return values, true
}
