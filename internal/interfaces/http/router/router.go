// Package router assembles the gin route table of the control API.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Mounter registers routes below a parent gin group
type Mounter interface {
	Mount(parent *gin.RouterGroup)
}

// API mounts groups under /api/<version>
type API struct {
	engine  *gin.Engine
	version string
	groups  []Mounter
}

// NewAPI returns an API rooted at /api/<version>; an empty version means v1
func NewAPI(engine *gin.Engine, version string) *API {
	if version == "" {
		version = "v1"
	}
	return &API{engine: engine, version: version}
}

// Add queues groups for Mount
func (a *API) Add(groups ...Mounter) *API {
	a.groups = append(a.groups, groups...)
	return a
}

// Mount registers every queued group on the engine
func (a *API) Mount() {
	root := a.engine.Group("/api/" + a.version)
	for _, g := range a.groups {
		g.Mount(root)
	}
}

// Group collects the routes of one API area before they are mounted, so
// middleware added with Use applies regardless of declaration order
type Group struct {
	name       string
	prefix     string
	middleware []gin.HandlerFunc
	routes     []route
	children   []*Group
}

type route struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// NewGroup creates a group mounted at prefix
func NewGroup(name, prefix string) *Group {
	return &Group{name: name, prefix: prefix}
}

// Name returns the group name
func (g *Group) Name() string { return g.name }

// Prefix returns the path prefix relative to the parent
func (g *Group) Prefix() string { return g.prefix }

// Use appends middleware run for this group and its children
func (g *Group) Use(middleware ...gin.HandlerFunc) *Group {
	g.middleware = append(g.middleware, middleware...)
	return g
}

// Handle adds a route
func (g *Group) Handle(method, path string, handlers ...gin.HandlerFunc) *Group {
	g.routes = append(g.routes, route{method: method, path: path, handlers: handlers})
	return g
}

func (g *Group) GET(path string, handlers ...gin.HandlerFunc) *Group {
	return g.Handle(http.MethodGet, path, handlers...)
}

func (g *Group) POST(path string, handlers ...gin.HandlerFunc) *Group {
	return g.Handle(http.MethodPost, path, handlers...)
}

func (g *Group) PUT(path string, handlers ...gin.HandlerFunc) *Group {
	return g.Handle(http.MethodPut, path, handlers...)
}

// Sub adds a child group and returns it
func (g *Group) Sub(name, prefix string) *Group {
	child := NewGroup(name, prefix)
	g.children = append(g.children, child)
	return child
}

// Mount implements Mounter
func (g *Group) Mount(parent *gin.RouterGroup) {
	rg := parent.Group(g.prefix, g.middleware...)
	for _, r := range g.routes {
		rg.Handle(r.method, r.path, r.handlers...)
	}
	for _, child := range g.children {
		child.Mount(rg)
	}
}
