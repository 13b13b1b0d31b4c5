package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(engine *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestNewAPI(t *testing.T) {
	assert.Equal(t, "v1", NewAPI(gin.New(), "").version)
	assert.Equal(t, "v2", NewAPI(gin.New(), "v2").version)
}

func TestAPIMount(t *testing.T) {
	engine := gin.New()
	api := NewAPI(engine, "v1")

	group := NewGroup("scopes", "/scopes/:scope")
	group.GET("/status", func(c *gin.Context) {
		c.String(http.StatusOK, c.Param("scope"))
	})

	api.Add(group)
	assert.Len(t, api.groups, 1)
	api.Mount()

	w := serve(engine, http.MethodGet, "/api/v1/scopes/acme/status")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "acme", w.Body.String())
}

func TestGroup(t *testing.T) {
	t.Run("name and prefix", func(t *testing.T) {
		g := NewGroup("scopes", "/scopes/:scope")
		assert.Equal(t, "scopes", g.Name())
		assert.Equal(t, "/scopes/:scope", g.Prefix())
	})

	t.Run("registers every method", func(t *testing.T) {
		engine := gin.New()
		g := NewGroup("items", "/items")
		g.GET("/:id", func(c *gin.Context) { c.String(http.StatusOK, "get") }).
			POST("/:id", func(c *gin.Context) { c.String(http.StatusOK, "post") }).
			PUT("/:id", func(c *gin.Context) { c.String(http.StatusOK, "put") })
		g.Mount(engine.Group("/api/v1"))

		for method, body := range map[string]string{
			http.MethodGet:  "get",
			http.MethodPost: "post",
			http.MethodPut:  "put",
		} {
			w := serve(engine, method, "/api/v1/items/1")
			assert.Equal(t, http.StatusOK, w.Code, method)
			assert.Equal(t, body, w.Body.String(), method)
		}
	})

	t.Run("applies middleware to subgroups", func(t *testing.T) {
		engine := gin.New()
		g := NewGroup("scopes", "/scopes/:scope")
		g.Use(func(c *gin.Context) {
			c.Header("X-Scope", c.Param("scope"))
			c.Next()
		})
		g.Sub("stages", "/stages/:stage").POST("/run", func(c *gin.Context) {
			c.String(http.StatusOK, c.Param("stage"))
		})
		g.Mount(engine.Group("/api/v1"))

		w := serve(engine, http.MethodPost, "/api/v1/scopes/acme/stages/items/run")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "items", w.Body.String())
		assert.Equal(t, "acme", w.Header().Get("X-Scope"))
	})
}

func TestMultipleGroups(t *testing.T) {
	engine := gin.New()

	scopes := NewGroup("scopes", "/scopes/:scope").
		GET("/status", func(c *gin.Context) { c.String(http.StatusOK, "status") })
	system := NewGroup("system", "/system").
		GET("/info", func(c *gin.Context) { c.String(http.StatusOK, "info") })

	NewAPI(engine, "").Add(scopes, system).Mount()

	assert.Equal(t, "status", serve(engine, http.MethodGet, "/api/v1/scopes/acme/status").Body.String())
	assert.Equal(t, "info", serve(engine, http.MethodGet, "/api/v1/system/info").Body.String())
	assert.Equal(t, http.StatusNotFound, serve(engine, http.MethodGet, "/scopes/acme/status").Code)
}
