package handler

import (
	"os"
	"testing"

	"github.com/gin-gonic/gin"
)

// TestMain registers the JSON tag names before any test binds a request.
// The validator caches struct metadata on first use, so it must run first.
func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	SetupValidator()
	os.Exit(m.Run())
}
