package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mkrell/warden/internal/config"
)

const invalidNameMsg = "invalid name: allowed [A-Za-z0-9._-], no leading dot, no '..'"

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}

// serviceName extracts and validates the name query param. Service names end
// up as filenames in the state directory, so path tricks are rejected here
// before any handler runs.
func serviceName(c *gin.Context) (string, bool) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name query param required"})
		return "", false
	}
	if !config.IsSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: invalidNameMsg})
		return "", false
	}
	return name, true
}

// parseTimeout reads the optional timeout query param. Zero means the
// manager's default graceful timeout.
func parseTimeout(c *gin.Context) (time.Duration, bool) {
	raw := c.Query("timeout")
	if raw == "" {
		return 0, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid timeout: " + raw})
		return 0, false
	}
	return d, true
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
