package middleware

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// bodyCacheWriter buffers the response body so its hash can become the ETag.
type bodyCacheWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w bodyCacheWriter) Write(b []byte) (int, error) {
	return w.body.Write(b)
}

// ETagCache answers GET requests with a body-hash ETag and honors
// If-None-Match with 304.
func ETagCache(maxAgeSec int) gin.HandlerFunc {
	cacheControl := fmt.Sprintf("public, max-age=%d, must-revalidate", maxAgeSec)
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		bcw := &bodyCacheWriter{body: &bytes.Buffer{}, ResponseWriter: c.Writer}
		c.Writer = bcw
		c.Next()

		body := bcw.body.Bytes()
		if c.Writer.Status() == http.StatusOK && len(body) > 0 {
			etag := fmt.Sprintf(`"%x"`, sha256.Sum256(body))
			c.Header("ETag", etag)
			c.Header("Cache-Control", cacheControl)
			if c.GetHeader("If-None-Match") == etag {
				bcw.ResponseWriter.WriteHeader(http.StatusNotModified)
				bcw.ResponseWriter.WriteHeaderNow()
				return
			}
		}
		_, _ = bcw.ResponseWriter.Write(body)
	}
}
