package middlewares

import (
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
)

// SecurityHeaders sets the static hardening headers. TLS is terminated in front of
// vcsws nodes, so no redirect is done here.
func SecurityHeaders() gin.HandlerFunc {
	return secure.New(secure.Config{
		SSLRedirect:        false,
		IsDevelopment:      false,
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		IENoOpen:           true,
	})
}
