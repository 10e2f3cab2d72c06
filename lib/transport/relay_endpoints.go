package transport

import (
	"github.com/getAlby/knostr.go/controllers"
	"github.com/getAlby/knostr.go/lib/service"
	"github.com/labstack/echo/v4"
)

// RegisterRelayEndpoints mounts the relay websocket, the NIP-11 document and
// the health check.
func RegisterRelayEndpoints(svc *service.RelayService, e *echo.Echo, logMw echo.MiddlewareFunc) {
	e.GET("/", controllers.NewRelayController(svc).Relay, logMw)
	e.GET("/health", controllers.NewHealthController().Check)
}
