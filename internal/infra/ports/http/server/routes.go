package server

import (
	"github.com/labstack/echo/v4"

	"github.com/qrave1/LiveClass/internal/infra/ports/http/handlers"
	"github.com/qrave1/LiveClass/internal/infra/ports/http/middleware"
)

func New(
	sessionHandler *handlers.SessionHandler,
	wsHandler *handlers.WebSocketHandler,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.SlogLogger())
	e.Use(middleware.PrometheusMiddleware())

	v1 := e.Group("/api/v1")
	{
		v1.GET("/state", sessionHandler.State)
		v1.GET("/ws", wsHandler.Handle)

		v1.POST("/session/join", sessionHandler.Join)
		v1.POST("/session/rejoin", sessionHandler.Rejoin)
		v1.POST("/session/leave", sessionHandler.Leave)

		controls := v1.Group("/controls")
		{
			controls.POST("/mute", sessionHandler.Mute)
			controls.POST("/video", sessionHandler.Video)
			controls.POST("/hand", sessionHandler.Hand)
			controls.POST("/camera/switch", sessionHandler.SwitchCamera)
		}

		v1.POST("/chat", sessionHandler.Chat)
		v1.GET("/chat/transcript", sessionHandler.Transcript)
	}

	return e
}
