package server

func (s *Server) routes() {
	api := s.engine.Group("/api")
	{
		api.GET("/state", s.getState)

		api.POST("/scan/start", s.command(s.core.StartScan))
		api.POST("/scan/stop", s.command(s.core.StopScan))
		api.POST("/connect/:address", s.connect)
		api.POST("/disconnect", s.command(s.core.Disconnect))
		api.POST("/recording/toggle", s.command(s.core.ToggleRecording))
		api.POST("/recording/start", s.command(s.core.StartRecording))
		api.POST("/recording/stop", s.command(s.core.StopRecording))
		api.POST("/overlay/show", s.command(s.core.ShowOverlay))
		api.POST("/overlay/hide", s.command(s.core.HideOverlay))
		api.POST("/error/clear", s.command(s.core.ClearError))

		api.GET("/sessions", s.listSessions)
		api.DELETE("/sessions", s.clearSessions)
		api.GET("/sessions/:id", s.getSession)
		api.DELETE("/sessions/:id", s.deleteSession)
		api.PUT("/sessions/:id/note", s.updateNote)
	}

	ws := s.engine.Group("/ws")
	{
		ws.GET("/state", s.streamState)
		ws.GET("/overlay", s.streamOverlay)
	}
}
