package http

// registerV1Routes sets up the v1 API.
// Groups: /api/v1/locations, /api/v1/pairs
func (s *Server) registerV1Routes() {
	v1 := s.engine.Group("/api/v1")
	v1.Use(apiVersionMiddleware()) // Add X-API-Version: v1 header
	if s.cfg.BearerToken != "" {
		v1.Use(bearerAuthMiddleware(s.cfg.BearerToken))
	}

	// Location catalog and raw readings
	locations := v1.Group("/locations")
	{
		locations.GET("", s.handleV1ListLocations)
		locations.GET("/:name/readings", s.handleV1LocationReadings)
	}

	// Urban/rural pairs and their derived differentials
	pairs := v1.Group("/pairs")
	{
		pairs.GET("", s.handleV1ListPairs)
		pairs.GET("/:urban/hourly", s.handleV1PairHourly)
		pairs.GET("/:urban/daily", s.handleV1PairDaily)
	}
}
