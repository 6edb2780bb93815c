// Package handlers contains reusable HTTP building blocks: health checks and
// middleware.
//
// # Health Checks
//
// Named checks run in parallel, each with its own timeout:
//
//	checker := handlers.NewCompositeHealthChecker("v1")
//	checker.AddCheck("database", handlers.NewDatabaseCheck(conn))
//	checker.AddCheck("redis", handlers.NewCacheCheck(cache))
//
// # Middleware
//
// Write endpoints are guarded by APIKeyAuth, which stores only bcrypt hashes
// of the accepted keys:
//
//	auth := handlers.NewAPIKeyAuth("X-API-Key", cfg.HTTP.APIKeyHashes)
//	protected := handlers.Chain(
//	    handlers.SecurityHeadersMiddleware,
//	    auth.Middleware,
//	)(mux)
package handlers
