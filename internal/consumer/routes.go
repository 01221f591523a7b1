package consumer

import (
	"auth-token-service/internal/client"
	"auth-token-service/internal/config"
)

// Route binds a topic to the handler that applies it.
type Route struct {
	Topic   string
	Handler client.MessageHandler
}

// Routes lists every topic the applier process consumes. The logout topic
// is informational and has no route.
func Routes(topics config.TopicsConfig, cache *CacheApplier, tokens *TokenSetApplier) []Route {
	return []Route{
		{Topic: topics.Cache, Handler: cache.HandleCache},
		{Topic: topics.InvalidateCache, Handler: cache.HandleInvalidate},
		{Topic: topics.AssignToken, Handler: tokens.HandleAssign},
		{Topic: topics.UpdateToken, Handler: tokens.HandleUpdate},
		{Topic: topics.RevokeRefreshToken, Handler: tokens.HandleRevoke},
		{Topic: topics.ReusedRefreshToken, Handler: tokens.HandleReused},
	}
}
