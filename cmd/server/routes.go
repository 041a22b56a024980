package main

import (
	"github.com/gin-gonic/gin"
	"unicity-proxy.backend/internal/interfaces/http/handlers"
	"unicity-proxy.backend/internal/interfaces/http/middleware"
	"unicity-proxy.backend/pkg/metrics"
)

type routeDeps struct {
	paymentHandler     *handlers.PaymentHandler
	shardConfigHandler *handlers.ShardConfigHandler
	healthHandler      *handlers.HealthHandler
	adminHandler       *handlers.AdminHandler
	adminPassword      string
	proxyHandler       gin.HandlerFunc
}

// registerRoutes wires the reserved endpoint families; everything else falls
// through to the proxy pipeline via NoRoute.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// Payment routes (public)
	payment := r.Group("/api/payment")
	{
		payment.POST("/initiate", d.paymentHandler.InitiatePayment)
		payment.POST("/complete", d.paymentHandler.CompletePayment)
		payment.GET("/plans", d.paymentHandler.ListPlans)
		payment.GET("/key/:apiKey", d.paymentHandler.KeyStatus)
	}

	r.GET("/config/shards", d.shardConfigHandler.GetShardConfig)
	r.GET("/health", d.healthHandler.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Admin routes (password guarded)
	admin := r.Group("/admin")
	admin.Use(middleware.AdminAuthMiddleware(d.adminPassword))
	{
		admin.PUT("/shards", d.adminHandler.ReplaceShardConfig)
		admin.POST("/keys", d.adminHandler.CreateKey)
		admin.DELETE("/keys/:key", d.adminHandler.RevokeKey)
		admin.POST("/keys/:key/plan", d.adminHandler.AssignPlan)
	}

	// Every non-reserved path is proxied to the aggregator fleet.
	r.NoRoute(d.proxyHandler)
}
