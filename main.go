package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"realtime-service/internal/auth"
	"realtime-service/internal/db"
	"realtime-service/internal/handlers"
	"realtime-service/internal/middleware"
	"realtime-service/internal/observability"
	"realtime-service/internal/rabbitmq"
	"realtime-service/internal/repositories"
	"realtime-service/internal/telemetry"
	"realtime-service/internal/ws"
)

func main() {
	database, err := db.Connect()
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	ctx := context.Background()
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		shutdown, err := observability.SetupTracing(ctx, "realtime-service", endpoint)
		if err != nil {
			log.Fatalf("failed to set up tracing: %v", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Printf("tracer shutdown: %v", err)
			}
		}()
	}

	amqpURL := os.Getenv("AMQP_URL")
	exchange := getEnv("AMQP_EXCHANGE", "realtime_events")
	if publisher, err := observability.NewAMQPPublisher(amqpURL, exchange); err != nil {
		log.Printf("ws event publisher disabled: %v", err)
	} else {
		observability.SetPublisher(publisher)
		defer publisher.Close()
	}

	auditPublisher := rabbitmq.NewPublisher(amqpURL, getEnv("AUDIT_EXCHANGE", "audit_events"))
	defer auditPublisher.Close()
	audit := telemetry.NewAuditEmitter(auditPublisher, "audit_log.realtime", "realtime-service", getEnv("ENVIRONMENT", "dev"))

	verifier := auth.NewVerifier(getEnv("JWT_SECRET", "dev-secret"))

	messageRepo := repositories.NewMessageRepo(database)
	membershipRepo := repositories.NewMembershipRepo(database)

	hub := ws.NewHub()
	session := ws.NewSessionHandler(hub, verifier, messageRepo, membershipRepo)
	messageHandler := handlers.NewMessageHandler(messageRepo, membershipRepo, hub, audit)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("realtime-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", session.Handle)

	authMiddleware := middleware.AuthMiddleware(verifier)

	router.GET("/dms", authMiddleware, messageHandler.ListThreads)
	router.GET("/dms/:user_id", authMiddleware, messageHandler.GetConversation)
	router.POST("/dms/start", authMiddleware, messageHandler.StartThread)
	router.GET("/groups", authMiddleware, messageHandler.ListGroups)
	router.GET("/groups/:group_id/messages", authMiddleware, messageHandler.GetGroupMessages)
	router.POST("/messages/dm", authMiddleware, messageHandler.SendDM)
	router.POST("/messages/group", authMiddleware, messageHandler.SendGroupMessage)
	router.PUT("/messages/:message_id", authMiddleware, messageHandler.UpdateMessage)
	router.DELETE("/messages/:message_id", authMiddleware, messageHandler.DeleteMessage)

	port := getEnv("PORT", "8086")
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
