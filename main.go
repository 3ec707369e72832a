package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"dm-service/internal/db"
	"dm-service/internal/delivery"
	"dm-service/internal/handlers"
	"dm-service/internal/middleware"
	"dm-service/internal/observability"
	"dm-service/internal/presence"
	"dm-service/internal/rabbitmq"
	"dm-service/internal/repositories"
	"dm-service/internal/telemetry"
	"dm-service/internal/ws"
)

func main() {
	database, err := db.Connect()
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	shutdownTracing := observability.InitTracing(context.Background(), "dm-service", getEnv("OTLP_ENDPOINT", ""))
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	amqpURL := getEnv("AMQP_URL", "")
	exchange := getEnv("AMQP_EXCHANGE", "dm.events")

	publisher := rabbitmq.NewPublisher(amqpURL, exchange)
	defer publisher.Close()
	log.Printf("audit publisher mode=%s", rabbitmq.PublisherMode(publisher))

	if eventPublisher, err := observability.NewAMQPPublisher(amqpURL, exchange); err == nil {
		observability.SetPublisher(eventPublisher)
		defer eventPublisher.Close()
	} else {
		log.Printf("ws event publishing disabled: %v", err)
	}

	emitter := telemetry.NewAuditEmitter(publisher, "audit.dm", "dm-service", getEnv("ENVIRONMENT", "development"))

	userRepo := repositories.NewUserRepo(database)
	convRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	blockRepo := repositories.NewBlockRepo(database)

	hub := ws.NewHub()
	tracker := presence.NewTracker()
	router := delivery.NewRouter(userRepo, convRepo, messageRepo, blockRepo, tracker, hub)

	userHandler := handlers.NewUserHandler(userRepo, emitter)
	conversationHandler := handlers.NewConversationHandler(convRepo, messageRepo, userRepo)
	messageHandler := handlers.NewMessageHandler(router)
	blockHandler := handlers.NewBlockHandler(blockRepo, emitter)
	wsHandler := ws.NewHandler(hub, router, userRepo)

	engine := gin.Default()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("dm-service"))
	engine.Use(observability.HTTPMetricsMiddleware())

	identity := middleware.Identity()

	engine.POST("/users", userHandler.Create)
	engine.GET("/users", identity, userHandler.List)
	engine.GET("/users/:user_id", identity, userHandler.Get)

	engine.GET("/conversations", identity, conversationHandler.List)
	engine.GET("/conversations/:conversation_id/messages", identity, conversationHandler.Messages)

	engine.POST("/messages", identity, messageHandler.Send)
	engine.POST("/messages/:message_id/delivered", identity, messageHandler.AckDelivered)
	engine.POST("/messages/:message_id/read", identity, messageHandler.AckRead)
	engine.DELETE("/messages/:message_id", identity, messageHandler.Delete)

	engine.POST("/blocks", identity, blockHandler.Block)
	engine.DELETE("/blocks/:user_id", identity, blockHandler.Unblock)
	engine.GET("/blocks", identity, blockHandler.List)

	engine.GET("/ws", wsHandler.Handle)

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	handlers.RegisterDebugRoutes(engine, emitter, getEnv("DEBUG_ENDPOINTS", "") == "true")

	port := getEnv("PORT", "8083")
	if err := engine.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
