package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"

	"chat-client/internal/config"
	"chat-client/internal/handlers"
	"chat-client/internal/models"
	"chat-client/internal/observability"
	"chat-client/internal/rest"
	"chat-client/internal/session"
	"chat-client/internal/telemetry"
	"chat-client/internal/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	shutdownTracing, err := initTracing(ctx, cfg.Tracing)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	publisher := observability.NewPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)

	emitter := telemetry.NewAuditEmitter(publisher, "chat_session.audit", "chat-client", cfg.Tracing.Environment)

	identity := models.Identity{
		ID:    cfg.Identity.UserID,
		Name:  cfg.Identity.UserName,
		Email: cfg.Identity.UserEmail,
	}
	token := cfg.Identity.BearerToken
	tokenSource := rest.TokenSource(func() string { return token })

	api := rest.NewClient(cfg.API.BaseURL, cfg.API.RequestTimeout, tokenSource)
	channel := transport.NewChannel(cfg.API.WebSocketURL)
	manager := session.NewManager(identity, tokenSource, channel, api, emitter)
	defer manager.Disconnect()

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(otelgin.Middleware("chat-client"))
	router.Use(observability.HTTPMetricsMiddleware())

	handlers.NewSessionHandler(manager).Register(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"connectionStatus": manager.Status()})
	})

	server := &http.Server{Addr: cfg.Bridge.Addr, Handler: router}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("bridge server error: %v", err)
		}
	}()
	log.Printf("bridge listening on %s", cfg.Bridge.Addr)

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("bridge shutdown: %v", err)
	}
}

func initTracing(ctx context.Context, cfg config.TracingConfig) (func(context.Context) error, error) {
	if cfg.OTLPAddr == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPAddr),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName("chat-client"),
			attribute.String("environment", cfg.Environment),
		)),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}
