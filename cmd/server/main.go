package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/getAlby/knostr.go/db"
	"github.com/getAlby/knostr.go/lib/logging"
	"github.com/getAlby/knostr.go/lib/service"
	"github.com/getAlby/knostr.go/lib/store"
	"github.com/getAlby/knostr.go/lib/transport"
	"github.com/getAlby/knostr.go/rabbitmq"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	ddEcho "gopkg.in/DataDog/dd-trace-go.v1/contrib/labstack/echo.v4"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

func main() {

	c := &service.Config{}

	// Load configruation from environment variables
	err := godotenv.Load(".env")
	if err != nil {
		fmt.Println("Failed to load .env file")
	}
	err = envconfig.Process("", c)
	if err != nil {
		log.Fatalf("Error loading environment variables: %v", err)
	}

	// Setup logging to STDOUT or a configrued log file
	logger := logging.Logger(c.LogFilePath)

	// Setup exception tracking with Sentry if configured
	// sentry init needs to happen before the echo middlewares are added
	if c.SentryDSN != "" {
		if err = sentry.Init(sentry.ClientOptions{
			Dsn:              c.SentryDSN,
			EnableTracing:    c.SentryTracesSampleRate > 0,
			TracesSampleRate: c.SentryTracesSampleRate,
		}); err != nil {
			logger.Errorf("sentry init error: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 2*time.Minute)
	eventStore, err := store.Open(startupCtx, c.DBConfig(), logger)
	cancelStartup()
	if err != nil {
		logger.Fatalf("Error initializing event store: %v", err)
	}

	svc, err := service.NewRelayService(c, eventStore, logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatalf("Error initializing relay service: %v", err)
	}

	backGroundCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	svc.Start(backGroundCtx)

	// If no RABBITMQ_URI was provided accepted events are not exported
	var backgroundWg sync.WaitGroup
	if c.RabbitMQUri != "" {
		amqpClient, err := rabbitmq.DialAMQP(c.RabbitMQUri, rabbitmq.WithAmqpLogger(logger))
		if err != nil {
			logger.Fatal(err)
		}
		rabbitmqClient, err := rabbitmq.NewClient(amqpClient,
			rabbitmq.WithLogger(logger),
			rabbitmq.WithEventExchange(c.RabbitMQEventExchange),
		)
		if err != nil {
			logger.Fatal(err)
		}
		// close the connection gently at the end of the runtime
		defer rabbitmqClient.Close()

		backgroundWg.Add(1)
		go func() {
			defer backgroundWg.Done()
			err := rabbitmqClient.StartPublishEvents(backGroundCtx, svc.SubscribeAcceptedEvents)
			if err != nil && err != context.Canceled {
				logger.Error(err)
				sentry.CaptureException(err)
			}
			logger.Info("Rabbit event publisher done")
		}()
	}

	//init echo server
	e := transport.InitEcho(c, logger)
	//if Datadog is configured, add datadog middleware
	if c.DatadogAgentUrl != "" {
		tracer.Start(tracer.WithAgentAddr(c.DatadogAgentUrl), tracer.WithService(db.ServiceName))
		defer tracer.Stop()
		e.Use(ddEcho.Middleware(ddEcho.WithServiceName(db.ServiceName)))
	}
	logMw := transport.CreateLoggingMiddleware(logger)
	transport.RegisterRelayEndpoints(svc, e, logMw)

	//Start Prometheus server if necessary
	var echoPrometheus *echo.Echo
	if c.EnablePrometheus {
		echoPrometheus = transport.StartPrometheusEcho(logger, svc, e)
	}

	// Start server
	go func() {
		if err := e.Start(fmt.Sprintf(":%v", c.Port)); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()

	<-backGroundCtx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = e.Shutdown(ctx)
	if echoPrometheus != nil {
		err = multierr.Append(err, echoPrometheus.Shutdown(ctx))
	}
	//Wait for graceful shutdown of background routines
	backgroundWg.Wait()
	err = multierr.Append(err, svc.Close())
	if err != nil {
		logger.Errorf("Error during shutdown: %v", err)
	}
	logger.Info("knostr.go exiting gracefully. Goodbye.")
}
