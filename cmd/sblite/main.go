package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yourorg/go-sblite/pkg/checkpoint"
	"github.com/yourorg/go-sblite/pkg/config"
	"github.com/yourorg/go-sblite/pkg/httpservice"
	"github.com/yourorg/go-sblite/pkg/logging"
	"github.com/yourorg/go-sblite/pkg/servicebusclient"
	"github.com/yourorg/go-sblite/pkg/telemetry"
)

const usage = `usage: sblite [-config file] <command> [args]

commands:
  send <body>...         send each body to the configured queue or topic
  receive [-n count]     receive and complete up to count messages
  listen                 run a message pump until interrupted
  events [-partition id] read an Event Hub partition, checkpointing each event
`

type app struct {
	cfg     *config.Config
	logger  logging.Logger
	factory *servicebusclient.MessagingFactory
	mode    servicebusclient.ReceiveMode
}

func main() {
	configFile := flag.String("config", "", "YAML or JSON config file; environment variables win")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync(logger)

	nr, err := telemetry.NewNewRelicClient(telemetry.NewRelicConfig{
		LicenseKey:  cfg.NewRelicLicenseKey,
		AppName:     cfg.NewRelicAppName,
		ServiceName: "sblite",
		Enabled:     cfg.NewRelicLicenseKey != "",
	}, logger)
	if err != nil {
		logger.Error("Failed to create New Relic client", logging.NewField("error", err))
		os.Exit(1)
	}
	defer nr.Shutdown(10 * time.Second)

	mode, err := servicebusclient.ParseReceiveMode(cfg.ReceiveMode)
	if err != nil {
		logger.Error("Invalid receive mode", logging.NewField("error", err))
		os.Exit(1)
	}

	factory, err := servicebusclient.NewMessagingFactoryFromConnectionString(cfg.ConnectionString,
		servicebusclient.WithLogger(logger),
		servicebusclient.WithTelemetry(nr),
		servicebusclient.WithOperationTimeout(cfg.OperationTimeout),
		servicebusclient.WithReceiveTimeout(cfg.ReceiveTimeout),
		servicebusclient.WithSendRateLimit(cfg.SendRate, cfg.SendBurst),
		servicebusclient.WithTokenTTL(cfg.TokenTTL),
	)
	if err != nil {
		logger.Error("Failed to create messaging factory", logging.NewField("error", err))
		os.Exit(1)
	}
	defer factory.Close()

	a := &app{cfg: cfg, logger: logger, factory: factory, mode: mode}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command, args := flag.Arg(0), flag.Args()[1:]
	logger.Info("Starting sblite",
		logging.NewField("command", command),
		logging.NewField("entity", cfg.Entity),
		logging.NewField("host", factory.Endpoint().Hostname()),
	)

	switch command {
	case "send":
		err = a.send(ctx, args)
	case "receive":
		err = a.receive(ctx, args)
	case "listen":
		err = a.listen(ctx)
	case "events":
		err = a.events(ctx, args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("Command failed", logging.NewField("command", command), logging.NewField("error", err))
		os.Exit(1)
	}
}

func loadConfig(file string) (*config.Config, error) {
	if file != "" {
		return config.LoadConfigFromFile(file)
	}
	return config.LoadConfigFromEnv()
}

func (a *app) send(ctx context.Context, bodies []string) error {
	if len(bodies) == 0 {
		return fmt.Errorf("send needs at least one body")
	}
	client := a.factory.CreateTopicClient(a.cfg.Entity)
	defer client.Close(context.WithoutCancel(ctx))

	for _, body := range bodies {
		msg := servicebusclient.NewBrokeredMessageFromBytes([]byte(body))
		msg.ContentType = "text/plain"
		if err := client.Send(ctx, msg); err != nil {
			return err
		}
		a.logger.Info("Message sent", logging.NewField("message_id", msg.MessageID))
	}
	return nil
}

func (a *app) receive(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("receive", flag.ContinueOnError)
	count := fs.Int("n", 1, "maximum number of messages")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client := a.factory.CreateQueueClient(a.cfg.Entity, a.mode)
	defer client.Close(context.WithoutCancel(ctx))

	for i := 0; i < *count; i++ {
		msg, err := client.Receive(ctx)
		if err != nil {
			return err
		}
		if msg == nil {
			a.logger.Info("No message before receive timeout")
			return nil
		}
		body, err := msg.GetBytes()
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%d\t%s\n", msg.MessageID, msg.SequenceNumber, body)

		if a.mode == servicebusclient.PeekLock {
			if err := client.Complete(ctx, msg.LockToken); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *app) listen(ctx context.Context) error {
	client := a.factory.CreateQueueClient(a.cfg.Entity, a.mode)
	defer client.Close(context.WithoutCancel(ctx))

	opts := servicebusclient.NewOnMessageOptions()
	opts.ExceptionReceived = func(err error) {
		a.logger.WithError(err).Warn("Message pump reported an error")
	}

	stopStatus, err := a.serveStatus(client)
	if err != nil {
		return err
	}
	defer stopStatus()

	err = client.OnMessage(ctx, func(ctx context.Context, msg *servicebusclient.BrokeredMessage) error {
		body, err := msg.GetBytes()
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%d\t%s\n", msg.MessageID, msg.SequenceNumber, body)
		return nil
	}, opts)
	if err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

func (a *app) events(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	partition := fs.String("partition", "0", "partition id")
	group := fs.String("consumer-group", servicebusclient.DefaultConsumerGroupName, "consumer group")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, closeStore, err := a.checkpointStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := a.factory.CreateEventHubClient(a.cfg.Entity)
	defer hub.Close(context.WithoutCancel(ctx))
	consumerGroup := hub.GetConsumerGroup(*group)

	var receiver *servicebusclient.EventHubReceiver
	if store != nil {
		receiver, err = consumerGroup.CreateReceiverFromCheckpoint(ctx, *partition, store)
		if err != nil {
			return err
		}
	} else {
		receiver = consumerGroup.CreateReceiver(*partition)
	}
	defer receiver.Close(context.WithoutCancel(ctx))

	stopStatus, err := a.serveStatus(receiver)
	if err != nil {
		return err
	}
	defer stopStatus()

	for ctx.Err() == nil {
		event, err := receiver.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if event == nil {
			continue
		}
		body, err := event.GetBytes()
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%d\t%s\n", event.Offset(), event.SequenceNumber(), body)

		if store != nil {
			if err := receiver.Checkpoint(ctx, event); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkpointStore builds the configured store; a nil store disables
// checkpointing.
func (a *app) checkpointStore(ctx context.Context) (checkpoint.Store, func(), error) {
	noop := func() {}
	switch a.cfg.CheckpointBackend {
	case "memory":
		return checkpoint.NewMockStore(), noop, nil
	case "blob":
		store, err := checkpoint.NewBlobStore(a.cfg.CheckpointAccountName, a.cfg.CheckpointAccountKey, a.cfg.CheckpointContainer, a.logger)
		if err != nil {
			return nil, noop, err
		}
		if err := store.EnsureContainer(ctx); err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	case "postgres":
		store, err := checkpoint.NewPostgresStore(ctx, a.cfg.CheckpointDSN)
		if err != nil {
			return nil, noop, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, noop, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, noop, nil
	}
}

// serveStatus starts the status server when STATUS_ADDR is set. The returned
// func shuts it down.
func (a *app) serveStatus(sources ...httpservice.StatusSource) (func(), error) {
	if a.cfg.StatusAddr == "" {
		return func() {}, nil
	}
	srv, err := httpservice.NewServer(httpservice.ServerConfig{
		Addr:         a.cfg.StatusAddr,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		Logger:       a.logger,
	}, httpservice.NewStatusHandler(sources...))
	if err != nil {
		return nil, err
	}

	go func() {
		if err := srv.Start(); err != nil {
			a.logger.Error("Status server error", logging.NewField("error", err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Error("Status server shutdown error", logging.NewField("error", err))
		}
	}, nil
}
