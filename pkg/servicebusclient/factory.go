package servicebusclient

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/Azure/go-amqp"
	"github.com/go-playground/validator/v10"

	"github.com/yourorg/go-sblite/pkg/cbs"
	"github.com/yourorg/go-sblite/pkg/connstr"
	"github.com/yourorg/go-sblite/pkg/errors"
	"github.com/yourorg/go-sblite/pkg/logging"
	"github.com/yourorg/go-sblite/pkg/security"
	"github.com/yourorg/go-sblite/pkg/telemetry"
	"github.com/yourorg/go-sblite/pkg/transport"
)

const (
	amqpPort  = 5672
	amqpsPort = 5671
)

// TransportSettings tunes the AMQP connection.
type TransportSettings struct {
	// Port overrides the scheme's default port (5672 for amqp, 5671 otherwise).
	Port        int `validate:"gte=0,lte=65535"`
	ContainerID string
	IdleTimeout time.Duration `validate:"gte=0"`
}

// FactorySettings configures a MessagingFactory.
type FactorySettings struct {
	TokenProvider security.TokenProvider `validate:"required"`
	Transport     TransportSettings

	// OperationTimeout bounds connection setup, CBS and each send. Zero
	// leaves them bounded only by the caller's context.
	OperationTimeout time.Duration `validate:"gte=0"`
	// ReceiveTimeout bounds each Receive call; on expiry Receive returns no
	// message and no error.
	ReceiveTimeout time.Duration `validate:"gte=0"`
	// SendRateLimit caps sends per second per sender; zero disables limiting.
	SendRateLimit float64 `validate:"gte=0"`
	SendBurst     int     `validate:"gte=0"`
	// TokenTTL is the lifetime of signatures computed from a connection
	// string's shared key.
	TokenTTL time.Duration `validate:"gte=0"`

	Logger    logging.Logger
	Telemetry telemetry.Recorder
	Dialer    transport.Dialer
}

// FactoryOption adjusts FactorySettings.
type FactoryOption func(*FactorySettings)

func WithLogger(logger logging.Logger) FactoryOption {
	return func(s *FactorySettings) { s.Logger = logger }
}

func WithTelemetry(recorder telemetry.Recorder) FactoryOption {
	return func(s *FactorySettings) { s.Telemetry = recorder }
}

func WithDialer(dialer transport.Dialer) FactoryOption {
	return func(s *FactorySettings) { s.Dialer = dialer }
}

// WithTokenProvider replaces the provider derived from the connection string,
// e.g. with an Azure AD provider.
func WithTokenProvider(provider security.TokenProvider) FactoryOption {
	return func(s *FactorySettings) { s.TokenProvider = provider }
}

func WithTransportSettings(ts TransportSettings) FactoryOption {
	return func(s *FactorySettings) { s.Transport = ts }
}

func WithOperationTimeout(d time.Duration) FactoryOption {
	return func(s *FactorySettings) { s.OperationTimeout = d }
}

func WithReceiveTimeout(d time.Duration) FactoryOption {
	return func(s *FactorySettings) { s.ReceiveTimeout = d }
}

func WithSendRateLimit(perSecond float64, burst int) FactoryOption {
	return func(s *FactorySettings) {
		s.SendRateLimit = perSecond
		s.SendBurst = burst
	}
}

func WithTokenTTL(d time.Duration) FactoryOption {
	return func(s *FactorySettings) { s.TokenTTL = d }
}

var validate = validator.New()

type factoryState int

const (
	factoryUnopened factoryState = iota
	factoryOpening
	factoryOpened
	factoryFailed
	factoryClosed
)

func (s factoryState) String() string {
	switch s {
	case factoryUnopened:
		return "unopened"
	case factoryOpening:
		return "opening"
	case factoryOpened:
		return "opened"
	case factoryFailed:
		return "failed"
	case factoryClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MessagingFactory owns the single connection to a namespace and creates
// senders, receivers and entity clients over it. Creating clients does no
// I/O; the connection is opened by the first send or receive.
type MessagingFactory struct {
	endpoint  *url.URL
	settings  FactorySettings
	logger    logging.Logger
	telemetry telemetry.Recorder
	dial      transport.Dialer

	mu      sync.Mutex
	state   factoryState
	ready   chan struct{} // closed when an in-flight open finishes
	conn    transport.Conn
	openErr error
}

// NewMessagingFactory creates a factory for the namespace at endpoint.
func NewMessagingFactory(endpoint *url.URL, settings FactorySettings) (*MessagingFactory, error) {
	if endpoint == nil || endpoint.Host == "" {
		return nil, errors.NewValidationError("endpoint with a host is required")
	}
	if err := validate.Struct(settings); err != nil {
		return nil, errors.NewAppErrorWithErr(errors.ErrorCodeValidation, "invalid factory settings", err)
	}

	f := &MessagingFactory{
		endpoint:  endpoint,
		settings:  settings,
		logger:    settings.Logger,
		telemetry: settings.Telemetry,
		dial:      settings.Dialer,
	}
	if f.logger == nil {
		f.logger = logging.NewNopLogger()
	}
	if f.telemetry == nil {
		f.telemetry = telemetry.NopRecorder{}
	}
	if f.dial == nil {
		f.dial = transport.DialAMQP
	}
	return f, nil
}

// NewMessagingFactoryFromConnectionString creates a factory authenticated by
// the connection string's shared key or signature.
func NewMessagingFactoryFromConnectionString(connectionString string, opts ...FactoryOption) (*MessagingFactory, error) {
	f, _, err := factoryFromConnectionString(connectionString, opts...)
	return f, err
}

func factoryFromConnectionString(connectionString string, opts ...FactoryOption) (*MessagingFactory, *connstr.ConnectionStringBuilder, error) {
	builder, err := connstr.Parse(connectionString)
	if err != nil {
		return nil, nil, err
	}

	var settings FactorySettings
	for _, opt := range opts {
		opt(&settings)
	}
	if settings.TokenProvider == nil {
		settings.TokenProvider = builder.TokenProvider(security.WithTokenTTL(settings.TokenTTL))
	}

	f, err := NewMessagingFactory(builder.Endpoint, settings)
	if err != nil {
		return nil, nil, err
	}
	return f, builder, nil
}

// Endpoint returns the namespace endpoint.
func (f *MessagingFactory) Endpoint() *url.URL {
	return f.endpoint
}

// Open connects and authorizes for entity if not already done. It is
// idempotent; once an open has failed every later call returns that error.
// An open cut short by ctx does not count as a failure.
func (f *MessagingFactory) Open(ctx context.Context, entity string) error {
	_, err := f.acquire(ctx, entity)
	return err
}

// acquire returns the open connection, opening it first if needed. Concurrent
// callers wait for a single in-flight open.
func (f *MessagingFactory) acquire(ctx context.Context, entity string) (transport.Conn, error) {
	for {
		f.mu.Lock()
		switch f.state {
		case factoryOpened:
			conn := f.conn
			f.mu.Unlock()
			return conn, nil
		case factoryFailed:
			err := f.openErr
			f.mu.Unlock()
			return nil, err
		case factoryClosed:
			f.mu.Unlock()
			return nil, errors.ErrClosed
		case factoryOpening:
			ready := f.ready
			f.mu.Unlock()
			select {
			case <-ready:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		// factoryUnopened
		f.state = factoryOpening
		f.ready = make(chan struct{})
		f.mu.Unlock()

		conn, err := f.open(ctx, entity)

		f.mu.Lock()
		switch {
		case f.state == factoryClosed:
			if conn != nil {
				_ = conn.Close()
			}
			err = errors.ErrClosed
		case err != nil && ctx.Err() != nil:
			// The caller gave up; the next caller opens afresh.
			f.state = factoryUnopened
		case err != nil:
			f.state = factoryFailed
			f.openErr = err
		default:
			f.state = factoryOpened
			f.conn = conn
		}
		close(f.ready)
		f.mu.Unlock()

		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

func (f *MessagingFactory) open(ctx context.Context, entity string) (transport.Conn, error) {
	logger := f.logger.With(
		logging.NewField("operation", "open"),
		logging.NewField("entity", entity),
		logging.NewField("host", f.endpoint.Hostname()),
	)

	var conn transport.Conn
	err := telemetry.Track(ctx, f.telemetry, "open", entity, func() error {
		ctx, cancel := f.withOperationTimeout(ctx)
		defer cancel()

		opts := &amqp.ConnOptions{
			ContainerID: f.settings.Transport.ContainerID,
			IdleTimeout: f.settings.Transport.IdleTimeout,
			HostName:    f.endpoint.Hostname(),
		}
		useCBS := true
		if sas, ok := f.settings.TokenProvider.(*security.SharedAccessSignatureTokenProvider); ok && sas.SharedAccessSignature() == "" {
			useCBS = false
			opts.SASLType = amqp.SASLTypePlain(sas.KeyName(), sas.SharedAccessKey())
		} else {
			opts.SASLType = amqp.SASLTypeAnonymous()
		}

		addr := f.address()
		c, err := f.dial(ctx, addr, opts)
		if err != nil {
			logger.WithError(err).Error("Failed to connect")
			return fmt.Errorf("failed to connect to %s: %w", addr, errors.FromError(err))
		}

		if useCBS {
			if err := f.negotiate(ctx, c, entity); err != nil {
				_ = c.Close()
				logger.WithError(err).Error("Failed to authorize connection")
				return err
			}
		}

		logger.Info("Connection opened", logging.NewField("cbs", useCBS))
		conn = c
		return nil
	})
	return conn, err
}

func (f *MessagingFactory) negotiate(ctx context.Context, conn transport.Conn, entity string) error {
	audience := cbs.Audience(f.endpoint.Hostname(), entity)
	token, err := f.settings.TokenProvider.GetToken(ctx, audience)
	if err != nil {
		return fmt.Errorf("failed to obtain token: %w", err)
	}
	return cbs.NewNegotiator(conn, f.logger).NegotiateClaim(ctx, audience, token)
}

// RefreshToken presents a fresh token for entity on the open connection.
// Tokens are not refreshed automatically.
func (f *MessagingFactory) RefreshToken(ctx context.Context, entity string) error {
	f.mu.Lock()
	state, conn := f.state, f.conn
	f.mu.Unlock()

	if state != factoryOpened {
		return errors.NewAppError(errors.ErrorCodeInvalidOperation,
			fmt.Sprintf("cannot refresh token while factory is %s", state))
	}

	ctx, cancel := f.withOperationTimeout(ctx)
	defer cancel()
	return telemetry.Track(ctx, f.telemetry, "refresh_token", entity, func() error {
		return f.negotiate(ctx, conn, entity)
	})
}

// Close closes the connection. Closing twice is safe.
func (f *MessagingFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == factoryClosed {
		return nil
	}
	f.state = factoryClosed
	if f.conn == nil {
		return nil
	}
	conn := f.conn
	f.conn = nil
	if err := conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	f.logger.Info("Connection closed", logging.NewField("host", f.endpoint.Hostname()))
	return nil
}

func (f *MessagingFactory) address() string {
	scheme, port := "amqps", amqpsPort
	if f.endpoint.Scheme == "amqp" {
		scheme, port = "amqp", amqpPort
	}
	if f.settings.Transport.Port > 0 {
		port = f.settings.Transport.Port
	}
	return scheme + "://" + f.endpoint.Hostname() + ":" + strconv.Itoa(port)
}

func (f *MessagingFactory) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.settings.OperationTimeout > 0 {
		return context.WithTimeout(ctx, f.settings.OperationTimeout)
	}
	return context.WithCancel(ctx)
}

// CreateMessageSender creates a sender for entityPath.
func (f *MessagingFactory) CreateMessageSender(entityPath string) *MessageSender {
	return newMessageSender(f, entityPath)
}

// CreateMessageReceiver creates a receiver for entityPath.
func (f *MessagingFactory) CreateMessageReceiver(entityPath string, mode ReceiveMode) *MessageReceiver {
	return newMessageReceiver(f, entityPath, mode, eventFilter{})
}

func (f *MessagingFactory) createEventHubReceiver(partitionPath string, filter eventFilter) *MessageReceiver {
	return newMessageReceiver(f, partitionPath, ReceiveAndDelete, filter)
}

func (f *MessagingFactory) CreateQueueClient(path string, mode ReceiveMode) *QueueClient {
	return &QueueClient{entity: newEntity(f, path, mode)}
}

func (f *MessagingFactory) CreateTopicClient(path string) *TopicClient {
	return &TopicClient{entity: newEntity(f, path, PeekLock)}
}

func (f *MessagingFactory) CreateSubscriptionClient(topicPath, name string, mode ReceiveMode) *SubscriptionClient {
	return &SubscriptionClient{
		entity:    newEntity(f, SubscriptionPath(topicPath, name), mode),
		topicPath: topicPath,
		name:      name,
	}
}

func (f *MessagingFactory) CreateEventHubClient(path string) *EventHubClient {
	return &EventHubClient{factory: f, path: path}
}
