package mongo

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/andretpc/rinha/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultServerSelectionTimeout = 5 * time.Second
	defaultHeartbeatInterval      = 10 * time.Second
	maxMaxPoolSize                = 1000

	tracerName = "github.com/andretpc/rinha/mongo"

	attrDBSystem     = "db.system"
	attrDBName       = "db.name"
	attrDBCollection = "db.mongodb.collection"
	dbSystemMongoDB  = "mongodb"
)

var (
	// ErrNilContext is returned when a required context is nil.
	ErrNilContext = errors.New("context cannot be nil")
	// ErrNilClient is returned when a *Client receiver is nil.
	ErrNilClient = errors.New("mongo client is nil")
	// ErrClientClosed is returned when the client is not connected.
	ErrClientClosed = errors.New("mongo client is closed")
	// ErrNilDependency is returned when an Option sets a required dependency to nil.
	ErrNilDependency = errors.New("mongo option set a required dependency to nil")
	// ErrInvalidConfig indicates the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid mongo config")
	// ErrEmptyURI is returned when Mongo URI is empty.
	ErrEmptyURI = errors.New("mongo uri cannot be empty")
	// ErrEmptyDatabaseName is returned when database name is empty.
	ErrEmptyDatabaseName = errors.New("database name cannot be empty")
	// ErrEmptyCollectionName is returned when collection name is empty.
	ErrEmptyCollectionName = errors.New("collection name cannot be empty")
	// ErrEmptyIndexes is returned when no index model is provided.
	ErrEmptyIndexes = errors.New("at least one index must be provided")
	// ErrConnect wraps connection establishment failures.
	ErrConnect = errors.New("mongo connect failed")
	// ErrPing wraps connectivity probe failures.
	ErrPing = errors.New("mongo ping failed")
	// ErrDisconnect wraps disconnection failures.
	ErrDisconnect = errors.New("mongo disconnect failed")
	// ErrCreateCollection wraps collection creation failures.
	ErrCreateCollection = errors.New("mongo create collection failed")
	// ErrCreateIndex wraps index creation failures.
	ErrCreateIndex = errors.New("mongo create index failed")
	// ErrListIndexes wraps index listing failures.
	ErrListIndexes = errors.New("mongo list indexes failed")
	// ErrListCollections wraps collection listing failures.
	ErrListCollections = errors.New("mongo list collections failed")
	// ErrNilMongoClient is returned when mongo driver returns a nil client.
	ErrNilMongoClient = errors.New("mongo driver returned nil client")
)

// TLSConfig configures TLS validation for MongoDB connections.
type TLSConfig struct {
	CACertBase64 string
	MinVersion   uint16
}

// Config defines MongoDB connection and pool behavior.
type Config struct {
	URI                    string
	Database               string
	MaxPoolSize            uint64
	ServerSelectionTimeout time.Duration
	HeartbeatInterval      time.Duration
	TLS                    *TLSConfig
	Logger                 log.Logger
}

func (cfg Config) validate() error {
	if strings.TrimSpace(cfg.URI) == "" {
		return ErrEmptyURI
	}

	if strings.TrimSpace(cfg.Database) == "" {
		return ErrEmptyDatabaseName
	}

	if cfg.TLS != nil && strings.TrimSpace(cfg.TLS.CACertBase64) == "" {
		return fmt.Errorf("%w: TLS CA cert is required when TLS is configured", ErrInvalidConfig)
	}

	return nil
}

// Option customizes internal client dependencies (primarily for tests).
type Option func(*clientDeps)

// Client owns a MongoDB connection bound to one database and exposes the
// ensure primitives used by the bootstrap.
type Client struct {
	mu           sync.RWMutex
	client       *mongo.Client
	databaseName string
	cfg          Config
	deps         clientDeps
}

type clientDeps struct {
	connect          func(context.Context, *options.ClientOptions) (*mongo.Client, error)
	ping             func(context.Context, *mongo.Client) error
	disconnect       func(context.Context, *mongo.Client) error
	createCollection func(ctx context.Context, client *mongo.Client, database, collection string) error
	createIndex      func(ctx context.Context, client *mongo.Client, database, collection string, index mongo.IndexModel) error
	collectionNames  func(ctx context.Context, client *mongo.Client, database, collection string) ([]string, error)
	indexKeys        func(ctx context.Context, client *mongo.Client, database, collection string) ([]bson.D, error)
}

func (d clientDeps) complete() bool {
	return d.connect != nil && d.ping != nil && d.disconnect != nil &&
		d.createCollection != nil && d.createIndex != nil &&
		d.collectionNames != nil && d.indexKeys != nil
}

func defaultDeps() clientDeps {
	return clientDeps{
		connect: func(ctx context.Context, clientOptions *options.ClientOptions) (*mongo.Client, error) {
			return mongo.Connect(ctx, clientOptions)
		},
		ping: func(ctx context.Context, client *mongo.Client) error {
			return client.Ping(ctx, nil)
		},
		disconnect: func(ctx context.Context, client *mongo.Client) error {
			return client.Disconnect(ctx)
		},
		createCollection: func(ctx context.Context, client *mongo.Client, database, collection string) error {
			return client.Database(database).CreateCollection(ctx, collection)
		},
		createIndex: func(ctx context.Context, client *mongo.Client, database, collection string, index mongo.IndexModel) error {
			_, err := client.Database(database).Collection(collection).Indexes().CreateOne(ctx, index)

			return err
		},
		collectionNames: func(ctx context.Context, client *mongo.Client, database, collection string) ([]string, error) {
			return client.Database(database).ListCollectionNames(ctx, bson.D{{Key: "name", Value: collection}})
		},
		indexKeys: listIndexKeys,
	}
}

func listIndexKeys(ctx context.Context, client *mongo.Client, database, collection string) ([]bson.D, error) {
	specs, err := client.Database(database).Collection(collection).Indexes().ListSpecifications(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]bson.D, 0, len(specs))

	for _, spec := range specs {
		var doc bson.D
		if err := bson.Unmarshal(spec.KeysDocument, &doc); err != nil {
			return nil, fmt.Errorf("decoding keys of index %q: %w", spec.Name, err)
		}

		keys = append(keys, doc)
	}

	return keys, nil
}

// NewClient validates config, connects to MongoDB, pings it and returns a
// ready client. Nothing is written to the server here.
func NewClient(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	cfg = normalizeConfig(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	deps := defaultDeps()

	for _, opt := range opts {
		if opt == nil {
			continue
		}

		opt(&deps)
	}

	if !deps.complete() {
		return nil, ErrNilDependency
	}

	client := &Client{
		databaseName: cfg.Database,
		cfg:          cfg,
		deps:         deps,
	}

	if err := client.Connect(ctx); err != nil {
		return nil, err
	}

	return client, nil
}

// Connect establishes a MongoDB connection if one is not already open.
func (c *Client) Connect(ctx context.Context) error {
	if c == nil {
		return ErrNilClient
	}

	if ctx == nil {
		return ErrNilContext
	}

	ctx, span := c.startSpan(ctx, "mongo.connect", "")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	if err := c.connectLocked(ctx); err != nil {
		recordSpanError(span, "Failed to connect to mongo", err)

		return err
	}

	return nil
}

// connectLocked performs the actual connection logic. c.mu must be held.
func (c *Client) connectLocked(ctx context.Context) error {
	clientOptions := options.Client().ApplyURI(c.cfg.URI)

	serverSelectionTimeout := c.cfg.ServerSelectionTimeout
	if serverSelectionTimeout <= 0 {
		serverSelectionTimeout = defaultServerSelectionTimeout
	}

	heartbeatInterval := c.cfg.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = defaultHeartbeatInterval
	}

	clientOptions.SetServerSelectionTimeout(serverSelectionTimeout)
	clientOptions.SetHeartbeatInterval(heartbeatInterval)

	if c.cfg.MaxPoolSize > 0 {
		clientOptions.SetMaxPoolSize(c.cfg.MaxPoolSize)
	}

	if c.cfg.TLS != nil {
		tlsCfg, err := buildTLSConfig(*c.cfg.TLS)
		if err != nil {
			return fmt.Errorf("%w: TLS configuration: %w", ErrConnect, err)
		}

		clientOptions.SetTLSConfig(tlsCfg)
	}

	mongoClient, err := c.deps.connect(ctx, clientOptions)
	if err != nil {
		c.log(ctx, "mongo connect failed", log.Err(err))

		return fmt.Errorf("%w: %w", ErrConnect, err)
	}

	if mongoClient == nil {
		return ErrNilMongoClient
	}

	if err := c.deps.ping(ctx, mongoClient); err != nil {
		if disconnectErr := c.deps.disconnect(ctx, mongoClient); disconnectErr != nil {
			c.log(ctx, "failed to disconnect after ping failure", log.Err(disconnectErr))
		}

		c.log(ctx, "mongo ping failed", log.Err(err))

		return fmt.Errorf("%w: %w", ErrPing, err)
	}

	c.client = mongoClient

	tlsEnabled := c.cfg.TLS != nil || isTLSImplied(c.cfg.URI)
	if !tlsEnabled {
		c.logAtLevel(ctx, log.LevelWarn, "mongo connection established without TLS")
	}

	c.log(ctx, "mongo connected", log.String("database", c.databaseName), log.Bool("tls", tlsEnabled))

	return nil
}

// Client returns the underlying driver client if connected.
func (c *Client) Client(ctx context.Context) (*mongo.Client, error) {
	if c == nil {
		return nil, ErrNilClient
	}

	if ctx == nil {
		return nil, ErrNilContext
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.client == nil {
		return nil, ErrClientClosed
	}

	return c.client, nil
}

// DatabaseName returns the database this client is bound to.
func (c *Client) DatabaseName() (string, error) {
	if c == nil {
		return "", ErrNilClient
	}

	return c.databaseName, nil
}

// Database returns the handle of the bound database.
func (c *Client) Database(ctx context.Context) (*mongo.Database, error) {
	client, err := c.Client(ctx)
	if err != nil {
		return nil, err
	}

	return client.Database(c.databaseName), nil
}

// Ping checks MongoDB availability using the active connection.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return ErrNilClient
	}

	if ctx == nil {
		return ErrNilContext
	}

	ctx, span := c.startSpan(ctx, "mongo.ping", "")
	defer span.End()

	client, err := c.Client(ctx)
	if err != nil {
		recordSpanError(span, "Failed to get mongo client for ping", err)

		return err
	}

	if err := c.deps.ping(ctx, client); err != nil {
		pingErr := fmt.Errorf("%w: %w", ErrPing, err)
		recordSpanError(span, "Mongo ping failed", pingErr)

		return pingErr
	}

	return nil
}

// Close releases the MongoDB connection. The client is marked closed even when
// disconnect fails.
func (c *Client) Close(ctx context.Context) error {
	if c == nil {
		return ErrNilClient
	}

	if ctx == nil {
		return ErrNilContext
	}

	ctx, span := c.startSpan(ctx, "mongo.close", "")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}

	err := c.deps.disconnect(ctx, c.client)
	c.client = nil

	if err != nil {
		c.log(ctx, "mongo disconnect failed", log.Err(err))

		disconnectErr := fmt.Errorf("%w: %w", ErrDisconnect, err)
		recordSpanError(span, "Failed to disconnect from mongo", disconnectErr)

		return disconnectErr
	}

	return nil
}

// EnsureCollection creates collection with no options. An existing collection
// of the same name is not an error.
func (c *Client) EnsureCollection(ctx context.Context, collection string) error {
	if c == nil {
		return ErrNilClient
	}

	if ctx == nil {
		return ErrNilContext
	}

	if strings.TrimSpace(collection) == "" {
		return ErrEmptyCollectionName
	}

	ctx, span := c.startSpan(ctx, "mongo.ensure_collection", collection)
	defer span.End()

	client, err := c.Client(ctx)
	if err != nil {
		recordSpanError(span, "Failed to get mongo client for ensure collection", err)

		return err
	}

	c.log(ctx, "ensuring mongo collection", log.String("collection", collection))

	if err := c.deps.createCollection(ctx, client, c.databaseName, collection); err != nil {
		if IsAlreadyExists(err) {
			c.log(ctx, "mongo collection already exists", log.String("collection", collection))

			return nil
		}

		createErr := fmt.Errorf("%w: collection=%s: %w", ErrCreateCollection, collection, err)
		recordSpanError(span, "Failed to ensure mongo collection", createErr)

		return createErr
	}

	return nil
}

// EnsureIndexes creates indexes in order, stopping at the first failure.
// Re-creating an identical index is a server-side no-op; an index on the same
// key pattern under another name or options counts as present.
func (c *Client) EnsureIndexes(ctx context.Context, collection string, indexes ...mongo.IndexModel) error {
	if c == nil {
		return ErrNilClient
	}

	if ctx == nil {
		return ErrNilContext
	}

	if strings.TrimSpace(collection) == "" {
		return ErrEmptyCollectionName
	}

	if len(indexes) == 0 {
		return ErrEmptyIndexes
	}

	ctx, span := c.startSpan(ctx, "mongo.ensure_indexes", collection)
	defer span.End()

	client, err := c.Client(ctx)
	if err != nil {
		recordSpanError(span, "Failed to get mongo client for ensure indexes", err)

		return err
	}

	for _, index := range indexes {
		if err := ctx.Err(); err != nil {
			indexErr := fmt.Errorf("%w: context cancelled: %w", ErrCreateIndex, err)
			recordSpanError(span, "Ensure mongo indexes cancelled", indexErr)

			return indexErr
		}

		fields := indexKeysString(index.Keys)

		c.log(ctx, "ensuring mongo index", log.String("collection", collection), log.String("fields", fields))

		err := c.deps.createIndex(ctx, client, c.databaseName, collection, index)
		if err == nil {
			continue
		}

		if IsAlreadyExists(err) {
			c.log(ctx, "mongo index already exists", log.String("collection", collection), log.String("fields", fields))

			continue
		}

		c.logAtLevel(ctx, log.LevelWarn, "failed to create mongo index",
			log.String("collection", collection),
			log.String("fields", fields),
			log.Err(err),
		)

		indexErr := fmt.Errorf("%w: collection=%s fields=%s: %w", ErrCreateIndex, collection, fields, err)
		recordSpanError(span, "Failed to ensure mongo index", indexErr)

		return indexErr
	}

	c.log(ctx, "mongo indexes ensured", log.String("collection", collection), log.Int("count", len(indexes)))

	return nil
}

// CollectionExists reports whether collection is present in the bound database.
func (c *Client) CollectionExists(ctx context.Context, collection string) (bool, error) {
	if c == nil {
		return false, ErrNilClient
	}

	if ctx == nil {
		return false, ErrNilContext
	}

	if strings.TrimSpace(collection) == "" {
		return false, ErrEmptyCollectionName
	}

	ctx, span := c.startSpan(ctx, "mongo.collection_exists", collection)
	defer span.End()

	client, err := c.Client(ctx)
	if err != nil {
		recordSpanError(span, "Failed to get mongo client for collection lookup", err)

		return false, err
	}

	names, err := c.deps.collectionNames(ctx, client, c.databaseName, collection)
	if err != nil {
		listErr := fmt.Errorf("%w: %w", ErrListCollections, err)
		recordSpanError(span, "Failed to list mongo collections", listErr)

		return false, listErr
	}

	for _, name := range names {
		if name == collection {
			return true, nil
		}
	}

	return false, nil
}

// IndexKeys returns the key document of every index on collection, including
// the default _id index.
func (c *Client) IndexKeys(ctx context.Context, collection string) ([]bson.D, error) {
	if c == nil {
		return nil, ErrNilClient
	}

	if ctx == nil {
		return nil, ErrNilContext
	}

	if strings.TrimSpace(collection) == "" {
		return nil, ErrEmptyCollectionName
	}

	ctx, span := c.startSpan(ctx, "mongo.index_keys", collection)
	defer span.End()

	client, err := c.Client(ctx)
	if err != nil {
		recordSpanError(span, "Failed to get mongo client for index listing", err)

		return nil, err
	}

	keys, err := c.deps.indexKeys(ctx, client, c.databaseName, collection)
	if err != nil {
		listErr := fmt.Errorf("%w: collection=%s: %w", ErrListIndexes, collection, err)
		recordSpanError(span, "Failed to list mongo indexes", listErr)

		return nil, listErr
	}

	return keys, nil
}

func (c *Client) startSpan(ctx context.Context, name, collection string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)

	attrs := []attribute.KeyValue{
		attribute.String(attrDBSystem, dbSystemMongoDB),
		attribute.String(attrDBName, c.databaseName),
	}

	if collection != "" {
		attrs = append(attrs, attribute.String(attrDBCollection, collection))
	}

	span.SetAttributes(attrs...)

	return ctx, span
}

func recordSpanError(span trace.Span, message string, err error) {
	if span == nil || err == nil {
		return
	}

	span.SetStatus(codes.Error, message+": "+err.Error())
	span.RecordError(err)
}

func (c *Client) log(ctx context.Context, message string, fields ...log.Field) {
	c.logAtLevel(ctx, log.LevelDebug, message, fields...)
}

func (c *Client) logAtLevel(ctx context.Context, level log.Level, message string, fields ...log.Field) {
	if c == nil || c.cfg.Logger == nil {
		return
	}

	if !c.cfg.Logger.Enabled(level) {
		return
	}

	c.cfg.Logger.Log(ctx, level, message, fields...)
}

// normalizeConfig applies safe defaults and clamps to a Config.
func normalizeConfig(cfg Config) Config {
	if cfg.MaxPoolSize > maxMaxPoolSize {
		cfg.MaxPoolSize = maxMaxPoolSize
	}

	if cfg.TLS != nil {
		tlsCopy := *cfg.TLS
		if tlsCopy.MinVersion < tls.VersionTLS12 {
			tlsCopy.MinVersion = tls.VersionTLS12
		}

		cfg.TLS = &tlsCopy
	}

	return cfg
}

// buildTLSConfig creates a *tls.Config trusting the base64 PEM CA in cfg.
// Only TLS 1.2 and 1.3 are accepted as minimum versions.
func buildTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	caCert, err := base64.StdEncoding.DecodeString(cfg.CACertBase64)
	if err != nil {
		return nil, fmt.Errorf("decoding CA cert: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("adding CA cert to pool failed: %w", ErrInvalidConfig)
	}

	if cfg.MinVersion != 0 && cfg.MinVersion != tls.VersionTLS12 && cfg.MinVersion != tls.VersionTLS13 {
		return nil, fmt.Errorf("%w: unsupported TLS MinVersion %#x", ErrInvalidConfig, cfg.MinVersion)
	}

	tlsConfig := &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}

	if cfg.MinVersion == tls.VersionTLS13 {
		tlsConfig.MinVersion = tls.VersionTLS13
	}

	return tlsConfig, nil
}

// isTLSImplied returns true if the URI scheme or query parameters indicate TLS.
func isTLSImplied(uri string) bool {
	return strings.HasPrefix(uri, "mongodb+srv://") ||
		strings.Contains(uri, "tls=true") ||
		strings.Contains(uri, "ssl=true")
}

// indexKeysString renders index keys as "field:direction" pairs for logs.
func indexKeysString(keys any) string {
	switch k := keys.(type) {
	case bson.D:
		parts := make([]string, 0, len(k))
		for _, e := range k {
			parts = append(parts, fmt.Sprintf("%s:%v", e.Key, e.Value))
		}

		return strings.Join(parts, ",")
	case bson.M:
		parts := make([]string, 0, len(k))
		for key, value := range k {
			parts = append(parts, fmt.Sprintf("%s:%v", key, value))
		}

		sort.Strings(parts)

		return strings.Join(parts, ",")
	default:
		return "<unknown>"
	}
}
