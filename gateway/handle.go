package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jrife/kvgate/storage/kv"
	"github.com/jrife/kvgate/storage/kv/plugins"
	"github.com/jrife/kvgate/utils/log"
	"go.uber.org/zap"
)

// ErrNoSuchDriver is returned by Open when Config.Driver does
// not name a registered storage plugin
var ErrNoSuchDriver = errors.New("no such driver")

// Config configures a Handle
type Config struct {
	// Driver names the storage plugin. It defaults to plugins.DefaultDriver.
	Driver string
	// Path is where the environment lives
	Path string
	// Permissions are the mode bits for files the driver creates
	Permissions os.FileMode
	// Options are passed through to the storage plugin. Path and
	// Permissions take precedence over the same keys here.
	Options kv.PluginOptions
	// Logger defaults to zap.L()
	Logger *zap.Logger
	// Metrics may be nil
	Metrics *Metrics
}

// Handle is an open environment plus the state the gateway keeps
// between calls: the suspended read transaction, resolved database
// identifiers and the last error. A Handle must not be used by more
// than one goroutine at a time.
type Handle struct {
	env       kv.Env
	ownsEnv   bool
	logger    *zap.Logger
	metrics   *Metrics
	slot      txnSlot
	databases *databaseCache
	lastErr   error
	closed    bool
}

// Open opens the environment described by config
func Open(config Config) (*Handle, error) {
	driver := config.Driver

	if driver == "" {
		driver = plugins.DefaultDriver
	}

	plugin := plugins.NewKVPluginManager().Plugin(driver)

	if plugin == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchDriver, driver)
	}

	options := kv.PluginOptions{}

	for name, value := range config.Options {
		options[name] = value
	}

	options[kv.OptionPath] = config.Path

	if config.Permissions != 0 {
		options[kv.OptionMode] = config.Permissions
	}

	env, err := plugin.NewEnv(options)

	if err != nil {
		return nil, fmt.Errorf("could not open %s environment at %s: %w", driver, config.Path, err)
	}

	handle := New(env, config)
	handle.ownsEnv = true
	handle.logger = handle.logger.With(zap.String("driver", driver))
	handle.logger.Debug("opened environment")

	return handle, nil
}

// New creates a handle over an environment that is already open.
// Closing the handle does not close env. Only the logger and metrics
// are read from config.
func New(env kv.Env, config Config) *Handle {
	logger := config.Logger

	if logger == nil {
		logger = zap.L()
	}

	return &Handle{
		env:       env,
		logger:    logger.With(zap.String("path", env.Path())),
		metrics:   config.Metrics,
		databases: newDatabaseCache(env),
	}
}

// Close aborts the suspended transaction, if any, and closes the
// environment if the handle opened it
func (handle *Handle) Close() error {
	if handle.closed {
		return ErrClosed
	}

	handle.closed = true
	handle.slot.clear()

	if !handle.ownsEnv {
		return nil
	}

	if err := handle.env.Close(); err != nil {
		return fmt.Errorf("could not close environment: %w", err)
	}

	handle.logger.Debug("closed environment")

	return nil
}

// LastError returns the message of the most recent failure and
// forgets it. ok is false if nothing failed since the last call.
func (handle *Handle) LastError() (message string, ok bool) {
	if handle.lastErr == nil {
		return "", false
	}

	message = handle.lastErr.Error()
	handle.lastErr = nil

	return message, true
}

// call scopes logging and accounting to a single gateway call
type call struct {
	handle *Handle
	name   string
	logger *zap.Logger
}

func (handle *Handle) begin(ctx context.Context, name string) *call {
	logger := log.WithContext(ctx, handle.logger).With(zap.String("operation", name))
	logger.Debug("start")

	return &call{handle: handle, name: name, logger: logger}
}

func (c *call) checkOpen() error {
	if c.handle.closed {
		return ErrClosed
	}

	return nil
}

// fail records err as the last error and returns StatusErr
func (c *call) fail(err error) Status {
	c.handle.lastErr = err
	c.logger.Debug("failed", zap.Error(err), zap.Stringer("class", Classify(err)))

	return c.done(StatusErr)
}

// again returns StatusAgain without touching the last error
func (c *call) again() Status {
	c.logger.Debug("output buffer too small", zap.Stringer("class", Classify(ErrBufferTooSmall)))

	return c.done(StatusAgain)
}

func (c *call) done(status Status) Status {
	c.handle.metrics.status(c.name, status)

	if status != StatusErr {
		c.logger.Debug("done", zap.Stringer("status", status))
	}

	return status
}
