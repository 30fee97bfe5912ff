package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/jrife/kvgate/gateway"
	"github.com/jrife/kvgate/storage/kv/plugins"
	"github.com/jrife/kvgate/utils/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	initialValueSize = 64
	initialListSize  = 4096
)

type cmdGet struct {
	Keys []string `arg:"" help:"Keys to look up."`
}

type cmdSet struct {
	Key   string `arg:"" help:"Key to write."`
	Value string `arg:"" help:"Value to store."`
}

type cmdDelete struct {
	Keys []string `arg:"" help:"Keys to delete. Missing keys are ignored."`
}

type cmdList struct {
	Batch int `short:"n" default:"128" help:"Number of keys fetched per call."`
}

type cmdCreateDb struct {
	Name string `arg:"" help:"Name of the database."`
}

type cmdDropDb struct {
	Name string `arg:"" help:"Name of the database."`
}

type cmdClearDb struct {
	Name string `arg:"" optional:"" help:"Name of the database. Clears the default database if omitted."`
}

type cli struct {
	Path     string `short:"p" env:"KVGATE_PATH" required:"" help:"Path of the store."`
	Driver   string `short:"d" env:"KVGATE_DRIVER" default:"${default_driver}" enum:"${drivers}" help:"Storage driver (${drivers})."`
	Database string `short:"D" help:"Named database to use instead of the default database."`
	Verbose  bool   `short:"v" help:"Log debug output on stderr."`
	Stats    bool   `help:"Print gateway counters on stderr when done."`

	Get      cmdGet      `cmd:"" help:"Print the values of keys."`
	Set      cmdSet      `cmd:"" help:"Store a value under a key."`
	Delete   cmdDelete   `cmd:"" help:"Delete keys."`
	List     cmdList     `cmd:"" help:"List the keys of the default database in order."`
	CreateDb cmdCreateDb `cmd:"" help:"Create a named database."`
	DropDb   cmdDropDb   `cmd:"" help:"Drop a named database and its contents."`
	ClearDb  cmdClearDb  `cmd:"" help:"Remove every key from a database."`
}

// Config contains the configuration for the kvgate cli
type Config struct {
	// Name is the name of the program
	Name string
	// Exit is called by kong after printing help
	Exit   func(int)
	Stdout io.Writer
	Stderr io.Writer
}

// NewConfig returns a Config for the current process
func NewConfig() *Config {
	return &Config{
		Name:   "kvgate",
		Exit:   os.Exit,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// app is bound to every command's Run method
type app struct {
	ctx      context.Context
	handle   *gateway.Handle
	database string
	stdout   io.Writer
}

// check turns a gateway status into an error
func (a *app) check(status gateway.Status) error {
	if status != gateway.StatusErr {
		return nil
	}

	if message, ok := a.handle.LastError(); ok {
		return errors.New(message)
	}

	return errors.New("unknown error")
}

// Cli parses args and runs the selected command
func Cli(args []string, config *Config) error {
	var c cli

	parser, err := kong.New(&c,
		kong.Name(config.Name),
		kong.Description("Batched reads and writes against an embedded key-value store."),
		kong.Exit(config.Exit),
		kong.Writers(config.Stdout, config.Stderr),
		kong.Vars{
			"drivers":        strings.Join(plugins.Names(), ","),
			"default_driver": plugins.DefaultDriver,
		},
	)

	if err != nil {
		return err
	}

	ctx, err := parser.Parse(args)

	if err != nil {
		return err
	}

	logger := zap.NewNop()

	if c.Verbose {
		logger = zap.New(zapcore.NewCore(
			zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
			zapcore.AddSync(config.Stderr),
			zap.DebugLevel,
		))

		defer logger.Sync()
	}

	registry := prometheus.NewRegistry()
	handle, err := gateway.Open(gateway.Config{
		Driver:  c.Driver,
		Path:    c.Path,
		Logger:  logger,
		Metrics: gateway.NewMetrics(registry),
	})

	if err != nil {
		return err
	}

	defer handle.Close()

	err = ctx.Run(&app{
		ctx:      log.WithFields(context.Background(), zap.String("command", ctx.Command())),
		handle:   handle,
		database: c.Database,
		stdout:   config.Stdout,
	})

	if c.Stats {
		if statsErr := printStats(config.Stderr, registry); statsErr != nil && err == nil {
			err = statsErr
		}
	}

	return err
}

func (cmd *cmdGet) Run(a *app) error {
	ops := make([]gateway.Operation, len(cmd.Keys))

	for i, key := range cmd.Keys {
		ops[i] = gateway.Operation{
			Code:     gateway.OpGet,
			Database: a.database,
			Key:      []byte(key),
			Value:    make([]byte, initialValueSize),
		}
	}

	status := a.handle.Execute(a.ctx, ops, false)

	for status == gateway.StatusAgain {
		for i := range ops {
			if ops[i].Flags.Has(gateway.FlagAgain) {
				ops[i].Value = make([]byte, ops[i].ValueLen)
			}
		}

		status = a.handle.Execute(a.ctx, ops, false)
	}

	if err := a.check(status); err != nil {
		return err
	}

	var missing []string

	for _, op := range ops {
		if op.Flags.Has(gateway.FlagNotFound) {
			missing = append(missing, string(op.Key))

			continue
		}

		fmt.Fprintf(a.stdout, "%s=%s\n", op.Key, op.Value[:op.ValueLen])
	}

	if len(missing) > 0 {
		return fmt.Errorf("not found: %s", strings.Join(missing, ", "))
	}

	return nil
}

func (cmd *cmdSet) Run(a *app) error {
	return a.check(a.handle.Execute(a.ctx, []gateway.Operation{{
		Code:     gateway.OpSet,
		Database: a.database,
		Key:      []byte(cmd.Key),
		Value:    []byte(cmd.Value),
	}}, true))
}

func (cmd *cmdDelete) Run(a *app) error {
	ops := make([]gateway.Operation, len(cmd.Keys))

	for i, key := range cmd.Keys {
		ops[i] = gateway.Operation{Code: gateway.OpSet, Database: a.database, Key: []byte(key)}
	}

	return a.check(a.handle.Execute(a.ctx, ops, true))
}

func (cmd *cmdList) Run(a *app) error {
	if a.database != "" {
		return fmt.Errorf("list only supports the default database")
	}

	if cmd.Batch < 1 {
		return fmt.Errorf("batch must be positive")
	}

	out := make([]byte, initialListSize)
	lengths := make([]int, cmd.Batch)
	n, status := a.handle.ListKeys(a.ctx, out, lengths)

	// the retry observes the same snapshot as the call that ran out of room
	for status == gateway.StatusAgain {
		if n == len(lengths) {
			lengths = make([]int, 2*len(lengths))
		} else {
			out = make([]byte, 2*len(out)+lengths[n])
		}

		n, status = a.handle.ListKeys(a.ctx, out, lengths)
	}

	if err := a.check(status); err != nil {
		return err
	}

	offset := 0

	for _, length := range lengths[:n] {
		fmt.Fprintf(a.stdout, "%s\n", out[offset:offset+length])
		offset += length
	}

	return nil
}

func (cmd *cmdCreateDb) Run(a *app) error {
	return a.check(a.handle.CreateDatabase(a.ctx, cmd.Name))
}

func (cmd *cmdDropDb) Run(a *app) error {
	return a.check(a.handle.DropDatabase(a.ctx, cmd.Name))
}

func (cmd *cmdClearDb) Run(a *app) error {
	name := cmd.Name

	if name == "" {
		name = a.database
	}

	return a.check(a.handle.ClearDatabase(a.ctx, name))
}

// printStats writes every non-zero counter as name{labels} value
func printStats(w io.Writer, registry *prometheus.Registry) error {
	families, err := registry.Gather()

	if err != nil {
		return fmt.Errorf("could not gather stats: %w", err)
	}

	var lines []string

	for _, family := range families {
		for _, metric := range family.GetMetric() {
			value := metric.GetCounter().GetValue()

			if value == 0 {
				continue
			}

			labels := make([]string, 0, len(metric.GetLabel()))

			for _, label := range metric.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", label.GetName(), label.GetValue()))
			}

			lines = append(lines, fmt.Sprintf("%s{%s} %g", family.GetName(), strings.Join(labels, ","), value))
		}
	}

	sort.Strings(lines)

	for _, line := range lines {
		fmt.Fprintln(w, line)
	}

	return nil
}
