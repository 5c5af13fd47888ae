// internal/app/bootstrap/cli.go
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/spf13/pflag"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// IsCommand reports whether name is a maintenance subcommand handled by
// RunCommand rather than the web server.
func IsCommand(name string) bool {
	return name == "migrate" || name == "reload-config"
}

// RunCommand runs a maintenance subcommand. args[0] is the subcommand name.
// It returns the process exit code.
func RunCommand(ctx context.Context, args []string, stderr io.Writer, logger *zap.Logger) int {
	if len(args) == 0 || !IsCommand(args[0]) {
		fmt.Fprintf(stderr, "usage: collectives [migrate | reload-config [--file path] [--force]]\n")
		return 2
	}
	name := args[0]

	flags := pflag.NewFlagSet("collectives "+name, pflag.ContinueOnError)
	flags.SetOutput(stderr)
	mongoURI := flags.String("mongo_uri", envOr("COLLECTIVES_MONGO_URI", "mongodb://localhost:27017"), "MongoDB connection URI")
	mongoDB := flags.String("mongo_database", envOr("COLLECTIVES_MONGO_DATABASE", "collectives"), "MongoDB database name")
	timeout := flags.Duration("timeout", 2*time.Minute, "give up after this long")
	var file string
	var force bool
	if name == "reload-config" {
		flags.StringVar(&file, "file", "", "YAML file with a configuration list (default: built-in defaults)")
		flags.BoolVar(&force, "force", false, "overwrite values already stored")
	}
	if err := flags.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if flags.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected argument: %s\n", flags.Arg(0))
		return 2
	}
	if err := wafflemongo.ValidateURI(*mongoURI); err != nil {
		fmt.Fprintf(stderr, "invalid MongoDB URI: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	deps, err := connect(ctx, AppConfig{MongoURI: *mongoURI, MongoDatabase: *mongoDB, MongoMaxPoolSize: 4}, logger)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	defer func() { _ = deps.MongoClient.Disconnect(context.Background()) }()

	switch name {
	case "migrate":
		err = migrate(ctx, deps.MongoDatabase, logger)
	case "reload-config":
		err = reloadConfig(ctx, deps.MongoDatabase, file, force, logger)
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s failed: %v\n", name, err)
		return 1
	}
	return 0
}

func reloadConfig(ctx context.Context, db *mongo.Database, file string, force bool, logger *zap.Logger) error {
	var (
		d   *Defaults
		err error
	)
	if file == "" {
		d, err = DefaultDefaults()
	} else {
		var data []byte
		if data, err = os.ReadFile(file); err != nil {
			return err
		}
		d, err = ParseDefaults(data)
	}
	if err != nil {
		return err
	}
	_, err = ReloadConfiguration(ctx, db, d, force, logger)
	return err
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
