// resellerctl runs catalog and order sync jobs, applies the schema and mints
// bearer tokens against the configured store.
//
// Usage:
//
//	resellerctl migrate
//	resellerctl sync-catalog [--provider 3]
//	resellerctl sync-orders [--limit 200] [--provider 3]
//	resellerctl add-user --login ops --role admin
//	resellerctl token --user 1 [--ttl 24h]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/25x8/smm-reseller/internal/reseller/config"
	"github.com/25x8/smm-reseller/internal/reseller/logger"
	"github.com/25x8/smm-reseller/internal/reseller/middleware"
	"github.com/25x8/smm-reseller/internal/reseller/models"
	"github.com/25x8/smm-reseller/internal/reseller/repository"
	"github.com/25x8/smm-reseller/internal/reseller/server"
	"github.com/25x8/smm-reseller/internal/reseller/service"
)

func main() {
	app := &cli.App{
		Name:  "resellerctl",
		Usage: "Operate the reseller core: sync jobs, schema and tokens",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Value:   ".env",
				Usage:   "dotenv file to load before reading the environment",
				EnvVars: []string{"ENV_FILE"},
			},
			&cli.StringFlag{
				Name:    "database",
				Aliases: []string{"d"},
				Usage:   "Database URI, overrides DATABASE_URI",
			},
		},
		Commands: []*cli.Command{
			migrateCommand(),
			syncCatalogCommand(),
			syncOrdersCommand(),
			addUserCommand(),
			tokenCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	if err := config.LoadEnvFile(c.String("env-file")); err != nil {
		return nil, err
	}
	cfg, err := config.Parse("resellerctl", nil)
	if err != nil {
		return nil, err
	}
	if db := c.String("database"); db != "" {
		cfg.DatabaseURI = db
	}
	logger.Setup(cfg.LogLevel, cfg.AppEnv)
	return cfg, nil
}

func withComponents(c *cli.Context, fn func(ctx context.Context, core *server.Components) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	core, err := server.NewComponents(c.Context, cfg)
	if err != nil {
		return err
	}
	defer core.Close()
	return fn(c.Context, core)
}

func optionalProvider(c *cli.Context) *int64 {
	if !c.IsSet("provider") {
		return nil
	}
	id := c.Int64("provider")
	return &id
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create missing tables and indexes",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			repo, err := repository.Open(c.Context, cfg.DatabaseURI)
			if err != nil {
				return err
			}
			log.Info().Msg("schema is up to date")
			return repo.Close()
		},
	}
}

func syncCatalogCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync-catalog",
		Usage: "Reconcile provider catalogs into the local service list",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "provider", Aliases: []string{"p"}, Usage: "Only this provider id"},
		},
		Action: func(c *cli.Context) error {
			return withComponents(c, func(ctx context.Context, core *server.Components) error {
				report, err := core.Reconciler.ReconcileAll(ctx, optionalProvider(c))
				if err != nil {
					return err
				}
				return printJSON(report)
			})
		},
	}
}

func syncOrdersCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync-orders",
		Usage: "Poll providers for the status of open orders",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: service.DefaultSyncLimit, Usage: "Orders to check"},
			&cli.Int64Flag{Name: "provider", Aliases: []string{"p"}, Usage: "Only this provider id"},
		},
		Action: func(c *cli.Context) error {
			return withComponents(c, func(ctx context.Context, core *server.Components) error {
				report, err := core.Orders.SyncStatuses(ctx, service.SyncOptions{
					Limit:      c.Int("limit"),
					ProviderID: optionalProvider(c),
				})
				if err != nil {
					return err
				}
				return printJSON(report)
			})
		},
	}
}

func addUserCommand() *cli.Command {
	return &cli.Command{
		Name:  "add-user",
		Usage: "Create a user account",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "login", Required: true},
			&cli.StringFlag{Name: "role", Value: models.RoleUser, Usage: "user or admin"},
			&cli.StringFlag{Name: "balance", Value: "0", Usage: "Opening balance"},
		},
		Action: func(c *cli.Context) error {
			role := c.String("role")
			if role != models.RoleUser && role != models.RoleAdmin {
				return fmt.Errorf("unknown role %q", role)
			}
			balance, err := decimal.NewFromString(c.String("balance"))
			if err != nil || balance.IsNegative() {
				return errors.New("balance must be a non-negative amount")
			}
			return withComponents(c, func(ctx context.Context, core *server.Components) error {
				id, err := core.Repo.CreateUser(ctx, c.String("login"), role, balance)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"id": id, "login": c.String("login"), "role": role})
			})
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Mint a bearer token for an existing user",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "user", Aliases: []string{"u"}, Required: true},
			&cli.DurationFlag{Name: "ttl", Value: middleware.DefaultTokenTTL},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is required")
			}
			repo, err := repository.Open(c.Context, cfg.DatabaseURI)
			if err != nil {
				return err
			}
			defer repo.Close()

			user, err := repo.GetUser(c.Context, c.Int64("user"))
			if err != nil {
				return err
			}
			ttl := c.Duration("ttl")
			token, err := middleware.GenerateToken(user.ID, user.Role, cfg.JWTSecret, ttl)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"token":     token,
				"userId":    user.ID,
				"role":      user.Role,
				"expiresAt": time.Now().Add(ttl).UTC(),
			})
		},
	}
}
