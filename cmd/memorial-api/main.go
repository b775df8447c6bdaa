package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/memorial/backend/internal/config"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/money"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "memorial-api",
		Short: "Memorial pages backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newIssueCodesCommand(), newCreditBalanceCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("public-base-url", defaults.GetString("public.base_url"), "Public base URL used in login links")
	cmd.PersistentFlags().String("storage-driver", defaults.GetString("storage.driver"), "Photo storage driver (local, s3)")
	cmd.PersistentFlags().String("storage-root", defaults.GetString("storage.local.root"), "Local photo storage root")
	cmd.PersistentFlags().String("s3-bucket", defaults.GetString("storage.s3.bucket"), "S3 bucket for photos")
	cmd.PersistentFlags().String("fallback-dir", defaults.GetString("change_requests.fallback_dir"), "Fallback directory for change requests")
	cmd.PersistentFlags().Int("free-archive-limit", defaults.GetInt("photos.free_limit"), "Free archive photos per memory")
	cmd.PersistentFlags().Int64("extension-price", defaults.GetInt64("photos.extension_price"), "Price of the archive extension")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "public.base_url", "public-base-url")
	bindFlag(cmd, "storage.driver", "storage-driver")
	bindFlag(cmd, "storage.local.root", "storage-root")
	bindFlag(cmd, "storage.s3.bucket", "s3-bucket")
	bindFlag(cmd, "change_requests.fallback_dir", "fallback-dir")
	bindFlag(cmd, "photos.free_limit", "free-archive-limit")
	bindFlag(cmd, "photos.extension_price", "extension-price")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	app, err := openApplication(ctx, appConfig)
	if err != nil {
		return err
	}
	defer app.Close()

	handler, err := app.httpHandler()
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("storage_driver", appConfig.StorageDriver))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newIssueCodesCommand() *cobra.Command {
	var (
		count        int
		creatorEmail string
		labelPrefix  string
	)
	cmd := &cobra.Command{
		Use:   "issue-codes",
		Short: "Create printed QR codes attributed to a staff member",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			app, err := openApplication(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer app.Close()

			creator, err := app.users.EnsureUser(cmd.Context(), creatorEmail, users.RoleManager)
			if err != nil {
				return err
			}
			codes, err := app.memories.IssueCodes(cmd.Context(), creator.ID, count, labelPrefix)
			if err != nil {
				return err
			}
			for _, code := range codes {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s/person/code/%s\n", code.Label, appConfig.PublicBaseURL, code.UUID)
			}
			app.logger.Info("codes issued", zap.Int("count", len(codes)), zap.Uint("creator_id", creator.ID))
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "Number of codes to create")
	cmd.Flags().StringVar(&creatorEmail, "creator-email", "", "E-mail of the staff member issuing the codes")
	cmd.Flags().StringVar(&labelPrefix, "label-prefix", "", "Optional label prefix, numbered per code")
	_ = cmd.MarkFlagRequired("creator-email")
	return cmd
}

func newCreditBalanceCommand() *cobra.Command {
	var (
		email  string
		amount string
		note   string
	)
	cmd := &cobra.Command{
		Use:   "credit-balance",
		Short: "Top up the prepaid balance of a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			credit, err := money.Parse(amount)
			if err != nil {
				return err
			}
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			app, err := openApplication(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer app.Close()

			client, err := app.users.EnsureUser(cmd.Context(), email, users.RoleMember)
			if err != nil {
				return err
			}
			balance, err := app.ledger.Credit(cmd.Context(), client.ID, credit, note)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", client.Email, balance)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Client e-mail")
	cmd.Flags().StringVar(&amount, "amount", "", "Amount to credit, e.g. 500 or 499.99")
	cmd.Flags().StringVar(&note, "note", "manual top-up", "Ledger note")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}
