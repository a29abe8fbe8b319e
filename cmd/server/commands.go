package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/FitQuest/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/FitQuest/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/FitQuest/backend/internal/relay"
	"github.com/GriffinCanCode/FitQuest/backend/internal/server"
)

type globalFlags struct {
	envFiles []string
	dev      bool
	logLevel string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:          "fitquest-relay",
		Short:        "Relay API requests through an embedded page sandbox",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", []string{".env"}, "env files to load before reading configuration")
	rootCmd.PersistentFlags().BoolVar(&flags.dev, "dev", false, "development logging")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override LOG_LEVEL")

	serve := newServeCmd(flags)
	rootCmd.RunE = serve.RunE
	rootCmd.Flags().AddFlagSet(serve.Flags())
	rootCmd.AddCommand(serve, newCallCmd(flags))
	return rootCmd
}

func (f *globalFlags) load() (*config.Config, *zap.Logger, error) {
	if err := config.LoadEnvFiles(f.envFiles...); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if f.dev {
		cfg.Logging.Development = true
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, logger, nil
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	var (
		port     string
		embedded bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("embedded") {
				cfg.Sandbox.Embedded = embedded
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := server.New(ctx, cfg, logger)
			if err != nil {
				logger.Error("Failed to create server", zap.Error(err))
				return err
			}
			defer srv.Close()

			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&port, "port", "8000", "listen port, overrides PORT")
	cmd.Flags().BoolVar(&embedded, "embedded", false, "run the sandbox in-process, overrides SANDBOX_EMBEDDED")
	return cmd
}

func newCallCmd(flags *globalFlags) *cobra.Command {
	var (
		method  string
		body    string
		headers []string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "call <path>",
		Short: "Send one request through an embedded sandbox and print the envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			cfg.Sandbox.Embedded = true
			if err := cfg.Validate(); err != nil {
				return err
			}

			p := relay.Payload{Method: strings.ToUpper(method), Path: args[0]}
			if body != "" {
				var v any
				if err := sonic.UnmarshalString(body, &v); err != nil {
					return fmt.Errorf("--body is not JSON: %w", err)
				}
				p.Body = v
			}
			if len(headers) > 0 {
				p.Headers = make(map[string]string, len(headers))
				for _, h := range headers {
					name, value, ok := strings.Cut(h, ":")
					if !ok {
						return fmt.Errorf("header %q must be name:value", h)
					}
					p.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
				}
			}
			if err := p.Validate(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			srv, err := server.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer srv.Close()

			env, err := srv.Relay().Submit(ctx, p)
			if err != nil {
				return err
			}
			out, err := sonic.ConfigStd.MarshalIndent(env, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if !env.OK {
				return errors.New(env.Kind.String())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&method, "method", "X", "GET", "HTTP method")
	cmd.Flags().StringVarP(&body, "body", "d", "", "JSON body")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "extra header as name:value, repeatable")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline")
	return cmd
}
