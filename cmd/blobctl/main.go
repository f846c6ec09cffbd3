package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"blobxfer/internal/logr"

	"github.com/spf13/cobra"
)

const defaultAddress = "http://localhost:8080"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// Run executes blobctl with args, writing command output to out.
func Run(ctx context.Context, args []string, out io.Writer) error {
	var (
		cfg    clientConfig
		logCfg logr.Config
	)

	cmd := &cobra.Command{
		Use:           "blobctl",
		Short:         "Control a blob transfer node",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logr.New(logCfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			cfg.logger = logger
			return nil
		},
		// Define run func in order to enable cobra's default help functionality
		Run: func(cmd *cobra.Command, args []string) {},
	}
	cmd.SetArgs(args)
	cmd.SetOut(out)

	cmd.PersistentFlags().StringVar(&cfg.address, "address", defaultAddress, "Address of the blob node")
	cmd.PersistentFlags().StringVar(&cfg.token, "token", "", "API token")
	cmd.PersistentFlags().IntVar(&cfg.retryMax, "retries", 2, "Retries for failed requests")
	logr.LoadConfigFromFlags(cmd.PersistentFlags(), &logCfg)

	cmd.AddCommand(attachCommand(&cfg))
	cmd.AddCommand(statusCommand(&cfg))
	cmd.AddCommand(downloadCommand(&cfg))
	cmd.AddCommand(cancelCommand(&cfg))
	cmd.AddCommand(pauseCommand(&cfg))
	cmd.AddCommand(resumeCommand(&cfg))
	cmd.AddCommand(uploadCommand(&cfg))
	cmd.AddCommand(getCommand(&cfg))
	cmd.AddCommand(detachCommand(&cfg))
	cmd.AddCommand(prefetchCommand(&cfg))
	cmd.AddCommand(tokenCommand(&cfg))

	if err := setFlagsFromEnvVariables(cmd.PersistentFlags()); err != nil {
		return err
	}

	return cmd.ExecuteContext(ctx)
}
