package main

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/karalabe/rabbitfence/config"
	"github.com/karalabe/rabbitfence/internal/app"
	"github.com/karalabe/rabbitfence/internal/entity"
	"github.com/spf13/cobra"
)

var (
	emitAddressFlag string
	emitActionFlag  string
)

func main() {
	// Configure the logger to print everything until the config is parsed
	log.Root().SetHandler(log.LvlFilterHandler(log.LvlInfo, log.StreamHandler(os.Stderr, log.TerminalFormat(true))))

	cmdRun := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon fencing dead RabbitMQ nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}
			return app.Run(cfg)
		},
	}
	config.Flags(cmdRun)

	cmdProbe := &cobra.Command{
		Use:   "probe [address...]",
		Short: "Report what would be done for departed nodes, without touching the cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}
			return app.Probe(cfg, args, cmd.OutOrStdout())
		},
	}
	config.Flags(cmdProbe)
	cmdProbe.Flags().Set("log.syslog", "false")
	cmdProbe.Flags().Set("log.level", "warn")

	cmdEmit := &cobra.Command{
		Use:   "emit",
		Short: "Publish a synthetic membership event on the NSQ bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}
			return app.Emit(cfg, emitAddressFlag, emitActionFlag)
		},
	}
	config.Flags(cmdEmit)
	cmdEmit.Flags().Set("log.syslog", "false")
	cmdEmit.Flags().StringVar(&emitAddressFlag, "address", "", "Bus address of the node the event is about")
	cmdEmit.Flags().StringVar(&emitActionFlag, "action", entity.ActionLeft, "Membership action to announce")
	cmdEmit.MarkFlagRequired("address")

	rootCmd := &cobra.Command{
		Use:           "rabbit-fence",
		Short:         "Daemon that fences dead rabbitmq nodes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(cmdRun, cmdProbe, cmdEmit)

	if err := rootCmd.Execute(); err != nil {
		log.Error("A generic error caught!", "err", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig(cmd, args)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := app.SetupLogging(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}
