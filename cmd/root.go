package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hazard-risk/internal/config"
)

var (
	cfg      *config.Config
	cfgFile  string
	logLevel zap.AtomicLevel
)

var rootCmd = &cobra.Command{
	Use:   "hazard-risk",
	Short: "Multi-source natural hazard risk assessment",
	Long:  "Queries government and commercial hazard data providers for a point or address and combines their readings into a single confidence-weighted risk assessment.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cfgFile)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		if err := c.Validate(cmd.Name()); err != nil {
			return err
		}
		cfg = c

		level, err := config.InitLogger(cfg.Log)
		if err != nil {
			return eris.Wrap(err, "init logger")
		}
		logLevel = level
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
