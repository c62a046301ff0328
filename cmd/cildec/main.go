package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/deepnoodle-ai/cildec/decompiler"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var red = color.New(color.FgRed).SprintFunc()

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	viper.Reset()
	var configFile string
	root := &cobra.Command{
		Use:           "cildec",
		Short:         "Decompile CIL method bodies into structured code",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlags(cmd.Root().PersistentFlags()); err != nil {
				return fmt.Errorf("binding flags: %w", err)
			}
			if err := initConfig(configFile); err != nil {
				return err
			}
			processGlobalFlags()
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (default is $HOME/.cildec.yaml)")
	flags.Bool("no-color", false, "Disable colored output")
	flags.BoolP("verbose", "v", false, "Log every transform at debug level")
	flags.StringP("output", "o", "", "Output format (json, text)")
	flags.Int("concurrency", 0, "Number of methods decompiled at once")
	flags.Int("max-depth", 0, "Maximum exception region nesting depth")

	defaults := decompiler.DefaultSettings()
	flags.Bool("yield-return", defaults.YieldReturn, "Rebuild iterator methods")
	flags.Bool("async-await", defaults.AsyncAwait, "Rebuild async methods")
	flags.Bool("lock-statement", defaults.LockStatement, "Detect lock statements")
	flags.Bool("using-statement", defaults.UsingStatement, "Detect using statements")
	flags.Bool("switch-statement", defaults.SwitchStatement, "Detect switch statements")
	flags.Bool("high-level-loops", defaults.HighLevelLoops, "Detect while, do-while and for loops")
	flags.Bool("aggressive-inlining", defaults.AggressiveInlining, "Also inline single-use locals")
	flags.Int("min-switch-cases", defaults.MinSwitchCases, "Cases needed to turn a comparison chain into a switch")
	root.RegisterFlagCompletionFunc("output", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return outputFormatsCompletion, cobra.ShellCompDirectiveNoFileComp
	})

	root.AddCommand(
		newDecompileCmd(),
		newDisCmd(),
		newFlagsCmd(),
		newVersionCmd(),
	)
	return root
}

func initConfig(configFile string) error {
	viper.SetEnvPrefix("cildec")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		return viper.ReadInConfig()
	}
	home, err := homedir.Dir()
	if err != nil {
		return nil
	}
	viper.AddConfigPath(home)
	viper.SetConfigType("yaml")
	viper.SetConfigName(".cildec")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	return nil
}

// Reads global flags from Viper and adjusts the environment accordingly.
func processGlobalFlags() {
	if viper.GetBool("no-color") {
		color.NoColor = true
	}
}

func getSettings() (*decompiler.Settings, error) {
	s := decompiler.DefaultSettings()
	if err := viper.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	return s, nil
}

func getLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if viper.GetBool("verbose") {
		level = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, NoColor: color.NoColor}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func getDecompilerOptions() ([]decompiler.Option, error) {
	settings, err := getSettings()
	if err != nil {
		return nil, err
	}
	return []decompiler.Option{
		decompiler.WithSettings(settings),
		decompiler.WithLogger(getLogger()),
		decompiler.WithConcurrency(viper.GetInt("concurrency")),
		decompiler.WithMaxNestingDepth(viper.GetInt("max-depth")),
	}, nil
}
