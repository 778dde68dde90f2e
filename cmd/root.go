package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lance13c/portalpilot/internal/config"
	"github.com/lance13c/portalpilot/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile     string
	appConfig   *config.Config
	projectRoot string
	configErr   error
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "portalpilot",
	Short: "PortalPilot - customs declaration submission engine",
	Long: `PortalPilot pushes customs declarations into external web portals by
driving a headless browser through a configured workflow: login, navigate,
fill every mapped field, save and read back the portal's reference.

Every attempt is recorded with screenshots, handled errors and recovery
decisions so a failed submission can be inspected afterwards.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it with ctx
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .portalpilot/config.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "V", false, "verbose output")
	rootCmd.PersistentFlags().StringP("project", "p", ".", "project directory")
}

// initConfig sets up logging and reads the config file and environment
func initConfig() {
	startTime := time.Now()
	verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
	projectDir, _ := rootCmd.PersistentFlags().GetString("project")

	if err := logging.Initialize(projectDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to initialize logging: %v\n", err)
	} else {
		logging.RedirectStandardLog()
	}
	if verbose {
		logging.GetLogger().SetLevel(logging.DEBUG)
	}

	appConfig, projectRoot, configErr = config.NewLoader(projectDir).WithPath(cfgFile).Load()
	if configErr != nil {
		logging.Warn("Failed to load config: %v", configErr)
		return
	}
	logging.Debug("Config loaded from %s in %v", projectRoot, time.Since(startTime))
}

// loadedConfig returns the configuration or the reason it could not be read
func loadedConfig() (*config.Config, error) {
	if configErr != nil {
		return nil, configErr
	}
	if appConfig == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return appConfig, nil
}
