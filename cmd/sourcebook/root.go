package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/markdave123-py/Sourcebook/internal/apiclient"
	"github.com/markdave123-py/Sourcebook/internal/config"
	"github.com/markdave123-py/Sourcebook/internal/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sourcebook",
	Short: "Upload sources, crawl sites and chat with a Sourcebook workspace",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		level := "warn"
		if viper.GetBool("verbose") {
			level = "debug"
		}
		return logger.Init(level, "console", "stderr")
	},
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sourcebook.yaml)")
	rootCmd.PersistentFlags().String("api-url", "", "Sourcebook server base URL (API_BASE_URL)")
	rootCmd.PersistentFlags().String("token", "", "bearer token for the server (API_TOKEN)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log debug output to stderr")

	cobra.CheckErr(viper.BindPFlag("api_base_url", rootCmd.PersistentFlags().Lookup("api-url")))
	cobra.CheckErr(viper.BindPFlag("api_token", rootCmd.PersistentFlags().Lookup("token")))
	cobra.CheckErr(viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".sourcebook")
	}
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newClient resolves the server address from flags, then the CLI config file,
// then the server's own configuration sources.
func newClient() (*apiclient.Client, error) {
	baseURL := viper.GetString("api_base_url")
	token := viper.GetString("api_token")
	if baseURL == "" || token == "" {
		cfg, err := config.LoadConfig()
		if err != nil {
			return nil, err
		}
		if baseURL == "" {
			baseURL = cfg.APIBaseURL
		}
		if token == "" {
			token = cfg.APIToken
		}
	}
	if token == "" {
		return nil, fmt.Errorf("no API token: pass --token or set API_TOKEN")
	}
	return apiclient.New(baseURL, token, nil), nil
}
