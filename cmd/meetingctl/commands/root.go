package commands

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	config = NewDefaultCLIConfig()
	logger zerolog.Logger
)

func init() {
	flags := RootCmd.PersistentFlags()
	flags.String("server", config.Server, "signaling server base URL")
	flags.String("username", config.Username, "username to log in with")
	flags.String("password", config.Password, "password to log in with")
	flags.String("token", config.Token, "session token from a previous login")
	flags.StringSlice("ice-server", config.ICEServers, "STUN/TURN server URLs")
	flags.String("log", config.LogLevel, "debug, info, warn, error")

	RootCmd.AddCommand(LoginCmd, JoinCmd)
}

// RootCmd is the root command for meetingctl
var RootCmd = &cobra.Command{
	Use:               "meetingctl",
	Short:             "Headless meeting client",
	PersistentPreRunE: loadConfig,
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

func loadConfig(cmd *cobra.Command, args []string) error {
	viper.SetEnvPrefix("meetingctl")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	conf, err := parseConfig()
	if err != nil {
		return err
	}
	config = conf

	lvl, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		return err
	}
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger().
		Level(lvl)

	logger.Debug().
		Str("server", config.Server).
		Str("username", config.Username).
		Strs("iceServers", config.ICEServers).
		Msg("config loaded")
	return nil
}

// parseConfig reads the configuration from flags and MEETINGCTL_* environment
func parseConfig() (*CLIConfig, error) {
	conf := NewDefaultCLIConfig()
	if err := viper.Unmarshal(conf); err != nil {
		return nil, err
	}
	return conf, nil
}
