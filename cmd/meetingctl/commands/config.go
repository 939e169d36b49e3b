package commands

// CLIConfig contains configuration shared by all meetingctl commands
type CLIConfig struct {
	Server     string   `mapstructure:"server"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	Token      string   `mapstructure:"token"`
	ICEServers []string `mapstructure:"ice-server"`
	LogLevel   string   `mapstructure:"log"`
}

// NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Server:     "http://localhost:8080",
		ICEServers: []string{"stun:stun.l.google.com:19302"},
		LogLevel:   "info",
	}
}
