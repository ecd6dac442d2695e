package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to the proxy,
// the server emulator and the capture tools.
type Config struct {
	// Hostname or IP address on which the servers will listen for connections.
	Hostname string `mapstructure:"hostname"`
	// Maximum number of concurrent client connections. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections"`

	Logging struct {
		// Full path to file to which logs will be written. Blank will write to stdout.
		LogFilePath string `mapstructure:"log_file_path"`
		// Minimum level of a log required to be written. Options: debug, info, warn, error
		LogLevel string `mapstructure:"log_level"`
		// Include the file and line of the caller in every entry.
		IncludeCaller bool `mapstructure:"include_caller"`
	} `mapstructure:"logging"`

	Protocol struct {
		// YAML file with the message and struct definitions.
		SchemaFile string `mapstructure:"schema_file"`
		// Largest array length accepted from the wire.
		MaxArrayLength int `mapstructure:"max_array_length"`
		// Largest PDU payload accepted from the wire.
		MaxPduLength int `mapstructure:"max_pdu_length"`
		// Keep anonymous fields in decoded messages as field<N>.
		CaptureAllFields bool `mapstructure:"capture_all_fields"`
	} `mapstructure:"protocol"`

	Proxy struct {
		// Port the game client connects to.
		Port int `mapstructure:"port"`
		// host:port of the real game server.
		UpstreamAddress string `mapstructure:"upstream_address"`
		// Directory captured messages are written to. Blank disables capture.
		SaveDir string `mapstructure:"save_dir"`
		// Save every decodable message rather than only village snapshots.
		SaveAll bool `mapstructure:"save_all"`
		// Also record captured messages in the database.
		SaveToDatabase bool `mapstructure:"save_to_database"`
		// Numeric fields rewritten in relayed messages, by message type.
		Overrides map[string]map[string]int64 `mapstructure:"overrides"`
	} `mapstructure:"proxy"`

	Server struct {
		// Port the game client connects to.
		Port int `mapstructure:"port"`
		// Captured OwnHomeData .pdu file used as the player's village.
		HomeFile string `mapstructure:"home_file"`
		// Directory of captured enemy villages.
		VillagesDir string `mapstructure:"villages_dir"`
		// Serve war villages when attacking.
		War bool `mapstructure:"war"`
		// Consecutive I/O errors tolerated before a session is dropped.
		MaxIOErrors int `mapstructure:"max_io_errors"`
		// Source of enemy villages. Options: files, database
		VillageSource string `mapstructure:"village_source"`
		// How long a cancelled session may keep reading before its connection
		// is closed. Zero closes it immediately.
		ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
	} `mapstructure:"server"`

	Database struct {
		// Options: sqlite, postgres
		Engine string `mapstructure:"engine"`
		// Database file used by the sqlite engine.
		Filename string `mapstructure:"filename"`
		// Hostname of the Postgres database instance.
		Host string `mapstructure:"host"`
		// Port on db_host on which the Postgres instance is accepting connections.
		Port int `mapstructure:"port"`
		// Name of the database in Postgres.
		Name string `mapstructure:"name"`
		// Username and password of a user with full RW privileges to ${db_name}.
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		// Set to verify-full if the Postgres instance supports SSL.
		SSLMode string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	Debugging struct {
		// Enable extra info-providing mechanisms for the server.
		Enabled bool `mapstructure:"enabled"`
		// Port on which the pprof and metrics endpoints are served when debugging is enabled.
		PprofPort int `mapstructure:"pprof_port"`
		// Log every PDU passing through the proxy or server.
		PacketLoggingEnabled bool `mapstructure:"packet_logging_enabled"`
		// Enable database-level query logging.
		DatabaseLoggingEnabled bool `mapstructure:"database_logging_enabled"`
	} `mapstructure:"debugging"`
}

const envVarPrefix = "BARCHOMAT"

var defaults = map[string]interface{}{
	"hostname":                           "0.0.0.0",
	"max_connections":                    10,
	"logging.log_level":                  "info",
	"protocol.schema_file":               "setup/protocol.yaml",
	"protocol.max_array_length":          10000,
	"protocol.max_pdu_length":            1<<24 - 1,
	"protocol.capture_all_fields":        true,
	"proxy.port":                         9339,
	"proxy.save_dir":                     "captures",
	"proxy.save_to_database":             false,
	"server.port":                        9339,
	"server.villages_dir":                "captures",
	"server.max_io_errors":               100,
	"server.village_source":              "files",
	"server.shutdown_grace":              5 * time.Second,
	"database.engine":                    "sqlite",
	"database.filename":                  "barchomat.db",
	"database.port":                      5432,
	"database.sslmode":                   "disable",
	"debugging.pprof_port":               4000,
	"debugging.packet_logging_enabled":   false,
	"debugging.database_logging_enabled": false,
}

// LoadConfig reads config.yaml from configPath. A missing file is not an
// error; the defaults and any BARCHOMAT_ environment variables apply.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(configPath)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envVarPrefix)
	v.AutomaticEnv()

	for k, value := range defaults {
		v.SetDefault(k, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, database.host can be set using: <envVarPrefix>_DATABASE_HOST
	for _, k := range v.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			return nil, fmt.Errorf("error binding %s to %s: %w", k, envVarPrefix+"_"+envVar, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config object: %w", err)
	}
	return config, nil
}

const databaseURITemplate = "host=%s port=%d dbname=%s user=%s password=%s sslmode=%s"

// DatabaseURL returns a Postgres connection string generated from the provided config values.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		databaseURITemplate,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Username,
		c.Database.Password,
		c.Database.SSLMode,
	)
}

// ListenAddress returns host:port for the given port on the configured hostname.
func (c *Config) ListenAddress(port int) string {
	return fmt.Sprintf("%s:%d", c.Hostname, port)
}
