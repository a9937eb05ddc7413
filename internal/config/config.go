package config

type Config struct {
	Server  ServerConfig
	Ollama  OllamaConfig
	Storage StorageConfig
	Capture CaptureConfig
	Cluster ClusterConfig
	Report  ReportConfig
	Notify  NotifyConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type StorageConfig struct {
	DataDir string
}

type CaptureConfig struct {
	// ScreenpipeDB is the path to the screenpipe SQLite database.
	// Empty means the default under the user's home directory.
	ScreenpipeDB      string
	ActivityWatchHost string
}

type ClusterConfig struct {
	GapMinutes int
	MinEvents  int
}

type ReportConfig struct {
	HourlyRateUSD float64
}

type NotifyConfig struct {
	Enabled bool
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4680,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "llama3.2",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Capture: CaptureConfig{
			ActivityWatchHost: "http://localhost:5600",
		},
		Cluster: ClusterConfig{
			GapMinutes: 5,
			MinEvents:  2,
		},
		Report: ReportConfig{
			HourlyRateUSD: 75,
		},
		Notify: NotifyConfig{
			Enabled: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend and
// environment variables.
//
// On macOS the backend is UserDefaults (domain: com.flowx.app).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/flowx/config.json.
//
// Environment variables (FLOWX_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}
