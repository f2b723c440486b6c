package config

const (
	defaultConfigPath            = "~/.config/sightline/config.toml"
	defaultDataDir               = "~/.local/share/sightline"
	defaultLogDir                = "~/.local/share/sightline/logs"
	defaultAPIBind               = "127.0.0.1:7591"
	defaultBackendURL            = "http://127.0.0.1:8080"
	defaultRequestTimeoutSeconds = 30
	defaultHealthPath            = "/api/health"
	defaultCapturePath           = "/api/captures"
	defaultAnalysisPath          = "/api/analysis"
	defaultCredentialsFile       = "~/.config/sightline/credentials.json"
	defaultRefreshPath           = "/api/auth/refresh"
	defaultDwellSeconds          = 5
	defaultHistoryLimit          = 100
	defaultMaxConcurrent         = 2
	defaultPollIntervalMS        = 5000
	defaultMaxRetries            = 3
	defaultRetentionMinutes      = 60
	defaultMaxBatchSize          = 100
	defaultProbeIntervalSeconds  = 30
	defaultStatusThrottleMS      = 1000
	defaultNtfyTimeoutSeconds    = 10
	defaultLogFormat             = "auto"
	defaultLogLevel              = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Backend: Backend{
			BaseURL:               defaultBackendURL,
			RequestTimeoutSeconds: defaultRequestTimeoutSeconds,
			HealthPath:            defaultHealthPath,
			CapturePath:           defaultCapturePath,
			AnalysisPath:          defaultAnalysisPath,
		},
		Auth: Auth{
			CredentialsFile: defaultCredentialsFile,
			RefreshPath:     defaultRefreshPath,
		},
		Capture: Capture{
			AutoCapture:         false,
			DwellSeconds:        defaultDwellSeconds,
			AnalyzeAfterCapture: true,
			HistoryLimit:        defaultHistoryLimit,
		},
		Scheduler: Scheduler{
			MaxConcurrent:    defaultMaxConcurrent,
			PollIntervalMS:   defaultPollIntervalMS,
			MaxRetries:       defaultMaxRetries,
			RetentionMinutes: defaultRetentionMinutes,
			MaxBatchSize:     defaultMaxBatchSize,
		},
		Connectivity: Connectivity{
			ProbeIntervalSeconds: defaultProbeIntervalSeconds,
			NetlinkEnabled:       true,
		},
		Status: Status{
			ThrottleMS: defaultStatusThrottleMS,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
