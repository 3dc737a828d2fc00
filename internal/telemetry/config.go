package telemetry

type Config struct {
	Enabled   bool
	Namespace string
}

func DefaultConfig() Config {
	return Config{
		Enabled:   false,
		Namespace: "healthsynth",
	}
}
