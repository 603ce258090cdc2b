package config

// Default returns a configuration with built-in defaults applied.
func Default() *Config {
	return &Config{
		Gateway: Gateway{
			Server: Server{
				Host:         "0.0.0.0",
				Port:         8080,
				ReadTimeout:  30,
				WriteTimeout: 30,
			},
			CircuitBreaker: CircuitBreaker{
				FailureThreshold: 5,
				OpenCooldownS:    300,
			},
			Health: Health{
				IntervalS:     30,
				ProbeTimeoutS: 5,
			},
			RequestTimeoutMs: 30000,
		},
	}
}
