package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Pipeline.Marker1 == "" {
		cfg.Pipeline.Marker1 = "node1"
	}
	if cfg.Pipeline.Marker2 == "" {
		cfg.Pipeline.Marker2 = "node2"
	}
	if cfg.Pipeline.StopWords == "" {
		cfg.Pipeline.StopWords = "english"
	}
	if cfg.Pipeline.Lemmatizer == "" {
		cfg.Pipeline.Lemmatizer = "snowball"
	}
	if cfg.Pipeline.Dedup == "" {
		cfg.Pipeline.Dedup = "rows"
	}
	if cfg.Pipeline.Workers == 0 {
		cfg.Pipeline.Workers = 1
	}
	if cfg.Features.NGramSize == 0 {
		cfg.Features.NGramSize = 3
	}
	if cfg.Features.MinTokenLength == 0 {
		cfg.Features.MinTokenLength = 1
	}
	if cfg.Split.Ratio == 0 {
		cfg.Split.Ratio = 0.8
	}
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "./out"
	}
	if cfg.Output.Format == "" {
		cfg.Output.Format = "json"
	}
	if cfg.Input.Extensions == nil {
		cfg.Input.Extensions = []string{".xlsx", ".csv"}
	}
}
