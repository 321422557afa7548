package indexconfig

const (
	DefaultVersion            Version = "0.7"
	DefaultCommitTimeoutSecs          = 60
	DefaultSplitNumDocsTarget         = 10_000_000
)

// ApplyDefaults sets default values for any unset keys in cfg.
func ApplyDefaults(cfg *IndexConfig) {
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.DocMapping.Mode == "" {
		cfg.DocMapping.Mode = ModeLenient
	}
	if cfg.IndexingSettings.CommitTimeoutSecs == nil {
		cfg.IndexingSettings.CommitTimeoutSecs = Seconds(DefaultCommitTimeoutSecs)
	}
	if cfg.IndexingSettings.SplitNumDocsTarget == 0 {
		cfg.IndexingSettings.SplitNumDocsTarget = DefaultSplitNumDocsTarget
	}
	for i := range cfg.DocMapping.FieldMappings {
		f := &cfg.DocMapping.FieldMappings[i]
		switch f.Type {
		case TypeDatetime:
			if len(f.InputFormats) == 0 {
				f.InputFormats = DefaultInputFormats()
			}
			if f.OutputFormat == "" {
				f.OutputFormat = FormatRFC3339
			}
			if f.IsFast() && f.FastPrecision == "" {
				f.FastPrecision = PrecisionSeconds
			}
		case TypeText, TypeJSON:
			if f.Tokenizer == "" && f.IsIndexed() {
				f.Tokenizer = TokenizerDefault
			}
		}
	}
}
