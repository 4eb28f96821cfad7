package profile

import "github.com/matheus3301/glide/internal/config"

// DefaultName is used when neither a flag nor the global config names one.
const DefaultName = "main"

// Resolve picks the active profile: the flag, then default_profile from
// the global config, then DefaultName.
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(GlobalConfigPath())
	if err == nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultName
}
