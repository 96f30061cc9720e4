package config

import "fmt"

// KeyInfo is one row of `config show`.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll lists every non-secret key with its effective value.
func ShowAll(cfg Config) []KeyInfo {
	out := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		if !s.secret {
			out = append(out, KeyInfo{Key: s.key, EnvVar: s.env, Value: s.display(cfg)})
		}
	}
	return out
}

// SetKey stores key in the config file after checking that the value
// would pass Validate.
func SetKey(key, value string) error {
	return setKeyWith(newPlatformBackend(), key, value)
}

func setKeyWith(b ConfigBackend, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return fmt.Errorf("%s is secret; set it with the %s environment variable", key, s.env)
	}

	probe := defaults()
	if err := s.setText(&probe, value); err != nil {
		return err
	}
	if err := probe.Validate(); err != nil {
		return err
	}

	var stored any = value
	if p, isInt := s.field(&probe).(*int); isInt {
		stored = *p
	}
	return b.Set(key, stored)
}

// UnsetKey drops key from the config file.
func UnsetKey(key string) error {
	return unsetKeyWith(newPlatformBackend(), key)
}

func unsetKeyWith(b ConfigBackend, key string) error {
	if s, ok := lookupSpec(key); !ok || s.secret {
		return fmt.Errorf("unknown config key: %q", key)
	}
	return b.Delete(key)
}

// ValidKeys lists the keys accepted by SetKey.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}

// FilePath returns where SetKey writes.
func FilePath() string {
	return configFilePath()
}
