package config

// ConfigBackend is where `config set` values live. Keys are dotted
// "section.name" strings; values are whatever the backend decoded.
type ConfigBackend interface {
	Lookup(key string) (val any, ok bool)
	Set(key string, val any) error
	Delete(key string) error
}
