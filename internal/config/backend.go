package config

// appName is the keychain service, the defaults domain suffix and the name
// of every per-user directory shipview owns.
const appName = "shipview"

// ConfigBackend persists the non-secret keys written by `shipview config
// set`. Secrets never pass through it; they live in the Keychain.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	GetBool(key string) (val bool, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	SetBool(key string, val bool) error
	Delete(key string) error
}
