package config

// Keychain reads and writes secrets in the platform store: macOS Keychain,
// or a 0600 JSON file under XDG_DATA_HOME elsewhere.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

type platformKeychain struct{}

func NewKeychain() Keychain { return platformKeychain{} }

func (platformKeychain) Get(service, account string) (string, error) {
	b, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (platformKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}
