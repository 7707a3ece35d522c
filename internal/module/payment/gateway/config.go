package gateway

import "fmt"

// Config is what a gateway constructor receives from the factory.
type Config struct {
	// Production selects live endpoints; sandbox otherwise.
	Production bool
	// Credentials holds provider secrets keyed by the names each
	// constructor documents.
	Credentials map[string]string
	// HTTPClient is used for every outbound provider call.
	HTTPClient HTTPDoer
}

// Credential returns a required credential or a configuration error
// naming the missing key.
func (c Config) Credential(name string) (string, error) {
	v, ok := c.Credentials[name]
	if !ok || v == "" {
		return "", fmt.Errorf("missing credential %q", name)
	}
	return v, nil
}
