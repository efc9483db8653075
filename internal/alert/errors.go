package alert

import "fmt"

// FetchError reports a failure reaching or decoding a response from the
// analytics store or the issue tracker.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("error fetching %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func NewFetchError(op string, err error) error {
	return &FetchError{Op: op, Err: err}
}

// ConfigError reports a missing or malformed piece of local configuration.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %v", e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func NewConfigError(key string, err error) error {
	return &ConfigError{Key: key, Err: err}
}
