package migration

import "fmt"

// ConnectionError means the schema version could not be read from the database.
type ConnectionError struct {
	App string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("read schema version of %s: %v", e.App, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ConfigurationError means the project is not set up for migrations:
// missing directory, missing DATABASE_URL and similar.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
