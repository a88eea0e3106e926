package irp

import (
	"fmt"
	"strings"
)

type Environment int

const (
	Sandbox Environment = iota
	Production
)

func (e Environment) BaseURL() string {
	switch e {
	case Production:
		return "https://einv-api.gst.gov.in"
	case Sandbox:
		return "https://einv-apisandbox.nic.in"
	}
	panic("Invalid environment")
}

func (e Environment) Name() string {
	switch e {
	case Production:
		return "production"
	case Sandbox:
		return "sandbox"
	}
	panic("Invalid environment")
}

func (e Environment) String() string {
	return e.Name()
}

func (e *Environment) UnmarshalText(text []byte) error {
	val := strings.ToLower(strings.TrimSpace(string(text)))

	switch val {
	case "production", "prod":
		*e = Production
	case "sandbox", "test", "":
		*e = Sandbox
	default:
		return fmt.Errorf("invalid IRP_ENV: %q (allowed: sandbox, production)", val)
	}
	return nil
}

func (e Environment) MarshalText() ([]byte, error) {
	return []byte(e.Name()), nil
}
