// Package di wires keyrotctl's services together with samber/do v2: the
// loaded config file, a diagnostic Pool built from it, and a logger,
// each resolved lazily and torn down in reverse order on Shutdown.
package di

import (
	"fmt"

	"github.com/samber/do/v2"
)

// ConfigPathKey is the named value key for the config file path, since
// do.Injector keys strings by type and a container may one day hold more
// than one.
const ConfigPathKey = "keyrotctl.config.path"

// Container wraps a do.RootScope with keyrotctl's service registrations.
type Container struct {
	injector *do.RootScope
}

// NewContainer builds a Container with every service provider registered
// against configPath. Services are constructed lazily on first Invoke.
func NewContainer(configPath string) *Container {
	injector := do.New()
	do.ProvideNamedValue(injector, ConfigPathKey, configPath)
	RegisterSingletons(injector)
	return &Container{injector: injector}
}

// Invoke resolves a service, constructing it and its dependencies on
// first use.
func Invoke[T any](c *Container) (T, error) {
	return do.Invoke[T](c.injector)
}

// MustInvoke resolves a service or panics. Reserved for command startup
// paths where a resolution failure is always fatal.
func MustInvoke[T any](c *Container) T {
	return do.MustInvoke[T](c.injector)
}

// Shutdown tears down every constructed service in reverse dependency
// order, calling Shutdown on any that implement do.Shutdowner.
func (c *Container) Shutdown() error {
	report := c.injector.Shutdown()
	if report != nil && !report.Succeed {
		return fmt.Errorf("keyrotctl: shutdown failed: %s", report.Error())
	}
	return nil
}
