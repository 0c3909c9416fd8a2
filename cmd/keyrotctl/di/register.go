package di

import "github.com/samber/do/v2"

// RegisterSingletons registers keyrotctl's service providers in
// dependency order: Config has none, Logger depends on nothing either,
// and Pool depends on both.
func RegisterSingletons(i do.Injector) {
	do.Provide(i, NewConfig)
	do.Provide(i, NewLogger)
	do.Provide(i, NewPoolService)
}
