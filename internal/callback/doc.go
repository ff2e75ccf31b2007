// Package callback holds the catalog of named frame callbacks.
//
// Worker configurations refer to callbacks by name rather than by function
// value so that a configuration can cross a process boundary: a process
// isolated worker re-executes the same binary, which owns the same catalog.
// Custom callbacks must therefore be registered at init time, before a child
// process resolves them.
//
//	catalog := callback.Default()
//	catalog.RegisterImage("count", func(env callback.Env) (dispatch.Func, error) {
//	    return func(frame source.Frame) error { ... }, nil
//	})
package callback
