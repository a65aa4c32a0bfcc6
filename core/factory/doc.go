// Package factory provides a small generic registry used to instantiate
// pluggable backends from configuration. A backend is selected by a type
// string and receives its raw settings, which it decodes with Decode.
//
//	reg := factory.NewRegistry[store.Store]()
//	reg.MustRegister("memory", func(map[string]any) (store.Store, error) {
//	    return store.NewMemoryStore(), nil
//	})
//	s, err := reg.Create(factory.ModuleConfig{Type: "memory"})
package factory
