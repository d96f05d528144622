// Package fakes provides test doubles for keysync's external collaborators.
//
// These fakes stand in for the OS secret store, the HTTP transport and the
// provider contract so packages can be tested without a keychain, a network
// or a browser. Fakes are manually implemented (not generated) to provide
// precise control over test behavior.
//
// Usage:
//
//	store := fakes.NewFakeSecretStore()
//	storage := tokens.NewStorage(store, logging.Discard())
//	// exercise code, then inspect store.Has(service, account)
package fakes
