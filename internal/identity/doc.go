// Package identity reconciles verified provider claims into local identities.
//
// Given already-verified token claims it resolves exactly one local identity per
// subject (creating it on first sight), keeps the provider-owned profile fields in
// sync, projects the identity's roles into an authority set and appends an audit
// record for every authentication-relevant event.
//
// The package holds no locks and caches nothing. Correctness under concurrent,
// duplicate invocation rests on the store's unique constraint on subject: a create
// that loses the race is converted into exactly one find-then-update.
package identity
