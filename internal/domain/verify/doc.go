// Package verify gates privileged mutations behind a human-verification
// challenge.
//
// The external provider is treated as a black-box token issuer: the gate
// only validates tokens (siteverify-style form post) and enforces
// single-use consumption locally. Share requests that arrive before the
// user has solved the challenge park on AwaitToken, a cancellable wait
// keyed by connection id with a bounded (default one hour) lifetime.
package verify
