// Package callback defines the override points a Context exposes to callers.
//
// Each overridable operation is one variant of a closed set of function
// types. A Registry holds at most one function per Kind. Once a Session is
// spawned from a Context it snapshots the registry, so a registered function
// is used for every call of that kind with no fallback to built-in behavior.
//
// Callbacks receive the Session as a Handle and the per-session value stored
// for their kind in a Contexts set. Failures must be reported as status.Code
// values; a plain error is mapped onto the code of the failing operation.
//
// # Pairing
//
// IOSend and IORecv replace the bound transport and must be registered
// together. MacEncrypt and DecryptVerify replace record protection and must
// also be registered together. Validate reports a partial pair as
// status.CodeCallbackPair.
package callback
