// Package driven defines the driven ports (outbound dependencies) of the
// application layer: the two platform clients, the credential vault, and the
// resource ledger stores.
package driven

import "errors"

// ErrNoCredential is returned by the vault when no credential has ever been
// stored for the requested (user, platform) pair.
var ErrNoCredential = errors.New("no credential stored for user/platform")

// ErrNoUsableCredential is returned by the vault when credentials exist but
// none of them decrypts successfully. Distinct from ErrNoCredential so
// callers can tell "never configured" from "all stored secrets are unusable".
var ErrNoUsableCredential = errors.New("stored credentials exist but none is usable")

// ErrSessionNotFound is returned by the session store for an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// ErrResourceNotFound is returned by the resource store for an unknown resource id.
var ErrResourceNotFound = errors.New("resource not found")
