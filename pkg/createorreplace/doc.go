// Package createorreplace implements an idempotent create-or-replace primitive for
// resource stores that enforce optimistic concurrency through resource versions.
//
// # Overview
//
// Creating a resource is not idempotent: a second create with the same name fails with
// a conflict. Replacing a resource requires the version last observed for it. A Helper
// combines both into one call that converges on "the store holds this object":
//
//	helper := createorreplace.New[*corev1.ConfigMap](ops)
//	cm, err := helper.CreateOrReplace(ctx, desired, false)
//
// The Helper never talks to a store itself. The caller supplies five operations
// (create, replace, reload, wait and delete) through the Operations interface or the
// OperationFuncs adapter, which keeps the algorithm independent of the transport.
//
// # Algorithm
//
// Each call captures the resourceVersion carried by the item, clears it and tries to
// create the object:
//
//   - Success returns the created object.
//   - A server-side error (5xx) triggers a reload. If the object is absent the create did
//     not land, so the Helper waits and retries, up to the attempt ceiling. If the object
//     is present the create landed after all and the call continues as a conflict.
//   - A conflict (409) replaces the existing object using the version captured at the
//     start of the call, or, when deleteExisting is set, deletes it and creates it again.
//   - Any other error is returned unchanged.
//
// When the ceiling is reached on the transient branch the call fails with an error
// matching ErrRetriesExhausted.
//
// # Concurrency
//
// A Helper holds no per-call state and is safe for concurrent use across different
// resources. Calls for the same resource are not coordinated: the store's version check
// is the only protection against racing writers.
package createorreplace
