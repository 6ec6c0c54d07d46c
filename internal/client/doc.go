// Package client applies resources to a versioned object store with create-or-replace
// semantics.
//
// # Overview
//
// ResourceClient wraps an ObjectStore and drives the createorreplace.Helper over it.
// Two stores are available:
//
//   - Kubernetes: a controller-runtime client talking to an API server
//   - Filesystem: YAML files on local disk with the same optimistic concurrency rules
//
// # Architecture
//
//	┌────────────────┐
//	│ ResourceClient │  ← create-or-replace, get, delete
//	└───────┬────────┘
//	        │ ObjectStore
//	   ┌────┴────┐
//	   │ NewStore│  ← mode selection
//	   └────┬────┘
//	  ┌─────┴─────┐
//	┌─▼───┐   ┌───▼──┐
//	│ K8s │   │ File │
//	└─────┘   └──────┘
//
// # Usage
//
//	store, err := client.NewStore(cfg)
//	if err != nil {
//	    return err
//	}
//	rc := client.NewResourceClient(store, client.OptionsFromConfig(cfg))
//	obj, outcome, err := rc.CreateOrReplace(ctx, obj, client.WithDeleteExisting(true))
//
// # Environment Detection
//
// In auto mode NewStore uses controller-runtime's config detection (in-cluster
// credentials, KUBECONFIG, ~/.kube/config) and falls back to the filesystem store when
// no cluster configuration is found.
//
// # Error Handling
//
// Both stores return apimachinery status errors, so apierrors.IsNotFound,
// apierrors.IsAlreadyExists and apierrors.IsConflict behave the same everywhere.
//
// # Thread Safety
//
// ResourceClient and both stores are safe for concurrent use.
package client
