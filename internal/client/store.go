package client

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/giantswarm/upsert/internal/config"
	"github.com/giantswarm/upsert/pkg/logging"
)

// ObjectStore is the subset of a controller-runtime client used to apply resources.
// sigs.k8s.io/controller-runtime/pkg/client.Client satisfies it.
type ObjectStore interface {
	Get(ctx context.Context, key client.ObjectKey, obj client.Object, opts ...client.GetOption) error
	Create(ctx context.Context, obj client.Object, opts ...client.CreateOption) error
	Update(ctx context.Context, obj client.Object, opts ...client.UpdateOption) error
	Delete(ctx context.Context, obj client.Object, opts ...client.DeleteOption) error
}

// NewScheme returns a scheme with the built-in Kubernetes types registered.
// Objects of other kinds are handled as unstructured.
func NewScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	return scheme
}

// NewKubernetesStore creates a controller-runtime client for restConfig.
func NewKubernetesStore(restConfig *rest.Config) (client.Client, error) {
	k8sClient, err := client.New(restConfig, client.Options{
		Scheme: NewScheme(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}
	return k8sClient, nil
}

// NewStore creates the store selected by cfg.Mode.
//
// In auto mode a Kubernetes store is used when a cluster configuration can be found,
// and the filesystem store otherwise.
func NewStore(cfg config.Config) (ObjectStore, error) {
	switch cfg.Mode {
	case config.ModeFilesystem:
		return NewFilesystemStore(cfg.FilesystemPath), nil

	case config.ModeKubernetes:
		restConfig, err := detectKubernetesConfig(cfg)
		if err != nil {
			return nil, err
		}
		return NewKubernetesStore(restConfig)

	case config.ModeAuto, "":
		restConfig, err := detectKubernetesConfig(cfg)
		if err == nil {
			store, err := NewKubernetesStore(restConfig)
			if err == nil {
				logging.Debug("ResourceClient", "Using Kubernetes store at %s", restConfig.Host)
				return store, nil
			}
			logging.Debug("ResourceClient", "Failed to create Kubernetes client: %v, falling back to filesystem mode", err)
		} else {
			logging.Debug("ResourceClient", "No Kubernetes configuration found: %v, falling back to filesystem mode", err)
		}
		return NewFilesystemStore(cfg.FilesystemPath), nil

	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

// detectKubernetesConfig loads the explicit kubeconfig when one is configured and
// uses controller-runtime's standard detection otherwise.
func detectKubernetesConfig(cfg config.Config) (*rest.Config, error) {
	if cfg.Kubeconfig != "" {
		restConfig, err := clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load kubeconfig %s: %w", cfg.Kubeconfig, err)
		}
		return restConfig, nil
	}

	restConfig, err := ctrl.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get Kubernetes config: %w", err)
	}
	return restConfig, nil
}
