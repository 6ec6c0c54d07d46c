package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/api/validation/path"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/validation"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/apiutil"
	"sigs.k8s.io/yaml"

	"github.com/giantswarm/upsert/pkg/logging"
)

const (
	// clusterScopeDir holds objects without a namespace.
	clusterScopeDir = "_cluster"

	optimisticLockErrorMsg = "the object has been modified; please apply your changes to the latest version and try again"
)

// FilesystemStore implements ObjectStore on top of YAML files.
//
// It enforces the same optimistic concurrency rules as the Kubernetes API server:
// resourceVersions are increasing integers assigned by the store, a create of an existing
// object fails with AlreadyExists, and an update carrying a stale resourceVersion fails
// with Conflict. An update without a resourceVersion is unconditional.
//
// Files are organized by namespace and kind:
//   - {basePath}/{namespace}/{kind.group}/{name}.yaml
//   - {basePath}/_cluster/{kind.group}/{name}.yaml for cluster-scoped objects
type FilesystemStore struct {
	basePath string
	scheme   *runtime.Scheme
	mapper   meta.RESTMapper

	// mu serializes read-check-write sequences so version checks are atomic
	// within the process.
	mu sync.Mutex

	now func() time.Time
}

var _ ObjectStore = &FilesystemStore{}

// NewFilesystemStore creates a store rooted at basePath. An empty basePath uses the
// current directory.
func NewFilesystemStore(basePath string) *FilesystemStore {
	if basePath == "" {
		basePath = "."
	}
	scheme := NewScheme()
	return &FilesystemStore{
		basePath: basePath,
		scheme:   scheme,
		mapper:   newStaticRESTMapper(scheme),
		now:      time.Now,
	}
}

// Scheme returns the scheme used to resolve the kind of typed objects.
func (f *FilesystemStore) Scheme() *runtime.Scheme {
	return f.scheme
}

// IsObjectNamespaced reports whether obj is namespace-scoped. Kinds outside the built-in
// scheme return an error because their scope is unknown without discovery.
func (f *FilesystemStore) IsObjectNamespaced(obj runtime.Object) (bool, error) {
	return apiutil.IsObjectNamespaced(obj, f.scheme, f.mapper)
}

// Get reads the stored object identified by key into obj.
func (f *FilesystemStore) Get(ctx context.Context, key client.ObjectKey, obj client.Object, opts ...client.GetOption) error {
	gvk, err := f.gvkFor(obj)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	stored, err := f.read(gvk, key)
	if err != nil {
		return err
	}
	return fromUnstructured(stored, obj)
}

// Create stores obj and fills in the metadata assigned by the store.
func (f *FilesystemStore) Create(ctx context.Context, obj client.Object, opts ...client.CreateOption) error {
	gvk, err := f.gvkFor(obj)
	if err != nil {
		return err
	}
	if obj.GetName() == "" {
		return apierrors.NewBadRequest("name is required")
	}
	if obj.GetResourceVersion() != "" {
		return apierrors.NewBadRequest("resourceVersion should not be set on objects to be created")
	}

	createOpts := (&client.CreateOptions{}).ApplyOptions(opts)

	f.mu.Lock()
	defer f.mu.Unlock()

	key := client.ObjectKeyFromObject(obj)
	filePath, err := f.objectPath(gvk, key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filePath); err == nil {
		return apierrors.NewAlreadyExists(groupResource(gvk), key.Name)
	}

	if isDryRun(createOpts.DryRun) {
		return nil
	}

	obj.SetUID(types.UID(uuid.NewString()))
	obj.SetCreationTimestamp(metav1.NewTime(f.now()))
	obj.SetResourceVersion("1")
	obj.SetGeneration(1)

	if err := f.write(gvk, key, obj); err != nil {
		return err
	}
	logging.Debug("FilesystemStore", "Created %s %s", gvk.Kind, key)
	return nil
}

// Update replaces the stored object. A non-empty resourceVersion on obj must match the
// stored one.
func (f *FilesystemStore) Update(ctx context.Context, obj client.Object, opts ...client.UpdateOption) error {
	gvk, err := f.gvkFor(obj)
	if err != nil {
		return err
	}

	updateOpts := (&client.UpdateOptions{}).ApplyOptions(opts)

	f.mu.Lock()
	defer f.mu.Unlock()

	key := client.ObjectKeyFromObject(obj)
	existing, err := f.read(gvk, key)
	if err != nil {
		return err
	}

	current := existing.GetResourceVersion()
	if rv := obj.GetResourceVersion(); rv != "" && rv != current {
		return apierrors.NewConflict(groupResource(gvk), key.Name, errors.New(optimisticLockErrorMsg))
	}

	next, err := nextResourceVersion(current)
	if err != nil {
		return fmt.Errorf("failed to update %s %s: %w", gvk.Kind, key, err)
	}

	if isDryRun(updateOpts.DryRun) {
		return nil
	}

	obj.SetUID(existing.GetUID())
	obj.SetCreationTimestamp(existing.GetCreationTimestamp())
	obj.SetGeneration(existing.GetGeneration() + 1)
	obj.SetResourceVersion(next)

	if err := f.write(gvk, key, obj); err != nil {
		return err
	}
	logging.Debug("FilesystemStore", "Updated %s %s to resourceVersion %s", gvk.Kind, key, next)
	return nil
}

// Delete removes the stored object, honouring UID and resourceVersion preconditions.
func (f *FilesystemStore) Delete(ctx context.Context, obj client.Object, opts ...client.DeleteOption) error {
	gvk, err := f.gvkFor(obj)
	if err != nil {
		return err
	}

	deleteOpts := (&client.DeleteOptions{}).ApplyOptions(opts)

	f.mu.Lock()
	defer f.mu.Unlock()

	key := client.ObjectKeyFromObject(obj)
	existing, err := f.read(gvk, key)
	if err != nil {
		return err
	}

	if pre := deleteOpts.Preconditions; pre != nil {
		if pre.UID != nil && *pre.UID != existing.GetUID() {
			return apierrors.NewConflict(groupResource(gvk), key.Name,
				fmt.Errorf("precondition failed: UID in precondition: %v, UID in object meta: %v", *pre.UID, existing.GetUID()))
		}
		if pre.ResourceVersion != nil && *pre.ResourceVersion != existing.GetResourceVersion() {
			return apierrors.NewConflict(groupResource(gvk), key.Name, errors.New(optimisticLockErrorMsg))
		}
	}

	if isDryRun(deleteOpts.DryRun) {
		return nil
	}

	filePath, err := f.objectPath(gvk, key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil {
		return fmt.Errorf("failed to delete file %s: %w", filePath, err)
	}
	logging.Debug("FilesystemStore", "Deleted %s %s", gvk.Kind, key)
	return nil
}

func (f *FilesystemStore) gvkFor(obj runtime.Object) (schema.GroupVersionKind, error) {
	gvk, err := apiutil.GVKForObject(obj, f.scheme)
	if err != nil {
		return schema.GroupVersionKind{}, apierrors.NewBadRequest(fmt.Sprintf("cannot determine kind of %T: %v", obj, err))
	}
	return gvk, nil
}

// objectPath returns the file holding key. Names and namespaces are validated the way
// the API server validates them, so the result always lies below basePath.
func (f *FilesystemStore) objectPath(gvk schema.GroupVersionKind, key client.ObjectKey) (string, error) {
	if err := validateObjectKey(key); err != nil {
		return "", apierrors.NewBadRequest(fmt.Sprintf("invalid %s %s: %v", gvk.Kind, key, err))
	}

	namespaceDir := key.Namespace
	if namespaceDir == "" {
		namespaceDir = clusterScopeDir
	}
	filePath := filepath.Join(f.basePath, namespaceDir, strings.ToLower(gvk.GroupKind().String()), key.Name+".yaml")

	rel, err := filepath.Rel(f.basePath, filePath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", apierrors.NewBadRequest(fmt.Sprintf("invalid %s %s: path escapes the store root", gvk.Kind, key))
	}
	return filePath, nil
}

func validateObjectKey(key client.ObjectKey) error {
	if key.Name == "" {
		return errors.New("name is required")
	}
	if msgs := path.IsValidPathSegmentName(key.Name); len(msgs) > 0 {
		return fmt.Errorf("name %q: %s", key.Name, strings.Join(msgs, ", "))
	}
	if msgs := validation.IsDNS1123Subdomain(key.Name); len(msgs) > 0 && !isClusterRoleStyleName(key.Name) {
		return fmt.Errorf("name %q: %s", key.Name, strings.Join(msgs, ", "))
	}
	if key.Namespace != "" {
		if msgs := validation.IsDNS1123Label(key.Namespace); len(msgs) > 0 {
			return fmt.Errorf("namespace %q: %s", key.Namespace, strings.Join(msgs, ", "))
		}
	}
	return nil
}

// isClusterRoleStyleName accepts the colon separated names RBAC objects use, such as
// system:controller:namespace-controller.
func isClusterRoleStyleName(name string) bool {
	for _, part := range strings.Split(name, ":") {
		if len(validation.IsDNS1123Subdomain(part)) > 0 {
			return false
		}
	}
	return true
}

func (f *FilesystemStore) read(gvk schema.GroupVersionKind, key client.ObjectKey) (*unstructured.Unstructured, error) {
	filePath, err := f.objectPath(gvk, key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierrors.NewNotFound(groupResource(gvk), key.Name)
		}
		return nil, fmt.Errorf("failed to read file %s: %w", filePath, err)
	}

	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filePath, err)
	}

	stored := &unstructured.Unstructured{}
	if err := stored.UnmarshalJSON(jsonData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s from %s: %w", gvk.Kind, filePath, err)
	}
	return stored, nil
}

// write stores obj atomically by renaming a temporary file over the target.
func (f *FilesystemStore) write(gvk schema.GroupVersionKind, key client.ObjectKey, obj client.Object) error {
	content, err := toUnstructured(obj)
	if err != nil {
		return fmt.Errorf("failed to convert %s %s: %w", gvk.Kind, key, err)
	}
	content.SetGroupVersionKind(gvk)

	data, err := yaml.Marshal(content.Object)
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", gvk.Kind, key, err)
	}

	filePath, err := f.objectPath(gvk, key)
	if err != nil {
		return err
	}
	dirPath := filepath.Dir(filePath)
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dirPath, err)
	}

	tmp, err := os.CreateTemp(dirPath, "."+key.Name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in %s: %w", dirPath, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		return fmt.Errorf("failed to write file %s: %w", filePath, err)
	}
	return nil
}

func toUnstructured(obj runtime.Object) (*unstructured.Unstructured, error) {
	if u, ok := obj.(*unstructured.Unstructured); ok {
		return u.DeepCopy(), nil
	}
	content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
	if err != nil {
		return nil, err
	}
	return &unstructured.Unstructured{Object: content}, nil
}

func fromUnstructured(u *unstructured.Unstructured, obj runtime.Object) error {
	if target, ok := obj.(*unstructured.Unstructured); ok {
		u.DeepCopyInto(target)
		return nil
	}
	return runtime.DefaultUnstructuredConverter.FromUnstructured(u.Object, obj)
}

func groupResource(gvk schema.GroupVersionKind) schema.GroupResource {
	plural, _ := meta.UnsafeGuessKindToResource(gvk)
	return plural.GroupResource()
}

func nextResourceVersion(current string) (string, error) {
	if current == "" {
		return "1", nil
	}
	n, err := strconv.ParseUint(current, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid stored resourceVersion %q: %w", current, err)
	}
	return strconv.FormatUint(n+1, 10), nil
}

func isDryRun(dryRun []string) bool {
	for _, d := range dryRun {
		if d == metav1.DryRunAll {
			return true
		}
	}
	return false
}

// clusterScopedKinds lists the built-in kinds that live outside namespaces.
var clusterScopedKinds = sets.New(
	schema.GroupKind{Kind: "Namespace"},
	schema.GroupKind{Kind: "Node"},
	schema.GroupKind{Kind: "PersistentVolume"},
	schema.GroupKind{Kind: "ComponentStatus"},
	schema.GroupKind{Group: "rbac.authorization.k8s.io", Kind: "ClusterRole"},
	schema.GroupKind{Group: "rbac.authorization.k8s.io", Kind: "ClusterRoleBinding"},
	schema.GroupKind{Group: "storage.k8s.io", Kind: "StorageClass"},
	schema.GroupKind{Group: "storage.k8s.io", Kind: "CSIDriver"},
	schema.GroupKind{Group: "storage.k8s.io", Kind: "CSINode"},
	schema.GroupKind{Group: "storage.k8s.io", Kind: "VolumeAttachment"},
	schema.GroupKind{Group: "scheduling.k8s.io", Kind: "PriorityClass"},
	schema.GroupKind{Group: "node.k8s.io", Kind: "RuntimeClass"},
	schema.GroupKind{Group: "networking.k8s.io", Kind: "IngressClass"},
	schema.GroupKind{Group: "networking.k8s.io", Kind: "IPAddress"},
	schema.GroupKind{Group: "networking.k8s.io", Kind: "ServiceCIDR"},
	schema.GroupKind{Group: "admissionregistration.k8s.io", Kind: "MutatingWebhookConfiguration"},
	schema.GroupKind{Group: "admissionregistration.k8s.io", Kind: "ValidatingWebhookConfiguration"},
	schema.GroupKind{Group: "admissionregistration.k8s.io", Kind: "ValidatingAdmissionPolicy"},
	schema.GroupKind{Group: "admissionregistration.k8s.io", Kind: "ValidatingAdmissionPolicyBinding"},
	schema.GroupKind{Group: "certificates.k8s.io", Kind: "CertificateSigningRequest"},
	schema.GroupKind{Group: "flowcontrol.apiserver.k8s.io", Kind: "FlowSchema"},
	schema.GroupKind{Group: "flowcontrol.apiserver.k8s.io", Kind: "PriorityLevelConfiguration"},
	schema.GroupKind{Group: "resource.k8s.io", Kind: "DeviceClass"},
)

// newStaticRESTMapper maps every kind registered in scheme, without discovery.
func newStaticRESTMapper(scheme *runtime.Scheme) meta.RESTMapper {
	mapper := meta.NewDefaultRESTMapper(scheme.PrioritizedVersionsAllGroups())
	for gvk := range scheme.AllKnownTypes() {
		scope := meta.RESTScopeNamespace
		if clusterScopedKinds.Has(gvk.GroupKind()) {
			scope = meta.RESTScopeRoot
		}
		mapper.Add(gvk, scope)
	}
	return mapper
}
