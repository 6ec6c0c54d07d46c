// Package manifest decodes Kubernetes-style YAML and JSON manifests into unstructured
// objects.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
)

const (
	// StdinPath reads manifests from standard input.
	StdinPath = "-"

	decoderBufferSize = 4096
)

// stdin is swapped in tests.
var stdin io.Reader = os.Stdin

// Decode reads every document of a multi-document YAML or JSON stream.
// Empty documents are skipped and List kinds are expanded into their items.
// Every object must carry a kind and a name.
func Decode(r io.Reader) ([]*unstructured.Unstructured, error) {
	decoder := utilyaml.NewYAMLOrJSONDecoder(r, decoderBufferSize)

	var objects []*unstructured.Unstructured
	for doc := 1; ; doc++ {
		var raw runtime.RawExtension
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return objects, nil
			}
			return nil, fmt.Errorf("document %d: %w", doc, err)
		}

		data := bytes.TrimSpace(raw.Raw)
		if len(data) == 0 || bytes.Equal(data, []byte("null")) {
			continue
		}

		decoded, err := decodeObject(data)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", doc, err)
		}
		objects = append(objects, decoded...)
	}
}

func decodeObject(data []byte) ([]*unstructured.Unstructured, error) {
	obj, _, err := unstructured.UnstructuredJSONScheme.Decode(data, nil, nil)
	if err != nil {
		return nil, err
	}

	var objects []*unstructured.Unstructured
	switch o := obj.(type) {
	case *unstructured.UnstructuredList:
		for i := range o.Items {
			objects = append(objects, &o.Items[i])
		}
	case *unstructured.Unstructured:
		objects = append(objects, o)
	default:
		return nil, fmt.Errorf("unexpected object type %T", obj)
	}

	for _, o := range objects {
		if err := validate(o); err != nil {
			return nil, err
		}
	}
	return objects, nil
}

func validate(obj *unstructured.Unstructured) error {
	if obj.GetKind() == "" {
		return errors.New("object has no kind")
	}
	if obj.GetAPIVersion() == "" {
		return fmt.Errorf("%s has no apiVersion", obj.GetKind())
	}
	if obj.GetName() == "" {
		if obj.GetGenerateName() != "" {
			return fmt.Errorf("%s with generateName %q is not supported, set metadata.name", obj.GetKind(), obj.GetGenerateName())
		}
		return fmt.Errorf("%s has no metadata.name", obj.GetKind())
	}
	return nil
}

// ReadFile decodes the manifests in a single file, or standard input for "-".
func ReadFile(path string) ([]*unstructured.Unstructured, error) {
	if path == StdinPath {
		objects, err := Decode(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to decode manifests from stdin: %w", err)
		}
		return objects, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest %s: %w", path, err)
	}
	defer f.Close()

	objects, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", path, err)
	}
	return objects, nil
}

// ReadFiles decodes manifests from files, directories and standard input, in the
// order given. Directories contribute their .yaml, .yml and .json files sorted by
// name; subdirectories are not descended into.
func ReadFiles(paths []string) ([]*unstructured.Unstructured, error) {
	files, err := Expand(paths)
	if err != nil {
		return nil, err
	}

	var objects []*unstructured.Unstructured
	for _, file := range files {
		decoded, err := ReadFile(file)
		if err != nil {
			return nil, err
		}
		objects = append(objects, decoded...)
	}
	return objects, nil
}

// Expand resolves directories in paths to the manifest files they contain.
func Expand(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		if path == StdinPath {
			files = append(files, path)
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", path, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !IsManifestFile(entry.Name()) {
				continue
			}
			files = append(files, filepath.Join(path, entry.Name()))
		}
	}
	return files, nil
}

// IsManifestFile reports whether filename has a manifest extension.
func IsManifestFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
