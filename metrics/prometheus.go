package metrics

import "github.com/docker/go-metrics"

const (
	// NamespacePrefix is the namespace of prometheus metrics
	NamespacePrefix = "grain"
)

var (
	// HTTPNamespace is the prometheus namespace of http request metrics
	HTTPNamespace = metrics.NewNamespace(NamespacePrefix, "http", nil)

	// RegistryNamespace is the prometheus namespace of registry operation metrics
	RegistryNamespace = metrics.NewNamespace(NamespacePrefix, "", nil)

	// StorageNamespace is the prometheus namespace of storage maintenance operations
	StorageNamespace = metrics.NewNamespace(NamespacePrefix, "storage", nil)
)
