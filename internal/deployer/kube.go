package deployer

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/yaml"
)

const (
	targetConfigMapPrefix = "pubsync-target-"
	targetDataKey         = "target.yaml"

	labelManagedBy = "app.kubernetes.io/managed-by"
	labelSite      = "pubsync.io/site"
	managerName    = "pubsync"
)

// TargetDescriptor is the target definition stored for a site.
type TargetDescriptor struct {
	Site         string `json:"site"`
	SearchEngine string `json:"searchEngine,omitempty"`
	Namespace    string `json:"namespace"`
}

// Kube stores each site's target as a ConfigMap that in-cluster deployers
// watch.
type Kube struct {
	clientset kubernetes.Interface
	namespace string
	log       zerolog.Logger
}

// NewKube creates a Kubernetes deployer.
// Priority:
// 1. kubeconfigContent (if provided)
// 2. kubeconfigPath (if provided)
// 3. In-cluster configuration
func NewKube(kubeconfigPath string, kubeconfigContent []byte, namespace string, logger zerolog.Logger) (*Kube, error) {
	var config *rest.Config
	var err error

	switch {
	case len(kubeconfigContent) > 0:
		logger.Info().Msg("using kubeconfig from provided content")
		config, err = clientcmd.RESTConfigFromKubeConfig(kubeconfigContent)
	case kubeconfigPath != "":
		logger.Info().Str("path", kubeconfigPath).Msg("using kubeconfig from path")
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	default:
		logger.Info().Msg("using in-cluster Kubernetes config")
		config, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get Kubernetes config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes clientset: %w", err)
	}
	return NewKubeWithClient(clientset, namespace, logger), nil
}

// NewKubeWithClient wraps an existing clientset.
func NewKubeWithClient(clientset kubernetes.Interface, namespace string, logger zerolog.Logger) *Kube {
	if namespace == "" {
		namespace = metav1.NamespaceDefault
	}
	return &Kube{
		clientset: clientset,
		namespace: namespace,
		log:       logger.With().Str("deployer", "kubernetes").Str("namespace", namespace).Logger(),
	}
}

func (k *Kube) Name() string { return "kubernetes" }

// ConfigMapName returns the ConfigMap name used for site.
func ConfigMapName(site string) (string, error) {
	var b strings.Builder
	b.WriteString(targetConfigMapPrefix)
	for _, r := range strings.ToLower(site) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	name := strings.TrimRight(b.String(), "-.")
	if errs := validation.IsDNS1123Subdomain(name); len(errs) > 0 {
		return "", fmt.Errorf("site %q does not map to a valid ConfigMap name: %s", site, strings.Join(errs, "; "))
	}
	return name, nil
}

func (k *Kube) CreateTargets(ctx context.Context, site, searchEngine string) error {
	name, err := ConfigMapName(site)
	if err != nil {
		return err
	}
	payload, err := yaml.Marshal(TargetDescriptor{Site: site, SearchEngine: searchEngine, Namespace: k.namespace})
	if err != nil {
		return fmt.Errorf("render target descriptor for %s: %w", site, err)
	}

	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: k.namespace,
			Labels:    map[string]string{labelManagedBy: managerName},
		},
		Data: map[string]string{targetDataKey: string(payload)},
	}
	if v := strings.TrimPrefix(name, targetConfigMapPrefix); len(validation.IsValidLabelValue(v)) == 0 {
		cm.Labels[labelSite] = v
	}

	client := k.clientset.CoreV1().ConfigMaps(k.namespace)
	_, err = client.Create(ctx, cm, metav1.CreateOptions{FieldManager: managerName})
	if err == nil {
		k.log.Info().Str("site", site).Str("configmap", name).Msg("target created")
		return nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("create target configmap %s: %w", name, err)
	}

	existing, err := client.Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("get target configmap %s: %w", name, err)
	}
	existing.Labels = cm.Labels
	existing.Data = cm.Data
	if _, err := client.Update(ctx, existing, metav1.UpdateOptions{FieldManager: managerName}); err != nil {
		return fmt.Errorf("update target configmap %s: %w", name, err)
	}
	k.log.Info().Str("site", site).Str("configmap", name).Msg("target updated")
	return nil
}

// DeleteTargets removes the site's ConfigMap. A missing ConfigMap is not an
// error.
func (k *Kube) DeleteTargets(ctx context.Context, site string) error {
	name, err := ConfigMapName(site)
	if err != nil {
		return err
	}
	err = k.clientset.CoreV1().ConfigMaps(k.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete target configmap %s: %w", name, err)
	}
	k.log.Info().Str("site", site).Str("configmap", name).Msg("target deleted")
	return nil
}
