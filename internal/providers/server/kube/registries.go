package kube

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/crmarques/reconctl/config"
	"github.com/crmarques/reconctl/faults"
	"github.com/crmarques/reconctl/resource"
	"github.com/crmarques/reconctl/server"
)

const (
	RegistryLabel           = "reconctl.io/registry"
	AddressAnnotation       = "reconctl.io/registry-address"
	PushNamespaceAnnotation = "reconctl.io/push-namespace"

	secretNamePrefix = "reconctl-registry-"
	fieldManager     = "reconctl"
)

var _ server.RegistryService = (*Registries)(nil)

// Registries keeps container-image registries as dockerconfigjson Secrets in
// one namespace. The push registry is the Secret carrying the push-namespace
// annotation.
type Registries struct {
	client    kubernetes.Interface
	namespace string
}

func NewRegistries(client kubernetes.Interface, namespace string) *Registries {
	return &Registries{client: client, namespace: namespace}
}

// NewRegistriesFromConfig builds a clientset from the kubeconfig named in cfg,
// falling back to the default loading rules.
func NewRegistriesFromConfig(cfg config.KubeRegistries) (*Registries, error) {
	namespace := strings.TrimSpace(cfg.Namespace)
	if namespace == "" {
		return nil, faults.NewValidationError("registries.namespace is required", nil)
	}

	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if path := strings.TrimSpace(cfg.Kubeconfig); path != "" {
		rules.ExplicitPath = path
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: strings.TrimSpace(cfg.KubeContext)}
	restConfig, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		return nil, faults.NewValidationError("failed to load kubeconfig", err)
	}

	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, faults.NewValidationError("failed to create kubernetes client", err)
	}
	return NewRegistries(client, namespace), nil
}

func (r *Registries) ListRegistries(ctx context.Context) ([]resource.Registry, error) {
	secrets, err := r.client.CoreV1().Secrets(r.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: RegistryLabel + "=true",
	})
	if err != nil {
		return nil, classify(err, "failed to list registry secrets")
	}

	registries := make([]resource.Registry, 0, len(secrets.Items))
	for idx := range secrets.Items {
		secret := &secrets.Items[idx]
		address := secret.Annotations[AddressAnnotation]
		if address == "" {
			continue
		}
		registry := resource.Registry{Address: address}
		if entry, ok := readDockerConfig(secret)[address]; ok {
			registry.Username = entry.Username
		}
		if namespace, ok := secret.Annotations[PushNamespaceAnnotation]; ok {
			registry.Push = true
			registry.Namespace = namespace
		}
		registries = append(registries, registry)
	}
	slices.SortFunc(registries, func(a, b resource.Registry) int { return strings.Compare(a.Address, b.Address) })
	return registries, nil
}

// AddRegistry creates the Secret or replaces its credentials, keeping any
// push designation it already carries.
func (r *Registries) AddRegistry(ctx context.Context, registry resource.Registry) error {
	if strings.TrimSpace(registry.Address) == "" {
		return faults.NewValidationError("registry address is required", nil)
	}
	payload, err := encodeDockerConfig(registry)
	if err != nil {
		return err
	}

	secrets := r.client.CoreV1().Secrets(r.namespace)
	existing, err := secrets.Get(ctx, SecretName(registry.Address), metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		secret := &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{
				Name:        SecretName(registry.Address),
				Namespace:   r.namespace,
				Labels:      map[string]string{RegistryLabel: "true"},
				Annotations: map[string]string{AddressAnnotation: registry.Address},
			},
			Type: corev1.SecretTypeDockerConfigJson,
			Data: map[string][]byte{corev1.DockerConfigJsonKey: payload},
		}
		_, err = secrets.Create(ctx, secret, metav1.CreateOptions{FieldManager: fieldManager})
		return classify(err, "failed to create registry secret for "+registry.Address)
	case err != nil:
		return classify(err, "failed to read registry secret for "+registry.Address)
	}

	updated := existing.DeepCopy()
	if updated.Data == nil {
		updated.Data = map[string][]byte{}
	}
	updated.Data[corev1.DockerConfigJsonKey] = payload
	_, err = secrets.Update(ctx, updated, metav1.UpdateOptions{FieldManager: fieldManager})
	return classify(err, "failed to update registry secret for "+registry.Address)
}

func (r *Registries) RemoveRegistry(ctx context.Context, address string) error {
	err := r.client.CoreV1().Secrets(r.namespace).Delete(ctx, SecretName(address), metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return faults.NewNotFoundError(fmt.Sprintf("registry %s not found", address), err)
	}
	return classify(err, "failed to delete registry secret for "+address)
}

// SetPushRegistry annotates the target Secret, then strips the annotation
// from every other registry Secret.
func (r *Registries) SetPushRegistry(ctx context.Context, address string, namespace string) error {
	secrets := r.client.CoreV1().Secrets(r.namespace)
	target, err := secrets.Get(ctx, SecretName(address), metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return faults.NewNotFoundError(fmt.Sprintf("registry %s not found", address), err)
	}
	if err != nil {
		return classify(err, "failed to read registry secret for "+address)
	}

	if current, ok := target.Annotations[PushNamespaceAnnotation]; !ok || current != namespace {
		updated := target.DeepCopy()
		if updated.Annotations == nil {
			updated.Annotations = map[string]string{}
		}
		updated.Annotations[PushNamespaceAnnotation] = namespace
		if _, err := secrets.Update(ctx, updated, metav1.UpdateOptions{FieldManager: fieldManager}); err != nil {
			return classify(err, "failed to designate push registry "+address)
		}
	}

	others, err := secrets.List(ctx, metav1.ListOptions{LabelSelector: RegistryLabel + "=true"})
	if err != nil {
		return classify(err, "failed to list registry secrets")
	}
	for idx := range others.Items {
		other := &others.Items[idx]
		if other.Name == target.Name {
			continue
		}
		if err := r.dropPush(ctx, other); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registries) ClearPushRegistry(ctx context.Context, address string) error {
	secret, err := r.client.CoreV1().Secrets(r.namespace).Get(ctx, SecretName(address), metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return classify(err, "failed to read registry secret for "+address)
	}
	return r.dropPush(ctx, secret)
}

func (r *Registries) dropPush(ctx context.Context, secret *corev1.Secret) error {
	if _, ok := secret.Annotations[PushNamespaceAnnotation]; !ok {
		return nil
	}
	updated := secret.DeepCopy()
	delete(updated.Annotations, PushNamespaceAnnotation)
	_, err := r.client.CoreV1().Secrets(r.namespace).Update(ctx, updated, metav1.UpdateOptions{FieldManager: fieldManager})
	return classify(err, "failed to clear push designation on "+secret.Name)
}

// SecretName derives a stable DNS-1123 label of at most 63 characters from a
// registry address.
func SecretName(address string) string {
	sum := sha256.Sum256([]byte(address))
	suffix := hex.EncodeToString(sum[:4])

	var b strings.Builder
	for _, r := range strings.ToLower(address) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	base := strings.Trim(b.String(), "-")
	if len(base) > 36 {
		base = strings.TrimRight(base[:36], "-")
	}
	if base == "" {
		return secretNamePrefix + suffix
	}
	return secretNamePrefix + base + "-" + suffix
}

type dockerAuth struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Auth     string `json:"auth,omitempty"`
}

type dockerConfig struct {
	Auths map[string]dockerAuth `json:"auths"`
}

func encodeDockerConfig(registry resource.Registry) ([]byte, error) {
	entry := dockerAuth{Username: registry.Username, Password: registry.Password}
	if registry.Username != "" || registry.Password != "" {
		entry.Auth = base64.StdEncoding.EncodeToString([]byte(registry.Username + ":" + registry.Password))
	}
	payload, err := json.Marshal(dockerConfig{Auths: map[string]dockerAuth{registry.Address: entry}})
	if err != nil {
		return nil, faults.NewInternalError("failed to encode docker config", err)
	}
	return payload, nil
}

// readDockerConfig tolerates missing or malformed payloads; a registry
// without readable credentials is listed without a username.
func readDockerConfig(secret *corev1.Secret) map[string]dockerAuth {
	raw := secret.Data[corev1.DockerConfigJsonKey]
	if len(raw) == 0 {
		return nil
	}
	var decoded dockerConfig
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}
	return decoded.Auths
}

func classify(err error, message string) error {
	switch {
	case err == nil:
		return nil
	case apierrors.IsNotFound(err):
		return faults.NewNotFoundError(message, err)
	case apierrors.IsConflict(err), apierrors.IsAlreadyExists(err):
		return faults.NewConflictError(message, err)
	case apierrors.IsUnauthorized(err), apierrors.IsForbidden(err):
		return faults.NewTypedError(faults.AuthError, message, err)
	case apierrors.IsInvalid(err), apierrors.IsBadRequest(err):
		return faults.NewValidationError(message, err)
	default:
		return faults.NewTransportError(message, err)
	}
}
