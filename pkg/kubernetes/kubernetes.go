// Package kubernetes keeps a reflux store document under one data key of a
// ConfigMap or Secret and watches it with the Watch API.
package kubernetes

import (
	"context"
	"fmt"
	"time"

	"github.com/zoobzio/reflux"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/retry"
)

// ResourceType specifies the type of Kubernetes resource holding the document.
type ResourceType int

const (
	// ConfigMap keeps the document in a ConfigMap.
	ConfigMap ResourceType = iota
	// Secret keeps the document in a Secret.
	Secret
)

func (t ResourceType) String() string {
	if t == Secret {
		return "secret"
	}
	return "configmap"
}

// reconnectDelay paces watch restarts after the API server drops a watch.
const reconnectDelay = time.Second

// Option configures a Document or Watcher.
type Option func(*resource)

// WithResourceType sets the resource type. Defaults to ConfigMap.
func WithResourceType(rt ResourceType) Option {
	return func(r *resource) {
		r.resourceType = rt
	}
}

// resource addresses one data key of a ConfigMap or Secret.
type resource struct {
	client       kubernetes.Interface
	namespace    string
	name         string
	key          string
	resourceType ResourceType
}

func newResource(client kubernetes.Interface, namespace, name, key string, opts []Option) resource {
	r := resource{
		client:       client,
		namespace:    namespace,
		name:         name,
		key:          key,
		resourceType: ConfigMap,
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// get returns the data under the key and the resource version. A missing
// resource or key is nil data without error.
func (r resource) get(ctx context.Context) ([]byte, string, error) {
	var (
		obj runtime.Object
		err error
	)
	if r.resourceType == ConfigMap {
		obj, err = r.client.CoreV1().ConfigMaps(r.namespace).Get(ctx, r.name, metav1.GetOptions{})
	} else {
		obj, err = r.client.CoreV1().Secrets(r.namespace).Get(ctx, r.name, metav1.GetOptions{})
	}
	if apierrors.IsNotFound(err) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	data, ok := r.extract(obj)
	if !ok {
		data = nil
	}
	return data, r.version(obj), nil
}

func (r resource) version(obj runtime.Object) string {
	switch o := obj.(type) {
	case *corev1.ConfigMap:
		return o.ResourceVersion
	case *corev1.Secret:
		return o.ResourceVersion
	}
	return ""
}

// extract returns the data under the key when obj is the watched resource.
func (r resource) extract(obj interface{}) ([]byte, bool) {
	if r.resourceType == ConfigMap {
		cm, ok := obj.(*corev1.ConfigMap)
		if !ok || cm.Name != r.name {
			return nil, false
		}
		v, ok := cm.Data[r.key]
		return []byte(v), ok
	}
	secret, ok := obj.(*corev1.Secret)
	if !ok || secret.Name != r.name {
		return nil, false
	}
	v, ok := secret.Data[r.key]
	return v, ok
}

// Document is a reflux.Document held under one data key of a ConfigMap or
// Secret. Other keys of the resource are left untouched.
type Document struct {
	resource
}

// NewDocument creates a Document for key of the named resource.
func NewDocument(client kubernetes.Interface, namespace, name, key string, opts ...Option) *Document {
	return &Document{resource: newResource(client, namespace, name, key, opts)}
}

// Read implements reflux.Document.
func (d *Document) Read(ctx context.Context) ([]byte, error) {
	data, _, err := d.get(ctx)
	return data, err
}

// Write implements reflux.Document, creating the resource when missing and
// retrying update conflicts.
func (d *Document) Write(ctx context.Context, data []byte) error {
	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		if d.resourceType == ConfigMap {
			return d.writeConfigMap(ctx, data)
		}
		return d.writeSecret(ctx, data)
	})
}

func (d *Document) writeConfigMap(ctx context.Context, data []byte) error {
	api := d.client.CoreV1().ConfigMaps(d.namespace)
	cm, err := api.Get(ctx, d.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		_, err = api.Create(ctx, &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: d.name, Namespace: d.namespace},
			Data:       map[string]string{d.key: string(data)},
		}, metav1.CreateOptions{})
		return err
	}
	if err != nil {
		return err
	}
	if cm.Data == nil {
		cm.Data = make(map[string]string)
	}
	cm.Data[d.key] = string(data)
	_, err = api.Update(ctx, cm, metav1.UpdateOptions{})
	return err
}

func (d *Document) writeSecret(ctx context.Context, data []byte) error {
	api := d.client.CoreV1().Secrets(d.namespace)
	secret, err := api.Get(ctx, d.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		_, err = api.Create(ctx, &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: d.name, Namespace: d.namespace},
			Data:       map[string][]byte{d.key: data},
		}, metav1.CreateOptions{})
		return err
	}
	if err != nil {
		return err
	}
	if secret.Data == nil {
		secret.Data = make(map[string][]byte)
	}
	secret.Data[d.key] = data
	_, err = api.Update(ctx, secret, metav1.UpdateOptions{})
	return err
}

// NewStore opens a reflux store kept under key of the named resource.
func NewStore(ctx context.Context, client kubernetes.Interface, namespace, name, key string, opts ...Option) (*reflux.DocumentStore, error) {
	return reflux.NewDocumentStore(ctx, NewDocument(client, namespace, name, key, opts...), reflux.JSONCodec{})
}

// Watcher watches one data key of a ConfigMap or Secret for changes.
type Watcher struct {
	resource
}

// New creates a new Watcher for key of the named resource.
func New(client kubernetes.Interface, namespace, name, key string, opts ...Option) *Watcher {
	return &Watcher{resource: newResource(client, namespace, name, key, opts)}
}

// Watch implements reflux.Watcher. The current document is emitted first,
// as an empty document when the resource or key does not exist yet. A
// dropped watch is restarted, re-emitting the current document.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte)

	go func() {
		defer close(out)

		emitted := false
		for {
			err := w.watchLoop(ctx, out, &emitted)
			if ctx.Err() != nil || err == nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
		}
	}()

	return out, nil
}

func (w *Watcher) watchLoop(ctx context.Context, out chan<- []byte, emitted *bool) error {
	value, resourceVersion, err := w.get(ctx)
	if err != nil {
		return err
	}

	if value != nil || !*emitted {
		if value == nil {
			value = []byte{}
		}
		select {
		case out <- value:
			*emitted = true
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	opts := metav1.ListOptions{
		FieldSelector:   fmt.Sprintf("metadata.name=%s", w.name),
		ResourceVersion: resourceVersion,
		Watch:           true,
	}

	var watcher watch.Interface
	if w.resourceType == ConfigMap {
		watcher, err = w.client.CoreV1().ConfigMaps(w.namespace).Watch(ctx, opts)
	} else {
		watcher, err = w.client.CoreV1().Secrets(w.namespace).Watch(ctx, opts)
	}
	if err != nil {
		return fmt.Errorf("failed to start %s watch: %w", w.resourceType, err)
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.ResultChan():
			if !ok {
				return fmt.Errorf("%s watch channel closed", w.resourceType)
			}
			switch event.Type {
			case watch.Error:
				return apierrors.FromObject(event.Object)
			case watch.Deleted:
				continue
			}

			value, ok := w.extract(event.Object)
			if !ok {
				continue
			}
			select {
			case out <- value:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

var (
	_ reflux.Document = (*Document)(nil)
	_ reflux.Watcher  = (*Watcher)(nil)
)
