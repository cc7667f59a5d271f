package deployer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
	"sigs.k8s.io/yaml"

	"github.com/user/go-pubsync/internal/sqlite"
)

func TestConfigMapName(t *testing.T) {
	name, err := ConfigMapName("Editorial_Site")
	require.NoError(t, err)
	assert.Equal(t, "pubsync-target-editorial-site", name)

	name, err = ConfigMapName("a.b-c")
	require.NoError(t, err)
	assert.Equal(t, "pubsync-target-a.b-c", name)
}

func TestKube_CreateUpdateDelete(t *testing.T) {
	ctx := context.Background()
	clientset := fake.NewSimpleClientset()
	k := NewKubeWithClient(clientset, "publishing", zerolog.Nop())

	require.NoError(t, k.CreateTargets(ctx, "editorial", "Elasticsearch"))

	cm, err := clientset.CoreV1().ConfigMaps("publishing").Get(ctx, "pubsync-target-editorial", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "pubsync", cm.Labels[labelManagedBy])
	assert.Equal(t, "editorial", cm.Labels[labelSite])
	assert.Contains(t, cm.Data[targetDataKey], "searchEngine: Elasticsearch")

	require.NoError(t, k.CreateTargets(ctx, "editorial", "OpenSearch"), "existing target is updated")
	desc, err := readTarget(ctx, clientset, "publishing", "editorial")
	require.NoError(t, err)
	assert.Equal(t, TargetDescriptor{Site: "editorial", SearchEngine: "OpenSearch", Namespace: "publishing"}, desc)

	require.NoError(t, k.DeleteTargets(ctx, "editorial"))
	_, err = readTarget(ctx, clientset, "publishing", "editorial")
	assert.Error(t, err)
	assert.NoError(t, k.DeleteTargets(ctx, "editorial"), "missing configmap is not an error")
}

func readTarget(ctx context.Context, clientset *fake.Clientset, namespace, site string) (TargetDescriptor, error) {
	var desc TargetDescriptor
	name, err := ConfigMapName(site)
	if err != nil {
		return desc, err
	}
	cm, err := clientset.CoreV1().ConfigMaps(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return desc, err
	}
	err = yaml.Unmarshal([]byte(cm.Data[targetDataKey]), &desc)
	return desc, err
}

func TestKube_DeleteError(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	clientset.PrependReactor("delete", "configmaps", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("apiserver unavailable")
	})
	k := NewKubeWithClient(clientset, "", zerolog.Nop())

	err := k.DeleteTargets(context.Background(), "editorial")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apiserver unavailable")
}

func TestHTTP_CreateAndDelete(t *testing.T) {
	var got struct {
		method, path, contentType string
		body                      createTargetRequest
	}
	var deletePath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == createTargetPath:
			got.method = r.Method
			got.path = r.URL.Path
			got.contentType = r.Header.Get("Content-Type")
			_ = json.NewDecoder(r.Body).Decode(&got.body)
			w.WriteHeader(http.StatusCreated)
		default:
			deletePath = r.URL.Path
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	h, err := NewHTTP(HTTPConfig{BaseURL: srv.URL + "/", Environment: "preview", Timeout: time.Second}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, h.CreateTargets(context.Background(), "editorial", "Elasticsearch"))
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "application/json", got.contentType)
	assert.Equal(t, createTargetRequest{
		Environment:  "preview",
		SiteName:     "editorial",
		Replace:      true,
		TemplateName: "remote",
		SearchEngine: "Elasticsearch",
	}, got.body)

	require.NoError(t, h.DeleteTargets(context.Background(), "editorial"))
	assert.Equal(t, "/api/1/target/delete/preview/editorial", deletePath)
}

func TestHTTP_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		http.Error(w, "target already exists", http.StatusConflict)
	}))
	defer srv.Close()

	h, err := NewHTTP(HTTPConfig{BaseURL: srv.URL, Environment: "preview"}, zerolog.Nop())
	require.NoError(t, err)

	err = h.CreateTargets(context.Background(), "editorial", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "target already exists")
}

func TestNewHTTP_InvalidURL(t *testing.T) {
	_, err := NewHTTP(HTTPConfig{BaseURL: "not a url"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestRecording(t *testing.T) {
	ctx := context.Background()
	targets := &sqlite.DeployTargetRepo{DB: sqlite.OpenTestDB(t)}
	r := &Recording{Targets: targets}

	require.NoError(t, r.CreateTargets(ctx, "editorial", "Elasticsearch"))
	got, err := targets.Get(ctx, "editorial")
	require.NoError(t, err)
	assert.Equal(t, "Elasticsearch", got.SearchEngine)

	require.NoError(t, r.DeleteTargets(ctx, "editorial"))
	_, err = targets.Get(ctx, "editorial")
	assert.ErrorIs(t, err, sqlite.ErrTargetNotFound)
}
