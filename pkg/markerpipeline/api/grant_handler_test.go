package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixeltrack/marker-pipeline/pkg/markerpipeline"
	"github.com/pixeltrack/marker-pipeline/pkg/markerpipeline/api"
	"github.com/pixeltrack/marker-pipeline/pkg/markerpipeline/presigned"
	memorystorage "github.com/pixeltrack/marker-pipeline/pkg/markerpipeline/storage/memory"
)

func newGrantEnv(t *testing.T) *apiEnv {
	t.Helper()

	store := memorystorage.New(memorystorage.WithSignedURLs(
		"http://transfer.local", presigned.NewSigner("test-secret")))
	provisioner := markerpipeline.NewProvisioner("memory", store,
		markerpipeline.WithRetryDelay(time.Millisecond))

	ja := jwtauth.New("HS256", []byte("test-jwt-secret"), nil)
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(api.RequireOwner(ja))
		r.Mount("/grants", api.NewGrantHandler(provisioner, nil).Routes())
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &apiEnv{srv: srv, ja: ja, owner: uuid.New()}
}

func TestGrantWriteEndpoint(t *testing.T) {
	env := newGrantEnv(t)
	token := env.token(t, env.owner.String())
	key := env.owner.String() + "/sub/image.png"

	resp, raw := env.do(t, http.MethodPost, "/grants/write", token, map[string]string{"key": key})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var grant markerpipeline.Grant
	require.NoError(t, json.Unmarshal(raw, &grant))
	assert.Equal(t, key, grant.Key)
	assert.Equal(t, markerpipeline.OperationWrite, grant.Operation)
	assert.Contains(t, grant.URL, "http://transfer.local/upload/")
	assert.True(t, grant.ExpiresAt.After(time.Now()))
}

func TestGrantReadEndpointHonorsTTL(t *testing.T) {
	env := newGrantEnv(t)
	token := env.token(t, env.owner.String())
	key := env.owner.String() + "/sub/marker.marker"

	resp, raw := env.do(t, http.MethodPost, "/grants/read", token, map[string]interface{}{
		"key":         key,
		"ttl_seconds": 120,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var grant markerpipeline.Grant
	require.NoError(t, json.Unmarshal(raw, &grant))
	assert.Equal(t, markerpipeline.OperationRead, grant.Operation)
	assert.Contains(t, grant.URL, "/download/")
	assert.WithinDuration(t, time.Now().Add(2*time.Minute), grant.ExpiresAt, time.Minute)
}

func TestGrantOutsideNamespaceForbidden(t *testing.T) {
	env := newGrantEnv(t)
	token := env.token(t, env.owner.String())

	resp, _ := env.do(t, http.MethodPost, "/grants/write", token, map[string]string{
		"key": uuid.New().String() + "/sub/image.png",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestGrantRequiresKey(t *testing.T) {
	env := newGrantEnv(t)
	token := env.token(t, env.owner.String())

	resp, _ := env.do(t, http.MethodPost, "/grants/write", token, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGrantRequiresAuthentication(t *testing.T) {
	env := newGrantEnv(t)
	resp, _ := env.do(t, http.MethodPost, "/grants/write", "", map[string]string{"key": "x/y"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
