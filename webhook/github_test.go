package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tangled.sh/tangled.sh/provisioner/log"
)

const githubPushFixture = `{
	"ref": "refs/heads/main",
	"before": "0000000000000000000000000000000000000000",
	"after": "8f7d2a1c",
	"pusher": {"name": "octocat", "email": "octocat@example.com"}
}`

func githubHeaders(event, secret string, payload []byte) http.Header {
	h := http.Header{}
	h.Set("X-GitHub-Event", event)
	if secret != "" {
		h.Set("X-Hub-Signature-256", computeSignature(secret, payload))
	}
	return h
}

func TestGitHubNormalizePush(t *testing.T) {
	g := NewGitHub(http.DefaultClient, log.Discard())
	payload := []byte(githubPushFixture)

	ev := g.Normalize(payload, githubHeaders("push", "s3cret", payload), "s3cret")

	assert.Equal(t, Event{
		Valid:     true,
		Via:       "Github",
		Event:     "push",
		Branch:    "main",
		CreatedBy: "octocat@example.com",
	}, ev)
	assert.True(t, ev.IsPush())
}

func TestGitHubNormalizeWrongSecret(t *testing.T) {
	g := NewGitHub(http.DefaultClient, log.Discard())
	payload := []byte(githubPushFixture)

	ev := g.Normalize(payload, githubHeaders("push", "wrong", payload), "s3cret")

	assert.False(t, ev.Valid)
	assert.Equal(t, "Github", ev.Via)
	assert.Empty(t, ev.Event)
	assert.Empty(t, ev.Branch)
	assert.Empty(t, ev.CreatedBy)
}

func TestGitHubNormalizeMissingSignature(t *testing.T) {
	g := NewGitHub(http.DefaultClient, log.Discard())
	payload := []byte(githubPushFixture)

	ev := g.Normalize(payload, githubHeaders("push", "", payload), "s3cret")
	assert.False(t, ev.Valid)
}

func TestGitHubNormalizeNestedBranch(t *testing.T) {
	g := NewGitHub(http.DefaultClient, log.Discard())
	payload := []byte(`{"ref":"refs/heads/feature/login","pusher":{"email":"dev@example.com"}}`)

	ev := g.Normalize(payload, githubHeaders("push", "s3cret", payload), "s3cret")
	assert.Equal(t, "feature/login", ev.Branch)
}

func TestGitHubNormalizeNonPush(t *testing.T) {
	g := NewGitHub(http.DefaultClient, log.Discard())
	payload := []byte(`{"zen":"Keep it logically awesome.","hook_id":1}`)

	ev := g.Normalize(payload, githubHeaders("ping", "s3cret", payload), "s3cret")

	assert.True(t, ev.Valid)
	assert.Equal(t, "ping", ev.Event)
	assert.Empty(t, ev.Branch)
	assert.Empty(t, ev.CreatedBy)
	assert.False(t, ev.IsPush())
}

func TestGitHubNormalizeMalformedPayload(t *testing.T) {
	g := NewGitHub(http.DefaultClient, log.Discard())
	payload := []byte(`{"ref":`)

	ev := g.Normalize(payload, githubHeaders("push", "s3cret", payload), "s3cret")

	assert.True(t, ev.Valid)
	assert.Equal(t, "push", ev.Event)
	assert.Empty(t, ev.Branch)
}

func TestGitHubRegister(t *testing.T) {
	var got githubHookRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/acme/infra/hooks", r.URL.Path)
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		assert.Equal(t, "2022-11-28", r.Header.Get("X-GitHub-Api-Version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":1,"url":"https://api.github.com/repos/acme/infra/hooks/1"}`))
	}))
	defer srv.Close()

	g := NewGitHub(srv.Client(), log.Discard())
	url, err := g.Register(context.Background(), Hook{
		Source:      "https://github.com/acme/infra.git",
		ApiUrl:      srv.URL,
		AccessToken: "token",
		CallbackUrl: "https://orchestrator.example.com/webhook/v1/abc",
		Secret:      DeriveSecret("ws-1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "https://api.github.com/repos/acme/infra/hooks/1", url)

	assert.Equal(t, "web", got.Name)
	assert.True(t, got.Active)
	assert.Equal(t, []string{"push"}, got.Events)
	assert.Equal(t, "https://orchestrator.example.com/webhook/v1/abc", got.Config.Url)
	assert.Equal(t, DeriveSecret("ws-1"), got.Config.Secret)
	assert.Equal(t, "json", got.Config.ContentType)
	assert.Equal(t, "1", got.Config.InsecureSsl)
}

func TestGitHubRegisterRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"Validation Failed"}`))
	}))
	defer srv.Close()

	g := NewGitHub(srv.Client(), log.Discard())
	_, err := g.Register(context.Background(), Hook{
		Source: "https://github.com/acme/infra.git",
		ApiUrl: srv.URL,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRegistrationRejected)

	var rerr *RegistrationError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, http.StatusUnprocessableEntity, rerr.Status)
	assert.False(t, rerr.Temporary())
}
