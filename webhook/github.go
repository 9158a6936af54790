package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
)

const (
	githubSignatureHeader = "X-Hub-Signature-256"
	githubEventHeader     = "X-GitHub-Event"
	githubApiVersion      = "2022-11-28"
	githubDefaultApiUrl   = "https://api.github.com"
)

type GitHub struct {
	client *http.Client
	l      *slog.Logger
}

func NewGitHub(client *http.Client, l *slog.Logger) *GitHub {
	return &GitHub{
		client: client,
		l:      l.With("provider", "github"),
	}
}

func (g *GitHub) Kind() Kind {
	return KindGitHub
}

func (g *GitHub) Verify(payload []byte, headers http.Header, secret string) bool {
	return verifySignature(headers.Get(githubSignatureHeader), secret, payload)
}

type githubPush struct {
	Ref    string `json:"ref"`
	Pusher struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"pusher"`
}

func (g *GitHub) Normalize(payload []byte, headers http.Header, secret string) Event {
	ev := Event{Via: "Github"}

	ev.Valid = g.Verify(payload, headers, secret)
	if !ev.Valid {
		g.l.Info("signature verification failed")
		return ev
	}

	ev.Event = headers.Get(githubEventHeader)
	if ev.Event != EventPush {
		return ev
	}

	var push githubPush
	if err := json.Unmarshal(payload, &push); err != nil {
		g.l.Error("failed to decode push payload", "err", err)
		return ev
	}

	ev.Branch = plumbing.ReferenceName(push.Ref).Short()
	ev.CreatedBy = push.Pusher.Email
	return ev
}

type githubHookRequest struct {
	Name   string           `json:"name"`
	Active bool             `json:"active"`
	Events []string         `json:"events"`
	Config githubHookConfig `json:"config"`
}

type githubHookConfig struct {
	Url         string `json:"url"`
	Secret      string `json:"secret"`
	ContentType string `json:"content_type"`
	InsecureSsl string `json:"insecure_ssl"`
}

func (g *GitHub) Register(ctx context.Context, hook Hook) (string, error) {
	ownerAndRepo, err := OwnerAndRepo(hook.Source)
	if err != nil {
		return "", err
	}

	apiUrl := hook.ApiUrl
	if apiUrl == "" {
		apiUrl = githubDefaultApiUrl
	}
	url := fmt.Sprintf("%s/repos/%s/hooks", strings.TrimSuffix(apiUrl, "/"), ownerAndRepo)

	headers := http.Header{}
	headers.Set("Accept", "application/vnd.github+json")
	headers.Set("Authorization", "Bearer "+hook.AccessToken)
	headers.Set("X-GitHub-Api-Version", githubApiVersion)

	body := githubHookRequest{
		Name:   "web",
		Active: true,
		Events: []string{EventPush},
		Config: githubHookConfig{
			Url:         hook.CallbackUrl,
			Secret:      hook.Secret,
			ContentType: "json",
			InsecureSsl: "1",
		},
	}

	var out struct {
		Url string `json:"url"`
	}
	if err := postHook(ctx, g.client, url, headers, body, &out); err != nil {
		return "", fmt.Errorf("registering github hook for %s: %w", ownerAndRepo, err)
	}

	g.l.Info("hook created", "repo", ownerAndRepo, "url", out.Url)
	return out.Url, nil
}
