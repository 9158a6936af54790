package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

const (
	bitbucketSignatureHeader = "X-Hub-Signature"
	bitbucketEventHeader     = "X-Event-Key"
	BitbucketDefaultApiUrl   = "https://api.bitbucket.org/2.0"

	hookDescription = "provisioner"
)

type Bitbucket struct {
	client *http.Client
	apiUrl string
	l      *slog.Logger
}

// NewBitbucket returns a Bitbucket provider talking to apiUrl, which
// defaults to bitbucket.org. Hook.ApiUrl is ignored.
func NewBitbucket(client *http.Client, apiUrl string, l *slog.Logger) *Bitbucket {
	if apiUrl == "" {
		apiUrl = BitbucketDefaultApiUrl
	}
	return &Bitbucket{
		client: client,
		apiUrl: strings.TrimSuffix(apiUrl, "/"),
		l:      l.With("provider", "bitbucket"),
	}
}

func (b *Bitbucket) Kind() Kind {
	return KindBitbucket
}

func (b *Bitbucket) Verify(payload []byte, headers http.Header, secret string) bool {
	return verifySignature(headers.Get(bitbucketSignatureHeader), secret, payload)
}

type bitbucketPush struct {
	Push struct {
		Changes []struct {
			New struct {
				Name   string `json:"name"`
				Target struct {
					Author struct {
						Raw string `json:"raw"`
					} `json:"author"`
				} `json:"target"`
			} `json:"new"`
		} `json:"changes"`
	} `json:"push"`
}

func (b *Bitbucket) Normalize(payload []byte, headers http.Header, secret string) Event {
	ev := Event{Via: "Bitbucket"}

	ev.Valid = b.Verify(payload, headers, secret)
	if !ev.Valid {
		b.l.Info("signature verification failed")
		return ev
	}

	// "repo:push" -> "push"
	key := headers.Get(bitbucketEventHeader)
	if _, subtype, ok := strings.Cut(key, ":"); ok {
		ev.Event = subtype
	} else {
		ev.Event = key
	}

	if ev.Event != EventPush {
		return ev
	}

	var push bitbucketPush
	if err := json.Unmarshal(payload, &push); err != nil {
		b.l.Error("failed to decode push payload", "err", err)
		return ev
	}
	if len(push.Push.Changes) == 0 {
		b.l.Warn("push payload has no changes")
		return ev
	}

	change := push.Push.Changes[0]
	ev.Branch = change.New.Name
	ev.CreatedBy = change.New.Target.Author.Raw
	return ev
}

type bitbucketHookRequest struct {
	Description string   `json:"description"`
	Url         string   `json:"url"`
	Active      bool     `json:"active"`
	Events      []string `json:"events"`
	Secret      string   `json:"secret"`
}

func (b *Bitbucket) Register(ctx context.Context, hook Hook) (string, error) {
	ownerAndRepo, err := OwnerAndRepo(hook.Source)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/repositories/%s/hooks", b.apiUrl, ownerAndRepo)

	headers := http.Header{}
	headers.Set("Accept", "application/json")
	headers.Set("Authorization", "Bearer "+hook.AccessToken)

	body := bitbucketHookRequest{
		Description: hookDescription,
		Url:         hook.CallbackUrl,
		Active:      true,
		Events:      []string{"repo:push"},
		Secret:      hook.Secret,
	}

	var out struct {
		Links struct {
			Self struct {
				Href string `json:"href"`
			} `json:"self"`
		} `json:"links"`
	}
	if err := postHook(ctx, b.client, url, headers, body, &out); err != nil {
		return "", fmt.Errorf("registering bitbucket hook for %s: %w", ownerAndRepo, err)
	}

	b.l.Info("hook created", "repo", ownerAndRepo, "url", out.Links.Self.Href)
	return out.Links.Self.Href, nil
}
