package webhook

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// DeriveSecret returns the shared secret for a workspace. Registration
// hands it to the provider and verification checks deliveries against it,
// so both sides must derive it the same way.
func DeriveSecret(workspaceId string) string {
	return base64.StdEncoding.EncodeToString([]byte(workspaceId))
}

func CallbackURL(hostname, webhookId string) string {
	return fmt.Sprintf("https://%s/webhook/v1/%s", hostname, webhookId)
}

// OwnerAndRepo extracts "owner/repo" from a repository url such as
// https://github.com/owner/repo.git.
func OwnerAndRepo(source string) (string, error) {
	u, err := url.Parse(source)
	if err != nil {
		return "", fmt.Errorf("parsing repository url: %w", err)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("repository url %q has no owner and repository", source)
	}

	repo := strings.TrimSuffix(parts[1], ".git")
	return parts[0] + "/" + repo, nil
}
