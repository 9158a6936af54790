package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/carlmjohnson/versioninfo"
)

var (
	ErrUnknownProvider      = errors.New("unknown vcs provider")
	ErrRegistrationRejected = errors.New("provider rejected hook registration")
)

// Provider verifies and normalizes deliveries from one kind of version
// control host, and registers hooks with it. Verification failure is a
// normal outcome, reported as Event.Valid == false.
type Provider interface {
	Kind() Kind
	Verify(payload []byte, headers http.Header, secret string) bool
	Normalize(payload []byte, headers http.Header, secret string) Event
	Register(ctx context.Context, hook Hook) (string, error)
}

type Registry struct {
	providers map[Kind]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[Kind]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Kind()] = p
	}
	return r
}

func (r *Registry) For(kind Kind) (Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, kind)
	}
	return p, nil
}

// RegistrationError carries the provider's answer to a hook creation
// request that did not return 201.
type RegistrationError struct {
	Status int
	Body   string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", ErrRegistrationRejected, e.Status, e.Body)
}

func (e *RegistrationError) Is(target error) bool {
	return target == ErrRegistrationRejected
}

// Temporary reports whether retrying the registration may succeed.
func (e *RegistrationError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// postHook sends body to url and decodes a 201 response into out.
func postHook(ctx context.Context, client *http.Client, url string, headers http.Header, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header = headers.Clone()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "provisioner/"+versioninfo.Short())

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated {
		return &RegistrationError{Status: resp.StatusCode, Body: string(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding hook response: %w", err)
	}
	return nil
}
