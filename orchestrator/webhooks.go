package orchestrator

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/avast/retry-go/v4"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"tangled.sh/tangled.sh/provisioner/apierr"
	"tangled.sh/tangled.sh/provisioner/orchestrator/db"
	"tangled.sh/tangled.sh/provisioner/orchestrator/models"
	"tangled.sh/tangled.sh/provisioner/webhook"
)

const maxDeliverySize = 5 << 20

// retryableRegistration reports whether a failed hook registration is worth
// another attempt: provider side failures and transport errors are.
func retryableRegistration(err error) bool {
	var re *webhook.RegistrationError
	if errors.As(err, &re) {
		return re.Temporary()
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

// RegisterWebhook creates a webhook for the workspace and registers its
// callback url with the workspace's vcs provider.
func (o *Orchestrator) RegisterWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := o.l.With("handler", "RegisterWebhook")

	ws, err := o.db.GetWorkspace(ctx, chi.URLParam(r, "workspace"))
	if errors.Is(err, db.ErrNotFound) {
		apierr.Write(w, apierr.NotFoundError("workspace"), http.StatusNotFound)
		return
	}
	if err != nil {
		l.Error("failed to load workspace", "err", err)
		apierr.Write(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}
	l = l.With("workspace", ws.Id)

	p, err := o.providers.For(webhook.Kind(ws.Vcs.Kind))
	if err != nil {
		apierr.Write(w, apierr.InvalidRequestError(err), http.StatusBadRequest)
		return
	}

	wh := &models.Webhook{Workspace: ws.Id}
	if err := o.db.CreateWebhook(ctx, wh); err != nil {
		l.Error("failed to create webhook", "err", err)
		apierr.Write(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}

	hook := webhook.Hook{
		Source:      ws.Source,
		ApiUrl:      ws.Vcs.ApiUrl,
		AccessToken: ws.Vcs.AccessToken,
		CallbackUrl: webhook.CallbackURL(o.cfg.Server.Hostname, wh.Id),
		Secret:      webhook.DeriveSecret(ws.Id),
	}

	attempts := max(o.cfg.Webhooks.RegisterAttempts, 1)
	remote, err := retry.DoWithData(
		func() (string, error) {
			return p.Register(ctx, hook)
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(o.cfg.Webhooks.RegisterDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryableRegistration),
		retry.OnRetry(func(n uint, err error) {
			l.Warn("hook registration failed, retrying", "attempt", n+1, "err", err)
		}),
	)
	if err != nil {
		l.Error("failed to register hook", "provider", p.Kind(), "err", err)
		if derr := o.db.DeleteWebhook(context.WithoutCancel(ctx), wh.Id); derr != nil {
			l.Error("failed to remove unregistered webhook", "webhook", wh.Id, "err", derr)
		}
		apierr.Write(w, apierr.UpstreamError(err), http.StatusBadGateway)
		return
	}

	if err := o.db.SetWebhookRemoteURL(ctx, wh.Id, remote); err != nil {
		l.Error("failed to save remote hook url", "webhook", wh.Id, "err", err)
		apierr.Write(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}
	wh.RemoteUrl = remote

	l.Info("registered webhook", "webhook", wh.Id, "provider", p.Kind(), "remote", remote)
	writeJson(w, http.StatusCreated, wh)
}

// ReceiveWebhook verifies and normalizes a provider delivery. Deliveries
// that fail verification are answered with valid=false, never an error.
func (o *Orchestrator) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := o.l.With("handler", "ReceiveWebhook")

	wh, err := o.db.GetWebhook(ctx, chi.URLParam(r, "webhook"))
	if errors.Is(err, db.ErrNotFound) {
		apierr.Write(w, apierr.NotFoundError("webhook"), http.StatusNotFound)
		return
	}
	if err != nil {
		l.Error("failed to load webhook", "err", err)
		apierr.Write(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}

	ws, err := o.db.GetWorkspace(ctx, wh.Workspace)
	if errors.Is(err, db.ErrNotFound) {
		apierr.Write(w, apierr.NotFoundError("workspace"), http.StatusNotFound)
		return
	}
	if err != nil {
		l.Error("failed to load workspace", "webhook", wh.Id, "err", err)
		apierr.Write(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxDeliverySize))
	if err != nil {
		apierr.Write(w, apierr.InvalidRequestError(err), http.StatusBadRequest)
		return
	}

	p, err := o.providers.For(webhook.Kind(ws.Vcs.Kind))
	if err != nil {
		l.Warn("workspace has no webhook provider", "workspace", ws.Id, "err", err)
		writeJson(w, http.StatusOK, webhook.Event{})
		return
	}

	ev := p.Normalize(payload, r.Header, webhook.DeriveSecret(ws.Id))
	o.deliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", string(p.Kind())),
		attribute.Bool("valid", ev.Valid),
	))

	switch {
	case !ev.Valid:
		l.Warn("delivery failed verification", "webhook", wh.Id, "provider", p.Kind())
	case ev.IsPush() && ev.Branch == ws.Branch:
		l.Info("push to workspace branch", "workspace", ws.Id, "branch", ev.Branch, "author", ev.CreatedBy)
	default:
		l.Debug("delivery received", "webhook", wh.Id, "event", ev.Event, "branch", ev.Branch)
	}

	writeJson(w, http.StatusOK, ev)
}
