package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/carlmjohnson/versioninfo"
	"github.com/go-chi/chi/v5"
	"tangled.sh/tangled.sh/provisioner/apierr"
	"tangled.sh/tangled.sh/provisioner/orchestrator/approval"
	"tangled.sh/tangled.sh/provisioner/orchestrator/db"
	"tangled.sh/tangled.sh/provisioner/orchestrator/engine"
	"tangled.sh/tangled.sh/provisioner/orchestrator/models"
)

const (
	principalHeader     = "X-Principal"
	principalKindHeader = "X-Principal-Kind"
	applicationHeader   = "X-Principal-Application"

	principalKindService = "service"
)

func writeJson(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJson(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}

// principalFrom reads the caller's identity from request headers. The
// second return value is false when no subject was supplied.
func principalFrom(r *http.Request) (approval.Principal, bool) {
	p := approval.Principal{
		Subject:        strings.TrimSpace(r.Header.Get(principalHeader)),
		ServiceAccount: r.Header.Get(principalKindHeader) == principalKindService,
		Application:    r.Header.Get(applicationHeader),
	}
	return p, p.Subject != ""
}

func (o *Orchestrator) Version(w http.ResponseWriter, r *http.Request) {
	writeJson(w, http.StatusOK, map[string]string{
		"version":  versioninfo.Short(),
		"revision": versioninfo.Revision,
	})
}

type createOrganizationRequest struct {
	Name  string `json:"name"`
	Owner string `json:"owner,omitempty"`
}

type createOrganizationResponse struct {
	models.Organization
	BootstrapRun string `json:"bootstrapRun,omitempty"`
}

// CreateOrganization stores a new organization and schedules the creation
// of its default templates.
func (o *Orchestrator) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	l := o.l.With("handler", "CreateOrganization")

	var req createOrganizationRequest
	if err := decodeJson(r, &req); err != nil {
		apierr.Write(w, apierr.InvalidRequestError(err), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		apierr.Write(w, apierr.InvalidRequestError(errors.New("name is required")), http.StatusBadRequest)
		return
	}

	org := &models.Organization{Name: req.Name}
	if err := o.db.CreateOrganization(r.Context(), org); err != nil {
		l.Error("failed to create organization", "err", err)
		apierr.Write(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}

	if err := o.e.AddOrganization(org.Id); err != nil {
		l.Error("failed to add organization policies", "org", org.Id, "err", err)
		apierr.Write(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}
	if req.Owner != "" {
		if err := o.e.AddOrganizationOwner(org.Id, req.Owner); err != nil {
			l.Error("failed to add organization owner", "org", org.Id, "err", err)
			apierr.Write(w, apierr.GenericError(err), http.StatusInternalServerError)
			return
		}
	}

	run := o.boot.Schedule(r.Context(), org.Id)
	l.Info("created organization", "org", org.Id, "bootstrap", run)

	writeJson(w, http.StatusCreated, createOrganizationResponse{
		Organization: *org,
		BootstrapRun: run,
	})
}

func (o *Orchestrator) ListTemplates(w http.ResponseWriter, r *http.Request) {
	org := organizationFrom(r.Context())

	templates, err := o.db.GetTemplates(r.Context(), org.Id)
	if err != nil {
		o.l.Error("failed to list templates", "org", org.Id, "err", err)
		apierr.Write(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}
	if templates == nil {
		templates = []models.Template{}
	}

	writeJson(w, http.StatusOK, templates)
}

type createWorkspaceRequest struct {
	Name         string `json:"name"`
	Source       string `json:"source"`
	Branch       string `json:"branch"`
	ApprovalTeam string `json:"approvalTeam,omitempty"`
	Vcs          struct {
		Kind        models.VcsKind `json:"kind"`
		ApiUrl      string         `json:"apiUrl,omitempty"`
		AccessToken string         `json:"accessToken,omitempty"`
	} `json:"vcs"`
}

func (o *Orchestrator) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	org := organizationFrom(r.Context())

	var req createWorkspaceRequest
	if err := decodeJson(r, &req); err != nil {
		apierr.Write(w, apierr.InvalidRequestError(err), http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Source == "" {
		apierr.Write(w, apierr.InvalidRequestError(errors.New("name and source are required")), http.StatusBadRequest)
		return
	}
	switch req.Vcs.Kind {
	case models.VcsGitHub, models.VcsBitbucket:
	default:
		apierr.Write(w, apierr.InvalidRequestError(fmt.Errorf("unknown vcs kind %q", req.Vcs.Kind)), http.StatusBadRequest)
		return
	}

	branch := req.Branch
	if branch == "" {
		branch = "main"
	}

	ws := &models.Workspace{
		Organization: org.Id,
		Name:         req.Name,
		Source:       req.Source,
		Branch:       branch,
		ApprovalTeam: req.ApprovalTeam,
		Vcs: models.Vcs{
			Kind:        req.Vcs.Kind,
			ApiUrl:      req.Vcs.ApiUrl,
			AccessToken: req.Vcs.AccessToken,
		},
	}
	if err := o.db.CreateWorkspace(r.Context(), ws); err != nil {
		o.l.Error("failed to create workspace", "org", org.Id, "err", err)
		apierr.Write(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}

	writeJson(w, http.StatusCreated, ws)
}

type teamMemberRequest struct {
	Member string `json:"member"`
	// Kind is "user" or "service". Service members are applications.
	Kind string `json:"kind,omitempty"`
}

func (o *Orchestrator) ListTeamMembers(w http.ResponseWriter, r *http.Request) {
	org := organizationFrom(r.Context())
	team := chi.URLParam(r, "team")

	members, err := o.e.GetTeamMembers(team, org.Id)
	if err != nil {
		o.l.Error("failed to list team members", "org", org.Id, "team", team, "err", err)
		apierr.Write(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}
	if members == nil {
		members = []string{}
	}

	writeJson(w, http.StatusOK, map[string]any{"team": team, "members": members})
}

func (o *Orchestrator) AddTeamMember(w http.ResponseWriter, r *http.Request) {
	o.changeTeamMember(w, r, true)
}

func (o *Orchestrator) RemoveTeamMember(w http.ResponseWriter, r *http.Request) {
	o.changeTeamMember(w, r, false)
}

func (o *Orchestrator) changeTeamMember(w http.ResponseWriter, r *http.Request, add bool) {
	org := organizationFrom(r.Context())
	team := chi.URLParam(r, "team")

	p, ok := principalFrom(r)
	if !ok {
		apierr.Write(w, apierr.MissingPrincipalError, http.StatusUnauthorized)
		return
	}
	owner, err := o.e.IsOrganizationOwner(p.Subject, org.Id)
	if err != nil {
		o.l.Error("failed to check organization owner", "org", org.Id, "err", err)
		apierr.Write(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}
	if !owner || p.ServiceAccount {
		apierr.Write(w, apierr.AccessControlError(p.String()), http.StatusForbidden)
		return
	}

	var req teamMemberRequest
	if err := decodeJson(r, &req); err != nil {
		apierr.Write(w, apierr.InvalidRequestError(err), http.StatusBadRequest)
		return
	}
	if req.Member == "" {
		apierr.Write(w, apierr.InvalidRequestError(errors.New("member is required")), http.StatusBadRequest)
		return
	}

	switch {
	case req.Kind == principalKindService && add:
		err = o.e.AddServiceMember(org.Id, team, req.Member)
	case req.Kind == principalKindService:
		err = o.e.RemoveServiceMember(org.Id, team, req.Member)
	case add:
		err = o.e.AddTeamMember(org.Id, team, req.Member)
	default:
		err = o.e.RemoveTeamMember(org.Id, team, req.Member)
	}
	if err != nil {
		o.l.Error("failed to update team", "org", org.Id, "team", team, "member", req.Member, "err", err)
		apierr.Write(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}

	o.l.Info("team updated", "org", org.Id, "team", team, "member", req.Member, "added", add, "by", p.String())
	w.WriteHeader(http.StatusNoContent)
}

type createJobRequest struct {
	Workspace         string `json:"workspace,omitempty"`
	TemplateReference string `json:"templateReference,omitempty"`
	Tcl               string `json:"tcl,omitempty"`
	ApprovalTeam      string `json:"approvalTeam,omitempty"`
}

func (o *Orchestrator) CreateJob(w http.ResponseWriter, r *http.Request) {
	org := organizationFrom(r.Context())

	var req createJobRequest
	if err := decodeJson(r, &req); err != nil {
		apierr.Write(w, apierr.InvalidRequestError(err), http.StatusBadRequest)
		return
	}
	if req.Tcl == "" && req.TemplateReference == "" {
		apierr.Write(w, apierr.InvalidRequestError(errors.New("one of tcl or templateReference is required")), http.StatusBadRequest)
		return
	}

	job := &models.Job{
		Organization:      org.Id,
		Workspace:         req.Workspace,
		TemplateReference: req.TemplateReference,
		Tcl:               req.Tcl,
		ApprovalTeam:      req.ApprovalTeam,
		Via:               "API",
	}
	if p, ok := principalFrom(r); ok {
		job.CreatedBy = p.String()
	}

	if req.Workspace != "" {
		ws, err := o.db.GetWorkspace(r.Context(), req.Workspace)
		if errors.Is(err, db.ErrNotFound) || (err == nil && ws.Organization != org.Id) {
			apierr.Write(w, apierr.NotFoundError("workspace"), http.StatusNotFound)
			return
		}
		if err != nil {
			apierr.Write(w, apierr.GenericError(err), http.StatusInternalServerError)
			return
		}
		if job.ApprovalTeam == "" {
			job.ApprovalTeam = ws.ApprovalTeam
		}
	}

	if req.TemplateReference != "" {
		tmpl, err := o.db.GetTemplate(r.Context(), req.TemplateReference)
		if errors.Is(err, db.ErrNotFound) || (err == nil && tmpl.Organization != org.Id) {
			apierr.Write(w, apierr.NotFoundError("template"), http.StatusNotFound)
			return
		}
		if err != nil {
			apierr.Write(w, apierr.GenericError(err), http.StatusInternalServerError)
			return
		}
	}

	if err := o.db.CreateJob(r.Context(), job); err != nil {
		o.l.Error("failed to create job", "org", org.Id, "err", err)
		apierr.Write(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}

	writeJson(w, http.StatusCreated, job)
}

func (o *Orchestrator) GetJob(w http.ResponseWriter, r *http.Request) {
	writeJson(w, http.StatusOK, jobFrom(r.Context()))
}

// Materialize creates the job's steps from its flow.
func (o *Orchestrator) Materialize(w http.ResponseWriter, r *http.Request) {
	job := jobFrom(r.Context())

	job, err := o.eng.Materialize(r.Context(), job.Id)
	if errors.Is(err, db.ErrNotFound) {
		apierr.Write(w, apierr.NotFoundError("template"), http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		o.l.Error("failed to materialize job", "err", err)
		apierr.Write(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}

	writeJson(w, http.StatusOK, job)
}

// NextStep answers with the next pending step and its flow entry, or 204
// when there is none.
func (o *Orchestrator) NextStep(w http.ResponseWriter, r *http.Request) {
	job := jobFrom(r.Context())

	next, err := o.eng.Next(r.Context(), job)
	if err != nil {
		o.l.Error("failed to select next step", "job", job.Id, "err", err)
		apierr.Write(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}
	if next == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJson(w, http.StatusOK, next)
}

func (o *Orchestrator) CurrentStep(w http.ResponseWriter, r *http.Request) {
	job := jobFrom(r.Context())

	id, err := o.eng.CurrentStepID(r.Context(), job)
	if err != nil {
		o.l.Error("failed to select current step", "job", job.Id, "err", err)
		apierr.Write(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}

	writeJson(w, http.StatusOK, map[string]string{"stepId": id})
}

func (o *Orchestrator) Approve(w http.ResponseWriter, r *http.Request) {
	job := jobFrom(r.Context())

	p, ok := principalFrom(r)
	if !ok {
		apierr.Write(w, apierr.MissingPrincipalError, http.StatusUnauthorized)
		return
	}

	step, err := o.eng.Approve(r.Context(), job, p)
	switch {
	case err == nil:
		writeJson(w, http.StatusOK, step)
	case errors.Is(err, engine.ErrApprovalDenied):
		apierr.Write(w, apierr.AccessControlError(p.String()), http.StatusForbidden)
	case errors.Is(err, engine.ErrNoPendingStep),
		errors.Is(err, engine.ErrNotApprovalStep),
		errors.Is(err, engine.ErrInvalidTransition):
		apierr.Write(w, apierr.ConflictError(err), http.StatusConflict)
	default:
		o.l.Error("failed to approve step", "job", job.Id, "principal", p.String(), "err", err)
		apierr.Write(w, apierr.GenericError(err), http.StatusInternalServerError)
	}
}

type stepStatusRequest struct {
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
}

// UpdateStepStatus records progress reported by an executor.
func (o *Orchestrator) UpdateStepStatus(w http.ResponseWriter, r *http.Request) {
	var req stepStatusRequest
	if err := decodeJson(r, &req); err != nil {
		apierr.Write(w, apierr.InvalidRequestError(err), http.StatusBadRequest)
		return
	}

	status, err := models.ParseStepStatus(req.Status)
	if err != nil {
		apierr.Write(w, apierr.InvalidRequestError(err), http.StatusBadRequest)
		return
	}

	actor := ""
	if p, ok := principalFrom(r); ok {
		actor = p.String()
	}

	step, err := o.eng.UpdateStepStatus(r.Context(), chi.URLParam(r, "step"), status, req.Output, actor)
	switch {
	case err == nil:
		writeJson(w, http.StatusOK, step)
	case errors.Is(err, db.ErrNotFound):
		apierr.Write(w, apierr.NotFoundError("step"), http.StatusNotFound)
	case errors.Is(err, engine.ErrInvalidTransition):
		apierr.Write(w, apierr.ConflictError(err), http.StatusConflict)
	default:
		o.l.Error("failed to update step", "err", err)
		apierr.Write(w, apierr.GenericError(err), http.StatusInternalServerError)
	}
}
