package approval

import (
	"context"
	"fmt"
	"log/slog"

	"tangled.sh/tangled.sh/provisioner/flow"
	"tangled.sh/tangled.sh/provisioner/orchestrator/models"
)

// Principal is whoever asks to approve a step. Service accounts act on
// behalf of an application and are checked by that application's
// membership.
type Principal struct {
	Subject        string
	ServiceAccount bool
	Application    string
}

func (p Principal) String() string {
	if p.ServiceAccount {
		return fmt.Sprintf("service:%s(%s)", p.Subject, p.Application)
	}
	return p.Subject
}

type Membership interface {
	IsTeamMember(user, team, org string) (bool, error)
	IsServiceMember(application, team, org string) (bool, error)
}

// Gate decides whether a principal may approve an approval step. It asks
// the membership store on every call.
type Gate struct {
	members Membership
	l       *slog.Logger
}

func NewGate(members Membership, l *slog.Logger) *Gate {
	return &Gate{
		members: members,
		l:       l.With("component", "approval"),
	}
}

// EffectiveTeam returns the team whose members may approve entry. A team
// configured on the job takes precedence over the one in the flow.
func EffectiveTeam(job *models.Job, entry flow.Entry) string {
	if job.ApprovalTeam != "" {
		return job.ApprovalTeam
	}
	return entry.Team
}

func (g *Gate) MayApprove(ctx context.Context, job *models.Job, entry flow.Entry, p Principal) (bool, error) {
	team := EffectiveTeam(job, entry)
	l := g.l.With("job", job.Id, "step", entry.Step, "team", team, "principal", p.String())

	if team == "" {
		l.Debug("no approval team configured")
		return true, nil
	}

	var (
		ok  bool
		err error
	)
	if p.ServiceAccount {
		ok, err = g.members.IsServiceMember(p.Application, team, job.Organization)
	} else {
		ok, err = g.members.IsTeamMember(p.Subject, team, job.Organization)
	}
	if err != nil {
		return false, fmt.Errorf("checking membership of %s in %s: %w", p, team, err)
	}

	l.Info("approval checked", "allowed", ok)
	return ok, nil
}
