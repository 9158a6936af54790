package rbac

import (
	"database/sql"
	"slices"
	"strings"

	adapter "github.com/Blank-Xu/sql-adapter"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	_ "github.com/mattn/go-sqlite3"
)

const (
	Model = `
[request_definition]
r = sub, dom, obj, act

[policy_definition]
p = sub, dom, obj, act

[role_definition]
g = _, _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.act == p.act && r.dom == p.dom && r.obj == p.obj && g(r.sub, p.sub, r.dom)
`
)

const (
	RoleOwner  = "role:owner"
	RoleMember = "role:member"
)

type Enforcer struct {
	E *casbin.SyncedEnforcer
}

func NewEnforcer(path string) (*Enforcer, error) {
	m, err := model.NewModelFromString(Model)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	a, err := adapter.NewAdapter(db, "sqlite3", "acl")
	if err != nil {
		return nil, err
	}

	e, err := casbin.NewSyncedEnforcer(m, a)
	if err != nil {
		return nil, err
	}

	e.EnableAutoSave(false)

	return &Enforcer{e}, nil
}

// AddOrganization sets up the organization's domain. Owners are members
// of every organization they own.
func (e *Enforcer) AddOrganization(org string) error {
	_, err := e.E.AddGroupingPolicy(RoleOwner, RoleMember, intoOrg(org))
	return err
}

func (e *Enforcer) AddOrganizationOwner(org, owner string) error {
	return e.addRole(intoOrg(org), owner, RoleOwner)
}

func (e *Enforcer) IsOrganizationOwner(user, org string) (bool, error) {
	return e.isRole(user, RoleOwner, intoOrg(org))
}

// teams are roles scoped to an organization; human users join them
// directly, service accounts join through their owning application.

func (e *Enforcer) AddTeamMember(org, team, user string) error {
	return e.addRole(intoOrg(org), user, intoTeam(team))
}

func (e *Enforcer) RemoveTeamMember(org, team, user string) error {
	return e.removeRole(intoOrg(org), user, intoTeam(team))
}

func (e *Enforcer) AddServiceMember(org, team, application string) error {
	return e.addRole(intoOrg(org), intoApp(application), intoTeam(team))
}

func (e *Enforcer) RemoveServiceMember(org, team, application string) error {
	return e.removeRole(intoOrg(org), intoApp(application), intoTeam(team))
}

func (e *Enforcer) IsTeamMember(user, team, org string) (bool, error) {
	return e.isRole(user, intoTeam(team), intoOrg(org))
}

func (e *Enforcer) IsServiceMember(application, team, org string) (bool, error) {
	return e.isRole(intoApp(application), intoTeam(team), intoOrg(org))
}

// GetTeamMembers lists direct and inherited members of a team, service
// accounts included with their "app:" prefix.
func (e *Enforcer) GetTeamMembers(team, org string) ([]string, error) {
	var members []string

	// walk down the grouping graph; roles and nested teams are followed, not listed.
	seen := map[string]bool{}
	pending := []string{intoTeam(team)}
	for len(pending) > 0 {
		role := pending[0]
		pending = pending[1:]

		for _, u := range e.E.GetUsersForRoleInDomain(role, intoOrg(org)) {
			if seen[u] {
				continue
			}
			seen[u] = true

			if isTeam(u) || strings.HasPrefix(u, rolePrefix) {
				pending = append(pending, u)
				continue
			}
			members = append(members, u)
		}
	}

	slices.Sort(members)
	return members, nil
}
