package rbac

import (
	"slices"
	"strings"
)

func (e *Enforcer) addRole(domain, subject, role string) error {
	_, err := e.E.AddGroupingPolicy(subject, role, domain)
	return err
}

func (e *Enforcer) removeRole(domain, subject, role string) error {
	_, err := e.E.RemoveGroupingPolicy(subject, role, domain)
	return err
}

func (e *Enforcer) isRole(user, role, domain string) (bool, error) {
	roles, err := e.E.GetImplicitRolesForUser(user, domain)
	if err != nil {
		return false, err
	}
	if slices.Contains(roles, role) {
		return true, nil
	}
	return false, nil
}

const (
	orgPrefix  = "org:"
	teamPrefix = "team:"
	appPrefix  = "app:"
	rolePrefix = "role:"
)

func intoOrg(org string) string {
	if !isOrg(org) {
		return orgPrefix + org
	}
	return org
}

func isOrg(domain string) bool {
	return strings.HasPrefix(domain, orgPrefix)
}

func intoTeam(team string) string {
	if !isTeam(team) {
		return teamPrefix + team
	}
	return team
}

func isTeam(s string) bool {
	return strings.HasPrefix(s, teamPrefix)
}

func intoApp(application string) string {
	if !strings.HasPrefix(application, appPrefix) {
		return appPrefix + application
	}
	return application
}
