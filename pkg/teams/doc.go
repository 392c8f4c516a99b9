// Package teams provides multi-tenant team management: teams, membership,
// invitations, deletion cascades, and quotas.
//
// # Overview
//
// Every user belongs to at least one team and has a current team that
// scopes their permission checks. Two teams are reserved and can never
// be deleted: the admin team, holding the administrative role catalog,
// and the default team, where new users land and where users fall back
// when they lose their last membership.
//
// # Default Team Exclusivity
//
// Membership of the default team is exclusive. Joining it detaches the
// user from every other team; joining any other team detaches them from
// the default. An actor whose only team is their current one may only
// recruit members of the default team.
//
// # Components
//
//   - Store: raw SQL persistence for users, teams, memberships and
//     invitations, with soft deletes throughout
//   - Service: team lifecycle and current-team switching
//   - Members: add/remove/relabel members and the invitation flow,
//     gated on team ownership and abilities
//   - Cascades: transactional soft/hard deletion and restore for teams
//     and users
//   - Quotas: configurable limits on teams per user and members per team
//
// # Usage Example
//
// Add a member:
//
//	err := members.AddMember(ctx, actor, team, "bob@example.com", "editor")
//	if apperr.IsValidation(err) {
//		// surface field errors to the client
//	}
//
// Invite by email:
//
//	inv, err := members.InviteMember(ctx, actor, team, "bob@example.com", "editor")
//	// the invitation mail is dispatched after the row commits
//
// Delete a team:
//
//	err := cascades.SoftDeleteTeam(ctx, teamID)
//	// memberships, invitations and grant edges go with it, atomically
//
// # Related Packages
//
//   - pkg/rbac: team-scoped roles and permissions
//   - pkg/scope: active-team resolution from context
//   - pkg/hooks: before/after events around membership changes
package teams
