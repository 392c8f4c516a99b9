package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/teamgate/pkg/apperr"
	"github.com/platinummonkey/teamgate/pkg/auth"
	"github.com/platinummonkey/teamgate/pkg/httputil"
	"github.com/platinummonkey/teamgate/pkg/middleware"
	"github.com/platinummonkey/teamgate/pkg/teams"
)

// MemberHandlers serves membership and invitation routes.
type MemberHandlers struct {
	service *teams.Service
	members *teams.Members
	users   *teams.Store
	audit   *auth.AuditLogger
}

// NewMemberHandlers creates a new MemberHandlers
func NewMemberHandlers(service *teams.Service, members *teams.Members, users *teams.Store, audit *auth.AuditLogger) *MemberHandlers {
	return &MemberHandlers{
		service: service,
		members: members,
		users:   users,
		audit:   audit,
	}
}

// RegisterRoutes registers membership routes
func (h *MemberHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/teams/{id}/members", h.ListMembers).Methods("GET")
	router.HandleFunc("/teams/{id}/members", h.AddMember).Methods("POST")
	router.HandleFunc("/teams/{id}/members/{user_id}", h.UpdateMember).Methods("PUT")
	router.HandleFunc("/teams/{id}/members/{user_id}", h.RemoveMember).Methods("DELETE")

	router.HandleFunc("/teams/{id}/invitations", h.CreateInvitation).Methods("POST")
	router.HandleFunc("/teams/{id}/invitations", h.ListInvitations).Methods("GET")
	router.HandleFunc("/teams/{id}/invitations/{invitation_id}", h.RevokeInvitation).Methods("DELETE")
	router.HandleFunc("/invitations/{token}/accept", h.AcceptInvitation).Methods("POST")
}

// ListMembers lists a team's live members with their roles.
func (h *MemberHandlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	team, ok := h.loadTeam(w, r)
	if !ok {
		return
	}

	list, err := h.users.ListMembers(r.Context(), team.ID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// AddMember attaches an existing user to a team by email.
func (h *MemberHandlers) AddMember(w http.ResponseWriter, r *http.Request) {
	team, ok := h.loadTeam(w, r)
	if !ok {
		return
	}
	actor := middleware.ActorFromRequest(r)

	var req teams.AddMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.members.AddMember(r.Context(), actor, team, req.Email, req.Role); err != nil {
		h.audit.LogFromRequest(r, &actor.ID, "member.add", "team", strconv.FormatInt(team.ID, 10), auth.StatusFailure, err)
		httputil.WriteAppError(w, err)
		return
	}

	h.audit.LogFromRequest(r, &actor.ID, "member.add", "team", strconv.FormatInt(team.ID, 10), auth.StatusSuccess, nil)
	httputil.WriteCreated(w, map[string]string{"email": req.Email, "role": req.Role})
}

// UpdateMember changes a member's role label. The owner's role is
// immutable.
func (h *MemberHandlers) UpdateMember(w http.ResponseWriter, r *http.Request) {
	team, ok := h.loadTeam(w, r)
	if !ok {
		return
	}
	target, ok := h.loadTarget(w, r)
	if !ok {
		return
	}
	actor := middleware.ActorFromRequest(r)

	var req teams.UpdateMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.members.UpdateMemberRole(r.Context(), actor, team, target, req.Role); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"role": req.Role})
}

// RemoveMember detaches a member, clears their grants in the team, and
// falls back to the default team when they would end up teamless.
func (h *MemberHandlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	team, ok := h.loadTeam(w, r)
	if !ok {
		return
	}
	target, ok := h.loadTarget(w, r)
	if !ok {
		return
	}
	actor := middleware.ActorFromRequest(r)

	if err := h.members.RemoveMember(r.Context(), actor, team, target); err != nil {
		h.audit.LogFromRequest(r, &actor.ID, "member.remove", "team", strconv.FormatInt(team.ID, 10), auth.StatusFailure, err)
		httputil.WriteAppError(w, err)
		return
	}

	h.audit.LogFromRequest(r, &actor.ID, "member.remove", "team", strconv.FormatInt(team.ID, 10), auth.StatusSuccess, nil)
	httputil.WriteNoContent(w)
}

// CreateInvitation issues a token-backed email invitation.
func (h *MemberHandlers) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	team, ok := h.loadTeam(w, r)
	if !ok {
		return
	}
	actor := middleware.ActorFromRequest(r)

	var req teams.InviteMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	inv, err := h.members.InviteMember(r.Context(), actor, team, req.Email, req.Role)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	h.audit.LogFromRequest(r, &actor.ID, "invitation.create", "team", strconv.FormatInt(team.ID, 10), auth.StatusSuccess, nil)
	httputil.WriteCreated(w, inv)
}

// ListInvitations lists a team's pending invitations.
func (h *MemberHandlers) ListInvitations(w http.ResponseWriter, r *http.Request) {
	team, ok := h.loadTeam(w, r)
	if !ok {
		return
	}

	list, err := h.users.ListInvitations(r.Context(), team.ID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// RevokeInvitation withdraws a pending invitation.
func (h *MemberHandlers) RevokeInvitation(w http.ResponseWriter, r *http.Request) {
	team, ok := h.loadTeam(w, r)
	if !ok {
		return
	}
	invID, ok := httputil.ParsePathInt64OrError(w, r, "invitation_id")
	if !ok {
		return
	}

	actor := middleware.ActorFromRequest(r)
	if !actor.IsSuperAdmin() && team.OwnerID != actor.ID {
		httputil.WriteAppError(w, apperr.Denied("only the team owner may revoke invitations"))
		return
	}

	if err := h.users.DeleteInvitation(r.Context(), nil, invID); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// AcceptInvitation consumes an invitation token on behalf of the caller.
// The token travels in the path; the invited email must match the
// caller's.
func (h *MemberHandlers) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	token, ok := httputil.ParsePathStringOrError(w, r, "token")
	if !ok {
		return
	}
	actor := middleware.ActorFromRequest(r)

	// Only a token fragment reaches the audit trail.
	fragment := token
	if len(fragment) > 8 {
		fragment = fragment[:8]
	}

	if err := h.members.AcceptInvitation(r.Context(), token, actor); err != nil {
		h.audit.LogFromRequest(r, &actor.ID, "invitation.accept", "invitation", fragment, auth.StatusFailure, err)
		httputil.WriteAppError(w, err)
		return
	}

	h.audit.LogFromRequest(r, &actor.ID, "invitation.accept", "invitation", fragment, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, actor)
}

func (h *MemberHandlers) loadTeam(w http.ResponseWriter, r *http.Request) (*teams.Team, bool) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return nil, false
	}
	team, err := h.service.GetTeam(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return nil, false
	}
	return team, true
}

func (h *MemberHandlers) loadTarget(w http.ResponseWriter, r *http.Request) (*teams.User, bool) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return nil, false
	}
	user, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return nil, false
	}
	return user, true
}
