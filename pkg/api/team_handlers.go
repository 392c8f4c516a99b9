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

// TeamHandlers serves team CRUD, switching, and deletion cascades.
type TeamHandlers struct {
	service  *teams.Service
	cascades *teams.Cascades
	audit    *auth.AuditLogger
}

// NewTeamHandlers creates a new TeamHandlers
func NewTeamHandlers(service *teams.Service, cascades *teams.Cascades, audit *auth.AuditLogger) *TeamHandlers {
	return &TeamHandlers{
		service:  service,
		cascades: cascades,
		audit:    audit,
	}
}

// RegisterRoutes registers team routes
func (h *TeamHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/teams", h.CreateTeam).Methods("POST")
	router.HandleFunc("/teams", h.ListTeams).Methods("GET")
	router.HandleFunc("/teams/{id}", h.GetTeam).Methods("GET")
	router.HandleFunc("/teams/{id}", h.UpdateTeam).Methods("PUT")
	router.HandleFunc("/teams/{id}", h.DeleteTeam).Methods("DELETE")
	router.HandleFunc("/teams/{id}/restore", h.RestoreTeam).Methods("POST")
	router.HandleFunc("/teams/{id}/purge", h.PurgeTeam).Methods("DELETE")
	router.HandleFunc("/teams/{id}/switch", h.SwitchTeam).Methods("POST")
	router.HandleFunc("/teams/{id}/usage", h.GetUsage).Methods("GET")
}

// CreateTeam creates a team owned by the caller and makes it their
// current team.
func (h *TeamHandlers) CreateTeam(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromRequest(r)

	var req teams.CreateTeamRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	team, err := h.service.CreateTeam(r.Context(), actor, &req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	h.audit.LogFromRequest(r, &actor.ID, "team.create", "team", strconv.FormatInt(team.ID, 10), auth.StatusSuccess, nil)
	httputil.WriteCreated(w, team)
}

// ListTeams lists the caller's live teams.
func (h *TeamHandlers) ListTeams(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromRequest(r)

	list, err := h.service.ListUserTeams(r.Context(), actor.ID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// GetTeam retrieves a team by ID. Soft-deleted teams are invisible here.
func (h *TeamHandlers) GetTeam(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	team, err := h.service.GetTeam(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	actor := middleware.ActorFromRequest(r)
	if !actor.IsSuperAdmin() {
		member, err := h.service.BelongsToTeam(r.Context(), actor, team)
		if err != nil {
			httputil.WriteAppError(w, err)
			return
		}
		if !member {
			httputil.WriteAppError(w, apperr.Denied("not a member of this team"))
			return
		}
	}

	httputil.WriteSuccess(w, team)
}

// UpdateTeam renames a team. Owner or super admin only.
func (h *TeamHandlers) UpdateTeam(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	actor := middleware.ActorFromRequest(r)

	var req teams.UpdateTeamRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.service.UpdateTeam(r.Context(), actor, id, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	team, err := h.service.GetTeam(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, team)
}

// DeleteTeam soft-deletes a team and cascades over memberships,
// invitations and grants in one transaction.
func (h *TeamHandlers) DeleteTeam(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	actor := middleware.ActorFromRequest(r)

	if err := h.ownerGate(w, r, actor, id); err != nil {
		return
	}

	if err := h.cascades.SoftDeleteTeam(r.Context(), id); err != nil {
		h.audit.LogFromRequest(r, &actor.ID, "team.delete", "team", strconv.FormatInt(id, 10), auth.StatusFailure, err)
		httputil.WriteAppError(w, err)
		return
	}

	h.audit.LogFromRequest(r, &actor.ID, "team.delete", "team", strconv.FormatInt(id, 10), auth.StatusSuccess, nil)
	httputil.WriteNoContent(w)
}

// RestoreTeam brings back a soft-deleted team along with the memberships
// removed by the same cascade.
func (h *TeamHandlers) RestoreTeam(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	actor := middleware.ActorFromRequest(r)

	// The team is invisible to GetTeam while deleted, so the gate here is
	// super admin only.
	if !actor.IsSuperAdmin() {
		httputil.WriteAppError(w, apperr.Denied("only super admins may restore teams"))
		return
	}

	if err := h.cascades.RestoreTeam(r.Context(), id); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	h.audit.LogFromRequest(r, &actor.ID, "team.restore", "team", strconv.FormatInt(id, 10), auth.StatusSuccess, nil)
	httputil.WriteNoContent(w)
}

// PurgeTeam permanently removes a team, its memberships, invitations and
// its whole role catalog. There is no undo.
func (h *TeamHandlers) PurgeTeam(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	actor := middleware.ActorFromRequest(r)

	if !actor.IsSuperAdmin() {
		httputil.WriteAppError(w, apperr.Denied("only super admins may purge teams"))
		return
	}

	if err := h.cascades.HardDeleteTeam(r.Context(), id); err != nil {
		h.audit.LogFromRequest(r, &actor.ID, "team.purge", "team", strconv.FormatInt(id, 10), auth.StatusFailure, err)
		httputil.WriteAppError(w, err)
		return
	}

	h.audit.LogFromRequest(r, &actor.ID, "team.purge", "team", strconv.FormatInt(id, 10), auth.StatusSuccess, nil)
	httputil.WriteNoContent(w)
}

// SwitchTeam points the caller's current team at a team they belong to.
func (h *TeamHandlers) SwitchTeam(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	actor := middleware.ActorFromRequest(r)

	if err := h.service.SwitchTeam(r.Context(), actor, id); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, actor)
}

// GetUsage reports quota consumption for the caller and the team.
func (h *TeamHandlers) GetUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	actor := middleware.ActorFromRequest(r)

	usage, err := h.service.Quotas().Usage(r.Context(), actor, id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, usage)
}

func (h *TeamHandlers) ownerGate(w http.ResponseWriter, r *http.Request, actor *teams.User, teamID int64) error {
	if actor.IsSuperAdmin() {
		return nil
	}
	team, err := h.service.GetTeam(r.Context(), teamID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return err
	}
	if team.OwnerID != actor.ID {
		err := apperr.Denied("only the team owner may do this")
		httputil.WriteAppError(w, err)
		return err
	}
	return nil
}
