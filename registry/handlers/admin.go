package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/pierrelefevre/grain/internal/dcontext"
	"github.com/pierrelefevre/grain/registry/auth/userfile"
	"github.com/pierrelefevre/grain/registry/storage"
)

// adminMessage is the body of every admin API error response.
type adminMessage struct {
	Message string `json:"message"`
}

// userResponse is a user entry with the password stripped.
type userResponse struct {
	Username    string                `json:"username"`
	Permissions []userfile.Permission `json:"permissions"`
}

type userListResponse struct {
	Users []userResponse `json:"users"`
}

type createUserRequest struct {
	Username    string                `json:"username"`
	Password    string                `json:"password"`
	Permissions []userfile.Permission `json:"permissions"`
}

// addPermissionRequest serves both permission endpoints; Username is only
// read when the route carries no {username} variable.
type addPermissionRequest struct {
	Username   string   `json:"username,omitempty"`
	Repository string   `json:"repository"`
	Tag        string   `json:"tag"`
	Actions    []string `json:"actions"`
}

// registerAdminRoutes installs the user management and garbage collection
// endpoints. They exist only when the access controller exposes a user
// store, since admin rights are defined in terms of its grants.
func (app *App) registerAdminRoutes() {
	if app.store == nil {
		dcontext.GetLogger(app).Warn("admin API disabled: access controller does not expose a user store")
		return
	}

	admin := app.router.PathPrefix("/admin").Subrouter()

	admin.Handle("/users", app.instrumented("admin-users", handlers.MethodHandler{
		http.MethodGet:  app.adminHandler(app.handleListUsers),
		http.MethodPost: app.adminHandler(app.handleCreateUser),
	}))
	admin.Handle("/users/{username}", app.instrumented("admin-user", handlers.MethodHandler{
		http.MethodDelete: app.adminHandler(app.handleDeleteUser),
	}))
	admin.Handle("/users/{username}/permissions", app.instrumented("admin-user-permissions", handlers.MethodHandler{
		http.MethodPost: app.adminHandler(app.handleAddUserPermission),
	}))
	admin.Handle("/permissions", app.instrumented("admin-permissions", handlers.MethodHandler{
		http.MethodPost: app.adminHandler(app.handleAddPermission),
	}))
	admin.Handle("/gc", app.instrumented("admin-gc", handlers.MethodHandler{
		http.MethodPost: app.adminHandler(app.handleGarbageCollect),
	}))
}

// adminHandler gates an endpoint on basic auth plus the admin capability,
// a delete grant covering every repository and tag.
func (app *App) adminHandler(handler func(w http.ResponseWriter, r *http.Request, user userfile.User)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()

		var user userfile.User
		if ok {
			user, ok = app.store.Lookup(username, password)
		}
		if !ok {
			authFailures.Inc(1)
			w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q, charset=%q", app.realm(), "UTF-8"))
			serveJSONStatus(w, http.StatusUnauthorized, adminMessage{Message: "authentication required"})
			return
		}

		if !app.store.IsAdmin(user.Username) {
			permissionDenials.Inc(1)
			dcontext.GetLogger(r.Context()).Warnf("admin access denied for user %s", user.Username)
			serveJSONStatus(w, http.StatusForbidden, adminMessage{Message: "admin access required"})
			return
		}

		handler(w, r, user)
	})
}

func (app *App) handleListUsers(w http.ResponseWriter, r *http.Request, _ userfile.User) {
	users := app.store.Users()

	list := make([]userResponse, 0, len(users))
	for _, u := range users {
		list = append(list, userResponse{Username: u.Username, Permissions: u.Permissions})
	}

	serveJSON(w, userListResponse{Users: list})
}

func (app *App) handleCreateUser(w http.ResponseWriter, r *http.Request, _ userfile.User) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		serveJSONStatus(w, http.StatusBadRequest, adminMessage{Message: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if req.Username == "" {
		serveJSONStatus(w, http.StatusBadRequest, adminMessage{Message: "invalid request: username is required"})
		return
	}
	if req.Permissions == nil {
		req.Permissions = []userfile.Permission{}
	}

	err := app.store.Create(userfile.User{
		Username:    req.Username,
		Password:    req.Password,
		Permissions: req.Permissions,
	})
	switch {
	case errors.Is(err, userfile.ErrUserExists):
		serveJSONStatus(w, http.StatusConflict, adminMessage{Message: "User already exists"})
		return
	case err != nil:
		dcontext.GetLogger(r.Context()).Errorf("failed to save users: %v", err)
		serveJSONStatus(w, http.StatusInternalServerError, adminMessage{Message: "failed to save users"})
		return
	}

	dcontext.GetLogger(r.Context()).Infof("created user %s", req.Username)
	serveJSONStatus(w, http.StatusCreated, userResponse{Username: req.Username, Permissions: req.Permissions})
}

func (app *App) handleDeleteUser(w http.ResponseWriter, r *http.Request, user userfile.User) {
	username := mux.Vars(r)["username"]

	if username == user.Username {
		serveJSONStatus(w, http.StatusBadRequest, adminMessage{Message: "Cannot delete yourself"})
		return
	}

	err := app.store.Delete(username)
	switch {
	case errors.Is(err, userfile.ErrUserNotFound):
		serveJSONStatus(w, http.StatusNotFound, adminMessage{Message: "User not found"})
		return
	case err != nil:
		dcontext.GetLogger(r.Context()).Errorf("failed to save users: %v", err)
		serveJSONStatus(w, http.StatusInternalServerError, adminMessage{Message: "failed to save users"})
		return
	}

	dcontext.GetLogger(r.Context()).Infof("deleted user %s", username)
	w.WriteHeader(http.StatusOK)
}

func (app *App) handleAddUserPermission(w http.ResponseWriter, r *http.Request, _ userfile.User) {
	app.addPermission(w, r, mux.Vars(r)["username"])
}

func (app *App) handleAddPermission(w http.ResponseWriter, r *http.Request, _ userfile.User) {
	app.addPermission(w, r, "")
}

func (app *App) addPermission(w http.ResponseWriter, r *http.Request, username string) {
	var req addPermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		serveJSONStatus(w, http.StatusBadRequest, adminMessage{Message: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if username == "" {
		username = req.Username
	}

	permission := userfile.Permission{
		Repository: req.Repository,
		Tag:        req.Tag,
		Actions:    req.Actions,
	}

	err := app.store.AddPermission(username, permission)
	switch {
	case errors.Is(err, userfile.ErrUserNotFound):
		serveJSONStatus(w, http.StatusNotFound, adminMessage{Message: "User not found"})
		return
	case err != nil:
		dcontext.GetLogger(r.Context()).Errorf("failed to save users: %v", err)
		serveJSONStatus(w, http.StatusInternalServerError, adminMessage{Message: "failed to save users"})
		return
	}

	dcontext.GetLogger(r.Context()).Infof("added permission for user %s on %s:%s %v",
		username, permission.Repository, permission.Tag, permission.Actions)
	serveJSON(w, permission)
}

// handleGarbageCollect runs a mark and sweep pass over the blob store. The
// grace period defaults to the configured value so that a bare POST is
// safe against in-flight pushes.
func (app *App) handleGarbageCollect(w http.ResponseWriter, r *http.Request, user userfile.User) {
	opts := storage.GCOpts{GracePeriod: app.Config.GC.GracePeriod}
	if opts.GracePeriod == 0 {
		opts.GracePeriod = 24 * time.Hour
	}

	if v := r.URL.Query().Get("dry_run"); v != "" {
		dryRun, err := strconv.ParseBool(v)
		if err != nil {
			serveJSONStatus(w, http.StatusBadRequest, adminMessage{Message: fmt.Sprintf("invalid request: dry_run: %v", err)})
			return
		}
		opts.DryRun = dryRun
	}
	if v := r.URL.Query().Get("grace_period_hours"); v != "" {
		hours, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			serveJSONStatus(w, http.StatusBadRequest, adminMessage{Message: fmt.Sprintf("invalid request: grace_period_hours: %v", err)})
			return
		}
		opts.GracePeriod = time.Duration(hours) * time.Hour
	}

	dcontext.GetLogger(r.Context()).Infof("admin %s initiated garbage collection (dry run: %t, grace period: %s)",
		user.Username, opts.DryRun, opts.GracePeriod)

	stats, err := storage.MarkAndSweep(r.Context(), app.driver, opts)
	if err != nil {
		dcontext.GetLogger(r.Context()).Errorf("garbage collection failed: %v", err)
		serveJSONStatus(w, http.StatusInternalServerError, adminMessage{Message: "garbage collection failed"})
		return
	}

	serveJSON(w, stats)
}
