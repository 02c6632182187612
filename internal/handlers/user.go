package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/authhub/internal/handlers/render"
	"github.com/nkiryanov/authhub/internal/handlers/userctx"
	"github.com/nkiryanov/authhub/internal/logger"
	"github.com/nkiryanov/authhub/internal/models"
	"github.com/nkiryanov/authhub/internal/repository"
	"github.com/nkiryanov/authhub/internal/service/user"
)

const defaultListLimit = 100

// Public user profile. Password hash never leaves the service
type profileResponse struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	ProfileImage *string   `json:"profile_image_path"`
	IsActive     bool      `json:"is_active"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newProfileResponse(u models.User) profileResponse {
	return profileResponse{
		ID:           u.ID,
		Email:        u.Email,
		Username:     u.Username,
		ProfileImage: u.ProfileImage,
		IsActive:     u.IsActive,
		IsAdmin:      u.IsAdmin,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

// Actor put to context by auth middleware and user id from path
// Renders error and returns false if any is missed
func actorAndTarget(w http.ResponseWriter, r *http.Request) (models.User, uuid.UUID, bool) {
	actor, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
		return actor, uuid.Nil, false
	}

	targetID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		render.ServiceError(w, "Invalid user id", http.StatusBadRequest)
		return actor, uuid.Nil, false
	}

	return actor, targetID, true
}

func handleCreateUser(userService userService, storage repository.Storage, l logger.Logger) http.Handler {
	type request struct {
		Email        string  `json:"email" validate:"required,email,max=255"`
		Username     string  `json:"username" validate:"required,min=3,max=50,username"`
		Password     string  `json:"password" validate:"required,min=8,max=128,password"`
		ProfileImage *string `json:"profile_image_path" validate:"omitnil,profile_image"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		if data.ProfileImage != nil && *data.ProfileImage == "" {
			data.ProfileImage = nil
		}

		var created models.User
		err = storage.InTx(r.Context(), func(tx repository.Storage) error {
			var err error
			created, err = userService.Create(r.Context(), tx, user.CreateParams{
				Email:        data.Email,
				Username:     data.Username,
				Password:     data.Password,
				ProfileImage: data.ProfileImage,
			})
			return err
		})
		if err != nil {
			renderError(w, err, l)
			return
		}

		render.JSONWithStatus(w, newProfileResponse(created), http.StatusCreated)
	})
}

func handleUserMe() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, newProfileResponse(actor))
	})
}

// List users with 'skip' and 'limit' query params
func handleListUsers(userService userService, storage repository.Storage, l logger.Logger) http.Handler {
	queryInt := func(r *http.Request, key string, fallback int) (int, error) {
		value := r.URL.Query().Get(key)
		if value == "" {
			return fallback, nil
		}
		return strconv.Atoi(value)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		skip, err := queryInt(r, "skip", 0)
		if err != nil {
			render.ServiceError(w, "Query param 'skip' has to be integer", http.StatusBadRequest)
			return
		}
		limit, err := queryInt(r, "limit", defaultListLimit)
		if err != nil {
			render.ServiceError(w, "Query param 'limit' has to be integer", http.StatusBadRequest)
			return
		}

		var users []models.User
		err = storage.InTx(r.Context(), func(tx repository.Storage) error {
			var err error
			users, err = userService.List(r.Context(), tx, actor, skip, limit)
			return err
		})
		if err != nil {
			renderError(w, err, l)
			return
		}

		res := make([]profileResponse, 0, len(users))
		for _, u := range users {
			res = append(res, newProfileResponse(u))
		}
		render.JSON(w, res)
	})
}

func handleGetUser(userService userService, storage repository.Storage, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, targetID, ok := actorAndTarget(w, r)
		if !ok {
			return
		}

		var target models.User
		err := storage.InTx(r.Context(), func(tx repository.Storage) error {
			var err error
			target, err = userService.Get(r.Context(), tx, actor, targetID)
			return err
		})
		if err != nil {
			renderError(w, err, l)
			return
		}

		render.JSON(w, newProfileResponse(target))
	})
}

// Partial update: absent fields stay as is, empty profile_image_path removes the image
func handleUpdateUser(userService userService, storage repository.Storage, l logger.Logger) http.Handler {
	type request struct {
		Username     *string `json:"username" validate:"omitnil,min=3,max=50,username"`
		ProfileImage *string `json:"profile_image_path" validate:"omitnil,profile_image"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, targetID, ok := actorAndTarget(w, r)
		if !ok {
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		var updated models.User
		err = storage.InTx(r.Context(), func(tx repository.Storage) error {
			var err error
			updated, err = userService.UpdateProfile(r.Context(), tx, actor, targetID, user.UpdateProfileParams{
				Username:     data.Username,
				ProfileImage: data.ProfileImage,
			})
			return err
		})
		if err != nil {
			renderError(w, err, l)
			return
		}

		render.JSON(w, newProfileResponse(updated))
	})
}

func handleChangePassword(userService userService, storage repository.Storage, l logger.Logger) http.Handler {
	type request struct {
		CurrentPassword string `json:"current_password" validate:"required"`
		NewPassword     string `json:"new_password" validate:"required,min=8,max=128,password"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, targetID, ok := actorAndTarget(w, r)
		if !ok {
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		err = storage.InTx(r.Context(), func(tx repository.Storage) error {
			return userService.ChangePassword(r.Context(), tx, actor, targetID, data.CurrentPassword, data.NewPassword)
		})
		if err != nil {
			renderError(w, err, l)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

func handleDeactivateUser(userService userService, storage repository.Storage, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, targetID, ok := actorAndTarget(w, r)
		if !ok {
			return
		}

		var deactivated models.User
		err := storage.InTx(r.Context(), func(tx repository.Storage) error {
			var err error
			deactivated, err = userService.Deactivate(r.Context(), tx, actor, targetID)
			return err
		})
		if err != nil {
			renderError(w, err, l)
			return
		}

		render.JSON(w, newProfileResponse(deactivated))
	})
}

func handleSetAdmin(userService userService, storage repository.Storage, l logger.Logger) http.Handler {
	type request struct {
		IsAdmin *bool `json:"is_admin" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, targetID, ok := actorAndTarget(w, r)
		if !ok {
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		var updated models.User
		err = storage.InTx(r.Context(), func(tx repository.Storage) error {
			var err error
			updated, err = userService.SetAdmin(r.Context(), tx, actor, targetID, *data.IsAdmin)
			return err
		})
		if err != nil {
			renderError(w, err, l)
			return
		}

		render.JSON(w, newProfileResponse(updated))
	})
}

func handleDeleteUser(userService userService, storage repository.Storage, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, targetID, ok := actorAndTarget(w, r)
		if !ok {
			return
		}

		err := storage.InTx(r.Context(), func(tx repository.Storage) error {
			return userService.Delete(r.Context(), tx, actor, targetID)
		})
		if err != nil {
			renderError(w, err, l)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}
