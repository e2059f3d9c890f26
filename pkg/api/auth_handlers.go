package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quarryhq/quarry/pkg/auth"
	"github.com/quarryhq/quarry/pkg/httputil"
	"github.com/quarryhq/quarry/pkg/middleware"
	"github.com/quarryhq/quarry/pkg/objects"
	"github.com/quarryhq/quarry/pkg/policy"
)

var allowedGenders = map[string]bool{
	"male":              true,
	"female":            true,
	"nonbinary":         true,
	"prefer_not_to_say": true,
}

var allowedAvatarExts = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

const minRegistrationAge = 18

// userPayload is the wire shape of a user, with the role id mapped to its
// name.
type userPayload struct {
	*auth.User
	Role string `json:"role"`
}

func userResponse(u *auth.User) userPayload {
	return userPayload{User: u, Role: auth.RoleName(u.RoleID)}
}

// register handles POST /auth/register (multipart form with optional avatar).
// New accounts always get the employee role.
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.maxUploadBytes + (1 << 20)); err != nil {
		httputil.WriteValidationError(w, "expected multipart form data")
		return
	}

	email := strings.ToLower(strings.TrimSpace(r.FormValue("email")))
	password := r.FormValue("password")
	fullName := strings.TrimSpace(r.FormValue("full_name"))

	if email == "" || !strings.Contains(email, "@") {
		httputil.WriteValidationError(w, "a valid email is required")
		return
	}
	if password == "" {
		httputil.WriteValidationError(w, "password is required")
		return
	}
	if fullName == "" {
		httputil.WriteValidationError(w, "full_name is required")
		return
	}

	gender := r.FormValue("gender")
	if gender == "" {
		gender = "prefer_not_to_say"
	}
	if !allowedGenders[gender] {
		httputil.WriteValidationError(w, "invalid gender")
		return
	}

	birthdate, err := parseBirthdate(r.FormValue("birthdate"))
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	user := &auth.User{
		Email:        email,
		PasswordHash: hash,
		FullName:     fullName,
		Phone:        strings.TrimSpace(r.FormValue("phone")),
		Birthdate:    birthdate,
		Gender:       gender,
		RoleID:       auth.RoleEmployee,
		Active:       true,
	}

	if file, header, err := r.FormFile("avatar"); err == nil {
		defer file.Close()
		url, err := s.storeAvatar(r, file, header.Filename)
		if err != nil {
			httputil.WriteValidationError(w, err.Error())
			return
		}
		user.AvatarURL = url
	}

	if err := s.storage.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, ErrConflict) {
			httputil.WriteConflict(w, "email already registered")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	s.recorder.Record(r.Context(), user.Email, "register", "user", user.Email)
	httputil.WriteCreated(w, userResponse(user))
}

func parseBirthdate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, fmt.Errorf("birthdate must be an ISO date (YYYY-MM-DD)")
	}
	if t.After(time.Now().AddDate(-minRegistrationAge, 0, 0)) {
		return nil, fmt.Errorf("must be at least %d years old", minRegistrationAge)
	}
	return &t, nil
}

// storeAvatar validates the extension and writes the file to the object
// store, returning the public URL.
func (s *Server) storeAvatar(r *http.Request, file io.Reader, filename string) (string, error) {
	if s.objects == nil {
		return "", fmt.Errorf("avatar uploads are not configured")
	}
	ext := strings.ToLower(filepath.Ext(filename))
	contentType, ok := allowedAvatarExts[ext]
	if !ok {
		return "", fmt.Errorf("avatar must be a jpg, jpeg or png file")
	}

	key := fmt.Sprintf("avatars/%s%s", uuid.NewString(), ext)
	limited := io.LimitReader(file, s.maxUploadBytes)
	if err := s.objects.Put(r.Context(), key, limited, contentType); err != nil {
		return "", fmt.Errorf("failed to store avatar: %w", err)
	}
	return objects.PublicURL(key), nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	User        userPayload `json:"user"`
}

// login handles POST /auth/login
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := s.storage.GetUser(r.Context(), email)
	if err != nil || !user.Active || !auth.VerifyPassword(req.Password, user.PasswordHash) {
		if err != nil && !errors.Is(err, ErrNotFound) {
			httputil.WriteInternalError(w, err)
			return
		}
		if s.metrics != nil {
			s.metrics.LoginsTotal.WithLabelValues("failure").Inc()
		}
		httputil.WriteUnauthorized(w, "invalid email or password")
		return
	}

	token, err := s.signer.Issue(auth.Identity{Email: user.Email, RoleID: user.RoleID})
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.LoginsTotal.WithLabelValues("success").Inc()
	}
	httputil.WriteSuccess(w, loginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        userResponse(user),
	})
}

// currentUser loads the account behind the session identity. A valid token
// for a since-deleted account yields 401, not an internal error.
func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) (*auth.User, bool) {
	identity := middleware.IdentityFrom(r)
	user, err := s.storage.GetUser(r.Context(), identity.Email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteUnauthorized(w, "account no longer exists")
			return nil, false
		}
		httputil.WriteInternalError(w, err)
		return nil, false
	}
	return user, true
}

// getMe handles GET /users/me
func (s *Server) getMe(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, userResponse(user))
}

type updateProfileRequest struct {
	FullName  *string `json:"full_name"`
	Phone     *string `json:"phone"`
	Birthdate *string `json:"birthdate"`
	Gender    *string `json:"gender"`
}

// updateMe handles PUT /users/me. Absent fields keep their current values.
func (s *Server) updateMe(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if req.FullName != nil {
		if strings.TrimSpace(*req.FullName) == "" {
			httputil.WriteValidationError(w, "full_name must not be empty")
			return
		}
		user.FullName = strings.TrimSpace(*req.FullName)
	}
	if req.Phone != nil {
		user.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Birthdate != nil {
		birthdate, err := parseBirthdate(*req.Birthdate)
		if err != nil {
			httputil.WriteValidationError(w, err.Error())
			return
		}
		user.Birthdate = birthdate
	}
	if req.Gender != nil {
		if !allowedGenders[*req.Gender] {
			httputil.WriteValidationError(w, "invalid gender")
			return
		}
		user.Gender = *req.Gender
	}

	if err := s.storage.UpdateUser(r.Context(), user); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	s.recorder.Record(r.Context(), user.Email, "update", "user", user.Email)
	httputil.WriteSuccess(w, userResponse(user))
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// changePassword handles POST /users/me/password
func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}

	var req changePasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if !auth.VerifyPassword(req.CurrentPassword, user.PasswordHash) {
		httputil.WriteUnauthorized(w, "current password is incorrect")
		return
	}
	if req.NewPassword == "" {
		httputil.WriteValidationError(w, "new_password is required")
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}
	user.PasswordHash = hash

	if err := s.storage.UpdateUser(r.Context(), user); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	s.recorder.Record(r.Context(), user.Email, "change_password", "user", user.Email)
	httputil.WriteSuccess(w, map[string]bool{"ok": true})
}

// uploadAvatar handles POST /users/me/avatar, replacing any previous avatar.
func (s *Server) uploadAvatar(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(s.maxUploadBytes + (1 << 20)); err != nil {
		httputil.WriteValidationError(w, "expected multipart form data")
		return
	}
	file, header, err := r.FormFile("avatar")
	if err != nil {
		httputil.WriteValidationError(w, "avatar file is required")
		return
	}
	defer file.Close()

	url, err := s.storeAvatar(r, file, header.Filename)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	// Drop the old object; a stale avatar is harmless if this fails.
	if old := strings.TrimPrefix(user.AvatarURL, "/uploads/"); old != "" && old != user.AvatarURL {
		_ = s.objects.Delete(r.Context(), old)
	}

	user.AvatarURL = url
	if err := s.storage.UpdateUser(r.Context(), user); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	s.recorder.Record(r.Context(), user.Email, "upload_avatar", "user", user.Email)
	httputil.WriteSuccess(w, userResponse(user))
}

// getUpload handles GET /uploads/{key}, streaming a stored object.
func (s *Server) getUpload(w http.ResponseWriter, r *http.Request) {
	if s.objects == nil {
		httputil.WriteNotFoundError(w, "not found")
		return
	}
	key, ok := httputil.ParsePathStringOrError(w, r, "key")
	if !ok {
		return
	}

	content, contentType, err := s.objects.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, objects.ErrNotFound) {
			httputil.WriteNotFoundError(w, "not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	defer content.Close()

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(http.StatusOK)
	io.Copy(w, content)
}

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// createUser handles POST /users (admin only).
func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authorize(w, r, policy.ResourceUser, policy.ActionCreate, "")
	if !ok {
		return
	}

	var req createUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		httputil.WriteValidationError(w, "a valid email is required")
		return
	}
	if req.Password == "" {
		httputil.WriteValidationError(w, "password is required")
		return
	}

	roleID := auth.RoleEmployee
	if req.Role != "" {
		id, known := auth.RoleID(req.Role)
		if !known {
			httputil.WriteValidationError(w, "invalid role")
			return
		}
		roleID = id
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	user := &auth.User{
		Email:        email,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(req.FullName),
		Gender:       "prefer_not_to_say",
		RoleID:       roleID,
		Active:       true,
	}

	if err := s.storage.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, ErrConflict) {
			httputil.WriteConflict(w, "email already registered")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	s.recorder.Record(r.Context(), identity.Email, "create", "user", user.Email)
	httputil.WriteCreated(w, userResponse(user))
}

type userListResponse struct {
	Users []userPayload `json:"users"`
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

// listUsers handles GET /users?role=&page=&limit=. Limit is clamped to
// [1,100].
func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, policy.ResourceUser, policy.ActionRead, ""); !ok {
		return
	}

	filter := UserFilter{
		Page:  httputil.QueryInt(r, "page", 1),
		Limit: httputil.QueryInt(r, "limit", 10),
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = 1
	}
	if filter.Limit > 100 {
		filter.Limit = 100
	}
	if role := r.URL.Query().Get("role"); role != "" {
		id, known := auth.RoleID(role)
		if !known {
			httputil.WriteValidationError(w, "invalid role")
			return
		}
		filter.RoleID = id
	}

	users, total, err := s.storage.ListUsers(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	payload := make([]userPayload, 0, len(users))
	for _, u := range users {
		payload = append(payload, userResponse(u))
	}
	httputil.WriteSuccess(w, userListResponse{
		Users: payload,
		Total: total,
		Page:  filter.Page,
		Limit: filter.Limit,
	})
}
