// Package httpapi serves the REST surface: account registration, login and
// screening form submissions.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/example/chat-gateway/internal/auth"
	"github.com/example/chat-gateway/internal/questions"
	"github.com/example/chat-gateway/internal/users"
)

// UserStore is the account persistence the API needs. *users.Store
// implements it.
type UserStore interface {
	Create(ctx context.Context, email, passwordHash, displayName string) (*users.User, error)
	ByEmail(ctx context.Context, email string) (*users.User, error)
	ByID(ctx context.Context, id int64) (*users.User, error)
}

// QuestionStore is the submission persistence the API needs.
// *questions.Store implements it.
type QuestionStore interface {
	Insert(ctx context.Context, userID, formVersion string, answers map[string]string, tags []string) (*questions.Submission, error)
	ListByUser(ctx context.Context, userID string) ([]questions.Submission, error)
}

// Server wires the REST handlers to their stores. The questions store is
// optional; when it is nil the questions endpoints answer 503 and everything
// else keeps working.
type Server struct {
	users     UserStore
	questions QuestionStore
	issuer    *auth.Issuer
	validator *auth.Validator
}

func NewServer(u UserStore, q QuestionStore, issuer *auth.Issuer, validator *auth.Validator) *Server {
	return &Server{users: u, questions: q, issuer: issuer, validator: validator}
}

// App builds the fiber application with all routes registered.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Post("/auth/register", s.register)
	app.Post("/auth/login", s.login)

	authed := app.Group("/", requireAuth(s.validator))
	authed.Get("/users/me", s.me)
	authed.Post("/questions", s.submitQuestions)
	authed.Get("/questions", s.listQuestions)

	return app
}

func (s *Server) register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return badRequest(c, "Email and password are required")
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return internalError(c, "register", err)
	}

	u, err := s.users.Create(c.UserContext(), req.Email, hash, req.DisplayName)
	if errors.Is(err, users.ErrEmailTaken) {
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
			Error:   "email_taken",
			Message: "An account with this email already exists",
		})
	}
	if err != nil {
		return internalError(c, "register", err)
	}

	return s.issueFor(c, u, fiber.StatusCreated)
}

func (s *Server) login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return badRequest(c, "Email and password are required")
	}

	u, err := s.users.ByEmail(c.UserContext(), req.Email)
	if err == nil && !auth.VerifyPassword(req.Password, u.PasswordHash) {
		err = users.ErrNotFound
	}
	if errors.Is(err, users.ErrNotFound) {
		// Same answer for unknown email and wrong password.
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Error:   "invalid_credentials",
			Message: "Email or password is incorrect",
		})
	}
	if err != nil {
		return internalError(c, "login", err)
	}

	return s.issueFor(c, u, fiber.StatusOK)
}

func (s *Server) issueFor(c *fiber.Ctx, u *users.User, status int) error {
	subject := strconv.FormatInt(u.ID, 10)
	token, err := s.issuer.IssueAccessToken(subject, u.Email, u.DisplayName)
	if err != nil {
		return internalError(c, "issue token", err)
	}
	return c.Status(status).JSON(AuthResponse{
		AccessToken: token,
		User:        UserPayload{ID: subject, Email: u.Email, DisplayName: u.DisplayName},
	})
}

func (s *Server) me(c *fiber.Ctx) error {
	identity := identityFrom(c)
	id, err := strconv.ParseInt(identity.Subject, 10, 64)
	if err != nil {
		return badRequest(c, "Token subject is not a user id")
	}

	u, err := s.users.ByID(c.UserContext(), id)
	if errors.Is(err, users.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error:   "not_found",
			Message: "User not found",
		})
	}
	if err != nil {
		return internalError(c, "users/me", err)
	}

	return c.JSON(fiber.Map{"user": UserPayload{
		ID:          strconv.FormatInt(u.ID, 10),
		Email:       u.Email,
		DisplayName: u.DisplayName,
	}})
}

func (s *Server) submitQuestions(c *fiber.Ctx) error {
	if s.questions == nil {
		return questionsUnavailable(c)
	}

	var req SubmitQuestionsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.FormVersion == "" {
		req.FormVersion = "v1"
	}

	sub, err := s.questions.Insert(c.UserContext(), identityFrom(c).Subject, req.FormVersion, req.Answers, req.Tags)
	if err != nil {
		return internalError(c, "submit questions", err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":        sub.ID.Hex(),
		"riskScore": sub.RiskScore,
		"riskLevel": sub.RiskLevel,
	})
}

func (s *Server) listQuestions(c *fiber.Ctx) error {
	if s.questions == nil {
		return questionsUnavailable(c)
	}

	items, err := s.questions.ListByUser(c.UserContext(), identityFrom(c).Subject)
	if err != nil {
		return internalError(c, "list questions", err)
	}
	return c.JSON(fiber.Map{"items": items})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error:   "bad_request",
		Message: message,
	})
}

func questionsUnavailable(c *fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
		Error:   "unavailable",
		Message: "Questions database unavailable",
	})
}

func internalError(c *fiber.Ctx, op string, err error) error {
	slog.Error("Request failed", "op", op, "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Error:   "internal",
		Message: "Request failed",
	})
}
