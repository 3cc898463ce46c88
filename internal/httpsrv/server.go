// Package httpsrv exposes the subsystem over HTTP. Authentication happens at
// the platform gateway, which forwards the resolved identity in X-User,
// X-Role and X-Teaches headers; handlers here only do authorization.
package httpsrv

import (
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/normal-oj/submissions/internal/permgate"
	"github.com/normal-oj/submissions/internal/results"
	"github.com/normal-oj/submissions/internal/stats"
	"github.com/normal-oj/submissions/internal/subm"
	"github.com/normal-oj/submissions/internal/substore"
	"github.com/normal-oj/submissions/internal/upload"
	"github.com/normal-oj/submissions/pkg/errs"
)

type Server struct {
	app *fiber.App

	catalog *subm.Catalog
	subs    *substore.Store
	uploads *upload.Coordinator
	results *results.Store
	stats   *stats.Aggregator

	validate *validator.Validate
	logger   *slog.Logger
}

func New(
	catalog *subm.Catalog,
	subs *substore.Store,
	uploads *upload.Coordinator,
	resultStore *results.Store,
	aggregator *stats.Aggregator,
	logger *slog.Logger,
) *Server {
	s := &Server{
		app:      fiber.New(fiber.Config{DisableStartupMessage: true}),
		catalog:  catalog,
		subs:     subs,
		uploads:  uploads,
		results:  resultStore,
		stats:    aggregator,
		validate: validator.New(),
		logger:   logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	s.app.Post("/problem/:id/initiate-test-case-upload", s.initiateUpload)
	s.app.Get("/problem/:id/test-case-upload-url", s.problemPartURL)
	s.app.Get("/upload-session/:session", s.uploadSession)
	s.app.Get("/upload-session/:session/part/:number", s.partUploadLocation)
	s.app.Post("/upload-session/:session/part/:number", s.reportPart)
	s.app.Put("/problem/:id/complete-test-case-upload", s.completeUpload)
	s.app.Delete("/upload-session/:session", s.cancelUpload)

	s.app.Post("/submission", s.createSubmission)
	s.app.Get("/submission", s.listSubmissions)
	s.app.Get("/submission/:sid", s.getSubmission)
	s.app.Get("/submission/:sid/output/:task/:case", s.getOutput)
	s.app.Get("/submission/:sid/compiled-binary", s.getCompiledBinary)
	s.app.Get("/submission/:sid/artifact/zip/:task", s.getArtifactZip)

	s.app.Get("/problem/:id/stats", s.problemStats)
	s.app.Get("/problem/:id/high-score", s.highScore)
	s.app.Get("/problem/:id/pass-rate", s.passRate)
}

// App exposes the underlying fiber app for serving and for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// actor reads the identity the gateway forwarded. An empty X-User means the
// request never passed the gateway.
func actor(c *fiber.Ctx) (permgate.Actor, error) {
	user := c.Get("X-User")
	if user == "" {
		return permgate.Actor{}, errs.New(errs.KindPermissionDenied, "request carries no identity")
	}
	a := permgate.Actor{
		User: user,
		Role: permgate.Role(c.Get("X-Role", string(permgate.RoleStudent))),
	}
	if teaches := c.Get("X-Teaches"); teaches != "" {
		for _, course := range strings.Split(teaches, ",") {
			if course = strings.TrimSpace(course); course != "" {
				a.Teaches = append(a.Teaches, course)
			}
		}
	}
	return a, nil
}

func statusOf(err error) int {
	switch errs.KindOf(err) {
	case errs.KindInvalidArgument:
		return fiber.StatusBadRequest
	case errs.KindNotFound:
		return fiber.StatusNotFound
	case errs.KindPermissionDenied:
		return fiber.StatusForbidden
	case errs.KindQuotaExceeded:
		return fiber.StatusTooManyRequests
	case errs.KindConflict:
		return fiber.StatusConflict
	case errs.KindUploadIntegrity:
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

// fail converts a domain error into the HTTP response. Internal errors are
// logged and masked.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := statusOf(err)
	if status == fiber.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
		return c.Status(status).JSON(fiber.Map{"error": "internal error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) parseBody(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return errs.New(errs.KindInvalidArgument, "malformed request body: %v", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return errs.New(errs.KindInvalidArgument, "invalid request body: %v", err)
	}
	return nil
}
