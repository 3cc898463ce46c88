package httpsrv

import (
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/normal-oj/submissions/api"
	"github.com/normal-oj/submissions/internal/permgate"
	"github.com/normal-oj/submissions/internal/subm"
	"github.com/normal-oj/submissions/internal/substore"
	"github.com/normal-oj/submissions/pkg/errs"
)

func (s *Server) createSubmission(c *fiber.Ctx) error {
	a, err := actor(c)
	if err != nil {
		return s.fail(c, err)
	}

	var req api.CreateSubmissionReq
	if err := s.parseBody(c, &req); err != nil {
		return s.fail(c, err)
	}

	sub, err := s.subs.Create(c.Context(), a.User, req.ProblemID, req.Language, subm.Kind(req.Kind), req.Payload)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"submission_id": sub.ID,
		"status":        string(sub.Status),
		"timestamp":     sub.CreatedAt.Unix(),
	})
}

func (s *Server) listSubmissions(c *fiber.Ctx) error {
	a, err := actor(c)
	if err != nil {
		return s.fail(c, err)
	}

	var filter substore.ListFilter
	if filter.Offset, err = queryNumber(c, "offset"); err != nil {
		return s.fail(c, err)
	}
	if filter.Count, err = queryNumber(c, "count"); err != nil {
		return s.fail(c, err)
	}
	if v := c.Query("problem"); v != "" {
		problemID, err := strconv.Atoi(v)
		if err != nil {
			return s.fail(c, errs.New(errs.KindInvalidArgument, "problem must be numeric, got %q", v))
		}
		filter.ProblemID = &problemID
	}
	if v := c.Query("owner"); v != "" {
		filter.Owner = &v
	}
	if v := c.Query("state"); v != "" {
		status := subm.Status(v)
		filter.Status = &status
	}
	if v := c.Query("language"); v != "" {
		filter.Language = &v
	}

	resp, err := s.subs.List(filter, a)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(resp)
}

// queryNumber parses an optional numeric query parameter. Non-numeric input
// is a client error, never silently coerced to a default.
func queryNumber(c *fiber.Ctx, name string) (int, error) {
	v := c.Query(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errs.New(errs.KindInvalidArgument, "%s must be numeric, got %q", name, v)
	}
	return n, nil
}

func (s *Server) getSubmission(c *fiber.Ctx) error {
	a, err := actor(c)
	if err != nil {
		return s.fail(c, err)
	}
	view, err := s.subs.Get(c.Context(), c.Params("sid"), a)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(view)
}

// gateField resolves the submission, its problem config, and one field
// decision for the calling actor.
func (s *Server) gateField(c *fiber.Ctx, submissionID string, field permgate.Field) (*subm.Submission, permgate.Decision, error) {
	a, err := actor(c)
	if err != nil {
		return nil, permgate.Denied, err
	}
	sub, err := s.subs.Snapshot(submissionID)
	if err != nil {
		return nil, permgate.Denied, err
	}
	cfg, err := s.catalog.Get(sub.ProblemID)
	if err != nil {
		return nil, permgate.Denied, err
	}
	if !permgate.CanView(a, cfg, sub) {
		return nil, permgate.Denied, errs.New(errs.KindPermissionDenied,
			"%s may not view submission %s", a.User, submissionID)
	}
	return sub, permgate.Decide(a, cfg, sub, field), nil
}

func (s *Server) getOutput(c *fiber.Ctx) error {
	sid := c.Params("sid")
	taskIndex, err := c.ParamsInt("task")
	if err != nil {
		return s.fail(c, errs.New(errs.KindInvalidArgument, "task index must be numeric"))
	}
	caseIndex, err := c.ParamsInt("case")
	if err != nil {
		return s.fail(c, errs.New(errs.KindInvalidArgument, "case index must be numeric"))
	}
	kind := subm.OutputKind(c.Query("kind", string(subm.OutputStdout)))

	_, decision, err := s.gateField(c, sid, permgate.FieldOutput)
	if err != nil {
		return s.fail(c, err)
	}
	if decision != permgate.Visible {
		return s.fail(c, errs.New(errs.KindPermissionDenied,
			"outputs of submission %s are not visible to you", sid))
	}

	data, err := s.results.GetTaskOutput(c.Context(), sid, taskIndex, caseIndex, kind)
	if err != nil {
		return s.fail(c, err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Send(data)
}

func (s *Server) getCompiledBinary(c *fiber.Ctx) error {
	sid := c.Params("sid")
	_, decision, err := s.gateField(c, sid, permgate.FieldBinary)
	if err != nil {
		return s.fail(c, err)
	}
	if decision != permgate.Visible {
		return s.fail(c, errs.New(errs.KindPermissionDenied,
			"compiled binary of submission %s is not visible to you", sid))
	}

	data, err := s.results.GetCompiledBinary(c.Context(), sid)
	if err != nil {
		return s.fail(c, err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	return c.Send(data)
}

func (s *Server) getArtifactZip(c *fiber.Ctx) error {
	sid := c.Params("sid")
	taskIndex, err := c.ParamsInt("task")
	if err != nil {
		return s.fail(c, errs.New(errs.KindInvalidArgument, "task index must be numeric"))
	}

	_, decision, err := s.gateField(c, sid, permgate.FieldArtifact)
	if err != nil {
		return s.fail(c, err)
	}
	if decision != permgate.Visible {
		return s.fail(c, errs.New(errs.KindPermissionDenied,
			"artifacts of submission %s are not visible to you", sid))
	}

	data, err := s.results.GetTaskArtifactZip(c.Context(), sid, taskIndex)
	if err != nil {
		return s.fail(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/zip")
	c.Set(fiber.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="%s_task_%02d.zip"`, sid, taskIndex))
	return c.Send(data)
}
