package httpsrv

import (
	"github.com/gofiber/fiber/v2"

	"github.com/normal-oj/submissions/api"
	"github.com/normal-oj/submissions/internal/blob"
	"github.com/normal-oj/submissions/internal/permgate"
	"github.com/normal-oj/submissions/internal/upload"
	"github.com/normal-oj/submissions/pkg/errs"
)

func sessionView(sess upload.Session) api.UploadSessionResp {
	return api.UploadSessionResp{
		SessionID: sess.ID,
		ProblemID: sess.ProblemID,
		PartCount: sess.PartCount,
		State:     string(sess.State),
	}
}

// manageProblem authorizes test-data administration of a problem.
func (s *Server) manageProblem(c *fiber.Ctx, problemID int) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	cfg, err := s.catalog.Get(problemID)
	if err != nil {
		return err
	}
	if !permgate.CanManage(a, cfg) {
		return errs.New(errs.KindPermissionDenied,
			"%s may not manage test data of problem %d", a.User, problemID)
	}
	return nil
}

// manageSession resolves a session and authorizes against its problem.
func (s *Server) manageSession(c *fiber.Ctx, sessionID string) (upload.Session, error) {
	sess, err := s.uploads.Session(sessionID)
	if err != nil {
		return upload.Session{}, err
	}
	if err := s.manageProblem(c, sess.ProblemID); err != nil {
		return upload.Session{}, err
	}
	return sess, nil
}

func (s *Server) initiateUpload(c *fiber.Ctx) error {
	problemID, err := c.ParamsInt("id")
	if err != nil {
		return s.fail(c, errs.New(errs.KindInvalidArgument, "problem id must be numeric"))
	}
	if err := s.manageProblem(c, problemID); err != nil {
		return s.fail(c, err)
	}

	var req api.InitiateUploadReq
	if err := s.parseBody(c, &req); err != nil {
		return s.fail(c, err)
	}

	sess, err := s.uploads.Initiate(c.Context(), problemID, req.Length, req.PartSize)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(sessionView(sess))
}

// problemPartURL issues an upload location for the problem's live session,
// which is how the platform contract addresses parts.
func (s *Server) problemPartURL(c *fiber.Ctx) error {
	problemID, err := c.ParamsInt("id")
	if err != nil {
		return s.fail(c, errs.New(errs.KindInvalidArgument, "problem id must be numeric"))
	}
	if err := s.manageProblem(c, problemID); err != nil {
		return s.fail(c, err)
	}
	partNumber := c.QueryInt("part_number", 0)
	if partNumber == 0 {
		return s.fail(c, errs.New(errs.KindInvalidArgument, "part_number query parameter is required"))
	}

	sessionID, ok := s.uploads.LiveSession(problemID)
	if !ok {
		return s.fail(c, errs.New(errs.KindNotFound, "problem %d has no upload in progress", problemID))
	}
	url, err := s.uploads.PartUploadLocation(c.Context(), sessionID, int32(partNumber))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(api.PartLocationResp{PartNumber: int32(partNumber), URL: url})
}

func (s *Server) uploadSession(c *fiber.Ctx) error {
	sess, err := s.manageSession(c, c.Params("session"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(sessionView(sess))
}

func (s *Server) partUploadLocation(c *fiber.Ctx) error {
	sessionID := c.Params("session")
	if _, err := s.manageSession(c, sessionID); err != nil {
		return s.fail(c, err)
	}
	partNumber, err := c.ParamsInt("number")
	if err != nil {
		return s.fail(c, errs.New(errs.KindInvalidArgument, "part number must be numeric"))
	}

	url, err := s.uploads.PartUploadLocation(c.Context(), sessionID, int32(partNumber))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(api.PartLocationResp{PartNumber: int32(partNumber), URL: url})
}

func (s *Server) reportPart(c *fiber.Ctx) error {
	sessionID := c.Params("session")
	if _, err := s.manageSession(c, sessionID); err != nil {
		return s.fail(c, err)
	}
	partNumber, err := c.ParamsInt("number")
	if err != nil {
		return s.fail(c, errs.New(errs.KindInvalidArgument, "part number must be numeric"))
	}

	var req api.ReportPartReq
	if err := s.parseBody(c, &req); err != nil {
		return s.fail(c, err)
	}
	if err := s.uploads.RecordPart(sessionID, int32(partNumber), req.ETag); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "recorded"})
}

func (s *Server) completeUpload(c *fiber.Ctx) error {
	problemID, err := c.ParamsInt("id")
	if err != nil {
		return s.fail(c, errs.New(errs.KindInvalidArgument, "problem id must be numeric"))
	}
	if err := s.manageProblem(c, problemID); err != nil {
		return s.fail(c, err)
	}

	var req api.CompleteUploadReq
	if err := s.parseBody(c, &req); err != nil {
		return s.fail(c, err)
	}

	sessionID := req.SessionID
	if sessionID == "" {
		live, ok := s.uploads.LiveSession(problemID)
		if !ok {
			return s.fail(c, errs.New(errs.KindNotFound, "problem %d has no upload in progress", problemID))
		}
		sessionID = live
	}
	sess, err := s.uploads.Session(sessionID)
	if err != nil {
		return s.fail(c, err)
	}
	if sess.ProblemID != problemID {
		return s.fail(c, errs.New(errs.KindInvalidArgument,
			"session %s belongs to problem %d, not %d", sessionID, sess.ProblemID, problemID))
	}

	parts := make([]blob.Part, len(req.Parts))
	for i, p := range req.Parts {
		parts[i] = blob.Part{Number: p.PartNumber, ETag: p.ETag}
	}

	sess, err = s.uploads.Complete(c.Context(), sessionID, parts)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(sessionView(sess))
}

func (s *Server) cancelUpload(c *fiber.Ctx) error {
	sessionID := c.Params("session")
	if _, err := s.manageSession(c, sessionID); err != nil {
		return s.fail(c, err)
	}
	if err := s.uploads.Cancel(c.Context(), sessionID); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "cancelled"})
}
