package httpsrv

import (
	"github.com/gofiber/fiber/v2"

	"github.com/normal-oj/submissions/pkg/errs"
)

// problemStats serves aggregate numbers. Stats carry no payloads, so any
// authenticated actor may read them.
func (s *Server) problemStats(c *fiber.Ctx) error {
	if _, err := actor(c); err != nil {
		return s.fail(c, err)
	}
	problemID, err := c.ParamsInt("id")
	if err != nil {
		return s.fail(c, errs.New(errs.KindInvalidArgument, "problem id must be numeric"))
	}
	if !s.catalog.Exists(problemID) {
		return s.fail(c, errs.New(errs.KindNotFound, "problem %d not found", problemID))
	}
	return c.JSON(s.stats.Snapshot(problemID))
}

func (s *Server) highScore(c *fiber.Ctx) error {
	if _, err := actor(c); err != nil {
		return s.fail(c, err)
	}
	problemID, err := c.ParamsInt("id")
	if err != nil {
		return s.fail(c, errs.New(errs.KindInvalidArgument, "problem id must be numeric"))
	}
	if !s.catalog.Exists(problemID) {
		return s.fail(c, errs.New(errs.KindNotFound, "problem %d not found", problemID))
	}
	return c.JSON(s.stats.Leaderboard(problemID, c.QueryInt("count", 0)))
}

func (s *Server) passRate(c *fiber.Ctx) error {
	if _, err := actor(c); err != nil {
		return s.fail(c, err)
	}
	problemID, err := c.ParamsInt("id")
	if err != nil {
		return s.fail(c, errs.New(errs.KindInvalidArgument, "problem id must be numeric"))
	}
	if !s.catalog.Exists(problemID) {
		return s.fail(c, errs.New(errs.KindNotFound, "problem %d not found", problemID))
	}

	rate, err := s.stats.PerCasePassRate(problemID, c.QueryInt("task", -1), c.QueryInt("case", -1))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(rate)
}
