package service

import (
	"context"

	"agegate/internal/verification/models"
	"agegate/pkg/platform/privacy"
)

// checkBot applies the bot oracle policy. It returns the rejection, if any,
// and the score the oracle reported.
func (s *Service) checkBot(ctx context.Context, sub models.Submission) (*models.Error, float64) {
	if !s.cfg.GatingEnabled || s.bot == nil {
		s.logger.WarnContext(ctx, "bot check skipped",
			"gating_enabled", s.cfg.GatingEnabled,
			"scorer_configured", s.bot != nil,
		)
		return nil, 0
	}
	if sub.BotToken == "" {
		return models.NewError(models.KindBotSuspected, ReasonBotMissing), 0
	}

	ctx, end := s.stage(ctx, "bot_check")
	defer end()

	verdict, err := s.bot.Verify(ctx, sub.BotToken, sub.ClientIP)
	if err != nil {
		// Transport errors fail open.
		s.logger.WarnContext(ctx, "bot oracle unavailable; allowing submission",
			"client_ip", privacy.AnonymizeIP(sub.ClientIP),
			"error", err,
		)
		return nil, 0
	}

	switch {
	case s.cfg.ExpectedAction != "" && verdict.Action != s.cfg.ExpectedAction:
		s.logger.WarnContext(ctx, "bot verdict action mismatch",
			"expected", s.cfg.ExpectedAction,
			"actual", verdict.Action,
		)
		return models.NewError(models.KindBotSuspected, ReasonBotAction), verdict.Score
	case !verdict.Success || verdict.Score < s.cfg.BotScoreThreshold:
		return models.NewError(models.KindBotSuspected, ReasonBotScore), verdict.Score
	default:
		return nil, verdict.Score
	}
}
