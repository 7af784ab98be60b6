package engine

import (
	"fmt"
	"os"

	"github.com/ashita-ai/gogi/internal/model"
)

// minQuestionChars rejects questions too short to deliberate meaningfully.
const minQuestionChars = 10

// ValidationError reports a rejected request. No deliberation work happens
// when one is returned.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("engine: invalid %s: %s", e.Field, e.Msg)
}

// validate checks the request after defaults were applied.
func (e *Engine) validate(req model.DeliberateRequest) error {
	if len(req.Question) < minQuestionChars {
		return &ValidationError{Field: "question", Msg: fmt.Sprintf("must be at least %d characters", minQuestionChars)}
	}
	if len(req.Participants) < 2 {
		return &ValidationError{Field: "participants", Msg: "at least 2 participants are required"}
	}
	if req.Rounds < 1 || req.Rounds > e.cfg.Defaults.MaxRounds {
		return &ValidationError{Field: "rounds", Msg: fmt.Sprintf("must be between 1 and %d", e.cfg.Defaults.MaxRounds)}
	}
	if req.Mode != model.ModeQuick && req.Mode != model.ModeConference {
		return &ValidationError{Field: "mode", Msg: fmt.Sprintf("must be %q or %q", model.ModeQuick, model.ModeConference)}
	}

	if req.WorkingDirectory == "" {
		return &ValidationError{Field: "working_directory", Msg: "is required"}
	}
	info, err := os.Stat(req.WorkingDirectory)
	if err != nil || !info.IsDir() {
		return &ValidationError{Field: "working_directory", Msg: fmt.Sprintf("%q does not exist or is not a directory", req.WorkingDirectory)}
	}

	for _, p := range req.Participants {
		if _, err := e.adapters.Get(p.CLI); err != nil {
			return &ValidationError{Field: "participants", Msg: err.Error()}
		}
		if !e.cfg.RegistryAllows(p.CLI, p.Model) {
			return &ValidationError{Field: "participants",
				Msg: fmt.Sprintf("model %q is not in the registry for adapter %q", p.Model, p.CLI)}
		}
	}
	return nil
}

// applyDefaults fills request fields from configuration and normalizes
// quick mode to a single round.
func (e *Engine) applyDefaults(req model.DeliberateRequest) model.DeliberateRequest {
	if req.Mode == "" {
		req.Mode = model.Mode(e.cfg.Defaults.Mode)
	}
	if req.Rounds == 0 {
		req.Rounds = e.cfg.Defaults.Rounds
	}
	if req.Mode == model.ModeQuick {
		req.Rounds = 1
	}
	return req
}
