package parts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/stretchr/testify/mock"
	"github.com/trustnet/centerconf/interfaces"
)

// ScriptValidator runs an operator-configured validation program per content
// identifier. The program receives the proposed bytes on stdin and the
// content identifier as its argument; a non-zero exit rejects the upload.
// Everything the program writes to stderr is captured verbatim, whether the
// upload is accepted or not. The program receives the bytes over a pipe and
// never writes to the part store's filesystem.
type ScriptValidator struct {
	programs map[string]string // content identifier -> program path
	log      *slog.Logger
}

// NewScriptValidator creates a validator from a content-identifier-to-program
// mapping. Identifiers without a program are accepted without validation.
func NewScriptValidator(programs map[string]string, log *slog.Logger) *ScriptValidator {
	return &ScriptValidator{programs: programs, log: log}
}

// Validate implements interfaces.PartValidator.
func (v *ScriptValidator) Validate(ctx context.Context, contentIdentifier string, data []byte) (interfaces.ValidationResult, error) {
	program, ok := v.programs[contentIdentifier]
	if !ok || program == "" {
		return interfaces.ValidationResult{Accepted: true}, nil
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, program, contentIdentifier)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return interfaces.ValidationResult{Accepted: true, Stderr: stderr.String()}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		v.log.Debug("Validation program rejected upload",
			"program", program,
			"contentIdentifier", contentIdentifier,
			"exitCode", exitErr.ExitCode())
		return interfaces.ValidationResult{Accepted: false, Stderr: stderr.String()}, nil
	}

	return interfaces.ValidationResult{}, fmt.Errorf("validation program %s could not run: %w", program, err)
}

// MockValidator mocks the PartValidator interface.
type MockValidator struct {
	mock.Mock
}

// Validate mocks the Validate method.
func (m *MockValidator) Validate(ctx context.Context, contentIdentifier string, data []byte) (interfaces.ValidationResult, error) {
	args := m.Called(ctx, contentIdentifier, data)
	return args.Get(0).(interfaces.ValidationResult), args.Error(1)
}
