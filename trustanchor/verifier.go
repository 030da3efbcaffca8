package trustanchor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/stretchr/testify/mock"
)

// ScriptVerifier runs an operator-configured external verification program
// against a staged anchor file. The program receives the staged file path as
// its argument; a non-zero exit rejects the anchor with the program's stderr
// as the reason.
type ScriptVerifier struct {
	program string
	log     *slog.Logger
}

// NewScriptVerifier creates a verifier running program.
func NewScriptVerifier(program string, log *slog.Logger) *ScriptVerifier {
	return &ScriptVerifier{program: program, log: log}
}

// Verify implements interfaces.AnchorVerifier. An empty program accepts every
// anchor: verification is an optional deployment hook.
func (v *ScriptVerifier) Verify(ctx context.Context, path string) error {
	if v.program == "" {
		return nil
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, v.program, path)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		v.log.Debug("Anchor verification program rejected anchor", "program", v.program, "err", err)
		if stderr.Len() > 0 {
			return fmt.Errorf("%s", stderr.String())
		}
		return err
	}
	return nil
}

// MockVerifier mocks the AnchorVerifier interface.
type MockVerifier struct {
	mock.Mock
}

// Verify mocks the Verify method.
func (m *MockVerifier) Verify(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}
