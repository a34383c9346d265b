package extract

import (
	"errors"
	"fmt"

	"github.com/joseph-ayodele/ocr-service/internal/common"
)

// MaxDiagnosticLen caps provider diagnostics carried in engine errors.
const MaxDiagnosticLen = 200

// Failure wraps a provider error as an ENGINE_FAILURE with a truncated diagnostic.
// Errors that are already classified AppErrors pass through unchanged.
func Failure(engine string, err error) error {
	if err == nil {
		return nil
	}
	var ae *common.AppError
	if errors.As(err, &ae) {
		return err
	}
	return common.EngineError(fmt.Sprintf("%s extraction failed: %s", engine, Truncate(err.Error(), MaxDiagnosticLen)))
}

// Truncate shortens s to at most max bytes without splitting a UTF-8 sequence.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
