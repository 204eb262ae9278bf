package ollama

import (
	"context"
	"errors"

	"github.com/kirillkom/pdf-study-assistant/internal/core/domain"
)

func wrapModelError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || domain.IsKind(err, domain.ErrModelUnavailable) {
		return err
	}
	return domain.WrapError(domain.ErrModelUnavailable, operation, err)
}
