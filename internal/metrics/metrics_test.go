package metrics

import (
	"errors"
	"fmt"
	"testing"

	"qafala_backend/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", Result(nil))
	assert.Equal(t, "out_of_stock", Result(domain.ErrOutOfStock))
	assert.Equal(t, "insufficient_funds", Result(fmt.Errorf("buy: %w", domain.ErrInsufficientFunds)))
	assert.Equal(t, "error", Result(errors.New("connection reset")))
}
