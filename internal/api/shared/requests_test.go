package shared

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type progressBody struct {
	Delta          int            `json:"delta"           validate:"required,gt=0"`
	Context        map[string]any `json:"context"`
	IdempotencyKey string         `json:"idempotency_key" validate:"omitempty,max=8"`
}

type selfValidating struct{ ok bool }

func (s selfValidating) Validate() error {
	if !s.ok {
		return errors.New("not ok")
	}
	return nil
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
		errLike string
	}{
		{name: "valid", body: `{"delta": 2, "context": {"source": "quiz"}}`},
		{name: "empty body", body: "", wantErr: ErrEmptyBody},
		{name: "trailing comma", body: `{"delta": 2,}`, errLike: "invalid character"},
		{name: "unknown field", body: `{"delta": 2, "bonus": 1}`, errLike: "unknown field"},
		{name: "two objects", body: `{"delta": 1}{"delta": 2}`, errLike: "single JSON object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/tasks/x/progress", bytes.NewBufferString(tt.body))
			var got progressBody
			err := DecodeJSON(req, &got)

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.errLike != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errLike)
			default:
				require.NoError(t, err)
				assert.Equal(t, 2, got.Delta)
				assert.Equal(t, "quiz", got.Context["source"])
			}
		})
	}
}

func TestDecodeJSON_NoBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	assert.ErrorIs(t, DecodeJSON(req, &progressBody{}), ErrEmptyBody)
}

func TestValidateRequest(t *testing.T) {
	assert.NoError(t, ValidateRequest(&progressBody{Delta: 1}))

	err := ValidateRequest(&progressBody{Delta: 0})
	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "Delta", verrs[0].Field())
	assert.Equal(t, "required", verrs[0].Tag())

	err = ValidateRequest(&progressBody{Delta: 1, IdempotencyKey: "much-too-long"})
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "max", verrs[0].Tag())

	assert.NoError(t, ValidateRequest(selfValidating{ok: true}))
	assert.EqualError(t, ValidateRequest(selfValidating{}), "not ok")
}
