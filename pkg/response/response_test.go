package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeserve/marketplace/pkg/apperror"
)

func TestErrorMapsKinds(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		err    error
		status int
		msg    string
	}{
		{apperror.New(apperror.KindInvalidCoupon, "op", "coupon expired"), http.StatusUnprocessableEntity, "coupon expired"},
		{apperror.New(apperror.KindSchedulingConflict, "op", "slot taken"), http.StatusConflict, "slot taken"},
		{apperror.New(apperror.KindNotFound, "op", "order not found"), http.StatusNotFound, "order not found"},
		{apperror.New(apperror.KindPaymentDeclined, "op", "card declined"), http.StatusPaymentRequired, "card declined"},
		{apperror.Internal("op", errors.New("connection reset")), http.StatusInternalServerError, "internal error"},
		{errors.New("raw"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		Error(c, tt.err)

		assert.Equal(t, tt.status, w.Code)
		var body Body
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.False(t, body.Success)
		assert.Equal(t, tt.msg, body.Error)
	}
}
