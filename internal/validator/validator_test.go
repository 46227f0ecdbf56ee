package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-integrity/internal/model"
)

func bindBody(t *testing.T, body string, dst any) map[string]string {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	return Bind(c, dst)
}

func TestBind_ViolationRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	Setup()

	var ok model.ReportViolationRequest
	require.Nil(t, bindBody(t, `{"type":"tab_switch","severity":"medium"}`, &ok))
	assert.Equal(t, "tab_switch", ok.Type)

	var bad model.ReportViolationRequest
	fields := bindBody(t, `{"type":"Tab-Switch","severity":"extreme"}`, &bad)
	require.NotNil(t, fields)
	assert.Contains(t, fields["type"], "snake_case")
	assert.Contains(t, fields, "severity")

	var missing model.ReportViolationRequest
	fields = bindBody(t, `{}`, &missing)
	assert.Contains(t, fields["type"], "required")

	var broken model.ReportViolationRequest
	fields = bindBody(t, `{"type":`, &broken)
	assert.Contains(t, fields, "detail")
}
