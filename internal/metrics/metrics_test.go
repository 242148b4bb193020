package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// TestRecordTransition 测试转换计数
func TestRecordTransition(t *testing.T) {
	before := testutil.ToFloat64(transitionsTotal.WithLabelValues("activate"))
	RecordTransition("activate")
	assert.Equal(t, before+1, testutil.ToFloat64(transitionsTotal.WithLabelValues("activate")))
}

// TestRecordRejection 测试拒绝计数
func TestRecordRejection(t *testing.T) {
	RecordRejection("sign_approval", "guard", "SignatureNotConfirmed")
	assert.Equal(t, float64(1), testutil.ToFloat64(rejectionsTotal.WithLabelValues("sign_approval", "guard", "SignatureNotConfirmed")))
}

// TestSetOverdue 测试过期计数
func TestSetOverdue(t *testing.T) {
	SetOverdue("review", 3)
	assert.Equal(t, float64(3), testutil.ToFloat64(overdueGauge.WithLabelValues("review")))
	SetOverdue("review", 0)
	assert.Equal(t, float64(0), testutil.ToFloat64(overdueGauge.WithLabelValues("review")))
}

// TestHandler 测试指标端点
func TestHandler(t *testing.T) {
	RecordAuditEntry("record.created")

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "qms_audit_entries_total"))
}

// TestCollector_CollectOnce 测试状态分布收集
func TestCollector_CollectOnce(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Exec("CREATE TABLE records (record_id TEXT PRIMARY KEY, kind TEXT, state TEXT)").Error)
	require.NoError(t, db.Exec("INSERT INTO records VALUES ('SOP-2025-001','document','effective'),('SOP-2025-002','document','effective'),('CAPA-0001','capa','draft')").Error)

	c := NewCollector(db, 0)
	require.NoError(t, c.CollectOnce(context.Background()))
	assert.Equal(t, float64(2), testutil.ToFloat64(recordsByState.WithLabelValues("document", "effective")))
	assert.Equal(t, float64(1), testutil.ToFloat64(recordsByState.WithLabelValues("capa", "draft")))
}

// TestUpdateDatabaseConnections_Nil 测试空连接
func TestUpdateDatabaseConnections_Nil(t *testing.T) {
	assert.Error(t, UpdateDatabaseConnections(nil))
}
