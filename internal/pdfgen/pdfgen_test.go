package pdfgen

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmcloud/k8s-compliance-history/internal/storage"
)

func day(t *testing.T, s string) storage.Day {
	t.Helper()
	d, err := storage.ParseDay(s)
	require.NoError(t, err)
	return d
}

func TestGenerate(t *testing.T) {
	report := TrendReport{
		ClusterName: "prod",
		From:        day(t, "2024-01-01"),
		To:          day(t, "2024-01-07"),
		GeneratedAt: time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC),
		History: []storage.ComplianceSummary{
			{SavedDate: day(t, "2024-01-01"), NumPods: 5, NumCompliantPods: 3, NumNoncompliantPods: 2},
			{SavedDate: day(t, "2024-01-02"), NumPods: 4, NumCompliantPods: 4},
		},
		Current: []storage.ComplianceSummary{
			{Namespace: "ns1", NumPods: 2, NumCompliantPods: 1, NumNoncompliantPods: 1},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, New().Generate(report, &buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestGenerateEmptyReport(t *testing.T) {
	path, err := GenerateTempTrendPDF(TrendReport{ClusterName: "empty", From: day(t, "2024-01-01"), To: day(t, "2024-01-01")})
	require.NoError(t, err)
	defer os.Remove(path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestPercent(t *testing.T) {
	assert.Equal(t, "60.0%", percent(storage.ComplianceSummary{NumPods: 5, NumCompliantPods: 3}))
	assert.Equal(t, "100.0%", percent(storage.ComplianceSummary{}))
	assert.Equal(t, "caf? ns", cleanText("caf世 ns"))
}
