package launcher

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeVersion(t *testing.T) {
	assert.Equal(t, "2024.8.6", NormalizeVersion("2024.08.06"))
	assert.Equal(t, "6.1.1", NormalizeVersion("v6.1.1"))
}

func TestCompareVersions(t *testing.T) {
	testCases := []struct {
		v1, v2 string
		want   int
	}{
		{"2024.08.06", "2023.01.06", 1},
		{"2023.1.6", "2023.01.06", 0},
		{"v1.2.0", "1.10.0", -1},
	}
	for _, tc := range testCases {
		got, err := CompareVersions(tc.v1, tc.v2)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s vs %s", tc.v1, tc.v2)
	}

	_, err := CompareVersions("not-a-version", "1.0.0")
	assert.Error(t, err)
}

func TestCheckMinVersion(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	writeScript(t, dir, "fake-dl", "echo 2024.08.06")
	b := Binary{Name: "fake-dl", Path: filepath.Join(dir, "fake-dl"), Packaged: true}

	v, err := CheckMinVersion(context.Background(), b, "2023.01.06")
	require.NoError(t, err)
	assert.Equal(t, "2024.08.06", v)

	_, err = CheckMinVersion(context.Background(), b, "2025.1.1")
	assert.Error(t, err)
}
