package versions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNewerVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		candidate string
		current   string
		expected  bool
	}{
		{name: "newer major", candidate: "2.0.0", current: "1.4.2", expected: true},
		{name: "newer minor", candidate: "1.10.0", current: "1.9.3", expected: true},
		{name: "newer patch", candidate: "1.0.2", current: "1.0.1", expected: true},
		{name: "older", candidate: "1.0.0", current: "1.0.1", expected: false},
		{name: "equal", candidate: "1.0.0", current: "1.0.0", expected: false},
		{name: "release after its prerelease", candidate: "1.0.0", current: "1.0.0-rc.1", expected: true},
		{name: "development build below any release", candidate: "0.0.0-dev.0123abcd", current: "0.1.0", expected: false},
		{name: "release above a development build", candidate: "0.1.0", current: "0.0.0-dev.0123abcd", expected: true},
		{name: "v prefix", candidate: "v2.0.0", current: "v1.0.0", expected: true},
		{name: "untagged candidate", candidate: "build-0123abcd", current: "1.0.0", expected: false},
		{name: "untagged current", candidate: "1.0.0", current: "build-0123abcd", expected: false},
		{name: "empty", candidate: "", current: "1.0.0", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, IsNewerVersion(tt.candidate, tt.current))
		})
	}
}

func TestSameMajor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		v       string
		want    bool
		wantErr bool
	}{
		{v: "1.0.0", want: true},
		{v: "1.7.3", want: true},
		{v: "2.0.0", want: false},
		{v: "0.9.0", want: false},
		{v: "one", wantErr: true},
	}
	for _, tt := range tests {
		got, err := SameMajor(tt.v, "1.0.0")
		if tt.wantErr {
			require.Error(t, err, tt.v)
			continue
		}
		require.NoError(t, err, tt.v)
		assert.Equal(t, tt.want, got, tt.v)
	}
}

func TestNewerMajor(t *testing.T) {
	t.Parallel()
	assert.True(t, NewerMajor("2.0.0", "1.3.0"))
	assert.False(t, NewerMajor("1.9.0", "1.3.0"))
	assert.False(t, NewerMajor("0.1.0", "1.3.0"))
	assert.False(t, NewerMajor("garbage", "1.3.0"))
}
