// SPDX-License-Identifier: MIT
package build

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linkWith simulates a binary linked with the given -X values and restores
// the package state when the test ends.
func linkWith(t *testing.T, name, built, commit, version string) {
	t.Helper()
	saved := *buildFlags
	savedName, savedTime, savedCommit, savedVersion := buildName, buildTime, buildCommit, buildVersion
	t.Cleanup(func() {
		*buildFlags = saved
		buildName, buildTime, buildCommit, buildVersion = savedName, savedTime, savedCommit, savedVersion
	})

	*buildFlags = ldFlags{Name: "headset", Description: Description, Time: "unknown", Commit: "unknown", Version: "unknown"}
	buildName, buildTime, buildCommit, buildVersion = name, built, commit, version
}

func TestInitializeRequiresEveryFlag(t *testing.T) {
	tests := []struct {
		name                        string
		bin, built, commit, version string
		wantErr                     string
	}{
		{name: "no name", built: "2026-10-18", commit: "9f1c2ab", version: "0.3.0", wantErr: "BuildName is required"},
		{name: "no time", bin: "headset", commit: "9f1c2ab", version: "0.3.0", wantErr: "BuildTime is required"},
		{name: "no commit", bin: "headset", built: "2026-10-18", version: "0.3.0", wantErr: "BuildCommit is required"},
		{name: "no version", bin: "headset", built: "2026-10-18", commit: "9f1c2ab", wantErr: "BuildVersion is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			linkWith(t, tt.bin, tt.built, tt.commit, tt.version)

			err := Initialize()
			require.EqualError(t, err, tt.wantErr)
			// A development build keeps reporting its defaults.
			assert.Equal(t, "headset unknown (commit unknown, built unknown)", GetBuildFlags().String())
		})
	}
}

func TestInitializeCopiesLinkerFlags(t *testing.T) {
	linkWith(t, "headset-fixture", "2026-10-18T09:30:00Z", "9f1c2ab", "0.3.0")

	require.NoError(t, Initialize())

	flags := GetBuildFlags()
	assert.Equal(t, "headset-fixture", flags.Name)
	assert.Equal(t, Description, flags.Description)
	assert.Equal(t, "headset-fixture 0.3.0 (commit 9f1c2ab, built 2026-10-18T09:30:00Z)", flags.String())
}
