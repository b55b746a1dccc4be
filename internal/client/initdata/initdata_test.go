package initdata

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"voltask/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *AppInitData {
	return &AppInitData{
		MajorVersion:        8,
		MinorVersion:        0,
		ReleaseVersion:      4,
		AppVersion:          712,
		AppName:             "uppercase",
		PlanClass:           "sse2",
		ProjectURL:          "https://example.org/project/",
		ProjectDir:          "/var/lib/voltask/projects/example.org_project",
		ClientDir:           "/var/lib/voltask",
		ProjectPreferences:  "<color>blue</color> & <speed>3</speed>",
		Authenticator:       "0123456789abcdef",
		UserName:            "Grace Hopper",
		TeamName:            "Ümlaut team \"quoted\"",
		UserID:              17,
		TeamID:              4,
		HostID:              99,
		UserTotalCredit:     12345.678901234567,
		UserExpavgCredit:    0.1,
		HostTotalCredit:     1e-300,
		HostExpavgCredit:    math.MaxFloat64,
		WUName:              "wu_1234",
		ResultName:          "wu_1234_0",
		Slot:                3,
		RscFpopsEst:         3.6e13,
		RscFpopsBound:       3.6e14,
		RscMemoryBound:      1 << 30,
		RscDiskBound:        100 * 1024 * 1024,
		ComputationDeadline: 1760000000.123456,
		CheckpointPeriod:    60,
		FractionDoneStart:   0,
		FractionDoneEnd:     1,
		WUCPUTime:           0.3333333333333333,
		StartingElapsedTime: 17.25,
		ShmKey:              "/dev/shm/voltask_0123456789abcdef",
		Host: HostInfo{
			DomainName: "worker-1",
			OSName:     "Linux",
			NCPUs:      8,
			PFpops:     4.2e9,
			PIops:      1.1e10,
			MNBytes:    16e9,
		},
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	in := sample()

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, in))

	out, err := Decode(&buf)
	require.NoError(t, err)

	out.XMLName = in.XMLName
	assert.Equal(t, in, out)
	assert.Equal(t, math.Float64bits(in.UserTotalCredit), math.Float64bits(out.UserTotalCredit))
	assert.Equal(t, math.Float64bits(in.WUCPUTime), math.Float64bits(out.WUCPUTime))
}

func TestWriteRead_SlotDir(t *testing.T) {
	dir := t.TempDir()
	in := sample()
	require.NoError(t, Write(dir, in))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, FileName, entries[0].Name())

	out, err := Read(dir)
	require.NoError(t, err)
	assert.Equal(t, in.ShmKey, out.ShmKey)
	assert.Equal(t, in.ProjectPreferences, out.ProjectPreferences)
	assert.Equal(t, in.RscDiskBound, out.RscDiskBound)
}

func TestRead_Missing(t *testing.T) {
	_, err := Read(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.InitDataReadFailed))
}

func TestDecode_Garbage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("<app_init_data><slot>x</slot>"), 0o644))
	_, err := Read(dir)
	assert.Error(t, err)
}

func TestEncodeDecode_NonASCIIAndWhitespace(t *testing.T) {
	in := sample()
	in.UserName = "Zoë 日本 🚀"
	in.ProjectPreferences = "line1\r\nline2\tcol\n"
	in.Authenticator = "  padded  "

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, in))
	out, err := Decode(&buf)
	require.NoError(t, err)

	assert.Equal(t, in.UserName, out.UserName)
	assert.Equal(t, in.ProjectPreferences, out.ProjectPreferences)
	assert.Equal(t, in.Authenticator, out.Authenticator)
}

func TestWrite_RejectsLossyStrings(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(d *AppInitData)
	}{
		{"control byte", func(d *AppInitData) { d.ProjectPreferences = "a\x01b" }},
		{"invalid utf8", func(d *AppInitData) { d.UserName = "caf\xe9" }},
		{"nul in host info", func(d *AppInitData) { d.Host.PModel = "cpu\x00" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			d := sample()
			tc.mutate(d)

			err := Write(dir, d)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.InitDataWriteFailed))

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries, "nothing is left behind")
		})
	}
}
