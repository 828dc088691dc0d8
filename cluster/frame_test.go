package cluster

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodecrew/beamkit"
)

func TestFrameRoundTripWithoutSecret(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello distributed world")

	require.NoError(t, writeFrame(&buf, payload, nil))
	got, err := readFrame(&buf, nil)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFrameRoundTripWithSecret(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("authenticated payload")
	secret := []byte("cluster-secret")

	require.NoError(t, writeFrame(&buf, payload, secret))
	got, err := readFrame(&buf, secret)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFrameRejectsTamperedMAC(t *testing.T) {
	var buf bytes.Buffer
	secret := []byte("cluster-secret")
	require.NoError(t, writeFrame(&buf, []byte("payload"), secret))

	raw := buf.Bytes()
	raw[len(raw)-1] ^= 0xFF // corrupt the last payload byte after the MAC was computed over the original

	_, err := readFrame(bytes.NewReader(raw), secret)
	assert.Error(t, err)
	kind, ok := beamkit.KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, beamkit.KindInvalidClusterConf, kind)
}

func TestFrameRejectsOversized(t *testing.T) {
	var header [4]byte
	header[0] = 0xFF // length prefix far beyond maxFrameSize
	_, err := readFrame(bytes.NewReader(header[:]), nil)
	assert.Error(t, err)
}
