package cmd

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/sentinel/internal/models"
)

func TestDescribe(t *testing.T) {
	assert.EqualError(t, describe(models.ErrUserNotFound), "USER_NOT_FOUND: User not found")
	assert.Contains(t, describe(models.ErrConflict).Error(), "already exists")

	other := errors.New("boom")
	assert.Equal(t, other, describe(other))
}

func TestReadPassword(t *testing.T) {
	t.Cleanup(func() { createPasswordStdin = false })

	createPasswordStdin = true
	pw, err := readPassword(bufio.NewReader(strings.NewReader("Correct-Horse-42!\nignored\n")))
	require.NoError(t, err)
	assert.Equal(t, "Correct-Horse-42!", pw)

	createPasswordStdin = false
	empty := bufio.NewReader(strings.NewReader(""))
	t.Setenv(passwordEnv, "")
	_, err = readPassword(empty)
	assert.Error(t, err)

	t.Setenv(passwordEnv, "from-env-password")
	pw, err = readPassword(empty)
	require.NoError(t, err)
	assert.Equal(t, "from-env-password", pw)
}

func TestReadFingerprint(t *testing.T) {
	t.Cleanup(func() {
		createPasswordStdin = false
		createDeviceStdin = false
	})

	t.Run("no device by default", func(t *testing.T) {
		t.Setenv(fingerprintEnv, "")
		fp, err := readFingerprint(bufio.NewReader(strings.NewReader("")))
		require.NoError(t, err)
		assert.Empty(t, fp)
	})

	t.Run("from the environment", func(t *testing.T) {
		t.Setenv(fingerprintEnv, " fp-from-env ")
		fp, err := readFingerprint(bufio.NewReader(strings.NewReader("")))
		require.NoError(t, err)
		assert.Equal(t, "fp-from-env", fp)
	})

	t.Run("second stdin line after the password", func(t *testing.T) {
		t.Setenv(fingerprintEnv, "fp-from-env")
		createPasswordStdin, createDeviceStdin = true, true
		in := bufio.NewReader(strings.NewReader("Correct-Horse-42!\nfp-from-stdin\n"))

		pw, err := readPassword(in)
		require.NoError(t, err)
		fp, err := readFingerprint(in)
		require.NoError(t, err)
		assert.Equal(t, "Correct-Horse-42!", pw)
		assert.Equal(t, "fp-from-stdin", fp, "stdin wins over the environment")
	})

	t.Run("stdin requested but empty", func(t *testing.T) {
		createPasswordStdin, createDeviceStdin = false, true
		_, err := readFingerprint(bufio.NewReader(strings.NewReader("\n")))
		assert.Error(t, err)
	})

	t.Run("no flag carries the raw fingerprint", func(t *testing.T) {
		assert.Nil(t, accountCreateCmd.Flags().Lookup("device-fingerprint"))
		assert.NotNil(t, accountCreateCmd.Flags().Lookup("device-fingerprint-stdin"))
	})
}

func TestPrintAccount(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	account := &models.Account{ID: uuid.New(), Email: "a@example.com", Status: models.AccountStatusInactive}
	attempts := []*models.AuthAttempt{{Reason: models.ReasonBadCredentials, IPAddress: "203.0.113.9", AttemptedAt: at}}
	history := []*models.DeviceLog{{Action: models.DeviceLogLink, Snapshot: models.DeviceSnapshot{OS: "iOS"}, CreatedAt: at}}

	var out bytes.Buffer
	printAccount(&out, account, nil, attempts, history)

	s := out.String()
	assert.Contains(t, s, "INACTIVE")
	assert.Contains(t, s, "none")
	assert.Contains(t, s, "BAD_CREDENTIALS")
	assert.Contains(t, s, "2026-03-02T09:00:00Z")
	assert.Contains(t, s, "iOS")
}
