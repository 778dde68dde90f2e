package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lance13c/portalpilot/internal/advisor"
	"github.com/lance13c/portalpilot/internal/config"
	"github.com/lance13c/portalpilot/internal/crypto"
	"github.com/lance13c/portalpilot/internal/database"
	"github.com/lance13c/portalpilot/internal/faults"
	"github.com/lance13c/portalpilot/internal/recorder"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validTarget = `
code: OK_PORTAL
name: Working portal
base_url: https://ok.test
auth_mode: none
workflow:
  - {action: navigate, page: entry}
  - {action: fill, page: entry}
  - {action: save, page: entry}
pages:
  - code: entry
    type: form
    sequence: 1
    url: /entry
    submit: {selectors: ["#save"]}
    success: {text: Saved}
    fields:
      - {label: Ref, local_field: ref, selectors: ["#ref"], order: 1}
`

const invalidTarget = `
name: Broken portal
base_url: not-a-url
auth_mode: carrier-pigeon
`

// useConfig installs cfg as the loaded configuration for one test
func useConfig(t *testing.T, cfg *config.Config) {
	t.Helper()
	prevCfg, prevErr := appConfig, configErr
	appConfig, configErr = cfg, nil
	t.Cleanup(func() { appConfig, configErr = prevCfg, prevErr })
}

func testCommand(in string) (*cobra.Command, *bytes.Buffer) {
	var out bytes.Buffer
	c := &cobra.Command{}
	c.SetContext(context.Background())
	c.SetOut(&out)
	c.SetErr(&out)
	c.SetIn(strings.NewReader(in))
	return c, &out
}

func TestTargetsValidateReportsEveryFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ok.yaml"), []byte(validTarget), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yml"), []byte(invalidTarget), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	cfg := config.DefaultConfig()
	cfg.Targets.Dir = dir
	useConfig(t, cfg)

	c, out := testCommand("")
	err := runTargetsValidate(c, nil)
	require.Error(t, err)
	assert.True(t, Reported(err))
	assert.Contains(t, err.Error(), "1 of 2 definitions invalid")

	text := out.String()
	assert.Contains(t, text, "✅ "+filepath.Join(dir, "ok.yaml"))
	assert.Contains(t, text, "❌ "+filepath.Join(dir, "broken.yml"))
	assert.Contains(t, text, "code is required")
	assert.Contains(t, text, "carrier-pigeon")
	assert.NotContains(t, text, "notes.txt")
}

func TestTargetsValidateDuplicateCodes(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	require.NoError(t, os.WriteFile(a, []byte(validTarget), 0644))
	require.NoError(t, os.WriteFile(b, []byte(validTarget), 0644))
	useConfig(t, config.DefaultConfig())

	c, out := testCommand("")
	err := runTargetsValidate(c, []string{a, b})
	require.Error(t, err)
	assert.Contains(t, out.String(), "already defined in "+a)
}

func TestCredentialsSeal(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.MasterKey = "master"
	useConfig(t, cfg)

	sealUsername, sealSecret = "agent", "password"
	t.Cleanup(func() { sealUsername, sealSecret = "", "password" })

	c, out := testCommand("s3cret\n")
	require.NoError(t, runCredentialsSeal(c, nil))

	line := strings.TrimSpace(out.String())
	require.True(t, strings.HasPrefix(line, "credentials: "), line)
	creds, err := crypto.NewVault("master").Open(strings.TrimPrefix(line, "credentials: "))
	require.NoError(t, err)
	assert.Equal(t, "agent", creds.Username)
	assert.Equal(t, "s3cret", creds.Password)
	assert.NotContains(t, line, "s3cret")
}

func TestCredentialsSealRejectsUnknownSecret(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.MasterKey = "master"
	useConfig(t, cfg)

	sealSecret = "pin"
	t.Cleanup(func() { sealSecret = "password" })

	c, _ := testCommand("1234\n")
	assert.ErrorContains(t, runCredentialsSeal(c, nil), `unknown secret kind "pin"`)
}

func TestRecordsListAndShow(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.DatabasePath = filepath.Join(t.TempDir(), "pp.db")
	useConfig(t, cfg)

	db, err := database.New(cfg.Storage.DatabasePath)
	require.NoError(t, err)
	now := time.Now().UTC()
	store := db.Submissions()
	require.NoError(t, store.Create(context.Background(), &recorder.Record{
		ID: "rec-ok", TargetCode: "OK_PORTAL", DeclarationID: "D-1",
		Status: recorder.StatusSuccess, Reference: "REF-9", StartedAt: now, FinishedAt: &now,
	}))
	require.NoError(t, store.Create(context.Background(), &recorder.Record{
		ID: "rec-bad", TargetCode: "OK_PORTAL", DeclarationID: "D-2",
		Status: recorder.StatusFailed, FailureKind: faults.PortalRejected, FailureMessage: "duplicate entry",
		StartedAt: now, FinishedAt: &now,
		Events: []recorder.Event{{Seq: 1, Kind: recorder.EventError, Page: "entry", Fault: faults.PortalRejected, Message: "duplicate entry", At: now}},
		Decisions: []advisor.Decision{{
			At: now, Source: advisor.SourceAI, Step: "save", Page: "entry", Kind: faults.AmbiguousOutcome,
			Action: advisor.RecoveryAction{Kind: advisor.WaitAndRetry, WaitMS: 500}, Accepted: true, Cost: 0.0021,
		}},
	}))
	require.NoError(t, db.Close())

	t.Run("list", func(t *testing.T) {
		prev := recordsFilter
		t.Cleanup(func() { recordsFilter, recordsStatus = prev, "" })
		recordsFilter = recorder.Filter{Limit: 10}
		recordsStatus = "failed"

		c, out := testCommand("")
		require.NoError(t, runRecordsList(c, nil))
		assert.Contains(t, out.String(), "rec-bad")
		assert.NotContains(t, out.String(), "rec-ok")
		assert.Contains(t, out.String(), "failed=1")
		assert.Contains(t, out.String(), "success=1")
	})

	t.Run("bad status", func(t *testing.T) {
		t.Cleanup(func() { recordsStatus = "" })
		recordsStatus = "lost"
		c, _ := testCommand("")
		assert.Error(t, runRecordsList(c, nil))
	})

	t.Run("show", func(t *testing.T) {
		c, out := testCommand("")
		require.NoError(t, runRecordsShow(c, []string{"rec-bad"}))
		text := out.String()
		assert.Contains(t, text, "portal_rejected: duplicate entry")
		assert.Contains(t, text, "Events:")
		assert.Contains(t, text, "Recovery decisions:")
		assert.Contains(t, text, "$0.002")
		assert.Contains(t, text, "advisor cost: $0.002")
	})

	t.Run("show unknown", func(t *testing.T) {
		c, _ := testCommand("")
		assert.ErrorIs(t, runRecordsShow(c, []string{"nope"}), recorder.ErrNotFound)
	})
}
