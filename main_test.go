package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"library-circulation/library"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := &app{out: &out}
	err := a.execute(context.Background(), args)
	assert.Nil(t, a.manager, "store released after %v", args)
	return out.String(), err
}

func TestCommandsAgainstFreshStore(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("LIBRARY_DB_PATH", filepath.Join(t.TempDir(), "cli.db"))
	t.Setenv("LIBRARY_LOG_LEVEL", "error")

	out, err := run(t, "register", "--name", "Sam", "--email", "sam@uni.edu")
	require.NoError(t, err)
	var member library.Member
	require.NoError(t, json.Unmarshal([]byte(out), &member))
	assert.Equal(t, library.RoleStudent, member.Role)

	out, err = run(t, "sweep-holds")
	require.NoError(t, err)
	assert.JSONEq(t, `{"expired": 0}`, out)

	out, err = run(t, "search", "--title", "anything")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)

	_, err = run(t, "borrow", "1", "99", "1")
	assert.Equal(t, 3, exitCode(err))

	_, err = run(t, "pay", "1", "-5")
	assert.Equal(t, 2, exitCode(err), "negative amount reaches the payment rule")
	_, err = run(t, "pay", "--note", "desk", "1", "-0.50")
	assert.Equal(t, 2, exitCode(err))
	out, err = run(t, "pay", "--note", "desk", "1", "2.00")
	require.NoError(t, err)
	assert.Contains(t, out, `"reference"`)

	_, err = run(t, "withdraw", "42")
	assert.Equal(t, 3, exitCode(err))

	_, err = run(t, "return", "abc")
	assert.Equal(t, 2, exitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, exitCode(errors.New("boom")))
	assert.Equal(t, 4, exitCode(&library.Error{Kind: library.KindInvalidState}))
	assert.Equal(t, 1, exitCode(&library.Error{Kind: library.KindFault}))
}
