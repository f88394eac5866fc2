//go:build unit

package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/andretpc/rinha/bootstrap"
	"github.com/andretpc/rinha/log"
	"github.com/andretpc/rinha/mongo"
	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
)

type fakeTarget struct {
	exists     bool
	keys       []bson.D
	ensureErr  error
	ensureRuns int
}

func (f *fakeTarget) EnsureCollection(context.Context, string) error {
	f.ensureRuns++

	if f.ensureErr != nil {
		return f.ensureErr
	}

	f.exists = true

	return nil
}

func (f *fakeTarget) EnsureIndexes(_ context.Context, _ string, indexes ...mongodriver.IndexModel) error {
	for _, index := range indexes {
		f.keys = append(f.keys, index.Keys.(bson.D))
	}

	return nil
}

func (f *fakeTarget) CollectionExists(context.Context, string) (bool, error) {
	return f.exists, nil
}

func (f *fakeTarget) IndexKeys(context.Context, string) ([]bson.D, error) {
	return f.keys, nil
}

func init() {
	color.NoColor = true
}

func TestParseFlags(t *testing.T) {
	var stderr bytes.Buffer

	opts, err := parseFlags([]string{"--verify", "--uri", "mongodb://m:27017", "--log-level=debug"}, &stderr)
	require.NoError(t, err)

	assert.True(t, opts.verify)
	assert.Equal(t, "mongodb://m:27017", opts.uri)
	assert.Equal(t, "debug", opts.logLevel)
	assert.Equal(t, ".env", opts.envFile)

	_, err = parseFlags([]string{"--help"}, &stderr)
	assert.ErrorIs(t, err, flag.ErrHelp)
	assert.Contains(t, stderr.String(), "rinha.transactions")

	_, err = parseFlags([]string{"--bogus"}, &stderr)
	assert.Error(t, err)
}

func TestExecute_RunsThenVerifies(t *testing.T) {
	var out bytes.Buffer

	target := &fakeTarget{}

	require.NoError(t, execute(context.Background(), target, false, log.NewNop(), &out))

	assert.Equal(t, 1, target.ensureRuns)
	assert.Contains(t, out.String(), "✓ collection present")
	assert.Contains(t, out.String(), "✓ index client ascending")
	assert.Contains(t, out.String(), "✓ index date descending")
}

func TestExecute_VerifyOnlyDoesNotWrite(t *testing.T) {
	var out bytes.Buffer

	target := &fakeTarget{}

	err := execute(context.Background(), target, true, log.NewNop(), &out)
	assert.ErrorIs(t, err, errIncomplete)
	assert.Zero(t, target.ensureRuns)
	assert.Contains(t, out.String(), "✗ collection missing")
}

func TestExecute_PropagatesRunError(t *testing.T) {
	var out bytes.Buffer

	boom := errors.New("not authorized on rinha")
	target := &fakeTarget{ensureErr: boom}

	err := execute(context.Background(), target, false, log.NewNop(), &out)
	assert.Same(t, boom, err)
	assert.Empty(t, out.String())
}

func TestExecute_DuplicatedIndexIsWarningOnly(t *testing.T) {
	var out bytes.Buffer

	target := &fakeTarget{
		exists: true,
		keys: []bson.D{
			{{Key: "client", Value: int32(1)}},
			{{Key: "client", Value: int32(1)}},
			{{Key: "date", Value: int32(-1)}},
		},
	}

	require.NoError(t, execute(context.Background(), target, true, log.NewNop(), &out))
	assert.Contains(t, out.String(), "! index client ascending present 2 times")
	assert.Contains(t, out.String(), "✓ index date descending")
}

func TestPrintReport_FlagsDuplicatesAndExtras(t *testing.T) {
	var out bytes.Buffer

	printReport(&out, bootstrap.Report{
		Database:         bootstrap.DatabaseName,
		Collection:       bootstrap.TransactionsCollection,
		CollectionExists: true,
		Indexes: []bootstrap.IndexStatus{
			{Index: bootstrap.TransactionIndexes()[0], Count: 2},
			{Index: bootstrap.TransactionIndexes()[1], Count: 0},
		},
		Extra: []bson.D{{{Key: "_id", Value: int32(1)}}},
	})

	assert.Contains(t, out.String(), "rinha.transactions")
	assert.Contains(t, out.String(), "! index client ascending present 2 times")
	assert.Contains(t, out.String(), "✗ index date descending missing")
	assert.Contains(t, out.String(), "1 other index(es) left untouched")
}

func TestRun_InvalidLogLevel(t *testing.T) {
	t.Setenv("ENV_NAME", "local")

	var stdout, stderr bytes.Buffer

	err := run(context.Background(), []string{"--env-file", filepath.Join(t.TempDir(), "none"), "--log-level", "loud"}, &stdout, &stderr)
	assert.Error(t, err)
	assert.Empty(t, stdout.String())
}

func TestRun_UnreachableServer(t *testing.T) {
	t.Setenv("ENV_NAME", "local")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("MONGO_SERVER_SELECTION_TIMEOUT_MS", "200")

	var stdout, stderr bytes.Buffer

	err := run(context.Background(), []string{
		"--env-file", filepath.Join(t.TempDir(), "none"),
		"--uri", "mongodb://127.0.0.1:1",
	}, &stdout, &stderr)
	assert.ErrorIs(t, err, mongo.ErrPing)
	assert.Empty(t, stdout.String())
}
