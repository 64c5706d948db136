package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/demoforge/demoforge/internal/domain/model"
)

// fakeLister returns a scripted sequence of repository listings.
type fakeLister struct {
	listings [][]model.CIRepository
	errs     []error
	calls    int
}

func (f *fakeLister) ListRepositories(_ context.Context) ([]model.CIRepository, error) {
	i := f.calls
	f.calls++
	if i >= len(f.listings) {
		i = len(f.listings) - 1
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return f.listings[i], nil
}

func repos(urls ...string) []model.CIRepository {
	out := make([]model.CIRepository, len(urls))
	for i, u := range urls {
		out[i] = model.CIRepository{URL: u}
	}
	return out
}

var fastPoll = PollConfig{
	InitialInterval: time.Millisecond,
	MaxInterval:     4 * time.Millisecond,
	Timeout:         200 * time.Millisecond,
}

func TestAwaitRepositories_NoTargets(t *testing.T) {
	lister := &fakeLister{listings: [][]model.CIRepository{nil}}

	err := AwaitRepositories(context.Background(), lister, nil, fastPoll)

	require.NoError(t, err)
	assert.Equal(t, 0, lister.calls)
}

func TestAwaitRepositories_ImmediatelyConverged(t *testing.T) {
	lister := &fakeLister{listings: [][]model.CIRepository{
		repos("https://forge.example.com/acme/a", "https://forge.example.com/acme/b"),
	}}

	err := AwaitRepositories(context.Background(), lister,
		[]string{"https://forge.example.com/acme/a"}, fastPoll)

	require.NoError(t, err)
	assert.Equal(t, 1, lister.calls)
}

func TestAwaitRepositories_ConvergesAfterLag(t *testing.T) {
	lister := &fakeLister{listings: [][]model.CIRepository{
		nil,
		repos("https://forge.example.com/acme/a"),
		repos("https://forge.example.com/acme/a", "https://forge.example.com/acme/b"),
	}}

	err := AwaitRepositories(context.Background(), lister,
		[]string{"https://forge.example.com/acme/a", "https://forge.example.com/acme/b"}, fastPoll)

	require.NoError(t, err)
	assert.Equal(t, 3, lister.calls)
}

func TestAwaitRepositories_NormalizesGitSuffix(t *testing.T) {
	lister := &fakeLister{listings: [][]model.CIRepository{
		repos("https://forge.example.com/acme/a.git"),
	}}

	err := AwaitRepositories(context.Background(), lister,
		[]string{"https://forge.example.com/Acme/A"}, fastPoll)

	require.NoError(t, err)
}

func TestAwaitRepositories_TimeoutNamesMissing(t *testing.T) {
	lister := &fakeLister{listings: [][]model.CIRepository{
		repos("https://forge.example.com/acme/a"),
	}}

	err := AwaitRepositories(context.Background(), lister, []string{
		"https://forge.example.com/acme/a",
		"https://forge.example.com/acme/b",
		"https://forge.example.com/acme/c",
	}, fastPoll)

	var convErr *ConvergenceError
	require.ErrorAs(t, err, &convErr)
	assert.Equal(t, []string{
		"https://forge.example.com/acme/b",
		"https://forge.example.com/acme/c",
	}, convErr.Missing)
	assert.Greater(t, convErr.Elapsed, time.Duration(0))
}

func TestAwaitRepositories_ListingErrorsNotFatal(t *testing.T) {
	lister := &fakeLister{
		listings: [][]model.CIRepository{
			nil,
			repos("https://forge.example.com/acme/a"),
		},
		errs: []error{errors.New("boom"), nil},
	}

	err := AwaitRepositories(context.Background(), lister,
		[]string{"https://forge.example.com/acme/a"}, fastPoll)

	require.NoError(t, err)
	assert.Equal(t, 2, lister.calls)
}

func TestAwaitRepositories_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lister := &fakeLister{listings: [][]model.CIRepository{nil}}

	err := AwaitRepositories(ctx, lister,
		[]string{"https://forge.example.com/acme/a"},
		PollConfig{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Timeout: time.Minute})

	assert.ErrorIs(t, err, context.Canceled)
}
