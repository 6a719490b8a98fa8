package escalation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/siteguard/siteguard-core/internal/models"
	"github.com/siteguard/siteguard-core/internal/storage"
)

type ladderFixture struct {
	store   *storage.MemoryStore
	signer  *TokenSigner
	service *Service
	clock   time.Time
}

func newLadderFixture(t *testing.T, contacts [3]models.Contact) *ladderFixture {
	t.Helper()
	store := storage.NewMemory()
	store.PutSite(&models.Site{
		ID:             "site-1",
		OrganizationID: "org-1",
		Name:           "shop",
		Contacts:       contacts,
	})

	signer := NewTokenSigner("test-secret")
	f := &ladderFixture{
		store:  store,
		signer: signer,
		clock:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.service = NewService(store, signer, nil, 30*time.Minute, "https://status.example.com", nil)
	f.service.now = func() time.Time { return f.clock }
	return f
}

func (f *ladderFixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func (f *ladderFixture) activeIssue(t *testing.T) *models.EscalationIssue {
	t.Helper()
	issues, err := f.store.ListNonTerminalIssues(context.Background())
	require.NoError(t, err)
	require.Len(t, issues, 1)
	return issues[0]
}

func (f *ladderFixture) claim(t *testing.T, issue *models.EscalationIssue, level int) (string, string) {
	t.Helper()
	lvl := issue.LevelFor(level)
	require.NotNil(t, lvl)
	sig, err := f.signer.SignLevel(lvl.AccessToken, level)
	require.NoError(t, err)
	return lvl.AccessToken, sig
}

func twoContacts() [3]models.Contact {
	return [3]models.Contact{
		{Name: "Primary", Email: "primary@example.com"},
		{Name: "Backup", Email: "backup@example.com"},
	}
}

func TestOpenForSiteCreatesLevelOneIssue(t *testing.T) {
	f := newLadderFixture(t, twoContacts())
	ctx := context.Background()

	require.NoError(t, f.service.OpenForSite(ctx, "org-1", "site-1", "http check down"))

	issue := f.activeIssue(t)
	require.Equal(t, models.IssueOpen, issue.Status)
	require.Equal(t, 1, issue.CurrentLevel)
	require.Len(t, issue.Levels, 2)
	require.NotEmpty(t, issue.Levels[0].AccessToken)
	require.NotEqual(t, issue.Levels[0].AccessToken, issue.Levels[1].AccessToken)
	require.NotNil(t, issue.Levels[0].NotifiedAt, "the opening level contact is notified")
	require.Nil(t, issue.Levels[1].NotifiedAt)
	require.Len(t, issue.Reports, 1, "the opening reason lands on the timeline")
}

func TestOpenForSiteWithoutContactsIsSilent(t *testing.T) {
	f := newLadderFixture(t, [3]models.Contact{})
	ctx := context.Background()

	require.NoError(t, f.service.OpenForSite(ctx, "org-1", "site-1", "down"))

	issues, err := f.store.ListNonTerminalIssues(ctx)
	require.NoError(t, err)
	require.Empty(t, issues, "zero configured contacts must never open an issue")
}

func TestOpenForSiteIsIdempotentWhileActive(t *testing.T) {
	f := newLadderFixture(t, twoContacts())
	ctx := context.Background()

	require.NoError(t, f.service.OpenForSite(ctx, "org-1", "site-1", "first"))
	require.NoError(t, f.service.OpenForSite(ctx, "org-1", "site-1", "second"))

	f.activeIssue(t)
}

func TestConcurrentOpensLeaveSingleIssue(t *testing.T) {
	f := newLadderFixture(t, twoContacts())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.service.OpenForSite(ctx, "org-1", "site-1", "racing critical")
		}()
	}
	wg.Wait()

	f.activeIssue(t)
}

func TestSweepPromotesThenExhausts(t *testing.T) {
	f := newLadderFixture(t, twoContacts())
	ctx := context.Background()
	require.NoError(t, f.service.OpenForSite(ctx, "org-1", "site-1", "down"))

	// Inside the window: nothing moves.
	f.advance(10 * time.Minute)
	promoted, exhausted, err := f.service.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, promoted)
	require.Zero(t, exhausted)

	// Level 1 timed out: promote to level 2 and restart the timer.
	f.advance(21 * time.Minute)
	promoted, exhausted, err = f.service.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, promoted)
	require.Zero(t, exhausted)

	issue := f.activeIssue(t)
	require.Equal(t, 2, issue.CurrentLevel)
	require.Equal(t, models.IssueOpen, issue.Status)
	require.Equal(t, f.clock, issue.LevelStartedAt)
	require.NotNil(t, issue.LevelFor(2).NotifiedAt)

	// Top level timed out: the ladder is exhausted.
	f.advance(31 * time.Minute)
	promoted, exhausted, err = f.service.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, promoted)
	require.Equal(t, 1, exhausted)

	final, err := f.store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	require.Equal(t, models.IssueExhausted, final.Status)
}

func TestAcknowledgedIssueNeverTimesOut(t *testing.T) {
	f := newLadderFixture(t, twoContacts())
	ctx := context.Background()
	require.NoError(t, f.service.OpenForSite(ctx, "org-1", "site-1", "down"))

	issue := f.activeIssue(t)
	token, sig := f.claim(t, issue, 1)
	_, err := f.service.Acknowledge(ctx, token, sig)
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	promoted, exhausted, err := f.service.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, promoted)
	require.Zero(t, exhausted)

	current := f.activeIssue(t)
	require.Equal(t, models.IssueAcknowledged, current.Status)
	require.Equal(t, 1, current.CurrentLevel)
}

func TestTransitionRules(t *testing.T) {
	f := newLadderFixture(t, twoContacts())
	ctx := context.Background()
	require.NoError(t, f.service.OpenForSite(ctx, "org-1", "site-1", "down"))

	issue := f.activeIssue(t)
	token, sig := f.claim(t, issue, 1)

	_, err := f.service.Acknowledge(ctx, token, sig)
	require.NoError(t, err)

	// A second acknowledge is rejected.
	_, err = f.service.Acknowledge(ctx, token, sig)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.service.Progress(ctx, token, sig)
	require.NoError(t, err)

	resolved, err := f.service.Resolve(ctx, token, sig)
	require.NoError(t, err)
	require.Equal(t, models.IssueResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)

	// Terminal issues accept nothing further.
	_, err = f.service.Resolve(ctx, token, sig)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.service.AppendReport(ctx, token, sig, "Primary", "late note")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestLevelClaimSignatureIsEnforced(t *testing.T) {
	f := newLadderFixture(t, twoContacts())
	ctx := context.Background()
	require.NoError(t, f.service.OpenForSite(ctx, "org-1", "site-1", "down"))

	issue := f.activeIssue(t)
	l1Token, _ := f.claim(t, issue, 1)
	_, l2Sig := f.claim(t, issue, 2)

	// A level-2 signature presented with the level-1 token is rejected.
	_, err := f.service.Acknowledge(ctx, l1Token, l2Sig)
	require.ErrorIs(t, err, ErrInvalidSignature)

	// Garbage signatures are rejected.
	_, err = f.service.Acknowledge(ctx, l1Token, "not-a-jwt")
	require.ErrorIs(t, err, ErrInvalidSignature)

	// An unknown token is not found.
	_, err = f.service.Acknowledge(ctx, "ghost-token", l2Sig)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAppendReportRecordsLevelAndAuthor(t *testing.T) {
	f := newLadderFixture(t, twoContacts())
	ctx := context.Background()
	require.NoError(t, f.service.OpenForSite(ctx, "org-1", "site-1", "down"))

	issue := f.activeIssue(t)
	token, sig := f.claim(t, issue, 2)

	updated, err := f.service.AppendReport(ctx, token, sig, "Backup", "investigating upstream")
	require.NoError(t, err)
	last := updated.Reports[len(updated.Reports)-1]
	require.Equal(t, 2, last.Level)
	require.Equal(t, "Backup", last.Author)
	require.Equal(t, "investigating upstream", last.Note)
}

func TestTokenSignerRoundTrip(t *testing.T) {
	signer := NewTokenSigner("secret-a")
	sig, err := signer.SignLevel("tok-1", 2)
	require.NoError(t, err)
	require.NoError(t, signer.VerifyLevel(sig, "tok-1", 2))

	require.ErrorIs(t, signer.VerifyLevel(sig, "tok-1", 1), ErrInvalidSignature)
	require.ErrorIs(t, signer.VerifyLevel(sig, "tok-2", 2), ErrInvalidSignature)

	other := NewTokenSigner("secret-b")
	require.ErrorIs(t, other.VerifyLevel(sig, "tok-1", 2), ErrInvalidSignature)
}
