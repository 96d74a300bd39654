package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/naperu/zapinsight/internal/domain"
	"github.com/naperu/zapinsight/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestNilIfEmpty(t *testing.T) {
	assert.Nil(t, nilIfEmpty(nil))
	assert.Nil(t, nilIfEmpty(strPtr("")))
	assert.Equal(t, "Ana", *nilIfEmpty(strPtr("Ana")))
}

func TestStatusRank(t *testing.T) {
	assert.Equal(t, 0, statusRank(nil))
	assert.Less(t, statusRank(strPtr(domain.DeliverySent)), statusRank(strPtr(domain.DeliveryRead)))
}

// openTestDB connects to ZAPINSIGHT_TEST_DATABASE_URL, a disposable database.
func openTestDB(t *testing.T) *Repositories {
	t.Helper()
	url := os.Getenv("ZAPINSIGHT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ZAPINSIGHT_TEST_DATABASE_URL not set")
	}
	db, err := database.Connect(url)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, database.Migrate(db))
	_, err = db.Exec(context.Background(), `TRUNCATE contacts, messages, analysis_queue, contact_insights, ingestion_runs CASCADE`)
	require.NoError(t, err)
	return NewRepositories(db)
}

func TestContactUpsertKeepsNameAndAdvancesRecency(t *testing.T) {
	repos := openTestDB(t)
	ctx := context.Background()

	c, created, err := repos.Contact.Upsert(ctx, "5511987654321", "5511987654321@s.whatsapp.net",
		domain.ProfileHints{Name: strPtr("Ana"), PushName: strPtr("ana")})
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := repos.Contact.Upsert(ctx, "5511987654321", "", domain.ProfileHints{Name: strPtr("Outra"), PushName: strPtr("Aninha")})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, c.ID, again.ID)
	assert.Equal(t, "Ana", *again.Name)
	assert.Equal(t, "Aninha", *again.PushName)

	t2 := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	t1 := t2.Add(-time.Hour)
	require.NoError(t, repos.Contact.AdvanceRecency(ctx, c.ID, t2))
	require.NoError(t, repos.Contact.AdvanceRecency(ctx, c.ID, t1))

	got, err := repos.Contact.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.LastMessageAt.Equal(t2))
}

func TestMessageStatusOnlyMovesForward(t *testing.T) {
	repos := openTestDB(t)
	ctx := context.Background()

	c, _, err := repos.Contact.Upsert(ctx, "5511987654321", "5511987654321@s.whatsapp.net", domain.ProfileHints{})
	require.NoError(t, err)

	msg := &domain.Message{MessageID: "ABC123", ContactID: c.ID, Phone: c.Phone, Body: "oi",
		MediaType: domain.MediaText, Timestamp: time.Now(), Status: strPtr(domain.DeliverySent)}
	inserted, err := repos.Message.InsertIfAbsent(ctx, msg)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repos.Message.InsertIfAbsent(ctx, msg)
	require.NoError(t, err)
	assert.False(t, inserted)

	moved, err := repos.Message.AdvanceStatus(ctx, "ABC123", domain.DeliveryRead)
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = repos.Message.AdvanceStatus(ctx, "ABC123", domain.DeliveryDelivered)
	require.NoError(t, err)
	assert.False(t, moved)

	stats, err := repos.Message.Stats(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Inbound)
}

func TestQueueSingleInFlightAndClaim(t *testing.T) {
	repos := openTestDB(t)
	ctx := context.Background()

	c, _, err := repos.Contact.Upsert(ctx, "5511987654321", "", domain.ProfileHints{})
	require.NoError(t, err)

	first, created, err := repos.Queue.Enqueue(ctx, c.ID, domain.QueuePriorityBackfill, domain.QueueReasonBackfill)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repos.Queue.Enqueue(ctx, c.ID, domain.QueuePriorityManual, domain.QueueReasonManual)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, domain.QueuePriorityManual, second.Priority)

	claimed, err := repos.Queue.Claim(ctx, 10, domain.DefaultMaxAttempts)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, domain.QueueStatusProcessing, claimed[0].Status)
	assert.Equal(t, 1, claimed[0].Attempts)

	again, err := repos.Queue.Claim(ctx, 10, domain.DefaultMaxAttempts)
	require.NoError(t, err)
	assert.Empty(t, again)

	ok, err := repos.Queue.Transition(ctx, first.ID, domain.QueueStatusProcessing, domain.QueueStatusDone, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	_, created, err = repos.Queue.Enqueue(ctx, c.ID, domain.QueuePriorityNewActivity, domain.QueueReasonNewActivity)
	require.NoError(t, err)
	assert.True(t, created)

	counts, err := repos.Queue.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.QueueStatusDone])
	assert.Equal(t, 1, counts[domain.QueueStatusPending])
}

func TestRunHistory(t *testing.T) {
	repos := openTestDB(t)
	ctx := context.Background()

	run := &domain.RunSummary{Mode: domain.RunModePoll, Running: true, StartedAt: time.Now()}
	require.NoError(t, repos.Run.Create(ctx, run))
	assert.NotEqual(t, uuid.Nil, run.ID)

	run.MessagesCreated = 4
	run.AddError("5511: gateway timeout")
	run.Finish(time.Now())
	require.NoError(t, repos.Run.Finish(ctx, run))

	got, err := repos.Run.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.False(t, got.Running)
	assert.Equal(t, 4, got.MessagesCreated)
	assert.Equal(t, []string{"5511: gateway timeout"}, got.Errors)
}
