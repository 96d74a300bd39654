package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/naperu/zapinsight/internal/domain"
	"github.com/naperu/zapinsight/internal/gateway"
	"github.com/naperu/zapinsight/internal/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSameMessageIDIsStoredOnceWithLatestStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gw.On("FetchMessages", mock.Anything, testJID, 30, gateway.MessageFilter{}).
		Return([]gateway.Message{textMessage("ABC123", testJID, true, 1714644000, "SERVER_ACK")}, nil).Once()
	f.gw.On("FetchMessages", mock.Anything, testJID, 30, gateway.MessageFilter{}).
		Return([]gateway.Message{textMessage("ABC123", testJID, true, 1714644000, "READ")}, nil).Once()

	first, err := f.svc.Ingest.FetchHistory(ctx, testPhone, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, first.ContactsCreated)
	assert.Equal(t, 1, first.MessagesCreated)

	second, err := f.svc.Ingest.FetchHistory(ctx, testPhone, 30)
	require.NoError(t, err)
	assert.Equal(t, 0, second.MessagesCreated)
	assert.Equal(t, 1, second.MessagesUpdated)

	require.Len(t, f.mem.messages, 1)
	assert.Equal(t, domain.DeliveryRead, *f.mem.messages["ABC123"].Status)
	f.gw.AssertExpectations(t)
}

func TestStaleStatusDoesNotRegress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gw.On("FetchMessages", mock.Anything, testJID, 30, gateway.MessageFilter{}).
		Return([]gateway.Message{textMessage("ABC123", testJID, true, 1714644000, "READ")}, nil).Once()
	f.gw.On("FetchMessages", mock.Anything, testJID, 30, gateway.MessageFilter{}).
		Return([]gateway.Message{textMessage("ABC123", testJID, true, 1714644000, "DELIVERY_ACK")}, nil).Once()

	_, err := f.svc.Ingest.FetchHistory(ctx, testPhone, 30)
	require.NoError(t, err)
	run, err := f.svc.Ingest.FetchHistory(ctx, testPhone, 30)
	require.NoError(t, err)

	assert.Equal(t, 1, run.Duplicates)
	assert.Equal(t, domain.DeliveryRead, *f.mem.messages["ABC123"].Status)
}

func TestDeliveryFailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gw.On("FetchMessages", mock.Anything, testJID, 30, gateway.MessageFilter{}).
		Return([]gateway.Message{textMessage("ABC123", testJID, true, 1714644000, "PENDING")}, nil).Once()
	f.gw.On("FetchMessages", mock.Anything, testJID, 30, gateway.MessageFilter{}).
		Return([]gateway.Message{textMessage("ABC123", testJID, true, 1714644000, "ERROR")}, nil).Once()

	_, err := f.svc.Ingest.FetchHistory(ctx, testPhone, 30)
	require.NoError(t, err)
	run, err := f.svc.Ingest.FetchHistory(ctx, testPhone, 30)
	require.NoError(t, err)

	assert.Equal(t, 1, run.MessagesUpdated)
	assert.Equal(t, 0, run.Duplicates)
	assert.Equal(t, domain.DeliveryError, *f.mem.messages["ABC123"].Status)
}

func TestMalformedGatewayEntriesCountAsSkipped(t *testing.T) {
	f := newFixture(t)

	f.gw.On("FetchChats", mock.Anything, 30).
		Return([]gateway.Chat{{ID: testJID, Name: "Mariana"}, {Malformed: true}}, nil)
	f.gw.On("FetchMessages", mock.Anything, testJID, 30, gateway.MessageFilter{}).
		Return([]gateway.Message{
			textMessage("ABC123", testJID, false, 1714644000, ""),
			{Malformed: true},
		}, nil)

	run, err := f.svc.Ingest.PollChats(context.Background(), 0, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, run.MessagesCreated)
	assert.Equal(t, 2, run.Skipped)
	assert.Len(t, f.mem.messages, 1)
}

func TestGroupChatIsSkipped(t *testing.T) {
	f := newFixture(t)

	f.gw.On("FetchChats", mock.Anything, 30).
		Return([]gateway.Chat{{ID: "120363012345678901@g.us", Name: "Pais da turma sub-11"}}, nil)

	run, err := f.svc.Ingest.PollChats(context.Background(), 0, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, run.Skipped)
	assert.Empty(t, f.mem.contacts)
	assert.Empty(t, f.mem.messages)
	f.gw.AssertNotCalled(t, "FetchMessages", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 1, f.events.count(ws.EventRunSummary))
}

func TestPollChatsIngestsAndEnqueuesInboundActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gw.On("FetchChats", mock.Anything, 10).Return([]gateway.Chat{
		{ID: "5511987654321@c.us", Name: "Mariana"},
		{ID: "status@broadcast"},
		{ID: "5521912345678@s.whatsapp.net"},
	}, nil)
	f.gw.On("FetchMessages", mock.Anything, testJID, 20, gateway.MessageFilter{}).Return([]gateway.Message{
		textMessage("M1", testJID, false, 1714644000, ""),
		textMessage("M2", testJID, true, 1714644060, "SERVER_ACK"),
		{ID: "M3", RemoteJID: testJID, Timestamp: 1714644120}, // no content
	}, nil)
	f.gw.On("FetchMessages", mock.Anything, "5521912345678@s.whatsapp.net", 20, gateway.MessageFilter{}).
		Return(nil, &gateway.HTTPError{Method: "GET", Path: "/chat/messages", StatusCode: 502})

	run, err := f.svc.Ingest.PollChats(ctx, 10, 20)
	require.NoError(t, err)

	assert.Equal(t, 2, run.ContactsCreated)
	assert.Equal(t, 2, run.MessagesCreated)
	assert.Equal(t, 2, run.Skipped) // broadcast chat and the contentless message
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, 1, run.Enqueued)
	assert.False(t, run.Running)

	c, err := f.mem.stores().Contacts.GetByPhone(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, "Mariana", *c.PushName)
	assert.Equal(t, time.Unix(1714644060, 0).UTC(), c.LastMessageAt.UTC())

	items := memQueue{f.mem}.items(c.ID)
	require.Len(t, items, 1)
	assert.Equal(t, domain.QueuePriorityNewActivity, items[0].Priority)
	assert.Equal(t, domain.QueueReasonNewActivity, items[0].Reason)
}

func TestRecencyIsMonotonicAcrossOutOfOrderBatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t1, t2, t3 := int64(1714640000), int64(1714650000), int64(1714660000)
	batches := [][]gateway.Message{
		{textMessage("B", testJID, false, t2, ""), textMessage("A", testJID, false, t1, "")},
		{textMessage("OLD", testJID, false, t1-5000, "")},
		{textMessage("C", testJID, true, t3, "")},
	}
	want := []int64{t2, t2, t3}

	for i, batch := range batches {
		f.gw.On("FetchMessages", mock.Anything, testJID, 30, gateway.MessageFilter{}).Return(batch, nil).Once()
		_, err := f.svc.Ingest.FetchHistory(ctx, testJID, 30)
		require.NoError(t, err)

		c, err := f.mem.stores().Contacts.GetByPhone(ctx, testPhone)
		require.NoError(t, err)
		assert.Equal(t, time.Unix(want[i], 0).UTC(), c.LastMessageAt.UTC(), "after batch %d", i)
		assert.Equal(t, c.LastMessageAt, c.LastContactAt)
	}
}

func TestNewContactHasNoRecencyUntilMessages(t *testing.T) {
	f := newFixture(t)
	f.gw.On("FetchMessages", mock.Anything, testJID, 30, gateway.MessageFilter{}).Return([]gateway.Message{}, nil)

	run, err := f.svc.Ingest.FetchHistory(context.Background(), testPhone, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, run.ContactsCreated)

	c, _ := f.mem.stores().Contacts.GetByPhone(context.Background(), testPhone)
	assert.Nil(t, c.LastMessageAt)
	assert.Equal(t, domain.ContactStatusLead, c.Status)
}

func TestFetchHistoryRejectsGroupAddress(t *testing.T) {
	f := newFixture(t)

	run, err := f.svc.Ingest.FetchHistory(context.Background(), "120363012345678901@g.us", 30)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Skipped)
	assert.Empty(t, f.mem.contacts)
}

func TestPollContactSurfacesGatewayFailure(t *testing.T) {
	f := newFixture(t)
	c := f.seedContact(t, testPhone)
	f.gw.On("FetchMessages", mock.Anything, testJID, 15, gateway.MessageFilter{}).
		Return(nil, errors.New("context deadline exceeded"))

	run, err := f.svc.Ingest.PollContact(context.Background(), c.ID, 15)
	require.Error(t, err)
	assert.Equal(t, 1, run.Failed)
	assert.NotEmpty(t, run.Errors)
}

func TestPollContactUnknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Ingest.PollContact(context.Background(), [16]byte{1}, 10)
	assert.ErrorIs(t, err, ErrContactNotFound)
}

func TestFullSyncImportsContactsAndBackfills(t *testing.T) {
	f := newFixture(t, func(_ *Deps, o *Options) {
		o.SyncBatchSize = 2
		o.SyncConcurrency = 2
	})
	ctx := context.Background()
	yes := true

	f.gw.On("FetchContacts", mock.Anything, 2, 0).Return([]gateway.Contact{
		{ID: "5511987654321@s.whatsapp.net", Name: "Mariana", IsBusiness: &yes},
		{ID: "120363012345678901@g.us"},
	}, nil)
	f.gw.On("FetchContacts", mock.Anything, 2, 2).Return([]gateway.Contact{
		{ID: "5521912345678@c.us", PushName: "Rafa"},
	}, nil)
	f.gw.On("FetchMessages", mock.Anything, testJID, 5, gateway.MessageFilter{}).
		Return([]gateway.Message{textMessage("S1", testJID, false, 1714644000, "")}, nil)
	f.gw.On("FetchMessages", mock.Anything, "5521912345678@s.whatsapp.net", 5, gateway.MessageFilter{}).
		Return([]gateway.Message{}, nil)

	run, err := f.svc.Ingest.FullSync(ctx, SyncOptions{Contacts: true, Messages: true, MessageLimit: 5})
	require.NoError(t, err)

	assert.Equal(t, 2, run.ContactsCreated)
	assert.Equal(t, 1, run.Skipped)
	assert.Equal(t, 1, run.MessagesCreated)
	assert.Equal(t, 1, run.Enqueued)
	assert.Equal(t, 0, run.Failed)

	stored, err := f.mem.stores().Runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.False(t, stored.Running)
	assert.Equal(t, 1, stored.MessagesCreated)

	c, _ := f.mem.stores().Contacts.GetByPhone(ctx, testPhone)
	assert.True(t, c.IsBusiness)
	assert.Equal(t, "Mariana", *c.Name)
}

func TestFullSyncRespectsMaxContacts(t *testing.T) {
	f := newFixture(t)
	for _, p := range []string{"5511900000001", "5511900000002", "5511900000003"} {
		f.seedContact(t, p)
	}
	f.gw.On("FetchMessages", mock.Anything, mock.Anything, 30, gateway.MessageFilter{}).Return([]gateway.Message{}, nil)

	_, err := f.svc.Ingest.FullSync(context.Background(), SyncOptions{Messages: true, MaxContacts: 2})
	require.NoError(t, err)
	f.gw.AssertNumberOfCalls(t, "FetchMessages", 2)
}

func TestFullSyncStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := f.svc.Ingest.FullSync(ctx, SyncOptions{Contacts: true})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, run.Running)
}
