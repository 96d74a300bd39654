package service

import (
	"context"
	"testing"

	"github.com/naperu/zapinsight/internal/domain"
	"github.com/naperu/zapinsight/internal/gateway"
	"github.com/naperu/zapinsight/internal/identity"
	"github.com/stretchr/testify/require"
)

const (
	testPhone = "5511987654321"
	testJID   = "5511987654321@s.whatsapp.net"
)

type fixture struct {
	mem    *memStore
	gw     *mockGateway
	llm    *mockLLM
	events *recorder
	svc    *Services
}

func newFixture(t *testing.T, mutate ...func(*Deps, *Options)) *fixture {
	t.Helper()
	f := &fixture{mem: newMemStore(), gw: &mockGateway{}, llm: &mockLLM{}, events: &recorder{}}
	deps := Deps{Stores: f.mem.stores(), Gateway: f.gw, LLM: f.llm, Notifier: f.events}
	opts := Options{LLMModel: "test-model"}
	for _, m := range mutate {
		m(&deps, &opts)
	}
	f.svc = NewServices(deps, opts, "test-secret")
	return f
}

func textMessage(id, remote string, fromMe bool, ts int64, status string) gateway.Message {
	return gateway.Message{
		ID:        id,
		RemoteJID: remote,
		FromMe:    fromMe,
		Timestamp: ts,
		Status:    status,
		Content:   gateway.Content{Conversation: "Oi, quero saber o valor da natação infantil"},
	}
}

// seedContact stores a contact and the given messages directly.
func (f *fixture) seedContact(t *testing.T, phone string, msgs ...*domain.Message) *domain.Contact {
	t.Helper()
	ctx := context.Background()
	addr, ok := identity.NormalizeAddress(phone)
	require.True(t, ok)
	c, _, err := f.svc.Resolver.Resolve(ctx, addr, domain.ProfileHints{})
	require.NoError(t, err)
	for _, m := range msgs {
		m.ContactID = c.ID
		m.Phone = c.Phone
		_, err := f.mem.stores().Messages.InsertIfAbsent(ctx, m)
		require.NoError(t, err)
	}
	return c
}
