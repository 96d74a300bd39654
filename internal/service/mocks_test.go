package service

import (
	"context"
	"sync"
	"time"

	"github.com/naperu/zapinsight/internal/gateway"
	"github.com/naperu/zapinsight/internal/llm"
	"github.com/stretchr/testify/mock"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) FetchChats(ctx context.Context, limit int) ([]gateway.Chat, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]gateway.Chat), args.Error(1)
}

func (m *mockGateway) FetchMessages(ctx context.Context, address string, limit int, filter gateway.MessageFilter) ([]gateway.Message, error) {
	args := m.Called(ctx, address, limit, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]gateway.Message), args.Error(1)
}

func (m *mockGateway) FetchContacts(ctx context.Context, limit, offset int) ([]gateway.Contact, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]gateway.Contact), args.Error(1)
}

func (m *mockGateway) FetchProfile(ctx context.Context, address string) (*gateway.Profile, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Profile), args.Error(1)
}

func (m *mockGateway) FetchProfilePicture(ctx context.Context, address string) (string, error) {
	args := m.Called(ctx, address)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) Download(ctx context.Context, mediaURL string) ([]byte, string, error) {
	args := m.Called(ctx, mediaURL)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.String(1), args.Error(2)
}

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Chat(ctx context.Context, req llm.Request) (llm.Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(llm.Result), args.Error(1)
}

type mockAvatars struct {
	mock.Mock
}

func (m *mockAvatars) UploadFile(ctx context.Context, folder, filename string, data []byte, contentType string) (string, error) {
	args := m.Called(ctx, folder, filename, data, contentType)
	return args.String(0), args.Error(1)
}

func (m *mockAvatars) DeleteByURL(ctx context.Context, url string) (bool, error) {
	args := m.Called(ctx, url)
	return args.Bool(0), args.Error(1)
}

// mapCache is a Cache backed by a map.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapCache() *mapCache {
	return &mapCache{data: map[string][]byte{}}
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[key], nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mapCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

// recorder captures published events.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Publish(event string, _ interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}
