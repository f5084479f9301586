package pubsub

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-chat-fabric/pkg/fabric"
)

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, userID, title, body, url string) (*fabric.NotificationRecord, error) {
	args := m.Called(ctx, userID, title, body, url)
	var rec *fabric.NotificationRecord
	if v, ok := args.Get(0).(*fabric.NotificationRecord); ok {
		rec = v
	}
	return rec, args.Error(1)
}

type fakeSubscriber struct{}

func (fakeSubscriber) Receive(ctx context.Context, _ func(context.Context, *pubsub.Message)) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestIngestor_ProcessDispatchesRequest(t *testing.T) {
	dispatcher := new(mockDispatcher)
	ingestor, err := NewIngestor(fakeSubscriber{}, dispatcher, zerolog.Nop())
	require.NoError(t, err)

	dispatcher.On("Dispatch", mock.Anything, "user-7", "New Message", "hello", "/rooms/1").
		Return(&fabric.NotificationRecord{ID: "n-1"}, nil).Once()

	body := []byte(`{"userId":"user-7","title":"New Message","message":"hello","url":"/rooms/1"}`)
	require.NoError(t, ingestor.process(context.Background(), body))
	dispatcher.AssertExpectations(t)
}

func TestIngestor_ProcessMalformedBodyIsDropped(t *testing.T) {
	dispatcher := new(mockDispatcher)
	ingestor, err := NewIngestor(fakeSubscriber{}, dispatcher, zerolog.Nop())
	require.NoError(t, err)

	for _, body := range []string{"not json", `{"title":"no user"}`} {
		err := ingestor.process(context.Background(), []byte(body))
		assert.ErrorIs(t, err, errMalformed, "body %q", body)
	}
	dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestor_ProcessDispatchFailureIsNotMalformed(t *testing.T) {
	dispatcher := new(mockDispatcher)
	ingestor, err := NewIngestor(fakeSubscriber{}, dispatcher, zerolog.Nop())
	require.NoError(t, err)

	dispatchErr := errors.New("store down")
	dispatcher.On("Dispatch", mock.Anything, "user-7", "", "", "").Return(nil, dispatchErr).Once()

	err = ingestor.process(context.Background(), []byte(`{"userId":"user-7"}`))
	require.ErrorIs(t, err, dispatchErr)
	assert.NotErrorIs(t, err, errMalformed, "dispatch failures must be redelivered, not dropped")
}

func TestIngestor_StartStopsOnShutdown(t *testing.T) {
	dispatcher := new(mockDispatcher)
	ingestor, err := NewIngestor(fakeSubscriber{}, dispatcher, zerolog.Nop())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- ingestor.Start(context.Background())
	}()

	require.NoError(t, ingestor.Shutdown(context.Background()))
	assert.NoError(t, <-done, "cancellation is a clean stop, not an error")
}

func TestNewIngestor_Validation(t *testing.T) {
	_, err := NewIngestor(nil, new(mockDispatcher), zerolog.Nop())
	assert.Error(t, err)

	_, err = NewIngestor(fakeSubscriber{}, nil, zerolog.Nop())
	assert.Error(t, err)
}
