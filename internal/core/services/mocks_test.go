package services

import (
	"bytes"
	"context"
	"io"

	"vidstream/internal/core/domain"

	"github.com/stretchr/testify/mock"
)

type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) Get(ctx context.Context, id domain.VideoID) (domain.Video, bool, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Video), args.Bool(1), args.Error(2)
}

func (m *MockCatalog) List(ctx context.Context) ([]domain.Video, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Video), args.Error(1)
}

func (m *MockCatalog) Open(ctx context.Context, video domain.Video) (io.ReadCloser, error) {
	args := m.Called(ctx, video)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

// catalogWith returns a mock serving one in-memory video of the given size.
func catalogWith(id domain.VideoID, size int) (*MockCatalog, domain.Video, []byte) {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	video := domain.Video{ID: id, Title: string(id) + ".mp4", Path: "/media/" + string(id) + ".mp4", Size: int64(size), MediaType: ".mp4"}

	c := new(MockCatalog)
	c.On("List", mock.Anything).Return([]domain.Video{video}, nil)
	c.On("Get", mock.Anything, id).Return(video, true, nil)
	c.On("Get", mock.Anything, mock.Anything).Return(domain.Video{}, false, nil).Maybe()
	c.expectOpen(video, data)
	return c, video, data
}

// expectOpen queues one more successful Open of video.
func (m *MockCatalog) expectOpen(video domain.Video, data []byte) {
	m.On("Open", mock.Anything, video).Return(io.NopCloser(bytes.NewReader(data)), nil).Once()
}
