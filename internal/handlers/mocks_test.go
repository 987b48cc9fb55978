package handlers_test

import (
	"context"
	"io"

	"github.com/maynagashev/modhub/internal/models"
	"github.com/stretchr/testify/mock"
)

// MockModService is a mock implementation of ModService interface.
type MockModService struct {
	mock.Mock
}

func (m *MockModService) Upload(
	ctx context.Context,
	data []byte,
	filename string,
	claim models.Identity,
	opts models.UploadOptions,
) (*models.UploadResult, error) {
	args := m.Called(ctx, data, filename, claim, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UploadResult), args.Error(1) //nolint:errcheck // Acceptable for mocks
}

func (m *MockModService) GetMod(ctx context.Context, modID string) (*models.ModEntry, error) {
	args := m.Called(ctx, modID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ModEntry), args.Error(1) //nolint:errcheck // Acceptable for mocks
}

func (m *MockModService) GetVersion(
	ctx context.Context,
	modID, version string,
	withPayload bool,
) (*models.ModVersionEntry, error) {
	args := m.Called(ctx, modID, version, withPayload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ModVersionEntry), args.Error(1) //nolint:errcheck // Acceptable for mocks
}

func (m *MockModService) ListVersions(ctx context.Context, modIDs []string) (map[string][]string, error) {
	args := m.Called(ctx, modIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string][]string), args.Error(1) //nolint:errcheck // Acceptable for mocks
}

func (m *MockModService) Search(ctx context.Context, q models.ModSearch) (*models.ModPage, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ModPage), args.Error(1) //nolint:errcheck // Acceptable for mocks
}

func (m *MockModService) Download(
	ctx context.Context,
	modID, version string,
) (*models.ModVersionEntry, io.ReadCloser, error) {
	args := m.Called(ctx, modID, version)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	//nolint:errcheck // Acceptable for mocks
	return args.Get(0).(*models.ModVersionEntry), args.Get(1).(io.ReadCloser), args.Error(2)
}

func (m *MockModService) Vote(ctx context.Context, modID string) error {
	return m.Called(ctx, modID).Error(0)
}

func (m *MockModService) AuthorProfile(ctx context.Context, authorID string) (*models.AuthorProfile, error) {
	args := m.Called(ctx, authorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuthorProfile), args.Error(1) //nolint:errcheck // Acceptable for mocks
}

func (m *MockModService) DeleteVersion(ctx context.Context, actor models.Identity, modID, version string) error {
	return m.Called(ctx, actor, modID, version).Error(0)
}

func (m *MockModService) DeleteMod(ctx context.Context, actor models.Identity, modID string) error {
	return m.Called(ctx, actor, modID).Error(0)
}

// MockAdminService is a mock implementation of AdminService interface.
type MockAdminService struct {
	mock.Mock
}

func (m *MockAdminService) Verify(ctx context.Context, admin models.Identity, modID string) error {
	return m.Called(ctx, admin, modID).Error(0)
}

func (m *MockAdminService) Deny(ctx context.Context, admin models.Identity, modID string) error {
	return m.Called(ctx, admin, modID).Error(0)
}

func (m *MockAdminService) DeleteVersion(ctx context.Context, admin models.Identity, modID, version string) error {
	return m.Called(ctx, admin, modID, version).Error(0)
}

func (m *MockAdminService) Ban(ctx context.Context, admin models.Identity, authorID string) error {
	return m.Called(ctx, admin, authorID).Error(0)
}

func (m *MockAdminService) Unban(ctx context.Context, admin models.Identity, authorID string) error {
	return m.Called(ctx, admin, authorID).Error(0)
}

func (m *MockAdminService) GrantRole(ctx context.Context, admin models.Identity, authorID, role string) error {
	return m.Called(ctx, admin, authorID, role).Error(0)
}

func (m *MockAdminService) RevokeRole(ctx context.Context, admin models.Identity, authorID, role string) error {
	return m.Called(ctx, admin, authorID, role).Error(0)
}
